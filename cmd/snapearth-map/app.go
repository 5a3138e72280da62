package main

import (
	"context"
	"errors"
	"image"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"snapearth-map-go/internal/catalog"
	"snapearth-map-go/internal/config"
	"snapearth-map-go/internal/ingest"
	"snapearth-map-go/internal/output"
	"snapearth-map-go/internal/processing"
	"snapearth-map-go/internal/store"
	"snapearth-map-go/internal/types"
)

type metrics struct {
	runsStarted       atomic.Uint64
	runsFinished      atomic.Uint64
	productsRendered  atomic.Uint64
	renderFailures    atomic.Uint64
	overlaysBroadcast atomic.Uint64
	overlaysDropped   atomic.Uint64
	outputWriteOK     atomic.Uint64
	outputWriteError  atomic.Uint64
	storeErrors       atomic.Uint64
	publishErrors     atomic.Uint64
}

func (m *metrics) snapshot() map[string]any {
	count, nanos := ingest.ReceiveTiming()
	return map[string]any{
		"runs_started_total":         m.runsStarted.Load(),
		"runs_finished_total":        m.runsFinished.Load(),
		"products_rendered_total":    m.productsRendered.Load(),
		"render_failures_total":      m.renderFailures.Load(),
		"overlays_broadcast_total":   m.overlaysBroadcast.Load(),
		"overlays_dropped_total":     m.overlaysDropped.Load(),
		"output_write_ok_total":      m.outputWriteOK.Load(),
		"output_write_err_total":     m.outputWriteError.Load(),
		"store_err_total":            m.storeErrors.Load(),
		"publish_err_total":          m.publishErrors.Load(),
		"ingest_received_total":      ingest.Received(),
		"ingest_failures_total":      ingest.Failures(),
		"ingest_record_err_total":    ingest.RecordErrors(),
		"ingest_receive_total":       count,
		"ingest_receive_nanos_total": nanos,
	}
}

// publisher is the part of *output.Publisher the app needs.
type publisher interface {
	Publish(runID string, res *types.Result) error
}

type app struct {
	cfg       config.AppConfig
	renderer  *processing.Renderer
	lister    ingest.Lister
	recorder  ingest.RawRecorder
	store     *store.Store
	publisher publisher
	ui        chan any

	metrics metrics

	// startMu serializes start so only one stream is opened at a time.
	startMu sync.Mutex

	mu        sync.Mutex
	current   *processing.Collector
	runQuery  catalog.Query
	runState  string
	runErr    string
	lastRun   time.Time
	cancelRun context.CancelFunc
	runDone   chan struct{}
}

func newApp(cfg config.AppConfig, renderer *processing.Renderer) *app {
	return &app{
		cfg:      cfg,
		renderer: renderer,
		ui:       make(chan any, 64),
		current:  processing.NewCollector(0),
		runState: "idle",
	}
}

// startQuery cancels any run in progress and starts q against the catalog.
func (a *app) startQuery(ctx context.Context, q catalog.Query) (string, error) {
	if a.lister == nil {
		return "", errors.New("no catalog configured")
	}
	return a.start(ctx, q, func(runCtx context.Context) (<-chan types.Product, <-chan error, error) {
		return ingest.Stream(runCtx, a.lister, q.Request(), a.cfg.IngestLogEvery, a.recorder)
	})
}

// startReplay renders the products of a raw catalog log as one run.
func (a *app) startReplay(ctx context.Context, path string) (string, error) {
	return a.start(ctx, catalog.Query{}, func(runCtx context.Context) (<-chan types.Product, <-chan error, error) {
		return ingest.Replay(runCtx, path, a.cfg.IngestLogEvery)
	})
}

type source func(ctx context.Context) (<-chan types.Product, <-chan error, error)

func (a *app) start(ctx context.Context, q catalog.Query, open source) (string, error) {
	a.startMu.Lock()
	defer a.startMu.Unlock()

	a.mu.Lock()
	for a.cancelRun != nil {
		a.cancelRun()
		done := a.runDone
		a.mu.Unlock()
		<-done
		a.mu.Lock()
	}
	a.mu.Unlock()

	// Opening the stream can block on the catalog; status and snapshot
	// readers must not wait behind it.
	runCtx, cancel := context.WithCancel(ctx)
	products, errc, err := open(runCtx)
	if err != nil {
		cancel()
		return "", err
	}
	collector := processing.NewCollector(q.MaxResults)
	runID := collector.RunID()

	a.mu.Lock()
	a.current = collector
	a.runQuery = q
	a.runState = "running"
	a.runErr = ""
	a.lastRun = time.Now()
	a.cancelRun = cancel
	done := make(chan struct{})
	a.runDone = done
	a.mu.Unlock()

	a.metrics.runsStarted.Add(1)
	log.Printf("[run] %s started: wkt=%q start=%s end=%s n=%d", runID, q.WKT,
		q.Start.Format(time.DateOnly), q.End.Format(time.DateOnly), q.MaxResults)
	if a.store != nil {
		if err := a.store.BeginRun(ctx, runID, q); err != nil {
			a.metrics.storeErrors.Add(1)
			log.Printf("[store] %v", err)
		}
	}
	a.send(runCtx, map[string]any{"type": "run", "run_id": runID, "state": "started"})

	go func() {
		defer close(done)
		defer cancel()
		a.consume(runCtx, collector, a.renderer.RenderBatch(runCtx, products, a.cfg.Workers))
		streamErr := <-errc
		a.finish(ctx, collector, streamErr)
	}()
	return runID, nil
}

func (a *app) consume(ctx context.Context, collector *processing.Collector, outcomes <-chan types.Outcome) {
	runID := collector.RunID()
	for o := range outcomes {
		collector.Add(o)
		if o.Err != nil {
			a.metrics.renderFailures.Add(1)
			log.Printf("[run] %s: %v", runID, o.Err)
			a.send(ctx, failureMessage(runID, o))
			if a.store != nil {
				if err := a.store.SaveFailure(ctx, runID, o.ProductID, o.Err); err != nil {
					a.metrics.storeErrors.Add(1)
					log.Printf("[store] %v", err)
				}
			}
			continue
		}
		a.metrics.productsRendered.Add(1)
		overlay, err := overlayMessage(runID, o.Result, a.cfg.Opacity)
		if err != nil {
			log.Printf("[run] %s: overlay %s: %v", runID, o.ProductID, err)
		} else if a.send(ctx, overlay) {
			a.metrics.overlaysBroadcast.Add(1)
		}
		if a.store != nil {
			if err := a.store.SaveResult(ctx, runID, o.Result); err != nil {
				a.metrics.storeErrors.Add(1)
				log.Printf("[store] %v", err)
			}
		}
		if a.publisher != nil {
			if err := a.publisher.Publish(runID, o.Result); err != nil {
				a.metrics.publishErrors.Add(1)
				log.Printf("[publish] %s: %v", o.ProductID, err)
			}
		}
	}
}

func (a *app) finish(ctx context.Context, collector *processing.Collector, streamErr error) {
	runID := collector.RunID()
	state := "finished"
	if streamErr != nil {
		state = "failed"
		if errors.Is(streamErr, context.Canceled) {
			state = "cancelled"
		}
		log.Printf("[run] %s: catalog stream ended: %v", runID, streamErr)
	}

	received, _ := collector.Progress()
	dir := filepath.Join(a.cfg.OutputDir, runID)
	if err := output.WriteRun(dir, processing.Timestamp(), collector.Results(), collector.Failures()); err != nil {
		a.metrics.outputWriteError.Add(1)
		log.Printf("[output] %s: %v", runID, err)
	} else {
		a.metrics.outputWriteOK.Add(1)
	}

	a.mu.Lock()
	if a.current == collector {
		a.runState = state
		if streamErr != nil {
			a.runErr = streamErr.Error()
		}
		a.cancelRun = nil
	}
	a.mu.Unlock()

	a.metrics.runsFinished.Add(1)
	log.Printf("[run] %s %s: %d products, %d failures", runID, state, received-len(collector.Failures()), len(collector.Failures()))
	a.send(ctx, map[string]any{"type": "run", "run_id": runID, "state": state})
}

// send hands msg to the UI without blocking on slow clients for longer than
// the run lives.
func (a *app) send(ctx context.Context, msg any) bool {
	select {
	case a.ui <- msg:
		return true
	case <-ctx.Done():
		a.metrics.overlaysDropped.Add(1)
		return false
	}
}

func (a *app) stop() {
	a.mu.Lock()
	cancel, done := a.cancelRun, a.runDone
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func overlayMessage(runID string, res *types.Result, opacity float64) (types.Overlay, error) {
	url, err := output.DataURL(res.Image)
	if err != nil {
		return types.Overlay{}, err
	}
	return types.Overlay{
		Type:     "overlay",
		RunID:    runID,
		Image:    url,
		Bounds:   res.Bounds.Pairs(),
		Centroid: [2]float64{res.Centroid.Lat, res.Centroid.Lon},
		Opacity:  opacity,
		Metadata: res.Metadata,
	}, nil
}

func failureMessage(runID string, o types.Outcome) types.Failure {
	f := types.Failure{Type: "failure", RunID: runID, ProductID: o.ProductID}
	if o.Err != nil {
		f.Error = o.Err.Error()
	}
	var pe *processing.PipelineError
	if errors.As(o.Err, &pe) {
		f.Stage = string(pe.Stage)
		f.Error = pe.Err.Error()
	}
	return f
}

func (a *app) collector() *processing.Collector {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *app) snapshot() any {
	c := a.collector()
	snap := types.UISnapshot{Type: "snapshot", RunID: c.RunID(), Overlays: []types.Overlay{}, Failures: []types.Failure{}}
	for _, res := range c.Results() {
		overlay, err := overlayMessage(snap.RunID, res, a.cfg.Opacity)
		if err != nil {
			continue
		}
		snap.Overlays = append(snap.Overlays, overlay)
	}
	for _, o := range c.Failures() {
		snap.Failures = append(snap.Failures, failureMessage(snap.RunID, o))
	}
	return snap
}

func (a *app) results() []types.Metadata {
	var rows []types.Metadata
	for _, res := range a.collector().Results() {
		rows = append(rows, res.Metadata)
	}
	return rows
}

func (a *app) overlay(productID string) (*image.RGBA, bool) {
	res, ok := a.collector().Result(productID)
	if !ok {
		return nil, false
	}
	return res.Image, true
}

func (a *app) status() map[string]any {
	a.mu.Lock()
	c := a.current
	out := map[string]any{
		"run_id":    c.RunID(),
		"run_state": a.runState,
		"debug":     a.cfg.Debug,
	}
	if a.runErr != "" {
		out["run_error"] = a.runErr
	}
	if !a.lastRun.IsZero() {
		out["last_run"] = a.lastRun.Format(time.RFC3339)
		out["query"] = map[string]any{
			"wkt":         a.runQuery.WKT,
			"start_date":  a.runQuery.Start.Format(time.DateOnly),
			"end_date":    a.runQuery.End.Format(time.DateOnly),
			"product_ids": a.runQuery.ProductIDs,
			"categories":  a.runQuery.Categories,
			"max_results": a.runQuery.MaxResults,
		}
	}
	a.mu.Unlock()

	received, expected := c.Progress()
	out["products_received"] = received
	out["products_expected"] = expected
	out["metrics"] = a.metrics.snapshot()
	return out
}
