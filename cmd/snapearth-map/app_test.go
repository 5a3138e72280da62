package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"snapearth-map-go/internal/catalog"
	"snapearth-map-go/internal/config"
	"snapearth-map-go/internal/processing"
	"snapearth-map-go/internal/simulator"
	"snapearth-map-go/internal/store"
	"snapearth-map-go/internal/types"
)

type recordingPublisher struct {
	mu  sync.Mutex
	ids []string
}

func (p *recordingPublisher) Publish(_ string, res *types.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, res.Metadata.ProductID)
	return nil
}

func newTestApp(t *testing.T, interval time.Duration) (*app, <-chan any) {
	t.Helper()
	cat, err := simulator.New(simulator.Options{Count: 5, Height: 16, Width: 16, Block: 4, Seed: 3, Interval: interval})
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = simulator.Serve(ctx, lis, cat)
	}()

	client, err := catalog.Dial(catalog.Options{Target: "passthrough:///sim"},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.OutputDir = t.TempDir()
	cfg.Workers = 2
	a := newApp(cfg, processing.NewRenderer(nil))
	a.lister = client

	db, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	a.store = db

	ui := make(chan any, 256)
	go func() {
		for msg := range a.ui {
			ui <- msg
		}
	}()

	t.Cleanup(func() {
		a.stop()
		_ = client.Close()
		cancel()
		<-served
		_ = db.Close()
	})
	return a, ui
}

func waitRunState(t *testing.T, ui <-chan any, runID, state string) []any {
	t.Helper()
	var seen []any
	timeout := time.After(10 * time.Second)
	for {
		select {
		case msg := <-ui:
			seen = append(seen, msg)
			if m, ok := msg.(map[string]any); ok && m["run_id"] == runID && m["state"] == state {
				return seen
			}
		case <-timeout:
			t.Fatalf("run %s never reached %s; saw %d messages", runID, state, len(seen))
		}
	}
}

func TestQueryRunEndToEnd(t *testing.T) {
	a, ui := newTestApp(t, 0)
	pub := &recordingPublisher{}
	a.publisher = pub

	q := catalog.DefaultQuery(3, time.Now())
	runID, err := a.startQuery(context.Background(), q)
	require.NoError(t, err)
	seen := waitRunState(t, ui, runID, "finished")

	var overlays []types.Overlay
	for _, msg := range seen {
		if o, ok := msg.(types.Overlay); ok {
			overlays = append(overlays, o)
		}
	}
	require.Len(t, overlays, 3)
	for _, o := range overlays {
		assert.Equal(t, runID, o.RunID)
		assert.Equal(t, 0.8, o.Opacity)
		assert.Contains(t, o.Image, "data:image/png;base64,")
	}
	assert.Len(t, pub.ids, 3)

	assert.Len(t, a.results(), 3)
	img, ok := a.overlay(overlays[0].Metadata.ProductID)
	require.True(t, ok)
	assert.Equal(t, 16, img.Bounds().Dx())

	snap := a.snapshot().(types.UISnapshot)
	assert.Equal(t, runID, snap.RunID)
	assert.Len(t, snap.Overlays, 3)

	status := a.status()
	assert.Equal(t, "finished", status["run_state"])
	assert.Equal(t, 3, status["products_received"])

	rows, err := a.store.Products(context.Background(), runID)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	entries, err := os.ReadDir(filepath.Join(a.cfg.OutputDir, runID))
	require.NoError(t, err)
	var pngs, csvs int
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".png":
			pngs++
		case ".csv":
			csvs++
		}
	}
	assert.Equal(t, 3, pngs)
	assert.Equal(t, 1, csvs)
}

func TestNewQueryCancelsRunningOne(t *testing.T) {
	a, ui := newTestApp(t, time.Hour)

	first, err := a.startQuery(context.Background(), catalog.DefaultQuery(5, time.Now()))
	require.NoError(t, err)
	second, err := a.startQuery(context.Background(), catalog.DefaultQuery(2, time.Now()))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	waitRunState(t, ui, first, "cancelled")
	status := a.status()
	assert.Equal(t, second, status["run_id"])
	assert.Equal(t, "running", status["run_state"])
}

func TestQueryWithoutCatalog(t *testing.T) {
	a := newApp(config.Defaults(), processing.NewRenderer(nil))
	_, err := a.startQuery(context.Background(), catalog.Query{})
	assert.Error(t, err)
	assert.Equal(t, "idle", a.status()["run_state"])
}

// stalledLister holds ListSegmentation open until release is closed.
type stalledLister struct {
	entered chan struct{}
	release chan struct{}
}

func (l *stalledLister) ListSegmentation(ctx context.Context, _ *catalog.ListSegmentationRequest) (*catalog.SegmentationStream, error) {
	close(l.entered)
	select {
	case <-l.release:
		return nil, errors.New("catalog unavailable")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestStatusNotBlockedBySlowCatalog(t *testing.T) {
	a := newApp(config.Defaults(), processing.NewRenderer(nil))
	lister := &stalledLister{entered: make(chan struct{}), release: make(chan struct{})}
	a.lister = lister

	started := make(chan error, 1)
	go func() {
		_, err := a.startQuery(context.Background(), catalog.DefaultQuery(2, time.Now()))
		started <- err
	}()
	<-lister.entered

	statusc := make(chan map[string]any, 1)
	go func() { statusc <- a.status() }()
	select {
	case status := <-statusc:
		assert.Equal(t, "idle", status["run_state"])
	case <-time.After(2 * time.Second):
		close(lister.release)
		t.Fatal("status blocked while the catalog stream was opening")
	}
	_ = a.snapshot()

	close(lister.release)
	assert.Error(t, <-started)
	assert.Equal(t, "idle", a.status()["run_state"])
}

func TestFailureMessageCarriesStage(t *testing.T) {
	err := &processing.PipelineError{ProductID: "p", Stage: processing.StageGeometry, Err: assert.AnError}
	f := failureMessage("run", types.Outcome{ProductID: "p", Err: err})
	assert.Equal(t, "geometry", f.Stage)
	assert.Equal(t, assert.AnError.Error(), f.Error)
	assert.Equal(t, "failure", f.Type)
}
