package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snapearth-map-go/internal/catalog"
	"snapearth-map-go/internal/config"
	"snapearth-map-go/internal/output"
	"snapearth-map-go/internal/palette"
	"snapearth-map-go/internal/processing"
	"snapearth-map-go/internal/server"
	"snapearth-map-go/internal/simulator"
	"snapearth-map-go/internal/store"
)

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table := palette.Default()
	if cfg.PaletteFile != "" {
		table, err = palette.LoadFile(cfg.PaletteFile)
		if err != nil {
			log.Fatalf("load palette: %v", err)
		}
		log.Printf("[palette] loaded %d categories from %s", table.Len(), cfg.PaletteFile)
	}

	a := newApp(cfg, processing.NewRenderer(table))

	if cfg.DBPath != "" {
		db, err := store.Open(cfg.DBPath)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		defer db.Close()
		a.store = db
	}

	if cfg.PublishEndpoint != "" {
		pub, err := output.NewPublisher(cfg.PublishEndpoint)
		if err != nil {
			log.Fatalf("start publisher: %v", err)
		}
		defer pub.Close()
		a.publisher = pub
		log.Printf("[publish] overlays on %s", cfg.PublishEndpoint)
	}

	if cfg.RawLogEnabled && cfg.ReplayPath == "" {
		writer, err := output.NewRawLogWriter(cfg.RawLogDir, "catalog")
		if err != nil {
			log.Fatalf("failed to start raw log: %v", err)
		}
		defer func() {
			if err := writer.Close(); err != nil {
				log.Printf("raw log close failed: %v", err)
			}
		}()
		a.recorder = writer
		log.Printf("[rawlog] recording to %s", writer.Path())
	}

	if cfg.ReplayPath == "" {
		opts := cfg.CatalogOptions()
		if cfg.Debug {
			target, err := startSimulator(ctx, cfg)
			if err != nil {
				log.Fatalf("start simulator: %v", err)
			}
			opts.Target = target
			opts.UseSSL = false
		}
		client, err := catalog.Dial(opts)
		if err != nil {
			log.Fatalf("catalog: %v", err)
		}
		defer client.Close()
		a.lister = client
	}

	go logStats(ctx, a)

	go func() {
		var runID string
		var err error
		if cfg.ReplayPath != "" {
			runID, err = a.startReplay(ctx, cfg.ReplayPath)
		} else {
			runID, err = a.startQuery(ctx, catalog.DefaultQuery(cfg.Catalog.MaxResults, time.Now()))
		}
		if err != nil {
			log.Printf("[run] initial run failed: %v", err)
			return
		}
		log.Printf("[run] initial run %s", runID)
	}()

	handlers := server.Handlers{
		Status:   a.status,
		Snapshot: a.snapshot,
		Results:  a.results,
		Overlay:  a.overlay,
		Legend:   table.Entries,
	}
	if cfg.ReplayPath == "" {
		handlers.Query = func(q catalog.Query) (string, error) { return a.startQuery(ctx, q) }
	}

	log.Printf("Starting web UI at http://localhost:%d\n", cfg.Port)
	if err := server.Run(ctx, cfg, a.ui, handlers); err != nil {
		log.Printf("server stopped: %v", err)
	}
	a.stop()
}

// startSimulator serves a synthetic catalog on a loopback port and returns
// its address.
func startSimulator(ctx context.Context, cfg config.AppConfig) (string, error) {
	cat, err := simulator.New(simulator.Options{
		Count:    cfg.DebugProducts,
		Interval: cfg.DebugInterval,
		Seed:     time.Now().UnixNano(),
	})
	if err != nil {
		return "", err
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	go func() {
		if err := simulator.Serve(ctx, lis, cat); err != nil {
			log.Printf("[simulator] stopped: %v", err)
		}
	}()
	log.Printf("[simulator] serving %d products on %s", cfg.DebugProducts, lis.Addr())
	return fmt.Sprintf("dns:///%s", lis.Addr().String()), nil
}

func logStats(ctx context.Context, a *app) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := a.metrics.snapshot()
			log.Printf("run stats: received=%v rendered=%v failed=%v broadcast=%v",
				snapshot["ingest_received_total"],
				snapshot["products_rendered_total"],
				snapshot["render_failures_total"],
				snapshot["overlays_broadcast_total"],
			)
		}
	}
}
