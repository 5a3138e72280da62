// Package store keeps run and product metadata in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"snapearth-map-go/internal/catalog"
	"snapearth-map-go/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and migrates it to the
// latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps the per-connection pragmas in force.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns 0, false, nil before any migration ran.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// Run describes one catalog query.
type Run struct {
	RunID     string
	StartedAt time.Time
	Query     catalog.Query
	Products  int
	Failures  int
}

func (s *Store) BeginRun(ctx context.Context, runID string, q catalog.Query) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, query_wkt, start_date, end_date, product_ids, categories, max_results)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		formatTime(time.Now()),
		q.WKT,
		formatTime(q.Start),
		formatTime(q.End),
		strings.Join(q.ProductIDs, ","),
		strings.Join(q.Categories, ","),
		q.MaxResults,
	)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", runID, err)
	}
	return nil
}

// SaveResult upserts the metadata row of a rendered product.
func (s *Store) SaveResult(ctx context.Context, runID string, res *types.Result) error {
	m := res.Metadata
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (run_id, product_id, creation_date, publication_date, quicklook_url,
			cloud_cover, browse_url, download_url, south, west, north, east)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, product_id) DO UPDATE SET
			creation_date = excluded.creation_date,
			publication_date = excluded.publication_date,
			quicklook_url = excluded.quicklook_url,
			cloud_cover = excluded.cloud_cover,
			browse_url = excluded.browse_url,
			download_url = excluded.download_url,
			south = excluded.south,
			west = excluded.west,
			north = excluded.north,
			east = excluded.east`,
		runID, m.ProductID, formatTime(m.CreationDate), formatTime(m.PublicationDate), m.QuicklookURL,
		m.CloudCover, m.BrowseURL, m.DownloadURL,
		res.Bounds.South(), res.Bounds.West(), res.Bounds.North(), res.Bounds.East(),
	)
	if err != nil {
		return fmt.Errorf("save product %s: %w", m.ProductID, err)
	}
	return nil
}

func (s *Store) SaveFailure(ctx context.Context, runID, productID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failures (run_id, product_id, error, recorded_at) VALUES (?, ?, ?, ?)`,
		runID, productID, msg, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save failure %s: %w", productID, err)
	}
	return nil
}

// Products returns the metadata table of a run ordered by creation date.
func (s *Store) Products(ctx context.Context, runID string) ([]types.Metadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, creation_date, publication_date, quicklook_url, cloud_cover, browse_url, download_url
		FROM products WHERE run_id = ? ORDER BY creation_date, product_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Metadata
	for rows.Next() {
		var m types.Metadata
		var created, published string
		if err := rows.Scan(&m.ProductID, &created, &published, &m.QuicklookURL, &m.CloudCover, &m.BrowseURL, &m.DownloadURL); err != nil {
			return nil, err
		}
		if m.CreationDate, err = parseTime(created); err != nil {
			return nil, err
		}
		if m.PublicationDate, err = parseTime(published); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Runs lists recorded runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.started_at, r.query_wkt, r.start_date, r.end_date, r.product_ids, r.categories, r.max_results,
			(SELECT COUNT(*) FROM products p WHERE p.run_id = r.run_id),
			(SELECT COUNT(*) FROM failures f WHERE f.run_id = r.run_id)
		FROM runs r ORDER BY r.started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, start, end, ids, cats string
		if err := rows.Scan(&r.RunID, &started, &r.Query.WKT, &start, &end, &ids, &cats, &r.Query.MaxResults, &r.Products, &r.Failures); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.Query.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if r.Query.End, err = parseTime(end); err != nil {
			return nil, err
		}
		r.Query.ProductIDs = catalog.SplitList(ids)
		r.Query.Categories = catalog.SplitList(cats)
		out = append(out, r)
	}
	return out, rows.Err()
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}
