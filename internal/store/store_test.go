package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapearth-map-go/internal/catalog"
	"snapearth-map-go/internal/geo"
	"snapearth-map-go/internal/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "snapearth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func result(id string, created time.Time) *types.Result {
	return &types.Result{
		Bounds: geo.Bounds{SouthWest: geo.LatLon{Lat: 48, Lon: 2}, NorthEast: geo.LatLon{Lat: 49, Lon: 3}},
		Metadata: types.Metadata{
			ProductID:       id,
			CreationDate:    created,
			PublicationDate: created.Add(90 * time.Minute),
			CloudCover:      0.3,
			QuicklookURL:    "https://example.test/" + id,
		},
	}
}

func TestMigrationsApplied(t *testing.T) {
	s := openStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, s.MigrateUp())
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapearth.db")
	s, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.BeginRun(ctx, "run-1", catalog.Query{WKT: geo.EuropeWKT, MaxResults: 2}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, geo.EuropeWKT, runs[0].Query.WKT)
}

func TestSaveAndListProducts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	start := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	q := catalog.Query{WKT: geo.EuropeWKT, Start: start, End: start.AddDate(0, 0, 5), Categories: []string{"311", "312"}, MaxResults: 3}
	require.NoError(t, s.BeginRun(ctx, "run-1", q))

	later := result("b", start.Add(48*time.Hour))
	require.NoError(t, s.SaveResult(ctx, "run-1", later))
	require.NoError(t, s.SaveResult(ctx, "run-1", result("a", start.Add(24*time.Hour))))
	later.Metadata.CloudCover = 0.9
	require.NoError(t, s.SaveResult(ctx, "run-1", later))
	require.NoError(t, s.SaveFailure(ctx, "run-1", "c", errors.New("decode failed")))

	products, err := s.Products(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "a", products[0].ProductID)
	assert.Equal(t, "b", products[1].ProductID)
	assert.Equal(t, 0.9, products[1].CloudCover)
	assert.True(t, products[0].CreationDate.Equal(start.Add(24*time.Hour)))
	assert.True(t, products[0].PublicationDate.Equal(start.Add(24*time.Hour+90*time.Minute)))

	runs, err := s.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 2, runs[0].Products)
	assert.Equal(t, 1, runs[0].Failures)
	assert.Equal(t, []string{"311", "312"}, runs[0].Query.Categories)
	assert.True(t, runs[0].Query.Start.Equal(start))

	empty, err := s.Products(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestForeignKeysEnforced(t *testing.T) {
	s := openStore(t)
	err := s.SaveResult(context.Background(), "no-such-run", result("a", time.Now()))
	assert.Error(t, err)
}

func TestDuplicateRunRejected(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.BeginRun(ctx, "run-1", catalog.Query{}))
	assert.Error(t, s.BeginRun(ctx, "run-1", catalog.Query{}))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n))
	assert.Equal(t, 1, n)
}
