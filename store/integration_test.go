//go:build integration

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/filter"
	"github.com/geosot/gridindex/geo"
	"github.com/geosot/gridindex/gridcode"
	"github.com/geosot/gridindex/gridset"
	testutil "github.com/geosot/gridindex/testing"
)

func testEntries(t *testing.T) []Entry {
	t.Helper()
	points := []struct {
		id       string
		lon, lat float64
	}{
		{"beijing", 116.4, 39.9},
		{"shanghai", 121.5, 31.2},
		{"sydney", 151.2, -33.9},
		{"new-york", -74.0, 40.7},
		{"edge", 90, 45},
	}
	out := make([]Entry, 0, len(points))
	for _, p := range points {
		e, err := NewEntry(world, p.id, p.lon, p.lat)
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func hitIDs(hits []Hit) map[string]bool {
	ids := make(map[string]bool, len(hits))
	for _, h := range hits {
		ids[h.ID] = h.Exact
	}
	return ids
}

func TestRedisStores_Integration(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = testutil.Redis(t)
	ctx := testutil.Context(t, time.Minute)
	cfg.PoolSize = 10
	client, err := NewRedisClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	t.Run("CellStore", func(t *testing.T) {
		cells := NewCellStore(client, "test:cells:", nil)
		set := []gridset.Cell2D{
			gridset.NewCell2D(gridcode.MustEncode2D(116.4, 39.9, 15)),
			{Code: gridcode.MustEncode2D(116.4, 39.9, 12), LevelMin: 9},
		}

		require.NoError(t, cells.Save(ctx, "beijing", set, 0))
		ok, err := cells.Exists(ctx, "beijing")
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := cells.Load(ctx, "beijing")
		require.NoError(t, err)
		assert.Equal(t, gridset.Normalize2D(set), got)

		_, err = cells.Load3D(ctx, "beijing")
		assert.True(t, apperrors.IsTypeMismatch(err))

		require.NoError(t, cells.Delete(ctx, "beijing"))
		_, err = cells.Load(ctx, "beijing")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("ResultCache", func(t *testing.T) {
		cache := NewRedisResultCache(client, "test:aggregate:", nil)
		got, err := cache.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Minute))
		got, err = cache.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("KeyIndex", func(t *testing.T) {
		index := NewRedisKeyIndex(client, "test:index", nil)
		require.NoError(t, index.Add(ctx, testEntries(t)...))

		f, err := filter.GetFilter2(world, geo.NewRect(100, 20, 130, 45), filter.DefaultOptions())
		require.NoError(t, err)
		hits, err := index.Query(ctx, f)
		require.NoError(t, err)

		ids := hitIDs(hits)
		assert.Contains(t, ids, "beijing")
		assert.Contains(t, ids, "shanghai")
		assert.NotContains(t, ids, "sydney")
		assert.NotContains(t, ids, "new-york")
	})
}

func TestPostgresIndex_Integration(t *testing.T) {
	cfg := DefaultPostgresConfig()
	cfg.DSN = testutil.Postgres(t)
	ctx := testutil.Context(t, time.Minute)
	client, err := NewPostgresClient(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	index, err := NewPostgresIndex(client, "grid_index", "cell_key", nil)
	require.NoError(t, err)

	m := NewMigrator(client)
	for _, mig := range index.Migrations() {
		m.AddMigration(mig)
	}
	n, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a second Up applies nothing")

	version, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Applied)

	require.NoError(t, index.Add(ctx, testEntries(t)...))

	f, err := filter.GetFilter1(world, geo.NewRect(100, 20, 130, 45), filter.DefaultOptions())
	require.NoError(t, err)
	hits, err := index.Query(ctx, f)
	require.NoError(t, err)

	ids := hitIDs(hits)
	assert.Contains(t, ids, "beijing")
	assert.Contains(t, ids, "shanghai")
	assert.NotContains(t, ids, "sydney")
	assert.NotContains(t, ids, "new-york")

	require.NoError(t, m.Down(ctx))
	version, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
}
