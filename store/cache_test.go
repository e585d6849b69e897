package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geosot/gridindex/aggregate"
	"github.com/geosot/gridindex/gridcode"
	"github.com/geosot/gridindex/gridset"
)

func TestMemoryResultCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryResultCache(0)

	got, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Set(ctx, "a", []byte("one"), 0))
	got, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	require.NoError(t, c.Set(ctx, "b", []byte("two"), time.Nanosecond))
	time.Sleep(time.Millisecond)
	got, err = c.Get(ctx, "b")
	require.NoError(t, err)
	assert.Nil(t, got, "expired entries are misses")
	assert.Equal(t, 1, c.Len())
}

func TestMemoryResultCache_Bounded(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryResultCache(2)

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, c.Set(ctx, k, []byte(k), 0))
		assert.LessOrEqual(t, c.Len(), 2)
	}
	got, err := c.Get(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, []byte("d"), got, "the newest entry survives eviction")

	// Overwriting an existing key never evicts.
	require.NoError(t, c.Set(ctx, "d", []byte("d2"), 0))
	assert.Equal(t, 2, c.Len())
}

func TestResultKey(t *testing.T) {
	geom := []byte{1, 2, 3}
	base := aggregate.DefaultOptions()

	same := base
	same.Parallelism = base.Parallelism + 3
	same.Timeout = base.Timeout + time.Minute
	assert.Equal(t, ResultKey(geom, base), ResultKey(geom, same))

	tests := []struct {
		name   string
		modify func(o *aggregate.Options)
	}{
		{"level min", func(o *aggregate.Options) { o.LevelMin-- }},
		{"level max", func(o *aggregate.Options) { o.LevelMax++ }},
		{"density", func(o *aggregate.Options) { o.DensityThreshold += 0.5 }},
		{"max cells", func(o *aggregate.Options) { o.MaxCells++ }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base
			tt.modify(&o)
			assert.NotEqual(t, ResultKey(geom, base), ResultKey(geom, o))
		})
	}
	assert.NotEqual(t, ResultKey(geom, base), ResultKey([]byte{1, 2, 4}, base))
}

func TestMarshalResult(t *testing.T) {
	res := &aggregate.Result{
		Cells: []gridset.Cell2D{
			{Code: gridcode.MustEncode2D(0.5, 0.5, 8), LevelMin: 5},
			{Code: gridcode.MustEncode2D(116.3, 39.9, 12), LevelMin: 5},
		},
		LevelMin:       5,
		Rounds:         4,
		PredicateCalls: 37,
	}
	b, err := MarshalResult(res)
	require.NoError(t, err)

	got, err := UnmarshalResult(b)
	require.NoError(t, err)
	want := &aggregate.Result{
		Cells:          gridset.Normalize2D(append([]gridset.Cell2D(nil), res.Cells...)),
		LevelMin:       5,
		Rounds:         4,
		PredicateCalls: 37,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("UnmarshalResult mismatch (-want +got):\n%s", diff)
	}

	_, err = UnmarshalResult([]byte("not json"))
	assert.Error(t, err)
}
