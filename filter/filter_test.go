package filter

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/geo"
)

var world = geo.RectFromCorners(-180, 90, 180, -90)

func TestComputeGeoHash_WorkedExample(t *testing.T) {
	query := geo.RectFromCorners(1, 45, 45, 1)

	cover, err := ComputeGeoHash(world, query, 0)
	require.NoError(t, err)
	require.Len(t, cover, 2)

	var codes []uint64
	union := geo.EmptyRect()
	for _, q := range cover {
		assert.Equal(t, 3, q.Level)
		codes = append(codes, q.Code)

		r, err := GetBoundsByKey(world, q.Code, q.Level)
		require.NoError(t, err)
		assert.Equal(t, q.CellRect, r)
		union = union.Union(r)
	}

	want := []uint64{0xC000000000000000, 0xC800000000000000}
	if diff := cmp.Diff(want, codes); diff != "" {
		t.Errorf("ComputeGeoHash() codes mismatch (-want +got):\n%s", diff)
	}
	if got, want := union, geo.NewRect(0, 0, 45, 45); got != want {
		t.Errorf("union of cover = %v, want %v", got, want)
	}
}

func TestComputeGeoHash_Limits(t *testing.T) {
	tests := []struct {
		name      string
		query     geo.Rect
		maxCells  int
		wantCells int
		wantLevel int
	}{
		{"whole extent", world, 4, 4, 1},
		{"single cell allowed", geo.NewRect(1, 1, 45, 45), 1, 1, 2},
		{"outside extent", geo.NewRect(200, 0, 210, 10), 4, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cover, err := ComputeGeoHash(world, tt.query, tt.maxCells)
			require.NoError(t, err)
			require.Len(t, cover, tt.wantCells)
			for _, q := range cover {
				assert.Equal(t, tt.wantLevel, q.Level)
			}
		})
	}
}

func TestGetBoundsByKey(t *testing.T) {
	tests := []struct {
		code  uint64
		level int
		want  geo.Rect
	}{
		{0, 0, world},
		{0xC000000000000000, 1, geo.NewRect(0, 0, 180, 90)},
		{0x4000000000000000, 1, geo.NewRect(0, -90, 180, 0)},
		{0x8000000000000000, 1, geo.NewRect(-180, 0, 0, 90)},
		{0xC800000000000000, 3, geo.NewRect(0, 22.5, 45, 45)},
	}

	for _, tt := range tests {
		got, err := GetBoundsByKey(world, tt.code, tt.level)
		require.NoError(t, err)
		if got != tt.want {
			t.Errorf("GetBoundsByKey(%#x, %d) = %v, want %v", tt.code, tt.level, got, tt.want)
		}
	}

	_, err := GetBoundsByKey(world, 0, 33)
	assert.True(t, errors.IsInvalidLevel(err))
}

func TestEncodePoint(t *testing.T) {
	key, err := EncodePoint(world, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), key>>62, "north east point lands in quadrant 3")

	key, err = EncodePoint(world, 180, 90)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), key)

	key, err = EncodePoint(world, -180, -90)
	require.NoError(t, err)
	assert.Zero(t, key)

	_, err = EncodePoint(world, 181, 0)
	assert.True(t, errors.IsOutOfRange(err))

	_, err = EncodePoint(geo.NewRect(0, 0, 0, 10), 0, 5)
	assert.True(t, errors.IsValidation(err))
}

// checkFilter asserts that every sampled point of query is matched and that
// every term spans exactly its subtree.
func checkFilter(t *testing.T, f *Filter, query geo.Rect) {
	t.Helper()
	require.NotEmpty(t, f.Terms)

	const n = 25
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			lon := query.MinX() + (float64(i)+0.5)*query.Width()/n
			lat := query.MinY() + (float64(j)+0.5)*query.Height()/n
			if matched, _ := f.MatchPoint(lon, lat); !matched {
				t.Errorf("point (%g, %g) inside the query is not matched", lon, lat)
			}
		}
	}

	for _, term := range f.Terms {
		if term.Level > 0 {
			assert.Equal(t, uint64(1)<<uint(64-2*term.Level)-1, term.Hi()-term.Lo(),
				"term %#x/%d spans more than its subtree", term.Code, term.Level)
		}
		if term.Kind == Equality {
			r, err := GetBoundsByKey(f.Extent, term.Code, term.Level)
			require.NoError(t, err)
			assert.True(t, query.ContainsRect(r), "equality term %v reaches outside the query", r)
		}
	}
}

func TestGetFilter2(t *testing.T) {
	queries := []geo.Rect{
		geo.RectFromCorners(1, 45, 45, 1),
		geo.RectFromCorners(-33.3, 12.7, 101.2, -48.9),
		geo.NewRect(116.2, 39.8, 116.6, 40.1),
	}

	for _, query := range queries {
		t.Run(query.String(), func(t *testing.T) {
			f, err := GetFilter2(world, query, DefaultOptions())
			require.NoError(t, err)
			checkFilter(t, f, query)
			assert.LessOrEqual(t, len(f.Terms), 30)
		})
	}
}

func TestGetFilter2_TermCap(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxTerms = 5
	query := geo.RectFromCorners(-33.3, 12.7, 101.2, -48.9)

	f, err := GetFilter2(world, query, opts)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(f.Terms), 5)
	checkFilter(t, f, query)
}

func TestGetFilter1(t *testing.T) {
	queries := []geo.Rect{
		geo.RectFromCorners(1, 45, 45, 1),
		geo.RectFromCorners(-33.3, 12.7, 101.2, -48.9),
	}
	opts := DefaultOptions()

	for _, query := range queries {
		t.Run(query.String(), func(t *testing.T) {
			f, err := GetFilter1(world, query, opts)
			require.NoError(t, err)
			checkFilter(t, f, query)

			ranges := 0
			for _, term := range f.Terms {
				assert.LessOrEqual(t, term.Level, opts.MaxLevel)
				if term.Kind == Range {
					ranges++
				}
			}
			assert.LessOrEqual(t, ranges, opts.MaxNodes)
		})
	}
}

func TestGetFilter1_Weights(t *testing.T) {
	query := geo.RectFromCorners(-33.3, 12.7, 101.2, -48.9)

	coarse := DefaultOptions()
	coarse.Weights = []float64{1, 1000}
	f, err := GetFilter1(world, query, coarse)
	require.NoError(t, err)
	for _, term := range f.Terms {
		assert.LessOrEqual(t, term.Level, 1, "heavy weights should stop splitting at level 1")
	}

	fine, err := GetFilter1(world, query, DefaultOptions())
	require.NoError(t, err)
	assert.Greater(t, len(fine.Terms), len(f.Terms))
}

func TestGetFilter_FullExtent(t *testing.T) {
	for _, build := range []func(geo.Rect, geo.Rect, Options) (*Filter, error){GetFilter1, GetFilter2} {
		f, err := build(world, world, DefaultOptions())
		require.NoError(t, err)
		require.Len(t, f.Terms, 1)
		assert.Equal(t, Equality, f.Terms[0].Kind)

		matched, exact := f.Match(0x123456789)
		assert.True(t, matched)
		assert.True(t, exact)
	}
}

func TestGetFilter_Errors(t *testing.T) {
	bad := DefaultOptions()
	bad.MaxTerms = 0
	_, err := GetFilter2(world, world, bad)
	assert.True(t, errors.IsValidation(err))

	_, err = GetFilter1(world, geo.NewRect(1, 1, 1, 5), DefaultOptions())
	assert.True(t, errors.IsValidation(err))

	f, err := GetFilter2(world, geo.NewRect(190, 0, 200, 10), DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, f.Terms)
}

func TestFilter_SQL(t *testing.T) {
	f := newFilter(world, []Term{
		{Kind: Range, Code: 0xC000000000000000, Level: 1, Coverage: 40},
		{Kind: Equality, Code: 1, Level: 32, Coverage: 100},
	})

	sql, args := f.SQL("cell_key", 3)

	assert.Equal(t, `("cell_key" = $3 OR "cell_key" BETWEEN $4 AND $5)`, sql)
	want := []any{int64(math.MinInt64 + 1), int64(0x4000000000000000), int64(math.MaxInt64)}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("SQL() args mismatch (-want +got):\n%s", diff)
	}

	empty, args := (&Filter{}).SQL("cell_key", 1)
	assert.Equal(t, "FALSE", empty)
	assert.Empty(t, args)
}

func TestSQLKey_Order(t *testing.T) {
	keys := []uint64{0, 1, 1 << 62, 1<<63 - 1, 1 << 63, math.MaxUint64}
	for i := 1; i < len(keys); i++ {
		if SQLKey(keys[i-1]) >= SQLKey(keys[i]) {
			t.Errorf("SQLKey(%#x) >= SQLKey(%#x)", keys[i-1], keys[i])
		}
	}
}

func TestFilter_Match(t *testing.T) {
	f := newFilter(world, []Term{
		{Kind: Range, Code: 0xC000000000000000, Level: 1, Coverage: 40},
		{Kind: Equality, Code: 0xC000000000000000, Level: 2, Coverage: 100},
	})

	tests := []struct {
		key         uint64
		wantMatched bool
		wantExact   bool
	}{
		{0xC100000000000000, true, true},
		{0xD000000000000000, true, false},
		{0x4000000000000000, false, false},
	}

	for _, tt := range tests {
		matched, exact := f.Match(tt.key)
		if matched != tt.wantMatched || exact != tt.wantExact {
			t.Errorf("Match(%#x) = %v, %v; want %v, %v", tt.key, matched, exact, tt.wantMatched, tt.wantExact)
		}
	}
}

func TestSynthesizer_Build(t *testing.T) {
	s := NewSynthesizer(nil)
	ctx := context.Background()
	query := geo.RectFromCorners(1, 45, 45, 1)

	f1, err := s.Build(ctx, Weighted, world, query, DefaultOptions())
	require.NoError(t, err)
	assert.NotEmpty(t, f1.Terms)

	f2, err := s.Build(ctx, FewestTerms, world, query, DefaultOptions())
	require.NoError(t, err)
	assert.NotEmpty(t, f2.Terms)

	_, err = s.Build(ctx, Variant("filter3"), world, query, DefaultOptions())
	assert.Equal(t, errors.CodeBadRequest, errors.Code(err))
}
