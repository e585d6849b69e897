package aggregate

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/geo"
	"github.com/geosot/gridindex/geometry"
	"github.com/geosot/gridindex/gridcode"
	"github.com/geosot/gridindex/gridset"
	"github.com/geosot/gridindex/logging"
	"github.com/geosot/gridindex/telemetry"
)

func newTestAggregator() *Aggregator {
	return New(logging.NewLogger("error"), nil)
}

func mustPolygon(t *testing.T, pts ...geo.Point) *geometry.Shape {
	t.Helper()
	s, err := geometry.NewShape(pts)
	require.NoError(t, err)
	return s
}

func unitSquare(t *testing.T) *geometry.Shape {
	return mustPolygon(t, geo.NewPoint(0, 0), geo.NewPoint(0, 2), geo.NewPoint(2, 2), geo.NewPoint(2, 0))
}

func triangle(t *testing.T) *geometry.Shape {
	return mustPolygon(t, geo.NewPoint(0, 0), geo.NewPoint(0, 3), geo.NewPoint(3, 0))
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name  string
		opts  func(o *Options)
		check func(error) bool
	}{
		{"defaults", func(o *Options) {}, func(err error) bool { return err == nil }},
		{"level too fine", func(o *Options) { o.LevelMax = 30 }, errors.IsInvalidLevel},
		{"negative level", func(o *Options) { o.LevelMin = -1 }, errors.IsInvalidLevel},
		{"inverted range", func(o *Options) { o.LevelMin, o.LevelMax = 12, 10 }, errors.IsValidation},
		{"negative cells", func(o *Options) { o.MaxCells = -5 }, errors.IsValidation},
		{"negative timeout", func(o *Options) { o.Timeout = -time.Second }, errors.IsValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.opts(&opts)
			err := opts.Validate()
			assert.True(t, tt.check(err), "Validate() = %v", err)
		})
	}
}

func TestSeedLevel(t *testing.T) {
	square := geo.NewRect(0, 0, 2, 2)

	tests := []struct {
		name      string
		bounds    geo.Rect
		min, max  int
		threshold float64
		want      int
	}{
		{"disabled", square, 6, 12, 0, 6},
		{"raised", square, 6, 12, 4, 9},
		{"capped at level max", square, 6, 8, 4, 8},
		{"already sparse", square, 9, 12, 4, 9},
		{"loose threshold", square, 6, 12, 10, 7},
		{"degenerate bounds", geo.NewRect(1, 1, 1, 3), 6, 12, 4, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := Options{LevelMin: tt.min, LevelMax: tt.max, DensityThreshold: tt.threshold}
			if got := seedLevel(tt.bounds, opts); got != tt.want {
				t.Errorf("seedLevel() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRun_KeepsLargestContainedCell(t *testing.T) {
	s := unitSquare(t)
	opts := Options{LevelMin: 6, LevelMax: 9}

	res, err := newTestAggregator().Run(context.Background(), s, s, opts)
	require.NoError(t, err)

	want := []gridset.Cell2D{{Code: gridcode.MustEncode2D(1, 1, 8), LevelMin: 6}}
	if diff := cmp.Diff(want, res.Cells); diff != "" {
		t.Errorf("Run() cells mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 6, res.LevelMin)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, 3, res.PredicateCalls)
}

func TestRun_DensityRaisesSeedLevel(t *testing.T) {
	s := unitSquare(t)
	opts := Options{LevelMin: 6, LevelMax: 9, DensityThreshold: 4}

	res, err := newTestAggregator().Run(context.Background(), s, s, opts)
	require.NoError(t, err)

	want := gridset.Normalize2D([]gridset.Cell2D{
		{Code: gridcode.MustEncode2D(0.5, 0.5, 9), LevelMin: 9},
		{Code: gridcode.MustEncode2D(1.5, 0.5, 9), LevelMin: 9},
		{Code: gridcode.MustEncode2D(0.5, 1.5, 9), LevelMin: 9},
		{Code: gridcode.MustEncode2D(1.5, 1.5, 9), LevelMin: 9},
	})
	if diff := cmp.Diff(want, res.Cells); diff != "" {
		t.Errorf("Run() cells mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 9, res.LevelMin)
	assert.Zero(t, res.PredicateCalls, "cells at level max need no containment test")
}

// assertSoundCover checks that every cell coarser than LevelMax lies inside
// s, that every sample point is covered and that no cell nests in another.
func assertSoundCover(t *testing.T, s *geometry.Shape, res *Result, opts Options, samples []geo.Point) {
	t.Helper()
	ctx := context.Background()

	for _, c := range res.Cells {
		assert.Equal(t, res.LevelMin, c.LevelMin)
		if c.Level() == opts.LevelMax {
			continue
		}
		inside, err := s.FullyContains(ctx, c.Code.Bounds())
		require.NoError(t, err)
		assert.True(t, inside, "cell %v at level %d is not inside the polygon", c.Code, c.Level())
	}

	for _, p := range samples {
		covered := false
		for _, c := range res.Cells {
			if c.Code.Bounds().ContainsPoint(p) {
				covered = true
				break
			}
		}
		assert.True(t, covered, "point %v is not covered", p)
	}

	for i, a := range res.Cells {
		for j, b := range res.Cells {
			if i == j || a.Level() >= b.Level() {
				continue
			}
			tb, err := gridset.Truncate2D(b.Code, a.Level())
			require.NoError(t, err)
			assert.NotEqual(t, a.Code, tb, "cell %v nests inside %v", b.Code, a.Code)
		}
	}
}

func TestRun_Soundness(t *testing.T) {
	s := triangle(t)
	opts := Options{LevelMin: 6, LevelMax: 11, DensityThreshold: 4}

	res, err := newTestAggregator().Run(context.Background(), s, s, opts)
	require.NoError(t, err)
	require.NotEmpty(t, res.Cells)
	assert.Equal(t, 8, res.LevelMin)

	var samples []geo.Point
	for i := 0; i < 30; i++ {
		for j := 0; j < 30; j++ {
			p := geo.NewPoint((float64(i)+0.5)*0.1, (float64(j)+0.5)*0.1)
			if p.Lng+p.Lat > 2.999 || !s.ContainsPoint(p) {
				continue
			}
			samples = append(samples, p)
		}
	}
	assertSoundCover(t, s, res, opts, samples)
}

// Codes are sign-magnitude, so cells west of the prime meridian and south
// of the equator grow away from zero.
func TestRun_SoundnessAcrossOrigin(t *testing.T) {
	s := mustPolygon(t,
		geo.NewPoint(-3.3, -2.7), geo.NewPoint(-3.3, 2.2),
		geo.NewPoint(1.4, 2.2), geo.NewPoint(1.4, -2.7),
	)
	opts := Options{LevelMin: 7, LevelMax: 13}

	res, err := newTestAggregator().Run(context.Background(), s, s, opts)
	require.NoError(t, err)
	require.NotEmpty(t, res.Cells)

	quadrants := make(map[[2]bool]bool)
	for _, c := range res.Cells {
		center := c.Code.Bounds().CenterPoint()
		quadrants[[2]bool{center.Lng < 0, center.Lat < 0}] = true
	}
	assert.Len(t, quadrants, 4, "cells should fall on both sides of both axes")

	var samples []geo.Point
	for i := 0; i < 47; i++ {
		for j := 0; j < 49; j++ {
			samples = append(samples, geo.NewPoint(-3.3+(float64(i)+0.5)*0.1, -2.7+(float64(j)+0.5)*0.1))
		}
	}
	assertSoundCover(t, s, res, opts, samples)
}

func TestRun_ParallelMatchesSerial(t *testing.T) {
	s := triangle(t)
	ctx := context.Background()
	agg := newTestAggregator()

	serial, err := agg.Run(ctx, s, s, Options{LevelMin: 8, LevelMax: 12, Parallelism: 1})
	require.NoError(t, err)
	parallel, err := agg.Run(ctx, s, s, Options{LevelMin: 8, LevelMax: 12, Parallelism: 4})
	require.NoError(t, err)

	if diff := cmp.Diff(serial.Cells, parallel.Cells); diff != "" {
		t.Errorf("parallel cells differ (-serial +parallel):\n%s", diff)
	}
	assert.Equal(t, serial.PredicateCalls, parallel.PredicateCalls)
	assert.Equal(t, serial.Rounds, parallel.Rounds)
}

func TestRun_CellBudget(t *testing.T) {
	s := unitSquare(t)
	opts := Options{LevelMin: 9, LevelMax: 9, MaxCells: 2}

	_, err := newTestAggregator().Run(context.Background(), s, s, opts)
	assert.True(t, errors.IsResourceExceeded(err), "Run() error = %v, want ResourceExceeded", err)
}

type blockingRaster struct{}

func (blockingRaster) Bounds() geo.Rect { return geo.NewRect(0, 0, 1, 1) }

func (blockingRaster) Rasterize(ctx context.Context, _ int, _ geo.Rect) ([]geo.Point, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingRaster) FullyContains(ctx context.Context, _ geo.Rect) (bool, error) {
	return false, nil
}

func TestRun_TimeBudget(t *testing.T) {
	opts := Options{LevelMin: 9, LevelMax: 12, Timeout: 20 * time.Millisecond}

	_, err := newTestAggregator().Run(context.Background(), blockingRaster{}, blockingRaster{}, opts)
	assert.True(t, errors.IsResourceExceeded(err), "Run() error = %v, want ResourceExceeded", err)
}

func TestRun_CallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestAggregator().Run(ctx, blockingRaster{}, blockingRaster{}, Options{LevelMin: 9, LevelMax: 12})
	assert.True(t, stderrors.Is(err, context.Canceled), "Run() error = %v, want context.Canceled", err)
	assert.False(t, errors.IsResourceExceeded(err))
}

type failingPredicate struct{}

func (failingPredicate) FullyContains(context.Context, geo.Rect) (bool, error) {
	return false, stderrors.New("topology exception")
}

func TestRun_CollaboratorError(t *testing.T) {
	s := unitSquare(t)

	_, err := newTestAggregator().Run(context.Background(), s, failingPredicate{}, Options{LevelMin: 6, LevelMax: 9})
	assert.True(t, errors.IsGeometryRejected(err), "Run() error = %v, want GeometryRejected", err)
}

func TestRun_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := telemetry.NewGridMetrics(provider.Meter("test"))
	require.NoError(t, err)

	s := unitSquare(t)
	agg := New(logging.NewLogger("error"), m)
	_, err = agg.Run(context.Background(), s, s, Options{LevelMin: 6, LevelMax: 9})
	require.NoError(t, err)
	_, err = agg.Run(context.Background(), s, s, Options{LevelMin: 9, LevelMax: 9, MaxCells: 1})
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			if sum, ok := metric.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[metric.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), totals["grid.aggregation.runs"])
	assert.Equal(t, int64(3), totals["grid.predicate.calls"])
	assert.Equal(t, int64(1), totals["grid.budget.exceeded"])
}
