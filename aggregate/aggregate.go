// Package aggregate covers a polygon with grid cells of mixed levels.
//
// A run seeds cells at a coarse level and then refines, one level per
// round, every cell the polygon only partly covers. Cells the polygon fully
// contains are kept at the level they were found; cells still partial at
// LevelMax are kept as they are.
package aggregate

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/geo"
	"github.com/geosot/gridindex/gridcode"
	"github.com/geosot/gridindex/gridset"
	"github.com/geosot/gridindex/logging"
	"github.com/geosot/gridindex/telemetry"
	"github.com/geosot/gridindex/validation"
)

// Rasterizer returns the occupied cells of a geometry.
type Rasterizer interface {
	// Bounds is the geometry envelope.
	Bounds() geo.Rect
	// Rasterize returns a point inside every level cell the geometry
	// occupies within clip.
	Rasterize(ctx context.Context, level int, clip geo.Rect) ([]geo.Point, error)
}

// Predicate decides rectangle containment for the same geometry.
type Predicate interface {
	FullyContains(ctx context.Context, r geo.Rect) (bool, error)
}

// Options bound an aggregation run.
type Options struct {
	LevelMin int `json:"level_min" validate:"tagged_level"`
	LevelMax int `json:"level_max" validate:"tagged_level,gtefield=LevelMin"`

	// DensityThreshold raises the seed level until the seed cells cover less
	// than this multiple of the envelope area. Values <= 1 disable it.
	DensityThreshold float64 `json:"density_threshold" validate:"gte=0"`

	// MaxCells caps accepted plus pending cells; 0 means unlimited.
	MaxCells int `json:"max_cells" validate:"gte=0"`

	// Timeout caps the run; 0 means no limit beyond the caller's context.
	Timeout time.Duration `json:"timeout" validate:"gte=0"`

	// Parallelism is the number of refine workers; 0 or 1 refines serially.
	Parallelism int `json:"parallelism" validate:"gte=0,lte=64"`
}

// DefaultOptions returns the service defaults.
func DefaultOptions() Options {
	return Options{
		LevelMin:         9,
		LevelMax:         15,
		DensityThreshold: 4,
		MaxCells:         100000,
		Timeout:          30 * time.Second,
		Parallelism:      1,
	}
}

// Validate checks the level range first so an out of range level reports
// InvalidLevel rather than a generic validation failure.
func (o Options) Validate() error {
	for _, l := range []int{o.LevelMin, o.LevelMax} {
		if l < 0 || l > gridcode.MaxTaggedLevel {
			return errors.InvalidLevel(l, gridcode.MaxTaggedLevel)
		}
	}
	return validation.Struct(o)
}

// Result is a finished run.
type Result struct {
	Cells []gridset.Cell2D `json:"cells"`

	// LevelMin is the coarsest level the run actually used, after the
	// density adjustment. Every cell carries it as its LevelMin.
	LevelMin       int `json:"level_min"`
	Rounds         int `json:"rounds"`
	PredicateCalls int `json:"predicate_calls"`
}

type state int

const (
	stateSeed state = iota
	stateRefine
	stateDone
)

func (s state) String() string {
	switch s {
	case stateSeed:
		return "seed"
	case stateRefine:
		return "refine"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

var errTimeBudget = stderrors.New("aggregation time budget exhausted")

// Aggregator runs aggregations.
type Aggregator struct {
	logger  *logging.Logger
	metrics *telemetry.GridMetrics
}

// New creates an Aggregator. A nil logger or metrics falls back to the
// defaults.
func New(logger *logging.Logger, metrics *telemetry.GridMetrics) *Aggregator {
	if logger == nil {
		logger = logging.NewLogger("info")
	}
	if metrics == nil {
		metrics = telemetry.DefaultGridMetrics()
	}
	return &Aggregator{logger: logger, metrics: metrics}
}

// Run covers the geometry behind r and p with cells between opts.LevelMin
// and opts.LevelMax.
func (a *Aggregator) Run(ctx context.Context, r Rasterizer, p Predicate, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx, span := telemetry.StartSpan(ctx, "grid.aggregate",
		telemetry.AggregationAttributes(runID, opts.LevelMin, opts.LevelMax)...)
	start := time.Now()

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, opts.Timeout, errTimeBudget)
		defer cancel()
	}

	rn := &run{
		raster: r,
		pred:   p,
		opts:   opts,
		logger: a.logger.WithRunID(runID).WithLevels(opts.LevelMin, opts.LevelMax),
	}
	res, err := rn.execute(runCtx)
	if err != nil {
		err = rn.classify(runCtx, err)
	}

	outcome := "ok"
	cells, rounds := 0, rn.rounds
	if err != nil {
		outcome = errors.Code(err)
		if outcome == "" {
			outcome = "canceled"
		}
		if errors.IsResourceExceeded(err) {
			a.metrics.RecordBudgetExceeded(ctx, rn.budget)
			rn.logger.Warn("aggregation budget exceeded", "budget", rn.budget, "rounds", rn.rounds)
		}
	} else {
		cells = len(res.Cells)
	}
	a.metrics.RecordAggregation(ctx, outcome, time.Since(start), cells, rounds)
	a.metrics.RecordPredicateCalls(ctx, rn.calls)
	telemetry.EndSpan(span, err)

	if err != nil {
		return nil, err
	}
	return res, nil
}

// run is the state of one aggregation.
type run struct {
	raster Rasterizer
	pred   Predicate
	opts   Options
	logger *logging.Logger

	rounds int
	calls  int
	budget string
}

func (rn *run) execute(ctx context.Context) (*Result, error) {
	bounds := rn.raster.Bounds()
	level := seedLevel(bounds, rn.opts)
	rn.logger.Debug("aggregation started",
		"state", stateSeed.String(),
		"seed_level", level,
	)

	points, err := rn.raster.Rasterize(ctx, level, bounds)
	if err != nil {
		return nil, err
	}
	frontier, err := encodeAll(points, level)
	if err != nil {
		return nil, err
	}

	var accepted []gridcode.Code2D
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slices.Sort(frontier)
		frontier = slices.Compact(frontier)

		rn.rounds++
		acc, next, err := rn.refineRound(ctx, frontier)
		if err != nil {
			return nil, err
		}
		accepted = append(accepted, acc...)

		rn.logger.Debug("refine round",
			"state", stateRefine.String(),
			"level", frontier[0].Level(),
			"frontier", len(frontier),
			"accepted", len(acc),
			"pending", len(next),
		)
		telemetry.AddSpanEvent(ctx, "refine round",
			telemetry.RoundAttributes(frontier[0].Level(), len(frontier), len(acc), len(next))...)

		if rn.opts.MaxCells > 0 && len(accepted)+len(next) > rn.opts.MaxCells {
			rn.budget = "cells"
			return nil, errors.ResourceExceeded(fmt.Sprintf(
				"aggregation needs more than %d cells", rn.opts.MaxCells))
		}
		frontier = next
	}

	cells := make([]gridset.Cell2D, len(accepted))
	for i, c := range accepted {
		cells[i] = gridset.Cell2D{Code: c, LevelMin: level}
	}
	cells = gridset.Normalize2D(cells)

	rn.logger.Debug("aggregation finished",
		"state", stateDone.String(),
		"cells", len(cells),
		"rounds", rn.rounds,
		"predicate_calls", rn.calls,
	)
	return &Result{
		Cells:          cells,
		LevelMin:       level,
		Rounds:         rn.rounds,
		PredicateCalls: rn.calls,
	}, nil
}

// refineRound splits one frontier into accepted cells and the next level's
// frontier. Frontier cells are independent, so with Parallelism > 1 chunks
// run on a worker group and their local lists are joined in chunk order.
func (rn *run) refineRound(ctx context.Context, frontier []gridcode.Code2D) (accepted, next []gridcode.Code2D, err error) {
	workers := rn.opts.Parallelism
	if workers <= 1 || len(frontier) < 2 {
		var b branch
		if err := b.refine(ctx, rn, frontier); err != nil {
			return nil, nil, err
		}
		rn.calls += b.calls
		return b.accepted, b.next, nil
	}

	chunk := (len(frontier) + workers - 1) / workers
	branches := make([]branch, (len(frontier)+chunk-1)/chunk)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range branches {
		lo := i * chunk
		hi := min(lo+chunk, len(frontier))
		b := &branches[i]
		g.Go(func() error {
			return b.refine(gctx, rn, frontier[lo:hi])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for _, b := range branches {
		accepted = append(accepted, b.accepted...)
		next = append(next, b.next...)
		rn.calls += b.calls
	}
	return accepted, next, nil
}

// branch collects the output of one slice of a frontier.
type branch struct {
	accepted []gridcode.Code2D
	next     []gridcode.Code2D
	calls    int
}

func (b *branch) refine(ctx context.Context, rn *run, cells []gridcode.Code2D) error {
	for _, c := range cells {
		level := c.Level()
		if level >= rn.opts.LevelMax {
			b.accepted = append(b.accepted, c)
			continue
		}

		rect := c.Bounds()
		b.calls++
		inside, err := rn.pred.FullyContains(ctx, rect)
		if err != nil {
			return err
		}
		if inside {
			b.accepted = append(b.accepted, c)
			continue
		}

		points, err := rn.raster.Rasterize(ctx, level+1, rect)
		if err != nil {
			return err
		}
		prefix := c.Position()
		for _, pt := range points {
			child, err := gridcode.Encode2D(pt.Lng, pt.Lat, level+1)
			if err != nil {
				return err
			}
			// points on the clip edge can land in a neighbour
			if gridset.TruncatePosition(child.Position(), level) != prefix {
				continue
			}
			b.next = append(b.next, child)
		}
	}
	return nil
}

// classify maps a failure to the error kind the caller sees.
func (rn *run) classify(ctx context.Context, err error) error {
	if stderrors.Is(context.Cause(ctx), errTimeBudget) {
		rn.budget = "time"
		return errors.ResourceExceeded(fmt.Sprintf(
			"aggregation exceeded its %s time budget", rn.opts.Timeout))
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	return errors.GeometryRejected(err, "geometry collaborator failed")
}

func encodeAll(points []geo.Point, level int) ([]gridcode.Code2D, error) {
	out := make([]gridcode.Code2D, 0, len(points))
	for _, p := range points {
		c, err := gridcode.Encode2D(p.Lng, p.Lat, level)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// densityRatio estimates how many times the area of the level cells
// covering bounds exceeds the area of bounds.
func densityRatio(bounds geo.Rect, level int) float64 {
	p := gridcode.PixelSize(level)
	w, h := bounds.Width(), bounds.Height()
	return (w/p + 1) * (h/p + 1) * p * p / (w * h)
}

// seedLevel is the smallest level in [LevelMin, LevelMax] whose density
// ratio is under the threshold. The ratio falls as the level rises, so the
// search doubles its step until it passes the threshold and then bisects.
func seedLevel(bounds geo.Rect, opts Options) int {
	if opts.DensityThreshold <= 1 || bounds.Area() <= 0 {
		return opts.LevelMin
	}
	under := func(level int) bool {
		return densityRatio(bounds, level) < opts.DensityThreshold
	}

	lo := opts.LevelMin
	if under(lo) || lo == opts.LevelMax {
		return lo
	}
	step := 1
	hi := lo + step
	for hi < opts.LevelMax && !under(hi) {
		lo = hi
		step *= 2
		hi = lo + step
	}
	if hi >= opts.LevelMax {
		hi = opts.LevelMax
		if !under(hi) {
			return hi
		}
	}

	// under(hi) holds and under(lo) does not
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if under(mid) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi
}
