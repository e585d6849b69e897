package filter

import (
	"context"
	"fmt"
	"slices"

	"github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/geo"
	"github.com/geosot/gridindex/gridcode"
	"github.com/geosot/gridindex/telemetry"
	"github.com/geosot/gridindex/validation"
)

// DefaultCoverCells is the cell limit of ComputeGeoHash.
const DefaultCoverCells = 4

// DefaultWeights returns the level weight table for levels 0 through 27.
// Levels 1-6 weigh half so that shallow quadrants keep splitting.
func DefaultWeights() []float64 {
	w := make([]float64, 28)
	for i := range w {
		w[i] = 1
	}
	for i := 1; i <= 6; i++ {
		w[i] = 0.5
	}
	return w
}

// Options tune filter synthesis.
type Options struct {
	// MaxLevel stops synthesis before any quadrant gets deeper.
	MaxLevel int `json:"max_level" validate:"grid_level"`
	// MaxNodes caps the working list of GetFilter1.
	MaxNodes int `json:"max_nodes" validate:"gte=1"`
	// MaxTerms caps the output of GetFilter2.
	MaxTerms int `json:"max_terms" validate:"gte=1"`
	// Threshold is the GetFilter1 split score limit.
	Threshold float64 `json:"threshold" validate:"gt=0"`
	// Weights is indexed by level; deeper levels reuse the last entry.
	Weights []float64 `json:"weights" validate:"omitempty,dive,gte=0"`
}

// DefaultOptions returns the service defaults.
func DefaultOptions() Options {
	return Options{
		MaxLevel:  16,
		MaxNodes:  64,
		MaxTerms:  30,
		Threshold: 500,
		Weights:   DefaultWeights(),
	}
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	return validation.Struct(o)
}

func (o Options) weight(level int) float64 {
	switch {
	case len(o.Weights) == 0:
		return 1
	case level < len(o.Weights):
		return o.Weights[level]
	default:
		return o.Weights[len(o.Weights)-1]
	}
}

func (o Options) score(q QueryParameter) float64 {
	return float64(q.Level) * o.weight(q.Level) * q.Coverage
}

// start returns the root working node, or false when the query misses the
// extent.
func start(extent, query geo.Rect) (QueryParameter, bool, error) {
	if extent.Area() <= 0 {
		return QueryParameter{}, false, errors.Validation("index extent must have a positive area")
	}
	if query.Area() <= 0 {
		return QueryParameter{}, false, errors.Validation("query rectangle must have a positive area")
	}
	if !extent.Overlaps(query) {
		return QueryParameter{}, false, nil
	}
	return newQueryParameter(0, 0, extent, query), true, nil
}

// GetFilter1 splits the shallowest quadrant whose weighted score
// level*weight*coverage is under the threshold, taking the first one in
// list order on ties. It stops when no quadrant qualifies, when a split
// would go past MaxLevel or when the working list would outgrow MaxNodes.
func GetFilter1(extent, query geo.Rect, opts Options) (*Filter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	root, ok, err := start(extent, query)
	if err != nil {
		return nil, err
	}
	if !ok {
		return newFilter(extent, nil), nil
	}

	work := []QueryParameter{root}
	var terms []Term
	for len(work) > 0 {
		i := -1
		for j, q := range work {
			if opts.score(q) >= opts.Threshold {
				continue
			}
			if i < 0 || q.Level < work[i].Level {
				i = j
			}
		}
		if i < 0 {
			break
		}

		q := work[i]
		if q.Covered() {
			terms = append(terms, termFrom(Equality, q))
			work = slices.Delete(work, i, i+1)
			continue
		}
		if q.Level >= opts.MaxLevel {
			break
		}
		kids := q.children(query)
		if len(work)-1+len(kids) > opts.MaxNodes {
			break
		}
		work = slices.Replace(work, i, i+1, kids...)
	}

	for _, q := range work {
		terms = append(terms, termFrom(Range, q))
	}
	return newFilter(extent, terms), nil
}

// GetFilter2 splits the quadrant with the lowest coverage first, so the
// ranges that admit the most false positives are tightened first. It stops
// before a split would take the filter past MaxTerms terms.
func GetFilter2(extent, query geo.Rect, opts Options) (*Filter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	root, ok, err := start(extent, query)
	if err != nil {
		return nil, err
	}
	if !ok {
		return newFilter(extent, nil), nil
	}

	work := []QueryParameter{root}
	var terms []Term
	for len(work) > 0 {
		i := -1
		for j, q := range work {
			if !q.Covered() && q.Level >= opts.MaxLevel {
				continue
			}
			if i < 0 || q.Coverage < work[i].Coverage {
				i = j
			}
		}
		if i < 0 {
			break
		}

		q := work[i]
		if q.Covered() {
			terms = append(terms, termFrom(Equality, q))
			work = slices.Delete(work, i, i+1)
			continue
		}
		kids := q.children(query)
		if len(terms)+len(work)-1+len(kids) > opts.MaxTerms {
			break
		}
		work = slices.Replace(work, i, i+1, kids...)
	}

	for _, q := range work {
		terms = append(terms, termFrom(Range, q))
	}
	return newFilter(extent, terms), nil
}

// ComputeGeoHash returns the quadrants of the deepest level at which no
// more than maxCells quadrants overlap the query. maxCells <= 0 means
// DefaultCoverCells.
func ComputeGeoHash(extent, query geo.Rect, maxCells int) ([]QueryParameter, error) {
	if maxCells <= 0 {
		maxCells = DefaultCoverCells
	}
	root, ok, err := start(extent, query)
	if err != nil || !ok {
		return nil, err
	}

	cover := []QueryParameter{root}
	for cover[0].Level < gridcode.MaxLevel {
		var next []QueryParameter
		for _, q := range cover {
			next = append(next, q.children(query)...)
		}
		if len(next) == 0 || len(next) > maxCells {
			break
		}
		cover = next
	}
	return cover, nil
}

// Variant selects a synthesis rule.
type Variant string

const (
	// Weighted is GetFilter1.
	Weighted Variant = "filter1"
	// FewestTerms is GetFilter2.
	FewestTerms Variant = "filter2"
)

// Synthesizer runs filter synthesis with tracing and metrics.
type Synthesizer struct {
	metrics *telemetry.GridMetrics
}

// NewSynthesizer creates a Synthesizer. A nil metrics uses the global
// meter provider.
func NewSynthesizer(metrics *telemetry.GridMetrics) *Synthesizer {
	if metrics == nil {
		metrics = telemetry.DefaultGridMetrics()
	}
	return &Synthesizer{metrics: metrics}
}

// Build synthesizes a filter with the given variant.
func (s *Synthesizer) Build(ctx context.Context, variant Variant, extent, query geo.Rect, opts Options) (*Filter, error) {
	ctx, span := telemetry.StartSpan(ctx, "grid.filter",
		telemetry.FilterAttributes(string(variant), extent.String(), query.String())...)

	var (
		f   *Filter
		err error
	)
	switch variant {
	case Weighted:
		f, err = GetFilter1(extent, query, opts)
	case FewestTerms:
		f, err = GetFilter2(extent, query, opts)
	default:
		err = errors.BadRequest(fmt.Sprintf("unknown filter variant %q", variant))
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordFilter(ctx, string(variant), len(f.Terms))
	return f, nil
}
