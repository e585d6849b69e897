// Package filter turns a query rectangle into a boolean condition over
// quadrant codes.
//
// Codes here are quadrant paths over an index extent rather than over the
// whole GeoSOT frame: level i contributes the bit pair at shift 64-2i, with
// the low bit of the pair selecting the upper X half and the high bit the
// upper Y half. A level L code therefore names the contiguous key range
// [code, code | (1<<(64-2L))-1], and a filter is an OR of such ranges.
package filter

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/lib/pq"

	"github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/geo"
	"github.com/geosot/gridindex/gridcode"
)

// QueryParameter is one quadrant visited while synthesizing a filter.
type QueryParameter struct {
	Code     uint64   `json:"code"`
	Level    int      `json:"level"`
	CellRect geo.Rect `json:"-"`
	// Coverage is the share of CellRect inside the query, in percent.
	Coverage float64  `json:"coverage"`
	Clipped  geo.Rect `json:"-"`
}

func newQueryParameter(code uint64, level int, cell, query geo.Rect) QueryParameter {
	clipped := cell.Intersect(query)
	coverage := 0.0
	if a := cell.Area(); a > 0 {
		coverage = clipped.Area() / a * 100
	}
	return QueryParameter{
		Code:     code,
		Level:    level,
		CellRect: cell,
		Coverage: coverage,
		Clipped:  clipped,
	}
}

// Covered reports whether the whole quadrant lies inside the query.
func (q QueryParameter) Covered() bool {
	return q.Coverage >= 100
}

// children returns the quadrants of q that overlap the query.
func (q QueryParameter) children(query geo.Rect) []QueryParameter {
	if q.Level >= gridcode.MaxLevel {
		return nil
	}
	shift := uint(64 - 2*(q.Level+1))
	out := make([]QueryParameter, 0, 4)
	for d := 0; d < 4; d++ {
		cell := q.CellRect.Quadrant(d)
		if !cell.Overlaps(query) {
			continue
		}
		out = append(out, newQueryParameter(q.Code|uint64(d)<<shift, q.Level+1, cell, query))
	}
	return out
}

// TermKind distinguishes exact hits from candidate ranges.
type TermKind int

const (
	// Equality terms name a quadrant that lies inside the query.
	Equality TermKind = iota
	// Range terms name a quadrant that may reach outside the query.
	Range
)

func (k TermKind) String() string {
	if k == Equality {
		return "equality"
	}
	return "range"
}

// Term is one disjunct of a filter.
type Term struct {
	Kind     TermKind `json:"kind"`
	Code     uint64   `json:"code"`
	Level    int      `json:"level"`
	Coverage float64  `json:"coverage"`
}

func termFrom(kind TermKind, q QueryParameter) Term {
	return Term{Kind: kind, Code: q.Code, Level: q.Level, Coverage: q.Coverage}
}

// Lo is the first key of the term's subtree.
func (t Term) Lo() uint64 { return t.Code }

// Hi is the last key of the term's subtree.
func (t Term) Hi() uint64 { return t.Code | ^gridcode.PrefixMask(t.Level) }

// Exact reports whether every key in the term satisfies the query.
func (t Term) Exact() bool { return t.Kind == Equality || t.Coverage >= 100 }

// Matches reports whether key falls in the term's subtree.
func (t Term) Matches(key uint64) bool {
	return key&gridcode.PrefixMask(t.Level) == t.Code
}

// Filter is the OR of its terms over keys encoded against Extent.
type Filter struct {
	Extent geo.Rect `json:"-"`
	Terms  []Term   `json:"terms"`
}

func newFilter(extent geo.Rect, terms []Term) *Filter {
	slices.SortFunc(terms, func(a, b Term) int {
		if a.Code != b.Code {
			if a.Code < b.Code {
				return -1
			}
			return 1
		}
		return a.Level - b.Level
	})
	return &Filter{Extent: extent, Terms: terms}
}

// Match reports whether key satisfies the filter and, if so, whether the
// hit is exact or needs an exact geometry recheck.
func (f *Filter) Match(key uint64) (matched, exact bool) {
	for _, t := range f.Terms {
		if !t.Matches(key) {
			continue
		}
		matched = true
		if t.Exact() {
			return true, true
		}
	}
	return matched, false
}

// MatchPoint encodes (lon, lat) against the filter extent and matches it.
func (f *Filter) MatchPoint(lon, lat float64) (matched, exact bool) {
	key, err := EncodePoint(f.Extent, lon, lat)
	if err != nil {
		return false, false
	}
	return f.Match(key)
}

// SQL renders the filter as a WHERE fragment over column, which must hold
// keys mapped through SQLKey. Placeholders start at $argIndex.
func (f *Filter) SQL(column string, argIndex int) (string, []any) {
	if len(f.Terms) == 0 {
		return "FALSE", nil
	}
	col := pq.QuoteIdentifier(column)

	var sb strings.Builder
	args := make([]any, 0, 2*len(f.Terms))
	sb.WriteByte('(')
	for i, t := range f.Terms {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		lo, hi := SQLKey(t.Lo()), SQLKey(t.Hi())
		if lo == hi {
			fmt.Fprintf(&sb, "%s = $%d", col, argIndex)
			args = append(args, lo)
			argIndex++
			continue
		}
		fmt.Fprintf(&sb, "%s BETWEEN $%d AND $%d", col, argIndex, argIndex+1)
		args = append(args, lo, hi)
		argIndex += 2
	}
	sb.WriteByte(')')
	return sb.String(), args
}

// SQLKey maps an unsigned key to a signed one with the same ordering, for
// storage in a BIGINT column.
func SQLKey(key uint64) int64 {
	return int64(key ^ 1<<63)
}

// FromSQLKey inverts SQLKey.
func FromSQLKey(v int64) uint64 {
	return uint64(v) ^ 1<<63
}

// EncodePoint returns the level 32 key of (lon, lat) within extent. Points
// on the maximum edges belong to the last quadrant.
func EncodePoint(extent geo.Rect, lon, lat float64) (uint64, error) {
	if extent.Area() <= 0 {
		return 0, errors.Validation("index extent must have a positive area")
	}
	p := geo.NewPoint(lon, lat)
	if !extent.ContainsPoint(p) {
		return 0, errors.New(errors.CodeOutOfRange,
			fmt.Sprintf("point %v is outside the index extent %v", p, extent))
	}
	x := axisWord(lon, extent.MinX(), extent.Width())
	y := axisWord(lat, extent.MinY(), extent.Height())
	return gridcode.Interleave2D(x, y), nil
}

func axisWord(v, lo, span float64) uint32 {
	t := (v - lo) / span * (1 << 32)
	if t >= math.MaxUint32 {
		return math.MaxUint32
	}
	if t <= 0 {
		return 0
	}
	return uint32(t)
}

// GetBoundsByKey returns the rectangle of the level quadrant code within
// extent.
func GetBoundsByKey(extent geo.Rect, code uint64, level int) (geo.Rect, error) {
	if err := gridcode.ValidateLevel(level); err != nil {
		return geo.Rect{}, err
	}
	r := extent
	for i := 1; i <= level; i++ {
		r = r.Quadrant(gridcode.PositionDigit(code, i))
	}
	return r, nil
}
