package http

import (
	"strconv"

	"github.com/geosot/gridindex/filter"
	"github.com/geosot/gridindex/geo"
	"github.com/geosot/gridindex/gridcode"
	"github.com/geosot/gridindex/gridset"
)

// Bounds is a lon/lat rectangle on the wire.
type Bounds struct {
	MinLon float64 `json:"min_lon" validate:"longitude"`
	MinLat float64 `json:"min_lat" validate:"latitude"`
	MaxLon float64 `json:"max_lon" validate:"longitude,gtefield=MinLon"`
	MaxLat float64 `json:"max_lat" validate:"latitude,gtefield=MinLat"`
}

// Rect converts b to a geo.Rect.
func (b Bounds) Rect() geo.Rect {
	return geo.NewRect(b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
}

func boundsOf(r geo.Rect) Bounds {
	return Bounds{MinLon: r.MinX(), MinLat: r.MinY(), MaxLon: r.MaxX(), MaxLat: r.MaxY()}
}

// EncodeRequest asks for the cell containing a point. A height selects a
// 3D code.
type EncodeRequest struct {
	Lon    float64  `json:"lon" validate:"longitude"`
	Lat    float64  `json:"lat" validate:"latitude"`
	Height *float64 `json:"height,omitempty"`
	Level  int      `json:"level" validate:"grid_level"`
}

// TextRequest carries one textual code. Texts with an altitude part
// ("G0013, 101") are 3D codes.
type TextRequest struct {
	Text string `json:"text" validate:"required,max=96"`
}

// TruncateRequest coarsens a textual code to Level.
type TruncateRequest struct {
	Text  string `json:"text" validate:"required,max=96"`
	Level int    `json:"level" validate:"grid_level"`
}

// CompareRequest orders two textual codes.
type CompareRequest struct {
	A string `json:"a" validate:"required,max=96"`
	B string `json:"b" validate:"required,max=96"`
}

// CellResponse describes one grid cell. Code is the decimal value of a 2D
// code or the hex words of a 3D code.
type CellResponse struct {
	Code   string    `json:"code"`
	Text   string    `json:"text"`
	Level  int       `json:"level"`
	Bounds Bounds    `json:"bounds"`
	Center geo.Point `json:"center"`
	// Height is the altitude lower bound of a 3D cell, in meters.
	Height *float64 `json:"height,omitempty"`
	H3     string   `json:"h3,omitempty"`
}

func cellResponse(c gridcode.Code2D) CellResponse {
	return planarResponse(strconv.FormatUint(uint64(c), 10), c.String(), c.Position(), c.Level())
}

func cell3DResponse(c gridcode.Code3D, level int, height float64) CellResponse {
	x, y, _ := gridcode.Deinterleave3D(c)
	resp := planarResponse(c.String(), gridcode.Code3DToText(c, level), gridcode.Interleave2D(x, y), level)
	resp.Height = &height
	return resp
}

func planarResponse(code, text string, position uint64, level int) CellResponse {
	bounds := gridcode.CellRect(position, level)
	return CellResponse{
		Code:   code,
		Text:   text,
		Level:  level,
		Bounds: boundsOf(bounds),
		Center: bounds.CenterPoint(),
		H3:     geo.H3CellForRect(bounds),
	}
}

// CompareResponse is the order of A against B. Overlap follows set overlap:
// only equal codes overlap. SpanOverlap also holds between a cell and its
// ancestors.
type CompareResponse struct {
	Order       int  `json:"order"`
	Overlap     bool `json:"overlap"`
	SpanOverlap bool `json:"span_overlap"`
}

// FilterRequest asks for a filter over Query. Extent and Options default to
// the service settings; Execute runs the filter against the key index.
type FilterRequest struct {
	Variant filter.Variant  `json:"variant" validate:"oneof=filter1 filter2"`
	Extent  *Bounds         `json:"extent"`
	Query   Bounds          `json:"query"`
	Options *filter.Options `json:"options"`
	Execute bool            `json:"execute"`
}

// CoverRequest asks for the coarse quadrant cover of Query.
type CoverRequest struct {
	Extent   *Bounds `json:"extent"`
	Query    Bounds  `json:"query"`
	MaxCells int     `json:"max_cells" validate:"gte=0,lte=1024"`
}

// QuadrantResponse is one filter term or cover quadrant. Lo and Hi are the
// SQL keys bounding its subtree.
type QuadrantResponse struct {
	Kind     string  `json:"kind,omitempty"`
	Level    int     `json:"level"`
	Coverage float64 `json:"coverage"`
	Lo       int64   `json:"lo"`
	Hi       int64   `json:"hi"`
	Bounds   Bounds  `json:"bounds"`
}

func quadrantResponse(extent geo.Rect, kind string, code uint64, level int, coverage float64) (QuadrantResponse, error) {
	r, err := filter.GetBoundsByKey(extent, code, level)
	if err != nil {
		return QuadrantResponse{}, err
	}
	return QuadrantResponse{
		Kind:     kind,
		Level:    level,
		Coverage: coverage,
		Lo:       filter.SQLKey(code),
		Hi:       filter.SQLKey(code | ^gridcode.PrefixMask(level)),
		Bounds:   boundsOf(r),
	}, nil
}

// FilterResponse is a synthesized filter with its SQL rendering and, when
// executed, the index hits. Inexact hits need a geometry recheck.
type FilterResponse struct {
	Variant filter.Variant     `json:"variant"`
	Terms   []QuadrantResponse `json:"terms"`
	Where   string             `json:"where"`
	Args    []any              `json:"args"`
	Hits    []HitResponse      `json:"hits,omitempty"`
}

// HitResponse is one index entry a filter matched.
type HitResponse struct {
	ID    string `json:"id"`
	Exact bool   `json:"exact"`
}

// IndexEntry is a point to add to the key index.
type IndexEntry struct {
	ID  string  `json:"id" validate:"required,max=256"`
	Lon float64 `json:"lon" validate:"longitude"`
	Lat float64 `json:"lat" validate:"latitude"`
}

// IndexRequest adds points to the key index.
type IndexRequest struct {
	Entries []IndexEntry `json:"entries" validate:"required,min=1,max=10000,dive"`
}

// SetCell is one member of a stored cell set.
type SetCell struct {
	Code     string `json:"code"`
	Text     string `json:"text"`
	Level    int    `json:"level"`
	LevelMin int    `json:"level_min"`
}

func setCells(cells []gridset.Cell2D) []SetCell {
	out := make([]SetCell, len(cells))
	for i, c := range cells {
		out[i] = SetCell{
			Code:     strconv.FormatUint(uint64(c.Code), 10),
			Text:     c.Code.String(),
			Level:    c.Level(),
			LevelMin: c.LevelMin,
		}
	}
	return out
}

// AggregateResponse is a finished aggregation run.
type AggregateResponse struct {
	Cells          []SetCell `json:"cells"`
	LevelMin       int       `json:"level_min"`
	Rounds         int       `json:"rounds"`
	PredicateCalls int       `json:"predicate_calls"`
	Saved          string    `json:"saved,omitempty"`
}

// RelateResponse compares two stored cell sets.
type RelateResponse struct {
	Overlap     bool `json:"overlap"`
	SpanOverlap bool `json:"span_overlap"`
	Contains    bool `json:"contains"`
}
