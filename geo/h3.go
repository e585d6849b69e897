package geo

import (
	"math"

	"github.com/uber/h3-go/v4"
)

// h3EdgeKm is the average hexagon edge length in km per H3 resolution.
var h3EdgeKm = [...]float64{
	1107.712591, 418.6760055, 158.2446558, 59.81085794, 22.61292133,
	8.544408276, 3.229482772, 1.220629759, 0.461354684, 0.174375668,
	0.065907807, 0.024910561, 0.009415526, 0.003559893, 0.001348575,
	0.000509713,
}

// H3ResolutionForSize returns the H3 resolution whose hexagon edge is the
// closest match to a square cell of sizeDeg degrees on a side.
func H3ResolutionForSize(sizeDeg float64) int {
	sizeKm := sizeDeg * MetersPerDegree / 1000

	best := 0
	bestDiff := math.Inf(1)
	for res, edge := range h3EdgeKm {
		diff := math.Abs(math.Log(edge / sizeKm))
		if diff < bestDiff {
			best = res
			bestDiff = diff
		}
	}
	return best
}

// H3Cell returns the H3 cell containing p at the given resolution.
func H3Cell(p Point, resolution int) h3.Cell {
	return h3.LatLngToCell(h3.LatLng{Lat: p.Lat, Lng: p.Lng}, resolution)
}

// H3CellForRect returns the H3 cell of a rectangle's centre, at the
// resolution closest to the rectangle's size. It lets callers correlate a
// grid cell with H3-indexed data.
func H3CellForRect(r Rect) string {
	size := math.Max(r.Width(), r.Height())
	if size <= 0 {
		return ""
	}
	return H3Cell(r.CenterPoint(), H3ResolutionForSize(size)).String()
}
