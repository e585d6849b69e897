package geo

import (
	"fmt"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
)

// Rect is an axis-aligned rectangle; X is longitude and Y latitude.
type Rect struct {
	r2.Rect
}

// NewRect creates a rectangle from its min and max corners.
func NewRect(minX, minY, maxX, maxY float64) Rect {
	return Rect{r2.Rect{
		X: r1.Interval{Lo: minX, Hi: maxX},
		Y: r1.Interval{Lo: minY, Hi: maxY},
	}}
}

// RectFromCorners creates a rectangle from (left, top) and (right, bottom),
// the order index extents and query windows are usually written in.
// Corners given in the wrong order are normalised.
func RectFromCorners(left, top, right, bottom float64) Rect {
	return Rect{r2.RectFromPoints(r2.Point{X: left, Y: top}, r2.Point{X: right, Y: bottom})}
}

// EmptyRect returns the canonical empty rectangle.
func EmptyRect() Rect {
	return Rect{r2.EmptyRect()}
}

func (r Rect) MinX() float64 { return r.X.Lo }
func (r Rect) MinY() float64 { return r.Y.Lo }
func (r Rect) MaxX() float64 { return r.X.Hi }
func (r Rect) MaxY() float64 { return r.Y.Hi }

// Width returns the X extent, or 0 for an empty rectangle.
func (r Rect) Width() float64 {
	if r.IsEmpty() {
		return 0
	}
	return r.X.Length()
}

// Height returns the Y extent, or 0 for an empty rectangle.
func (r Rect) Height() float64 {
	if r.IsEmpty() {
		return 0
	}
	return r.Y.Length()
}

// Area returns the planar area in square degrees.
func (r Rect) Area() float64 {
	return r.Width() * r.Height()
}

// Intersect returns the intersection of r and o.
func (r Rect) Intersect(o Rect) Rect {
	return Rect{r.Rect.Intersection(o.Rect)}
}

// Union returns the smallest rectangle containing r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{r.Rect.Union(o.Rect)}
}

// OverlapArea returns the area shared by r and o.
func (r Rect) OverlapArea(o Rect) float64 {
	return r.Intersect(o).Area()
}

// Overlaps reports whether r and o share a region of positive area.
// Rectangles that only touch along an edge do not overlap.
func (r Rect) Overlaps(o Rect) bool {
	return r.OverlapArea(o) > 0
}

// ContainsRect reports whether o lies inside r, edges included.
func (r Rect) ContainsRect(o Rect) bool {
	return r.Rect.Contains(o.Rect)
}

// ContainsPoint reports whether p lies inside r, edges included.
func (r Rect) ContainsPoint(p Point) bool {
	return r.Rect.ContainsPoint(r2.Point{X: p.Lng, Y: p.Lat})
}

// Quadrant returns one of the four equal quarters of r. Bit 0 of q selects
// the upper X half and bit 1 the upper Y half, matching the (y,x) bit pair
// order of interleaved codes.
func (r Rect) Quadrant(q int) Rect {
	cx := (r.X.Lo + r.X.Hi) / 2
	cy := (r.Y.Lo + r.Y.Hi) / 2

	x := r1.Interval{Lo: r.X.Lo, Hi: cx}
	if q&1 != 0 {
		x = r1.Interval{Lo: cx, Hi: r.X.Hi}
	}
	y := r1.Interval{Lo: r.Y.Lo, Hi: cy}
	if q&2 != 0 {
		y = r1.Interval{Lo: cy, Hi: r.Y.Hi}
	}
	return Rect{r2.Rect{X: x, Y: y}}
}

// CenterPoint returns the centre of r.
func (r Rect) CenterPoint() Point {
	c := r.Rect.Center()
	return Point{Lng: c.X, Lat: c.Y}
}

func (r Rect) String() string {
	return fmt.Sprintf("(%g,%g)-(%g,%g)", r.X.Lo, r.Y.Hi, r.X.Hi, r.Y.Lo)
}
