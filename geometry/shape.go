// Package geometry decodes WKB polygons and answers the two questions the
// aggregator asks of them: which cells of a level does the shape occupy,
// and does the shape fully contain a rectangle.
package geometry

import (
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/geo"
)

// maxIntersectionCheckEdges bounds the quadratic self-intersection check.
const maxIntersectionCheckEdges = 4096

// Relation is how a shape relates to a rectangle.
type Relation int

const (
	Disjoint Relation = iota
	Partial
	Inside
)

func (r Relation) String() string {
	switch r {
	case Inside:
		return "inside"
	case Partial:
		return "partial"
	default:
		return "disjoint"
	}
}

type segment struct {
	a, b geo.Point
}

// Shape is a polygon or multipolygon in lon/lat degrees. Rings are combined
// with the even-odd rule, so holes and disjoint parts need no bookkeeping.
type Shape struct {
	rings  [][]geo.Point
	edges  []segment
	bounds geo.Rect
}

// FromWKB decodes a Polygon or MultiPolygon from WKB bytes.
func FromWKB(b []byte) (*Shape, error) {
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return nil, errors.GeometryRejected(err, "invalid WKB")
	}
	return FromGeom(g)
}

// FromGeom builds a Shape from a decoded go-geom value.
func FromGeom(g geom.T) (*Shape, error) {
	var polys []*geom.Polygon
	switch t := g.(type) {
	case *geom.Polygon:
		polys = append(polys, t)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			polys = append(polys, t.Polygon(i))
		}
	default:
		return nil, errors.GeometryRejected(nil, fmt.Sprintf("unsupported geometry type %T", g))
	}

	s := &Shape{bounds: geo.EmptyRect()}
	for _, p := range polys {
		for i := 0; i < p.NumLinearRings(); i++ {
			if err := s.addRing(p.LinearRing(i).Coords()); err != nil {
				return nil, err
			}
		}
	}
	if len(s.rings) == 0 {
		return nil, errors.GeometryRejected(nil, "empty geometry")
	}
	if err := s.checkSimple(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewShape builds a single-ring shape from points; the ring is closed if
// needed.
func NewShape(points []geo.Point) (*Shape, error) {
	coords := make([]geom.Coord, 0, len(points)+1)
	for _, p := range points {
		coords = append(coords, geom.Coord{p.Lng, p.Lat})
	}
	if len(points) > 0 && points[0] != points[len(points)-1] {
		coords = append(coords, coords[0])
	}
	poly, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{coords})
	if err != nil {
		return nil, errors.GeometryRejected(err, "invalid ring")
	}
	return FromGeom(poly)
}

func (s *Shape) addRing(coords []geom.Coord) error {
	if len(coords) < 4 {
		return errors.GeometryRejected(nil, fmt.Sprintf("ring has %d points, need at least 4", len(coords)))
	}

	ring := make([]geo.Point, len(coords))
	for i, c := range coords {
		p := geo.NewPoint(c.X(), c.Y())
		if math.IsNaN(p.Lng) || math.IsNaN(p.Lat) || !p.IsValid() {
			return errors.GeometryRejected(nil, fmt.Sprintf("vertex %d out of range: %v", i, p))
		}
		ring[i] = p
		s.bounds = s.bounds.Union(geo.NewRect(p.Lng, p.Lat, p.Lng, p.Lat))
	}
	if ring[0] != ring[len(ring)-1] {
		return errors.GeometryRejected(nil, "ring is not closed")
	}

	for i := 0; i+1 < len(ring); i++ {
		if ring[i] != ring[i+1] {
			s.edges = append(s.edges, segment{ring[i], ring[i+1]})
		}
	}
	s.rings = append(s.rings, ring)
	return nil
}

// checkSimple rejects shapes whose edges cross each other, where
// containment cannot be decided.
func (s *Shape) checkSimple() error {
	if len(s.edges) > maxIntersectionCheckEdges {
		return nil
	}
	for i := range s.edges {
		for j := i + 1; j < len(s.edges); j++ {
			if properlyCross(s.edges[i], s.edges[j]) {
				return errors.GeometryRejected(nil, fmt.Sprintf("self-intersection between edges %d and %d", i, j))
			}
		}
	}
	return nil
}

// Bounds returns the shape's envelope.
func (s *Shape) Bounds() geo.Rect {
	return s.bounds
}

// ContainsPoint uses ray casting over every ring.
func (s *Shape) ContainsPoint(point geo.Point) bool {
	inside := false
	for _, ring := range s.rings {
		j := len(ring) - 1
		for i := 0; i < len(ring); i++ {
			pi, pj := ring[i], ring[j]
			if ((pi.Lat > point.Lat) != (pj.Lat > point.Lat)) &&
				(point.Lng < (pj.Lng-pi.Lng)*(point.Lat-pi.Lat)/(pj.Lat-pi.Lat)+pi.Lng) {
				inside = !inside
			}
			j = i
		}
	}
	return inside
}

// Relate classifies r against the shape. Shared edges and corners do not
// count as overlap.
func (s *Shape) Relate(r geo.Rect) Relation {
	if r.Area() <= 0 || !s.bounds.Overlaps(r) {
		return Disjoint
	}
	for _, e := range s.edges {
		if crossesInterior(e, r) {
			return Partial
		}
	}
	if s.ContainsPoint(r.CenterPoint()) {
		return Inside
	}
	return Disjoint
}

// crossesInterior reports whether e passes through the open interior of r.
// The segment is clipped to r (Liang-Barsky); a clipped piece touches the
// interior exactly when its midpoint does.
func crossesInterior(e segment, r geo.Rect) bool {
	dx := e.b.Lng - e.a.Lng
	dy := e.b.Lat - e.a.Lat
	t0, t1 := 0.0, 1.0

	clip := func(p, q float64) bool {
		if p == 0 {
			return q >= 0
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return false
			}
			t0 = max(t0, t)
		} else {
			if t < t0 {
				return false
			}
			t1 = min(t1, t)
		}
		return true
	}

	if !clip(-dx, e.a.Lng-r.MinX()) || !clip(dx, r.MaxX()-e.a.Lng) ||
		!clip(-dy, e.a.Lat-r.MinY()) || !clip(dy, r.MaxY()-e.a.Lat) {
		return false
	}
	if t0 > t1 {
		return false
	}

	tm := (t0 + t1) / 2
	mx := e.a.Lng + tm*dx
	my := e.a.Lat + tm*dy
	return mx > r.MinX() && mx < r.MaxX() && my > r.MinY() && my < r.MaxY()
}

func orient(a, b, c geo.Point) float64 {
	return (b.Lng-a.Lng)*(c.Lat-a.Lat) - (b.Lat-a.Lat)*(c.Lng-a.Lng)
}

// properlyCross reports whether two segments cross at a single point
// interior to both.
func properlyCross(s, t segment) bool {
	d1 := orient(t.a, t.b, s.a)
	d2 := orient(t.a, t.b, s.b)
	d3 := orient(s.a, s.b, t.a)
	d4 := orient(s.a, s.b, t.b)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}
