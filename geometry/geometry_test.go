package geometry

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/geo"
	"github.com/geosot/gridindex/gridcode"
)

func mustWKB(t *testing.T, g geom.T) []byte {
	t.Helper()
	b, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		t.Fatalf("wkb.Marshal: %v", err)
	}
	return b
}

func square(minX, minY, maxX, maxY float64) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
	}})
}

func mustShape(t *testing.T, g geom.T) *Shape {
	t.Helper()
	s, err := FromWKB(mustWKB(t, g))
	if err != nil {
		t.Fatalf("FromWKB: %v", err)
	}
	return s
}

func TestFromWKB(t *testing.T) {
	s := mustShape(t, square(0, 0, 2, 3))

	if got, want := s.Bounds(), geo.NewRect(0, 0, 2, 3); got != want {
		t.Errorf("Bounds() = %v, want %v", got, want)
	}

	multi := geom.NewMultiPolygon(geom.XY)
	if err := multi.Push(square(0, 0, 1, 1)); err != nil {
		t.Fatal(err)
	}
	if err := multi.Push(square(5, 5, 6, 6)); err != nil {
		t.Fatal(err)
	}
	m := mustShape(t, multi)
	if !m.ContainsPoint(geo.NewPoint(5.5, 5.5)) || m.ContainsPoint(geo.NewPoint(3, 3)) {
		t.Error("multipolygon containment is wrong")
	}
}

func TestFromWKB_Rejected(t *testing.T) {
	bowtie := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{0, 0}, {2, 2}, {2, 0}, {0, 2}, {0, 0},
	}})

	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte{0x01, 0x02, 0x03}},
		{"point", mustWKB(t, geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{1, 2}))},
		{"self-intersecting", mustWKB(t, bowtie)},
		{"out of range", mustWKB(t, square(170, 0, 190, 10))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromWKB(tt.data); !errors.IsGeometryRejected(err) {
				t.Errorf("FromWKB() error = %v, want GeometryRejected", err)
			}
		})
	}
}

func TestShape_ContainsPoint_Hole(t *testing.T) {
	donut := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{
		{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{4, 4}, {6, 4}, {6, 6}, {4, 6}, {4, 4}},
	})
	s := mustShape(t, donut)

	if !s.ContainsPoint(geo.NewPoint(2, 2)) {
		t.Error("point in the ring should be inside")
	}
	if s.ContainsPoint(geo.NewPoint(5, 5)) {
		t.Error("point in the hole should be outside")
	}
	if got := s.Relate(geo.NewRect(4.5, 4.5, 5.5, 5.5)); got != Disjoint {
		t.Errorf("Relate(hole) = %v, want disjoint", got)
	}
}

func TestShape_Relate(t *testing.T) {
	s := mustShape(t, square(0, 0, 10, 10))

	tests := []struct {
		name string
		r    geo.Rect
		want Relation
	}{
		{"inside", geo.NewRect(1, 1, 2, 2), Inside},
		{"same rectangle", geo.NewRect(0, 0, 10, 10), Inside},
		{"partial", geo.NewRect(5, 5, 15, 15), Partial},
		{"covers shape", geo.NewRect(-1, -1, 11, 11), Partial},
		{"touching edge", geo.NewRect(10, 0, 12, 10), Disjoint},
		{"far away", geo.NewRect(50, 50, 60, 60), Disjoint},
		{"degenerate", geo.NewRect(1, 1, 1, 2), Disjoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Relate(tt.r); got != tt.want {
				t.Errorf("Relate(%v) = %v, want %v", tt.r, got, tt.want)
			}
		})
	}
}

func TestNewShape(t *testing.T) {
	s, err := NewShape([]geo.Point{{Lng: 0, Lat: 0}, {Lng: 4, Lat: 0}, {Lng: 0, Lat: 4}})
	if err != nil {
		t.Fatalf("NewShape failed: %v", err)
	}
	ok, err := s.FullyContains(context.Background(), geo.NewRect(0.5, 0.5, 1, 1))
	if err != nil || !ok {
		t.Errorf("FullyContains = %v, %v; want true", ok, err)
	}
	ok, _ = s.FullyContains(context.Background(), geo.NewRect(1, 1, 3, 3))
	if ok {
		t.Error("rectangle crossing the hypotenuse reported as contained")
	}
}

func sortPoints(a, b geo.Point) bool {
	if a.Lng != b.Lng {
		return a.Lng < b.Lng
	}
	return a.Lat < b.Lat
}

func TestRasterize(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		shape *geom.Polygon
		want  []geo.Point
	}{
		{
			name:  "north east",
			shape: square(0, 0, 2, 2),
			want:  []geo.Point{{Lng: 0.5, Lat: 0.5}, {Lng: 1.5, Lat: 0.5}, {Lng: 0.5, Lat: 1.5}, {Lng: 1.5, Lat: 1.5}},
		},
		{
			name:  "south west",
			shape: square(-2, -1, 0, 0),
			want:  []geo.Point{{Lng: -0.5, Lat: -0.5}, {Lng: -1.5, Lat: -0.5}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := mustShape(t, tt.shape)
			got, err := s.Rasterize(ctx, 9, s.Bounds())
			if err != nil {
				t.Fatalf("Rasterize failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got, cmpopts.SortSlices(sortPoints)); diff != "" {
				t.Errorf("Rasterize() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRasterize_Partial(t *testing.T) {
	s, err := NewShape([]geo.Point{{Lng: 0, Lat: 0}, {Lng: 3, Lat: 0}, {Lng: 0, Lat: 3}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Rasterize(context.Background(), 9, s.Bounds())
	if err != nil {
		t.Fatalf("Rasterize failed: %v", err)
	}
	// cells touching the hypotenuse only at a corner are not occupied
	if len(got) != 6 {
		t.Errorf("Rasterize() returned %d cells, want 6: %v", len(got), got)
	}
}

func TestRasterize_IrregularLevel(t *testing.T) {
	s := mustShape(t, square(0, 0, 1, 1))

	got, err := s.Rasterize(context.Background(), 10, s.Bounds())
	if err != nil {
		t.Fatalf("Rasterize failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("Rasterize() returned %d cells, want 4", len(got))
	}

	codes := make(map[gridcode.Code2D]bool)
	for _, p := range got {
		c := gridcode.MustEncode2D(p.Lng, p.Lat, 10)
		if !c.Bounds().ContainsPoint(p) {
			t.Errorf("centre %v not inside its cell %v", p, c.Bounds())
		}
		codes[c] = true
	}
	if len(codes) != 4 {
		t.Errorf("centres encode to %d distinct codes, want 4", len(codes))
	}
}

func TestRasterize_Cancelled(t *testing.T) {
	s := mustShape(t, square(0, 0, 10, 10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Rasterize(ctx, 12, s.Bounds()); err == nil {
		t.Error("Rasterize with a cancelled context should fail")
	}
}
