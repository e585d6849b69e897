package testing

import (
	"testing"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// PolygonWKB encodes a single-ring polygon as little-endian WKB. The ring
// is closed if its last point differs from the first.
func PolygonWKB(t *testing.T, ring ...geom.Coord) []byte {
	t.Helper()
	if len(ring) > 0 && !ring[0].Equal(geom.XY, ring[len(ring)-1]) {
		ring = append(ring, ring[0])
	}
	p, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{ring})
	if err != nil {
		t.Fatalf("invalid polygon: %v", err)
	}
	b, err := wkb.Marshal(p, wkb.NDR)
	if err != nil {
		t.Fatalf("failed to encode WKB: %v", err)
	}
	return b
}

// SquareWKB encodes the axis-aligned rectangle [minX, maxX] x [minY, maxY].
func SquareWKB(t *testing.T, minX, minY, maxX, maxY float64) []byte {
	t.Helper()
	return PolygonWKB(t,
		geom.Coord{minX, minY},
		geom.Coord{maxX, minY},
		geom.Coord{maxX, maxY},
		geom.Coord{minX, maxY},
	)
}
