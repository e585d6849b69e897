// Package geo provides the planar primitives shared by the grid packages.
package geo

import (
	"math"
)

const (
	// EarthRadiusMeters is the WGS84 equatorial radius used by the altitude transform.
	EarthRadiusMeters = 6378137.0
	// MetersPerDegree is the length of one degree of arc at the equator.
	MetersPerDegree = 2 * math.Pi * EarthRadiusMeters / 360
)

// Point represents a geographic coordinate in decimal degrees.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// NewPoint creates a new Point.
func NewPoint(lng, lat float64) Point {
	return Point{Lng: lng, Lat: lat}
}

// IsValid checks if the point has valid coordinates.
func (p Point) IsValid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
