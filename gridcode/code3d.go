package gridcode

import (
	"fmt"

	"github.com/geosot/gridindex/geo"
)

// Code3D is a 96-bit code of interleaved longitude, latitude and altitude
// streams, stored least-significant word first.
type Code3D [3]uint32

// Compare orders codes by their 96-bit value, most-significant word first.
func (c Code3D) Compare(o Code3D) int {
	for i := 2; i >= 0; i-- {
		switch {
		case c[i] < o[i]:
			return -1
		case c[i] > o[i]:
			return 1
		}
	}
	return 0
}

func (c Code3D) String() string {
	return fmt.Sprintf("%08x%08x%08x", c[2], c[1], c[0])
}

// Encode3D returns the code of the level cell containing (lon, lat, height).
func Encode3D(lon, lat, height float64, level int) (Code3D, error) {
	if err := ValidateLevel(level); err != nil {
		return Code3D{}, err
	}
	if err := ValidateCoordinate(lon, lat); err != nil {
		return Code3D{}, err
	}
	z, err := AltitudeToLevelCode(height, level)
	if err != nil {
		return Code3D{}, err
	}
	return Interleave3D(DecimalToFixedPoint(lon, level), DecimalToFixedPoint(lat, level), uint32(z)), nil
}

// Decode3D returns the origin corner and altitude lower bound of a code's
// cell at level.
func Decode3D(c Code3D, level int) (geo.Point, float64, error) {
	x, y, z := Deinterleave3D(c)
	h, err := LevelCodeToAltitude(int32(z), level)
	if err != nil {
		return geo.Point{}, 0, err
	}
	return geo.Point{Lng: FixedPointToDecimal(x), Lat: FixedPointToDecimal(y)}, h, nil
}
