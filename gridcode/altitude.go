package gridcode

import (
	"math"

	"github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/geo"
)

// AltitudeGrowth is the per-degree growth factor of altitude cells
// (1 + pi/180), so a cell's height grows with its distance from the
// Earth's centre the way its angular width does.
const AltitudeGrowth = 1.017453292519943295

var lnGrowth = math.Log(AltitudeGrowth)

// AltitudeToLevelCode maps a height in metres above the ellipsoid to the
// signed altitude cell index at level. Height 0 maps to 0 at every level.
func AltitudeToLevelCode(height float64, level int) (int32, error) {
	if err := ValidateLevel(level); err != nil {
		return 0, err
	}
	if height <= -geo.EarthRadiusMeters {
		return 0, errors.OutOfRange("height", height)
	}

	factor := 1 / PixelSize(level)
	v := factor * math.Log((geo.EarthRadiusMeters+height)/geo.EarthRadiusMeters) / lnGrowth
	// absorb exp/log round-off on cell boundaries
	v = math.Floor(v + 1e-9)
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, errors.OutOfRange("height", height)
	}
	return int32(v), nil
}

// LevelCodeToAltitude returns the lower bound, in metres, of altitude cell
// code at level. It is the inverse of AltitudeToLevelCode.
func LevelCodeToAltitude(code int32, level int) (float64, error) {
	if err := ValidateLevel(level); err != nil {
		return 0, err
	}
	return geo.EarthRadiusMeters*math.Exp(float64(code)*PixelSize(level)*lnGrowth) - geo.EarthRadiusMeters, nil
}

// RescaleAltitudeCode re-derives an altitude cell index for a different
// level. Altitude codes are not bit prefixes of each other, so changing
// level goes through the altitude itself.
func RescaleAltitudeCode(code int32, from, to int) (int32, error) {
	h, err := LevelCodeToAltitude(code, from)
	if err != nil {
		return 0, err
	}
	return AltitudeToLevelCode(h, to)
}
