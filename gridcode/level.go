// Package gridcode converts between geographic coordinates and GeoSOT grid
// codes.
//
// A coordinate axis is first mapped to a 32-bit fixed-point word
// (sign, degrees, minutes, seconds, 1/2048 seconds), one bit per level.
// Longitude and latitude words are bit-interleaved into a 64-bit code, so
// the code's leading 2*L bits identify the level-L cell that contains the
// point. Because minutes and seconds stop at 60, cells at levels 10-12 and
// 16-18 are clipped to whole-degree and whole-minute lines and are not all
// the same size.
package gridcode

import (
	"math"

	"github.com/geosot/gridindex/errors"
)

const (
	// MaxLevel is the finest subdivision level.
	MaxLevel = 32

	// MaxTaggedLevel is the finest level whose bits survive in a Code2D;
	// the lowest three bit pairs hold the level tag.
	MaxTaggedLevel = 29
)

// Level regimes: degrees, minutes, seconds.
const (
	firstMinuteLevel = 10
	firstSecondLevel = 16
)

// ValidateLevel returns an InvalidLevel error when level is outside [0,MaxLevel].
func ValidateLevel(level int) error {
	if level < 0 || level > MaxLevel {
		return errors.InvalidLevel(level, MaxLevel)
	}
	return nil
}

// PixelSize returns the nominal cell edge at level, in degrees.
//
//	levels 0-9:   2^(9-level) degrees
//	levels 10-15: 2^(15-level) minutes
//	levels 16-32: 2^(21-level) seconds
func PixelSize(level int) float64 {
	switch {
	case level < firstMinuteLevel:
		return math.Ldexp(1, 9-level)
	case level < firstSecondLevel:
		return math.Ldexp(1, 15-level) / 60
	default:
		return math.Ldexp(1, 21-level) / 3600
	}
}

// IsIrregular reports whether cells at level are snapped to whole degree or
// minute lines.
func IsIrregular(level int) bool {
	return (level >= 10 && level <= 12) || (level >= 16 && level <= 18)
}
