package gridcode

import (
	"fmt"

	"github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/geo"
)

const levelTagMask = 0x3F

// Code2D is a 64-bit GeoSOT code. The leading bits hold interleaved
// (latitude, longitude) bit pairs, one pair per level; the low six bits
// hold the level itself.
type Code2D uint64

// NewCode2D tags a positional value with level, clearing bits finer than level.
func NewCode2D(position uint64, level int) Code2D {
	return Code2D(position&PrefixMask(level)&^levelTagMask | uint64(level)&levelTagMask)
}

// Level returns the level stored in the code's tag bits.
func (c Code2D) Level() int {
	return int(c & levelTagMask)
}

// Position returns the code with its level tag cleared.
func (c Code2D) Position() uint64 {
	return uint64(c) &^ levelTagMask
}

// Digit returns the quadrant digit (0-3) of the code at level i, 1-based.
func (c Code2D) Digit(i int) int {
	return PositionDigit(c.Position(), i)
}

func (c Code2D) String() string {
	return CodeToText(c.Position(), min(c.Level(), MaxTaggedLevel))
}

// PrefixMask returns a mask of the leading 2*level bits of a 64-bit code.
func PrefixMask(level int) uint64 {
	if level <= 0 {
		return 0
	}
	if level >= MaxLevel {
		return ^uint64(0)
	}
	return ^uint64(0) << uint(64-2*level)
}

// PositionDigit returns the quadrant digit at level i (1-based) of an
// untagged positional code: bit 1 is the latitude bit, bit 0 the longitude bit.
func PositionDigit(position uint64, i int) int {
	return int(position>>uint(64-2*i)) & 3
}

// ValidateCoordinate checks lon/lat against the supported domain.
func ValidateCoordinate(lon, lat float64) error {
	if lon < -180 || lon > 180 {
		return errors.OutOfRange("longitude", lon)
	}
	if lat < -90 || lat > 90 {
		return errors.OutOfRange("latitude", lat)
	}
	return nil
}

// EncodePosition returns the untagged positional code of (lon, lat) at
// level. It performs no range checks.
func EncodePosition(lon, lat float64, level int) uint64 {
	return Interleave2D(DecimalToFixedPoint(lon, level), DecimalToFixedPoint(lat, level))
}

// Encode2D returns the tagged code of the level cell containing (lon, lat).
// Levels above MaxTaggedLevel are accepted but their finest bit pairs are
// overwritten by the tag.
func Encode2D(lon, lat float64, level int) (Code2D, error) {
	if err := ValidateLevel(level); err != nil {
		return 0, err
	}
	if err := ValidateCoordinate(lon, lat); err != nil {
		return 0, err
	}
	return NewCode2D(EncodePosition(lon, lat, level), level), nil
}

// MustEncode2D is like Encode2D but panics on error.
func MustEncode2D(lon, lat float64, level int) Code2D {
	c, err := Encode2D(lon, lat, level)
	if err != nil {
		panic(fmt.Sprintf("gridcode: %v", err))
	}
	return c
}

// DecodePosition returns the origin corner of a positional code: the
// corner nearest the equator and prime meridian.
func DecodePosition(position uint64) geo.Point {
	x, y := Deinterleave2D(position)
	return geo.Point{Lng: FixedPointToDecimal(x), Lat: FixedPointToDecimal(y)}
}

// Decode2D returns the origin corner of a code's cell.
func Decode2D(c Code2D) geo.Point {
	return DecodePosition(c.Position())
}

// Bounds returns the rectangle covered by the code's cell.
func (c Code2D) Bounds() geo.Rect {
	return CellRect(c.Position(), c.Level())
}

// Children returns the valid child codes of c one level down.
func (c Code2D) Children() []Code2D {
	level := c.Level()
	if level >= MaxTaggedLevel {
		return nil
	}
	out := make([]Code2D, 0, 4)
	for _, pos := range ChildPositions(c.Position(), level) {
		out = append(out, NewCode2D(pos, level+1))
	}
	return out
}
