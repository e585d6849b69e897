package gridcode

import (
	"math"

	"github.com/geosot/gridindex/geo"
)

// rootHalfSpan is half the nominal extent of the level-0 cell.
const rootHalfSpan = 256.0

// AxisRange returns the [lo, hi] extent in degrees of the level cell whose
// fixed-point prefix is word. Cells at minute and second levels stop at the
// next whole degree or minute; a prefix that starts past that line (minute
// or second value >= 60) is not a real cell and yields lo == hi.
func AxisRange(word uint32, level int) (lo, hi float64) {
	if level <= 0 {
		return -rootHalfSpan, rootHalfSpan
	}

	word = maskWord(word, level)
	start := FixedPointToDecimal(word &^ signBit)
	end := start + PixelSize(level)

	var limit float64
	switch {
	case level < firstMinuteLevel:
		limit = math.Inf(1)
	case level < firstSecondLevel:
		if (word>>minuteShift)&minuteMask >= 60 {
			return emptyAxis(word, start)
		}
		limit = float64((word >> degreeShift) & degreeMask + 1)
	default:
		if (word>>minuteShift)&minuteMask >= 60 || (word>>secondShift)&secondMask >= 60 {
			return emptyAxis(word, start)
		}
		whole := (word >> degreeShift) & degreeMask
		mins := (word >> minuteShift) & minuteMask
		limit = float64(whole) + float64(mins+1)/60
	}
	if end > limit {
		end = limit
	}

	if word&signBit != 0 {
		return -end, -start
	}
	return start, end
}

func emptyAxis(word uint32, start float64) (float64, float64) {
	if word&signBit != 0 {
		return -start, -start
	}
	return start, start
}

// CellRect returns the rectangle covered by the level cell of an untagged
// positional code.
func CellRect(position uint64, level int) geo.Rect {
	x, y := Deinterleave2D(position)
	x0, x1 := AxisRange(x, level)
	y0, y1 := AxisRange(y, level)
	return geo.NewRect(x0, y0, x1, y1)
}

// CellRectAt returns the rectangle of the level cell containing (lon, lat).
func CellRectAt(lon, lat float64, level int) geo.Rect {
	return CellRect(EncodePosition(lon, lat, level), level)
}

// IsRealCell reports whether a positional code names a cell with area.
func IsRealCell(position uint64, level int) bool {
	return CellRect(position, level).Area() > 0
}

// ChildPositions returns the positional codes of the real children at
// level+1 of the level cell at position.
func ChildPositions(position uint64, level int) []uint64 {
	if level >= MaxLevel {
		return nil
	}
	base := position & PrefixMask(level)
	shift := uint(64 - 2*(level+1))

	out := make([]uint64, 0, 4)
	for q := uint64(0); q < 4; q++ {
		child := base | q<<shift
		if IsRealCell(child, level+1) {
			out = append(out, child)
		}
	}
	return out
}
