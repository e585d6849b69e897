package gridcode

import (
	"math"
)

// Fixed-point word layout, most significant bit first:
// sign(1) degree(8) minute(6) second(6) fraction(11).
const (
	signBit     = 1 << 31
	degreeShift = 23
	minuteShift = 17
	secondShift = 11

	degreeMask   = 0xFF
	minuteMask   = 0x3F
	secondMask   = 0x3F
	fractionMask = 0x7FF

	fractionScale = 2048
)

// DecimalToFixedPoint encodes a signed decimal degree as a fixed-point word
// and drops every bit finer than level.
func DecimalToFixedPoint(value float64, level int) uint32 {
	neg := value < 0
	v := math.Abs(value)

	d := math.Floor(v)
	m := roundTo((v-d)*60, 6)
	s := roundTo((m-math.Floor(m))*60, 4)
	frac := math.Round((s - math.Floor(s)) * fractionScale)

	deg := uint32(d)
	mins := uint32(math.Floor(m))
	secs := uint32(math.Floor(s))
	f := uint32(frac)

	// rounding can carry into the next unit
	if f >= fractionScale {
		f -= fractionScale
		secs++
	}
	if secs >= 60 {
		secs -= 60
		mins++
	}
	if mins >= 60 {
		mins -= 60
		deg++
	}

	code := deg<<degreeShift | mins<<minuteShift | secs<<secondShift | f
	if neg {
		code |= signBit
	}
	return maskWord(code, level)
}

// FixedPointToDecimal decodes a fixed-point word back to decimal degrees.
func FixedPointToDecimal(code uint32) float64 {
	deg := float64((code >> degreeShift) & degreeMask)
	mins := float64((code >> minuteShift) & minuteMask)
	secs := float64((code >> secondShift) & secondMask)
	frac := float64(code & fractionMask)

	v := deg + mins/60 + (secs+frac/fractionScale)/3600
	if code&signBit != 0 {
		return -v
	}
	return v
}

// maskWord keeps the leading level bits of a fixed-point word.
func maskWord(code uint32, level int) uint32 {
	shift := uint(32 - level)
	return code >> shift << shift
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
