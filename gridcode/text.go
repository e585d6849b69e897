package gridcode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/geosot/gridindex/errors"
)

// TextPrefix starts every textual code.
const TextPrefix = "G"

// textSeparators maps a digit count to the separator written after it,
// grouping degree, minute, second and sub-second levels.
var textSeparators = map[int]byte{
	8:  '-',
	17: '-',
	26: '.',
}

// CodeToText renders the first level quadrant digits of a positional code,
// e.g. "G00132012-3".
func CodeToText(position uint64, level int) string {
	var sb strings.Builder
	sb.Grow(len(TextPrefix) + level + 3)
	sb.WriteString(TextPrefix)

	for i := 1; i <= level; i++ {
		sb.WriteByte(byte('0' + PositionDigit(position, i)))
		if sep, ok := textSeparators[i]; ok && i < level {
			sb.WriteByte(sep)
		}
	}
	return sb.String()
}

// TextToCode parses a textual code. Separators and the prefix are ignored;
// the level is the number of digits read.
func TextToCode(text string) (level int, position uint64, err error) {
	for _, r := range text {
		switch {
		case r >= '0' && r <= '3':
			level++
			if level > MaxLevel {
				return 0, 0, errors.InvalidLevel(level, MaxLevel)
			}
			position |= uint64(r-'0') << uint(64-2*level)
		case r >= '4' && r <= '9':
			return 0, 0, errors.Validation(fmt.Sprintf("invalid quadrant digit %q in %q", r, text))
		}
	}
	return level, position, nil
}

// Code3DToText renders a 3D code as "<2D text>, <altitude bits>".
func Code3DToText(c Code3D, level int) string {
	x, y, z := Deinterleave3D(c)
	zText := "0"
	if z != 0 {
		zText = strconv.FormatUint(uint64(z), 2)
	}
	return CodeToText(Interleave2D(x, y), level) + ", " + zText
}

// TextToCode3D parses the output of Code3DToText.
func TextToCode3D(text string) (int, Code3D, error) {
	planar, alt, ok := strings.Cut(text, ",")
	if !ok {
		return 0, Code3D{}, errors.Validation(fmt.Sprintf("missing altitude part in %q", text))
	}

	level, position, err := TextToCode(planar)
	if err != nil {
		return 0, Code3D{}, err
	}
	z, err := strconv.ParseUint(strings.TrimSpace(alt), 2, 32)
	if err != nil {
		return 0, Code3D{}, errors.Wrap(err, errors.CodeValidation, "invalid altitude bits")
	}

	x, y := Deinterleave2D(position)
	return level, Interleave3D(x, y, uint32(z)), nil
}
