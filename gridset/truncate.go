package gridset

import (
	"github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/gridcode"
)

// Truncate2D coarsens c to level. Asking for a finer level than the code
// holds is a PrecisionLoss error.
func Truncate2D(c gridcode.Code2D, level int) (gridcode.Code2D, error) {
	if err := gridcode.ValidateLevel(level); err != nil {
		return 0, err
	}
	if level > c.Level() {
		return 0, errors.PrecisionLoss(c.Level(), level)
	}
	return gridcode.NewCode2D(c.Position(), level), nil
}

// TruncatePosition masks an untagged positional code to level.
func TruncatePosition(position uint64, level int) uint64 {
	return position & gridcode.PrefixMask(level)
}

// Truncate3D coarsens a 3D code from level from to level to. Longitude and
// latitude words are masked; the altitude index is re-derived at the new
// level because altitude cells are not bit prefixes of each other.
func Truncate3D(c gridcode.Code3D, from, to int) (gridcode.Code3D, error) {
	if err := gridcode.ValidateLevel(from); err != nil {
		return gridcode.Code3D{}, err
	}
	if err := gridcode.ValidateLevel(to); err != nil {
		return gridcode.Code3D{}, err
	}
	if to > from {
		return gridcode.Code3D{}, errors.PrecisionLoss(from, to)
	}
	if to == from {
		return c, nil
	}

	x, y, z := gridcode.Deinterleave3D(c)
	alt, err := gridcode.RescaleAltitudeCode(int32(z), from, to)
	if err != nil {
		return gridcode.Code3D{}, err
	}
	return gridcode.Interleave3D(maskWord(x, to), maskWord(y, to), uint32(alt)), nil
}

func maskWord(w uint32, level int) uint32 {
	shift := uint(32 - level)
	return w >> shift << shift
}

// Downsample2D truncates every cell to level and returns the normalized
// result. Cells already coarser than level are a PrecisionLoss error.
func Downsample2D(cells []Cell2D, level int) ([]Cell2D, error) {
	out := make([]Cell2D, 0, len(cells))
	for _, c := range cells {
		code, err := Truncate2D(c.Code, level)
		if err != nil {
			return nil, err
		}
		out = append(out, Cell2D{Code: code, LevelMin: min(c.LevelMin, level)})
	}
	return Normalize2D(out), nil
}

// Downsample3D truncates every cell to level and returns the normalized
// result.
func Downsample3D(cells []Cell3D, level int) ([]Cell3D, error) {
	out := make([]Cell3D, 0, len(cells))
	for _, c := range cells {
		code, err := Truncate3D(c.Code, c.Level, level)
		if err != nil {
			return nil, err
		}
		out = append(out, Cell3D{Code: code, Level: level})
	}
	return Normalize3D(out), nil
}
