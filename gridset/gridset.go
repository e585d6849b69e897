// Package gridset orders, truncates and combines sets of grid codes.
//
// A set is a slice that has been sorted and deduplicated (Normalize2D,
// Normalize3D). Overlap, SpanOverlap and Contains expect normalized input.
//
// Two orders are exposed for 2D codes. Compare2D is value order: position
// first, then coarser levels before finer ones; every set operation uses
// it. IndexCompare2D is index-key order: position first, then finer levels
// before coarser ones, matching how index pages store keys.
package gridset

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/gridcode"
)

// Cell2D is a member of a 2D set. LevelMin is the coarsest level at which
// the cell is still a valid answer; it defaults to the code's own level.
type Cell2D struct {
	Code     gridcode.Code2D `json:"code"`
	LevelMin int             `json:"level_min"`
}

// NewCell2D wraps a code with LevelMin set to its level.
func NewCell2D(c gridcode.Code2D) Cell2D {
	return Cell2D{Code: c, LevelMin: c.Level()}
}

func (c Cell2D) Level() int { return c.Code.Level() }

// Record returns the binary record form of the cell.
func (c Cell2D) Record() gridcode.Record2D {
	return gridcode.Record2D{Level: c.Code.Level(), LevelMin: c.LevelMin, Code: c.Code}
}

// Cell3D is a member of a 3D set. A 3D code does not carry its level, so
// the cell does.
type Cell3D struct {
	Code  gridcode.Code3D `json:"code"`
	Level int             `json:"level"`
}

// Record returns the binary record form of the cell.
func (c Cell3D) Record() gridcode.Record3D {
	return gridcode.Record3D{Level: c.Level, Code: c.Code}
}

func (c Cell3D) String() string {
	return gridcode.Code3DToText(c.Code, c.Level)
}

// Compare2D orders codes by position, then by level ascending.
func Compare2D(a, b gridcode.Code2D) int {
	if c := cmp.Compare(a.Position(), b.Position()); c != 0 {
		return c
	}
	return cmp.Compare(a.Level(), b.Level())
}

// IndexCompare2D orders codes by position, then by level descending.
func IndexCompare2D(a, b gridcode.Code2D) int {
	if c := cmp.Compare(a.Position(), b.Position()); c != 0 {
		return c
	}
	return cmp.Compare(b.Level(), a.Level())
}

// Compare3D orders cells by their 96-bit code, then by level ascending.
func Compare3D(a, b Cell3D) int {
	if c := a.Code.Compare(b.Code); c != 0 {
		return c
	}
	return cmp.Compare(a.Level, b.Level)
}

// Less and the helpers below agree with Compare2D.
func Less(a, b gridcode.Code2D) bool { return Compare2D(a, b) < 0 }
func LessOrEqual(a, b gridcode.Code2D) bool { return Compare2D(a, b) <= 0 }
func Equal(a, b gridcode.Code2D) bool { return a == b }
func Greater(a, b gridcode.Code2D) bool { return Compare2D(a, b) > 0 }
func GreaterOrEqual(a, b gridcode.Code2D) bool { return Compare2D(a, b) >= 0 }

// CompareAny compares two codes of unknown dimension. Accepted operands are
// Code2D, Cell2D and Cell3D; mixing dimensions is a TypeMismatch.
func CompareAny(a, b any) (int, error) {
	switch x := a.(type) {
	case gridcode.Code2D:
		if y, ok := as2D(b); ok {
			return Compare2D(x, y), nil
		}
	case Cell2D:
		if y, ok := as2D(b); ok {
			return Compare2D(x.Code, y), nil
		}
	case Cell3D:
		if y, ok := b.(Cell3D); ok {
			return Compare3D(x, y), nil
		}
	default:
		return 0, errors.TypeMismatch(fmt.Sprintf("unsupported operand %T", a))
	}
	return 0, errors.TypeMismatch(fmt.Sprintf("cannot compare %T with %T", a, b))
}

func as2D(v any) (gridcode.Code2D, bool) {
	switch x := v.(type) {
	case gridcode.Code2D:
		return x, true
	case Cell2D:
		return x.Code, true
	}
	return 0, false
}

// Sort2D sorts cells in value order.
func Sort2D(cells []Cell2D) {
	slices.SortFunc(cells, func(a, b Cell2D) int { return Compare2D(a.Code, b.Code) })
}

// SortIndex2D sorts cells in index-key order.
func SortIndex2D(cells []Cell2D) {
	slices.SortFunc(cells, func(a, b Cell2D) int { return IndexCompare2D(a.Code, b.Code) })
}

// Sort3D sorts cells by Compare3D.
func Sort3D(cells []Cell3D) {
	slices.SortFunc(cells, Compare3D)
}

// Dedup2D removes adjacent equal cells in place and returns the shortened
// slice. Merged duplicates keep the smallest LevelMin.
func Dedup2D(cells []Cell2D) []Cell2D {
	if len(cells) < 2 {
		return cells
	}
	n := 1
	for _, c := range cells[1:] {
		last := &cells[n-1]
		if c.Code == last.Code {
			last.LevelMin = min(last.LevelMin, c.LevelMin)
			continue
		}
		cells[n] = c
		n++
	}
	return cells[:n]
}

// Dedup3D removes adjacent cells with equal 96-bit codes in place. The
// level is not part of the comparison; on sorted input the coarsest level
// of a run is the one kept.
func Dedup3D(cells []Cell3D) []Cell3D {
	return slices.CompactFunc(cells, func(a, b Cell3D) bool { return a.Code == b.Code })
}

// Normalize2D sorts and deduplicates cells.
func Normalize2D(cells []Cell2D) []Cell2D {
	Sort2D(cells)
	return Dedup2D(cells)
}

// Normalize3D sorts and deduplicates cells.
func Normalize3D(cells []Cell3D) []Cell3D {
	Sort3D(cells)
	return Dedup3D(cells)
}
