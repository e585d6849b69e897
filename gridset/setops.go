package gridset

import (
	"fmt"

	"github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/gridcode"
)

// span returns the inclusive range of positional values under a cell.
func span(c gridcode.Code2D) (lo, hi uint64) {
	lo = c.Position()
	return lo, lo | ^gridcode.PrefixMask(c.Level())
}

// covers reports whether a is b or one of b's ancestors.
func covers(a, b gridcode.Code2D) bool {
	return a.Level() <= b.Level() && TruncatePosition(b.Position(), a.Level()) == a.Position()
}

// Overlap reports whether two normalized sets share an identical cell.
func Overlap(a, b []Cell2D) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := Compare2D(a[i].Code, b[j].Code); {
		case c == 0:
			return true
		case c < 0:
			i++
		default:
			j++
		}
	}
	return false
}

// SpanOverlap reports whether any cell of a is equal to, an ancestor of, or
// a descendant of a cell of b.
func SpanOverlap(a, b []Cell2D) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		alo, ahi := span(a[i].Code)
		blo, bhi := span(b[j].Code)
		switch {
		case ahi < blo:
			i++
		case bhi < alo:
			j++
		default:
			return true
		}
	}
	return false
}

// Contains reports whether every cell of b lies inside some cell of a.
// An empty b is contained in anything.
func Contains(a, b []Cell2D) bool {
	i := 0
	for _, cb := range b {
		pos := cb.Code.Position()
		for i < len(a) {
			if _, hi := span(a[i].Code); hi >= pos {
				break
			}
			i++
		}

		found := false
		for k := i; k < len(a) && a[k].Code.Position() <= pos; k++ {
			if covers(a[k].Code, cb.Code) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Overlap3D reports whether two normalized 3D sets share a 96-bit code,
// whatever levels the cells carry.
func Overlap3D(a, b []Cell3D) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch c := a[i].Code.Compare(b[j].Code); {
		case c == 0:
			return true
		case c < 0:
			i++
		default:
			j++
		}
	}
	return false
}

// levelIndex groups 3D codes by level for ancestor lookups.
type levelIndex map[int]map[gridcode.Code3D]struct{}

func indexByLevel(cells []Cell3D) levelIndex {
	idx := make(levelIndex)
	for _, c := range cells {
		m, ok := idx[c.Level]
		if !ok {
			m = make(map[gridcode.Code3D]struct{})
			idx[c.Level] = m
		}
		m[c.Code] = struct{}{}
	}
	return idx
}

// ancestorIn reports whether c or one of its ancestors is in idx.
func (idx levelIndex) ancestorIn(c Cell3D) (bool, error) {
	for level, codes := range idx {
		if level > c.Level {
			continue
		}
		t, err := Truncate3D(c.Code, c.Level, level)
		if err != nil {
			return false, err
		}
		if _, ok := codes[t]; ok {
			return true, nil
		}
	}
	return false, nil
}

// SpanOverlap3D is SpanOverlap for 3D sets. 3D ancestry goes through the
// altitude transform, so cells are matched by truncation per level rather
// than by code ranges.
func SpanOverlap3D(a, b []Cell3D) (bool, error) {
	ia, ib := indexByLevel(a), indexByLevel(b)
	for _, c := range b {
		if ok, err := ia.ancestorIn(c); ok || err != nil {
			return ok, err
		}
	}
	for _, c := range a {
		if ok, err := ib.ancestorIn(c); ok || err != nil {
			return ok, err
		}
	}
	return false, nil
}

// Contains3D reports whether every cell of b lies inside some cell of a.
func Contains3D(a, b []Cell3D) (bool, error) {
	ia := indexByLevel(a)
	for _, c := range b {
		ok, err := ia.ancestorIn(c)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// OverlapAny runs Overlap or Overlap3D depending on the operand types;
// a 2D set against a 3D set is a TypeMismatch.
func OverlapAny(a, b any) (bool, error) {
	switch x := a.(type) {
	case []Cell2D:
		if y, ok := b.([]Cell2D); ok {
			return Overlap(x, y), nil
		}
	case []Cell3D:
		if y, ok := b.([]Cell3D); ok {
			return Overlap3D(x, y), nil
		}
	default:
		return false, errors.TypeMismatch(fmt.Sprintf("unsupported set %T", a))
	}
	return false, errors.TypeMismatch(fmt.Sprintf("cannot combine %T with %T", a, b))
}

// SpanOverlapAny is OverlapAny for SpanOverlap and SpanOverlap3D.
func SpanOverlapAny(a, b any) (bool, error) {
	switch x := a.(type) {
	case []Cell2D:
		if y, ok := b.([]Cell2D); ok {
			return SpanOverlap(x, y), nil
		}
	case []Cell3D:
		if y, ok := b.([]Cell3D); ok {
			return SpanOverlap3D(x, y)
		}
	default:
		return false, errors.TypeMismatch(fmt.Sprintf("unsupported set %T", a))
	}
	return false, errors.TypeMismatch(fmt.Sprintf("cannot combine %T with %T", a, b))
}
