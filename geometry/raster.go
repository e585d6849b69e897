package geometry

import (
	"context"

	"github.com/geosot/gridindex/geo"
	"github.com/geosot/gridindex/gridcode"
)

// Rasterize returns one point per level cell that the shape occupies
// inside clip. Each point is the centre of its cell, so encoding it at
// level yields the cell's code on either side of the equator and prime
// meridian. Cells follow the degree and minute snapping of irregular levels.
func (s *Shape) Rasterize(ctx context.Context, level int, clip geo.Rect) ([]geo.Point, error) {
	if err := gridcode.ValidateLevel(level); err != nil {
		return nil, err
	}
	window := s.bounds.Intersect(clip)
	if window.Area() <= 0 {
		return nil, nil
	}

	r := rasterizer{shape: s, ctx: ctx, target: level, window: window}
	if err := r.descend(0, 0, false); err != nil {
		return nil, err
	}
	return r.out, nil
}

// FullyContains reports whether r lies entirely inside the shape.
func (s *Shape) FullyContains(_ context.Context, r geo.Rect) (bool, error) {
	return s.Relate(r) == Inside, nil
}

type rasterizer struct {
	shape  *Shape
	ctx    context.Context
	target int
	window geo.Rect
	out    []geo.Point
}

// descend walks the quadtree from the cell at (position, level). Once a
// cell is known to be inside the shape its descendants skip the edge tests.
func (r *rasterizer) descend(position uint64, level int, inside bool) error {
	cell := gridcode.CellRect(position, level)
	visible := cell.Intersect(r.window)
	if visible.Area() <= 0 {
		return nil
	}

	if !inside {
		switch r.shape.Relate(visible) {
		case Disjoint:
			return nil
		case Inside:
			inside = true
		}
	}

	if level == r.target {
		r.out = append(r.out, cell.CenterPoint())
		return nil
	}
	if err := r.ctx.Err(); err != nil {
		return err
	}
	for _, child := range gridcode.ChildPositions(position, level) {
		if err := r.descend(child, level+1, inside); err != nil {
			return err
		}
	}
	return nil
}
