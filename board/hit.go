package board

import (
	"math"
)

// thin strokes are hit within this many screen pixels
const HitWidth = 15.0

// Surface is the rendering surface handle used by tools for hit testing.
type Surface interface {
	// HitTest returns the id of the top-most shape under a screen point.
	HitTest(screen Point) (string, bool)
}

// ShapeSurface hit tests shape geometry directly. It sees the shapes that are rendered,
// which are read at call time.
type ShapeSurface struct {
	shapes   func() []*Shape
	viewport func() Viewport
	hitWidth float64
}

func NewShapeSurface(shapes func() []*Shape, viewport func() Viewport) *ShapeSurface {
	return &ShapeSurface{
		shapes:   shapes,
		viewport: viewport,
		hitWidth: HitWidth,
	}
}

func (self *ShapeSurface) HitTest(screen Point) (string, bool) {
	viewport := self.viewport()
	world := viewport.ToWorld(screen)
	// screen pixels to world units
	tolerance := self.hitWidth / 2 / viewport.scale()

	shapes := self.shapes()
	// paint order is bottom to top
	for i := len(shapes) - 1; 0 <= i; i -= 1 {
		if ShapeContainsPoint(shapes[i], world, tolerance) {
			return shapes[i].Id, true
		}
	}
	return "", false
}

// ShapeContainsPoint tests a world point against the shape outline widened by `tolerance`
// and its stroke width. Filled shapes and text boxes also hit on their interior.
func ShapeContainsPoint(shape *Shape, p Point, tolerance float64) bool {
	reach := tolerance + shape.StrokeWidth/2
	if !shape.Bounds().Expand(reach).Contains(p) {
		return false
	}

	var outline []Point
	closed := true
	interior := true
	switch shape.Type {
	case ShapeTypeStroke:
		outline = shape.WorldPoints()
		closed = shape.Closed
		interior = shape.Closed && isFilled(shape.Fill)
	default:
		size := shape.LocalSize()
		m := shape.Transform()
		for _, corner := range (Rect{Width: size.Width, Height: size.Height}).Corners() {
			outline = append(outline, m.Apply(corner))
		}
	}

	switch len(outline) {
	case 0:
		return false
	case 1:
		return outline[0].Distance(p) <= reach
	}
	if interior && PolygonContains(outline, p) {
		return true
	}
	d := math.Inf(1)
	for i := 0; i+1 < len(outline); i += 1 {
		d = math.Min(d, PointSegmentDistance(p, outline[i], outline[i+1]))
	}
	if closed {
		d = math.Min(d, PointSegmentDistance(p, outline[len(outline)-1], outline[0]))
	}
	return d <= reach
}

func isFilled(fill string) bool {
	return fill != "" && fill != TransparentFill
}
