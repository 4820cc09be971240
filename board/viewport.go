package board

import (
	"sync"
)

const (
	ZoomStep = 1.1
	MinZoom  = 0.1
	MaxZoom  = 10.0

	// world units added around the visible rect before culling
	CullBuffer = 1000.0
)

// Viewport is the pan (screen offset of the world origin) and zoom of one client.
// world = (screen - pan) / scale
type Viewport struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

func DefaultViewport() Viewport {
	return Viewport{Scale: 1}
}

func (self Viewport) scale() float64 {
	if self.Scale <= 0 {
		return 1
	}
	return self.Scale
}

func (self Viewport) ToWorld(screen Point) Point {
	s := self.scale()
	return Point{X: (screen.X - self.X) / s, Y: (screen.Y - self.Y) / s}
}

func (self Viewport) ToScreen(world Point) Point {
	s := self.scale()
	return Point{X: world.X*s + self.X, Y: world.Y*s + self.Y}
}

func (self Viewport) PanBy(d Point) Viewport {
	return Viewport{X: self.X + d.X, Y: self.Y + d.Y, Scale: self.Scale}
}

// ZoomAbout zooms one step in (direction > 0) or out, keeping the world point under
// `screen` fixed. A step that would leave [MinZoom, MaxZoom] is refused.
func (self Viewport) ZoomAbout(screen Point, direction int) (Viewport, bool) {
	oldScale := self.scale()
	var newScale float64
	if 0 < direction {
		newScale = oldScale * ZoomStep
	} else {
		newScale = oldScale / ZoomStep
	}
	if newScale < MinZoom || MaxZoom < newScale {
		return self, false
	}
	world := self.ToWorld(screen)
	return Viewport{
		X:     screen.X - world.X*newScale,
		Y:     screen.Y - world.Y*newScale,
		Scale: newScale,
	}, true
}

// ZoomCenter zooms about the canvas center. Direction 0 resets the viewport.
func (self Viewport) ZoomCenter(canvas Size, direction int) Viewport {
	if direction == 0 {
		return DefaultViewport()
	}
	viewport, _ := self.ZoomAbout(Point{X: canvas.Width / 2, Y: canvas.Height / 2}, direction)
	return viewport
}

// Wheel zooms about the pointer when `zoom` (ctrl/cmd held), otherwise pans by the delta.
func (self Viewport) Wheel(pointer Point, deltaX float64, deltaY float64, zoom bool) Viewport {
	if zoom {
		direction := 1
		if 0 < deltaY {
			direction = -1
		}
		viewport, _ := self.ZoomAbout(pointer, direction)
		return viewport
	}
	return self.PanBy(Point{X: -deltaX, Y: -deltaY})
}

// VisibleRect is the world rect shown on a canvas, expanded by `buffer` world units.
func (self Viewport) VisibleRect(canvas Size, buffer float64) Rect {
	s := self.scale()
	return Rect{
		X:      -self.X / s,
		Y:      -self.Y / s,
		Width:  canvas.Width / s,
		Height: canvas.Height / s,
	}.Expand(buffer)
}

// CullShapes keeps the shapes whose bounds intersect the buffered visible rect,
// and every selected shape regardless of position. Order is preserved.
func CullShapes(shapes []*Shape, viewport Viewport, canvas Size, buffer float64, selected func(id string) bool) []*Shape {
	visible := viewport.VisibleRect(canvas, buffer)
	culled := make([]*Shape, 0, len(shapes))
	for _, shape := range shapes {
		if selected(shape.Id) || visible.Intersects(shape.Bounds()) {
			culled = append(culled, shape)
		}
	}
	return culled
}

type cullKey struct {
	docVersion       uint64
	viewport         Viewport
	canvas           Size
	selectionVersion uint64
}

// Culler memoizes `CullShapes` on the document version, viewport, canvas size, and selection version.
type Culler struct {
	buffer float64

	stateLock    sync.Mutex
	key          cullKey
	result       []*Shape
	hasResult    bool
	computeCount int
}

func NewCuller(buffer float64) *Culler {
	return &Culler{
		buffer: buffer,
	}
}

func (self *Culler) Cull(snapshot *DocSnapshot, viewport Viewport, canvas Size, selection *Selection) []*Shape {
	key := cullKey{
		docVersion:       snapshot.Version,
		viewport:         viewport,
		canvas:           canvas,
		selectionVersion: selection.Version(),
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.hasResult && self.key == key {
		return self.result
	}
	self.key = key
	self.result = CullShapes(snapshot.Shapes, viewport, canvas, self.buffer, selection.Has)
	self.hasResult = true
	self.computeCount += 1
	return self.result
}
