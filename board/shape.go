package board

import (
	"encoding/json"
	"math"
	"strings"

	"golang.org/x/exp/slices"
)

type ShapeType string

const (
	ShapeTypeStroke    ShapeType = "stroke"
	ShapeTypeRectangle ShapeType = "rectangle"
	ShapeTypeText      ShapeType = "text"
)

func (self ShapeType) Valid() bool {
	switch self {
	case ShapeTypeStroke, ShapeTypeRectangle, ShapeTypeText:
		return true
	default:
		return false
	}
}

type StrokeStyle string

const (
	StrokeStyleSolid  StrokeStyle = "solid"
	StrokeStyleDashed StrokeStyle = "dashed"
	StrokeStyleDotted StrokeStyle = "dotted"
	StrokeStyleWobbly StrokeStyle = "wobbly"
)

const (
	DefaultStrokeColor = "#000000"
	DefaultStrokeWidth = 4.0
	DefaultFontFamily  = "sans-serif"
	TransparentFill    = "transparent"
)

// Shape is one committed record of the document.
// A write always replaces the whole record.
// Only `Type` is interpreted by the core. Rendering matches on it.
type Shape struct {
	Id   string    `json:"id"`
	Type ShapeType `json:"type"`

	// stroke, in shape local coordinates
	Points  []float64 `json:"points,omitempty"`
	Closed  bool      `json:"closed,omitempty"`
	Tension float64   `json:"tension,omitempty"`
	Magic   bool      `json:"isMagic,omitempty"`

	// rectangle, text
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`

	// text
	Text       string  `json:"text,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	FontFamily string  `json:"fontFamily,omitempty"`
	Align      string  `json:"align,omitempty"`

	StrokeColor string      `json:"strokeColor,omitempty"`
	StrokeWidth float64     `json:"strokeWidth,omitempty"`
	StrokeStyle StrokeStyle `json:"strokeType,omitempty"`
	Fill        string      `json:"fill,omitempty"`

	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation float64 `json:"rotation,omitempty"`
	// zero is read as 1
	ScaleX float64 `json:"scaleX,omitempty"`
	ScaleY float64 `json:"scaleY,omitempty"`

	BBox *Rect `json:"bbox,omitempty"`
}

func NewStrokeShape(id string, points []float64, options *ToolOptions) *Shape {
	return &Shape{
		Id:          id,
		Type:        ShapeTypeStroke,
		Points:      points,
		Tension:     0.5,
		StrokeColor: options.StrokeColor,
		StrokeWidth: options.StrokeWidth,
		StrokeStyle: options.StrokeStyle,
		ScaleX:      1,
		ScaleY:      1,
	}
}

func NewRectangleShape(id string, rect Rect, options *ToolOptions) *Shape {
	fill := options.Fill
	if fill == "" {
		fill = TransparentFill
	}
	return &Shape{
		Id:          id,
		Type:        ShapeTypeRectangle,
		X:           rect.X,
		Y:           rect.Y,
		Width:       rect.Width,
		Height:      rect.Height,
		StrokeColor: options.StrokeColor,
		StrokeWidth: options.StrokeWidth,
		StrokeStyle: options.StrokeStyle,
		Fill:        fill,
		ScaleX:      1,
		ScaleY:      1,
	}
}

func ParseShape(shapeJson []byte) (*Shape, error) {
	var shape Shape
	if err := json.Unmarshal(shapeJson, &shape); err != nil {
		return nil, err
	}
	return &shape, nil
}

func (self *Shape) Json() []byte {
	shapeJson, err := json.Marshal(self)
	if err != nil {
		// all fields are plain values
		panic(err)
	}
	return shapeJson
}

// Clone is a deep copy. Edits always go through a clone followed by a whole record put.
func (self *Shape) Clone() *Shape {
	clone := *self
	clone.Points = slices.Clone(self.Points)
	if self.BBox != nil {
		bbox := *self.BBox
		clone.BBox = &bbox
	}
	return &clone
}

func (self *Shape) scale() (float64, float64) {
	scaleX := self.ScaleX
	if scaleX == 0 {
		scaleX = 1
	}
	scaleY := self.ScaleY
	if scaleY == 0 {
		scaleY = 1
	}
	return scaleX, scaleY
}

// Transform maps shape local coordinates to world coordinates.
func (self *Shape) Transform() Matrix {
	scaleX, scaleY := self.scale()
	return TransformMatrix(self.X, self.Y, self.Rotation, scaleX, scaleY)
}

// WorldPoints returns the stroke points in world coordinates.
func (self *Shape) WorldPoints() []Point {
	m := self.Transform()
	points := PointsOf(self.Points)
	for i, p := range points {
		points[i] = m.Apply(p)
	}
	return points
}

// LocalSize is the unscaled size of a rectangle or text box.
func (self *Shape) LocalSize() Size {
	switch self.Type {
	case ShapeTypeText:
		fontSize := self.FontSize
		if fontSize == 0 {
			fontSize = 24
		}
		lineCount := 1 + strings.Count(self.Text, "\n")
		return Size{Width: self.Width, Height: float64(lineCount) * fontSize}
	default:
		return Size{Width: self.Width, Height: self.Height}
	}
}

// Bounds is the world bounding box including the stroke width.
// The cached `BBox` is used when present.
func (self *Shape) Bounds() Rect {
	if self.BBox != nil {
		return *self.BBox
	}
	return self.computeBounds()
}

func (self *Shape) computeBounds() Rect {
	var corners []Point
	switch self.Type {
	case ShapeTypeStroke:
		corners = self.WorldPoints()
	default:
		size := self.LocalSize()
		local := Rect{Width: size.Width, Height: size.Height}
		m := self.Transform()
		for _, corner := range local.Corners() {
			corners = append(corners, m.Apply(corner))
		}
	}
	bounds, ok := BoundsOf(corners)
	if !ok {
		return Rect{X: self.X, Y: self.Y}
	}
	if self.Type != ShapeTypeText {
		bounds = bounds.Expand(self.StrokeWidth / 2)
	}
	return bounds
}

// CacheBounds refreshes `BBox` from the geometry. Call after any geometry or transform edit.
func (self *Shape) CacheBounds() *Shape {
	bounds := self.computeBounds()
	self.BBox = &bounds
	return self
}

// Moved returns a copy translated by d in world space.
func (self *Shape) Moved(d Point) *Shape {
	moved := self.Clone()
	moved.X += d.X
	moved.Y += d.Y
	return moved.CacheBounds()
}

// TransformEnd applies a transform gesture result. Text boxes fold the scale into
// width and font size so text does not render stretched.
func (self *Shape) TransformEnd(x float64, y float64, rotation float64, scaleX float64, scaleY float64) *Shape {
	next := self.Clone()
	next.X = x
	next.Y = y
	next.Rotation = rotation
	if self.Type == ShapeTypeText {
		next.Width = math.Max(20, self.Width*scaleX)
		next.FontSize = math.Max(12, self.FontSize*scaleY)
		next.ScaleX = 1
		next.ScaleY = 1
	} else {
		next.ScaleX = scaleX
		next.ScaleY = scaleY
	}
	return next.CacheBounds()
}
