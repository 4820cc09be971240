package board

import (
	"math"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (self Point) Add(b Point) Point {
	return Point{X: self.X + b.X, Y: self.Y + b.Y}
}

func (self Point) Sub(b Point) Point {
	return Point{X: self.X - b.X, Y: self.Y - b.Y}
}

func (self Point) Scale(s float64) Point {
	return Point{X: self.X * s, Y: self.Y * s}
}

func (self Point) Distance(b Point) float64 {
	return math.Hypot(self.X-b.X, self.Y-b.Y)
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an axis aligned box with a top-left origin.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RectFromPoints normalizes two corners so that x/y is always the top-left.
func RectFromPoints(a Point, b Point) Rect {
	return Rect{
		X:      math.Min(a.X, b.X),
		Y:      math.Min(a.Y, b.Y),
		Width:  math.Abs(b.X - a.X),
		Height: math.Abs(b.Y - a.Y),
	}
}

// BoundsOf returns the bounding box of a set of points. ok is false for an empty set.
func BoundsOf(points []Point) (bounds Rect, ok bool) {
	if len(points) == 0 {
		return
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, true
}

func (self Rect) Right() float64 {
	return self.X + self.Width
}

func (self Rect) Bottom() float64 {
	return self.Y + self.Height
}

func (self Rect) Center() Point {
	return Point{X: self.X + self.Width/2, Y: self.Y + self.Height/2}
}

func (self Rect) Diagonal() float64 {
	return math.Hypot(self.Width, self.Height)
}

func (self Rect) Corners() [4]Point {
	return [4]Point{
		{X: self.X, Y: self.Y},
		{X: self.Right(), Y: self.Y},
		{X: self.Right(), Y: self.Bottom()},
		{X: self.X, Y: self.Bottom()},
	}
}

// Contains includes the edges.
func (self Rect) Contains(p Point) bool {
	return self.X <= p.X && p.X <= self.Right() && self.Y <= p.Y && p.Y <= self.Bottom()
}

// Intersects includes touching edges.
func (self Rect) Intersects(b Rect) bool {
	return !(self.Right() < b.X ||
		b.Right() < self.X ||
		self.Bottom() < b.Y ||
		b.Bottom() < self.Y)
}

func (self Rect) Expand(d float64) Rect {
	return Rect{
		X:      self.X - d,
		Y:      self.Y - d,
		Width:  self.Width + 2*d,
		Height: self.Height + 2*d,
	}
}

// Matrix is a 2d affine transform:
//
//	x' = A*x + C*y + E
//	y' = B*x + D*y + F
type Matrix struct {
	A, B, C, D, E, F float64
}

// TransformMatrix is translate, then rotate (degrees), then scale, applied to shape local coordinates.
func TransformMatrix(x float64, y float64, rotation float64, scaleX float64, scaleY float64) Matrix {
	rad := rotation * math.Pi / 180
	cos := math.Cos(rad)
	sin := math.Sin(rad)
	return Matrix{
		A: cos * scaleX,
		B: sin * scaleX,
		C: -sin * scaleY,
		D: cos * scaleY,
		E: x,
		F: y,
	}
}

func (self Matrix) Apply(p Point) Point {
	return Point{
		X: self.A*p.X + self.C*p.Y + self.E,
		Y: self.B*p.X + self.D*p.Y + self.F,
	}
}

// Invert returns false for a degenerate transform (zero scale).
func (self Matrix) Invert() (Matrix, bool) {
	det := self.A*self.D - self.B*self.C
	if det == 0 {
		return Matrix{}, false
	}
	return Matrix{
		A: self.D / det,
		B: -self.B / det,
		C: -self.C / det,
		D: self.A / det,
		E: (self.C*self.F - self.D*self.E) / det,
		F: (self.B*self.E - self.A*self.F) / det,
	}, true
}

// SegmentIntersectsRect is true when any point of segment ab is inside the rect or on its edges.
// A segment lying along an edge, or touching only a corner, intersects.
func SegmentIntersectsRect(a Point, b Point, rect Rect) bool {
	// clip the segment parameter t in [0, 1] against each edge
	t0 := float64(0)
	t1 := float64(1)
	d := b.Sub(a)
	clip := func(p float64, q float64) bool {
		// p * t <= q
		if p == 0 {
			return 0 <= q
		}
		r := q / p
		if p < 0 {
			if t1 < r {
				return false
			}
			t0 = math.Max(t0, r)
		} else {
			if r < t0 {
				return false
			}
			t1 = math.Min(t1, r)
		}
		return true
	}
	return clip(-d.X, a.X-rect.X) &&
		clip(d.X, rect.Right()-a.X) &&
		clip(-d.Y, a.Y-rect.Y) &&
		clip(d.Y, rect.Bottom()-a.Y)
}

func PointSegmentDistance(p Point, a Point, b Point) float64 {
	ab := b.Sub(a)
	lengthSquared := ab.X*ab.X + ab.Y*ab.Y
	if lengthSquared == 0 {
		return p.Distance(a)
	}
	t := ((p.X-a.X)*ab.X + (p.Y-a.Y)*ab.Y) / lengthSquared
	t = math.Max(0, math.Min(1, t))
	return p.Distance(a.Add(ab.Scale(t)))
}

// PolygonContains is an even-odd test. The polygon is implicitly closed.
func PolygonContains(polygon []Point, p Point) bool {
	inside := false
	for i, j := 0, len(polygon)-1; i < len(polygon); j, i = i, i+1 {
		a := polygon[i]
		b := polygon[j]
		if (a.Y > p.Y) != (b.Y > p.Y) && p.X < (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y)+a.X {
			inside = !inside
		}
	}
	return inside
}

// PointsOf pairs a flat coordinate sequence. A trailing odd value is ignored.
func PointsOf(coords []float64) []Point {
	points := make([]Point, 0, len(coords)/2)
	for i := 0; i+1 < len(coords); i += 2 {
		points = append(points, Point{X: coords[i], Y: coords[i+1]})
	}
	return points
}

func FlattenPoints(points []Point) []float64 {
	coords := make([]float64, 0, 2*len(points))
	for _, p := range points {
		coords = append(coords, p.X, p.Y)
	}
	return coords
}
