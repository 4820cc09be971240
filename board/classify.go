package board

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type ShapeClass string

const (
	ShapeClassCircle    ShapeClass = "circle"
	ShapeClassSquare    ShapeClass = "square"
	ShapeClassRectangle ShapeClass = "rectangle"
	ShapeClassOval      ShapeClass = "oval"
	ShapeClassTriangle  ShapeClass = "triangle"
)

const (
	// at least 5 points
	ClassifyMinCoords = 10
	// start to end gap relative to the bbox diagonal
	ClassifyClosedGap = 0.3
	// points on a synthesized oval
	OvalSteps = 64
)

// ShapeStats are the features of a closed freehand path.
type ShapeStats struct {
	Aspect float64 `json:"aspect"`
	// population std dev over mean of the distances to the bbox center
	Variance float64 `json:"variance"`
	// share of the path length that runs horizontal or vertical
	AxisScore float64 `json:"axisScore"`
	// polygon area over bbox area
	Solidity float64 `json:"solidity"`
	// summed distance of the bbox corners to the nearest point, over the diagonal
	CornerScore float64 `json:"cornerScore"`
}

type Classification struct {
	Class ShapeClass `json:"class"`
	Stats ShapeStats `json:"stats"`
}

// pathFeatures holds the path split into axes plus its bbox
type pathFeatures struct {
	xs     []float64
	ys     []float64
	bounds Rect
}

func newPathFeatures(coords []float64) *pathFeatures {
	n := len(coords) / 2
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i += 1 {
		xs[i] = coords[2*i]
		ys[i] = coords[2*i+1]
	}
	minX, maxX := floats.Min(xs), floats.Max(xs)
	minY, maxY := floats.Min(ys), floats.Max(ys)
	return &pathFeatures{
		xs: xs,
		ys: ys,
		bounds: Rect{
			X:      minX,
			Y:      minY,
			Width:  maxX - minX,
			Height: maxY - minY,
		},
	}
}

func (self *pathFeatures) len() int {
	return len(self.xs)
}

func (self *pathFeatures) point(i int) Point {
	return Point{X: self.xs[i], Y: self.ys[i]}
}

// distances from each point to p
func (self *pathFeatures) distances(p Point) []float64 {
	distances := make([]float64, self.len())
	for i := range distances {
		distances[i] = math.Hypot(self.xs[i]-p.X, self.ys[i]-p.Y)
	}
	return distances
}

func (self *pathFeatures) radiusVariance() float64 {
	mean, std := stat.PopMeanStdDev(self.distances(self.bounds.Center()), nil)
	if mean == 0 {
		return 0
	}
	return std / mean
}

// the final segment is not counted
func (self *pathFeatures) axisScore() float64 {
	var axisLen, totalLen float64
	for i := 0; i+2 < self.len(); i += 1 {
		dx := math.Abs(self.xs[i+1] - self.xs[i])
		dy := math.Abs(self.ys[i+1] - self.ys[i])
		segmentLen := math.Hypot(dx, dy)
		if segmentLen == 0 {
			continue
		}
		if 3*dy < dx || 3*dx < dy {
			axisLen += segmentLen
		}
		totalLen += segmentLen
	}
	if totalLen == 0 {
		return 0
	}
	return axisLen / totalLen
}

// shoelace area of the path closed back to its start
func (self *pathFeatures) area() float64 {
	n := self.len()
	var area float64
	for i := 0; i < n; i += 1 {
		j := (i + 1) % n
		area += self.xs[i]*self.ys[j] - self.xs[j]*self.ys[i]
	}
	return math.Abs(area / 2)
}

func (self *pathFeatures) cornerScore() float64 {
	corners := self.bounds.Corners()
	nearest := make([]float64, len(corners))
	for i, corner := range corners {
		nearest[i] = floats.Min(self.distances(corner))
	}
	return floats.Sum(nearest) / self.bounds.Diagonal()
}

// Classify recognizes a closed freehand path as one of the primitive classes.
// ok is false for short, open, or degenerate paths.
func Classify(coords []float64) (classification *Classification, ok bool) {
	if len(coords) < ClassifyMinCoords {
		return
	}
	features := newPathFeatures(coords)
	bounds := features.bounds
	if bounds.Width == 0 || bounds.Height == 0 {
		// a line has no aspect or solidity
		return
	}
	diagonal := bounds.Diagonal()
	gap := features.point(0).Distance(features.point(features.len() - 1))
	if ClassifyClosedGap*diagonal <= gap {
		return
	}

	stats := ShapeStats{
		Aspect:      bounds.Width / bounds.Height,
		Variance:    features.radiusVariance(),
		AxisScore:   features.axisScore(),
		Solidity:    features.area() / (bounds.Width * bounds.Height),
		CornerScore: features.cornerScore(),
	}
	classification = &Classification{
		Class: ClassifyStats(stats),
		Stats: stats,
	}
	ok = true
	return
}

// ClassifyStats is the decision tree over the path features.
func ClassifyStats(stats ShapeStats) ShapeClass {
	squarish := func(low float64, high float64) bool {
		return low < stats.Aspect && stats.Aspect < high
	}
	boxy := func() ShapeClass {
		if squarish(0.8, 1.25) {
			return ShapeClassSquare
		}
		return ShapeClassRectangle
	}

	if 0.8 < stats.AxisScore {
		return boxy()
	}

	if stats.Solidity < 0.65 {
		if stats.CornerScore < 0.9 {
			return ShapeClassTriangle
		}
		// a diamond
		if squarish(0.85, 1.15) {
			return ShapeClassSquare
		}
		return ShapeClassRectangle
	}

	var round bool
	switch {
	case 0.6 < stats.AxisScore:
		round = false
	case stats.AxisScore < 0.35:
		round = true
	default:
		round = 0.26 < stats.CornerScore
	}
	if !round {
		return boxy()
	}
	if squarish(0.8, 1.25) {
		return ShapeClassCircle
	}
	return ShapeClassOval
}

// Synthesize returns the clean closed outline for a classified path, in world coordinates.
func Synthesize(coords []float64, classification *Classification) []float64 {
	features := newPathFeatures(coords)
	center := features.bounds.Center()
	width := features.bounds.Width
	height := features.bounds.Height

	if classification.Class == ShapeClassTriangle {
		return FlattenPoints(features.triangleVertices())
	}

	// radians
	var rotation float64
	if classification.Stats.AxisScore <= 0.8 && classification.Class != ShapeClassCircle {
		rotation = features.rotation(center)
		unrotated := features.rotated(-rotation, center)
		width = unrotated.bounds.Width
		height = unrotated.bounds.Height
	}

	var outline []Point
	switch classification.Class {
	case ShapeClassSquare, ShapeClassRectangle:
		if classification.Class == ShapeClassSquare {
			size := (width + height) / 2
			width, height = size, size
		}
		hw, hh := width/2, height/2
		outline = []Point{
			{X: -hw, Y: -hh},
			{X: hw, Y: -hh},
			{X: hw, Y: hh},
			{X: -hw, Y: hh},
		}
	case ShapeClassCircle, ShapeClassOval:
		if classification.Class == ShapeClassCircle {
			size := (width + height) / 2
			width, height = size, size
			rotation = 0
		}
		rx, ry := width/2, height/2
		outline = make([]Point, OvalSteps)
		for i := range outline {
			theta := 2 * math.Pi * float64(i) / OvalSteps
			outline[i] = Point{X: rx * math.Cos(theta), Y: ry * math.Sin(theta)}
		}
	}

	cos, sin := math.Cos(rotation), math.Sin(rotation)
	for i, p := range outline {
		outline[i] = Point{
			X: center.X + p.X*cos - p.Y*sin,
			Y: center.Y + p.X*sin + p.Y*cos,
		}
	}
	return FlattenPoints(outline)
}

// principal axis angle about `center`, in radians
func (self *pathFeatures) rotation(center Point) float64 {
	dxs := append([]float64(nil), self.xs...)
	dys := append([]float64(nil), self.ys...)
	floats.AddConst(-center.X, dxs)
	floats.AddConst(-center.Y, dys)
	covXY := floats.Dot(dxs, dys)
	varX := floats.Dot(dxs, dxs)
	varY := floats.Dot(dys, dys)
	return 0.5 * math.Atan2(2*covXY, varX-varY)
}

func (self *pathFeatures) rotated(angle float64, center Point) *pathFeatures {
	cos, sin := math.Cos(angle), math.Sin(angle)
	coords := make([]float64, 0, 2*self.len())
	for i := 0; i < self.len(); i += 1 {
		x := self.xs[i] - center.X
		y := self.ys[i] - center.Y
		coords = append(coords, center.X+x*cos-y*sin, center.Y+x*sin+y*cos)
	}
	return newPathFeatures(coords)
}

// the farthest point from the center, the farthest point from that,
// then the farthest point from the line through both
func (self *pathFeatures) triangleVertices() []Point {
	a := self.point(floats.MaxIdx(self.distances(self.bounds.Center())))
	b := self.point(floats.MaxIdx(self.distances(a)))
	lineDistances := make([]float64, self.len())
	for i := range lineDistances {
		lineDistances[i] = math.Abs((b.Y-a.Y)*self.xs[i] - (b.X-a.X)*self.ys[i] + b.X*a.Y - b.Y*a.X)
	}
	c := self.point(floats.MaxIdx(lineDistances))
	return []Point{a, b, c}
}

// Recognize turns a finished magic path into a committed shape.
// An unrecognized path is kept as a smooth freehand stroke.
func Recognize(id string, coords []float64, options *ToolOptions) (*Shape, *Classification) {
	classification, ok := Classify(coords)
	if !ok {
		shape := NewStrokeShape(id, coords, options)
		shape.Magic = true
		return shape, nil
	}
	shape := NewStrokeShape(id, Synthesize(coords, classification), options)
	shape.Magic = true
	shape.Closed = true
	shape.Tension = 0
	shape.Fill = options.Fill
	return shape, classification
}
