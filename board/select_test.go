package board

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestClipboardRoundTrip(t *testing.T) {
	store := NewDocStore(NewId())
	selection := NewSelection()
	clipboard := NewMemoryClipboard()

	stroke := NewStrokeShape("stroke", []float64{0, 0, 50, 50}, DefaultToolOptions())
	store.Put(stroke.Id, stroke)
	store.Put("rect", testShape("rect", 100))
	store.Put("unselected", testShape("unselected", 300))
	selection.Set("stroke", "rect")

	n, err := CopySelection(store, selection, clipboard)
	assert.Equal(t, err, nil)
	assert.Equal(t, n, 2)

	events := []*DocEvent{}
	store.AddObserver(func(event *DocEvent) {
		events = append(events, event)
	})

	ids := PasteClipboard(store, selection, clipboard)
	assert.Equal(t, len(ids), 2)
	assert.Equal(t, len(events), 1)
	assert.Equal(t, len(store.GetAll()), 5)
	assert.NotEqual(t, ids[0], ids[1])
	for _, id := range ids {
		assert.NotEqual(t, id, "stroke")
		assert.NotEqual(t, id, "rect")
	}
	assert.Equal(t, selection.Len(), 2)
	for _, id := range ids {
		assert.Equal(t, selection.Has(id), true)
	}

	pasted := map[ShapeType]*Shape{}
	for _, id := range ids {
		shape, ok := store.Get(id)
		assert.Equal(t, ok, true)
		assert.Equal(t, shape.Id, id)
		pasted[shape.Type] = shape
	}
	assert.Equal(t, pasted[ShapeTypeRectangle].X, float64(120))
	assert.Equal(t, pasted[ShapeTypeRectangle].Y, float64(120))
	assert.Equal(t, pasted[ShapeTypeStroke].Points, []float64{0, 0, 50, 50})
	assert.Equal(t, pasted[ShapeTypeStroke].WorldPoints(), []Point{{X: 20, Y: 20}, {X: 70, Y: 70}})

	// pasting again makes another set of copies
	again := PasteClipboard(store, selection, clipboard)
	assert.Equal(t, len(again), 2)
	assert.Equal(t, len(store.GetAll()), 7)
}

func TestPasteMalformed(t *testing.T) {
	store := NewDocStore(NewId())
	selection := NewSelection()
	selection.Set("kept")
	clipboard := NewMemoryClipboard()

	validJson, _ := json.Marshal(testShape("a", 0))
	for _, text := range []string{
		"",
		"not json",
		"{}",
		"[]",
		`[{"id": "a", "type": "circle"}]`,
		// one bad entry rejects the whole paste
		"[" + string(validJson) + `, {"type": 5}]`,
		"[" + string(validJson) + `, null]`,
	} {
		clipboard.WriteText(text)
		assert.Equal(t, len(PasteClipboard(store, selection, clipboard)), 0)
	}
	assert.Equal(t, len(store.GetAll()), 0)
	assert.Equal(t, selection.Ids(), []string{"kept"})
}

func TestDeleteSelection(t *testing.T) {
	store := NewDocStore(NewId())
	selection := NewSelection()
	store.Put("a", testShape("a", 0))
	store.Put("b", testShape("b", 0))
	store.Put("c", testShape("c", 0))
	selection.Set("a", "b", "gone")

	events := 0
	store.AddObserver(func(event *DocEvent) {
		events += 1
	})
	assert.Equal(t, DeleteSelection(store, selection), 2)
	assert.Equal(t, events, 1)
	assert.Equal(t, selection.Len(), 0)
	assert.Equal(t, len(store.GetAll()), 1)
	assert.Equal(t, DeleteSelection(store, selection), 0)
}

func TestSelectionChanges(t *testing.T) {
	selection := NewSelection()
	changes := [][]string{}
	selection.AddChangeCallback(func(ids []string) {
		changes = append(changes, ids)
	})

	selection.Set("b", "a")
	// no change is not a change
	selection.Set("a", "b")
	selection.Add("a")
	selection.Remove("c")
	assert.Equal(t, changes, [][]string{{"a", "b"}})
	assert.Equal(t, selection.Version(), uint64(1))

	selection.Click("c", false)
	assert.Equal(t, selection.Ids(), []string{"c"})
	selection.Click("a", true)
	assert.Equal(t, selection.Ids(), []string{"a", "c"})
	selection.Click("c", true)
	assert.Equal(t, selection.Ids(), []string{"a"})

	selection.ApplyMarquee([]string{"x", "y"}, true)
	assert.Equal(t, selection.Ids(), []string{"a", "x", "y"})
	selection.ApplyMarquee([]string{"z"}, false)
	assert.Equal(t, selection.Ids(), []string{"z"})
	selection.ApplyMarquee([]string{}, false)
	assert.Equal(t, selection.Len(), 0)
}

func TestMarqueeHits(t *testing.T) {
	options := DefaultToolOptions()
	shapes := []*Shape{
		// a long diagonal with its vertices far outside the box
		NewStrokeShape("diagonal", []float64{-1000, -1000, 1000, 1000}, options),
		// a vertex inside
		NewStrokeShape("vertex", []float64{5, 5, 500, -500}, options),
		// bounding box overlaps but the path misses
		NewStrokeShape("miss", []float64{-100, 60, 60, -100}, options),
		// only the closing segment crosses
		{Id: "closed", Type: ShapeTypeStroke, Points: []float64{-50, 10, -50, -50, 50, -50, 50, 10}, Closed: true},
		// bounding box shapes overlap by box
		testShape("rect", 15),
		testShape("far", 100),
	}
	box := Rect{X: 0, Y: 0, Width: 20, Height: 20}
	assert.Equal(t, MarqueeHits(shapes, box), []string{"diagonal", "vertex", "closed", "rect"})

	// the box edges are part of the box
	edges := []*Shape{
		// along the top edge through both corners
		NewStrokeShape("top", []float64{-50, 0, 50, 0}, options),
		// along the right edge through both corners
		NewStrokeShape("right", []float64{20, -50, 20, 50}, options),
		// touches only the top left corner
		NewStrokeShape("corner", []float64{-10, 10, 10, -10}, options),
		// ends on the bottom edge
		NewStrokeShape("end", []float64{10, 60, 10, 20}, options),
		// parallel to the top edge just outside
		NewStrokeShape("outside", []float64{-50, -1, 50, -1}, options),
	}
	assert.Equal(t, MarqueeHits(edges, box), []string{"top", "right", "corner", "end"})

	// the stroke is tested in its transformed space
	moved := NewStrokeShape("moved", []float64{0, 0, 10, 0}, options)
	moved.X = 200
	moved.Y = 200
	assert.Equal(t, ShapeIntersectsRect(moved, box), false)
	assert.Equal(t, ShapeIntersectsRect(moved, Rect{X: 195, Y: 195, Width: 10, Height: 10}), true)
}

func TestShapeContainsPoint(t *testing.T) {
	options := DefaultToolOptions()

	line := NewStrokeShape("line", []float64{0, 0, 100, 0}, options)
	assert.Equal(t, ShapeContainsPoint(line, Point{X: 50, Y: 5}, 7.5), true)
	assert.Equal(t, ShapeContainsPoint(line, Point{X: 50, Y: 20}, 7.5), false)

	// an unfilled closed stroke hits on its outline only
	square := &Shape{Id: "square", Type: ShapeTypeStroke, Points: []float64{0, 0, 100, 0, 100, 100, 0, 100}, Closed: true, StrokeWidth: 2}
	assert.Equal(t, ShapeContainsPoint(square, Point{X: 50, Y: 50}, 1), false)
	assert.Equal(t, ShapeContainsPoint(square, Point{X: 0, Y: 50}, 1), true)
	square.Fill = "#ff0000"
	assert.Equal(t, ShapeContainsPoint(square, Point{X: 50, Y: 50}, 1), true)

	// a rotated rectangle
	rect := testShape("rect", 0)
	rect.Width = 100
	rect.Height = 10
	rect.Rotation = 90
	assert.Equal(t, ShapeContainsPoint(rect, Point{X: -5, Y: 50}, 0), true)
	assert.Equal(t, ShapeContainsPoint(rect, Point{X: 50, Y: 5}, 0), false)

	text := &Shape{Id: "text", Type: ShapeTypeText, Text: "a\nb", FontSize: 20, Width: 100, X: 10, Y: 10}
	assert.Equal(t, ShapeContainsPoint(text, Point{X: 50, Y: 45}, 0), true)
	assert.Equal(t, ShapeContainsPoint(text, Point{X: 50, Y: 55}, 0), false)
}

func TestShapeSurfaceTopMost(t *testing.T) {
	store := NewDocStore(NewId())
	store.Put("bottom", testShape("bottom", 0))
	store.Put("top", testShape("top", 5))
	viewport := NewLatest(Viewport{X: 10, Y: 10, Scale: 2})
	surface := NewShapeSurface(store.GetAll, viewport.Get)

	// world (8, 8) is inside both
	id, ok := surface.HitTest(Point{X: 26, Y: 26})
	assert.Equal(t, ok, true)
	assert.Equal(t, id, "top")
	// world (1, 1) is inside the bottom only
	id, ok = surface.HitTest(Point{X: 12, Y: 12})
	assert.Equal(t, ok, true)
	assert.Equal(t, id, "bottom")
	_, ok = surface.HitTest(Point{X: 500, Y: 500})
	assert.Equal(t, ok, false)
}
