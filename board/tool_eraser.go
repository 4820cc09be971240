package board

import (
	"math"
)

// the eraser samples its path at this screen distance
const EraserStep = 5.0

// EraserTool deletes every shape the pointer passes over.
// The path between two samples is walked in fixed screen steps.
type EraserTool struct {
}

func (self *EraserTool) Name() ToolName {
	return ToolEraser
}

func (self *EraserTool) OnDown(p Point, options *ToolOptions, ctx *ToolContext) *Draft {
	draft := &Draft{
		Tool:       ToolEraser,
		Start:      p,
		Current:    p,
		LastScreen: ctx.Event.Screen,
	}
	eraseAt(ctx, ctx.Event.Screen)
	return draft
}

func (self *EraserTool) OnMove(p Point, draft *Draft, ctx *ToolContext) *Draft {
	from := draft.LastScreen
	to := ctx.Event.Screen
	if from == to {
		// already erased here
		return draft
	}
	for _, screen := range EraserPath(from, to, EraserStep)[1:] {
		eraseAt(ctx, screen)
	}
	next := *draft
	next.Current = p
	next.LastScreen = to
	return &next
}

func (self *EraserTool) OnUp(draft *Draft, newId string, ctx *ToolContext) *Shape {
	return nil
}

// EraserPath returns the sample points from `from` to `to` inclusive, at most `step` apart.
func EraserPath(from Point, to Point, step float64) []Point {
	d := to.Sub(from)
	steps := int(math.Ceil(math.Hypot(d.X, d.Y) / step))
	if steps == 0 {
		return []Point{to}
	}
	path := make([]Point, 0, steps+1)
	for i := 0; i <= steps; i += 1 {
		t := float64(i) / float64(steps)
		path = append(path, from.Add(d.Scale(t)))
	}
	return path
}

// a hit is deleted immediately, so the next sample can hit the shape below it
func eraseAt(ctx *ToolContext, screen Point) {
	if ctx.Surface == nil {
		return
	}
	if id, ok := ctx.Surface.HitTest(screen); ok && ctx.Doc.Has(id) {
		ctx.Doc.Delete(id)
	}
}
