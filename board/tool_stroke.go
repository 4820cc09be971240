package board

import (
	"golang.org/x/exp/slices"
)

// StrokeTool draws a freehand stroke as a flat coordinate sequence.
type StrokeTool struct {
}

func (self *StrokeTool) Name() ToolName {
	return ToolStroke
}

func (self *StrokeTool) OnDown(p Point, options *ToolOptions, ctx *ToolContext) *Draft {
	return &Draft{
		Tool:    ToolStroke,
		Options: *options,
		Start:   p,
		Current: p,
		Points:  []float64{p.X, p.Y},
	}
}

func (self *StrokeTool) OnMove(p Point, draft *Draft, ctx *ToolContext) *Draft {
	return appendDraftPoint(draft, p)
}

func (self *StrokeTool) OnUp(draft *Draft, newId string, ctx *ToolContext) *Shape {
	return NewStrokeShape(newId, slices.Clone(draft.Points), &draft.Options)
}

func appendDraftPoint(draft *Draft, p Point) *Draft {
	next := *draft
	if p != draft.Current {
		next.Points = append(next.Points, p.X, p.Y)
	}
	next.Current = p
	return &next
}
