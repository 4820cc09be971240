package board

// RectangleTool drags a box from a start corner. The box is normalized so its
// origin is the top-left corner regardless of drag direction.
type RectangleTool struct {
}

func (self *RectangleTool) Name() ToolName {
	return ToolRectangle
}

func (self *RectangleTool) OnDown(p Point, options *ToolOptions, ctx *ToolContext) *Draft {
	return &Draft{
		Tool:    ToolRectangle,
		Options: *options,
		Start:   p,
		Current: p,
		Rect:    Rect{X: p.X, Y: p.Y},
	}
}

func (self *RectangleTool) OnMove(p Point, draft *Draft, ctx *ToolContext) *Draft {
	next := *draft
	next.Current = p
	next.Rect = RectFromPoints(draft.Start, p)
	return &next
}

func (self *RectangleTool) OnUp(draft *Draft, newId string, ctx *ToolContext) *Shape {
	if draft.Rect.Width == 0 || draft.Rect.Height == 0 {
		// a click, or a drag along one axis
		return nil
	}
	return NewRectangleShape(newId, draft.Rect, &draft.Options)
}
