package board

// PanTool drags the viewport.
type PanTool struct {
}

func (self *PanTool) Name() ToolName {
	return ToolPan
}

func (self *PanTool) OnDown(p Point, options *ToolOptions, ctx *ToolContext) *Draft {
	return &Draft{
		Tool:          ToolPan,
		Start:         p,
		Current:       p,
		StartScreen:   ctx.Event.Screen,
		StartViewport: ctx.Viewport,
	}
}

func (self *PanTool) OnMove(p Point, draft *Draft, ctx *ToolContext) *Draft {
	next := *draft
	next.Current = p
	ctx.SetViewport(draft.StartViewport.PanBy(ctx.Event.Screen.Sub(draft.StartScreen)))
	return &next
}

func (self *PanTool) OnUp(draft *Draft, newId string, ctx *ToolContext) *Shape {
	return nil
}
