package board

// SelectTool selects by click or marquee, and drags the selection.
// A down on the background starts a marquee. A down on a shape selects it,
// and when the shape ends up selected the gesture moves the whole selection.
type SelectTool struct {
}

func (self *SelectTool) Name() ToolName {
	return ToolSelect
}

func (self *SelectTool) OnDown(p Point, options *ToolOptions, ctx *ToolContext) *Draft {
	modifier := ctx.Event.Modifier

	var id string
	var ok bool
	if ctx.Surface != nil {
		id, ok = ctx.Surface.HitTest(ctx.Event.Screen)
	}
	if !ok {
		if !modifier {
			ctx.Selection.Clear()
		}
		return &Draft{
			Tool:      ToolSelect,
			Start:     p,
			Current:   p,
			Selecting: true,
		}
	}

	ctx.Selection.Click(id, modifier)
	if !ctx.Selection.Has(id) {
		// toggled off
		return nil
	}
	return &Draft{
		Tool:    ToolSelect,
		Start:   p,
		Current: p,
		Moving:  true,
		MoveIds: ctx.Selection.Ids(),
	}
}

func (self *SelectTool) OnMove(p Point, draft *Draft, ctx *ToolContext) *Draft {
	next := *draft
	next.Current = p
	if next.Selecting {
		marquee := RectFromPoints(next.Start, p)
		ctx.SetMarquee(&marquee)
	}
	return &next
}

func (self *SelectTool) OnUp(draft *Draft, newId string, ctx *ToolContext) *Shape {
	switch {
	case draft.Selecting:
		ctx.SetMarquee(nil)
		if draft.Current == draft.Start {
			// a background click only clears
			return nil
		}
		marquee := RectFromPoints(draft.Start, draft.Current)
		hits := MarqueeHits(ctx.Visible(), marquee)
		ctx.Selection.ApplyMarquee(hits, ctx.Event.Modifier)
	case draft.Moving:
		offset := draft.Offset()
		if offset == (Point{}) {
			return nil
		}
		MoveShapes(ctx.Doc, draft.MoveIds, offset)
	}
	return nil
}

// MoveShapes translates the shapes in one transaction. Each shape is re-read and written whole.
func MoveShapes(doc *DocStore, ids []string, offset Point) {
	doc.Transact(func(tx *DocTx) {
		for _, id := range ids {
			if shape, ok := tx.Get(id); ok {
				tx.Put(id, shape.Moved(offset))
			}
		}
	})
}

// TransformShape commits the end of a transform gesture on one shape.
func TransformShape(doc *DocStore, id string, x float64, y float64, rotation float64, scaleX float64, scaleY float64) bool {
	shape, ok := doc.Get(id)
	if !ok {
		return false
	}
	doc.Put(id, shape.TransformEnd(x, y, rotation, scaleX, scaleY))
	return true
}
