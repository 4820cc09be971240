package board

import (
	"math"
	"strings"
	"sync"
)

const (
	// on screen size of new text, independent of zoom
	TextFontSize = 24.0
	TextWidth    = 200.0
)

// TextTool places an empty text box that is immediately selected and edited in place.
type TextTool struct {
}

func (self *TextTool) Name() ToolName {
	return ToolText
}

func (self *TextTool) OnDown(p Point, options *ToolOptions, ctx *ToolContext) *Draft {
	return &Draft{
		Tool:     ToolText,
		Options:  *options,
		Start:    p,
		Current:  p,
		FontSize: math.Round(TextFontSize / ctx.Viewport.scale()),
	}
}

func (self *TextTool) OnMove(p Point, draft *Draft, ctx *ToolContext) *Draft {
	return draft
}

func (self *TextTool) OnUp(draft *Draft, newId string, ctx *ToolContext) *Shape {
	fill := draft.Options.StrokeColor
	if fill == "" {
		fill = DefaultStrokeColor
	}
	shape := &Shape{
		Id:         newId,
		Type:       ShapeTypeText,
		X:          draft.Start.X,
		Y:          draft.Start.Y,
		Fill:       fill,
		FontSize:   draft.FontSize,
		FontFamily: DefaultFontFamily,
		Align:      "left",
		Width:      math.Round(TextWidth / ctx.Viewport.scale()),
		ScaleX:     1,
		ScaleY:     1,
	}
	ctx.Selection.Set(newId)
	if ctx.Editing != nil {
		ctx.Editing.Begin(newId)
	}
	return shape
}

type TextAttributes struct {
	FontSize   float64
	FontFamily string
	Fill       string
	Align      string
}

// TextEditing tracks the text shape being edited in place. Every edit is a
// read-modify-write of the whole record.
type TextEditing struct {
	doc *DocStore

	stateLock sync.Mutex
	editingId string

	finishCallbacks *CallbackList[func(id string)]
}

func NewTextEditing(doc *DocStore) *TextEditing {
	return &TextEditing{
		doc:             doc,
		finishCallbacks: NewCallbackList[func(id string)](),
	}
}

func (self *TextEditing) AddFinishCallback(finishCallback func(id string)) func() {
	callbackId := self.finishCallbacks.Add(finishCallback)
	return func() {
		self.finishCallbacks.Remove(callbackId)
	}
}

func (self *TextEditing) Begin(id string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.editingId = id
}

// BeginSelected starts editing when the selection is exactly one text shape.
func (self *TextEditing) BeginSelected(selection *Selection) bool {
	ids := selection.Ids()
	if len(ids) != 1 {
		return false
	}
	shape, ok := self.doc.Get(ids[0])
	if !ok || shape.Type != ShapeTypeText {
		return false
	}
	self.Begin(ids[0])
	return true
}

// EditingId is empty when nothing is being edited.
func (self *TextEditing) EditingId() string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.editingId
}

func (self *TextEditing) SetText(text string) {
	self.edit(func(shape *Shape) {
		shape.Text = text
	})
}

// SetAttributes changes the non-empty attributes.
func (self *TextEditing) SetAttributes(attributes TextAttributes) {
	self.edit(func(shape *Shape) {
		if 0 < attributes.FontSize {
			shape.FontSize = attributes.FontSize
		}
		if attributes.FontFamily != "" {
			shape.FontFamily = attributes.FontFamily
		}
		if attributes.Fill != "" {
			shape.Fill = attributes.Fill
		}
		if attributes.Align != "" {
			shape.Align = attributes.Align
		}
	})
}

func (self *TextEditing) edit(fn func(shape *Shape)) {
	id := self.EditingId()
	if id == "" {
		return
	}
	shape, ok := self.doc.Get(id)
	if !ok {
		return
	}
	next := shape.Clone()
	fn(next)
	self.doc.Put(id, next.CacheBounds())
}

// Finish ends editing. Text left empty is deleted.
func (self *TextEditing) Finish() {
	var id string
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		id = self.editingId
		self.editingId = ""
	}()
	if id == "" {
		return
	}
	if shape, ok := self.doc.Get(id); ok && strings.TrimSpace(shape.Text) == "" {
		self.doc.Delete(id)
	}
	for _, finishCallback := range self.finishCallbacks.Get() {
		HandleError(func() {
			finishCallback(id)
		})
	}
}
