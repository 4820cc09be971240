package board

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
)

type ToolName string

const (
	ToolSelect    ToolName = "select"
	ToolStroke    ToolName = "stroke"
	ToolRectangle ToolName = "rectangle"
	ToolEraser    ToolName = "eraser"
	ToolPan       ToolName = "pan"
	ToolText      ToolName = "text"
	ToolMagic     ToolName = "magic"
)

// single letter hotkeys, matched case insensitive
var ToolHotkeys = map[string]ToolName{
	"s": ToolSelect,
	"d": ToolStroke,
	"r": ToolRectangle,
	"e": ToolEraser,
	"w": ToolPan,
	"t": ToolText,
	"m": ToolMagic,
}

func DefaultToolOptions() *ToolOptions {
	return &ToolOptions{
		StrokeColor: DefaultStrokeColor,
		StrokeWidth: DefaultStrokeWidth,
		StrokeStyle: StrokeStyleSolid,
		Fill:        TransparentFill,
	}
}

type ToolOptions struct {
	StrokeColor string      `toml:"stroke_color"`
	StrokeWidth float64     `toml:"stroke_width"`
	StrokeStyle StrokeStyle `toml:"stroke_style"`
	Fill        string      `toml:"fill"`
}

type PointerEvent struct {
	// canvas position in screen pixels
	Screen Point
	// shift, ctrl, or cmd held
	Modifier bool
}

// ToolContext is what a tool may touch while handling one pointer event.
type ToolContext struct {
	// nil once the surface is torn down
	Surface   Surface
	Doc       *DocStore
	Viewport  Viewport
	Selection *Selection
	Editing   *TextEditing
	// the shapes currently rendered, in paint order
	Visible func() []*Shape
	Event   PointerEvent

	SetMarquee  func(marquee *Rect)
	SetViewport func(viewport Viewport)
}

// Draft is the ephemeral state of one gesture. Points are in world coordinates.
type Draft struct {
	Tool    ToolName
	Options ToolOptions

	Start   Point
	Current Point

	// stroke, magic
	Points []float64
	// rectangle
	Rect Rect
	// text
	FontSize float64
	// eraser
	LastScreen Point
	// pan
	StartScreen   Point
	StartViewport Viewport
	// select
	Selecting bool
	Moving    bool
	MoveIds   []string
}

// Preview is the ghost shape of the gesture shown locally and to peers, or nil.
func (self *Draft) Preview() *Shape {
	switch self.Tool {
	case ToolStroke, ToolMagic:
		return NewStrokeShape("", self.Points, &self.Options)
	case ToolRectangle:
		return NewRectangleShape("", self.Rect, &self.Options)
	default:
		return nil
	}
}

// Offset is the drag distance of a select move.
func (self *Draft) Offset() Point {
	return self.Current.Sub(self.Start)
}

// Tool turns a gesture into an ephemeral draft and at most one committed shape.
// Only `OnUp` may produce a shape to write.
type Tool interface {
	Name() ToolName
	OnDown(p Point, options *ToolOptions, ctx *ToolContext) *Draft
	OnMove(p Point, draft *Draft, ctx *ToolContext) *Draft
	OnUp(draft *Draft, newId string, ctx *ToolContext) *Shape
}

func DefaultTools() []Tool {
	return []Tool{
		&SelectTool{},
		&StrokeTool{},
		&RectangleTool{},
		&EraserTool{},
		&PanTool{},
		&TextTool{},
		&MagicTool{},
	}
}

// ToolEnv is the long lived surroundings of a tool machine. Funcs may be nil.
type ToolEnv struct {
	Surface   Surface
	Doc       *DocStore
	Selection *Selection
	Editing   *TextEditing
	Presence  *PresenceChannel
	// each gesture is one undo unit
	Undo *UndoManager

	Viewport    func() Viewport
	SetViewport func(viewport Viewport)
	Visible     func() []*Shape
	SetMarquee  func(marquee *Rect)
}

// ToolMachine runs the drag lifecycle of the active tool:
// down arms drafting, move is ignored unless drafting,
// up disarms and commits the tool result in one write, then clears the draft.
// A gesture that never reaches up leaves the document untouched.
type ToolMachine struct {
	tools  map[ToolName]Tool
	active *Latest[ToolName]
	env    *ToolEnv

	stateLock sync.Mutex
	options   ToolOptions
	draft     *Draft
	drafting  bool
	closed    bool

	log LogFunction
}

func NewToolMachine(env *ToolEnv, active *Latest[ToolName], options *ToolOptions, tools ...Tool) *ToolMachine {
	if len(tools) == 0 {
		tools = DefaultTools()
	}
	toolMap := map[ToolName]Tool{}
	for _, tool := range tools {
		toolMap[tool.Name()] = tool
	}
	return &ToolMachine{
		tools:   toolMap,
		active:  active,
		env:     env,
		options: *options,
		log:     LogFn("tool"),
	}
}

func (self *ToolMachine) Tool() ToolName {
	return self.active.Get()
}

// SetTool switches the active tool. An in progress gesture is discarded.
func (self *ToolMachine) SetTool(name ToolName) error {
	if _, ok := self.tools[name]; !ok {
		return fmt.Errorf("Unknown tool: %s", name)
	}
	self.Cancel()
	self.active.Set(name)
	if self.env.Presence != nil {
		self.env.Presence.Touch()
	}
	return nil
}

func (self *ToolMachine) Options() ToolOptions {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.options
}

func (self *ToolMachine) SetOptions(options ToolOptions) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.options = options
}

// Draft is the current gesture draft, or nil.
func (self *ToolMachine) Draft() *Draft {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.draft
}

func (self *ToolMachine) context(event PointerEvent) *ToolContext {
	viewport := DefaultViewport()
	if self.env.Viewport != nil {
		viewport = self.env.Viewport()
	}
	ctx := &ToolContext{
		Surface:     self.env.Surface,
		Doc:         self.env.Doc,
		Viewport:    viewport,
		Selection:   self.env.Selection,
		Editing:     self.env.Editing,
		Visible:     self.env.Visible,
		Event:       event,
		SetMarquee:  self.env.SetMarquee,
		SetViewport: self.env.SetViewport,
	}
	if ctx.Visible == nil {
		ctx.Visible = self.env.Doc.GetAll
	}
	if ctx.SetMarquee == nil {
		ctx.SetMarquee = func(*Rect) {}
	}
	if ctx.SetViewport == nil {
		ctx.SetViewport = func(Viewport) {}
	}
	return ctx
}

func (self *ToolMachine) Down(event PointerEvent) {
	var draft *Draft
	var world Point
	open := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.closed {
			return false
		}
		ctx := self.context(event)
		world = ctx.Viewport.ToWorld(event.Screen)
		tool := self.tools[self.active.Get()]
		options := self.options
		if self.env.Undo != nil {
			self.env.Undo.BeginGroup()
		}
		draft = tool.OnDown(world, &options, ctx)
		self.draft = draft
		self.drafting = draft != nil
		if !self.drafting && self.env.Undo != nil {
			self.env.Undo.EndGroup()
		}
		return true
	}()
	if open {
		self.publish(world, draft)
	}
}

func (self *ToolMachine) Move(event PointerEvent) {
	var draft *Draft
	var world Point
	open := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.closed {
			return false
		}
		ctx := self.context(event)
		world = ctx.Viewport.ToWorld(event.Screen)
		if !self.drafting {
			// hover only moves the cursor
			return true
		}
		tool := self.tools[self.active.Get()]
		draft = tool.OnMove(world, self.draft, ctx)
		self.draft = draft
		return true
	}()
	if open {
		self.publish(world, draft)
	}
}

// Up ends the gesture. The up position is applied as a final move before the commit.
func (self *ToolMachine) Up(event PointerEvent) *Shape {
	var shape *Shape
	var world Point
	ended := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.closed || !self.drafting {
			return false
		}
		ctx := self.context(event)
		world = ctx.Viewport.ToWorld(event.Screen)
		tool := self.tools[self.active.Get()]
		draft := tool.OnMove(world, self.draft, ctx)
		self.drafting = false
		self.draft = nil
		if self.env.Undo != nil {
			defer self.env.Undo.EndGroup()
		}

		if ctx.Surface == nil {
			glog.Infof("[tool]commit without a surface\n")
			return true
		}
		shape = tool.OnUp(draft, NewShapeId(), ctx)
		if shape != nil {
			shape.CacheBounds()
			ctx.Doc.Put(shape.Id, shape)
			self.log("commit %s %s", shape.Type, shape.Id)
		}
		return true
	}()
	if ended {
		self.publish(world, nil)
	}
	return shape
}

// Leave is the pointer leaving the surface. The gesture is discarded without a write.
func (self *ToolMachine) Leave() {
	self.Cancel()
	if self.env.Presence != nil {
		self.env.Presence.SetLocalState(PresenceUpdate{
			Cursor: ClearField[Point](),
			Draft:  ClearField[Shape](),
		})
	}
}

// Cancel discards the current gesture.
func (self *ToolMachine) Cancel() {
	cancelled := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		cancelled := self.drafting
		self.drafting = false
		self.draft = nil
		if self.env.Undo != nil {
			self.env.Undo.EndGroup()
		}
		return cancelled
	}()
	if cancelled {
		if self.env.SetMarquee != nil {
			self.env.SetMarquee(nil)
		}
		if self.env.Presence != nil {
			self.env.Presence.SetLocalState(PresenceUpdate{
				Draft: ClearField[Shape](),
			})
		}
	}
}

// Close discards the current gesture. Later events are ignored.
func (self *ToolMachine) Close() {
	self.Cancel()
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.closed = true
}

func (self *ToolMachine) publish(world Point, draft *Draft) {
	if self.env.Presence == nil {
		return
	}
	update := PresenceUpdate{
		Cursor: SetField(world),
		Draft:  ClearField[Shape](),
	}
	if draft != nil {
		if preview := draft.Preview(); preview != nil {
			update.Draft = SetField(*preview)
		}
	}
	self.env.Presence.SetLocalState(update)
}
