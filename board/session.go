package board

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/glog"
)

// the canvas size until the renderer reports one
var DefaultCanvasSize = Size{Width: 1280, Height: 720}

type SessionOptions struct {
	Config *Config
	// optional bearer token for the relay
	Token string
	// nil for a process local clipboard
	Clipboard Clipboard
	// no relay connection. Edits are kept in the local cache.
	Offline bool
}

// Session is one open board: the replicated document with its local cache,
// presence, the tool machine and selection, undo, and the relay connection.
// All document mutations of the session funnel through its store.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	boardId  string
	clientId Id
	config   *Config
	index    *LocalIndex

	doc       *DocStore
	cache     *DocCache
	viewport  *ViewportSaver
	canvas    *Latest[Size]
	identity  *Latest[Identity]
	tool      *Latest[ToolName]
	marquee   *Latest[*Rect]
	presence  *PresenceChannel
	transport *SyncTransport
	selection *Selection
	culler    *Culler
	surface   *ShapeSurface
	editing   *TextEditing
	machine   *ToolMachine
	undo      *UndoManager
	keys      *KeyHandler
	smoother  *CursorSmoother

	cursorCallbacks *CallbackList[func(map[Id]SmoothCursor)]

	stateLock sync.Mutex
	unsubs    []func()
	closed    bool
}

// OpenSession opens `boardId` from the local cache, then connects it to the relay.
// The board is usable before the relay answers.
func OpenSession(ctx context.Context, boardId string, index *LocalIndex, options *SessionOptions) (*Session, error) {
	if boardId == "" {
		return nil, errors.New("Missing board id.")
	}
	config := options.Config
	if config == nil {
		config = DefaultConfig()
	}

	if _, err := index.Visit(boardId); err != nil {
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(ctx)

	cache, err := OpenDocCache(cancelCtx, index.Dir(), boardId, DefaultDocCacheSettings())
	if err != nil {
		cancel()
		return nil, err
	}

	identity := index.LoadIdentity()
	if config.Identity != nil {
		identity = config.Identity.Complete()
	}

	clientId := NewId()
	session := &Session{
		ctx:             cancelCtx,
		cancel:          cancel,
		boardId:         boardId,
		clientId:        clientId,
		config:          config,
		index:           index,
		doc:             NewDocStore(clientId),
		cache:           cache,
		viewport:        NewViewportSaver(index, boardId),
		canvas:          NewLatest(DefaultCanvasSize),
		identity:        NewLatest(identity),
		tool:            NewLatest(ToolStroke),
		marquee:         NewLatest[*Rect](nil),
		selection:       NewSelection(),
		culler:          NewCuller(CullBuffer),
		smoother:        NewCursorSmoother(CursorSmoothing),
		cursorCallbacks: NewCallbackList[func(map[Id]SmoothCursor)](),
	}

	if err := cache.Bind(session.doc); err != nil {
		cache.Close()
		cancel()
		return nil, err
	}

	session.presence = NewPresenceChannel(clientId, session.identity, session.tool, config.PresenceSettings())
	session.surface = NewShapeSurface(session.Visible, session.viewport.Viewport)
	session.editing = NewTextEditing(session.doc)
	session.undo = NewUndoManager(session.doc, config.UndoSettings())
	session.machine = NewToolMachine(
		&ToolEnv{
			Surface:     session.surface,
			Doc:         session.doc,
			Selection:   session.selection,
			Editing:     session.editing,
			Presence:    session.presence,
			Undo:        session.undo,
			Viewport:    session.viewport.Viewport,
			SetViewport: session.viewport.Set,
			Visible:     session.Visible,
			SetMarquee:  session.marquee.Set,
		},
		session.tool,
		&config.Tool,
	)
	clipboard := options.Clipboard
	if clipboard == nil {
		clipboard = NewMemoryClipboard()
	}
	session.keys = NewKeyHandler(session.doc, session.selection, session.machine, session.undo, clipboard)

	session.unsubs = append(
		session.unsubs,
		session.doc.AddObserver(session.pruneSelection),
		// a finished text edit returns to the select tool
		session.editing.AddFinishCallback(func(id string) {
			session.machine.SetTool(ToolSelect)
		}),
	)

	if !options.Offline {
		session.transport = NewSyncTransport(
			cancelCtx,
			config.RelayUrl,
			boardId,
			&SyncAuth{
				Token:      options.Token,
				ClientId:   clientId,
				AppVersion: config.AppVersion,
			},
			session.doc,
			session.presence,
			config.SyncTransportSettings(),
		)
	}

	go HandleError(func() {
		RunCursorSmoother(cancelCtx, session.presence, session.smoother, CursorTickInterval, session.cursors)
	})

	glog.V(1).Infof("[s]open %s client=%s shapes=%d\n", boardId, clientId, len(session.doc.GetAll()))
	return session, nil
}

// deleted shapes leave the selection, whoever deleted them
func (self *Session) pruneSelection(event *DocEvent) {
	deleted := []string{}
	for _, change := range event.Changes {
		if change.New == nil {
			deleted = append(deleted, change.Id)
		}
	}
	if 0 < len(deleted) {
		self.selection.Remove(deleted...)
	}
}

func (self *Session) cursors(cursors map[Id]SmoothCursor) {
	for _, cursorCallback := range self.cursorCallbacks.Get() {
		HandleError(func() {
			cursorCallback(cursors)
		})
	}
}

func (self *Session) BoardId() string {
	return self.boardId
}

func (self *Session) ClientId() Id {
	return self.clientId
}

func (self *Session) Doc() *DocStore {
	return self.doc
}

func (self *Session) Selection() *Selection {
	return self.selection
}

func (self *Session) Machine() *ToolMachine {
	return self.machine
}

func (self *Session) Keys() *KeyHandler {
	return self.keys
}

func (self *Session) Undo() *UndoManager {
	return self.undo
}

func (self *Session) Editing() *TextEditing {
	return self.editing
}

func (self *Session) Presence() *PresenceChannel {
	return self.presence
}

// Synced is closed when the local cache has been replayed.
func (self *Session) Synced() <-chan struct{} {
	return self.cache.Synced()
}

// Status is the relay connection status. An offline session is always disconnected.
func (self *Session) Status() SyncStatus {
	if self.transport == nil {
		return SyncStatusDisconnected
	}
	return self.transport.Status()
}

func (self *Session) AddStatusCallback(statusCallback func(SyncStatus)) func() {
	if self.transport == nil {
		return func() {}
	}
	return self.transport.AddStatusCallback(statusCallback)
}

// AddCursorCallback receives the smoothed remote cursors on every tick.
func (self *Session) AddCursorCallback(cursorCallback func(map[Id]SmoothCursor)) func() {
	callbackId := self.cursorCallbacks.Add(cursorCallback)
	return func() {
		self.cursorCallbacks.Remove(callbackId)
	}
}

func (self *Session) Viewport() Viewport {
	return self.viewport.Viewport()
}

func (self *Session) SetViewport(viewport Viewport) {
	self.viewport.Set(viewport)
}

func (self *Session) Canvas() Size {
	return self.canvas.Get()
}

// SetCanvas is the rendered canvas size in screen pixels.
func (self *Session) SetCanvas(canvas Size) {
	self.canvas.Set(canvas)
}

// Zoom is one step in (direction > 0), out (< 0), or a reset (0) about the canvas center.
func (self *Session) Zoom(direction int) Viewport {
	viewport := self.Viewport().ZoomCenter(self.Canvas(), direction)
	self.SetViewport(viewport)
	return viewport
}

func (self *Session) Wheel(pointer Point, deltaX float64, deltaY float64, zoom bool) Viewport {
	viewport := self.Viewport().Wheel(pointer, deltaX, deltaY, zoom)
	self.SetViewport(viewport)
	return viewport
}

// Visible is the shapes to render, in paint order.
func (self *Session) Visible() []*Shape {
	return self.culler.Cull(self.doc.Snapshot(), self.Viewport(), self.Canvas(), self.selection)
}

// Marquee is the select drag box in world units, or nil.
func (self *Session) Marquee() *Rect {
	return self.marquee.Get()
}

func (self *Session) Identity() Identity {
	return self.identity.Get()
}

// SetIdentity changes the local name and color, saves them, and rebroadcasts presence.
func (self *Session) SetIdentity(identity Identity) error {
	identity = identity.Complete()
	self.identity.Set(identity)
	self.presence.Touch()
	return self.index.SaveIdentity(identity)
}

func (self *Session) ActiveUsers() []*ActiveUser {
	return self.presence.ActiveUsers()
}

func (self *Session) Rename(name string) error {
	_, err := self.index.Rename(self.boardId, name)
	return err
}

func (self *Session) SetThumbnail(thumbnail string) error {
	_, err := self.index.SetThumbnail(self.boardId, thumbnail)
	return err
}

func (self *Session) Done() <-chan struct{} {
	return self.ctx.Done()
}

// Close discards any in progress gesture, saves the viewport, leaves the room,
// and closes the local cache. The local index stays open.
func (self *Session) Close() {
	var unsubs []func()
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.closed {
			return
		}
		self.closed = true
		unsubs = self.unsubs
		self.unsubs = nil
	}()
	if unsubs == nil {
		return
	}

	self.machine.Close()
	self.editing.Finish()
	self.viewport.Flush()
	for _, unsub := range unsubs {
		unsub()
	}
	self.undo.Close()
	// the removal is queued before the transport goes away
	self.presence.Close()
	if self.transport != nil {
		self.transport.Close()
	}
	self.cache.Close()
	self.cancel()
	glog.V(1).Infof("[s]close %s\n", self.boardId)
}
