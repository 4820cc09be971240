package board

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/sketchsync/sketch/protocol"
)

// Presence is ephemeral per connection state that is broadcast outside the document.
// It is never persisted and lives as long as the connection.

// Field is a tri-state update of one presence field:
// absent (leave as is), set, or clear.
type Field[T any] struct {
	present bool
	value   *T
}

func SetField[T any](value T) Field[T] {
	return Field[T]{
		present: true,
		value:   &value,
	}
}

func ClearField[T any]() Field[T] {
	return Field[T]{
		present: true,
	}
}

func (self Field[T]) IsAbsent() bool {
	return !self.present
}

func (self Field[T]) IsClear() bool {
	return self.present && self.value == nil
}

// apply returns the next value of a field currently `current`
func (self Field[T]) apply(current *T) *T {
	if !self.present {
		return current
	}
	return self.value
}

type PresenceUpdate struct {
	Cursor Field[Point]
	Draft  Field[Shape]
}

type PresenceState struct {
	ClientId   Id       `json:"clientId"`
	Name       string   `json:"name"`
	Color      string   `json:"color"`
	Cursor     *Point   `json:"cursor,omitempty"`
	ActiveTool ToolName `json:"activeTool,omitempty"`
	// the ghost shape of an in progress gesture
	Draft *Shape `json:"draft,omitempty"`
}

type ActiveUser struct {
	ClientId Id
	Name     string
	Color    string
	Local    bool
}

func DefaultPresenceSettings() *PresenceSettings {
	return &PresenceSettings{
		BroadcastInterval: 30 * time.Millisecond,
	}
}

type PresenceSettings struct {
	BroadcastInterval time.Duration
}

type PresenceChannel struct {
	clientId   Id
	identity   *Latest[Identity]
	activeTool *Latest[ToolName]
	settings   *PresenceSettings

	throttle *Throttle

	stateLock sync.Mutex
	cursor    *Point
	draft     *Shape
	clock     uint64
	// last clock seen per client, kept after removal so reordered states stay dropped
	remoteClocks map[Id]uint64
	remotes      map[Id]*PresenceState
	closed       bool

	broadcastCallbacks *CallbackList[func(*protocol.Awareness)]
	subscribers        *CallbackList[func(map[Id]*PresenceState)]
}

func NewPresenceChannel(
	clientId Id,
	identity *Latest[Identity],
	activeTool *Latest[ToolName],
	settings *PresenceSettings,
) *PresenceChannel {
	presence := &PresenceChannel{
		clientId:           clientId,
		identity:           identity,
		activeTool:         activeTool,
		settings:           settings,
		remoteClocks:       map[Id]uint64{},
		remotes:            map[Id]*PresenceState{},
		broadcastCallbacks: NewCallbackList[func(*protocol.Awareness)](),
		subscribers:        NewCallbackList[func(map[Id]*PresenceState)](),
	}
	presence.throttle = NewThrottle(settings.BroadcastInterval, presence.broadcast)
	return presence
}

func (self *PresenceChannel) ClientId() Id {
	return self.clientId
}

// AddBroadcastCallback receives each outgoing local state, e.g. for the transport.
func (self *PresenceChannel) AddBroadcastCallback(broadcastCallback func(*protocol.Awareness)) func() {
	callbackId := self.broadcastCallbacks.Add(broadcastCallback)
	return func() {
		self.broadcastCallbacks.Remove(callbackId)
	}
}

// Subscribe receives the states of all connected clients, including the local one, keyed by client id.
func (self *PresenceChannel) Subscribe(subscriber func(map[Id]*PresenceState)) func() {
	callbackId := self.subscribers.Add(subscriber)
	return func() {
		self.subscribers.Remove(callbackId)
	}
}

// SetLocalState merges `update` into the local state. Absent fields are unchanged,
// cleared fields are removed. The broadcast is throttled.
func (self *PresenceChannel) SetLocalState(update PresenceUpdate) {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		self.cursor = update.Cursor.apply(self.cursor)
		draft := update.Draft.apply(self.draft)
		if draft != nil && draft != self.draft {
			// the caller may keep editing its draft
			draft = draft.Clone()
		}
		self.draft = draft
	}()
	self.throttle.Call()
}

// Touch broadcasts the local state again, e.g. after an identity or tool change.
func (self *PresenceChannel) Touch() {
	self.throttle.Call()
}

func (self *PresenceChannel) LocalState() *PresenceState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.localStateUnlocked()
}

func (self *PresenceChannel) localStateUnlocked() *PresenceState {
	identity := self.identity.Get()
	state := &PresenceState{
		ClientId:   self.clientId,
		Name:       identity.Name,
		Color:      identity.Color,
		ActiveTool: self.activeTool.Get(),
		Draft:      self.draft,
	}
	if self.cursor != nil {
		cursor := *self.cursor
		state.Cursor = &cursor
	}
	return state
}

// LocalAwareness is the current local state as a new awareness message.
func (self *PresenceChannel) LocalAwareness() *protocol.Awareness {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.localAwarenessUnlocked()
}

func (self *PresenceChannel) localAwarenessUnlocked() *protocol.Awareness {
	self.clock += 1
	stateJson, err := json.Marshal(self.localStateUnlocked())
	if err != nil {
		panic(err)
	}
	return &protocol.Awareness{
		ClientId: self.clientId.Bytes(),
		Clock:    self.clock,
		State:    stateJson,
	}
}

func (self *PresenceChannel) broadcast() {
	var awareness *protocol.Awareness
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.closed {
			return
		}
		awareness = self.localAwarenessUnlocked()
	}()
	if awareness == nil {
		return
	}
	for _, broadcastCallback := range self.broadcastCallbacks.Get() {
		HandleError(func() {
			broadcastCallback(awareness)
		})
	}
	self.notify()
}

// ApplyRemote merges a state received from the transport.
// States older than the last seen clock of the client are dropped.
func (self *PresenceChannel) ApplyRemote(awareness *protocol.Awareness) {
	clientId, err := IdFromBytes(awareness.ClientId)
	if err != nil {
		glog.V(2).Infof("[p]drop awareness: %s\n", err)
		return
	}
	if clientId == self.clientId {
		return
	}

	var state *PresenceState
	if !awareness.Removed {
		state = &PresenceState{}
		if err := json.Unmarshal(awareness.State, state); err != nil {
			glog.V(2).Infof("[p]drop awareness %s: %s\n", clientId, err)
			return
		}
		state.ClientId = clientId
	}

	changed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		// a removal may carry the clock of the state it removes
		if clock, ok := self.remoteClocks[clientId]; ok {
			if state == nil && awareness.Clock < clock {
				return false
			}
			if state != nil && awareness.Clock <= clock {
				return false
			}
		}
		self.remoteClocks[clientId] = awareness.Clock
		if state == nil {
			if _, ok := self.remotes[clientId]; !ok {
				return false
			}
			delete(self.remotes, clientId)
		} else {
			self.remotes[clientId] = state
		}
		return true
	}()
	if changed {
		self.notify()
	}
}

// Remove drops a remote client, e.g. when the transport reports its disconnect.
func (self *PresenceChannel) Remove(clientId Id) {
	changed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if _, ok := self.remotes[clientId]; !ok {
			return false
		}
		delete(self.remotes, clientId)
		return true
	}()
	if changed {
		self.notify()
	}
}

// ClearRemote drops all remote clients, e.g. when the local connection is lost.
func (self *PresenceChannel) ClearRemote() {
	changed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if len(self.remotes) == 0 {
			return false
		}
		maps.Clear(self.remotes)
		// peers resend their full state after a reconnect
		maps.Clear(self.remoteClocks)
		return true
	}()
	if changed {
		self.notify()
	}
}

// Remote returns the remote states only. The local client is never included.
func (self *PresenceChannel) Remote() map[Id]*PresenceState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return maps.Clone(self.remotes)
}

// States returns all connected states including the local one.
func (self *PresenceChannel) States() map[Id]*PresenceState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.statesUnlocked()
}

func (self *PresenceChannel) statesUnlocked() map[Id]*PresenceState {
	states := maps.Clone(self.remotes)
	states[self.clientId] = self.localStateUnlocked()
	return states
}

// ActiveUsers lists all connected users, local first, then by client id.
func (self *PresenceChannel) ActiveUsers() []*ActiveUser {
	states := self.States()
	clientIds := maps.Keys(states)
	slices.SortFunc(clientIds, func(a Id, b Id) int {
		switch {
		case a == self.clientId:
			return -1
		case b == self.clientId:
			return 1
		default:
			return a.Cmp(b)
		}
	})
	activeUsers := []*ActiveUser{}
	for _, clientId := range clientIds {
		state := states[clientId]
		activeUsers = append(activeUsers, &ActiveUser{
			ClientId: clientId,
			Name:     state.Name,
			Color:    state.Color,
			Local:    clientId == self.clientId,
		})
	}
	return activeUsers
}

func (self *PresenceChannel) notify() {
	states := self.States()
	for _, subscriber := range self.subscribers.Get() {
		HandleError(func() {
			subscriber(states)
		})
	}
}

// Close stops broadcasting and announces the removal of the local client.
func (self *PresenceChannel) Close() {
	closed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.closed {
			return false
		}
		self.closed = true
		return true
	}()
	if !closed {
		return
	}
	self.throttle.Close()

	var awareness *protocol.Awareness
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.clock += 1
		awareness = &protocol.Awareness{
			ClientId: self.clientId.Bytes(),
			Clock:    self.clock,
			Removed:  true,
		}
	}()
	for _, broadcastCallback := range self.broadcastCallbacks.Get() {
		HandleError(func() {
			broadcastCallback(awareness)
		})
	}
}
