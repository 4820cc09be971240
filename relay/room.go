package relay

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/sketchsync/sketch/board"
	"github.com/sketchsync/sketch/protocol"
)

// Room is one board on the relay. It keeps the merged document so it can answer
// sync requests, and the latest awareness of each connected client.
// The relay never interprets shapes; the document is only merged.
type Room struct {
	ctx    context.Context
	cancel context.CancelFunc

	name     string
	relay    *Relay
	log      board.LogFunction
	doc      *board.DocStore
	loaded   chan struct{}
	unsubs   []func()
	closedCh chan struct{}
	// open connections, guarded by the relay state lock
	refs int

	stateLock sync.Mutex
	// connection id -> connection
	conns map[board.Id]*roomConn
	// awareness client id -> latest
	awareness map[board.Id]*protocol.Awareness
	dirty     bool
}

func newRoom(ctx context.Context, relay *Relay, name string) *Room {
	cancelCtx, cancel := context.WithCancel(ctx)
	room := &Room{
		ctx:       cancelCtx,
		cancel:    cancel,
		name:      name,
		relay:     relay,
		log:       board.SubLogFn(board.LogFn("relay"), name),
		doc:       board.NewDocStore(board.NewId()),
		loaded:    make(chan struct{}),
		closedCh:  make(chan struct{}),
		conns:     map[board.Id]*roomConn{},
		awareness: map[board.Id]*protocol.Awareness{},
	}
	room.unsubs = append(room.unsubs, room.doc.AddUpdateCallback(func(update *protocol.Update, origin board.Origin) {
		if origin == board.OriginCache {
			return
		}
		room.stateLock.Lock()
		defer room.stateLock.Unlock()
		room.dirty = true
	}))
	go board.HandleError(room.run)
	return room
}

func (self *Room) Name() string {
	return self.name
}

// Len is the number of connections.
func (self *Room) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.conns)
}

func (self *Room) run() {
	defer close(self.closedCh)

	self.load()
	if fanout := self.relay.fanout; fanout != nil {
		unsub, err := fanout.Subscribe(self.ctx, self.name, self.receiveFanout)
		if err != nil {
			glog.Infof("[relay]%s fanout subscribe error = %s\n", self.name, err)
		} else {
			defer unsub()
		}
	}
	close(self.loaded)

	if self.relay.store == nil {
		<-self.ctx.Done()
		return
	}
	for {
		select {
		case <-self.ctx.Done():
			self.save()
			return
		case <-time.After(self.relay.settings.SnapshotInterval):
			self.save()
		}
	}
}

func (self *Room) load() {
	if self.relay.store == nil {
		return
	}
	update, err := self.relay.store.Load(self.ctx, self.name)
	if err != nil {
		glog.Infof("[relay]%s load error = %s\n", self.name, err)
		return
	}
	if update != nil {
		self.doc.ApplyUpdate(update, board.OriginCache)
		self.log("loaded %d ops", len(update.Ops))
	}
}

func (self *Room) save() {
	dirty := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		dirty := self.dirty
		self.dirty = false
		return dirty
	}()
	if !dirty {
		return
	}
	// the room context may be done on the final save
	ctx, cancel := context.WithTimeout(context.Background(), self.relay.settings.WriteTimeout)
	defer cancel()
	if err := self.relay.store.Save(ctx, self.name, self.doc.StateUpdate()); err != nil {
		glog.Infof("[relay]%s save error = %s\n", self.name, err)
		func() {
			self.stateLock.Lock()
			defer self.stateLock.Unlock()
			self.dirty = true
		}()
		return
	}
	self.log("saved")
}

// Doc is the merged room document.
func (self *Room) Doc() *board.DocStore {
	<-self.loaded
	return self.doc
}

func (self *Room) join(conn *roomConn) {
	<-self.loaded

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.conns[conn.connectionId] = conn
	// the states of everyone already here
	for _, awareness := range self.awareness {
		if b, err := board.EncodeFrame(awareness); err == nil {
			conn.enqueue(b)
		}
	}
}

// leave removes the connection and announces that its clients are gone.
func (self *Room) leave(conn *roomConn) {
	var removed []*protocol.Awareness
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		delete(self.conns, conn.connectionId)
		for _, clientId := range conn.ClientIds() {
			awareness, ok := self.awareness[clientId]
			if !ok {
				continue
			}
			if self.claimedUnlocked(clientId) {
				// the client already reconnected on another connection
				continue
			}
			delete(self.awareness, clientId)
			removed = append(removed, &protocol.Awareness{
				ClientId: clientId.Bytes(),
				// the client's next state after a reconnect is newer
				Clock:   awareness.Clock,
				Removed: true,
			})
		}
	}()
	for _, awareness := range removed {
		if b, err := board.EncodeFrame(awareness); err == nil {
			self.broadcast(b, nil)
			self.publish(b)
		}
	}
}

func (self *Room) claimedUnlocked(clientId board.Id) bool {
	for _, conn := range self.conns {
		if conn.hasClientId(clientId) {
			return true
		}
	}
	return false
}

// receive handles one frame from a local connection.
func (self *Room) receive(conn *roomConn, b []byte) {
	message, err := board.DecodeFrame(b)
	if err != nil {
		glog.Infof("[relay]%s decode error = %s\n", self.name, err)
		return
	}
	switch v := message.(type) {
	case *protocol.Update:
		self.doc.ApplyUpdate(v, board.OriginRemote)
		self.broadcast(b, conn)
		self.publish(b)
	case *protocol.Awareness:
		clientId, err := board.IdFromBytes(v.ClientId)
		if err != nil {
			return
		}
		conn.addClientId(clientId)
		if self.updateAwareness(clientId, v) {
			self.broadcast(b, conn)
			self.publish(b)
		}
	case *protocol.SyncRequest:
		if state, err := board.EncodeFrame(self.doc.StateUpdate()); err == nil {
			conn.enqueue(state)
		}
	default:
		self.log("ignore %T", message)
	}
}

// receiveFanout handles one frame from another relay instance.
func (self *Room) receiveFanout(b []byte) {
	message, err := board.DecodeFrame(b)
	if err != nil {
		glog.Infof("[relay]%s fanout decode error = %s\n", self.name, err)
		return
	}
	switch v := message.(type) {
	case *protocol.Update:
		self.doc.ApplyUpdate(v, board.OriginRemote)
		self.broadcast(b, nil)
	case *protocol.Awareness:
		clientId, err := board.IdFromBytes(v.ClientId)
		if err != nil {
			return
		}
		if self.updateAwareness(clientId, v) {
			self.broadcast(b, nil)
		}
	}
}

// updateAwareness keeps the newest awareness per client. Returns false for stale states.
// A removal at the current clock applies.
func (self *Room) updateAwareness(clientId board.Id, awareness *protocol.Awareness) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if current, ok := self.awareness[clientId]; ok {
		if awareness.Removed && awareness.Clock < current.Clock {
			return false
		}
		if !awareness.Removed && awareness.Clock <= current.Clock {
			return false
		}
	}
	if awareness.Removed {
		delete(self.awareness, clientId)
	} else {
		self.awareness[clientId] = awareness
	}
	return true
}

// broadcast sends to every local connection except `from`
func (self *Room) broadcast(b []byte, from *roomConn) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	for _, conn := range self.conns {
		if conn != from {
			conn.enqueue(b)
		}
	}
}

func (self *Room) publish(b []byte) {
	fanout := self.relay.fanout
	if fanout == nil {
		return
	}
	if err := fanout.Publish(self.ctx, self.name, b); err != nil {
		glog.Infof("[relay]%s publish error = %s\n", self.name, err)
	}
}

func (self *Room) close() {
	self.cancel()
	<-self.closedCh
	for _, unsub := range self.unsubs {
		unsub()
	}
}
