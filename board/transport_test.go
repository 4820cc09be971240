package board

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"github.com/sketchsync/sketch/protocol"
)

// testRelay echoes the auth frame and records every frame it receives.
type testRelay struct {
	server *httptest.Server

	stateLock  sync.Mutex
	conns      []*websocket.Conn
	auths      []*protocol.Auth
	rejectAuth bool

	received chan protocol.Message
}

func newTestRelay() *testRelay {
	relay := &testRelay{
		received: make(chan protocol.Message, 1024),
	}
	upgrader := websocket.Upgrader{}
	relay.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, authBytes, err := ws.ReadMessage()
		if err != nil {
			return
		}
		message, err := DecodeFrame(authBytes)
		if err != nil {
			return
		}
		auth, ok := message.(*protocol.Auth)
		if !ok {
			return
		}
		reject := func() bool {
			relay.stateLock.Lock()
			defer relay.stateLock.Unlock()
			relay.auths = append(relay.auths, auth)
			return relay.rejectAuth
		}()
		if reject {
			return
		}
		if err := ws.WriteMessage(websocket.BinaryMessage, authBytes); err != nil {
			return
		}
		func() {
			relay.stateLock.Lock()
			defer relay.stateLock.Unlock()
			relay.conns = append(relay.conns, ws)
		}()

		for {
			_, b, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if len(b) == 0 {
				continue
			}
			if message, err := DecodeFrame(b); err == nil {
				relay.received <- message
			}
		}
	}))
	return relay
}

func (self *testRelay) Url() string {
	return strings.Replace(self.server.URL, "http", "ws", 1) + "/rooms"
}

func (self *testRelay) SetRejectAuth(rejectAuth bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.rejectAuth = rejectAuth
}

func (self *testRelay) Auths() []*protocol.Auth {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return append([]*protocol.Auth{}, self.auths...)
}

func (self *testRelay) Push(t *testing.T, message protocol.Message) {
	b, err := EncodeFrame(message)
	assert.Equal(t, err, nil)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	for _, ws := range self.conns {
		ws.WriteMessage(websocket.BinaryMessage, b)
	}
}

// Drop closes every open connection.
func (self *testRelay) Drop() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	for _, ws := range self.conns {
		ws.Close()
	}
	self.conns = nil
}

func (self *testRelay) Close() {
	self.Drop()
	self.server.Close()
}

// Next returns the next received message of the same type as `example`.
func (self *testRelay) Next(t *testing.T, example protocol.Message) protocol.Message {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case message := <-self.received:
			if message.MessageType() == example.MessageType() {
				return message
			}
		case <-timeout:
			t.Fatalf("no %T received", example)
			return nil
		}
	}
}

func waitFor(t *testing.T, test func() bool) {
	end := time.Now().Add(5 * time.Second)
	for !test() {
		if end.Before(time.Now()) {
			t.Fatalf("timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testSyncTransportSettings() *SyncTransportSettings {
	settings := DefaultSyncTransportSettings()
	settings.ReconnectTimeout = 10 * time.Millisecond
	settings.ReconnectMaxTimeout = 50 * time.Millisecond
	settings.PingTimeout = 50 * time.Millisecond
	return settings
}

func TestRoomUrl(t *testing.T) {
	assert.Equal(t, RoomUrl("ws://localhost:8080/rooms/", "a b"), "ws://localhost:8080/rooms/a%20b")
	assert.Equal(t, RoomUrl("ws://localhost:8080/rooms", "board"), "ws://localhost:8080/rooms/board")
}

func TestSyncTransportConnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := newTestRelay()
	defer relay.Close()

	store := NewDocStore(NewId())
	// written before the connection exists
	store.Put("a", testShape("a", 0))

	presence := testPresence(Identity{Name: "Brave Fox", Color: "#EC5E41"})
	defer presence.Close()

	auth := &SyncAuth{
		Token:      "token",
		ClientId:   presence.ClientId(),
		AppVersion: "0.0.0",
	}
	transport := NewSyncTransport(ctx, relay.Url(), "board", auth, store, presence, testSyncTransportSettings())
	defer transport.Close()

	syncRequest := relay.Next(t, &protocol.SyncRequest{}).(*protocol.SyncRequest)
	assert.Equal(t, syncRequest.Room, "board")
	state := relay.Next(t, &protocol.Update{}).(*protocol.Update)
	assert.Equal(t, len(state.Ops), 1)
	assert.Equal(t, state.Ops[0].Key, "a")
	awareness := relay.Next(t, &protocol.Awareness{}).(*protocol.Awareness)
	assert.Equal(t, awareness.ClientId, presence.ClientId().Bytes())
	waitFor(t, func() bool {
		return transport.Status() == SyncStatusConnected
	})
	statuses := make(chan SyncStatus, 16)
	transport.AddStatusCallback(func(status SyncStatus) {
		statuses <- status
	})

	auths := relay.Auths()
	assert.Equal(t, len(auths), 1)
	assert.Equal(t, auths[0].Token, "token")
	assert.Equal(t, auths[0].Room, "board")

	// local edits are sent
	store.Put("b", testShape("b", 10))
	update := relay.Next(t, &protocol.Update{}).(*protocol.Update)
	assert.Equal(t, len(update.Ops), 1)
	assert.Equal(t, update.Ops[0].Key, "b")

	// remote edits are applied
	remote := NewDocStore(NewId())
	remoteUpdates := make(chan *protocol.Update, 1)
	remote.AddUpdateCallback(func(update *protocol.Update, origin Origin) {
		remoteUpdates <- update
	})
	remote.Put("c", testShape("c", 20))
	relay.Push(t, <-remoteUpdates)
	waitFor(t, func() bool {
		return store.Has("c")
	})

	remoteId := NewId()
	relay.Push(t, remoteAwareness(t, remoteId, 1, &PresenceState{Name: "Calm Owl", Color: "#3B82F6"}))
	waitFor(t, func() bool {
		_, ok := presence.Remote()[remoteId]
		return ok
	})

	// the relay goes away, remote presence is dropped and the client reconnects
	relay.Drop()
	assert.Equal(t, <-statuses, SyncStatusDisconnected)
	waitFor(t, func() bool {
		return len(presence.Remote()) == 0
	})

	relay.Next(t, &protocol.SyncRequest{})
	state = relay.Next(t, &protocol.Update{}).(*protocol.Update)
	assert.Equal(t, len(state.Ops), 3)
	assert.Equal(t, <-statuses, SyncStatusConnected)
}

func TestSyncTransportOffline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := newTestRelay()
	defer relay.Close()
	relay.SetRejectAuth(true)

	store := NewDocStore(NewId())
	transport := NewSyncTransport(ctx, relay.Url(), "board", &SyncAuth{ClientId: NewId()}, store, nil, testSyncTransportSettings())
	defer transport.Close()

	// edits apply locally while auth is refused
	waitFor(t, func() bool {
		return 2 <= len(relay.Auths())
	})
	assert.Equal(t, transport.Status(), SyncStatusLoading)
	store.Put("a", testShape("a", 0))
	store.Put("b", testShape("b", 0))
	store.Delete("a")
	assert.Equal(t, len(store.GetAll()), 1)

	// on connect the full state carries everything written offline
	relay.SetRejectAuth(false)
	relay.Next(t, &protocol.SyncRequest{})
	state := relay.Next(t, &protocol.Update{}).(*protocol.Update)
	assert.Equal(t, len(state.Ops), 2)
	for _, op := range state.Ops {
		assert.Equal(t, op.Deleted, op.Key == "a")
	}
	waitFor(t, func() bool {
		return transport.Status() == SyncStatusConnected
	})
}

func TestSyncTransportSkipsRemoteAndCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := newTestRelay()
	defer relay.Close()

	store := NewDocStore(NewId())
	transport := NewSyncTransport(ctx, relay.Url(), "board", &SyncAuth{ClientId: NewId()}, store, nil, testSyncTransportSettings())
	defer transport.Close()

	relay.Next(t, &protocol.Update{})
	waitFor(t, func() bool {
		return transport.Status() == SyncStatusConnected
	})

	other := NewDocStore(NewId())
	var otherUpdate *protocol.Update
	other.AddUpdateCallback(func(update *protocol.Update, origin Origin) {
		otherUpdate = update
	})
	other.Put("remote", testShape("remote", 0))
	store.ApplyUpdate(otherUpdate, OriginRemote)
	other.Put("cache", testShape("cache", 0))
	store.ApplyUpdate(otherUpdate, OriginCache)
	store.Put("local", testShape("local", 0))

	// the first update after connect is the local one
	update := relay.Next(t, &protocol.Update{}).(*protocol.Update)
	assert.Equal(t, len(update.Ops), 1)
	assert.Equal(t, update.Ops[0].Key, "local")
}
