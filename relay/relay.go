package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/sketchsync/sketch/board"
	"github.com/sketchsync/sketch/protocol"
)

// Relay fans document updates and awareness out to the connections of each room.
// A connection starts with an auth frame which the relay echoes back on success.
// Empty binary messages are pings.
type Relay struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *RelaySettings
	// both optional
	store  RoomStore
	fanout Fanout

	upgrader websocket.Upgrader
	router   *mux.Router

	stateLock sync.Mutex
	rooms     map[string]*Room
}

func NewRelayWithDefaults(ctx context.Context) *Relay {
	return NewRelay(ctx, DefaultRelaySettings(), nil, nil)
}

func NewRelay(ctx context.Context, settings *RelaySettings, store RoomStore, fanout Fanout) *Relay {
	cancelCtx, cancel := context.WithCancel(ctx)
	relay := &Relay{
		ctx:      cancelCtx,
		cancel:   cancel,
		settings: settings,
		store:    store,
		fanout:   fanout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		rooms: map[string]*Room{},
	}

	router := mux.NewRouter()
	router.HandleFunc("/rooms/{room}", relay.handleRoom)
	router.HandleFunc("/status", relay.handleStatus).Methods("GET")
	relay.router = router

	return relay
}

func (self *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	self.router.ServeHTTP(w, r)
}

// Room returns the open room, if any.
func (self *Relay) Room(name string) (*Room, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	room, ok := self.rooms[name]
	return room, ok
}

func (self *Relay) RoomNames() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	names := maps.Keys(self.rooms)
	slices.Sort(names)
	return names
}

func (self *Relay) openRoom(name string, conn *roomConn) *Room {
	room := func() *Room {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		room, ok := self.rooms[name]
		if !ok {
			room = newRoom(self.ctx, self, name)
			self.rooms[name] = room
			glog.V(1).Infof("[relay]%s open\n", name)
		}
		room.refs += 1
		return room
	}()
	room.join(conn)
	return room
}

// closeRoom closes the room once its last connection has left
func (self *Relay) closeRoom(room *Room, conn *roomConn) {
	room.leave(conn)

	closeRoom := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		room.refs -= 1
		if 0 < room.refs || self.rooms[room.name] != room {
			return false
		}
		delete(self.rooms, room.name)
		return true
	}()
	if closeRoom {
		room.close()
		glog.V(1).Infof("[relay]%s close\n", room.name)
	}
}

type RelayStatus struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

func (self *Relay) Status() *RelayStatus {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	status := &RelayStatus{
		Rooms: len(self.rooms),
	}
	for _, room := range self.rooms {
		status.Connections += room.Len()
	}
	return status
}

func (self *Relay) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(self.Status())
}

func (self *Relay) handleRoom(w http.ResponseWriter, r *http.Request) {
	roomName := mux.Vars(r)["room"]

	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[relay]upgrade error = %s\n", err)
		return
	}
	defer ws.Close()

	auth, authBytes, err := self.readAuth(ws, roomName)
	if err != nil {
		glog.Infof("[relay]%s auth error = %s\n", roomName, err)
		return
	}
	userId, err := self.authorize(auth.Token)
	if err != nil {
		glog.Infof("[relay]%s auth error = %s\n", roomName, err)
		return
	}

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	conn := newRoomConn(handleCancel, self.settings.SendBufferSize)
	if clientId, err := board.IdFromBytes(auth.ClientId); err == nil {
		conn.addClientId(clientId)
	}
	// join before the echo so that the client sees every frame after it connects
	room := self.openRoom(roomName, conn)
	defer self.closeRoom(room, conn)

	ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
	if err := ws.WriteMessage(websocket.BinaryMessage, authBytes); err != nil {
		return
	}

	glog.V(1).Infof("[relay]%s join %s user=%q\n", roomName, conn.connectionId, userId)

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case message := <-conn.send:
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.BinaryMessage, message); err != nil {
					glog.Infof("[relay]%s %s-> error = %s\n", roomName, conn.connectionId, err)
					return
				}
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.BinaryMessage, make([]byte, 0)); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			default:
			}

			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			messageType, message, err := ws.ReadMessage()
			if err != nil {
				glog.V(1).Infof("[relay]%s %s<- error = %s\n", roomName, conn.connectionId, err)
				return
			}
			if messageType != websocket.BinaryMessage || len(message) == 0 {
				// ping
				continue
			}
			board.HandleError(func() {
				room.receive(conn, message)
			})
		}
	}()

	select {
	case <-handleCtx.Done():
	}
	glog.V(1).Infof("[relay]%s leave %s\n", roomName, conn.connectionId)
}

func (self *Relay) readAuth(ws *websocket.Conn, roomName string) (*protocol.Auth, []byte, error) {
	ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
	messageType, authBytes, err := ws.ReadMessage()
	if err != nil {
		return nil, nil, err
	}
	if messageType != websocket.BinaryMessage {
		return nil, nil, fmt.Errorf("Auth error: not binary.")
	}
	message, err := board.DecodeFrame(authBytes)
	if err != nil {
		return nil, nil, err
	}
	auth, ok := message.(*protocol.Auth)
	if !ok {
		return nil, nil, fmt.Errorf("Auth error: first message is %T.", message)
	}
	if auth.Room != "" && auth.Room != roomName {
		return nil, nil, fmt.Errorf("Auth error: room %s is not %s.", auth.Room, roomName)
	}
	return auth, bytes.Clone(authBytes), nil
}

func (self *Relay) Close() {
	self.cancel()
	var rooms []*Room
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		rooms = maps.Values(self.rooms)
		clear(self.rooms)
	}()
	for _, room := range rooms {
		room.close()
	}
}

// roomConn is the relay side of one websocket connection.
type roomConn struct {
	connectionId board.Id
	cancel       context.CancelFunc
	send         chan []byte

	stateLock sync.Mutex
	// the awareness client ids seen on this connection
	clientIds map[board.Id]bool
}

func newRoomConn(cancel context.CancelFunc, sendBufferSize int) *roomConn {
	return &roomConn{
		connectionId: board.NewId(),
		cancel:       cancel,
		send:         make(chan []byte, sendBufferSize),
		clientIds:    map[board.Id]bool{},
	}
}

// enqueue never blocks. A connection that cannot keep up is closed.
func (self *roomConn) enqueue(b []byte) {
	select {
	case self.send <- b:
	default:
		glog.Infof("[relay]%s send queue full, closing\n", self.connectionId)
		self.cancel()
	}
}

func (self *roomConn) addClientId(clientId board.Id) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.clientIds[clientId] = true
}

func (self *roomConn) hasClientId(clientId board.Id) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.clientIds[clientId]
}

func (self *roomConn) ClientIds() []board.Id {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return maps.Keys(self.clientIds)
}
