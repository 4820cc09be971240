package board

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/sketchsync/sketch/protocol"
)

// the sync transport connects one document store and presence channel to a relay room.
// Local writes are applied before they are sent, so a lost connection only delays
// propagation. After each connect the full local state is sent and the relay is asked
// for its state, which makes any message lost while disconnected irrelevant.

type SyncStatus string

const (
	SyncStatusLoading      SyncStatus = "loading"
	SyncStatusConnected    SyncStatus = "connected"
	SyncStatusDisconnected SyncStatus = "disconnected"
)

type SyncTransportSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	// first reconnect delay, growing exponentially to `ReconnectMaxTimeout`
	ReconnectTimeout    time.Duration
	ReconnectMaxTimeout time.Duration
	PingTimeout         time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	// messages queued for the connection. On overflow the full state is resent instead.
	SendBufferSize int
}

func DefaultSyncTransportSettings() *SyncTransportSettings {
	pingTimeout := 5 * time.Second
	return &SyncTransportSettings{
		WsHandshakeTimeout:  5 * time.Second,
		AuthTimeout:         5 * time.Second,
		ReconnectTimeout:    500 * time.Millisecond,
		ReconnectMaxTimeout: 15 * time.Second,
		PingTimeout:         pingTimeout,
		WriteTimeout:        5 * time.Second,
		ReadTimeout:         3 * pingTimeout,
		SendBufferSize:      64,
	}
}

type SyncAuth struct {
	// optional, verified by the relay when it requires auth
	Token      string
	ClientId   Id
	AppVersion string
}

// RoomUrl is the websocket url of a board room on the relay.
func RoomUrl(relayUrl string, boardId string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(relayUrl, "/"), url.PathEscape(boardId))
}

type SyncTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	relayUrl string
	boardId  string
	auth     *SyncAuth

	doc      *DocStore
	presence *PresenceChannel

	settings *SyncTransportSettings

	stateLock sync.Mutex
	status    SyncStatus
	// the send queue of the current connection, or nil
	send  chan []byte
	dirty bool

	statusCallbacks *CallbackList[func(SyncStatus)]
	unsubs          []func()
}

func NewSyncTransportWithDefaults(
	ctx context.Context,
	relayUrl string,
	boardId string,
	auth *SyncAuth,
	doc *DocStore,
	presence *PresenceChannel,
) *SyncTransport {
	return NewSyncTransport(
		ctx,
		relayUrl,
		boardId,
		auth,
		doc,
		presence,
		DefaultSyncTransportSettings(),
	)
}

// presence may be nil
func NewSyncTransport(
	ctx context.Context,
	relayUrl string,
	boardId string,
	auth *SyncAuth,
	doc *DocStore,
	presence *PresenceChannel,
	settings *SyncTransportSettings,
) *SyncTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	transport := &SyncTransport{
		ctx:             cancelCtx,
		cancel:          cancel,
		relayUrl:        relayUrl,
		boardId:         boardId,
		auth:            auth,
		doc:             doc,
		presence:        presence,
		settings:        settings,
		status:          SyncStatusLoading,
		statusCallbacks: NewCallbackList[func(SyncStatus)](),
	}
	transport.unsubs = append(transport.unsubs, doc.AddUpdateCallback(transport.docUpdate))
	if presence != nil {
		transport.unsubs = append(transport.unsubs, presence.AddBroadcastCallback(transport.awareness))
	}
	go transport.run()
	return transport
}

func (self *SyncTransport) Status() SyncStatus {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.status
}

func (self *SyncTransport) AddStatusCallback(statusCallback func(SyncStatus)) func() {
	callbackId := self.statusCallbacks.Add(statusCallback)
	return func() {
		self.statusCallbacks.Remove(callbackId)
	}
}

func (self *SyncTransport) setStatus(status SyncStatus) {
	changed := func() bool {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.status == status {
			return false
		}
		self.status = status
		return true
	}()
	if !changed {
		return
	}
	glog.V(1).Infof("[t]%s status = %s\n", self.boardId, status)
	for _, statusCallback := range self.statusCallbacks.Get() {
		HandleError(func() {
			statusCallback(status)
		})
	}
}

// only local edits are sent. Remote updates came from the relay and
// cached updates are part of the full state sent on connect.
func (self *SyncTransport) docUpdate(update *protocol.Update, origin Origin) {
	switch origin {
	case OriginRemote, OriginCache:
		return
	}
	self.enqueue(update)
}

func (self *SyncTransport) awareness(awareness *protocol.Awareness) {
	self.enqueue(awareness)
}

func (self *SyncTransport) enqueue(message protocol.Message) {
	b, err := EncodeFrame(message)
	if err != nil {
		glog.Infof("[t]encode error = %s\n", err)
		return
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.send == nil {
		// sent with the full state on connect
		return
	}
	select {
	case self.send <- b:
	default:
		glog.V(1).Infof("[t]%s send queue full, resync\n", self.boardId)
		self.dirty = true
	}
}

func (self *SyncTransport) setSend(send chan []byte) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.send = send
	self.dirty = false
}

func (self *SyncTransport) takeDirty() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	dirty := self.dirty
	self.dirty = false
	return dirty
}

func (self *SyncTransport) newReconnect() *backoff.ExponentialBackOff {
	reconnect := backoff.NewExponentialBackOff()
	reconnect.InitialInterval = self.settings.ReconnectTimeout
	reconnect.MaxInterval = self.settings.ReconnectMaxTimeout
	// retry forever
	reconnect.MaxElapsedTime = 0
	reconnect.Reset()
	return reconnect
}

func (self *SyncTransport) run() {
	defer func() {
		self.setSend(nil)
		if self.presence != nil {
			self.presence.ClearRemote()
		}
	}()

	authBytes, err := EncodeFrame(&protocol.Auth{
		Token:      self.auth.Token,
		Room:       self.boardId,
		ClientId:   self.auth.ClientId.Bytes(),
		AppVersion: self.auth.AppVersion,
	})
	if err != nil {
		glog.Infof("[t]auth encode error = %s\n", err)
		return
	}
	roomUrl := RoomUrl(self.relayUrl, self.boardId)

	reconnect := self.newReconnect()
	for {
		connect := func() (*websocket.Conn, error) {
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
			}
			ws, _, err := dialer.DialContext(self.ctx, roomUrl, nil)
			if err != nil {
				return nil, err
			}

			success := false
			defer func() {
				if !success {
					ws.Close()
				}
			}()

			ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
			if err := ws.WriteMessage(websocket.BinaryMessage, authBytes); err != nil {
				return nil, err
			}
			ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
			if messageType, message, err := ws.ReadMessage(); err != nil {
				return nil, err
			} else {
				// verify the auth echo
				switch messageType {
				case websocket.BinaryMessage:
					if !bytes.Equal(authBytes, message) {
						return nil, fmt.Errorf("Auth response error: bad bytes.")
					}
				default:
					return nil, fmt.Errorf("Auth response error.")
				}
			}

			success = true
			return ws, nil
		}

		var ws *websocket.Conn
		var err error
		if glog.V(2) {
			ws, err = TraceWithReturnError(fmt.Sprintf("[t]connect %s", self.boardId), connect)
		} else {
			ws, err = connect()
		}
		if err != nil {
			glog.Infof("[t]auth error %s = %s\n", self.boardId, err)
			if self.Status() == SyncStatusConnected {
				self.setStatus(SyncStatusDisconnected)
			}
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(reconnect.NextBackOff()):
				continue
			}
		}
		reconnect.Reset()

		c := func() {
			defer ws.Close()
			self.handle(ws)
		}
		if glog.V(2) {
			Trace(fmt.Sprintf("[t]connect run %s", self.boardId), c)
		} else {
			c()
		}
		self.setSend(nil)
		if self.presence != nil {
			self.presence.ClearRemote()
		}
		self.setStatus(SyncStatusDisconnected)

		select {
		case <-self.ctx.Done():
			return
		case <-time.After(reconnect.NextBackOff()):
		}
	}
}

func (self *SyncTransport) handle(ws *websocket.Conn) {
	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	send := make(chan []byte, self.settings.SendBufferSize)
	// edits from here on are queued. Anything earlier is in the full state below.
	self.setSend(send)

	write := func(message protocol.Message) error {
		b, err := EncodeFrame(message)
		if err != nil {
			return err
		}
		ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		return ws.WriteMessage(websocket.BinaryMessage, b)
	}
	writeState := func() error {
		return write(self.doc.StateUpdate())
	}

	initial := []protocol.Message{
		&protocol.SyncRequest{
			Room: self.boardId,
		},
		self.doc.StateUpdate(),
	}
	if self.presence != nil {
		initial = append(initial, self.presence.LocalAwareness())
	}
	for _, message := range initial {
		if err := write(message); err != nil {
			glog.Infof("[ts]%s-> error = %s\n", self.boardId, err)
			return
		}
	}
	self.setStatus(SyncStatusConnected)

	go func() {
		defer handleCancel()

		for {
			if self.takeDirty() {
				if err := writeState(); err != nil {
					glog.Infof("[ts]%s-> resync error = %s\n", self.boardId, err)
					return
				}
				glog.V(2).Infof("[ts]%s-> resync\n", self.boardId)
			}

			select {
			case <-handleCtx.Done():
				return
			case message := <-send:
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.BinaryMessage, message); err != nil {
					// note that for websocket a dealine timeout cannot be recovered
					glog.Infof("[ts]%s-> error = %s\n", self.boardId, err)
					return
				}
				glog.V(2).Infof("[ts]%s->\n", self.boardId)
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
				glog.Infof("[tr]%s<- error = %s\n", self.boardId, err)
				return
			}

			switch messageType {
			case websocket.BinaryMessage:
				if 0 == len(message) {
					// ping
					glog.V(2).Infof("[tr]ping %s<-\n", self.boardId)
					continue
				}
				HandleError(func() {
					self.receive(message)
				})
			default:
				glog.V(2).Infof("[tr]other=%d %s<-\n", messageType, self.boardId)
			}
		}
	}()

	select {
	case <-handleCtx.Done():
	}
}

func (self *SyncTransport) receive(b []byte) {
	message, err := DecodeFrame(b)
	if err != nil {
		glog.Infof("[tr]%s<- decode error = %s\n", self.boardId, err)
		return
	}
	switch v := message.(type) {
	case *protocol.Update:
		glog.V(2).Infof("[tr]%s<- update ops=%d\n", self.boardId, len(v.Ops))
		self.doc.ApplyUpdate(v, OriginRemote)
	case *protocol.Awareness:
		if self.presence != nil {
			self.presence.ApplyRemote(v)
		}
	case *protocol.SyncRequest:
		self.enqueue(self.doc.StateUpdate())
	default:
		glog.V(2).Infof("[tr]%s<- ignore %T\n", self.boardId, message)
	}
}

// Close stops the transport. The document and presence channel stay open.
func (self *SyncTransport) Close() {
	self.cancel()
	for _, unsub := range self.unsubs {
		unsub()
	}
}
