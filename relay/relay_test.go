package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/sketchsync/sketch/board"
)

func waitFor(t *testing.T, test func() bool) {
	end := time.Now().Add(5 * time.Second)
	for !test() {
		if end.Before(time.Now()) {
			t.Fatalf("timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testRelaySettings() *RelaySettings {
	settings := DefaultRelaySettings()
	settings.PingTimeout = 50 * time.Millisecond
	settings.ReadTimeout = time.Second
	settings.SnapshotInterval = 20 * time.Millisecond
	return settings
}

func testSyncTransportSettings() *board.SyncTransportSettings {
	settings := board.DefaultSyncTransportSettings()
	settings.ReconnectTimeout = 10 * time.Millisecond
	settings.ReconnectMaxTimeout = 50 * time.Millisecond
	settings.PingTimeout = 50 * time.Millisecond
	return settings
}

func relayUrl(server *httptest.Server) string {
	return strings.Replace(server.URL, "http", "ws", 1) + "/rooms"
}

type testClient struct {
	doc       *board.DocStore
	presence  *board.PresenceChannel
	transport *board.SyncTransport
}

func newTestClient(ctx context.Context, server *httptest.Server, boardId string, token string) *testClient {
	clientId := board.NewId()
	doc := board.NewDocStore(clientId)
	presence := board.NewPresenceChannel(
		clientId,
		board.NewLatest(board.NewRandomIdentity()),
		board.NewLatest(board.ToolStroke),
		board.DefaultPresenceSettings(),
	)
	transport := board.NewSyncTransport(
		ctx,
		relayUrl(server),
		boardId,
		&board.SyncAuth{
			Token:    token,
			ClientId: clientId,
		},
		doc,
		presence,
		testSyncTransportSettings(),
	)
	return &testClient{
		doc:       doc,
		presence:  presence,
		transport: transport,
	}
}

func (self *testClient) waitConnected(t *testing.T) {
	waitFor(t, func() bool {
		return self.transport.Status() == board.SyncStatusConnected
	})
}

func (self *testClient) Close() {
	self.transport.Close()
	self.presence.Close()
}

func testStroke(id string, x float64) *board.Shape {
	return board.NewStrokeShape(id, []float64{x, 0, x + 10, 10}, board.DefaultToolOptions())
}

func TestRelayConvergence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := NewRelay(ctx, testRelaySettings(), nil, nil)
	defer relay.Close()
	server := httptest.NewServer(relay)
	defer server.Close()

	a := newTestClient(ctx, server, "b1", "")
	defer a.Close()
	b := newTestClient(ctx, server, "b1", "")
	defer b.Close()
	a.waitConnected(t)
	b.waitConnected(t)

	a.doc.Put("s1", testStroke("s1", 0))
	b.doc.Put("s2", testStroke("s2", 100))
	waitFor(t, func() bool {
		return a.doc.Has("s2") && b.doc.Has("s1")
	})

	// concurrent writes to the same record converge on one winner
	a.doc.Put("s3", testStroke("s3", 1))
	b.doc.Put("s3", testStroke("s3", 2))
	waitFor(t, func() bool {
		sa, okA := a.doc.Get("s3")
		sb, okB := b.doc.Get("s3")
		return okA && okB && sa.X == sb.X && sa.Points[0] == sb.Points[0]
	})

	b.doc.Delete("s1")
	waitFor(t, func() bool {
		return !a.doc.Has("s1")
	})

	// a late joiner gets the merged state
	c := newTestClient(ctx, server, "b1", "")
	defer c.Close()
	waitFor(t, func() bool {
		return c.doc.Has("s2") && c.doc.Has("s3") && !c.doc.Has("s1")
	})

	// other rooms are separate
	d := newTestClient(ctx, server, "b2", "")
	defer d.Close()
	d.waitConnected(t)
	d.doc.Put("s4", testStroke("s4", 0))
	room, ok := relay.Room("b2")
	assert.Equal(t, ok, true)
	waitFor(t, func() bool {
		return room.Doc().Has("s4")
	})
	assert.Equal(t, a.doc.Has("s4"), false)
	assert.Equal(t, relay.RoomNames(), []string{"b1", "b2"})
}

func TestRelayAwarenessRemovedOnLeave(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := NewRelay(ctx, testRelaySettings(), nil, nil)
	defer relay.Close()
	server := httptest.NewServer(relay)
	defer server.Close()

	a := newTestClient(ctx, server, "b1", "")
	b := newTestClient(ctx, server, "b1", "")
	defer b.Close()
	a.waitConnected(t)
	b.waitConnected(t)

	a.presence.SetLocalState(board.PresenceUpdate{
		Cursor: board.SetField(board.Point{X: 3, Y: 4}),
	})
	waitFor(t, func() bool {
		state, ok := b.presence.Remote()[a.presence.ClientId()]
		return ok && state.Cursor != nil && *state.Cursor == board.Point{X: 3, Y: 4}
	})

	// a client that joins later sees the existing states
	c := newTestClient(ctx, server, "b1", "")
	defer c.Close()
	waitFor(t, func() bool {
		_, ok := c.presence.Remote()[a.presence.ClientId()]
		return ok
	})

	a.Close()
	waitFor(t, func() bool {
		_, ok := b.presence.Remote()[a.presence.ClientId()]
		return !ok
	})
	waitFor(t, func() bool {
		_, ok := c.presence.Remote()[a.presence.ClientId()]
		return !ok
	})
}

func TestRelayAwarenessAfterReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := NewRelay(ctx, testRelaySettings(), nil, nil)
	defer relay.Close()
	server := httptest.NewServer(relay)
	defer server.Close()

	a := newTestClient(ctx, server, "b1", "")
	defer a.Close()
	b := newTestClient(ctx, server, "b1", "")
	defer b.Close()
	a.waitConnected(t)
	b.waitConnected(t)

	a.presence.SetLocalState(board.PresenceUpdate{
		Cursor: board.SetField(board.Point{X: 3, Y: 4}),
	})
	waitFor(t, func() bool {
		_, ok := b.presence.Remote()[a.presence.ClientId()]
		return ok
	})

	// drop the connection but keep the document and presence
	a.transport.Close()
	waitFor(t, func() bool {
		_, ok := b.presence.Remote()[a.presence.ClientId()]
		return !ok
	})

	// the idle client reconnects without moving its cursor
	a.transport = board.NewSyncTransport(
		ctx,
		relayUrl(server),
		"b1",
		&board.SyncAuth{
			ClientId: a.presence.ClientId(),
		},
		a.doc,
		a.presence,
		testSyncTransportSettings(),
	)
	a.waitConnected(t)
	waitFor(t, func() bool {
		state, ok := b.presence.Remote()[a.presence.ClientId()]
		return ok && state.Cursor != nil && *state.Cursor == board.Point{X: 3, Y: 4}
	})
}

func TestRelayJwt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secret := "relay secret"
	sign := func(secret string, claims gojwt.MapClaims) string {
		jwt, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		assert.Equal(t, err, nil)
		return jwt
	}

	jwt := sign(secret, gojwt.MapClaims{"id": 7, "email": "a@example.com"})
	boardJwt, err := VerifyJwt(secret, jwt)
	assert.Equal(t, err, nil)
	assert.Equal(t, boardJwt.UserId, "7")
	assert.Equal(t, boardJwt.Email, "a@example.com")

	_, err = VerifyJwt(secret, sign("other secret", gojwt.MapClaims{"id": 7}))
	assert.NotEqual(t, err, nil)
	_, err = VerifyJwt(secret, "")
	assert.NotEqual(t, err, nil)
	noneJwt, err := gojwt.NewWithClaims(gojwt.SigningMethodNone, gojwt.MapClaims{"id": 7}).SignedString(gojwt.UnsafeAllowNoneSignatureType)
	assert.Equal(t, err, nil)
	_, err = VerifyJwt(secret, noneJwt)
	assert.NotEqual(t, err, nil)

	settings := testRelaySettings()
	settings.JwtSecret = secret
	relay := NewRelay(ctx, settings, nil, nil)
	defer relay.Close()
	server := httptest.NewServer(relay)
	defer server.Close()

	rejected := newTestClient(ctx, server, "b1", sign("other secret", gojwt.MapClaims{"id": 7}))
	defer rejected.Close()
	accepted := newTestClient(ctx, server, "b1", jwt)
	defer accepted.Close()

	accepted.waitConnected(t)
	// give the rejected client a few attempts
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, rejected.transport.Status(), board.SyncStatusLoading)
	assert.Equal(t, relay.Status().Connections, 1)
}

func TestRelayRoomStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryRoomStore()
	relay := NewRelay(ctx, testRelaySettings(), store, nil)
	defer relay.Close()
	server := httptest.NewServer(relay)
	defer server.Close()

	a := newTestClient(ctx, server, "b1", "")
	a.waitConnected(t)
	a.doc.Put("s1", testStroke("s1", 0))
	room, ok := relay.Room("b1")
	assert.Equal(t, ok, true)
	waitFor(t, func() bool {
		return room.Doc().Has("s1")
	})
	a.Close()

	// the last leave closes the room with a final save
	waitFor(t, func() bool {
		_, ok := relay.Room("b1")
		return !ok
	})
	waitFor(t, func() bool {
		update, err := store.Load(ctx, "b1")
		return err == nil && update != nil && len(update.Ops) == 1
	})

	// a fresh client gets the saved board from the reopened room
	b := newTestClient(ctx, server, "b1", "")
	defer b.Close()
	waitFor(t, func() bool {
		return b.doc.Has("s1")
	})

	missing, err := store.Load(ctx, "b2")
	assert.Equal(t, err, nil)
	assert.Equal(t, missing == nil, true)
}

func TestRelayFanout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewMemoryFanoutBus()
	relay1 := NewRelay(ctx, testRelaySettings(), nil, bus.Fanout())
	defer relay1.Close()
	relay2 := NewRelay(ctx, testRelaySettings(), nil, bus.Fanout())
	defer relay2.Close()
	server1 := httptest.NewServer(relay1)
	defer server1.Close()
	server2 := httptest.NewServer(relay2)
	defer server2.Close()

	a := newTestClient(ctx, server1, "b1", "")
	defer a.Close()
	b := newTestClient(ctx, server2, "b1", "")
	b.waitConnected(t)
	a.waitConnected(t)

	a.doc.Put("s1", testStroke("s1", 0))
	b.doc.Put("s2", testStroke("s2", 0))
	waitFor(t, func() bool {
		return a.doc.Has("s2") && b.doc.Has("s1")
	})

	b.presence.SetLocalState(board.PresenceUpdate{
		Cursor: board.SetField(board.Point{X: 1, Y: 1}),
	})
	waitFor(t, func() bool {
		_, ok := a.presence.Remote()[b.presence.ClientId()]
		return ok
	})
	b.Close()
	waitFor(t, func() bool {
		_, ok := a.presence.Remote()[b.presence.ClientId()]
		return !ok
	})
}

func TestRelayStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := NewRelayWithDefaults(ctx)
	defer relay.Close()
	server := httptest.NewServer(relay)
	defer server.Close()

	a := newTestClient(ctx, server, "b1", "")
	defer a.Close()
	a.waitConnected(t)

	r, err := http.Get(server.URL + "/status")
	assert.Equal(t, err, nil)
	defer r.Body.Close()
	assert.Equal(t, r.StatusCode, http.StatusOK)
	var status RelayStatus
	err = json.NewDecoder(r.Body).Decode(&status)
	assert.Equal(t, err, nil)
	assert.Equal(t, status, RelayStatus{Rooms: 1, Connections: 1})
}
