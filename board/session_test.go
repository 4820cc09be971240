package board

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/sketchsync/sketch/protocol"
)

func testSessionConfig() *Config {
	config := DefaultConfig()
	config.Identity = &Identity{Name: "Ada", Color: "#3B82F6"}
	config.Sync.ViewportDelayMillis = 10
	config.Sync.PresenceIntervalMillis = 5
	return config
}

func TestSessionOffline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	index, err := OpenLocalIndex(dir, DefaultLocalIndexSettings())
	assert.Equal(t, err, nil)
	defer index.Close()

	_, err = OpenSession(ctx, "", index, &SessionOptions{Offline: true})
	assert.NotEqual(t, err, nil)

	session, err := OpenSession(ctx, "board", index, &SessionOptions{
		Config:  testSessionConfig(),
		Offline: true,
	})
	assert.Equal(t, err, nil)
	<-session.Synced()
	assert.Equal(t, session.Status(), SyncStatusDisconnected)
	assert.Equal(t, session.Identity(), Identity{Name: "Ada", Color: "#3B82F6"})

	machine := session.Machine()
	assert.Equal(t, machine.Tool(), ToolStroke)
	machine.Down(at(10, 10))
	machine.Move(at(20, 20))
	stroke := machine.Up(at(30, 10))
	assert.NotEqual(t, stroke, nil)

	assert.Equal(t, machine.SetTool(ToolRectangle), nil)
	machine.Down(at(100, 100))
	rect := machine.Up(at(200, 150))
	assert.NotEqual(t, rect, nil)
	assert.Equal(t, len(session.Visible()), 2)

	// deleting a selected shape, from any origin, drops it from the selection
	session.Selection().Set(stroke.Id, rect.Id)
	session.Doc().Delete(rect.Id)
	assert.Equal(t, session.Selection().Ids(), []string{stroke.Id})

	// undo the delete
	assert.Equal(t, session.Undo().Undo(), true)
	assert.Equal(t, session.Doc().Has(rect.Id), true)

	// zoom about the canvas center
	session.SetCanvas(Size{Width: 1000, Height: 800})
	viewport := session.Zoom(1)
	assert.Equal(t, math.Abs(viewport.Scale-1.1) < 1e-9, true)
	assert.Equal(t, near(viewport.ToWorld(Point{X: 500, Y: 400}), Point{X: 500, Y: 400}), true)
	// panned far away, the shapes are culled
	session.SetViewport(Viewport{X: -100000, Y: 0, Scale: 1})
	session.Selection().Clear()
	assert.Equal(t, len(session.Visible()), 0)
	session.Zoom(0)
	assert.Equal(t, session.Viewport(), DefaultViewport())

	// text editing ends on the select tool and empty text is removed
	assert.Equal(t, machine.SetTool(ToolText), nil)
	machine.Down(at(400, 400))
	text := machine.Up(at(400, 400))
	assert.NotEqual(t, text, nil)
	assert.Equal(t, session.Editing().EditingId(), text.Id)
	session.Editing().Finish()
	assert.Equal(t, session.Doc().Has(text.Id), false)
	assert.Equal(t, machine.Tool(), ToolSelect)

	assert.Equal(t, session.Rename("Sketches"), nil)
	assert.Equal(t, session.SetIdentity(Identity{Name: "Grace"}), nil)
	session.Close()
	// closing twice is fine
	session.Close()

	// everything was kept in the local cache
	boards, err := index.Boards()
	assert.Equal(t, err, nil)
	assert.Equal(t, boards[0].Name, "Sketches")
	assert.Equal(t, index.LoadIdentity().Name, "Grace")

	session, err = OpenSession(ctx, "board", index, &SessionOptions{
		Config:  DefaultConfig(),
		Offline: true,
	})
	assert.Equal(t, err, nil)
	defer session.Close()
	<-session.Synced()
	assert.Equal(t, session.Doc().Has(stroke.Id), true)
	assert.Equal(t, session.Doc().Has(rect.Id), true)
	assert.Equal(t, session.Viewport(), DefaultViewport())
	// the saved identity is used when the config has none
	assert.Equal(t, session.Identity().Name, "Grace")
	assert.NotEqual(t, session.Identity().Color, "")
}

func TestSessionRelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := newTestRelay()
	defer relay.Close()

	index, err := OpenLocalIndex(t.TempDir(), DefaultLocalIndexSettings())
	assert.Equal(t, err, nil)
	defer index.Close()

	config := testSessionConfig()
	config.RelayUrl = relay.Url()
	session, err := OpenSession(ctx, "board", index, &SessionOptions{
		Config: config,
		Token:  "token",
	})
	assert.Equal(t, err, nil)

	waitFor(t, func() bool {
		return session.Status() == SyncStatusConnected
	})
	auth := relay.Auths()[0]
	assert.Equal(t, auth.Token, "token")
	assert.Equal(t, auth.ClientId, session.ClientId().Bytes())

	cursors := make(chan map[Id]SmoothCursor, 256)
	session.AddCursorCallback(func(c map[Id]SmoothCursor) {
		select {
		case cursors <- c:
		default:
		}
	})

	// a remote cursor is smoothed toward its target
	remoteId := NewId()
	relay.Push(t, remoteAwareness(t, remoteId, 1, &PresenceState{
		Name:   "Calm Owl",
		Color:  "#EC5E41",
		Cursor: &Point{X: 100, Y: 100},
	}))
	waitFor(t, func() bool {
		return len(session.ActiveUsers()) == 2
	})
	end := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case c := <-cursors:
			if cursor, ok := c[remoteId]; ok && 99 < cursor.Position.X {
				assert.Equal(t, cursor.Name, "Calm Owl")
				done = true
			}
		case <-end:
			t.Fatalf("cursor not smoothed")
		}
	}

	// local cursor moves are broadcast
	session.Machine().Move(at(5, 6))
	for {
		awareness := relay.Next(t, &protocol.Awareness{}).(*protocol.Awareness)
		if awareness.Removed {
			continue
		}
		state := &PresenceState{}
		assert.Equal(t, json.Unmarshal(awareness.State, state), nil)
		if state.Cursor != nil {
			assert.Equal(t, *state.Cursor, Point{X: 5, Y: 6})
			break
		}
	}

	session.Close()
	waitFor(t, func() bool {
		return len(session.Presence().Remote()) == 0
	})
}
