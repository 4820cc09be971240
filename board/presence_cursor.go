package board

import (
	"context"
	"sync"
	"time"
)

const (
	CursorSmoothing = 0.2
	// one animation frame
	CursorTickInterval = 16 * time.Millisecond
)

type SmoothCursor struct {
	ClientId Id
	Position Point
	Name     string
	Color    string
}

// CursorSmoother eases each remote cursor toward its last sample on every tick.
type CursorSmoother struct {
	factor float64

	stateLock sync.Mutex
	cursors   map[Id]SmoothCursor
}

func NewCursorSmoother(factor float64) *CursorSmoother {
	return &CursorSmoother{
		factor:  factor,
		cursors: map[Id]SmoothCursor{},
	}
}

// Tick advances every cursor one step toward `states`. A new client snaps to its sample.
// A client without a cursor in `states` is dropped.
func (self *CursorSmoother) Tick(states map[Id]*PresenceState) map[Id]SmoothCursor {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	next := map[Id]SmoothCursor{}
	for clientId, state := range states {
		if state.Cursor == nil {
			continue
		}
		raw := *state.Cursor
		position := raw
		if cursor, ok := self.cursors[clientId]; ok {
			position = cursor.Position.Add(raw.Sub(cursor.Position).Scale(self.factor))
		}
		next[clientId] = SmoothCursor{
			ClientId: clientId,
			Position: position,
			Name:     state.Name,
			Color:    state.Color,
		}
	}
	self.cursors = next
	return self.cursorsUnlocked()
}

func (self *CursorSmoother) Cursors() map[Id]SmoothCursor {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.cursorsUnlocked()
}

func (self *CursorSmoother) cursorsUnlocked() map[Id]SmoothCursor {
	cursors := make(map[Id]SmoothCursor, len(self.cursors))
	for clientId, cursor := range self.cursors {
		cursors[clientId] = cursor
	}
	return cursors
}

// RunCursorSmoother ticks at a fixed interval until `ctx` is done,
// reading the latest remote presence each tick.
func RunCursorSmoother(
	ctx context.Context,
	presence *PresenceChannel,
	smoother *CursorSmoother,
	interval time.Duration,
	callback func(map[Id]SmoothCursor),
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cursors := smoother.Tick(presence.Remote())
		HandleError(func() {
			callback(cursors)
		})
	}
}
