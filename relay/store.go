package relay

import (
	"context"
	"sync"

	"github.com/sketchsync/sketch/board"
	"github.com/sketchsync/sketch/protocol"
)

// RoomStore keeps the merged state of each room between relay restarts.
type RoomStore interface {
	// Load returns nil when the room was never saved
	Load(ctx context.Context, room string) (*protocol.Update, error)
	// Save merges `update` into the saved state. Merging keeps saves from
	// several relay instances of one room from overwriting each other.
	Save(ctx context.Context, room string, update *protocol.Update) error
}

// MergeUpdates is the state of a replica that applied all the updates, in any order.
func MergeUpdates(updates ...*protocol.Update) *protocol.Update {
	doc := board.NewDocStore(board.NewId())
	for _, update := range updates {
		if update != nil {
			doc.ApplyUpdate(update, board.OriginCache)
		}
	}
	return doc.StateUpdate()
}

type MemoryRoomStore struct {
	stateLock sync.Mutex
	rooms     map[string][]byte
}

func NewMemoryRoomStore() *MemoryRoomStore {
	return &MemoryRoomStore{
		rooms: map[string][]byte{},
	}
}

func (self *MemoryRoomStore) Load(ctx context.Context, room string) (*protocol.Update, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	stateBytes, ok := self.rooms[room]
	if !ok {
		return nil, nil
	}
	update := &protocol.Update{}
	if err := update.Unmarshal(stateBytes); err != nil {
		return nil, err
	}
	return update, nil
}

func (self *MemoryRoomStore) Save(ctx context.Context, room string, update *protocol.Update) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	var saved *protocol.Update
	if stateBytes, ok := self.rooms[room]; ok {
		saved = &protocol.Update{}
		if err := saved.Unmarshal(stateBytes); err != nil {
			return err
		}
	}
	self.rooms[room] = MergeUpdates(saved, update).Marshal()
	return nil
}
