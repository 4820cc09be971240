package relay

import (
	"context"
	"sync"

	"github.com/sketchsync/sketch/board"
)

// Fanout carries room frames between relay instances, so clients of one room
// may connect to any instance. Each instance skips its own messages.
type Fanout interface {
	Publish(ctx context.Context, room string, frameBytes []byte) error
	// Subscribe calls `receive` for each frame published by other instances
	// until the returned unsubscribe is called.
	Subscribe(ctx context.Context, room string, receive func(frameBytes []byte)) (func(), error)
}

// fanout messages are the publishing instance id followed by the frame
func fanoutMessage(instanceId board.Id, frameBytes []byte) []byte {
	message := make([]byte, 0, 16+len(frameBytes))
	message = append(message, instanceId.Bytes()...)
	return append(message, frameBytes...)
}

func parseFanoutMessage(message []byte) (board.Id, []byte, bool) {
	if len(message) < 16 {
		return board.Id{}, nil, false
	}
	instanceId, err := board.IdFromBytes(message[:16])
	if err != nil {
		return board.Id{}, nil, false
	}
	return instanceId, message[16:], true
}

// MemoryFanoutBus connects instances in one process. Each instance gets its own `Fanout`.
type MemoryFanoutBus struct {
	stateLock   sync.Mutex
	nextId      int
	subscribers map[string]map[int]func(message []byte)
}

func NewMemoryFanoutBus() *MemoryFanoutBus {
	return &MemoryFanoutBus{
		subscribers: map[string]map[int]func(message []byte){},
	}
}

func (self *MemoryFanoutBus) Fanout() Fanout {
	return &memoryFanout{
		bus:        self,
		instanceId: board.NewId(),
	}
}

type memoryFanout struct {
	bus        *MemoryFanoutBus
	instanceId board.Id
}

func (self *memoryFanout) Publish(ctx context.Context, room string, frameBytes []byte) error {
	message := fanoutMessage(self.instanceId, frameBytes)
	var receivers []func(message []byte)
	func() {
		self.bus.stateLock.Lock()
		defer self.bus.stateLock.Unlock()
		for _, receive := range self.bus.subscribers[room] {
			receivers = append(receivers, receive)
		}
	}()
	for _, receive := range receivers {
		receive(message)
	}
	return nil
}

func (self *memoryFanout) Subscribe(ctx context.Context, room string, receive func(frameBytes []byte)) (func(), error) {
	self.bus.stateLock.Lock()
	defer self.bus.stateLock.Unlock()

	subscriberId := self.bus.nextId
	self.bus.nextId += 1
	roomSubscribers, ok := self.bus.subscribers[room]
	if !ok {
		roomSubscribers = map[int]func(message []byte){}
		self.bus.subscribers[room] = roomSubscribers
	}
	roomSubscribers[subscriberId] = func(message []byte) {
		if instanceId, frameBytes, ok := parseFanoutMessage(message); ok && instanceId != self.instanceId {
			receive(frameBytes)
		}
	}
	return func() {
		self.bus.stateLock.Lock()
		defer self.bus.stateLock.Unlock()
		delete(roomSubscribers, subscriberId)
		if len(roomSubscribers) == 0 {
			delete(self.bus.subscribers, room)
		}
	}, nil
}
