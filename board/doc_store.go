package board

import (
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/sketchsync/sketch/protocol"
)

// The document is a map of last-writer-wins registers.
// Every write carries a lamport clock and the writer's replica id.
// For one key the write with the higher clock wins, and equal clocks are
// ordered by replica id. Deletes are tombstone writes with the same ordering,
// so any two replicas that have seen the same set of writes hold the same map
// regardless of delivery order.
//
// A write replaces the whole shape record. Two concurrent edits of different
// fields of one shape resolve to exactly one of the two records.

type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
	OriginCache
	OriginUndo
)

func (self Origin) String() string {
	switch self {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	case OriginCache:
		return "cache"
	case OriginUndo:
		return "undo"
	default:
		return "unknown"
	}
}

// Change is the visible effect of a write on one key. nil means absent.
type Change struct {
	Id  string
	Old *Shape
	New *Shape
}

type DocEvent struct {
	Origin  Origin
	Version uint64
	Changes []*Change
}

// observers may read the store but must not write to it from the callback
type DocObserver func(event *DocEvent)

// update callbacks receive the accepted ops of each event, e.g. to persist or send them
type DocUpdateCallback func(update *protocol.Update, origin Origin)

type docEntry struct {
	shape     *Shape
	shapeJson []byte
	deleted   bool
	clock     uint64
	replicaId Id
}

// olderThan reports whether a write (clock, replicaId) wins over this entry
func (self *docEntry) olderThan(clock uint64, replicaId Id) bool {
	if self.clock != clock {
		return self.clock < clock
	}
	return self.replicaId.Cmp(replicaId) < 0
}

func (self *docEntry) op(key string) *protocol.Op {
	op := &protocol.Op{
		Key:       key,
		Clock:     self.clock,
		ReplicaId: self.replicaId.Bytes(),
	}
	if self.deleted {
		op.Deleted = true
	} else {
		op.Value = self.shapeJson
	}
	return op
}

type DocSnapshot struct {
	Version uint64
	// shared, do not modify. Clone to edit.
	Shapes []*Shape
}

type DocStore struct {
	replicaId Id

	// serializes writes and event delivery
	writeLock sync.Mutex

	stateLock sync.RWMutex
	entries   map[string]*docEntry
	clock     uint64
	version   uint64
	snapshot  *DocSnapshot

	observers       *CallbackList[DocObserver]
	updateCallbacks *CallbackList[DocUpdateCallback]
}

func NewDocStore(replicaId Id) *DocStore {
	return &DocStore{
		replicaId:       replicaId,
		entries:         map[string]*docEntry{},
		observers:       NewCallbackList[DocObserver](),
		updateCallbacks: NewCallbackList[DocUpdateCallback](),
	}
}

func (self *DocStore) ReplicaId() Id {
	return self.replicaId
}

func (self *DocStore) AddObserver(observer DocObserver) func() {
	callbackId := self.observers.Add(observer)
	return func() {
		self.observers.Remove(callbackId)
	}
}

func (self *DocStore) AddUpdateCallback(updateCallback DocUpdateCallback) func() {
	callbackId := self.updateCallbacks.Add(updateCallback)
	return func() {
		self.updateCallbacks.Remove(callbackId)
	}
}

// Put writes the whole record for `id`. It never fails and applies synchronously.
func (self *DocStore) Put(id string, shape *Shape) {
	self.Transact(func(tx *DocTx) {
		tx.Put(id, shape)
	})
}

func (self *DocStore) Delete(id string) {
	self.Transact(func(tx *DocTx) {
		tx.Delete(id)
	})
}

// Transact applies all writes in `fn` as one local event.
func (self *DocStore) Transact(fn func(tx *DocTx)) {
	self.TransactWithOrigin(OriginLocal, fn)
}

func (self *DocStore) TransactWithOrigin(origin Origin, fn func(tx *DocTx)) {
	self.writeLock.Lock()
	defer self.writeLock.Unlock()

	tx := &DocTx{
		store:         self,
		origin:        origin,
		changeIndexes: map[string]int{},
	}
	func() {
		defer func() {
			tx.closed = true
		}()
		fn(tx)
	}()
	self.emit(tx)
}

// ApplyUpdate merges writes from another replica or the local cache.
// Ops that lose to the current entry are dropped. Duplicates are no-ops.
func (self *DocStore) ApplyUpdate(update *protocol.Update, origin Origin) {
	self.writeLock.Lock()
	defer self.writeLock.Unlock()

	tx := &DocTx{
		store:         self,
		origin:        origin,
		changeIndexes: map[string]int{},
	}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		for _, op := range update.Ops {
			replicaId, err := IdFromBytes(op.ReplicaId)
			if err != nil {
				glog.Infof("[doc]drop op %s: %s\n", op.Key, err)
				continue
			}
			entry := &docEntry{
				deleted:   op.Deleted,
				clock:     op.Clock,
				replicaId: replicaId,
			}
			if !op.Deleted {
				shape, err := ParseShape(op.Value)
				if err != nil {
					glog.Infof("[doc]drop op %s: %s\n", op.Key, err)
					continue
				}
				shape.Id = op.Key
				entry.shape = shape
				entry.shapeJson = op.Value
			}
			self.clock = max(self.clock, op.Clock)
			tx.applyUnlocked(op.Key, entry)
		}
	}()
	tx.closed = true
	self.emit(tx)
}

// must be called with `writeLock`
func (self *DocStore) emit(tx *DocTx) {
	if len(tx.ops) == 0 {
		return
	}

	var version uint64
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.version += 1
		self.snapshot = nil
		version = self.version
	}()

	glog.V(2).Infof("[doc]%s v%d ops=%d changes=%d\n", tx.origin, version, len(tx.ops), len(tx.changes))

	if 0 < len(tx.changes) {
		event := &DocEvent{
			Origin:  tx.origin,
			Version: version,
			Changes: tx.changes,
		}
		for _, observer := range self.observers.Get() {
			HandleError(func() {
				observer(event)
			})
		}
	}
	update := &protocol.Update{
		Ops: tx.ops,
	}
	for _, updateCallback := range self.updateCallbacks.Get() {
		HandleError(func() {
			updateCallback(update, tx.origin)
		})
	}
}

func (self *DocStore) Get(id string) (*Shape, bool) {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()

	entry, ok := self.entries[id]
	if !ok || entry.deleted {
		return nil, false
	}
	return entry.shape, true
}

func (self *DocStore) Has(id string) bool {
	_, ok := self.Get(id)
	return ok
}

func (self *DocStore) Version() uint64 {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()
	return self.version
}

// GetAll returns the live shapes ordered by winning write (clock, replica id).
// The order is the same on every converged replica and is the paint order.
func (self *DocStore) GetAll() []*Shape {
	return self.Snapshot().Shapes
}

func (self *DocStore) Snapshot() *DocSnapshot {
	self.stateLock.RLock()
	snapshot := self.snapshot
	self.stateLock.RUnlock()
	if snapshot != nil {
		return snapshot
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.snapshot != nil {
		return self.snapshot
	}
	entries := make([]*docEntry, 0, len(self.entries))
	for _, entry := range self.entries {
		if !entry.deleted {
			entries = append(entries, entry)
		}
	}
	slices.SortFunc(entries, func(a *docEntry, b *docEntry) int {
		if a.clock != b.clock {
			if a.clock < b.clock {
				return -1
			}
			return 1
		}
		if c := a.replicaId.Cmp(b.replicaId); c != 0 {
			return c
		}
		// a replica never writes two keys with the same clock, but a remote peer could
		if a.shape.Id < b.shape.Id {
			return -1
		} else if b.shape.Id < a.shape.Id {
			return 1
		}
		return 0
	})
	shapes := make([]*Shape, 0, len(entries))
	for _, entry := range entries {
		shapes = append(shapes, entry.shape)
	}
	self.snapshot = &DocSnapshot{
		Version: self.version,
		Shapes:  shapes,
	}
	return self.snapshot
}

// StateUpdate is every entry including tombstones, ordered by key.
// Applying it to an empty replica reproduces this replica.
func (self *DocStore) StateUpdate() *protocol.Update {
	self.stateLock.RLock()
	defer self.stateLock.RUnlock()

	keys := maps.Keys(self.entries)
	slices.Sort(keys)
	ops := make([]*protocol.Op, 0, len(keys))
	for _, key := range keys {
		ops = append(ops, self.entries[key].op(key))
	}
	return &protocol.Update{
		Ops: ops,
	}
}

// DocTx collects the writes of one event. It is only valid inside the transact callback.
type DocTx struct {
	store  *DocStore
	origin Origin

	ops           []*protocol.Op
	changes       []*Change
	changeIndexes map[string]int
	closed        bool
}

func (self *DocTx) Origin() Origin {
	return self.origin
}

func (self *DocTx) Get(id string) (*Shape, bool) {
	return self.store.Get(id)
}

func (self *DocTx) Put(id string, shape *Shape) {
	if self.closed {
		glog.Infof("[doc]put %s after transaction end\n", id)
		return
	}
	shape = shape.Clone()
	shape.Id = id
	self.write(id, &docEntry{
		shape:     shape,
		shapeJson: shape.Json(),
	})
}

// Delete is a no-op when `id` is not live.
func (self *DocTx) Delete(id string) {
	if self.closed {
		glog.Infof("[doc]delete %s after transaction end\n", id)
		return
	}
	if !self.store.Has(id) {
		return
	}
	self.write(id, &docEntry{
		deleted: true,
	})
}

func (self *DocTx) write(id string, entry *docEntry) {
	self.store.stateLock.Lock()
	defer self.store.stateLock.Unlock()

	self.store.clock += 1
	entry.clock = self.store.clock
	entry.replicaId = self.store.replicaId
	self.applyUnlocked(id, entry)
}

// must be called with the store `stateLock`
func (self *DocTx) applyUnlocked(id string, entry *docEntry) {
	var old *Shape
	if current, ok := self.store.entries[id]; ok {
		if !current.olderThan(entry.clock, entry.replicaId) {
			return
		}
		if !current.deleted {
			old = current.shape
		}
	}
	self.store.entries[id] = entry
	self.ops = append(self.ops, entry.op(id))

	var next *Shape
	if !entry.deleted {
		next = entry.shape
	}
	if old == nil && next == nil {
		// tombstone for an absent key
		return
	}
	if i, ok := self.changeIndexes[id]; ok {
		self.changes[i].New = next
	} else {
		self.changeIndexes[id] = len(self.changes)
		self.changes = append(self.changes, &Change{
			Id:  id,
			Old: old,
			New: next,
		})
	}
}
