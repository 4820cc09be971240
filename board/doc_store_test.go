package board

import (
	"bytes"
	"fmt"
	mathrand "math/rand"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/sketchsync/sketch/protocol"
)

func testShape(id string, x float64) *Shape {
	return &Shape{
		Id:          id,
		Type:        ShapeTypeRectangle,
		X:           x,
		Y:           x,
		Width:       10,
		Height:      10,
		StrokeColor: DefaultStrokeColor,
		StrokeWidth: 2,
		ScaleX:      1,
		ScaleY:      1,
	}
}

func docJson(store *DocStore) []byte {
	b := []byte{}
	for _, shape := range store.GetAll() {
		b = append(b, shape.Json()...)
		b = append(b, '\n')
	}
	return b
}

func TestDocPutDelete(t *testing.T) {
	store := NewDocStore(NewId())

	events := []*DocEvent{}
	store.AddObserver(func(event *DocEvent) {
		events = append(events, event)
	})

	store.Put("a", testShape("a", 1))
	store.Put("b", testShape("b", 2))
	assert.Equal(t, len(store.GetAll()), 2)
	assert.Equal(t, store.Has("a"), true)

	store.Delete("a")
	assert.Equal(t, store.Has("a"), false)
	assert.Equal(t, len(store.GetAll()), 1)
	assert.Equal(t, store.GetAll()[0].Id, "b")

	// deleting an absent id is not an event
	store.Delete("a")
	store.Delete("c")
	assert.Equal(t, len(events), 3)
	assert.Equal(t, events[2].Changes[0].Id, "a")
	assert.Equal(t, events[2].Changes[0].New == nil, true)
	assert.Equal(t, events[2].Changes[0].Old.X, float64(1))

	// the stored record is a copy
	shape := testShape("d", 4)
	store.Put("d", shape)
	shape.X = 100
	d, _ := store.Get("d")
	assert.Equal(t, d.X, float64(4))
}

func TestDocTransactIsOneEvent(t *testing.T) {
	store := NewDocStore(NewId())

	events := []*DocEvent{}
	store.AddObserver(func(event *DocEvent) {
		events = append(events, event)
	})
	updates := []*protocol.Update{}
	store.AddUpdateCallback(func(update *protocol.Update, origin Origin) {
		assert.Equal(t, origin, OriginLocal)
		updates = append(updates, update)
	})

	store.Transact(func(tx *DocTx) {
		tx.Put("a", testShape("a", 1))
		tx.Put("b", testShape("b", 2))
		tx.Put("a", testShape("a", 3))
	})
	assert.Equal(t, len(events), 1)
	assert.Equal(t, len(events[0].Changes), 2)
	assert.Equal(t, events[0].Changes[0].Old == nil, true)
	assert.Equal(t, events[0].Changes[0].New.X, float64(3))
	assert.Equal(t, len(updates), 1)
	assert.Equal(t, len(updates[0].Ops), 3)
}

func TestDocConvergence(t *testing.T) {
	// three replicas write concurrently, then every replica receives all ops in a random order
	replicaCount := 3
	stores := []*DocStore{}
	allOps := []*protocol.Op{}
	for i := 0; i < replicaCount; i += 1 {
		store := NewDocStore(NewId())
		store.AddUpdateCallback(func(update *protocol.Update, origin Origin) {
			if origin == OriginLocal {
				allOps = append(allOps, update.Ops...)
			}
		})
		stores = append(stores, store)
	}

	for round := 0; round < 200; round += 1 {
		store := stores[mathrand.Intn(replicaCount)]
		id := fmt.Sprintf("s%d", mathrand.Intn(20))
		if mathrand.Intn(4) == 0 {
			store.Delete(id)
		} else {
			store.Put(id, testShape(id, float64(round)))
		}
	}

	for _, store := range stores {
		ops := make([]*protocol.Op, len(allOps))
		copy(ops, allOps)
		mathrand.Shuffle(len(ops), func(i, j int) {
			ops[i], ops[j] = ops[j], ops[i]
		})
		// deliver in a few batches, with duplicates
		for i := 0; i < len(ops); i += 17 {
			end := min(len(ops), i+17)
			store.ApplyUpdate(&protocol.Update{Ops: ops[i:end]}, OriginRemote)
		}
		store.ApplyUpdate(&protocol.Update{Ops: ops}, OriginRemote)
	}

	for i := 1; i < replicaCount; i += 1 {
		assert.Equal(t, bytes.Equal(docJson(stores[0]), docJson(stores[i])), true)
	}

	// a fresh replica from the full state of one replica also converges
	fresh := NewDocStore(NewId())
	fresh.ApplyUpdate(stores[1].StateUpdate(), OriginRemote)
	assert.Equal(t, bytes.Equal(docJson(stores[0]), docJson(fresh)), true)
}

func TestDocLastWriterWins(t *testing.T) {
	a := NewDocStore(NewId())
	b := NewDocStore(NewId())

	// concurrent edits of different fields of the same shape
	base := testShape("s", 0)
	a.Put("s", base)
	b.ApplyUpdate(a.StateUpdate(), OriginRemote)

	moved := base.Clone()
	moved.X = 50
	recolored := base.Clone()
	recolored.StrokeColor = "#ff0000"

	var opA, opB *protocol.Update
	a.AddUpdateCallback(func(update *protocol.Update, origin Origin) {
		if origin == OriginLocal {
			opA = update
		}
	})
	b.AddUpdateCallback(func(update *protocol.Update, origin Origin) {
		if origin == OriginLocal {
			opB = update
		}
	})
	a.Put("s", moved)
	b.Put("s", recolored)

	a.ApplyUpdate(opB, OriginRemote)
	b.ApplyUpdate(opA, OriginRemote)

	sa, _ := a.Get("s")
	sb, _ := b.Get("s")
	assert.Equal(t, string(sa.Json()), string(sb.Json()))

	// exactly one of the two records, never a blend
	isMoved := sa.X == 50 && sa.StrokeColor == DefaultStrokeColor
	isRecolored := sa.X == 0 && sa.StrokeColor == "#ff0000"
	assert.Equal(t, isMoved != isRecolored, true)

	// equal clocks are ordered by replica id
	if a.ReplicaId().Cmp(b.ReplicaId()) < 0 {
		assert.Equal(t, isRecolored, true)
	} else {
		assert.Equal(t, isMoved, true)
	}
}

func TestDocTombstoneWinsOverOlderPut(t *testing.T) {
	a := NewDocStore(NewId())
	b := NewDocStore(NewId())

	updates := []*protocol.Update{}
	a.AddUpdateCallback(func(update *protocol.Update, origin Origin) {
		updates = append(updates, update)
	})
	a.Put("s", testShape("s", 1))
	a.Delete("s")

	// delivered out of order
	b.ApplyUpdate(updates[1], OriginRemote)
	b.ApplyUpdate(updates[0], OriginRemote)
	assert.Equal(t, b.Has("s"), false)
	assert.Equal(t, len(b.GetAll()), 0)

	// a later local write resurrects the id with a higher clock
	b.Put("s", testShape("s", 2))
	s, ok := b.Get("s")
	assert.Equal(t, ok, true)
	assert.Equal(t, s.X, float64(2))
}

func TestDocMalformedOpDropped(t *testing.T) {
	store := NewDocStore(NewId())
	store.ApplyUpdate(&protocol.Update{
		Ops: []*protocol.Op{
			{Key: "bad", Value: []byte("{"), Clock: 1, ReplicaId: NewId().Bytes()},
			{Key: "short", Value: testShape("short", 0).Json(), Clock: 1, ReplicaId: []byte{1}},
			{Key: "good", Value: testShape("good", 0).Json(), Clock: 1, ReplicaId: NewId().Bytes()},
		},
	}, OriginRemote)
	assert.Equal(t, len(store.GetAll()), 1)
	assert.Equal(t, store.Has("good"), true)
}

func TestDocSnapshotCached(t *testing.T) {
	store := NewDocStore(NewId())
	store.Put("a", testShape("a", 1))

	snapshot := store.Snapshot()
	assert.Equal(t, store.Snapshot() == snapshot, true)

	store.Put("b", testShape("b", 1))
	snapshot2 := store.Snapshot()
	assert.Equal(t, snapshot2 == snapshot, false)
	assert.Equal(t, snapshot2.Version, snapshot.Version+1)
	// paint order is write order
	assert.Equal(t, snapshot2.Shapes[1].Id, "b")
}
