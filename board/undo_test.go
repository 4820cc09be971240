package board

import (
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/sketchsync/sketch/protocol"
)

// link forwards every non remote update between two replicas
func link(a *DocStore, b *DocStore) {
	a.AddUpdateCallback(func(update *protocol.Update, origin Origin) {
		if origin != OriginRemote {
			b.ApplyUpdate(update, OriginRemote)
		}
	})
	b.AddUpdateCallback(func(update *protocol.Update, origin Origin) {
		if origin != OriginRemote {
			a.ApplyUpdate(update, OriginRemote)
		}
	})
}

func TestUndoScopedToLocal(t *testing.T) {
	a := NewDocStore(NewId())
	b := NewDocStore(NewId())
	link(a, b)
	undo := NewUndoManagerWithDefaults(a)
	defer undo.Close()

	a.Put("a1", testShape("a1", 1))
	a.Put("a2", testShape("a2", 2))
	a.Put("a3", testShape("a3", 3))
	b.Put("b1", testShape("b1", 4))
	assert.Equal(t, docJson(a), docJson(b))
	assert.Equal(t, len(a.GetAll()), 4)

	assert.Equal(t, undo.Undo(), true)
	assert.Equal(t, a.Has("a3"), false)
	assert.Equal(t, a.Has("b1"), true)
	assert.Equal(t, a.Has("a2"), true)
	// the undo is replicated like any other write
	assert.Equal(t, docJson(a), docJson(b))

	assert.Equal(t, undo.Redo(), true)
	assert.Equal(t, a.Has("a3"), true)
	assert.Equal(t, undo.CanRedo(), false)

	assert.Equal(t, undo.Undo(), true)
	assert.Equal(t, undo.Undo(), true)
	assert.Equal(t, undo.Undo(), true)
	assert.Equal(t, len(a.GetAll()), 1)
	assert.Equal(t, a.GetAll()[0].Id, "b1")
	assert.Equal(t, undo.Undo(), false)
	assert.Equal(t, docJson(a), docJson(b))
}

func TestUndoTransactionUnit(t *testing.T) {
	store := NewDocStore(NewId())
	undo := NewUndoManagerWithDefaults(store)
	defer undo.Close()

	store.Put("a", testShape("a", 0))
	store.Put("b", testShape("b", 100))
	MoveShapes(store, []string{"a", "b"}, Point{X: 10, Y: 10})
	store.Transact(func(tx *DocTx) {
		tx.Delete("a")
		tx.Delete("b")
	})
	assert.Equal(t, len(store.GetAll()), 0)

	// one undo restores both deleted shapes at their moved position
	undo.Undo()
	a, _ := store.Get("a")
	b, _ := store.Get("b")
	assert.Equal(t, a.X, float64(10))
	assert.Equal(t, b.X, float64(110))

	// one undo reverts the whole drag
	undo.Undo()
	a, _ = store.Get("a")
	b, _ = store.Get("b")
	assert.Equal(t, a.X, float64(0))
	assert.Equal(t, b.X, float64(100))

	// a new local write clears redo
	assert.Equal(t, undo.CanRedo(), true)
	store.Put("c", testShape("c", 200))
	assert.Equal(t, undo.CanRedo(), false)
	assert.Equal(t, undo.Redo(), false)
}

func TestUndoIgnoresRemoteAndCache(t *testing.T) {
	store := NewDocStore(NewId())
	undo := NewUndoManagerWithDefaults(store)
	defer undo.Close()

	other := NewDocStore(NewId())
	other.Put("remote", testShape("remote", 0))
	store.ApplyUpdate(other.StateUpdate(), OriginRemote)
	store.ApplyUpdate(other.StateUpdate(), OriginCache)
	assert.Equal(t, undo.CanUndo(), false)
	assert.Equal(t, undo.Undo(), false)
	assert.Equal(t, store.Has("remote"), true)

	states := [][2]bool{}
	undo.AddChangeCallback(func(canUndo bool, canRedo bool) {
		states = append(states, [2]bool{canUndo, canRedo})
	})
	store.Put("local", testShape("local", 0))
	undo.Undo()
	assert.Equal(t, states, [][2]bool{{true, false}, {false, true}})
}

func TestUndoMaxDepth(t *testing.T) {
	store := NewDocStore(NewId())
	undo := NewUndoManager(store, &UndoSettings{MaxDepth: 2})
	defer undo.Close()

	store.Put("a", testShape("a", 0))
	store.Put("b", testShape("b", 0))
	store.Put("c", testShape("c", 0))
	assert.Equal(t, undo.Undo(), true)
	assert.Equal(t, undo.Undo(), true)
	assert.Equal(t, undo.Undo(), false)
	assert.Equal(t, store.Has("a"), true)
}

func TestUndoGroup(t *testing.T) {
	store := NewDocStore(NewId())
	undo := NewUndoManagerWithDefaults(store)
	defer undo.Close()

	store.Put("a", testShape("a", 0))
	undo.BeginGroup()
	store.Put("b", testShape("b", 0))
	store.Put("c", testShape("c", 0))
	store.Delete("a")
	undo.EndGroup()
	store.Put("d", testShape("d", 0))

	assert.Equal(t, undo.Undo(), true)
	assert.Equal(t, store.Has("d"), false)
	// the group reverts newest first
	assert.Equal(t, undo.Undo(), true)
	assert.Equal(t, store.Has("a"), true)
	assert.Equal(t, store.Has("b"), false)
	assert.Equal(t, store.Has("c"), false)
	assert.Equal(t, undo.Undo(), true)
	assert.Equal(t, store.Has("a"), false)
	assert.Equal(t, undo.CanUndo(), false)

	// remote writes inside a group are not recorded
	undo.BeginGroup()
	store.Put("e", testShape("e", 0))
	other := NewDocStore(NewId())
	other.Put("remote", testShape("remote", 0))
	store.ApplyUpdate(other.StateUpdate(), OriginRemote)
	store.Put("f", testShape("f", 0))
	undo.EndGroup()
	assert.Equal(t, undo.Undo(), true)
	assert.Equal(t, store.Has("e"), false)
	assert.Equal(t, store.Has("f"), false)
	assert.Equal(t, store.Has("remote"), true)
	assert.Equal(t, undo.CanUndo(), false)
}
