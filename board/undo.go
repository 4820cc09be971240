package board

import (
	"sync"
)

func DefaultUndoSettings() *UndoSettings {
	return &UndoSettings{
		MaxDepth: 200,
	}
}

type UndoSettings struct {
	// oldest units are dropped past this depth
	MaxDepth int
}

// an undo unit is the changes of one local transaction
type undoUnit struct {
	changes []*Change
}

// inverse writes `Old` for each change, newest first
func (self *undoUnit) inverse(tx *DocTx) {
	for i := len(self.changes) - 1; 0 <= i; i -= 1 {
		change := self.changes[i]
		if change.Old == nil {
			tx.Delete(change.Id)
		} else {
			tx.Put(change.Id, change.Old)
		}
	}
}

func (self *undoUnit) apply(tx *DocTx) {
	for _, change := range self.changes {
		if change.New == nil {
			tx.Delete(change.Id)
		} else {
			tx.Put(change.Id, change.New)
		}
	}
}

// UndoManager keeps a linear undo and redo stack of local transactions.
// Remote, cache, and undo writes are never recorded, so undo only reverts
// what this client did. Interleaved remote edits to the same shapes are not reconciled:
// undo writes the earlier whole record back.
type UndoManager struct {
	doc      *DocStore
	settings *UndoSettings

	stateLock sync.Mutex
	undoStack []*undoUnit
	redoStack []*undoUnit
	// while a group is open, local transactions extend `groupUnit`
	grouping  bool
	groupUnit *undoUnit

	unsub func()

	changeCallbacks *CallbackList[func(canUndo bool, canRedo bool)]
}

func NewUndoManagerWithDefaults(doc *DocStore) *UndoManager {
	return NewUndoManager(doc, DefaultUndoSettings())
}

func NewUndoManager(doc *DocStore, settings *UndoSettings) *UndoManager {
	undoManager := &UndoManager{
		doc:             doc,
		settings:        settings,
		changeCallbacks: NewCallbackList[func(canUndo bool, canRedo bool)](),
	}
	undoManager.unsub = doc.AddObserver(undoManager.observe)
	return undoManager
}

func (self *UndoManager) AddChangeCallback(changeCallback func(canUndo bool, canRedo bool)) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

func (self *UndoManager) observe(event *DocEvent) {
	if event.Origin != OriginLocal {
		return
	}
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if n := len(self.undoStack); self.grouping && self.groupUnit != nil && 0 < n && self.undoStack[n-1] == self.groupUnit {
			self.groupUnit.changes = append(self.groupUnit.changes, event.Changes...)
			self.redoStack = nil
			return
		}
		unit := &undoUnit{
			changes: event.Changes,
		}
		if self.grouping {
			self.groupUnit = unit
		}
		self.undoStack = append(self.undoStack, unit)
		if maxDepth := self.settings.MaxDepth; 0 < maxDepth && maxDepth < len(self.undoStack) {
			self.undoStack = self.undoStack[len(self.undoStack)-maxDepth:]
		}
		// linear history
		self.redoStack = nil
	}()
	self.changed()
}

// BeginGroup merges the following local transactions into one undo unit until `EndGroup`,
// e.g. every shape one eraser gesture deletes.
func (self *UndoManager) BeginGroup() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.grouping = true
	self.groupUnit = nil
}

func (self *UndoManager) EndGroup() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.grouping = false
	self.groupUnit = nil
}

// Undo reverts the most recent local transaction. Returns false when there is nothing to undo.
func (self *UndoManager) Undo() bool {
	var unit *undoUnit
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if n := len(self.undoStack); 0 < n {
			unit = self.undoStack[n-1]
			self.undoStack = self.undoStack[:n-1]
			self.redoStack = append(self.redoStack, unit)
		}
	}()
	if unit == nil {
		return false
	}
	self.doc.TransactWithOrigin(OriginUndo, unit.inverse)
	self.changed()
	return true
}

// Redo re-applies the most recently undone transaction.
func (self *UndoManager) Redo() bool {
	var unit *undoUnit
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if n := len(self.redoStack); 0 < n {
			unit = self.redoStack[n-1]
			self.redoStack = self.redoStack[:n-1]
			self.undoStack = append(self.undoStack, unit)
		}
	}()
	if unit == nil {
		return false
	}
	self.doc.TransactWithOrigin(OriginUndo, unit.apply)
	self.changed()
	return true
}

func (self *UndoManager) CanUndo() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return 0 < len(self.undoStack)
}

func (self *UndoManager) CanRedo() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return 0 < len(self.redoStack)
}

// Clear drops both stacks, e.g. when switching boards.
func (self *UndoManager) Clear() {
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		self.undoStack = nil
		self.redoStack = nil
	}()
	self.changed()
}

func (self *UndoManager) Close() {
	self.unsub()
}

func (self *UndoManager) changed() {
	canUndo := self.CanUndo()
	canRedo := self.CanRedo()
	for _, changeCallback := range self.changeCallbacks.Get() {
		HandleError(func() {
			changeCallback(canUndo, canRedo)
		})
	}
}
