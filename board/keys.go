package board

import (
	"strings"
)

type KeyEvent struct {
	// the key value, e.g. "a", "Delete", "Backspace"
	Key   string
	Ctrl  bool
	Meta  bool
	Shift bool
	Alt   bool
	// a text input has focus
	TextFocus bool
}

func (self *KeyEvent) command() bool {
	return self.Ctrl || self.Meta
}

// KeyAction names what a key event did, for the caller to e.g. prevent the default.
type KeyAction string

const (
	KeyActionNone   KeyAction = ""
	KeyActionTool   KeyAction = "tool"
	KeyActionDelete KeyAction = "delete"
	KeyActionCopy   KeyAction = "copy"
	KeyActionPaste  KeyAction = "paste"
	KeyActionUndo   KeyAction = "undo"
	KeyActionRedo   KeyAction = "redo"
)

// KeyHandler is the keyboard surface of a board.
// Every binding is ignored while a text input has focus.
type KeyHandler struct {
	doc       *DocStore
	selection *Selection
	machine   *ToolMachine
	undo      *UndoManager
	clipboard Clipboard
}

func NewKeyHandler(doc *DocStore, selection *Selection, machine *ToolMachine, undo *UndoManager, clipboard Clipboard) *KeyHandler {
	return &KeyHandler{
		doc:       doc,
		selection: selection,
		machine:   machine,
		undo:      undo,
		clipboard: clipboard,
	}
}

func (self *KeyHandler) KeyDown(event KeyEvent) KeyAction {
	if event.TextFocus {
		return KeyActionNone
	}
	key := strings.ToLower(event.Key)

	if event.command() {
		switch key {
		case "c":
			if n, err := CopySelection(self.doc, self.selection, self.clipboard); err == nil && 0 < n {
				return KeyActionCopy
			}
		case "v":
			if 0 < len(PasteClipboard(self.doc, self.selection, self.clipboard)) {
				return KeyActionPaste
			}
		case "z":
			if event.Shift {
				self.undo.Redo()
				return KeyActionRedo
			}
			self.undo.Undo()
			return KeyActionUndo
		case "y":
			self.undo.Redo()
			return KeyActionRedo
		}
		return KeyActionNone
	}

	switch event.Key {
	case "Delete", "Backspace":
		if 0 < DeleteSelection(self.doc, self.selection) {
			return KeyActionDelete
		}
		return KeyActionNone
	}

	if event.Alt {
		return KeyActionNone
	}
	if tool, ok := ToolHotkeys[key]; ok {
		if err := self.machine.SetTool(tool); err == nil {
			return KeyActionTool
		}
	}
	return KeyActionNone
}
