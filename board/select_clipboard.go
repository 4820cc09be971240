package board

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/golang/glog"
)

// pasted shapes are offset so they do not cover the originals
const PasteOffset = 20.0

// Clipboard is the system clipboard text surface.
type Clipboard interface {
	ReadText() (string, error)
	WriteText(text string) error
}

// MemoryClipboard is a process local clipboard.
type MemoryClipboard struct {
	stateLock sync.Mutex
	text      string
}

func NewMemoryClipboard() *MemoryClipboard {
	return &MemoryClipboard{}
}

func (self *MemoryClipboard) ReadText() (string, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.text, nil
}

func (self *MemoryClipboard) WriteText(text string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.text = text
	return nil
}

// CopySelection writes the selected shapes to the clipboard as a json array.
// Returns the number of shapes copied.
func CopySelection(doc *DocStore, selection *Selection, clipboard Clipboard) (int, error) {
	shapes := []*Shape{}
	for _, id := range selection.Ids() {
		if shape, ok := doc.Get(id); ok {
			shapes = append(shapes, shape)
		}
	}
	if len(shapes) == 0 {
		return 0, nil
	}
	shapesJson, err := json.Marshal(shapes)
	if err != nil {
		return 0, err
	}
	if err := clipboard.WriteText(string(shapesJson)); err != nil {
		return 0, err
	}
	return len(shapes), nil
}

// ParseClipboardShapes accepts only a non-empty json array of valid shapes.
func ParseClipboardShapes(text string) ([]*Shape, error) {
	var shapes []*Shape
	if err := json.Unmarshal([]byte(text), &shapes); err != nil {
		return nil, err
	}
	if len(shapes) == 0 {
		return nil, errors.New("No shapes.")
	}
	for _, shape := range shapes {
		if shape == nil || !shape.Type.Valid() {
			return nil, errors.New("Invalid shape.")
		}
	}
	return shapes, nil
}

// PasteClipboard writes copies of the clipboard shapes with fresh ids, offset by `PasteOffset`,
// in one transaction, and selects them. Clipboard text is untrusted: anything malformed
// pastes nothing.
func PasteClipboard(doc *DocStore, selection *Selection, clipboard Clipboard) []string {
	text, err := clipboard.ReadText()
	if err != nil {
		glog.V(1).Infof("[select]clipboard read error = %s\n", err)
		return nil
	}
	shapes, err := ParseClipboardShapes(text)
	if err != nil {
		glog.V(1).Infof("[select]ignore paste = %s\n", err)
		return nil
	}

	ids := make([]string, 0, len(shapes))
	doc.Transact(func(tx *DocTx) {
		for _, shape := range shapes {
			id := NewShapeId()
			pasted := shape.Moved(Point{X: PasteOffset, Y: PasteOffset})
			pasted.Id = id
			tx.Put(id, pasted)
			ids = append(ids, id)
		}
	})
	selection.Set(ids...)
	return ids
}

// DeleteSelection deletes the selected shapes in one transaction and clears the selection.
func DeleteSelection(doc *DocStore, selection *Selection) int {
	ids := selection.Ids()
	if len(ids) == 0 {
		return 0
	}
	deleted := 0
	doc.Transact(func(tx *DocTx) {
		for _, id := range ids {
			if _, ok := tx.Get(id); ok {
				tx.Delete(id)
				deleted += 1
			}
		}
	})
	selection.Clear()
	return deleted
}
