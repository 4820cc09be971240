package board

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Selection is the client local set of selected shape ids. It is never written to the document.
type Selection struct {
	stateLock sync.Mutex
	ids       map[string]bool
	version   uint64

	changeCallbacks *CallbackList[func(ids []string)]
}

func NewSelection() *Selection {
	return &Selection{
		ids:             map[string]bool{},
		changeCallbacks: NewCallbackList[func(ids []string)](),
	}
}

func (self *Selection) AddChangeCallback(changeCallback func(ids []string)) func() {
	callbackId := self.changeCallbacks.Add(changeCallback)
	return func() {
		self.changeCallbacks.Remove(callbackId)
	}
}

// Ids are sorted.
func (self *Selection) Ids() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.idsUnlocked()
}

func (self *Selection) idsUnlocked() []string {
	ids := maps.Keys(self.ids)
	slices.Sort(ids)
	return ids
}

func (self *Selection) Has(id string) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.ids[id]
}

func (self *Selection) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.ids)
}

// Version changes on every membership change.
func (self *Selection) Version() uint64 {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.version
}

// Set replaces the selection.
func (self *Selection) Set(ids ...string) {
	self.update(func(current map[string]bool) {
		maps.Clear(current)
		for _, id := range ids {
			current[id] = true
		}
	})
}

func (self *Selection) Add(ids ...string) {
	self.update(func(current map[string]bool) {
		for _, id := range ids {
			current[id] = true
		}
	})
}

func (self *Selection) Remove(ids ...string) {
	self.update(func(current map[string]bool) {
		for _, id := range ids {
			delete(current, id)
		}
	})
}

func (self *Selection) Toggle(id string) {
	self.update(func(current map[string]bool) {
		if current[id] {
			delete(current, id)
		} else {
			current[id] = true
		}
	})
}

func (self *Selection) Clear() {
	self.Set()
}

func (self *Selection) update(fn func(current map[string]bool)) {
	var ids []string
	changed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		next := maps.Clone(self.ids)
		fn(next)
		if maps.Equal(next, self.ids) {
			return
		}
		self.ids = next
		self.version += 1
		ids = self.idsUnlocked()
		changed = true
	}()
	if changed {
		for _, changeCallback := range self.changeCallbacks.Get() {
			HandleError(func() {
				changeCallback(ids)
			})
		}
	}
}

// Click applies a click on a shape. With the modifier it toggles membership.
// Without, an already selected shape keeps the current selection so the group can be dragged.
func (self *Selection) Click(id string, modifier bool) {
	if modifier {
		self.Toggle(id)
	} else if !self.Has(id) {
		self.Set(id)
	}
}

// ApplyMarquee unions the hits into the selection with the modifier, otherwise replaces it.
func (self *Selection) ApplyMarquee(hits []string, modifier bool) {
	if modifier {
		self.Add(hits...)
	} else {
		self.Set(hits...)
	}
}

// MarqueeHits returns the ids of the shapes that intersect the world space `box`, in shape order.
func MarqueeHits(shapes []*Shape, box Rect) []string {
	hits := []string{}
	for _, shape := range shapes {
		if ShapeIntersectsRect(shape, box) {
			hits = append(hits, shape.Id)
		}
	}
	return hits
}

// ShapeIntersectsRect tests strokes segment by segment in world space,
// so a stroke that only passes through the box matches even with no vertex inside.
// Other shapes match on bounding box overlap.
func ShapeIntersectsRect(shape *Shape, box Rect) bool {
	if !box.Intersects(shape.Bounds()) {
		return false
	}
	if shape.Type != ShapeTypeStroke {
		return true
	}
	points := shape.WorldPoints()
	switch len(points) {
	case 0:
		return false
	case 1:
		return box.Contains(points[0])
	}
	for i := 0; i+1 < len(points); i += 1 {
		if SegmentIntersectsRect(points[i], points[i+1], box) {
			return true
		}
	}
	if shape.Closed && SegmentIntersectsRect(points[len(points)-1], points[0], box) {
		return true
	}
	return false
}
