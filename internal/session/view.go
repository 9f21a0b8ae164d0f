package session

import (
	"sync/atomic"

	"github.com/pulse-presence/internal/model"
)

// viewSnapshot is an immutable picture of what the user is looking at.
type viewSnapshot struct {
	active  *model.ChatRef
	focused bool
}

// viewCell is the current-value cell for view state. The event-dispatch path
// reads it at dispatch time, so handlers never close over a stale "which chat
// is open" value.
type viewCell struct {
	v atomic.Pointer[viewSnapshot]
}

func newViewCell() *viewCell {
	c := &viewCell{}
	c.v.Store(&viewSnapshot{focused: true})
	return c
}

func (c *viewCell) ActiveChat() (model.ChatRef, bool) {
	s := c.v.Load()
	if s.active == nil {
		return model.ChatRef{}, false
	}
	return *s.active, true
}

func (c *viewCell) WindowFocused() bool {
	return c.v.Load().focused
}

func (c *viewCell) setActive(ref *model.ChatRef) {
	for {
		old := c.v.Load()
		next := &viewSnapshot{active: ref, focused: old.focused}
		if c.v.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *viewCell) setFocused(focused bool) {
	for {
		old := c.v.Load()
		next := &viewSnapshot{active: old.active, focused: focused}
		if c.v.CompareAndSwap(old, next) {
			return
		}
	}
}
