package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pulse-presence/internal/model"
)

const DefaultToastDismiss = 8 * time.Second

// Toast is the in-app chat notification. Chat notifications share a single
// fixed slot: a new arrival replaces the visible toast instead of stacking.
type Toast struct {
	// Rev changes on every replacement so the UI can restart its animation.
	Rev      string
	Chat     model.ChatRef
	Key      model.ChannelKey
	Title    string
	Body     string
	Mention  bool
	SenderID string
	ShownAt  time.Time
}

// ToastSink receives slot updates. Implemented by the UI layer.
type ToastSink interface {
	ShowToast(t Toast)
	ToastDismissed()
}

// ToastSlot holds at most one visible chat toast. Show replaces the content
// in place and restarts the auto-dismiss timer, so only one toast is visible
// no matter how many chats have new messages.
type ToastSlot struct {
	sink    ToastSink
	dismiss time.Duration

	mu      sync.Mutex
	current *Toast
	timer   *time.Timer
	stopped bool
}

func NewToastSlot(sink ToastSink, dismiss time.Duration) *ToastSlot {
	if dismiss <= 0 {
		dismiss = DefaultToastDismiss
	}
	return &ToastSlot{sink: sink, dismiss: dismiss}
}

// Show replaces the slot's content and restarts the dismissal timer.
func (s *ToastSlot) Show(t Toast) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	t.Rev = uuid.New().String()
	t.ShownAt = time.Now()
	s.current = &t
	if s.timer != nil {
		s.timer.Stop()
	}
	rev := t.Rev
	s.timer = time.AfterFunc(s.dismiss, func() { s.expire(rev) })
	s.mu.Unlock()

	s.sink.ShowToast(t)
}

// Dismiss clears the slot immediately (user closed the toast or navigated).
func (s *ToastSlot) Dismiss() {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return
	}
	s.current = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.sink.ToastDismissed()
}

// Current returns the visible toast, if any.
func (s *ToastSlot) Current() *Toast {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	t := *s.current
	return &t
}

// Stop cancels the timer and freezes the slot (engine teardown).
func (s *ToastSlot) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.current = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}

// expire fires on the timer. The rev check keeps a stale timer from
// dismissing a toast that already replaced the one it was armed for.
func (s *ToastSlot) expire(rev string) {
	s.mu.Lock()
	if s.current == nil || s.current.Rev != rev {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.timer = nil
	s.mu.Unlock()

	s.sink.ToastDismissed()
}
