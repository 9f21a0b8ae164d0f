// Package unread reconciles per-chat unread counters from three sources: the
// server snapshot loaded at session start, live message events, and explicit
// user actions (open chat, mark read/unread, remove history).
//
// Live events can race the user opening a chat, and the transport only
// guarantees FIFO order within a single channel. The reconciler therefore
// keys everything by chat and resolves races by wall-clock arrival: the most
// recently applied operation wins, regardless of event-payload timestamps.
package unread

import (
	"sync"
	"time"

	"github.com/pulse-presence/internal/model"
)

type chatState struct {
	count         int
	lastMessageAt time.Time
	updatedAt     time.Time // local arrival time of the last mutation
}

type Reconciler struct {
	selfID string

	mu    sync.Mutex
	chats map[model.ChatRef]*chatState
	now   func() time.Time

	// onChange, when set, is invoked outside the lock after any count change.
	onChange func(ref model.ChatRef, count int)
}

type Option func(*Reconciler)

// WithClock replaces the arrival-time source (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithOnChange(fn func(ref model.ChatRef, count int)) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

func NewReconciler(selfID string, opts ...Option) *Reconciler {
	r := &Reconciler{
		selfID: selfID,
		chats:  make(map[model.ChatRef]*chatState),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Seed applies a server snapshot value for a chat. Later local operations
// overwrite it by arrival order.
func (r *Reconciler) Seed(ref model.ChatRef, count int, lastMessageAt time.Time) {
	r.mu.Lock()
	s := r.state(ref)
	s.count = count
	if lastMessageAt.After(s.lastMessageAt) {
		s.lastMessageAt = lastMessageAt
	}
	s.updatedAt = r.now()
	r.mu.Unlock()
	r.notify(ref, count)
}

// ApplyLiveEvent processes one message-arrived event. Messages from the local
// user never count; neither do messages for the chat currently being viewed.
func (r *Reconciler) ApplyLiveEvent(ref model.ChatRef, senderID string, isCurrentlyOpen bool, sentAt time.Time) {
	if senderID == r.selfID || isCurrentlyOpen {
		return
	}
	r.mu.Lock()
	s := r.state(ref)
	s.count++
	if sentAt.After(s.lastMessageAt) {
		s.lastMessageAt = sentAt
	}
	s.updatedAt = r.now()
	count := s.count
	r.mu.Unlock()
	r.notify(ref, count)
}

// MarkRead resets the counter to zero. The server confirmation is
// fire-and-forget and handled by the caller; local state is optimistic here
// because reading is a local fact.
func (r *Reconciler) MarkRead(ref model.ChatRef) {
	r.setCount(ref, 0)
}

// MarkUnread stores the server-returned count verbatim. The server determines
// the number (messages since the last read marker); no guessed constants.
func (r *Reconciler) MarkUnread(ref model.ChatRef, serverCount int) {
	r.setCount(ref, serverCount)
}

// RemoveHistory resets the counter: the server stores a cutoff timestamp, so
// all prior messages are excluded from future counts.
func (r *Reconciler) RemoveHistory(ref model.ChatRef) {
	r.setCount(ref, 0)
}

// Forget drops all state for a chat (e.g. team removed from the visible set).
func (r *Reconciler) Forget(ref model.ChatRef) {
	r.mu.Lock()
	delete(r.chats, ref)
	r.mu.Unlock()
}

// Get returns the current unread state for a chat.
func (r *Reconciler) Get(ref model.ChatRef) model.UnreadState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.chats[ref]
	if !ok {
		return model.UnreadState{}
	}
	return model.UnreadState{Count: s.count, LastMessageAt: s.lastMessageAt}
}

// All returns a snapshot of every tracked chat.
func (r *Reconciler) All() map[model.ChatRef]model.UnreadState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[model.ChatRef]model.UnreadState, len(r.chats))
	for ref, s := range r.chats {
		out[ref] = model.UnreadState{Count: s.count, LastMessageAt: s.lastMessageAt}
	}
	return out
}

func (r *Reconciler) setCount(ref model.ChatRef, count int) {
	r.mu.Lock()
	s := r.state(ref)
	s.count = count
	s.updatedAt = r.now()
	r.mu.Unlock()
	r.notify(ref, count)
}

// state returns the entry for ref, creating it if needed. Caller holds the
// lock.
func (r *Reconciler) state(ref model.ChatRef) *chatState {
	s, ok := r.chats[ref]
	if !ok {
		s = &chatState{}
		r.chats[ref] = s
	}
	return s
}

func (r *Reconciler) notify(ref model.ChatRef, count int) {
	if r.onChange != nil {
		r.onChange(ref, count)
	}
}
