// Package channels maintains exactly one open transport subscription per
// visible conversation: one per contact, one per team the user can see
// (memberships, plus every team when spy mode is on).
package channels

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pulse-presence/internal/logger"
	"github.com/pulse-presence/internal/model"
	"github.com/pulse-presence/internal/ws"
)

// Handlers are the downstream consumers of raw channel events. The manager
// holds them in a current-value cell read at dispatch time, so replacing the
// handlers never requires re-subscribing.
type Handlers struct {
	OnMessage       func(key model.ChannelKey, payload json.RawMessage)
	OnTyping        func(key model.ChannelKey, payload json.RawMessage)
	OnMemberAdded   func(key model.ChannelKey, payload json.RawMessage)
	OnMemberRemoved func(key model.ChannelKey, payload json.RawMessage)
}

type subscription struct {
	key    model.ChannelKey
	handle ws.ChannelHandle
}

type Manager struct {
	transport ws.Transport
	selfID    string

	handlers atomic.Pointer[Handlers]

	mu     sync.Mutex
	subs   map[model.ChannelKey]*subscription
	closed bool
}

func NewManager(transport ws.Transport, selfID string) *Manager {
	m := &Manager{
		transport: transport,
		selfID:    selfID,
		subs:      make(map[model.ChannelKey]*subscription),
	}
	m.handlers.Store(&Handlers{})
	return m
}

// SetHandlers swaps the dispatch targets. Events already in flight observe
// the new handlers on their next dispatch.
func (m *Manager) SetHandlers(h Handlers) {
	m.handlers.Store(&h)
}

// Reconcile brings the open set in line with the given contact list, team
// list and spy-mode flag. Channels failing to open are logged and retried on
// the next pass; a partial set is an acceptable degraded state. Calling
// Reconcile again with an unchanged input set is a no-op.
//
// Returns the keys that were closed by this pass, so the caller can drop
// dependent state (preferences, unread counters, active chat).
func (m *Manager) Reconcile(contacts []model.Contact, teams []model.Team, spyModeOn bool) []model.ChannelKey {
	desired := make(map[model.ChannelKey]struct{}, len(contacts)+len(teams))
	for _, c := range contacts {
		desired[model.DMKey(c.ID)] = struct{}{}
	}
	for _, t := range teams {
		if t.IsMember || spyModeOn {
			desired[model.TeamKey(t.ID)] = struct{}{}
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	var toOpen []model.ChannelKey
	for key := range desired {
		if _, ok := m.subs[key]; !ok {
			toOpen = append(toOpen, key)
		}
	}
	var toClose []*subscription
	for key, sub := range m.subs {
		if _, ok := desired[key]; !ok {
			toClose = append(toClose, sub)
			delete(m.subs, key)
		}
	}
	m.mu.Unlock()

	// Transport I/O happens outside the lock.
	for _, key := range toOpen {
		handle, err := m.transport.Join(key.ChannelName(m.selfID))
		if err != nil {
			// Degraded state: the channel stays unsubscribed until the next
			// reconcile pass picks it up again.
			logger.Errorf("channels open %s: %v", key, err)
			continue
		}
		m.attach(key, handle)

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			m.leave(key, handle)
			continue
		}
		if _, exists := m.subs[key]; exists {
			// A concurrent pass already opened this key; keep the first.
			m.mu.Unlock()
			m.leave(key, handle)
			continue
		}
		m.subs[key] = &subscription{key: key, handle: handle}
		m.mu.Unlock()
	}

	closedKeys := make([]model.ChannelKey, 0, len(toClose))
	for _, sub := range toClose {
		m.leave(sub.key, sub.handle)
		closedKeys = append(closedKeys, sub.key)
	}
	return closedKeys
}

// Handle returns the live subscription handle for a key, if open. Used for
// outbound whispers (typing signals).
func (m *Manager) Handle(key model.ChannelKey) (ws.ChannelHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[key]
	if !ok {
		return nil, false
	}
	return sub.handle, true
}

// Keys returns the currently subscribed keys, sorted.
func (m *Manager) Keys() []model.ChannelKey {
	m.mu.Lock()
	out := make([]model.ChannelKey, 0, len(m.subs))
	for key := range m.subs {
		out = append(out, key)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Close tears down every subscription. Both Close and a concurrent reconcile
// may race for the same channel; the registry delete decides who leaves it.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[model.ChannelKey]*subscription)
	m.mu.Unlock()

	for _, sub := range subs {
		m.leave(sub.key, sub.handle)
	}
}

func (m *Manager) leave(key model.ChannelKey, handle ws.ChannelHandle) {
	if err := m.transport.Leave(handle.Name()); err != nil {
		logger.Errorf("channels close %s: %v", key, err)
	}
}

// attach wires the three listeners. Each closure re-reads the handler cell
// on every event so stale handlers are never invoked.
func (m *Manager) attach(key model.ChannelKey, handle ws.ChannelHandle) {
	handle.Listen(ws.EventMessageCreated, func(payload json.RawMessage) {
		if fn := m.handlers.Load().OnMessage; fn != nil {
			fn(key, payload)
		}
	})
	handle.ListenForWhisper(ws.EventTyping, func(payload json.RawMessage) {
		if fn := m.handlers.Load().OnTyping; fn != nil {
			fn(key, payload)
		}
	})
	handle.Listen(ws.EventMemberAdded, func(payload json.RawMessage) {
		if fn := m.handlers.Load().OnMemberAdded; fn != nil {
			fn(key, payload)
		}
	})
	handle.Listen(ws.EventMemberRemoved, func(payload json.RawMessage) {
		if fn := m.handlers.Load().OnMemberRemoved; fn != nil {
			fn(key, payload)
		}
	})
}
