package ws

import (
	"encoding/json"
	"fmt"
	"sync"
)

// InProc is an in-process Transport: events are delivered synchronously on
// the emitter's goroutine. Used by tests and by dev runs without a broker.
type InProc struct {
	mu       sync.Mutex
	channels map[string]*inprocChannel
	joinErr  error
	joins    int
	leaves   int
}

func NewInProc() *InProc {
	return &InProc{channels: make(map[string]*inprocChannel)}
}

// FailJoins makes subsequent Join calls return err (nil restores normal
// behavior). Lets tests exercise the degraded transport path.
func (t *InProc) FailJoins(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joinErr = err
}

func (t *InProc) Join(channelName string) (ChannelHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.joinErr != nil {
		return nil, fmt.Errorf("inproc join %s: %w", channelName, t.joinErr)
	}
	if ch, ok := t.channels[channelName]; ok {
		return ch, nil
	}
	ch := &inprocChannel{
		name:      channelName,
		listeners: make(map[string][]EventHandler),
		whispers:  make(map[string][]EventHandler),
	}
	t.channels[channelName] = ch
	t.joins++
	return ch, nil
}

func (t *InProc) Leave(channelName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.channels[channelName]; !ok {
		return nil
	}
	delete(t.channels, channelName)
	t.leaves++
	return nil
}

// JoinCount reports how many Join calls created a channel.
func (t *InProc) JoinCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.joins
}

// LeaveCount reports how many Leave calls removed a channel.
func (t *InProc) LeaveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaves
}

// Joined reports whether the channel is currently subscribed.
func (t *InProc) Joined(channelName string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.channels[channelName]
	return ok
}

// Emit delivers an event to the channel's listeners. No-op when the channel
// is not joined.
func (t *InProc) Emit(channelName, event string, payload any) error {
	return t.emit(channelName, event, payload, false)
}

// EmitWhisper delivers an ephemeral signal to the channel's whisper listeners.
func (t *InProc) EmitWhisper(channelName, event string, payload any) error {
	return t.emit(channelName, event, payload, true)
}

func (t *InProc) emit(channelName, event string, payload any, whisper bool) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("inproc emit %s: %w", event, err)
	}
	t.mu.Lock()
	ch, ok := t.channels[channelName]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	ch.dispatch(event, raw, whisper)
	return nil
}

type inprocChannel struct {
	name string

	mu        sync.Mutex
	listeners map[string][]EventHandler
	whispers  map[string][]EventHandler
	sent      []sentWhisper
}

type sentWhisper struct {
	Event   string
	Payload json.RawMessage
}

func (c *inprocChannel) Name() string { return c.name }

func (c *inprocChannel) Listen(event string, fn EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[event] = append(c.listeners[event], fn)
}

func (c *inprocChannel) ListenForWhisper(event string, fn EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.whispers[event] = append(c.whispers[event], fn)
}

func (c *inprocChannel) Whisper(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("inproc whisper marshal %s: %w", event, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentWhisper{Event: event, Payload: raw})
	return nil
}

// SentWhispers returns the whispers sent on this channel, oldest first.
func (c *inprocChannel) SentWhispers() []sentWhisper {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentWhisper, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *inprocChannel) dispatch(event string, raw json.RawMessage, whisper bool) {
	c.mu.Lock()
	var fns []EventHandler
	if whisper {
		fns = append(fns, c.whispers[event]...)
	} else {
		fns = append(fns, c.listeners[event]...)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(raw)
	}
}
