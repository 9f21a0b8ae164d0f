// Package ws is the client side of the portal's pub/sub transport: join a
// channel, listen for events and whispers, leave. Whispers are ephemeral
// signals (typing) that the broker relays without persisting.
package ws

import "encoding/json"

// Event names delivered on conversation channels.
const (
	EventMessageCreated = "message.created"
	EventTyping         = "typing"
	EventMemberAdded    = "member.added"
	EventMemberRemoved  = "member.removed"
)

// EventHandler receives the raw payload of a single event.
type EventHandler func(payload json.RawMessage)

// ChannelHandle is one joined channel.
type ChannelHandle interface {
	Name() string
	Listen(event string, fn EventHandler)
	ListenForWhisper(event string, fn EventHandler)
	// Whisper sends an ephemeral signal to the channel's other members.
	Whisper(event string, payload any) error
}

// Transport joins and leaves channels. Implementations: Socket (websocket),
// InProc (tests and dev).
type Transport interface {
	Join(channelName string) (ChannelHandle, error)
	Leave(channelName string) error
}
