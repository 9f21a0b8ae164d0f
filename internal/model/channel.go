package model

import "strings"

type ChannelKind string

const (
	ChannelKindDM   ChannelKind = "dm"
	ChannelKindTeam ChannelKind = "team"
)

// ChannelKey identifies one logical conversation: a DM pair or a team room.
// It keys all subscription, typing and unread state, and is stable across
// reconnects. For DMs the ID is the peer's user id (the local user is
// implicit).
type ChannelKey struct {
	Kind ChannelKind
	ID   string
}

func DMKey(peerID string) ChannelKey {
	return ChannelKey{Kind: ChannelKindDM, ID: peerID}
}

func TeamKey(teamID string) ChannelKey {
	return ChannelKey{Kind: ChannelKindTeam, ID: teamID}
}

// String renders the key in its wire/tag form, e.g. "dm:42" or "team:7".
// Used as the push notification tag so the OS coalesces alerts per chat.
func (k ChannelKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

// Ref converts the key to the chat reference used by preferences and unread
// state (DM channels map to chat type "user").
func (k ChannelKey) Ref() ChatRef {
	if k.Kind == ChannelKindTeam {
		return ChatRef{ID: k.ID, Type: ChatTypeTeam}
	}
	return ChatRef{ID: k.ID, Type: ChatTypeUser}
}

// ChannelName builds the transport channel name. DM channels are keyed by
// both participant ids, order-independent, so either side joins the same
// channel.
func (k ChannelKey) ChannelName(selfID string) string {
	if k.Kind == ChannelKindTeam {
		return "team." + k.ID
	}
	a, b := selfID, k.ID
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return "dm." + a + "." + b
}
