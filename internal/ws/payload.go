package ws

import "github.com/pulse-presence/internal/model"

// MessageCreatedPayload is delivered when a message lands in a conversation.
type MessageCreatedPayload struct {
	ChatID   string         `json:"chat_id"`
	ChatType model.ChatType `json:"chat_type"`
	ChatName string         `json:"chat_name"`
	Message  *model.Message `json:"message"`
	Sender   *model.User    `json:"sender"`
}

// TypingSignal is whispered while a user composes. Typing=false is the
// explicit stopped-typing signal (sent on send or on input cleared).
type TypingSignal struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Typing   bool   `json:"typing"`
}

// MemberAddedPayload is delivered on a team channel when a member joins.
type MemberAddedPayload struct {
	TeamID   string `json:"team_id"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// MemberRemovedPayload is delivered when a member leaves or is removed.
type MemberRemovedPayload struct {
	TeamID  string `json:"team_id"`
	UserID  string `json:"user_id"`
	IsLeave bool   `json:"is_leave"`
}
