package model

import "time"

type ChatType string

const (
	ChatTypeUser ChatType = "user"
	ChatTypeTeam ChatType = "team"
)

// ChatRef identifies a chat for preference and unread purposes.
type ChatRef struct {
	ID   string   `json:"id"`
	Type ChatType `json:"type"`
}

func (r ChatRef) ChannelKey() ChannelKey {
	if r.Type == ChatTypeTeam {
		return TeamKey(r.ID)
	}
	return DMKey(r.ID)
}

// Contact is a direct-message peer as reported by the portal, including the
// server-computed unread count for the conversation.
type Contact struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	AvatarURL     string    `json:"avatar_url"`
	IsOnline      bool      `json:"is_online"`
	UnreadCount   int       `json:"unread_count"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Team is a team room. IsMember is false for rooms visible only through the
// monitoring privilege (spy mode).
type Team struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	IsMember      bool      `json:"is_member"`
	UnreadCount   int       `json:"unread_count"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// ChatPreference holds the per-chat notification settings a user has
// customized. Absence of an entry means all-false defaults.
type ChatPreference struct {
	ChatID      string   `json:"chat_id"`
	ChatType    ChatType `json:"chat_type"`
	IsMuted     bool     `json:"is_muted"`
	IsHidden    bool     `json:"is_hidden"`
	HidePreview bool     `json:"hide_preview"`
}

func (p ChatPreference) Ref() ChatRef {
	return ChatRef{ID: p.ChatID, Type: p.ChatType}
}

// GlobalSettings override per-chat settings when true. They never override
// mention-forced visibility.
type GlobalSettings struct {
	GlobalMute        bool `json:"global_mute"`
	GlobalHidePreview bool `json:"global_hide_preview"`
}

// UnreadState is the per-chat unread counter the UI renders as a badge.
type UnreadState struct {
	Count         int       `json:"count"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// SpyReadMarker substitutes for a server read receipt on teams the viewer is
// not a member of. Persisted locally only.
type SpyReadMarker struct {
	TeamID     string    `json:"team_id"`
	LastReadAt time.Time `json:"last_read_at"`
}
