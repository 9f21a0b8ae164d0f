package model

import "time"

// User is the sender identity carried on live events.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Message is the payload of a message.created event. Content rendering is out
// of scope here; the engine only looks at sender, mentions and timestamps.
type Message struct {
	ID               string    `json:"id"`
	ChatID           string    `json:"chat_id"`
	SenderID         string    `json:"sender_id"`
	Content          string    `json:"content"`
	HasAttachment    bool      `json:"has_attachment"`
	Mentions         []string  `json:"mentions,omitempty"`
	MentionsEveryone bool      `json:"mentions_everyone"`
	CreatedAt        time.Time `json:"created_at"`
}

// MentionsUser reports whether the message mentions the given user, either
// explicitly or via the everyone marker (team chats only).
func (m *Message) MentionsUser(userID string, chatType ChatType) bool {
	if m.MentionsEveryone && chatType == ChatTypeTeam {
		return true
	}
	for _, id := range m.Mentions {
		if id == userID {
			return true
		}
	}
	return false
}
