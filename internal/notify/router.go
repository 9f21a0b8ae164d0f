// Package notify routes a normalized "message arrived" event to zero or more
// user-visible signals: an unread delta, a system push notification, an
// in-app toast.
package notify

import (
	"context"
	"time"

	"github.com/pulse-presence/internal/model"
	"github.com/pulse-presence/internal/push"
	"github.com/pulse-presence/internal/ws"
)

const redactedBody = "New message"

// Prefs is the mute/preview policy source (the preference cache).
type Prefs interface {
	IsMuted(ref model.ChatRef) bool
	ShouldHidePreview(ref model.ChatRef) bool
}

// Unread receives the counting side effect; it applies its own suppression
// rules independently of alerting policy.
type Unread interface {
	ApplyLiveEvent(ref model.ChatRef, senderID string, isCurrentlyOpen bool, sentAt time.Time)
}

// ViewState answers "what is the user looking at right now". Backed by a
// current-value cell updated by the UI, read here at dispatch time.
type ViewState interface {
	ActiveChat() (model.ChatRef, bool)
	WindowFocused() bool
}

// Pusher is the system notification primitive.
type Pusher interface {
	Notify(ctx context.Context, n push.Notification)
}

type Router struct {
	self   model.User
	prefs  Prefs
	unread Unread
	view   ViewState
	toasts *ToastSlot
	pusher Pusher
}

func NewRouter(self model.User, prefs Prefs, unread Unread, view ViewState, toasts *ToastSlot, pusher Pusher) *Router {
	return &Router{
		self:   self,
		prefs:  prefs,
		unread: unread,
		view:   view,
		toasts: toasts,
		pusher: pusher,
	}
}

// HandleMessage runs the routing pipeline for one message-arrived payload.
func (r *Router) HandleMessage(ctx context.Context, ev ws.MessageCreatedPayload) {
	// Defensive guard: malformed payloads are dropped with no side effects.
	if ev.Message == nil || ev.Sender == nil || ev.ChatID == "" {
		return
	}
	if ev.Sender.ID == r.self.ID {
		return
	}

	ref := model.ChatRef{ID: ev.ChatID, Type: ev.ChatType}
	active, hasActive := r.view.ActiveChat()
	viewing := hasActive && active == ref

	// Unread counting is independent of alerting policy: a muted chat still
	// accumulates its badge.
	r.unread.ApplyLiveEvent(ref, ev.Sender.ID, viewing, ev.Message.CreatedAt)

	mentioned := ev.Message.MentionsUser(r.self.ID, ev.ChatType)
	if r.prefs.IsMuted(ref) && !mentioned {
		return
	}

	hidePreview := r.prefs.ShouldHidePreview(ref)
	body := previewBody(ev.Message, hidePreview)
	title := toastTitle(ev, mentioned)
	key := ref.ChannelKey()

	if !r.view.WindowFocused() {
		n := push.Notification{
			Title:              title,
			Body:               body,
			Icon:               ev.Sender.AvatarURL,
			Tag:                key.String(),
			RequireInteraction: mentioned,
		}
		// Fire-and-forget: push delivery must never stall event dispatch.
		go r.pusher.Notify(ctx, n)
	}

	if !viewing {
		r.toasts.Show(Toast{
			Chat:     ref,
			Key:      key,
			Title:    title,
			Body:     body,
			Mention:  mentioned,
			SenderID: ev.Sender.ID,
		})
	}
}

func toastTitle(ev ws.MessageCreatedPayload, mentioned bool) string {
	name := ev.Sender.Name
	if name == "" {
		name = "New message"
	}
	title := name
	if ev.ChatType == model.ChatTypeTeam && ev.ChatName != "" {
		title = name + " · " + ev.ChatName
	}
	if mentioned {
		title = name + " mentioned you"
		if ev.ChatType == model.ChatTypeTeam && ev.ChatName != "" {
			title += " in " + ev.ChatName
		}
	}
	return title
}

// previewBody builds the notification body: redacted when previews are
// hidden, a generic fallback for attachments or empty content, and truncated
// at 120 chars otherwise.
func previewBody(m *model.Message, hidePreview bool) string {
	if hidePreview {
		return redactedBody
	}
	body := m.Content
	if body == "" {
		if m.HasAttachment {
			return "Attachment"
		}
		return redactedBody
	}
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	return body
}
