// Package push delivers system notifications over Web Push. It is the
// redundant alerting channel used when the portal window is hidden; the
// in-app toast path does not depend on it.
package push

import (
	"context"
	"encoding/json"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/pulse-presence/internal/logger"
)

// Notification is the payload handed to the OS notification layer. Tag
// carries the ChannelKey string so notifications for the same chat coalesce.
type Notification struct {
	Title              string `json:"title"`
	Body               string `json:"body"`
	Icon               string `json:"icon,omitempty"`
	Tag                string `json:"tag"`
	RequireInteraction bool   `json:"require_interaction"`
}

// Subscription mirrors the browser push subscription.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Sender sends notifications for a single user's subscription. Until a
// subscription is set (permission granted), Notify is a silent no-op: the
// toast path covers alerting on its own.
type Sender struct {
	opts *webpush.Options

	mu  sync.RWMutex
	sub *Subscription
}

// NewSender builds a sender from VAPID keys. subscriber is the contact
// address required by the push services (mailto).
func NewSender(keys *VAPIDKeys, subscriber string) *Sender {
	return &Sender{
		opts: &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             60,
		},
	}
}

// SetSubscription installs (or clears, with nil) the user's push
// subscription.
func (s *Sender) SetSubscription(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sub = sub
}

// HasSubscription reports whether a subscription is installed.
func (s *Sender) HasSubscription() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sub != nil
}

// Notify sends one notification. Failures are logged, never surfaced; the
// push channel is best-effort.
func (s *Sender) Notify(ctx context.Context, n Notification) {
	s.mu.RLock()
	sub := s.sub
	s.mu.RUnlock()
	if sub == nil {
		return
	}

	payload, err := json.Marshal(n)
	if err != nil {
		logger.Errorf("push marshal: %v", err)
		return
	}
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, s.opts)
	if err != nil {
		logger.Errorf("push send tag=%s: %v", n.Tag, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode == 410 || resp.StatusCode == 404 {
		// Subscription expired or revoked; drop it so we stop hammering the
		// push service.
		s.SetSubscription(nil)
		logger.Infof("push subscription gone (status %d), cleared", resp.StatusCode)
		return
	}
	if resp.StatusCode >= 400 {
		logger.Errorf("push send tag=%s: status %d", n.Tag, resp.StatusCode)
	}
}
