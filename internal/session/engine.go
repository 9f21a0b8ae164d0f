// Package session wires the presence subsystem together: it loads the REST
// snapshot, keeps channel subscriptions reconciled, dispatches live events
// into the typing aggregator and the notification router, and exposes the
// user actions that feed back into the caches.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pulse-presence/internal/channels"
	"github.com/pulse-presence/internal/logger"
	"github.com/pulse-presence/internal/model"
	"github.com/pulse-presence/internal/notify"
	"github.com/pulse-presence/internal/prefs"
	"github.com/pulse-presence/internal/spymode"
	"github.com/pulse-presence/internal/storage"
	"github.com/pulse-presence/internal/typing"
	"github.com/pulse-presence/internal/unread"
	"github.com/pulse-presence/internal/ws"
)

// typingSendInterval throttles outbound typing whispers per channel.
const typingSendInterval = time.Second

// PortalAPI is the REST surface the engine consumes.
type PortalAPI interface {
	prefs.API
	Teams(ctx context.Context, includeAll bool) ([]model.Team, error)
	Contacts(ctx context.Context) ([]model.Contact, error)
	MarkRead(ctx context.Context, ref model.ChatRef) error
	MarkUnread(ctx context.Context, ref model.ChatRef) (int, error)
	RemoveHistory(ctx context.Context, ref model.ChatRef) error
	LeaveTeam(ctx context.Context, teamID string) error
}

// Outbox sends outbound messages and reactions (quick-reply toast actions).
// The engine treats it as fire-and-forget.
type Outbox interface {
	SendMessage(ctx context.Context, ref model.ChatRef, content string) error
	SendReaction(ctx context.Context, ref model.ChatRef, messageID, emoji string) error
}

// UISink receives the user-visible signals the engine emits.
type UISink interface {
	notify.ToastSink
	UnreadChanged(ref model.ChatRef, count int)
	TypingChanged(key model.ChannelKey, entries []typing.Entry)
	ActiveChatInvalidated(ref model.ChatRef)
}

// Config collects the engine's collaborators and tunables.
type Config struct {
	Self   model.User
	CanSpy bool

	API       PortalAPI
	Transport ws.Transport
	Store     storage.Store
	Pusher    notify.Pusher
	Sink      UISink
	Outbox    Outbox

	TypingTTL    time.Duration
	TypingSweep  time.Duration
	ToastDismiss time.Duration
}

type Engine struct {
	self   model.User
	canSpy bool

	api    PortalAPI
	sink   UISink
	outbox Outbox

	prefs   *prefs.Cache
	unread  *unread.Reconciler
	typing  *typing.Aggregator
	toasts  *notify.ToastSlot
	router  *notify.Router
	manager *channels.Manager
	spy     *spymode.Tracker
	view    *viewCell

	teamFetch    fetchSlot
	contactFetch fetchSlot

	mu         sync.Mutex
	teams      map[string]model.Team
	contacts   map[string]model.Contact
	lastTyping map[model.ChannelKey]time.Time
}

func New(cfg Config) *Engine {
	e := &Engine{
		self:       cfg.Self,
		canSpy:     cfg.CanSpy,
		api:        cfg.API,
		sink:       cfg.Sink,
		outbox:     cfg.Outbox,
		view:       newViewCell(),
		teams:      make(map[string]model.Team),
		contacts:   make(map[string]model.Contact),
		lastTyping: make(map[model.ChannelKey]time.Time),
	}

	e.prefs = prefs.NewCache(cfg.API)
	e.unread = unread.NewReconciler(cfg.Self.ID, unread.WithOnChange(func(ref model.ChatRef, count int) {
		e.sink.UnreadChanged(ref, count)
	}))

	typingOpts := []typing.Option{typing.WithOnChange(func(key model.ChannelKey) {
		e.sink.TypingChanged(key, e.typing.Get(key))
	})}
	if cfg.TypingTTL > 0 {
		typingOpts = append(typingOpts, typing.WithTTL(cfg.TypingTTL))
	}
	if cfg.TypingSweep > 0 {
		typingOpts = append(typingOpts, typing.WithSweepEvery(cfg.TypingSweep))
	}
	e.typing = typing.New(typingOpts...)

	e.toasts = notify.NewToastSlot(cfg.Sink, cfg.ToastDismiss)
	e.router = notify.NewRouter(cfg.Self, e.prefs, e.unread, e.view, e.toasts, cfg.Pusher)
	e.spy = spymode.NewTracker(cfg.Store)
	e.manager = channels.NewManager(cfg.Transport, cfg.Self.ID)
	e.manager.SetHandlers(channels.Handlers{
		OnMessage:       e.onMessage,
		OnTyping:        e.onTyping,
		OnMemberAdded:   e.onMemberAdded,
		OnMemberRemoved: e.onMemberRemoved,
	})
	return e
}

// Start loads the session snapshot (settings, preferences, teams, contacts),
// opens the channel subscriptions and starts the typing sweep.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.prefs.Load(ctx); err != nil {
		return fmt.Errorf("session.Start: %w", err)
	}
	e.typing.Start()
	if err := e.Refresh(ctx); err != nil {
		return fmt.Errorf("session.Start: %w", err)
	}
	return nil
}

// Stop tears the engine down: sweep loop, toast timer, subscriptions.
func (e *Engine) Stop() {
	e.typing.Stop()
	e.toasts.Stop()
	e.manager.Close()
}

// Refresh re-fetches the team and contact lists, seeds the unread map from
// the server snapshot and reconciles the channel subscriptions. Concurrent
// refreshes supersede each other per resource; a stale fetch's result is
// discarded.
func (e *Engine) Refresh(ctx context.Context) error {
	spyOn, err := e.spy.Effective(ctx, e.canSpy)
	if err != nil {
		logger.Errorf("session refresh spy mode: %v", err)
		spyOn = false
	}

	tctx, commitTeams := e.teamFetch.begin(ctx)
	teams, err := e.api.Teams(tctx, spyOn)
	if err != nil {
		return fmt.Errorf("session.Refresh teams: %w", err)
	}
	if !commitTeams() {
		return nil
	}

	cctx, commitContacts := e.contactFetch.begin(ctx)
	contacts, err := e.api.Contacts(cctx)
	if err != nil {
		return fmt.Errorf("session.Refresh contacts: %w", err)
	}
	if !commitContacts() {
		return nil
	}

	e.mu.Lock()
	e.teams = make(map[string]model.Team, len(teams))
	for _, t := range teams {
		e.teams[t.ID] = t
	}
	e.contacts = make(map[string]model.Contact, len(contacts))
	for _, c := range contacts {
		e.contacts[c.ID] = c
	}
	e.mu.Unlock()

	for _, c := range contacts {
		e.unread.Seed(model.ChatRef{ID: c.ID, Type: model.ChatTypeUser}, c.UnreadCount, c.LastMessageAt)
	}
	for _, t := range teams {
		count, err := e.spy.EffectiveUnread(ctx, t, t.UnreadCount)
		if err != nil {
			logger.Errorf("session refresh team %s unread: %v", t.ID, err)
			count = t.UnreadCount
		}
		e.unread.Seed(model.ChatRef{ID: t.ID, Type: model.ChatTypeTeam}, count, t.LastMessageAt)
	}

	closed := e.manager.Reconcile(contacts, teams, spyOn)
	for _, key := range closed {
		e.dropChannelState(key)
	}
	return nil
}

// dropChannelState clears everything dependent on a channel that left the
// visible set.
func (e *Engine) dropChannelState(key model.ChannelKey) {
	ref := key.Ref()
	if key.Kind == model.ChannelKindTeam {
		e.prefs.EvictTeam(key.ID)
	}
	e.unread.Forget(ref)
	if active, ok := e.view.ActiveChat(); ok && active == ref {
		e.view.setActive(nil)
		e.sink.ActiveChatInvalidated(ref)
	}
}

// --- event dispatch ---

func (e *Engine) onMessage(key model.ChannelKey, payload json.RawMessage) {
	var ev ws.MessageCreatedPayload
	if err := json.Unmarshal(payload, &ev); err != nil {
		logger.Errorf("session message payload on %s: %v", key, err)
		return
	}
	if ev.ChatID == "" {
		ref := key.Ref()
		ev.ChatID, ev.ChatType = ref.ID, ref.Type
	}
	// A message from someone ends their typing indicator immediately rather
	// than waiting out the TTL.
	if ev.Sender != nil {
		e.typing.ClearUserFromChannel(key, ev.Sender.ID)
	}
	e.router.HandleMessage(context.Background(), ev)
}

func (e *Engine) onTyping(key model.ChannelKey, payload json.RawMessage) {
	var sig ws.TypingSignal
	if err := json.Unmarshal(payload, &sig); err != nil {
		logger.Debugf("session typing payload on %s: %v", key, err)
		return
	}
	if sig.UserID == "" || sig.UserID == e.self.ID {
		// Own echo must never render as "typing".
		return
	}
	if !sig.Typing {
		e.typing.ClearUserFromChannel(key, sig.UserID)
		return
	}
	e.typing.OnSignal(key, sig.UserID, sig.UserName)
}

func (e *Engine) onMemberAdded(key model.ChannelKey, payload json.RawMessage) {
	var ev ws.MemberAddedPayload
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}
	if ev.UserID != e.self.ID {
		return
	}
	// Added to a team: pick the new channel up on a fresh reconcile pass.
	go func() {
		if err := e.Refresh(context.Background()); err != nil {
			logger.Errorf("session refresh after member.added: %v", err)
		}
	}()
}

func (e *Engine) onMemberRemoved(key model.ChannelKey, payload json.RawMessage) {
	var ev ws.MemberRemovedPayload
	if err := json.Unmarshal(payload, &ev); err != nil {
		return
	}
	if ev.UserID != e.self.ID || key.Kind != model.ChannelKindTeam {
		return
	}
	e.dropChannelState(key)
	go func() {
		if err := e.Refresh(context.Background()); err != nil {
			logger.Errorf("session refresh after member.removed: %v", err)
		}
	}()
}

// --- user actions ---

// SetWindowFocused records whether the portal window is focused/visible.
func (e *Engine) SetWindowFocused(focused bool) {
	e.view.setFocused(focused)
}

// OpenChat makes a chat the active one and clears its unread state. For
// non-member teams under spy mode the read marker is recorded locally, since
// the server has no read receipt for a non-member.
func (e *Engine) OpenChat(ctx context.Context, ref model.ChatRef) {
	e.view.setActive(&ref)
	if t := e.toasts.Current(); t != nil && t.Chat == ref {
		e.toasts.Dismiss()
	}

	if team, ok := e.team(ref); ok && !team.IsMember {
		now := time.Now().UTC()
		if err := e.spy.MarkViewed(ctx, ref.ID, now); err != nil {
			logger.Errorf("session mark viewed team=%s: %v", ref.ID, err)
		}
		e.unread.MarkRead(ref)
		return
	}

	e.markRead(ref)
}

// CloseChat clears the active chat.
func (e *Engine) CloseChat() {
	e.view.setActive(nil)
}

// MarkRead resets the chat's counter locally and confirms against the server
// in the background (fire-and-confirm).
func (e *Engine) MarkRead(ref model.ChatRef) {
	e.markRead(ref)
}

func (e *Engine) markRead(ref model.ChatRef) {
	e.unread.MarkRead(ref)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.api.MarkRead(ctx, ref); err != nil {
			logger.Errorf("session mark read %s/%s: %v", ref.Type, ref.ID, err)
		}
	}()
}

// MarkUnread flags the chat unread; the count is whatever the server says it
// is. On failure local state is untouched and the error surfaces to the
// caller.
func (e *Engine) MarkUnread(ctx context.Context, ref model.ChatRef) error {
	count, err := e.api.MarkUnread(ctx, ref)
	if err != nil {
		return err
	}
	e.unread.MarkUnread(ref, count)
	return nil
}

// RemoveHistory asks the server to store a cutoff and zeroes the counter.
func (e *Engine) RemoveHistory(ctx context.Context, ref model.ChatRef) error {
	if err := e.api.RemoveHistory(ctx, ref); err != nil {
		return err
	}
	e.unread.RemoveHistory(ref)
	return nil
}

// LeaveTeam leaves a team and drops its local state.
func (e *Engine) LeaveTeam(ctx context.Context, teamID string) error {
	if err := e.api.LeaveTeam(ctx, teamID); err != nil {
		return err
	}
	e.dropChannelState(model.TeamKey(teamID))
	return e.Refresh(ctx)
}

// SetSpyMode persists the toggle and reconciles subscriptions immediately.
// Turning it off leaves the read markers intact.
func (e *Engine) SetSpyMode(ctx context.Context, on bool) error {
	if err := e.spy.SetToggle(ctx, on); err != nil {
		return err
	}
	return e.Refresh(ctx)
}

// Mute mutes or unmutes a chat through the preference cache. The cache only
// changes on server confirmation.
func (e *Engine) Mute(ctx context.Context, ref model.ChatRef, muted bool) error {
	return e.prefs.SetMuted(ctx, ref, muted)
}

func (e *Engine) Hide(ctx context.Context, ref model.ChatRef, hidden bool) error {
	return e.prefs.SetHidden(ctx, ref, hidden)
}

func (e *Engine) HidePreview(ctx context.Context, ref model.ChatRef, hide bool) error {
	return e.prefs.SetHidePreview(ctx, ref, hide)
}

func (e *Engine) SetGlobalMute(ctx context.Context, on bool) error {
	return e.prefs.SetGlobalMute(ctx, on)
}

func (e *Engine) SetGlobalHidePreview(ctx context.Context, on bool) error {
	return e.prefs.SetGlobalHidePreview(ctx, on)
}

// SendTyping whispers a typing signal on the chat's channel, throttled to one
// per second per channel.
func (e *Engine) SendTyping(ref model.ChatRef) {
	key := ref.ChannelKey()
	now := time.Now()

	e.mu.Lock()
	if last, ok := e.lastTyping[key]; ok && now.Sub(last) < typingSendInterval {
		e.mu.Unlock()
		return
	}
	e.lastTyping[key] = now
	e.mu.Unlock()

	e.whisperTyping(key, true)
}

// StopTyping sends the explicit stopped-typing signal (message sent or input
// cleared) and clears any local echo.
func (e *Engine) StopTyping(ref model.ChatRef) {
	key := ref.ChannelKey()
	e.mu.Lock()
	delete(e.lastTyping, key)
	e.mu.Unlock()

	e.whisperTyping(key, false)
	e.typing.ClearUser(e.self.ID)
}

func (e *Engine) whisperTyping(key model.ChannelKey, active bool) {
	handle, ok := e.manager.Handle(key)
	if !ok {
		return
	}
	sig := ws.TypingSignal{UserID: e.self.ID, UserName: e.self.Name, Typing: active}
	if err := handle.Whisper(ws.EventTyping, sig); err != nil {
		logger.Debugf("session typing whisper %s: %v", key, err)
	}
}

// --- toast actions (fire-and-forget; none of them block the router) ---

// QuickReply sends a reply to the toasted chat and dismisses the toast.
func (e *Engine) QuickReply(ref model.ChatRef, content string) {
	e.toasts.Dismiss()
	if e.outbox == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.outbox.SendMessage(ctx, ref, content); err != nil {
			logger.Errorf("session quick reply %s/%s: %v", ref.Type, ref.ID, err)
		}
	}()
}

// QuickReact reacts to the toasted message.
func (e *Engine) QuickReact(ref model.ChatRef, messageID, emoji string) {
	if e.outbox == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.outbox.SendReaction(ctx, ref, messageID, emoji); err != nil {
			logger.Errorf("session quick react %s/%s: %v", ref.Type, ref.ID, err)
		}
	}()
}

// MuteFromToast mutes the toasted chat and dismisses the toast.
func (e *Engine) MuteFromToast(ref model.ChatRef) {
	e.toasts.Dismiss()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.prefs.SetMuted(ctx, ref, true); err != nil {
			logger.Errorf("session mute from toast %s/%s: %v", ref.Type, ref.ID, err)
		}
	}()
}

// NavigateFromToast opens the toasted chat.
func (e *Engine) NavigateFromToast(ctx context.Context, ref model.ChatRef) {
	e.OpenChat(ctx, ref)
}

// --- accessors ---

// Unread returns the current unread state for a chat.
func (e *Engine) Unread(ref model.ChatRef) model.UnreadState {
	return e.unread.Get(ref)
}

// TypingEntries returns who is typing in a channel, oldest first.
func (e *Engine) TypingEntries(key model.ChannelKey) []typing.Entry {
	return e.typing.Get(key)
}

// Prefs exposes the preference cache (read paths for the UI).
func (e *Engine) Prefs() *prefs.Cache {
	return e.prefs
}

// SubscribedKeys returns the currently open channel keys, sorted.
func (e *Engine) SubscribedKeys() []model.ChannelKey {
	return e.manager.Keys()
}

func (e *Engine) team(ref model.ChatRef) (model.Team, bool) {
	if ref.Type != model.ChatTypeTeam {
		return model.Team{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.teams[ref.ID]
	return t, ok
}
