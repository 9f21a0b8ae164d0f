package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pulse-presence/internal/model"
	"github.com/pulse-presence/internal/push"
	"github.com/pulse-presence/internal/ws"
)

type fakePrefs struct {
	muted       map[model.ChatRef]bool
	hidePreview map[model.ChatRef]bool
}

func (f *fakePrefs) IsMuted(ref model.ChatRef) bool           { return f.muted[ref] }
func (f *fakePrefs) ShouldHidePreview(ref model.ChatRef) bool { return f.hidePreview[ref] }

type unreadCall struct {
	ref     model.ChatRef
	sender  string
	viewing bool
}

type fakeUnread struct {
	calls []unreadCall
}

func (f *fakeUnread) ApplyLiveEvent(ref model.ChatRef, senderID string, isCurrentlyOpen bool, sentAt time.Time) {
	f.calls = append(f.calls, unreadCall{ref, senderID, isCurrentlyOpen})
}

type fakeView struct {
	active  *model.ChatRef
	focused bool
}

func (f *fakeView) ActiveChat() (model.ChatRef, bool) {
	if f.active == nil {
		return model.ChatRef{}, false
	}
	return *f.active, true
}

func (f *fakeView) WindowFocused() bool { return f.focused }

type fakePusher struct {
	mu   sync.Mutex
	sent []push.Notification
}

func (f *fakePusher) Notify(ctx context.Context, n push.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
}

func (f *fakePusher) notifications() []push.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]push.Notification(nil), f.sent...)
}

type routerFixture struct {
	router *Router
	prefs  *fakePrefs
	unread *fakeUnread
	view   *fakeView
	pusher *fakePusher
	sink   *recordingSink
	slot   *ToastSlot
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		prefs:  &fakePrefs{muted: map[model.ChatRef]bool{}, hidePreview: map[model.ChatRef]bool{}},
		unread: &fakeUnread{},
		view:   &fakeView{focused: true},
		pusher: &fakePusher{},
		sink:   &recordingSink{},
	}
	f.slot = NewToastSlot(f.sink, time.Minute)
	t.Cleanup(f.slot.Stop)
	self := model.User{ID: "1", Name: "Alice"}
	f.router = NewRouter(self, f.prefs, f.unread, f.view, f.slot, f.pusher)
	return f
}

func dmEvent(senderID, senderName, content string) ws.MessageCreatedPayload {
	return ws.MessageCreatedPayload{
		ChatID:   senderID,
		ChatType: model.ChatTypeUser,
		Message: &model.Message{
			ID:        "m1",
			ChatID:    senderID,
			SenderID:  senderID,
			Content:   content,
			CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		Sender: &model.User{ID: senderID, Name: senderName},
	}
}

func teamEvent(teamID, teamName string, msg *model.Message, sender *model.User) ws.MessageCreatedPayload {
	return ws.MessageCreatedPayload{
		ChatID:   teamID,
		ChatType: model.ChatTypeTeam,
		ChatName: teamName,
		Message:  msg,
		Sender:   sender,
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	f := newRouterFixture(t)

	f.router.HandleMessage(context.Background(), ws.MessageCreatedPayload{ChatID: "2", ChatType: model.ChatTypeUser})
	f.router.HandleMessage(context.Background(), ws.MessageCreatedPayload{
		ChatID: "2", ChatType: model.ChatTypeUser, Message: &model.Message{ID: "m1"},
	})

	require.Empty(t, f.unread.calls)
	require.Nil(t, f.slot.Current())
}

func TestSelfMessageSuppressed(t *testing.T) {
	f := newRouterFixture(t)
	f.view.focused = false

	ev := dmEvent("1", "Alice", "talking to myself")
	f.router.HandleMessage(context.Background(), ev)

	require.Empty(t, f.unread.calls, "no unread increment for own message")
	require.Nil(t, f.slot.Current(), "no toast for own message")
	require.Empty(t, f.pusher.notifications(), "no push for own message")
}

func TestPlainEventEmitsToastAndCountsUnread(t *testing.T) {
	f := newRouterFixture(t)

	f.router.HandleMessage(context.Background(), dmEvent("2", "Birgit", "hi"))

	require.Equal(t, []unreadCall{{model.ChatRef{ID: "2", Type: model.ChatTypeUser}, "2", false}}, f.unread.calls)
	cur := f.slot.Current()
	require.NotNil(t, cur)
	require.Equal(t, "Birgit", cur.Title)
	require.Equal(t, "hi", cur.Body)
	require.Empty(t, f.pusher.notifications(), "focused window gets no system push")
}

func TestViewingChatSuppressesToast(t *testing.T) {
	f := newRouterFixture(t)
	active := model.ChatRef{ID: "2", Type: model.ChatTypeUser}
	f.view.active = &active

	f.router.HandleMessage(context.Background(), dmEvent("2", "Birgit", "hi"))

	require.Nil(t, f.slot.Current(), "no toast while viewing this exact chat")
	// The reconciler still sees the event, with the viewing flag set.
	require.Equal(t, []unreadCall{{active, "2", true}}, f.unread.calls)
}

func TestMutedChatDropsAlerting(t *testing.T) {
	f := newRouterFixture(t)
	f.view.focused = false
	ref := model.ChatRef{ID: "2", Type: model.ChatTypeUser}
	f.prefs.muted[ref] = true

	f.router.HandleMessage(context.Background(), dmEvent("2", "Birgit", "hi"))

	require.Nil(t, f.slot.Current())
	require.Empty(t, f.pusher.notifications())
	require.Len(t, f.unread.calls, 1, "mute suppresses alerting, not counting")
}

func TestMentionOverridesMute(t *testing.T) {
	f := newRouterFixture(t)
	f.view.focused = false
	ref := model.ChatRef{ID: "5", Type: model.ChatTypeTeam}
	f.prefs.muted[ref] = true

	msg := &model.Message{ID: "m1", ChatID: "5", SenderID: "2", Content: "@everyone standup", MentionsEveryone: true, CreatedAt: time.Now()}
	f.router.HandleMessage(context.Background(), teamEvent("5", "Ops", msg, &model.User{ID: "2", Name: "Birgit"}))

	require.Len(t, f.unread.calls, 1)
	cur := f.slot.Current()
	require.NotNil(t, cur)
	require.True(t, cur.Mention)

	require.Eventually(t, func() bool {
		return len(f.pusher.notifications()) == 1
	}, time.Second, 5*time.Millisecond)
	n := f.pusher.notifications()[0]
	require.True(t, n.RequireInteraction, "mention pushes stay on screen")
	require.Equal(t, "team:5", n.Tag)
	require.Contains(t, n.Title, "mentioned you")
}

func TestEveryoneMarkerIgnoredInDMs(t *testing.T) {
	f := newRouterFixture(t)
	ref := model.ChatRef{ID: "2", Type: model.ChatTypeUser}
	f.prefs.muted[ref] = true

	ev := dmEvent("2", "Birgit", "hi")
	ev.Message.MentionsEveryone = true
	f.router.HandleMessage(context.Background(), ev)

	require.Nil(t, f.slot.Current(), "everyone marker only applies to team chats")
}

func TestHiddenWindowGetsPush(t *testing.T) {
	f := newRouterFixture(t)
	f.view.focused = false

	f.router.HandleMessage(context.Background(), dmEvent("2", "Birgit", "hi"))

	require.Eventually(t, func() bool {
		return len(f.pusher.notifications()) == 1
	}, time.Second, 5*time.Millisecond)
	n := f.pusher.notifications()[0]
	require.Equal(t, "dm:2", n.Tag)
	require.Equal(t, "hi", n.Body)
	require.False(t, n.RequireInteraction)
}

func TestHidePreviewRedactsBody(t *testing.T) {
	f := newRouterFixture(t)
	f.view.focused = false
	ref := model.ChatRef{ID: "2", Type: model.ChatTypeUser}
	f.prefs.hidePreview[ref] = true

	f.router.HandleMessage(context.Background(), dmEvent("2", "Birgit", "the secret plan"))

	cur := f.slot.Current()
	require.NotNil(t, cur)
	require.Equal(t, redactedBody, cur.Body)
	require.Eventually(t, func() bool {
		return len(f.pusher.notifications()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, redactedBody, f.pusher.notifications()[0].Body)
}

func TestSingleToastAcrossChats(t *testing.T) {
	f := newRouterFixture(t)

	f.router.HandleMessage(context.Background(), dmEvent("2", "Birgit", "first"))
	f.router.HandleMessage(context.Background(), dmEvent("3", "Carol", "second"))

	shown, _ := f.sink.snapshot()
	require.Len(t, shown, 2, "slot updated twice")
	cur := f.slot.Current()
	require.NotNil(t, cur)
	require.Equal(t, "second", cur.Body, "visible toast reflects the latest event")
	require.Equal(t, model.ChatRef{ID: "3", Type: model.ChatTypeUser}, cur.Chat)
}

func TestLongBodyTruncated(t *testing.T) {
	f := newRouterFixture(t)
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}

	f.router.HandleMessage(context.Background(), dmEvent("2", "Birgit", string(long)))

	cur := f.slot.Current()
	require.NotNil(t, cur)
	require.Len(t, cur.Body, 120)
	require.Equal(t, "...", cur.Body[117:])
}

func TestAttachmentFallbackBody(t *testing.T) {
	f := newRouterFixture(t)
	ev := dmEvent("2", "Birgit", "")
	ev.Message.HasAttachment = true

	f.router.HandleMessage(context.Background(), ev)

	cur := f.slot.Current()
	require.NotNil(t, cur)
	require.Equal(t, "Attachment", cur.Body)
}
