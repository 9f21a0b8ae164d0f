package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulse-presence/internal/api"
	"github.com/pulse-presence/internal/config"
	"github.com/pulse-presence/internal/logger"
	"github.com/pulse-presence/internal/model"
	"github.com/pulse-presence/internal/notify"
	"github.com/pulse-presence/internal/push"
	"github.com/pulse-presence/internal/session"
	"github.com/pulse-presence/internal/storage"
	"github.com/pulse-presence/internal/storage/memory"
	redisstorage "github.com/pulse-presence/internal/storage/redis"
	"github.com/pulse-presence/internal/typing"
	"github.com/pulse-presence/internal/ws"
)

func main() {
	logger.SetPrefix("presence")
	logger.Info("starting presence engine")
	cfg := config.Load()

	if cfg.Session.UserID == "" {
		logger.Error("session.user_id is required (config or SESSION_USER_ID)")
		os.Exit(1)
	}

	var store storage.Store
	if cfg.Redis.URL != "" {
		store = redisstorage.ConnectWithRetry(cfg.Redis.URL, 60*time.Second, "")
		logger.Info("store: redis")
	} else {
		store = memory.New()
		logger.Info("store: memory (state will not survive restart)")
	}
	defer store.Close()

	keys, err := push.EnsureVAPIDKeys(cfg.VAPIDKeysFile)
	if err != nil {
		logger.Errorf("vapid keys: %v", err)
		os.Exit(1)
	}
	sender := push.NewSender(keys, cfg.PushSubscriber)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 15*time.Second)
	socket, err := ws.Dial(dialCtx, cfg.TransportURL, cfg.PortalToken)
	dialCancel()
	if err != nil {
		logger.Errorf("transport: %v", err)
		os.Exit(1)
	}
	defer func() {
		socket.Close()
		socket.Wait()
	}()

	engine := session.New(session.Config{
		Self:         model.User{ID: cfg.Session.UserID, Name: cfg.Session.UserName},
		CanSpy:       cfg.Session.CanSpy,
		API:          api.NewClient(cfg.PortalBaseURL, cfg.PortalToken),
		Transport:    socket,
		Store:        store,
		Pusher:       sender,
		Sink:         logSink{},
		TypingTTL:    cfg.TypingTTL,
		TypingSweep:  cfg.TypingSweep,
		ToastDismiss: cfg.ToastDismiss,
	})

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = engine.Start(startCtx)
	startCancel()
	if err != nil {
		logger.Errorf("engine start: %v", err)
		os.Exit(1)
	}
	defer engine.Stop()
	logger.Infof("engine running, %d channels subscribed", len(engine.SubscribedKeys()))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")
}

// logSink is the headless UISink: signals are logged instead of rendered.
// The portal UI process replaces it with a real renderer.
type logSink struct{}

func (logSink) ShowToast(t notify.Toast) {
	logger.Infof("toast chat=%s/%s mention=%v title=%q", t.Chat.Type, t.Chat.ID, t.Mention, t.Title)
}

func (logSink) ToastDismissed() {
	logger.Debugf("toast dismissed")
}

func (logSink) UnreadChanged(ref model.ChatRef, count int) {
	logger.Infof("unread chat=%s/%s count=%d", ref.Type, ref.ID, count)
}

func (logSink) TypingChanged(key model.ChannelKey, entries []typing.Entry) {
	logger.Debugf("typing channel=%s users=%d", key, len(entries))
}

func (logSink) ActiveChatInvalidated(ref model.ChatRef) {
	logger.Infof("active chat invalidated chat=%s/%s", ref.Type, ref.ID)
}
