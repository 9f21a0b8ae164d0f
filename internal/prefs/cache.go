// Package prefs caches the per-chat and global notification settings. The
// cache is never mutated optimistically: every mutation goes to the server
// first, and local state is replaced only from the confirmed response.
package prefs

import (
	"context"
	"fmt"
	"sync"

	"github.com/pulse-presence/internal/model"
)

// API is the slice of the portal client the cache needs.
type API interface {
	Preferences(ctx context.Context) ([]model.ChatPreference, error)
	Settings(ctx context.Context) (model.GlobalSettings, error)
	SetMuted(ctx context.Context, ref model.ChatRef, muted bool) error
	SetHidden(ctx context.Context, ref model.ChatRef, hidden bool) error
	SetHidePreview(ctx context.Context, ref model.ChatRef, hide bool) error
	SetGlobalMute(ctx context.Context, on bool) error
	SetGlobalHidePreview(ctx context.Context, on bool) error
}

type Cache struct {
	api API

	mu     sync.RWMutex
	prefs  map[model.ChatRef]model.ChatPreference
	global model.GlobalSettings
}

func NewCache(api API) *Cache {
	return &Cache{
		api:   api,
		prefs: make(map[model.ChatRef]model.ChatPreference),
	}
}

// Load fetches the preference list and global settings and replaces the cache.
// Called at session start and after any mutating call.
func (c *Cache) Load(ctx context.Context) error {
	list, err := c.api.Preferences(ctx)
	if err != nil {
		return fmt.Errorf("prefs.Load: %w", err)
	}
	global, err := c.api.Settings(ctx)
	if err != nil {
		return fmt.Errorf("prefs.Load: %w", err)
	}

	// One entry per (chatId, chatType): a later entry replaces, never
	// duplicates.
	next := make(map[model.ChatRef]model.ChatPreference, len(list))
	for _, p := range list {
		next[p.Ref()] = p
	}

	c.mu.Lock()
	c.prefs = next
	c.global = global
	c.mu.Unlock()
	return nil
}

// IsMuted reports whether alerting is muted for the chat: the global flag
// short-circuits, then the per-chat preference (absent means false).
func (c *Cache) IsMuted(ref model.ChatRef) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.global.GlobalMute {
		return true
	}
	return c.prefs[ref].IsMuted
}

// ShouldHidePreview reports whether message content must be redacted from
// notifications for the chat.
func (c *Cache) ShouldHidePreview(ref model.ChatRef) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.global.GlobalHidePreview {
		return true
	}
	return c.prefs[ref].HidePreview
}

// IsHidden reports whether the chat is hidden from the sidebar.
func (c *Cache) IsHidden(ref model.ChatRef) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prefs[ref].IsHidden
}

// Global returns the global settings snapshot.
func (c *Cache) Global() model.GlobalSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.global
}

// SetMuted mutes or unmutes a chat. On server failure the cache is left
// unchanged and the error is returned to the caller.
func (c *Cache) SetMuted(ctx context.Context, ref model.ChatRef, muted bool) error {
	if err := c.api.SetMuted(ctx, ref, muted); err != nil {
		return err
	}
	return c.Load(ctx)
}

func (c *Cache) SetHidden(ctx context.Context, ref model.ChatRef, hidden bool) error {
	if err := c.api.SetHidden(ctx, ref, hidden); err != nil {
		return err
	}
	return c.Load(ctx)
}

func (c *Cache) SetHidePreview(ctx context.Context, ref model.ChatRef, hide bool) error {
	if err := c.api.SetHidePreview(ctx, ref, hide); err != nil {
		return err
	}
	return c.Load(ctx)
}

func (c *Cache) SetGlobalMute(ctx context.Context, on bool) error {
	if err := c.api.SetGlobalMute(ctx, on); err != nil {
		return err
	}
	return c.Load(ctx)
}

func (c *Cache) SetGlobalHidePreview(ctx context.Context, on bool) error {
	if err := c.api.SetGlobalHidePreview(ctx, on); err != nil {
		return err
	}
	return c.Load(ctx)
}

// EvictTeam drops the cached entry for a team that vanished from the visible
// set (removed membership). The server copy is left alone.
func (c *Cache) EvictTeam(teamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.prefs, model.ChatRef{ID: teamID, Type: model.ChatTypeTeam})
}

// Len reports the number of cached per-chat entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prefs)
}
