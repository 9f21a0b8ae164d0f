// Package spymode tracks synthetic read state for teams the viewer is not a
// member of. The server has no read receipt for a non-member, so the tracker
// records "last viewed" timestamps in the persisted local store and derives a
// zero-unread state from them.
package spymode

import (
	"context"
	"fmt"
	"time"

	"github.com/pulse-presence/internal/model"
	"github.com/pulse-presence/internal/storage"
)

type Tracker struct {
	store storage.Store
}

func NewTracker(store storage.Store) *Tracker {
	return &Tracker{store: store}
}

// Effective computes the effective spy mode: the monitoring permission AND
// the persisted toggle. It is always derived, never stored, so permission
// revocation takes effect without touching the toggle.
func (t *Tracker) Effective(ctx context.Context, hasPermission bool) (bool, error) {
	if !hasPermission {
		return false, nil
	}
	on, err := t.store.SpyMode(ctx)
	if err != nil {
		return false, fmt.Errorf("spymode.Effective: %w", err)
	}
	return on, nil
}

// SetToggle persists the user's spy-mode toggle. Turning it off leaves the
// read markers in place; they stay valid if spy mode is re-enabled later.
func (t *Tracker) SetToggle(ctx context.Context, on bool) error {
	if err := t.store.SetSpyMode(ctx, on); err != nil {
		return fmt.Errorf("spymode.SetToggle: %w", err)
	}
	return nil
}

// MarkViewed records that the viewer looked at a non-member team now.
func (t *Tracker) MarkViewed(ctx context.Context, teamID string, at time.Time) error {
	if err := t.store.SetReadMarker(ctx, teamID, at); err != nil {
		return fmt.Errorf("spymode.MarkViewed: %w", err)
	}
	return nil
}

// Marker returns the recorded marker for a team, if any.
func (t *Tracker) Marker(ctx context.Context, teamID string) (model.SpyReadMarker, bool, error) {
	at, ok, err := t.store.ReadMarker(ctx, teamID)
	if err != nil {
		return model.SpyReadMarker{}, false, fmt.Errorf("spymode.Marker: %w", err)
	}
	if !ok {
		return model.SpyReadMarker{}, false, nil
	}
	return model.SpyReadMarker{TeamID: teamID, LastReadAt: at}, true, nil
}

// EffectiveUnread returns the unread count to display for a team. For
// non-member teams with a marker at or past the last message, the count is
// forced to zero regardless of what the server reported.
func (t *Tracker) EffectiveUnread(ctx context.Context, team model.Team, serverCount int) (int, error) {
	if team.IsMember {
		return serverCount, nil
	}
	at, ok, err := t.store.ReadMarker(ctx, team.ID)
	if err != nil {
		return serverCount, fmt.Errorf("spymode.EffectiveUnread: %w", err)
	}
	if ok && !at.Before(team.LastMessageAt) {
		return 0, nil
	}
	return serverCount, nil
}
