package storage

import (
	"context"
	"time"
)

// Store is the locally persisted key-value state that must survive a reload:
// the spy-mode toggle and the per-team read markers recorded for non-member
// teams (no server-side read receipt exists for those).
// Implementations: redis.Client, memory.Client (for dev and tests).
type Store interface {
	SetSpyMode(ctx context.Context, on bool) error
	SpyMode(ctx context.Context) (bool, error)

	SetReadMarker(ctx context.Context, teamID string, at time.Time) error
	// ReadMarker returns the marker for a team; ok is false when none exists.
	ReadMarker(ctx context.Context, teamID string) (at time.Time, ok bool, err error)
	ReadMarkers(ctx context.Context) (map[string]time.Time, error)

	Close() error
}
