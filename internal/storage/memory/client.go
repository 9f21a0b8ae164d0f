package memory

import (
	"context"
	"sync"
	"time"
)

// Client is the in-memory storage.Store. State does not survive a restart;
// used for dev runs without Redis and for tests.
type Client struct {
	mu      sync.RWMutex
	spyMode bool
	markers map[string]time.Time
}

func New() *Client {
	return &Client{markers: make(map[string]time.Time)}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetSpyMode(ctx context.Context, on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spyMode = on
	return nil
}

func (c *Client) SpyMode(ctx context.Context) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.spyMode, nil
}

func (c *Client) SetReadMarker(ctx context.Context, teamID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markers[teamID] = at
	return nil
}

func (c *Client) ReadMarker(ctx context.Context, teamID string) (time.Time, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	at, ok := c.markers[teamID]
	return at, ok, nil
}

func (c *Client) ReadMarkers(ctx context.Context) (map[string]time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]time.Time, len(c.markers))
	for k, v := range c.markers {
		out[k] = v
	}
	return out, nil
}
