package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	spyModeKey   = "presence:spy_mode"
	markerPrefix = "presence:spy_marker:"
)

// Client is the Redis-backed storage.Store. Markers are stored without TTL:
// they stay valid if spy mode is re-enabled later.
type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) SetSpyMode(ctx context.Context, on bool) error {
	val := "0"
	if on {
		val = "1"
	}
	return c.cli.Set(ctx, spyModeKey, val, 0).Err()
}

func (c *Client) SpyMode(ctx context.Context) (bool, error) {
	val, err := c.cli.Get(ctx, spyModeKey).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "1", nil
}

func (c *Client) SetReadMarker(ctx context.Context, teamID string, at time.Time) error {
	return c.cli.Set(ctx, markerPrefix+teamID, at.UTC().Format(time.RFC3339Nano), 0).Err()
}

func (c *Client) ReadMarker(ctx context.Context, teamID string) (time.Time, bool, error) {
	val, err := c.cli.Get(ctx, markerPrefix+teamID).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis parse marker %s: %w", teamID, err)
	}
	return at, true, nil
}

func (c *Client) ReadMarkers(ctx context.Context) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	iter := c.cli.Scan(ctx, 0, markerPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		val, err := c.cli.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		at, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			continue
		}
		out[key[len(markerPrefix):]] = at
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
