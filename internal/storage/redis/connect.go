package redis

import (
	"context"
	"os"
	"time"

	"github.com/pulse-presence/internal/logger"
)

// ConnectWithRetry connects to Redis with exponential backoff, exiting the
// process when maxWait is exhausted. logPrefix is prepended to log lines.
func ConnectWithRetry(redisURL string, maxWait time.Duration, logPrefix string) *Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := New(ctx, redisURL)
		cancel()
		if err != nil {
			if time.Now().After(deadline) {
				logger.Errorf("%sredis (gave up after %v): %v", logPrefix, maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return client
	}
}
