// Package typing aggregates ephemeral "user is composing" signals per
// conversation channel and expires them on a fixed TTL.
package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/pulse-presence/internal/model"
)

const (
	DefaultTTL        = 3 * time.Second
	DefaultSweepEvery = time.Second
)

// Entry is one user currently typing in one channel.
type Entry struct {
	UserID   string
	UserName string

	firstSeen time.Time
	lastSeen  time.Time
}

// Aggregator keeps at most one entry per user per channel; repeated signals
// coalesce into that entry with the latest timestamp winning. A background
// sweep owned by the aggregator evicts entries older than the TTL and drops
// empty channel buckets.
type Aggregator struct {
	mu       sync.Mutex
	channels map[model.ChannelKey]map[string]*Entry

	ttl        time.Duration
	sweepEvery time.Duration
	now        func() time.Time

	// onChange, when set, is invoked (outside the lock) for every channel
	// whose visible set changed. The UI uses it to re-render "X is typing…".
	onChange func(model.ChannelKey)

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

type Option func(*Aggregator)

func WithTTL(ttl time.Duration) Option {
	return func(a *Aggregator) { a.ttl = ttl }
}

func WithSweepEvery(d time.Duration) Option {
	return func(a *Aggregator) { a.sweepEvery = d }
}

// WithClock replaces the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func WithOnChange(fn func(model.ChannelKey)) Option {
	return func(a *Aggregator) { a.onChange = fn }
}

func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		channels:   make(map[model.ChannelKey]map[string]*Entry),
		ttl:        DefaultTTL,
		sweepEvery: DefaultSweepEvery,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the sweep loop. Stop cancels it.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-a.done:
				return
			case <-ticker.C:
				a.Sweep()
			}
		}
	}()
}

// Stop cancels the sweep loop. Safe to call multiple times.
func (a *Aggregator) Stop() {
	a.once.Do(func() { close(a.done) })
	a.wg.Wait()
}

// OnSignal inserts or renews the typing entry for a user in a channel.
func (a *Aggregator) OnSignal(key model.ChannelKey, userID, userName string) {
	now := a.now()
	a.mu.Lock()
	bucket, ok := a.channels[key]
	if !ok {
		bucket = make(map[string]*Entry)
		a.channels[key] = bucket
	}
	e, exists := bucket[userID]
	if exists {
		e.lastSeen = now
		if userName != "" {
			e.UserName = userName
		}
	} else {
		bucket[userID] = &Entry{UserID: userID, UserName: userName, firstSeen: now, lastSeen: now}
	}
	a.mu.Unlock()

	if !exists {
		a.notify(key)
	}
}

// ClearUser removes a user's entries across all channels: their own echo must
// never render as typing, and a send clears the indicator immediately.
func (a *Aggregator) ClearUser(userID string) {
	a.mu.Lock()
	var changed []model.ChannelKey
	for key, bucket := range a.channels {
		if _, ok := bucket[userID]; !ok {
			continue
		}
		delete(bucket, userID)
		if len(bucket) == 0 {
			delete(a.channels, key)
		}
		changed = append(changed, key)
	}
	a.mu.Unlock()

	for _, key := range changed {
		a.notify(key)
	}
}

// ClearUserFromChannel removes one user from one channel (explicit
// stopped-typing signal).
func (a *Aggregator) ClearUserFromChannel(key model.ChannelKey, userID string) {
	a.mu.Lock()
	bucket, ok := a.channels[key]
	if ok {
		if _, exists := bucket[userID]; exists {
			delete(bucket, userID)
			if len(bucket) == 0 {
				delete(a.channels, key)
			}
		} else {
			ok = false
		}
	}
	a.mu.Unlock()

	if ok {
		a.notify(key)
	}
}

// Get returns the live (non-expired) entries for a channel, ordered by
// first-seen time. Safe to call at any time; does not mutate state.
func (a *Aggregator) Get(key model.ChannelKey) []Entry {
	cutoff := a.now().Add(-a.ttl)
	a.mu.Lock()
	bucket := a.channels[key]
	out := make([]Entry, 0, len(bucket))
	for _, e := range bucket {
		if e.lastSeen.After(cutoff) {
			out = append(out, *e)
		}
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].firstSeen.Equal(out[j].firstSeen) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].firstSeen.Before(out[j].firstSeen)
	})
	return out
}

// Sweep evicts expired entries and empty buckets. Called by the loop started
// with Start; exported so tests can drive it directly.
func (a *Aggregator) Sweep() {
	cutoff := a.now().Add(-a.ttl)
	a.mu.Lock()
	var changed []model.ChannelKey
	for key, bucket := range a.channels {
		dirty := false
		for userID, e := range bucket {
			if !e.lastSeen.After(cutoff) {
				delete(bucket, userID)
				dirty = true
			}
		}
		if len(bucket) == 0 {
			delete(a.channels, key)
		}
		if dirty {
			changed = append(changed, key)
		}
	}
	a.mu.Unlock()

	for _, key := range changed {
		a.notify(key)
	}
}

func (a *Aggregator) notify(key model.ChannelKey) {
	if a.onChange != nil {
		a.onChange(key)
	}
}
