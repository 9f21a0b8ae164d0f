package typing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pulse-presence/internal/model"
)

// fakeClock drives the aggregator without real sleeps.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestAggregator(opts ...Option) (*Aggregator, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append(opts, WithClock(clock.Now))
	return New(opts...), clock
}

func TestSignalExpiresAfterTTL(t *testing.T) {
	agg, clock := newTestAggregator()
	key := model.TeamKey("5")

	agg.OnSignal(key, "u2", "Birgit")

	clock.Advance(2900 * time.Millisecond)
	agg.Sweep()
	require.Len(t, agg.Get(key), 1, "entry must still be visible at T+2.9s")

	clock.Advance(200 * time.Millisecond)
	agg.Sweep()
	require.Empty(t, agg.Get(key), "entry must be gone at T+3.1s")
}

func TestRenewalSignalExtendsTTL(t *testing.T) {
	agg, clock := newTestAggregator()
	key := model.DMKey("u2")

	agg.OnSignal(key, "u2", "Birgit")
	clock.Advance(2 * time.Second)
	agg.OnSignal(key, "u2", "Birgit")
	clock.Advance(2 * time.Second)
	agg.Sweep()

	require.Len(t, agg.Get(key), 1, "renewed entry outlives the original TTL window")
}

func TestRapidSignalsCoalesce(t *testing.T) {
	agg, clock := newTestAggregator()
	key := model.TeamKey("5")

	for i := 0; i < 10; i++ {
		agg.OnSignal(key, "u2", "Birgit")
		clock.Advance(50 * time.Millisecond)
	}

	entries := agg.Get(key)
	require.Len(t, entries, 1, "one entry per user per channel")
	require.Equal(t, "u2", entries[0].UserID)
}

func TestGetOrdersByFirstSeen(t *testing.T) {
	agg, clock := newTestAggregator()
	key := model.TeamKey("5")

	agg.OnSignal(key, "u3", "Carol")
	clock.Advance(200 * time.Millisecond)
	agg.OnSignal(key, "u2", "Birgit")
	clock.Advance(200 * time.Millisecond)
	// Renewal must not reorder.
	agg.OnSignal(key, "u3", "Carol")

	entries := agg.Get(key)
	require.Len(t, entries, 2)
	require.Equal(t, "u3", entries[0].UserID)
	require.Equal(t, "u2", entries[1].UserID)
}

func TestClearUserRemovesAcrossChannels(t *testing.T) {
	agg, _ := newTestAggregator()
	k1 := model.TeamKey("5")
	k2 := model.DMKey("u2")

	agg.OnSignal(k1, "u2", "Birgit")
	agg.OnSignal(k2, "u2", "Birgit")
	agg.OnSignal(k1, "u3", "Carol")

	agg.ClearUser("u2")

	require.Empty(t, agg.Get(k2))
	entries := agg.Get(k1)
	require.Len(t, entries, 1)
	require.Equal(t, "u3", entries[0].UserID)
}

func TestClearUserFromChannelIsScoped(t *testing.T) {
	agg, _ := newTestAggregator()
	k1 := model.TeamKey("5")
	k2 := model.DMKey("u2")

	agg.OnSignal(k1, "u2", "Birgit")
	agg.OnSignal(k2, "u2", "Birgit")

	agg.ClearUserFromChannel(k1, "u2")

	require.Empty(t, agg.Get(k1))
	require.Len(t, agg.Get(k2), 1)
}

func TestSweepNotifiesChangedChannels(t *testing.T) {
	var changed []model.ChannelKey
	agg, clock := newTestAggregator(WithOnChange(func(key model.ChannelKey) {
		changed = append(changed, key)
	}))
	key := model.TeamKey("5")

	agg.OnSignal(key, "u2", "Birgit")
	require.Equal(t, []model.ChannelKey{key}, changed)

	clock.Advance(4 * time.Second)
	agg.Sweep()
	require.Equal(t, []model.ChannelKey{key, key}, changed)

	// Sweeping an already-empty aggregator stays silent.
	agg.Sweep()
	require.Len(t, changed, 2)
}
