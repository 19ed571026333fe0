package admission

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(limit int, window time.Duration, now *time.Time) *Controller {
	c := NewController(Config{DailyLimit: limit, Window: window})
	c.now = func() time.Time { return *now }
	return c
}

func TestCheckAndConsumeExhaustsLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newTestController(3, 24*time.Hour, &now)

	for i := 0; i < 3; i++ {
		d := c.CheckAndConsume("u1")
		require.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 3-(i+1), d.Remaining)
	}

	d := c.CheckAndConsume("u1")
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	// A rejected request must not mutate state: still rejected, still zero.
	d = c.CheckAndConsume("u1")
	assert.False(t, d.Allowed)
}

func TestWindowRollsFromFirstRequest(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newTestController(2, 24*time.Hour, &now)

	first := c.CheckAndConsume("u1")
	require.True(t, first.Allowed)
	assert.Equal(t, now.Add(24*time.Hour), first.ResetAt)

	c.CheckAndConsume("u1")
	assert.False(t, c.CheckAndConsume("u1").Allowed)

	// Just before expiry the window still holds.
	now = first.ResetAt.Add(-time.Second)
	assert.False(t, c.CheckAndConsume("u1").Allowed)

	// At expiry a fresh window starts, anchored at this request.
	now = first.ResetAt
	d := c.CheckAndConsume("u1")
	require.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, now.Add(24*time.Hour), d.ResetAt)
}

func TestWindowsHaveIndependentPhasePerUser(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newTestController(5, 24*time.Hour, &now)

	a := c.CheckAndConsume("alice")
	now = now.Add(6 * time.Hour)
	b := c.CheckAndConsume("bob")

	assert.Equal(t, 6*time.Hour, b.ResetAt.Sub(a.ResetAt))
}

func TestConcurrentRequestsNeverOverAdmit(t *testing.T) {
	const limit = 50
	c := NewController(Config{DailyLimit: limit, Window: 24 * time.Hour})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.CheckAndConsume("u1").Allowed {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, admitted)
}

func TestSweepRemovesOnlyExpiredEntries(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newTestController(5, 24*time.Hour, &now)

	c.CheckAndConsume("old")
	now = now.Add(12 * time.Hour)
	c.CheckAndConsume("fresh")

	// "old" expires 24h after its first request; "fresh" is 12h in.
	now = now.Add(13 * time.Hour)
	removed := c.Sweep()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())

	// The surviving entry keeps its count across the sweep.
	d := c.CheckAndConsume("fresh")
	require.True(t, d.Allowed)
	assert.Equal(t, 3, d.Remaining)
}

func TestAdmissionCorrectWithoutSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newTestController(1, time.Hour, &now)

	require.True(t, c.CheckAndConsume("u1").Allowed)
	require.False(t, c.CheckAndConsume("u1").Allowed)

	// No sweep runs, but lazy expiry inside CheckAndConsume still opens a
	// new window once the old one has passed.
	now = now.Add(2 * time.Hour)
	assert.True(t, c.CheckAndConsume("u1").Allowed)
}
