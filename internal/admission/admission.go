package admission

import (
	"context"
	"sync"
	"time"

	logx "github.com/personacast/server/pkg/logger"
)

// Config holds quota parameters, sourced from environment variables.
type Config struct {
	DailyLimit    int           `envconfig:"QUOTA_DAILY_LIMIT" default:"50"`
	Window        time.Duration `envconfig:"QUOTA_WINDOW" default:"24h"`
	SweepInterval time.Duration `envconfig:"QUOTA_SWEEP_INTERVAL" default:"1h"`
}

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// entry tracks one user's consumption inside the current window. Once
// resetAt has passed the entry is logically dead and must be replaced,
// never incremented.
type entry struct {
	count   int
	resetAt time.Time
}

// Controller enforces a per-user quota over a rolling window anchored to
// each user's first request, not a calendar boundary. All state is held
// in process memory; expiry is handled lazily inside CheckAndConsume, so
// correctness never depends on the background sweep having run.
type Controller struct {
	mu      sync.Mutex
	entries map[string]*entry

	limit  int
	window time.Duration
	now    func() time.Time
}

// NewController creates a Controller from config. Zero or negative values
// fall back to the envconfig defaults so a partially filled Config from a
// test cannot produce a limiter that admits nothing.
func NewController(cfg Config) *Controller {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = 50
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	return &Controller{
		entries: make(map[string]*entry),
		limit:   cfg.DailyLimit,
		window:  cfg.Window,
		now:     time.Now,
	}
}

// CheckAndConsume atomically checks the user's quota and, when allowed,
// consumes one unit. The check and the increment happen under one lock so
// concurrent requests from the same user can never over-admit.
func (c *Controller) CheckAndConsume(userID string) Decision {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok || !now.Before(e.resetAt) {
		// First request ever, or the previous window has expired: start a
		// fresh window anchored at this request.
		e = &entry{count: 1, resetAt: now.Add(c.window)}
		c.entries[userID] = e
		return Decision{Allowed: true, Remaining: c.limit - 1, ResetAt: e.resetAt}
	}

	if e.count >= c.limit {
		return Decision{Allowed: false, Remaining: 0, ResetAt: e.resetAt}
	}

	e.count++
	return Decision{Allowed: true, Remaining: c.limit - e.count, ResetAt: e.resetAt}
}

// Sweep removes every entry whose window has expired and reports how many
// were dropped. Entries still inside their window are never touched.
func (c *Controller) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, e := range c.entries {
		if !now.Before(e.resetAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries on the configured interval until ctx is
// cancelled. The sweep only bounds memory to active users; admission
// checks stay correct without it.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	log := logx.Component("admission")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Sweep(); removed > 0 {
				log.Debug().Int("removed", removed).Msg("Swept expired quota entries")
			}
		}
	}
}

// Len reports the number of tracked users, expired or not.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
