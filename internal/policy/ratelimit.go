package policy

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	// DefaultWindow is the trailing window used by the built-in limits.
	DefaultWindow = time.Minute

	// DefaultSweepInterval controls how often every key is pruned and empty
	// keys are dropped, independent of traffic.
	DefaultSweepInterval = 60 * time.Second

	// Unlimited disables the exceeded check. Counters created with it only
	// observe.
	Unlimited = math.MaxInt
)

// CounterOption configures a SlidingWindowCounter.
type CounterOption func(*SlidingWindowCounter)

// WithClock replaces time.Now. Tests use it to move time without sleeping.
func WithClock(now func() time.Time) CounterOption {
	return func(c *SlidingWindowCounter) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSweepInterval overrides DefaultSweepInterval.
func WithSweepInterval(d time.Duration) CounterOption {
	return func(c *SlidingWindowCounter) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

// SlidingWindowCounter counts events per key over a trailing window. Every
// stored timestamp is at least now-window after any read of that key; stale
// entries are dropped lazily on Count and by a periodic sweep.
//
// SlidingWindowCounter is safe for concurrent use. One mutex guards the key
// map and is held only for a single key's append or prune.
type SlidingWindowCounter struct {
	name          string
	window        time.Duration
	limit         int
	now           func() time.Time
	sweepInterval time.Duration
	logger        *slog.Logger

	mu   sync.Mutex
	keys map[string][]time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSlidingWindowCounter creates a counter. A limit <= 0 is treated as
// Unlimited.
func NewSlidingWindowCounter(name string, window time.Duration, limit int, logger *slog.Logger, opts ...CounterOption) *SlidingWindowCounter {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = Unlimited
	}
	c := &SlidingWindowCounter{
		name:          name,
		window:        window,
		limit:         limit,
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		keys:          make(map[string][]time.Time),
		logger:        logger.With("component", "policy.SlidingWindowCounter", "counter", name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the counter name.
func (c *SlidingWindowCounter) Name() string { return c.name }

// Limit returns the configured limit.
func (c *SlidingWindowCounter) Limit() int { return c.limit }

// Window returns the configured window.
func (c *SlidingWindowCounter) Window() time.Duration { return c.window }

// Record appends the current time to key's history.
func (c *SlidingWindowCounter) Record(key string) {
	now := c.now()

	c.mu.Lock()
	c.keys[key] = append(c.keys[key], now)
	c.mu.Unlock()
}

// Count prunes key's history to the window and returns what remains. A key
// left empty is removed.
func (c *SlidingWindowCounter) Count(key string) int {
	cutoff := c.now().Add(-c.window)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruneLocked(key, cutoff)
}

// IsExceeded reports whether key's count is above the limit.
func (c *SlidingWindowCounter) IsExceeded(key string) bool {
	if c.limit == Unlimited {
		return false
	}
	return c.Count(key) > c.limit
}

// Len returns the number of tracked keys.
func (c *SlidingWindowCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

// Sweep prunes every key and drops the empty ones. The lock is taken once per
// key so foreground calls wait for at most one key's prune. It returns the
// number of keys removed.
func (c *SlidingWindowCounter) Sweep() int {
	c.mu.Lock()
	keys := make([]string, 0, len(c.keys))
	for k := range c.keys {
		keys = append(keys, k)
	}
	c.mu.Unlock()

	removed := 0
	for _, k := range keys {
		cutoff := c.now().Add(-c.window)
		c.mu.Lock()
		_, existed := c.keys[k]
		if existed && c.pruneLocked(k, cutoff) == 0 {
			removed++
		}
		c.mu.Unlock()
	}

	if removed > 0 {
		c.logger.Debug("sweep complete",
			"removed_keys", removed,
			"active_keys", c.Len(),
		)
	}
	return removed
}

// pruneLocked filters key's timestamps to those at or after cutoff. Must be
// called while c.mu is held.
func (c *SlidingWindowCounter) pruneLocked(key string, cutoff time.Time) int {
	timestamps, ok := c.keys[key]
	if !ok {
		return 0
	}

	recent := timestamps[:0]
	for _, ts := range timestamps {
		if !ts.Before(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) == 0 {
		delete(c.keys, key)
		return 0
	}
	c.keys[key] = recent
	return len(recent)
}

// Start launches the background sweep. It stops when ctx is cancelled or
// Stop is called. Calling Start on a running counter is a no-op.
func (c *SlidingWindowCounter) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go c.sweepLoop(ctx, c.done)
}

func (c *SlidingWindowCounter) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Stop cancels the background sweep and waits for it to exit.
func (c *SlidingWindowCounter) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
}
