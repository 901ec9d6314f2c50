package sanitize

import (
	"sync"
	"time"

	"github.com/clawguard/clawguard/internal/catalog"
)

const (
	// DefaultMemoryCapacity bounds the injection ring.
	DefaultMemoryCapacity = 50

	// DefaultRecentWindow is the lookback used when callers pass no window.
	DefaultRecentWindow = 5 * time.Minute
)

// Event is one remembered injection detection. Label joins every matched
// rule label; Severity is the highest among them.
type Event struct {
	From      string           `json:"from"`
	ChannelID string           `json:"channel_id"`
	Label     string           `json:"label"`
	Severity  catalog.Severity `json:"severity"`
	Timestamp time.Time        `json:"timestamp"`
}

// Memory is a fixed-capacity FIFO of recent injection events. Order is
// insertion order, which approximates recency; events are never re-sorted
// by timestamp.
//
// Memory is safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	now      func() time.Time
}

// MemoryOption configures a Memory.
type MemoryOption func(*Memory)

// WithMemoryClock replaces time.Now for window checks.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates a ring holding at most capacity events. A capacity <= 0
// uses DefaultMemoryCapacity.
func NewMemory(capacity int, opts ...MemoryOption) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	m := &Memory{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record appends ev, evicting the oldest event when the ring is full. A zero
// timestamp is set to the current time.
func (m *Memory) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.events) >= m.capacity {
		copy(m.events, m.events[1:])
		m.events = m.events[:len(m.events)-1]
	}
	m.events = append(m.events, ev)
}

// Recent returns events with a timestamp within the window ending now, in
// insertion order. A window <= 0 uses DefaultRecentWindow.
func (m *Memory) Recent(within time.Duration) []Event {
	cutoff := m.cutoff(within)

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, ev := range m.events {
		if !ev.Timestamp.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// HasHighSeverity reports whether any retained high-severity event falls in
// the window.
func (m *Memory) HasHighSeverity(within time.Duration) bool {
	cutoff := m.cutoff(within)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ev := range m.events {
		if ev.Severity == catalog.SeverityHigh && !ev.Timestamp.Before(cutoff) {
			return true
		}
	}
	return false
}

// Len returns the number of retained events, regardless of age.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Capacity returns the ring capacity.
func (m *Memory) Capacity() int { return m.capacity }

func (m *Memory) cutoff(within time.Duration) time.Time {
	if within <= 0 {
		within = DefaultRecentWindow
	}
	return m.now().Add(-within)
}
