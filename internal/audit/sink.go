package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Append(string, map[string]any) {}

// Direct writes each event synchronously to w. Write errors are logged.
func Direct(w Writer, logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &direct{w: w, logger: logger.With("component", "audit.Direct")}
}

type direct struct {
	w      Writer
	logger *slog.Logger
}

func (d *direct) Append(event string, fields map[string]any) {
	if err := d.w.Write(context.Background(), NewRecord(event, fields, time.Now())); err != nil {
		d.logger.Warn("audit write failed", "event", event, "error", err)
	}
}

// Multi fans each record out to every writer. All writers are attempted;
// their errors are joined.
func Multi(writers ...Writer) Writer {
	return multi(writers)
}

type multi []Writer

func (m multi) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, w := range m {
		if err := w.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MemorySink keeps records in memory. It is both a Sink and a Writer.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Append(event string, fields map[string]any) {
	_ = m.Write(context.Background(), NewRecord(event, fields, time.Now()))
}

func (m *MemorySink) Write(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything written so far.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Events returns the event names written so far, in order.
func (m *MemorySink) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.records))
	for i, r := range m.records {
		out[i] = r.Event
	}
	return out
}

// Find returns the first record with the given event name.
func (m *MemorySink) Find(event string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.Event == event {
			return r, true
		}
	}
	return Record{}, false
}
