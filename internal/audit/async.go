package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize bounds the AsyncSink queue.
const DefaultQueueSize = 1024

// AsyncSink queues records in front of a Writer and writes them from a
// single goroutine. When the queue is full the record is dropped and
// counted; Append never blocks.
type AsyncSink struct {
	w      Writer
	queue  chan Record
	now    func() time.Time
	logger *slog.Logger

	dropped atomic.Int64
	written atomic.Int64
	failed  atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncSink starts the writer goroutine. size <= 0 uses DefaultQueueSize.
func NewAsyncSink(w Writer, size int, logger *slog.Logger) *AsyncSink {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &AsyncSink{
		w:      w,
		queue:  make(chan Record, size),
		now:    time.Now,
		logger: logger.With("component", "audit.AsyncSink"),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for rec := range s.queue {
		if err := s.w.Write(context.Background(), rec); err != nil {
			s.failed.Add(1)
			s.logger.Warn("audit write failed", "event", rec.Event, "error", err)
			continue
		}
		s.written.Add(1)
	}
}

// Append enqueues the event. Events appended after Close are dropped.
func (s *AsyncSink) Append(event string, fields map[string]any) {
	rec := NewRecord(event, fields, s.now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- rec:
	default:
		if s.dropped.Add(1) == 1 {
			s.logger.Warn("audit queue full, dropping records", "capacity", cap(s.queue))
		}
	}
}

// Close stops accepting records and waits until the queue is drained or ctx
// is done.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports queue counters.
type Stats struct {
	Queued  int   `json:"queued"`
	Written int64 `json:"written"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

func (s *AsyncSink) Stats() Stats {
	return Stats{
		Queued:  len(s.queue),
		Written: s.written.Load(),
		Failed:  s.failed.Load(),
		Dropped: s.dropped.Load(),
	}
}
