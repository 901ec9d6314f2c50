package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix = "security-audit"
	fileSuffix = ".jsonl"

	// DefaultMaxFileSize triggers rotation of the day's file.
	DefaultMaxFileSize int64 = 50 * 1024 * 1024
	// DefaultRetention is the age after which audit files are pruned.
	DefaultRetention = 30 * 24 * time.Hour
)

// FileOption configures a FileSink.
type FileOption func(*FileSink)

// WithMaxFileSize sets the rotation threshold in bytes.
func WithMaxFileSize(n int64) FileOption {
	return func(f *FileSink) {
		if n > 0 {
			f.maxSize = n
		}
	}
}

// WithRetention sets how long audit files are kept.
func WithRetention(d time.Duration) FileOption {
	return func(f *FileSink) {
		if d > 0 {
			f.retention = d
		}
	}
}

// WithFileClock overrides the clock used to pick the day's file and to
// judge file age.
func WithFileClock(now func() time.Time) FileOption {
	return func(f *FileSink) { f.now = now }
}

// FileSink appends JSON lines to one file per local day under dir:
// security-audit-YYYY-MM-DD.jsonl. A file that has reached the size limit
// is renamed to security-audit-YYYY-MM-DD.1.jsonl before the next write.
// Files older than the retention period are removed on first use.
type FileSink struct {
	dir       string
	maxSize   int64
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu        sync.Mutex
	dirReady  bool
	pruneOnce sync.Once
}

// NewFileSink creates a sink writing under dir. The directory is created on
// first write.
func NewFileSink(dir string, logger *slog.Logger, opts ...FileOption) *FileSink {
	if logger == nil {
		logger = slog.Default()
	}
	f := &FileSink{
		dir:       dir,
		maxSize:   DefaultMaxFileSize,
		retention: DefaultRetention,
		now:       time.Now,
		logger:    logger.With("component", "audit.FileSink"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Dir returns the audit directory.
func (f *FileSink) Dir() string { return f.dir }

// Path returns today's audit file path.
func (f *FileSink) Path() string {
	return filepath.Join(f.dir, fmt.Sprintf("%s-%s%s", filePrefix, f.now().Format("2006-01-02"), fileSuffix))
}

// Append writes the event immediately; failures are logged.
func (f *FileSink) Append(event string, fields map[string]any) {
	if err := f.Write(context.Background(), NewRecord(event, fields, f.now())); err != nil {
		f.logger.Warn("audit write failed", "event", event, "error", err)
	}
}

// Write appends rec as one JSON line.
func (f *FileSink) Write(_ context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.dirReady {
		if err := os.MkdirAll(f.dir, 0o700); err != nil {
			return fmt.Errorf("create audit dir: %w", err)
		}
		f.dirReady = true
	}
	f.pruneOnce.Do(f.prune)

	path := f.Path()
	f.rotateIfNeeded(path)

	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	if _, err := fh.Write(line); err != nil {
		fh.Close()
		return fmt.Errorf("write audit file: %w", err)
	}
	return fh.Close()
}

func (f *FileSink) rotateIfNeeded(path string) {
	info, err := os.Stat(path)
	if err != nil || info.Size() < f.maxSize {
		return
	}
	rotated := strings.TrimSuffix(path, fileSuffix) + ".1" + fileSuffix
	if err := os.Rename(path, rotated); err != nil {
		f.logger.Warn("audit rotation failed", "path", path, "error", err)
		return
	}
	f.logger.Info("rotated audit file", "path", path, "rotated", rotated)
}

// prune removes audit files whose modification time is older than the
// retention period. Errors on individual files are ignored.
func (f *FileSink) prune() {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return
	}
	cutoff := f.now().Add(-f.retention)
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() {
			continue
		}
		if !strings.HasPrefix(name, filePrefix+"-") || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(f.dir, name)); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		f.logger.Info("pruned old audit files", "removed", removed)
	}
}
