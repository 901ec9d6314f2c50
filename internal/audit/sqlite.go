package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteSink stores records in a hash-chained SQLite table.
type SQLiteSink struct {
	db     *sql.DB
	logger *slog.Logger

	mu       sync.Mutex
	lastHash string
}

// NewSQLiteSink opens (or creates) the database at path and prepares the
// schema.
func NewSQLiteSink(path string, logger *slog.Logger) (*SQLiteSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create audit database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	s := &SQLiteSink{db: db, logger: logger.With("component", "audit.SQLiteSink")}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		timestamp  TEXT NOT NULL,
		event      TEXT NOT NULL,
		fields     TEXT NOT NULL,
		prev_hash  TEXT NOT NULL,
		hash       TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_event ON audit_events(event);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}

	var last sql.NullString
	err := s.db.QueryRow(`SELECT hash FROM audit_events ORDER BY seq DESC LIMIT 1`).Scan(&last)
	switch {
	case err == sql.ErrNoRows:
		s.lastHash = chainSeed
	case err != nil:
		return fmt.Errorf("load chain head: %w", err)
	default:
		s.lastHash = last.String
	}
	return nil
}

// Close closes the database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Append writes the event; failures are logged.
func (s *SQLiteSink) Append(event string, fields map[string]any) {
	if err := s.Write(context.Background(), NewRecord(event, fields, time.Now())); err != nil {
		s.logger.Warn("audit write failed", "event", event, "error", err)
	}
}

// Write inserts rec at the head of the chain.
func (s *SQLiteSink) Write(ctx context.Context, rec Record) error {
	fields, err := rec.FieldsJSON()
	if err != nil {
		return fmt.Errorf("encode audit fields: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sr := &StoredRecord{
		ID:        rec.ID,
		Timestamp: rec.Timestamp.UTC(),
		Event:     rec.Event,
		Fields:    fields,
		PrevHash:  s.lastHash,
	}
	sr.Hash = ComputeHash(sr)

	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_events (id, timestamp, event, fields, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sr.ID, sr.Timestamp.Format(time.RFC3339Nano), sr.Event, sr.Fields, sr.PrevHash, sr.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	s.lastHash = sr.Hash
	return nil
}

// List returns stored records in chain order, oldest first. An empty event
// matches all. A positive limit keeps only the most recent limit records;
// limit <= 0 returns everything.
func (s *SQLiteSink) List(ctx context.Context, event string, limit int) ([]*StoredRecord, error) {
	query := `SELECT seq, id, timestamp, event, fields, prev_hash, hash FROM audit_events`
	var args []any
	if event != "" {
		query += ` WHERE event = ?`
		args = append(args, event)
	}
	if limit > 0 {
		// Newest limit rows.
		query += ` ORDER BY seq DESC LIMIT ?`
		args = append(args, limit)
	}
	query = `SELECT id, timestamp, event, fields, prev_hash, hash FROM (` + query + `) ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*StoredRecord
	for rows.Next() {
		r := &StoredRecord{}
		var ts string
		if err := rows.Scan(&r.ID, &ts, &r.Event, &r.Fields, &r.PrevHash, &r.Hash); err != nil {
			return nil, err
		}
		r.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp of %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Count returns the number of stored records.
func (s *SQLiteSink) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&n)
	return n, err
}

// Verify walks the whole chain. It returns (true, -1) when intact, otherwise
// false and the index of the first bad record.
func (s *SQLiteSink) Verify(ctx context.Context) (bool, int, error) {
	records, err := s.List(ctx, "", 0)
	if err != nil {
		return false, -1, err
	}
	ok, idx := VerifyChain(records)
	return ok, idx, nil
}

// PruneOlderThan deletes records older than days and returns how many were
// removed. The remaining records still verify: the chain is checked from
// the oldest retained record.
func (s *SQLiteSink) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
