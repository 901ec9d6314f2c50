package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestFileSink_WritesDailyJSONL(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	now := time.Date(2026, 5, 4, 10, 30, 0, 0, time.Local)
	s := NewFileSink(dir, nil, WithFileClock(fixedClock(now)))

	s.Append(EventToolCallBlocked, map[string]any{"toolName": "exec", "reason": "nope"})
	s.Append(EventMessageReceived, map[string]any{"from": "alice"})

	path := filepath.Join(dir, "security-audit-2026-05-04.jsonl")
	if s.Path() != path {
		t.Fatalf("Path() = %s, want %s", s.Path(), path)
	}
	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0]["event"] != EventToolCallBlocked || lines[0]["toolName"] != "exec" {
		t.Errorf("line 0 = %v", lines[0])
	}
	if _, ok := lines[0]["timestamp"].(string); !ok {
		t.Errorf("timestamp missing: %v", lines[0])
	}
	if lines[1]["from"] != "alice" {
		t.Errorf("line 1 = %v", lines[1])
	}
}

func TestFileSink_Rotates(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.Local)
	s := NewFileSink(dir, nil, WithFileClock(fixedClock(now)), WithMaxFileSize(64))

	s.Append("first", map[string]any{"pad": strings.Repeat("x", 80)})
	s.Append("second", nil)

	rotated := filepath.Join(dir, "security-audit-2026-05-04.1.jsonl")
	old := readLines(t, rotated)
	if len(old) != 1 || old[0]["event"] != "first" {
		t.Errorf("rotated file = %v", old)
	}
	cur := readLines(t, s.Path())
	if len(cur) != 1 || cur[0]["event"] != "second" {
		t.Errorf("current file = %v", cur)
	}
}

func TestFileSink_PrunesOldFilesOnce(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.Local)

	stale := filepath.Join(dir, "security-audit-2026-03-01.jsonl")
	fresh := filepath.Join(dir, "security-audit-2026-04-30.jsonl")
	other := filepath.Join(dir, "unrelated.jsonl")
	for _, p := range []string{stale, fresh, other} {
		if err := os.WriteFile(p, []byte("{}\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	old := now.Add(-40 * 24 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(other, old, old); err != nil {
		t.Fatal(err)
	}

	s := NewFileSink(dir, nil, WithFileClock(fixedClock(now)))
	s.Append("e", nil)

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale file should be pruned, stat err = %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh file should remain: %v", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("unrelated file should remain: %v", err)
	}

	// A second stale file appearing later is not pruned in the same process.
	late := filepath.Join(dir, "security-audit-2026-02-01.jsonl")
	if err := os.WriteFile(late, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(late, old, old); err != nil {
		t.Fatal(err)
	}
	s.Append("e", nil)
	if _, err := os.Stat(late); err != nil {
		t.Errorf("prune should run once per sink: %v", err)
	}
}

func TestFileSink_UnwritableDirIsSwallowed(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewFileSink(filepath.Join(blocker, "logs"), nil)
	s.Append("e", nil)

	if err := s.Write(context.Background(), NewRecord("e", nil, time.Now())); err == nil {
		t.Error("Write into a path below a regular file should fail")
	}
}
