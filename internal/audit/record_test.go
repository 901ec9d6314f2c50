package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRecord_MarshalJSON_Order(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		ID:        "01TEST",
		Timestamp: ts,
		Event:     EventToolCallBlocked,
		Fields: map[string]any{
			"toolName":  "exec",
			"reason":    "x",
			"timestamp": "ignored",
		},
	}
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"timestamp":"2026-03-01T12:00:00Z","event":"tool_call_blocked","reason":"x","toolName":"exec"}`
	if string(b) != want {
		t.Errorf("got  %s\nwant %s", b, want)
	}
}

func TestRecord_MarshalJSON_Unencodable(t *testing.T) {
	rec := NewRecord("x", map[string]any{"ch": make(chan int)}, time.Now())
	if _, err := json.Marshal(rec); err == nil {
		t.Fatal("expected error for unencodable field")
	}
}

func TestNewRecord_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		r := NewRecord("e", nil, time.Now())
		if seen[r.ID] {
			t.Fatalf("duplicate id %s", r.ID)
		}
		seen[r.ID] = true
	}
}

type failingWriter struct{ err error }

func (f failingWriter) Write(context.Context, Record) error { return f.err }

func TestMulti_WritesAllAndJoinsErrors(t *testing.T) {
	a, b := NewMemorySink(), NewMemorySink()
	boom := errors.New("boom")
	w := Multi(a, failingWriter{err: boom}, b)

	err := w.Write(context.Background(), NewRecord("e", nil, time.Now()))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if len(a.Records()) != 1 || len(b.Records()) != 1 {
		t.Errorf("records a=%d b=%d, want 1 each", len(a.Records()), len(b.Records()))
	}
}

func TestDirect_SwallowsErrors(t *testing.T) {
	s := Direct(failingWriter{err: errors.New("disk full")}, nil)
	s.Append("e", map[string]any{"k": "v"})
}

func TestMemorySink_Find(t *testing.T) {
	m := NewMemorySink()
	m.Append(EventMessageReceived, map[string]any{"from": "a"})
	m.Append(EventInjectionDetected, map[string]any{"severity": "high"})

	rec, ok := m.Find(EventInjectionDetected)
	if !ok || rec.Fields["severity"] != "high" {
		t.Fatalf("Find = %+v, %v", rec, ok)
	}
	if _, ok := m.Find(EventToolCallBlocked); ok {
		t.Error("unexpected record")
	}
	if got := strings.Join(m.Events(), ","); got != "message_received,prompt_injection_detected" {
		t.Errorf("Events = %s", got)
	}
}
