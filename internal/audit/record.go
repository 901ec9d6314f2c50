// Package audit persists security events. Every sink accepts events through
// Append and never reports failures to the caller: a failed write is logged
// and dropped so that a verdict never waits on, or fails because of, the
// audit trail.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event names written by the decision pipeline.
const (
	EventMessageReceived       = "message_received"
	EventInjectionDetected     = "prompt_injection_detected"
	EventToolCallBlocked       = "tool_call_blocked"
	EventToolCallAllowed       = "tool_call_allowed"
	EventToolCallExecuted      = "tool_call_executed"
	EventCrossChannelMessage   = "cross_channel_message"
	EventRateLimitToolCall     = "rate_limit_tool_call"
	EventRateLimitOutbound     = "rate_limit_outbound"
	EventOutboundRedacted      = "outbound_redacted"
	EventComplianceLeakBlocked = "outbound_compliance_leak_blocked"
	EventCustomPolicyBlocked   = "custom_policy_blocked"
	EventCustomPolicyMatched   = "custom_policy_matched"
)

// Record is one audit entry.
type Record struct {
	ID        string
	Timestamp time.Time
	Event     string
	Fields    map[string]any
}

// NewRecord stamps event with a fresh ULID and the given time.
func NewRecord(event string, fields map[string]any, now time.Time) Record {
	return Record{
		ID:        ulid.Make().String(),
		Timestamp: now.UTC(),
		Event:     event,
		Fields:    fields,
	}
}

// MarshalJSON renders the record as a flat object: timestamp and event
// first, then the fields in key order. Fields named timestamp or event are
// dropped.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"timestamp":`)
	ts, _ := json.Marshal(r.Timestamp.UTC().Format(time.RFC3339Nano))
	buf.Write(ts)
	buf.WriteString(`,"event":`)
	ev, _ := json.Marshal(r.Event)
	buf.Write(ev)

	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		if k == "timestamp" || k == "event" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(r.Fields[k])
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", k, err)
		}
		buf.WriteByte(',')
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FieldsJSON encodes only the record's fields.
func (r Record) FieldsJSON() (string, error) {
	if len(r.Fields) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(r.Fields)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Sink accepts audit events.
type Sink interface {
	Append(event string, fields map[string]any)
}

// Writer is a destination that stores complete records. FileSink,
// SQLiteSink and KafkaSink are Writers; AsyncSink adapts any Writer into a
// Sink.
type Writer interface {
	Write(ctx context.Context, rec Record) error
}
