package alert

import (
	"context"
	"fmt"

	"github.com/clawguard/clawguard/internal/audit"
)

// Alert severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// AuditWriter turns security-significant audit records into alerts. It is an
// audit.Writer, so it can sit behind the same AsyncSink as the durable
// sinks; every other record is ignored.
type AuditWriter struct {
	manager *Manager
}

// NewAuditWriter forwards to m.
func NewAuditWriter(m *Manager) *AuditWriter {
	return &AuditWriter{manager: m}
}

// Write implements audit.Writer.
func (w *AuditWriter) Write(_ context.Context, rec audit.Record) error {
	a, ok := FromRecord(rec)
	if ok {
		w.manager.Send(a)
	}
	return nil
}

// FromRecord maps an audit record to an alert. Only blocked tool calls,
// high-severity injections, compliance leaks and custom-policy blocks
// produce one.
func FromRecord(rec audit.Record) (Alert, bool) {
	str := func(key string) string {
		s, _ := rec.Fields[key].(string)
		return s
	}

	a := Alert{
		Type:      rec.Event,
		AgentID:   str("agentId"),
		SessionID: str("sessionKey"),
		Details:   rec.Fields,
	}
	if a.SessionID == "" {
		a.SessionID = str("channel")
	}

	switch rec.Event {
	case audit.EventToolCallBlocked:
		a.Severity = SeverityWarning
		a.Title = "Tool call blocked"
		a.Message = str("toolName") + " blocked"
		if p := str("pattern"); p != "" {
			a.Message += " (" + p + ")"
		}

	case audit.EventInjectionDetected:
		if str("severity") != "high" {
			return Alert{}, false
		}
		a.Severity = SeverityCritical
		a.Title = "High-severity prompt injection"
		a.Message = fmt.Sprintf("from %s: %v", str("from"), rec.Fields["patterns"])
		if a.SessionID == "" {
			a.SessionID = str("from")
		}

	case audit.EventComplianceLeakBlocked:
		a.Severity = SeverityCritical
		a.Title = "Outbound message blocked"
		a.Message = "suspected injection compliance leak: " + str("leakPattern")

	case audit.EventCustomPolicyBlocked:
		a.Severity = SeverityWarning
		a.Title = "Tool call blocked by policy " + str("policy")
		a.Message = str("message")

	default:
		return Alert{}, false
	}
	return a, true
}
