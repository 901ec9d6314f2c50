package policy

import (
	"fmt"
	"unicode/utf8"

	"github.com/clawguard/clawguard/internal/audit"
	"github.com/clawguard/clawguard/internal/catalog"
	"github.com/clawguard/clawguard/internal/hooks"
	"github.com/clawguard/clawguard/internal/sanitize"
)

const (
	reasonLimit  = 200
	auditLimit   = 500
	previewLimit = 200

	globalKey  = "global"
	unknownKey = "unknown"

	labelExfilQuery = "exfil_query_base64"
)

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func setIf(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func keyOr(key, fallback string) string {
	if key == "" {
		return fallback
	}
	return key
}

// ─── message_received ───

// ObserveInbound counts inbound messages per channel:sender. It never
// blocks.
func (e *Engine) ObserveInbound(ev *hooks.Event, hc hooks.Context) *hooks.Verdict {
	if ev.Inbound == nil {
		return nil
	}
	key := keyOr(hc.ChannelID, unknownKey) + ":" + ev.Inbound.From
	e.inbound.Record(key)
	if e.inbound.IsExceeded(key) {
		e.logger.Warn("inbound message rate above threshold",
			"key", key,
			"count", e.inbound.Count(key),
			"limit", e.inbound.Limit(),
		)
	}
	return nil
}

// AuditInbound writes a message_received record.
func (e *Engine) AuditInbound(ev *hooks.Event, hc hooks.Context) *hooks.Verdict {
	msg := ev.Inbound
	if msg == nil {
		return nil
	}
	fields := map[string]any{
		"from":           msg.From,
		"contentLength":  utf8.RuneCountInString(msg.Content),
		"contentPreview": truncate(msg.Content, previewLimit),
	}
	setIf(fields, "channel", hc.ChannelID)
	if !msg.Timestamp.IsZero() {
		fields["messageTimestamp"] = msg.Timestamp.UnixMilli()
	}
	e.sink.Append(audit.EventMessageReceived, fields)
	return nil
}

// DetectInjection scores inbound content against the injection catalog and
// remembers any detection. It never blocks.
func (e *Engine) DetectInjection(ev *hooks.Event, hc hooks.Context) *hooks.Verdict {
	msg := ev.Inbound
	if msg == nil || msg.Content == "" {
		return nil
	}

	res := e.scanner.Scan(msg.Content)
	if !res.Detected {
		return nil
	}

	e.memory.Record(sanitize.Event{
		From:      msg.From,
		ChannelID: hc.ChannelID,
		Label:     res.Label(),
		Severity:  res.Severity,
		Timestamp: msg.Timestamp,
	})

	fields := map[string]any{
		"from":           msg.From,
		"severity":       string(res.Severity),
		"patterns":       res.Labels(),
		"matchCount":     len(res.Matches),
		"contentPreview": truncate(msg.Content, previewLimit),
	}
	setIf(fields, "channel", hc.ChannelID)
	if !msg.Timestamp.IsZero() {
		fields["messageTimestamp"] = msg.Timestamp.UnixMilli()
	}
	e.sink.Append(audit.EventInjectionDetected, fields)

	e.logger.Warn("prompt injection detected",
		"severity", string(res.Severity),
		"from", msg.From,
		"channel", hc.ChannelID,
		"patterns", res.Label(),
	)
	return nil
}

// ─── before_tool_call ───

// LimitToolCalls blocks a session's tool calls beyond the per-window limit.
// Every call is counted, including refused ones.
func (e *Engine) LimitToolCalls(ev *hooks.Event, hc hooks.Context) *hooks.Verdict {
	if ev.ToolCall == nil {
		return nil
	}
	key := keyOr(hc.SessionKey, globalKey)
	e.toolCalls.Record(key)
	if !e.toolCalls.IsExceeded(key) {
		return nil
	}

	count := e.toolCalls.Count(key)
	reason := fmt.Sprintf("Rate limit exceeded: >%d tool calls/min for session %s", e.toolCalls.Limit(), key)
	fields := map[string]any{
		"sessionKey": key,
		"count":      count,
	}
	setIf(fields, "agentId", hc.AgentID)
	e.sink.Append(audit.EventRateLimitToolCall, fields)
	e.logger.Warn("tool call rate limit exceeded", "session", key, "count", count)
	return hooks.Block(reason)
}

// GateCommand blocks shell-executing tools whose command matches a
// dangerous pattern; allowed commands are audited.
func (e *Engine) GateCommand(ev *hooks.Event, hc hooks.Context) *hooks.Verdict {
	call := ev.ToolCall
	if call == nil {
		return nil
	}
	if _, ok := e.lib.CommandTools.MatchAny(call.ToolName); !ok {
		return nil
	}
	command, ok := hooks.StringParam(call.Params, "command")
	if !ok {
		return nil
	}

	fields := map[string]any{
		"toolName": call.ToolName,
		"command":  truncate(command, auditLimit),
	}
	setIf(fields, "agentId", hc.AgentID)
	setIf(fields, "sessionKey", hc.SessionKey)

	m, matched := e.lib.DangerousCommands.MatchAny(command)
	if !matched {
		e.sink.Append(audit.EventToolCallAllowed, fields)
		return nil
	}

	fields["pattern"] = m.Label
	e.sink.Append(audit.EventToolCallBlocked, fields)
	reason := fmt.Sprintf("Blocked dangerous command (%s): %s", m.Label, truncate(command, reasonLimit))
	e.logger.Warn("blocked dangerous command",
		"tool", call.ToolName,
		"pattern", m.Label,
		"session", hc.SessionKey,
	)
	return hooks.Block(reason)
}

// GateExtendedTools covers browser evaluation and navigation, web_fetch
// URLs, and audits cross-channel message sends.
func (e *Engine) GateExtendedTools(ev *hooks.Event, hc hooks.Context) *hooks.Verdict {
	call := ev.ToolCall
	if call == nil {
		return nil
	}

	switch call.ToolName {
	case "browser":
		return e.gateBrowser(call, hc)
	case "web_fetch":
		return e.gateWebFetch(call, hc)
	case "message":
		fields := map[string]any{"toolName": call.ToolName}
		if to, ok := hooks.StringParam(call.Params, "to"); ok {
			fields["to"] = to
		}
		if ch, ok := hooks.StringParam(call.Params, "channel"); ok {
			fields["channel"] = ch
		}
		setIf(fields, "agentId", hc.AgentID)
		setIf(fields, "sessionKey", hc.SessionKey)
		e.sink.Append(audit.EventCrossChannelMessage, fields)
	}
	return nil
}

func (e *Engine) gateBrowser(call *hooks.ToolCall, hc hooks.Context) *hooks.Verdict {
	action, _ := hooks.StringParam(call.Params, "action")

	if action == "act" {
		request, _ := hooks.MapParam(call.Params, "request")
		if kind, _ := request["kind"].(string); kind == "evaluate" {
			fields := map[string]any{
				"toolName": call.ToolName,
				"action":   action,
				"kind":     "evaluate",
			}
			setIf(fields, "agentId", hc.AgentID)
			setIf(fields, "sessionKey", hc.SessionKey)
			e.sink.Append(audit.EventToolCallBlocked, fields)
			e.logger.Warn("blocked browser JS evaluation", "session", hc.SessionKey)
			return hooks.Block("Blocked browser JS evaluation (exfiltration vector)")
		}
	}

	if action == "navigate" {
		url, ok := hooks.StringParam(call.Params, "url")
		if !ok {
			return nil
		}
		m, suspicious := e.lib.SuspiciousURLs.MatchAny(url)
		if !suspicious {
			return nil
		}
		fields := map[string]any{
			"toolName": call.ToolName,
			"action":   action,
			"url":      truncate(url, auditLimit),
			"pattern":  m.Label,
		}
		setIf(fields, "agentId", hc.AgentID)
		setIf(fields, "sessionKey", hc.SessionKey)
		e.sink.Append(audit.EventToolCallBlocked, fields)
		e.logger.Warn("blocked browser navigation", "pattern", m.Label, "session", hc.SessionKey)
		return hooks.Block(fmt.Sprintf("Blocked browser navigation to suspicious URL (%s): %s", m.Label, truncate(url, reasonLimit)))
	}
	return nil
}

func (e *Engine) gateWebFetch(call *hooks.ToolCall, hc hooks.Context) *hooks.Verdict {
	url, ok := hooks.StringParam(call.Params, "url")
	if !ok {
		return nil
	}

	block := func(label, reason string) *hooks.Verdict {
		fields := map[string]any{
			"toolName": call.ToolName,
			"url":      truncate(url, auditLimit),
			"pattern":  label,
		}
		setIf(fields, "agentId", hc.AgentID)
		setIf(fields, "sessionKey", hc.SessionKey)
		e.sink.Append(audit.EventToolCallBlocked, fields)
		e.logger.Warn("blocked web_fetch", "pattern", label, "session", hc.SessionKey)
		return hooks.Block(reason)
	}

	if m, suspicious := e.lib.SuspiciousURLs.MatchAny(url); suspicious {
		return block(m.Label, fmt.Sprintf("Blocked web_fetch to suspicious URL (%s): %s", m.Label, truncate(url, reasonLimit)))
	}
	if _, exfil := e.lib.ExfilQuery.MatchAny(url); exfil {
		return block(labelExfilQuery, "Blocked web_fetch with suspicious base64 query parameter (possible exfiltration): "+truncate(url, reasonLimit))
	}
	return nil
}

// EvaluateCustomPolicies runs the configured CEL policies in order. A
// block policy that matches stops the call; an audit policy only records.
// Evaluation errors are logged and the policy is skipped.
func (e *Engine) EvaluateCustomPolicies(ev *hooks.Event, hc hooks.Context) *hooks.Verdict {
	call := ev.ToolCall
	if call == nil {
		return nil
	}
	policies := e.activePolicies()
	if len(policies) == 0 {
		return nil
	}

	tc := ToolContext{
		ToolName:   call.ToolName,
		Params:     call.Params,
		SessionKey: hc.SessionKey,
		ChannelID:  hc.ChannelID,
		AgentID:    hc.AgentID,
		ToolCalls:  e.toolCalls.Count(keyOr(hc.SessionKey, globalKey)),
	}

	for _, p := range policies {
		matched, err := e.celEval.Evaluate(p.Rule, tc)
		if err != nil {
			e.logger.Warn("custom policy evaluation failed, skipping",
				"policy", p.Config.Name,
				"error", err,
			)
			continue
		}
		if !matched {
			continue
		}

		fields := map[string]any{
			"policy":   p.Config.Name,
			"toolName": call.ToolName,
		}
		setIf(fields, "message", p.Config.Message)
		setIf(fields, "agentId", hc.AgentID)
		setIf(fields, "sessionKey", hc.SessionKey)

		if p.Config.Effect == EffectAudit {
			e.sink.Append(audit.EventCustomPolicyMatched, fields)
			continue
		}

		e.sink.Append(audit.EventCustomPolicyBlocked, fields)
		e.logger.Warn("tool call blocked by custom policy",
			"policy", p.Config.Name,
			"tool", call.ToolName,
			"session", hc.SessionKey,
		)
		reason := "Blocked by policy " + p.Config.Name
		if p.Config.Message != "" {
			reason += ": " + p.Config.Message
		}
		return hooks.Block(reason)
	}
	return nil
}

// ─── after_tool_call ───

// AuditToolResult records an executed tool call with its parameters
// summarised rather than copied.
func (e *Engine) AuditToolResult(ev *hooks.Event, hc hooks.Context) *hooks.Verdict {
	res := ev.ToolResult
	if res == nil {
		return nil
	}
	fields := map[string]any{
		"toolName":   res.ToolName,
		"params":     SummarizeParams(res.Params),
		"durationMs": res.DurationMs,
	}
	setIf(fields, "error", res.Error)
	setIf(fields, "agentId", hc.AgentID)
	setIf(fields, "sessionKey", hc.SessionKey)
	e.sink.Append(audit.EventToolCallExecuted, fields)
	return nil
}

// SummarizeParams describes each parameter by shape. Only a string command
// is kept, truncated to 500 characters.
func SummarizeParams(params map[string]any) map[string]any {
	summary := make(map[string]any, len(params))
	for key, value := range params {
		switch v := value.(type) {
		case string:
			if key == "command" {
				summary[key] = truncate(v, auditLimit)
			} else {
				summary[key] = fmt.Sprintf("string(%d)", utf8.RuneCountInString(v))
			}
		case []any:
			summary[key] = fmt.Sprintf("array(%d)", len(v))
		case map[string]any:
			summary[key] = fmt.Sprintf("object(%d keys)", len(v))
		case bool:
			summary[key] = "boolean"
		case float64, float32, int, int64, int32:
			summary[key] = "number"
		case nil:
			summary[key] = "object"
		default:
			summary[key] = fmt.Sprintf("%T", v)
		}
	}
	return summary
}

// ─── message_sending ───

// LimitOutbound cancels a channel's outbound messages beyond the
// per-window limit.
func (e *Engine) LimitOutbound(ev *hooks.Event, hc hooks.Context) *hooks.Verdict {
	if ev.Outbound == nil {
		return nil
	}
	key := keyOr(hc.ChannelID, globalKey)
	e.outbound.Record(key)
	if !e.outbound.IsExceeded(key) {
		return nil
	}

	count := e.outbound.Count(key)
	e.sink.Append(audit.EventRateLimitOutbound, map[string]any{
		"channelId": key,
		"count":     count,
	})
	e.logger.Warn("outbound rate limit exceeded", "channel", key, "count", count)
	return hooks.Cancel(fmt.Sprintf("Rate limit exceeded: >%d outbound messages/min for channel %s", e.outbound.Limit(), key))
}

// FilterOutbound redacts sensitive data from an outbound message. While a
// high-severity injection is remembered, a message that looks like the
// agent complying with it is cancelled instead.
func (e *Engine) FilterOutbound(ev *hooks.Event, hc hooks.Context) *hooks.Verdict {
	msg := ev.Outbound
	if msg == nil {
		return nil
	}

	redacted, n := e.redactor.Redact(msg.Content)
	if n > 0 {
		fields := map[string]any{
			"to":                  msg.To,
			"matchCount":          n,
			"contentLengthBefore": utf8.RuneCountInString(msg.Content),
			"contentLengthAfter":  utf8.RuneCountInString(redacted),
		}
		setIf(fields, "channel", hc.ChannelID)
		e.sink.Append(audit.EventOutboundRedacted, fields)
		e.logger.Warn("redacted sensitive data from outbound message", "matches", n, "channel", hc.ChannelID)
	}

	if e.memory.HasHighSeverity(e.window) {
		if label, leaked := e.leaks.Match(redacted); leaked {
			fields := map[string]any{
				"to":             msg.To,
				"leakPattern":    label,
				"contentPreview": truncate(redacted, previewLimit),
			}
			setIf(fields, "channel", hc.ChannelID)
			e.sink.Append(audit.EventComplianceLeakBlocked, fields)
			e.logger.Warn("blocked outbound message, suspected injection compliance leak",
				"pattern", label,
				"channel", hc.ChannelID,
			)
			return hooks.Cancel("Blocked outbound message: suspected injection compliance leak (" + label + ")")
		}
	}

	if n > 0 {
		return hooks.Redact(redacted, n)
	}
	return nil
}

// ─── before_agent_start ───

// SecurityPreamble always prepends the security policy, adding alerts when
// injections were detected recently.
func (e *Engine) SecurityPreamble(*hooks.Event, hooks.Context) *hooks.Verdict {
	recent := e.memory.Recent(e.window)
	high := false
	for _, ev := range recent {
		if ev.Severity == catalog.SeverityHigh {
			high = true
			break
		}
	}
	return hooks.Annotate(BuildPreamble(len(recent) > 0, high))
}
