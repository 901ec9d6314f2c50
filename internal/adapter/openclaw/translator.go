package openclaw

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/clawguard/clawguard/internal/hooks"
)

// TranslateEvent converts an OpenClaw hook payload into a typed event.
// Fields with the wrong JSON type are treated as absent; only an unknown
// event name is an error.
func TranslateEvent(name hooks.EventName, payload map[string]any) (*hooks.Event, error) {
	if !name.Known() {
		return nil, fmt.Errorf("unknown event %q", name)
	}
	ev := &hooks.Event{Name: name}

	switch name {
	case hooks.MessageReceived:
		ev.Inbound = &hooks.InboundMessage{
			From:      strVal(payload, "from"),
			Content:   strVal(payload, "content"),
			Timestamp: timeVal(payload, "timestamp"),
		}

	case hooks.BeforeToolCall:
		ev.ToolCall = &hooks.ToolCall{
			ToolName: toolName(payload),
			Params:   extractParams(payload),
		}

	case hooks.AfterToolCall:
		ev.ToolResult = &hooks.ToolResult{
			ToolName:   toolName(payload),
			Params:     extractParams(payload),
			DurationMs: intVal(payload, "durationMs"),
			Error:      errorVal(payload),
		}

	case hooks.MessageSending:
		ev.Outbound = &hooks.OutboundMessage{
			To:      strVal(payload, "to"),
			Content: strVal(payload, "content"),
		}

	case hooks.BeforeAgentStart:
		ev.AgentStart = &hooks.AgentStart{Prompt: strVal(payload, "prompt")}
	}
	return ev, nil
}

// TranslateContext extracts the handler context. Both camelCase and
// snake_case keys are accepted.
func TranslateContext(m map[string]any) hooks.Context {
	return hooks.Context{
		SessionKey: firstStr(m, "sessionKey", "session_key"),
		ChannelID:  firstStr(m, "channelId", "channel_id"),
		AgentID:    firstStr(m, "agentId", "agent_id"),
	}
}

func toolName(payload map[string]any) string {
	return firstStr(payload, "toolName", "tool_name", "name")
}

// extractParams pulls the tool parameters from the payload.
func extractParams(msg map[string]any) map[string]any {
	for _, key := range []string{"params", "arguments", "args"} {
		if params, ok := msg[key].(map[string]any); ok {
			return params
		}
		// Some hosts send JSON-encoded params.
		if paramsStr, ok := msg[key].(string); ok && paramsStr != "" {
			var params map[string]any
			if json.Unmarshal([]byte(paramsStr), &params) == nil {
				return params
			}
		}
	}
	return map[string]any{}
}

// errorVal accepts either a string or an {message} object.
func errorVal(m map[string]any) string {
	switch v := m["error"].(type) {
	case string:
		return v
	case map[string]any:
		return strVal(v, "message")
	}
	return ""
}

// timeVal reads Unix milliseconds or an RFC 3339 string. Anything else is
// the zero time.
func timeVal(m map[string]any, key string) time.Time {
	switch v := m[key].(type) {
	case float64:
		return time.UnixMilli(int64(v))
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.UnixMilli(n)
		}
	case string:
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func intVal(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

func firstStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := strVal(m, k); s != "" {
			return s
		}
	}
	return ""
}

// strVal safely extracts a string value from a map.
func strVal(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
