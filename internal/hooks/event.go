// Package hooks models the host runtime's event dispatch: checks register
// per event with a priority, run highest priority first, and the first
// Block or Cancel verdict stops the chain.
package hooks

import "time"

// EventName identifies a host event.
type EventName string

const (
	MessageReceived  EventName = "message_received"
	BeforeToolCall   EventName = "before_tool_call"
	AfterToolCall    EventName = "after_tool_call"
	MessageSending   EventName = "message_sending"
	BeforeAgentStart EventName = "before_agent_start"
)

// Known reports whether name is a supported event.
func (n EventName) Known() bool {
	switch n {
	case MessageReceived, BeforeToolCall, AfterToolCall, MessageSending, BeforeAgentStart:
		return true
	default:
		return false
	}
}

// Context carries the identifiers the host attaches to every event. Any of
// them may be empty.
type Context struct {
	SessionKey string `json:"sessionKey,omitempty"`
	ChannelID  string `json:"channelId,omitempty"`
	AgentID    string `json:"agentId,omitempty"`
}

// InboundMessage is a message delivered to the agent.
type InboundMessage struct {
	From      string
	Content   string
	Timestamp time.Time
}

// ToolCall is a tool invocation the agent is about to make. Params holds
// the raw, untrusted parameters.
type ToolCall struct {
	ToolName string
	Params   map[string]any
}

// ToolResult describes a finished tool invocation.
type ToolResult struct {
	ToolName   string
	Params     map[string]any
	DurationMs int64
	Error      string
}

// OutboundMessage is a message the agent is about to send.
type OutboundMessage struct {
	To      string
	Content string
}

// AgentStart is emitted before the agent begins a turn.
type AgentStart struct {
	Prompt string
}

// Event is one host event. Exactly one payload field matching Name is set.
type Event struct {
	Name       EventName
	Inbound    *InboundMessage
	ToolCall   *ToolCall
	ToolResult *ToolResult
	Outbound   *OutboundMessage
	AgentStart *AgentStart
}

// StringParam returns params[key] when it is a non-empty string. Any other
// shape is treated as absent.
func StringParam(params map[string]any, key string) (string, bool) {
	if params == nil {
		return "", false
	}
	s, ok := params[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// MapParam returns params[key] when it is an object.
func MapParam(params map[string]any, key string) (map[string]any, bool) {
	if params == nil {
		return nil, false
	}
	m, ok := params[key].(map[string]any)
	return m, ok
}
