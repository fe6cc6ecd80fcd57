package agent

import (
	"encoding/json"
	"time"

	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// EventType identifies the kind of an AgentEvent. These are exactly the
// tags the loop emits (spec §4.6) and, when a session id is attached, the
// kinds recorded in the session event log (spec §4.5) — so the same enum
// serves both the live event stream and the persisted log.
type EventType string

const (
	EventAgentStart         EventType = "agent_start"
	EventTurnStart          EventType = "turn_start"
	EventMessageStart       EventType = "message_start"
	EventMessageUpdate      EventType = "message_update"
	EventMessageEnd         EventType = "message_end"
	EventToolExecutionStart  EventType = "tool_execution_start"
	EventToolExecutionUpdate EventType = "tool_execution_update"
	EventToolExecutionEnd    EventType = "tool_execution_end"
	EventTurnEnd            EventType = "turn_end"
	EventAgentEnd           EventType = "agent_end"
)

// AgentEvent is the tagged union emitted on the caller-facing event
// stream (C1) and, for session-scoped calls, appended to the session
// event log (C5). At most one of the payload pointers below is non-nil
// for a given Type, following the same discriminated-union-by-optional-
// pointer approach as the teacher's pkg/models.AgentEvent.
type AgentEvent struct {
	Type      EventType `json:"type"`
	Time      time.Time `json:"time"`
	Sequence  uint64    `json:"sequence"`
	RunID     string    `json:"run_id"`
	TurnIndex int       `json:"turn_index"`

	Message       *MessageEventPayload       `json:"message,omitempty"`
	ToolExecution *ToolExecutionEventPayload `json:"tool_execution,omitempty"`
	Error         *ErrorEventPayload         `json:"error,omitempty"`
}

// MessageEventPayload accompanies message_start/message_update/message_end.
// Partial is a value snapshot of the in-progress (or just-committed)
// assistant message; the core never hands out a back-reference into the
// adapter (spec §9 "cyclic references").
type MessageEventPayload struct {
	Partial     agentmodel.Message `json:"partial"`
	DeltaText   string             `json:"delta_text,omitempty"`
	BlockIndex  int                `json:"block_index,omitempty"`
}

// ToolExecutionEventPayload accompanies tool_execution_start/update/end.
type ToolExecutionEventPayload struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Update     json.RawMessage `json:"update,omitempty"`
	Result     *agentmodel.Message `json:"result,omitempty"`
}

// ErrorEventPayload accompanies agent_end/turn_end when a turn failed.
type ErrorEventPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind"` // one of the kinds in spec §7
}
