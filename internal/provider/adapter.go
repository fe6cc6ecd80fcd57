// Package provider implements the Streaming Provider Adapter (C2): it
// turns a provider's incremental wire protocol into a normalized
// sequence of typed lifecycle events while maintaining a first-class
// partial assistant message (spec §4.2).
package provider

import (
	"context"

	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// EventKind tags the normalized event sequence a StreamTurn emits, in the
// fixed order spec §4.2 names: start, then per block {text|thinking|
// toolcall}_start / *_delta / *_end, then exactly one of done/error.
type EventKind string

const (
	EventStart         EventKind = "start"
	EventTextStart     EventKind = "text_start"
	EventTextDelta     EventKind = "text_delta"
	EventTextEnd       EventKind = "text_end"
	EventThinkingStart EventKind = "thinking_start"
	EventThinkingDelta EventKind = "thinking_delta"
	EventThinkingEnd   EventKind = "thinking_end"
	EventToolCallStart EventKind = "toolcall_start"
	EventToolCallDelta EventKind = "toolcall_delta"
	EventToolCallEnd   EventKind = "toolcall_end"
	EventDone          EventKind = "done"
	EventError         EventKind = "error"
)

// Event is one normalized adapter event. Partial is a value snapshot of
// the full in-progress assistant message at the time of this event —
// never a reference the caller could alias into adapter-internal state
// (spec §9 "cyclic references").
type Event struct {
	Kind EventKind

	// BlockIndex identifies which content block this event concerns, for
	// the *_start/*_delta/*_end kinds. 0-based, monotonic in the order
	// blocks were opened (spec §4.2).
	BlockIndex int

	// DeltaText is the exact incremental fragment for text/thinking
	// deltas, or the raw partial-JSON fragment for a tool-call delta.
	DeltaText string

	// Partial is the fully-updated assistant message as of this event.
	Partial agentmodel.Message

	// StopReason and ErrorMessage are set on EventDone/EventError.
	StopReason   agentmodel.StopReason
	ErrorMessage string
}

// Request is everything StreamTurn needs to open one provider turn.
type Request struct {
	Model           string
	SystemPrompt    string
	Messages        []agentmodel.Message
	Tools           []agentmodel.ToolDescriptor
	ThinkingLevel   ThinkingLevel
	ThinkingBudgets map[ThinkingLevel]int
	APIKey          string
	BaseURL         string
	CacheRetention  CacheRetention
	MaxTokens       int
	ModelCaps       ModelCapabilities
}

// ModelCapabilities distinguishes the two behaviors spec §4.6 names for
// mapping thinking levels, and whether the pre-flight transform may keep
// image blocks.
type ModelCapabilities struct {
	SupportsImages bool
	AdaptiveEffort bool // true: "effort" parameter models; false: fixed max_tokens/budget models
	MaxTokens      int
}

// Adapter is the abstract event grammar every provider-specific backend
// implements (spec §6 "alternative transports implement the same
// abstract event grammar"). StreamTurn opens one turn and returns a
// channel of normalized events; the channel is closed after exactly one
// EventDone or EventError, or when ctx is cancelled (in which case a
// final EventError with StopReasonAborted is sent before close, per
// spec §4.2 "Cancellation").
type Adapter interface {
	StreamTurn(ctx context.Context, req Request) (<-chan Event, error)
}
