package agentmodel

import (
	"context"
	"encoding/json"
)

// CancellationHandle is the single handle propagated to the adapter
// transport, every tool executor and the context-transform hook for one
// agent call (spec §5). It is satisfied by context.Context.
type CancellationHandle = context.Context

// PartialUpdateSink lets a tool executor push incremental progress while
// it runs. The loop republishes pushes as tool_execution_update events
// but never persists them to the session event log (spec §4.3, open
// question #1 in SPEC_FULL.md §6).
type PartialUpdateSink interface {
	Push(payload json.RawMessage)
}

// PartialUpdateSinkFunc adapts a function to a PartialUpdateSink.
type PartialUpdateSinkFunc func(json.RawMessage)

func (f PartialUpdateSinkFunc) Push(payload json.RawMessage) { f(payload) }

// ToolResult is what an executor returns on success.
type ToolResult struct {
	Content []ContentBlock
	Details json.RawMessage
}

// ToolExecuteFunc is the executor half of a tool descriptor: given a
// tool-call id, its already-parsed arguments, a cancellation handle and
// an optional partial-update sink, it returns a result or an error.
// A returned error is never fatal to the loop — it is always wrapped into
// an error tool-result (spec §4.3, §7 kind "tool-executor").
type ToolExecuteFunc func(ctx CancellationHandle, toolCallID string, args json.RawMessage, sink PartialUpdateSink) (*ToolResult, error)

// ToolDescriptor is the registry's unit: a unique name, human label,
// description, JSON-schema parameters and an executor (spec §3, §6).
type ToolDescriptor struct {
	Name        string
	Label       string
	Description string
	Parameters  json.RawMessage // JSON schema, or nil for no-argument tools
	Execute     ToolExecuteFunc
}
