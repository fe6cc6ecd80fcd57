package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fankaidev/agentrt/internal/provider"
	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// scriptedAdapter replays one provider.Event slice per StreamTurn call, in
// call order, so a test can script exactly the turns a loop run drives.
type scriptedAdapter struct {
	turns [][]provider.Event
	calls int
}

func (a *scriptedAdapter) StreamTurn(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	idx := a.calls
	a.calls++
	ch := make(chan provider.Event, len(a.turns[idx]))
	for _, ev := range a.turns[idx] {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func doneEvent(msg agentmodel.Message) provider.Event {
	return provider.Event{Kind: provider.EventDone, Partial: msg}
}

func textMessage(text string, stop agentmodel.StopReason) agentmodel.Message {
	return agentmodel.Message{
		Role:       agentmodel.RoleAssistant,
		Content:    []agentmodel.ContentBlock{agentmodel.NewTextBlock(text)},
		StopReason: stop,
	}
}

func toolCallMessage(id, name string, args string) agentmodel.Message {
	return agentmodel.Message{
		Role:       agentmodel.RoleAssistant,
		Content:    []agentmodel.ContentBlock{agentmodel.NewToolCallBlock(id, name, json.RawMessage(args), "")},
		StopReason: agentmodel.StopReasonToolUse,
	}
}

func drainUntilAgentEnd(t *testing.T, l *Loop) []AgentEvent {
	t.Helper()
	var events []AgentEvent
	stream := l.Subscribe()
	for {
		ev, ok := stream.Next()
		if !ok {
			return events
		}
		events = append(events, ev)
		if ev.Type == EventAgentEnd {
			return events
		}
	}
}

func newTestLoop(t *testing.T, adapter *scriptedAdapter, registry *ToolRegistry) *Loop {
	t.Helper()
	cfg := DefaultLoopConfig()
	cfg.Adapter = adapter
	cfg.Model = "test-model"
	cfg.Registry = registry
	cfg.MaxTurns = 10
	return NewLoop(cfg)
}

func TestLoop_NoToolTurn(t *testing.T) {
	adapter := &scriptedAdapter{turns: [][]provider.Event{
		{doneEvent(textMessage("hi there", agentmodel.StopReasonStop))},
	}}
	loop := newTestLoop(t, adapter, nil)

	require.NoError(t, loop.Prompt(context.Background(), agentmodel.NewTextBlock("hello")))
	events := drainUntilAgentEnd(t, loop)

	require.NotEmpty(t, events)
	require.Equal(t, EventAgentStart, events[0].Type)
	require.Equal(t, EventAgentEnd, events[len(events)-1].Type)
	require.Equal(t, 1, adapter.calls, "a turn with no tool calls never starts a second turn")

	// spec §8: events within one run carry strictly increasing sequence numbers.
	for i := 1; i < len(events); i++ {
		require.Greater(t, events[i].Sequence, events[i-1].Sequence)
	}
}

func TestLoop_ToolRoundTrip(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(agentmodel.ToolDescriptor{
		Name:       "echo",
		Parameters: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
		Execute: func(_ agentmodel.CancellationHandle, _ string, args json.RawMessage, _ agentmodel.PartialUpdateSink) (*agentmodel.ToolResult, error) {
			var parsed struct {
				Text string `json:"text"`
			}
			require.NoError(t, json.Unmarshal(args, &parsed))
			return &agentmodel.ToolResult{Content: []agentmodel.ContentBlock{agentmodel.NewTextBlock(parsed.Text)}}, nil
		},
	})

	adapter := &scriptedAdapter{turns: [][]provider.Event{
		{doneEvent(toolCallMessage("call-1", "echo", `{"text":"ping"}`))},
		{doneEvent(textMessage("the tool said ping", agentmodel.StopReasonStop))},
	}}
	loop := newTestLoop(t, adapter, registry)

	require.NoError(t, loop.Prompt(context.Background(), agentmodel.NewTextBlock("use the echo tool")))
	events := drainUntilAgentEnd(t, loop)

	require.Equal(t, 2, adapter.calls, "a tool-use stop reason must drive a second turn")

	var sawToolStart, sawToolEnd bool
	var toolResult *agentmodel.Message
	for _, ev := range events {
		switch ev.Type {
		case EventToolExecutionStart:
			sawToolStart = true
		case EventToolExecutionEnd:
			sawToolEnd = true
			toolResult = ev.ToolExecution.Result
		}
	}
	require.True(t, sawToolStart)
	require.True(t, sawToolEnd)
	require.NotNil(t, toolResult)
	require.False(t, toolResult.IsError)
	require.Equal(t, "ping", toolResult.Content[0].Text)
}

func TestLoop_MissingTool(t *testing.T) {
	registry := NewToolRegistry() // "ghost" is never registered
	adapter := &scriptedAdapter{turns: [][]provider.Event{
		{doneEvent(toolCallMessage("call-1", "ghost", `{}`))},
		{doneEvent(textMessage("done", agentmodel.StopReasonStop))},
	}}
	loop := newTestLoop(t, adapter, registry)

	require.NoError(t, loop.Prompt(context.Background(), agentmodel.NewTextBlock("call the ghost tool")))
	events := drainUntilAgentEnd(t, loop)

	var toolResult *agentmodel.Message
	for _, ev := range events {
		if ev.Type == EventToolExecutionEnd {
			toolResult = ev.ToolExecution.Result
		}
	}
	require.NotNil(t, toolResult)
	require.True(t, toolResult.IsError)
	require.Contains(t, toolResult.Content[0].Text, "tool not found")
}

func TestLoop_MalformedToolArgs(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(agentmodel.ToolDescriptor{
		Name:       "strict",
		Parameters: json.RawMessage(`{"type":"object","properties":{"n":{"type":"number"}},"required":["n"]}`),
		Execute: func(_ agentmodel.CancellationHandle, _ string, _ json.RawMessage, _ agentmodel.PartialUpdateSink) (*agentmodel.ToolResult, error) {
			t.Fatal("executor must not be reached when argument validation fails")
			return nil, nil
		},
	})
	adapter := &scriptedAdapter{turns: [][]provider.Event{
		{doneEvent(toolCallMessage("call-1", "strict", `{"n":"not a number"}`))},
		{doneEvent(textMessage("done", agentmodel.StopReasonStop))},
	}}
	loop := newTestLoop(t, adapter, registry)

	require.NoError(t, loop.Prompt(context.Background(), agentmodel.NewTextBlock("call strict with bad args")))
	events := drainUntilAgentEnd(t, loop)

	var toolResult *agentmodel.Message
	for _, ev := range events {
		if ev.Type == EventToolExecutionEnd {
			toolResult = ev.ToolExecution.Result
		}
	}
	require.NotNil(t, toolResult)
	require.True(t, toolResult.IsError)
}

func TestLoop_Steering(t *testing.T) {
	adapter := &scriptedAdapter{turns: [][]provider.Event{
		{doneEvent(textMessage("first reply", agentmodel.StopReasonStop))},
		{doneEvent(textMessage("steered reply", agentmodel.StopReasonStop))},
	}}
	loop := newTestLoop(t, adapter, nil)

	// Queue the steering message before the first turn even starts so it is
	// guaranteed to be there once polling begins.
	loop.Steer(SteeringMessage{Content: []agentmodel.ContentBlock{agentmodel.NewTextBlock("actually, do this instead")}})

	require.NoError(t, loop.Prompt(context.Background(), agentmodel.NewTextBlock("hello")))
	drainUntilAgentEnd(t, loop)

	require.Equal(t, 2, adapter.calls, "a non-empty steering queue drives another turn after polling")
}

func TestLoop_Abort(t *testing.T) {
	adapter := &blockingAdapter{}
	loop := newTestLoop(t, adapter, nil)

	require.NoError(t, loop.Prompt(context.Background(), agentmodel.NewTextBlock("hello")))

	// Give the run goroutine a moment to reach streamTurn and start
	// ranging over the channel before aborting.
	time.Sleep(10 * time.Millisecond)
	loop.Abort()

	events := drainUntilAgentEnd(t, loop)
	require.NotEmpty(t, events)
	require.Equal(t, EventAgentEnd, events[len(events)-1].Type)

	require.NoError(t, loop.WaitForIdle(context.Background()))
}

// blockingAdapter streams nothing until its context is cancelled, then
// sends one aborted EventError, matching the contract documented on
// provider.Adapter.
type blockingAdapter struct{}

func (a *blockingAdapter) StreamTurn(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	out := make(chan provider.Event, 1)
	go func() {
		defer close(out)
		<-ctx.Done()
		out <- provider.Event{
			Kind:       provider.EventError,
			Partial:    textMessage("", agentmodel.StopReasonAborted),
			StopReason: agentmodel.StopReasonAborted,
		}
	}()
	return out, nil
}

func TestLoop_BusyRejectsConcurrentPrompt(t *testing.T) {
	adapter := &blockingAdapter{}
	loop := newTestLoop(t, adapter, nil)

	require.NoError(t, loop.Prompt(context.Background(), agentmodel.NewTextBlock("hello")))
	err := loop.Prompt(context.Background(), agentmodel.NewTextBlock("again"))
	require.ErrorIs(t, err, ErrBusy)

	loop.Abort()
	drainUntilAgentEnd(t, loop)
}

func TestLoop_ContinueOnAssistantTailWithEmptyQueuesIsPreconditionError(t *testing.T) {
	adapter := &scriptedAdapter{turns: [][]provider.Event{
		{doneEvent(textMessage("hi", agentmodel.StopReasonStop))},
	}}
	loop := newTestLoop(t, adapter, nil)

	require.NoError(t, loop.Prompt(context.Background(), agentmodel.NewTextBlock("hello")))
	drainUntilAgentEnd(t, loop)
	require.NoError(t, loop.WaitForIdle(context.Background()))

	err := loop.Continue(context.Background())
	require.ErrorIs(t, err, ErrNothingToContinue)
}

func TestLoop_PromptRejectsEmptyMessage(t *testing.T) {
	loop := newTestLoop(t, &scriptedAdapter{}, nil)
	err := loop.Prompt(context.Background(), agentmodel.NewTextBlock(""))
	require.ErrorIs(t, err, ErrEmptyUserMessage)
}
