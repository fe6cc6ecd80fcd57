package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// ToolExecConfig configures concurrency, timeout and retry behavior for
// one turn's worth of tool calls (spec §4.3 "concurrency").
type ToolExecConfig struct {
	// Concurrency caps the number of tool calls executing at once.
	// Default: 4.
	Concurrency int

	// PerToolTimeout bounds each individual execution attempt. Default:
	// 30s. Tool executors may additionally implement their own internal
	// timeout (spec §5 "Timeouts"); this is the executor-side bound the
	// core imposes regardless.
	PerToolTimeout time.Duration

	// MaxAttempts is the number of attempts per tool call. Default: 1 —
	// the core does not retry on the model's behalf by default (spec §1
	// Non-goals: "does not implement its own retry ... beyond respecting
	// a bounded delay cap").
	MaxAttempts int

	// RetryBackoff waits between attempts when MaxAttempts > 1.
	RetryBackoff time.Duration

	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultToolExecConfig returns the baseline tool-exec configuration.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
		MaxAttempts:    1,
		Logger:         slog.Default(),
	}
}

func (c ToolExecConfig) withDefaults() ToolExecConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PerToolTimeout <= 0 {
		c.PerToolTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// ToolExecutor runs the tool calls of one assistant message concurrently
// against a ToolRegistry (spec component C3).
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
}

// NewToolExecutor builds an executor over registry with config (zero
// fields filled from DefaultToolExecConfig).
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig) *ToolExecutor {
	return &ToolExecutor{registry: registry, config: config.withDefaults()}
}

// ToolExecResult is one tool call's outcome, indexed by its position in
// the originating assistant message's tool-call blocks.
type ToolExecResult struct {
	Index     int
	ToolCall  agentmodel.ContentBlock // Type == BlockToolCall
	Message   agentmodel.Message      // the tool-result message
	StartTime time.Time
	EndTime   time.Time
	TimedOut  bool
}

// EventCallback receives tool lifecycle events during execution. It must
// not block; implementations that need to fan out should do so on
// another goroutine.
type EventCallback func(AgentEvent)

// ExecuteConcurrently runs every tool-call block in calls in parallel,
// bounded by Concurrency, and returns one ToolExecResult per call in the
// same order as calls regardless of completion order (spec §4.3, §5,
// §8 — a core quantified invariant). Missing tools, schema-validation
// failures and executor errors are all synthesized as error tool-result
// messages; none of them fail this call (spec §7).
func (e *ToolExecutor) ExecuteConcurrently(ctx context.Context, runID string, calls []agentmodel.ContentBlock, emit EventCallback) []ToolExecResult {
	results := make([]ToolExecResult, len(calls))
	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc agentmodel.ContentBlock) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = e.cancelledResult(idx, tc)
				return
			}

			results[idx] = e.executeOne(ctx, runID, idx, tc, emit)
		}(i, call)
	}

	wg.Wait()
	return results
}

func (e *ToolExecutor) cancelledResult(idx int, tc agentmodel.ContentBlock) ToolExecResult {
	now := time.Now()
	return ToolExecResult{
		Index:    idx,
		ToolCall: tc,
		Message: agentmodel.NewToolResultMessage(uuid.NewString(), tc.ToolCallID, tc.ToolName,
			[]agentmodel.ContentBlock{agentmodel.NewTextBlock("context cancelled before execution")}, true, nil),
		StartTime: now,
		EndTime:   now,
	}
}

func (e *ToolExecutor) executeOne(ctx context.Context, runID string, idx int, tc agentmodel.ContentBlock, emit EventCallback) ToolExecResult {
	start := time.Now()

	e.emitEvent(emit, runID, EventToolExecutionStart, tc, nil, nil)

	desc, ok := e.registry.Get(tc.ToolName)
	if !ok {
		msg := e.synthesize(tc, KindToolMissing, "tool not found: "+tc.ToolName)
		e.emitEvent(emit, runID, EventToolExecutionEnd, tc, nil, &msg)
		return ToolExecResult{Index: idx, ToolCall: tc, Message: msg, StartTime: start, EndTime: time.Now()}
	}

	if err := e.registry.ValidateArgs(desc, tc.ToolArgs); err != nil {
		msg := e.synthesize(tc, KindToolArgInvalid, err.Error())
		e.emitEvent(emit, runID, EventToolExecutionEnd, tc, nil, &msg)
		return ToolExecResult{Index: idx, ToolCall: tc, Message: msg, StartTime: start, EndTime: time.Now()}
	}

	var (
		result   *agentmodel.ToolResult
		execErr  error
		timedOut bool
	)
	maxAttempts := e.config.MaxAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
		sink := agentmodel.PartialUpdateSinkFunc(func(payload json.RawMessage) {
			e.emitEvent(emit, runID, EventToolExecutionUpdate, tc, payload, nil)
		})
		result, execErr, timedOut = e.invoke(attemptCtx, desc, tc, sink)
		cancel()

		if execErr == nil {
			break
		}
		if attempt < maxAttempts && e.config.RetryBackoff > 0 {
			select {
			case <-time.After(e.config.RetryBackoff):
			case <-ctx.Done():
				execErr = ctx.Err()
				attempt = maxAttempts
			}
		}
	}

	end := time.Now()
	var msg agentmodel.Message
	switch {
	case execErr != nil:
		msg = e.synthesize(tc, KindToolExecutor, execErr.Error())
	case result != nil:
		msg = agentmodel.NewToolResultMessage(uuid.NewString(), tc.ToolCallID, tc.ToolName, result.Content, false, result.Details)
	default:
		msg = agentmodel.NewToolResultMessage(uuid.NewString(), tc.ToolCallID, tc.ToolName, nil, false, nil)
	}

	e.emitEvent(emit, runID, EventToolExecutionEnd, tc, nil, &msg)
	return ToolExecResult{Index: idx, ToolCall: tc, Message: msg, StartTime: start, EndTime: end, TimedOut: timedOut}
}

// invoke calls the tool executor, recovering from panics the same way
// the teacher's executor.go guards against a misbehaving tool.
func (e *ToolExecutor) invoke(ctx context.Context, desc agentmodel.ToolDescriptor, tc agentmodel.ContentBlock, sink agentmodel.PartialUpdateSink) (result *agentmodel.ToolResult, err error, timedOut bool) {
	type execOutcome struct {
		result *agentmodel.ToolResult
		err    error
	}
	out := make(chan execOutcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				select {
				case out <- execOutcome{err: fmt.Errorf("tool panicked: %v", p)}:
				default:
				}
			}
		}()
		r, execErr := desc.Execute(ctx, tc.ToolCallID, tc.ToolArgs, sink)
		select {
		case out <- execOutcome{result: r, err: execErr}:
		default:
			e.config.Logger.Warn("tool execution completed after timeout, result discarded",
				"tool", tc.ToolName, "tool_call_id", tc.ToolCallID)
		}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("tool execution timed out after %v", e.config.PerToolTimeout), true
		}
		return nil, errors.New("tool execution cancelled"), false
	case res := <-out:
		return res.result, res.err, false
	}
}

func (e *ToolExecutor) synthesize(tc agentmodel.ContentBlock, kind ErrorKind, message string) agentmodel.Message {
	return agentmodel.NewToolResultMessage(uuid.NewString(), tc.ToolCallID, tc.ToolName,
		[]agentmodel.ContentBlock{agentmodel.NewTextBlock(message)}, true, nil)
}

func (e *ToolExecutor) emitEvent(emit EventCallback, runID string, typ EventType, tc agentmodel.ContentBlock, update json.RawMessage, result *agentmodel.Message) {
	if emit == nil {
		return
	}
	emit(AgentEvent{
		Type:  typ,
		Time:  time.Now(),
		RunID: runID,
		ToolExecution: &ToolExecutionEventPayload{
			ToolCallID: tc.ToolCallID,
			ToolName:   tc.ToolName,
			Update:     update,
			Result:     result,
		},
	})
}
