package agent

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fankaidev/agentrt/internal/provider"
	"github.com/fankaidev/agentrt/internal/sessionlog"
	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// LoopPhase is the agent loop's state machine position (spec §4.6):
// IDLE → PREPARING → STREAMING → (TOOLING → POLLING → STREAMING)* →
// FINALIZING → IDLE.
type LoopPhase string

const (
	PhaseIdle       LoopPhase = "idle"
	PhasePreparing  LoopPhase = "preparing"
	PhaseStreaming  LoopPhase = "streaming"
	PhaseTooling    LoopPhase = "tooling"
	PhasePolling    LoopPhase = "polling"
	PhaseFinalizing LoopPhase = "finalizing"
)

// LoopConfig configures one Loop instance: which provider adapter and
// model to call, the tool registry and executor behavior, and the
// optional supplemented-feature collaborators (approval, async jobs,
// session log, metrics).
type LoopConfig struct {
	Adapter      provider.Adapter
	ProviderName string

	Model           string
	SystemPrompt    string
	ThinkingLevel   provider.ThinkingLevel
	ThinkingBudgets map[provider.ThinkingLevel]int
	ModelCaps       provider.ModelCapabilities
	MaxTokens       int
	APIKey          string
	BaseURL         string
	CacheRetention  provider.CacheRetention

	Registry *ToolRegistry
	ToolExec ToolExecConfig

	ApprovalChecker *ApprovalChecker
	ElevatedMode    ElevatedMode

	JobRunner  *JobRunner
	AsyncTools []string

	SessionLog  sessionlog.Store
	SessionID   string
	ResultGuard sessionlog.ResultGuard

	Metrics *Metrics

	// MaxTurns bounds the number of STREAMING↔TOOLING round trips within
	// one Prompt/Continue call, guarding against a model that never stops
	// requesting tools.
	MaxTurns int
}

// DefaultLoopConfig returns a LoopConfig with every optional field at its
// zero-collaborator default; Adapter and Model must still be set by the
// caller.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		ToolExec:      DefaultToolExecConfig(),
		ElevatedMode:  ElevatedOff,
		ModelCaps:     provider.ModelCapabilities{MaxTokens: 4096},
		MaxTokens:     4096,
		ThinkingLevel: provider.ThinkingOff,
		MaxTurns:      50,
	}
}

func sanitizeLoopConfig(cfg LoopConfig) LoopConfig {
	defaults := DefaultLoopConfig()
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaults.MaxTurns
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.ElevatedMode == "" {
		cfg.ElevatedMode = defaults.ElevatedMode
	}
	if cfg.ThinkingLevel == "" {
		cfg.ThinkingLevel = defaults.ThinkingLevel
	}
	return cfg
}

// Loop is the Agent Loop (C6): the state machine driving one streaming
// conversation against a provider.Adapter, dispatching tool calls through
// the Tool Registry/Executor (C3) and publishing every state change on a
// Stream (C1). A Loop owns one linear message history; callers that need
// independent concurrent conversations create one Loop per conversation.
type Loop struct {
	config   LoopConfig
	registry *ToolRegistry
	toolExec *ToolExecutor
	stream   *Stream
	steering *SteeringQueue

	mu       sync.Mutex
	messages []agentmodel.Message
	phase    LoopPhase
	runID    string
	cancel   context.CancelFunc
	idleCh   chan struct{}

	busy atomic.Bool
	seq  atomic.Uint64
}

// NewLoop builds a Loop from config, defaulting any unset tuning fields.
// config.Adapter must be non-nil.
func NewLoop(config LoopConfig) *Loop {
	cfg := sanitizeLoopConfig(config)
	registry := cfg.Registry
	if registry == nil {
		registry = NewToolRegistry()
		cfg.Registry = registry
	}
	return &Loop{
		config:   cfg,
		registry: registry,
		toolExec: NewToolExecutor(registry, cfg.ToolExec),
		stream:   NewStream(),
		steering: NewSteeringQueue(),
		phase:    PhaseIdle,
	}
}

// Subscribe returns the Loop's event stream (spec §6). There is one
// Stream per Loop, shared across every Prompt/Continue call made against
// it; agent_start/agent_end bracket each call's events within it.
func (l *Loop) Subscribe() *Stream {
	return l.stream
}

// Steer enqueues a steering interjection, delivered the next time the
// loop polls for interjections (spec §4.6, GLOSSARY "Steering").
func (l *Loop) Steer(msg SteeringMessage) {
	l.steering.Steer(msg)
}

// FollowUp enqueues a follow-up message, delivered after the steering
// queue is drained (GLOSSARY "Follow-up").
func (l *Loop) FollowUp(msg FollowUpMessage) {
	l.steering.FollowUp(msg)
}

// SetSystemPrompt replaces the system prompt used by future turns.
func (l *Loop) SetSystemPrompt(prompt string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.SystemPrompt = prompt
}

// SetModel replaces the model id used by future turns.
func (l *Loop) SetModel(model string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.Model = model
}

// SetThinkingLevel replaces the thinking-effort level used by future turns.
func (l *Loop) SetThinkingLevel(level provider.ThinkingLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config.ThinkingLevel = level
}

// SetTools replaces the registry's tool set with tools.
func (l *Loop) SetTools(tools []agentmodel.ToolDescriptor) {
	for _, d := range l.registry.Descriptors() {
		l.registry.Unregister(d.Name)
	}
	for _, t := range tools {
		l.registry.Register(t)
	}
}

// ReplaceMessages replaces the entire message history.
func (l *Loop) ReplaceMessages(messages []agentmodel.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append([]agentmodel.Message(nil), messages...)
}

// AppendMessage appends one message to the history without starting a
// turn, logging it as a message_end event for replay (spec §4.5).
func (l *Loop) AppendMessage(msg agentmodel.Message) {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
	l.pushEvent(AgentEvent{Type: EventMessageEnd, Message: &MessageEventPayload{Partial: msg}})
}

// ClearMessages empties the history.
func (l *Loop) ClearMessages() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = nil
}

// Reset empties the history and both interjection queues, returning the
// Loop to its just-constructed state.
func (l *Loop) Reset() {
	l.mu.Lock()
	l.messages = nil
	l.mu.Unlock()
	l.steering.Clear()
}

// Prompt appends a user message built from content and starts a new
// call. It fails synchronously with ErrBusy if a call is already
// streaming (spec §4.6 "concurrency of prompts") — it never blocks.
func (l *Loop) Prompt(ctx context.Context, content ...agentmodel.ContentBlock) error {
	userMsg := agentmodel.NewUserMessage(newEventID(), content...)
	if userMsg.AllBlocksEmpty() {
		return ErrEmptyUserMessage
	}
	if !l.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}

	l.mu.Lock()
	l.messages = append(l.messages, userMsg)
	l.mu.Unlock()

	runCtx, runID := l.beginRun(ctx)
	l.pushEvent(AgentEvent{Type: EventMessageEnd, RunID: runID, Message: &MessageEventPayload{Partial: userMsg}})
	go l.run(runCtx, runID)
	return nil
}

// Continue resumes the conversation with no new user input: it drains
// any queued interjections and keeps streaming. Calling Continue when
// the tail message is already an assistant message and both queues are
// empty is a synchronous precondition error rather than a synthesized
// empty turn (spec §9 Open Question #2). When the tail is an assistant
// message and a queue is non-empty, the loop runs one POLLING pass over
// the queues before the first STREAMING pass instead of polling
// mid-stream first (spec
// §4.6 "continue-on-assistant-tail special case").
func (l *Loop) Continue(ctx context.Context) error {
	if !l.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}

	l.mu.Lock()
	if len(l.messages) == 0 {
		l.mu.Unlock()
		l.busy.Store(false)
		return ErrNoMessages
	}
	tail := l.messages[len(l.messages)-1]
	tailIsAssistant := tail.Role == agentmodel.RoleAssistant
	l.mu.Unlock()

	if tailIsAssistant && !l.steering.HasSteering() && !l.steering.HasFollowUp() {
		l.busy.Store(false)
		return ErrNothingToContinue
	}

	runCtx, runID := l.beginRun(ctx)
	if tailIsAssistant {
		l.drainInterjections(runID)
	}
	go l.run(runCtx, runID)
	return nil
}

// Abort cancels the in-flight call, if any. The running turn retains its
// partial assistant message (marked StopReasonAborted) if it carries any
// content, or commits a degenerate empty aborted message otherwise (spec
// §4.6 "abort semantics").
func (l *Loop) Abort() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// WaitForIdle blocks until the Loop has no call in flight, or ctx is
// done.
func (l *Loop) WaitForIdle(ctx context.Context) error {
	l.mu.Lock()
	ch := l.idleCh
	busy := l.busy.Load()
	l.mu.Unlock()
	if !busy || ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) beginRun(ctx context.Context) (context.Context, string) {
	runCtx, cancel := context.WithCancel(ctx)
	runID := newEventID()
	l.mu.Lock()
	l.cancel = cancel
	l.runID = runID
	l.phase = PhasePreparing
	l.idleCh = make(chan struct{})
	l.mu.Unlock()
	return WithRunID(runCtx, runID), runID
}

func newEventID() string {
	return uuid.NewString()
}

func (l *Loop) setPhase(p LoopPhase) {
	l.mu.Lock()
	l.phase = p
	l.mu.Unlock()
}

// run drives one call end-to-end: agent_start, repeated turns until the
// assistant stops requesting tools (or MaxTurns is hit, or the call is
// aborted or fails), then agent_end.
func (l *Loop) run(ctx context.Context, runID string) {
	defer l.endRun()

	l.config.Metrics.setActiveRuns(1)
	l.pushEvent(AgentEvent{Type: EventAgentStart, RunID: runID})

	var runErr error
	turnIndex := 0
	for turnIndex < l.config.MaxTurns {
		l.pushEvent(AgentEvent{Type: EventTurnStart, RunID: runID, TurnIndex: turnIndex})
		l.setPhase(PhaseStreaming)

		assistantMsg, err := l.streamTurn(ctx, runID, turnIndex)
		if err != nil {
			runErr = err
			if assistantMsg.Role == "" {
				assistantMsg = agentmodel.Message{ID: newEventID(), Role: agentmodel.RoleAssistant, StopReason: agentmodel.StopReasonError, ErrorMessage: err.Error(), CreatedAt: time.Now()}
				l.pushEvent(AgentEvent{Type: EventMessageEnd, RunID: runID, TurnIndex: turnIndex, Message: &MessageEventPayload{Partial: assistantMsg}})
			}
			l.commitAssistantMessage(assistantMsg)
			l.config.Metrics.observeTurn(outcomeFor(err))
			l.pushEvent(AgentEvent{Type: EventTurnEnd, RunID: runID, TurnIndex: turnIndex, Error: toErrorPayload(err)})
			break
		}
		l.commitAssistantMessage(assistantMsg)
		if assistantMsg.StopReason == agentmodel.StopReasonAborted {
			l.config.Metrics.observeTurn("aborted")
			l.pushEvent(AgentEvent{Type: EventTurnEnd, RunID: runID, TurnIndex: turnIndex})
			break
		}

		toolCalls := assistantMsg.ToolCallBlocks()
		if len(toolCalls) > 0 && assistantMsg.StopReason == agentmodel.StopReasonToolUse {
			l.setPhase(PhaseTooling)
			l.executeTools(ctx, runID, toolCalls)
			l.setPhase(PhasePolling)
			l.drainInterjections(runID)
			l.config.Metrics.observeTurn("ok")
			l.pushEvent(AgentEvent{Type: EventTurnEnd, RunID: runID, TurnIndex: turnIndex})
			turnIndex++
			continue
		}

		l.setPhase(PhasePolling)
		more := l.drainInterjections(runID)
		l.config.Metrics.observeTurn("ok")
		l.pushEvent(AgentEvent{Type: EventTurnEnd, RunID: runID, TurnIndex: turnIndex})
		if more {
			turnIndex++
			continue
		}
		break
	}

	l.setPhase(PhaseFinalizing)
	l.pushEvent(AgentEvent{Type: EventAgentEnd, RunID: runID, Error: toErrorPayload(runErr)})
}

func (l *Loop) endRun() {
	l.mu.Lock()
	l.phase = PhaseIdle
	l.cancel = nil
	l.config.Metrics.setActiveRuns(0)
	l.busy.Store(false)
	if l.idleCh != nil {
		close(l.idleCh)
		l.idleCh = nil
	}
	l.mu.Unlock()
}

func (l *Loop) commitAssistantMessage(msg agentmodel.Message) {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
}

// streamTurn opens one provider turn, forwards its normalized events onto
// the Stream, and returns the committed assistant message. A transport,
// decoding or precondition failure returns a non-nil error (spec §4.6
// "turn execution"); cancellation before completion surfaces as an
// assistant message with StopReasonAborted and a nil error, so the
// caller finalizes it like any other committed message instead of
// discarding it (spec §4.6 "abort semantics", §9 "partial assistant
// message").
func (l *Loop) streamTurn(ctx context.Context, runID string, turnIndex int) (agentmodel.Message, error) {
	l.mu.Lock()
	history := append([]agentmodel.Message(nil), l.messages...)
	cfg := l.config
	l.mu.Unlock()

	if transform := ContextTransformFromContext(ctx); transform != nil {
		transformed, err := transform(ctx, history)
		if err != nil {
			return agentmodel.Message{}, &LoopError{Kind: KindPrecondition, Message: "context transform failed", Cause: err}
		}
		history = transformed
	}

	apiKey := cfg.APIKey
	if resolver := APIKeyResolverFromContext(ctx); resolver != nil {
		key, err := resolver(ctx, cfg.ProviderName)
		if err != nil {
			return agentmodel.Message{}, &LoopError{Kind: KindPrecondition, Message: "api key resolution failed", Cause: err}
		}
		if key != "" {
			apiKey = key
		}
	}

	req := provider.Request{
		Model:           cfg.Model,
		SystemPrompt:    cfg.SystemPrompt,
		Messages:        history,
		Tools:           l.registry.Descriptors(),
		ThinkingLevel:   cfg.ThinkingLevel,
		ThinkingBudgets: cfg.ThinkingBudgets,
		APIKey:          apiKey,
		BaseURL:         cfg.BaseURL,
		CacheRetention:  cfg.CacheRetention,
		MaxTokens:       cfg.MaxTokens,
		ModelCaps:       cfg.ModelCaps,
	}

	events, err := cfg.Adapter.StreamTurn(ctx, req)
	if err != nil {
		return agentmodel.Message{}, &LoopError{Kind: KindTransport, Message: "stream open failed", Cause: err}
	}

	var final agentmodel.Message
	for ev := range events {
		switch ev.Kind {
		case provider.EventStart:
			l.pushEvent(AgentEvent{Type: EventMessageStart, RunID: runID, TurnIndex: turnIndex, Message: &MessageEventPayload{Partial: ev.Partial}})

		case provider.EventDone:
			final = ev.Partial
			l.pushEvent(AgentEvent{Type: EventMessageEnd, RunID: runID, TurnIndex: turnIndex, Message: &MessageEventPayload{Partial: ev.Partial}})

		case provider.EventError:
			final = ev.Partial
			if final.StopReason == "" {
				final.StopReason = ev.StopReason
			}
			if final.StopReason == "" {
				final.StopReason = agentmodel.StopReasonError
			}
			final.ErrorMessage = ev.ErrorMessage
			l.pushEvent(AgentEvent{Type: EventMessageEnd, RunID: runID, TurnIndex: turnIndex, Message: &MessageEventPayload{Partial: final}})
			if final.StopReason != agentmodel.StopReasonAborted {
				return final, &LoopError{Kind: classifyStreamError(ev), Message: ev.ErrorMessage}
			}

		default:
			l.pushEvent(AgentEvent{
				Type:      EventMessageUpdate,
				RunID:     runID,
				TurnIndex: turnIndex,
				Message: &MessageEventPayload{
					Partial:    ev.Partial,
					DeltaText:  ev.DeltaText,
					BlockIndex: ev.BlockIndex,
				},
			})
		}
	}

	return final, nil
}

// classifyStreamError distinguishes a decoding failure (an unrecognized
// stop/finish reason, surfaced by provider.MapAnthropicStopReason /
// MapOpenAIFinishReason as plain errors with no other signal available)
// from every other stream-level failure, which is a transport error.
func classifyStreamError(ev provider.Event) ErrorKind {
	if strings.Contains(ev.ErrorMessage, "unknown") {
		return KindDecoding
	}
	return KindTransport
}

func outcomeFor(err error) string {
	if le, ok := err.(*LoopError); ok && le.Kind == KindAborted {
		return "aborted"
	}
	return "error"
}

func toErrorPayload(err error) *ErrorEventPayload {
	if err == nil {
		return nil
	}
	if le, ok := err.(*LoopError); ok {
		return &ErrorEventPayload{Message: le.Error(), Kind: string(le.Kind)}
	}
	return &ErrorEventPayload{Message: err.Error(), Kind: string(KindTransport)}
}

// executeTools runs every tool call spec §4.6's TOOLING phase names:
// approval-gated calls are resolved first (denied/pending calls are
// synthesized as error tool-results without ever reaching the executor),
// async-eligible calls are handed to the JobRunner and their real result
// arrives later as a follow-up, and everything else runs through the
// concurrent ToolExecutor.
func (l *Loop) executeTools(ctx context.Context, runID string, calls []agentmodel.ContentBlock) {
	cfg := l.config
	var toExecute []agentmodel.ContentBlock

	for _, call := range calls {
		if cfg.ApprovalChecker != nil {
			decision, reason := cfg.ApprovalChecker.Check(call, cfg.ElevatedMode)
			switch decision {
			case ApprovalDenied:
				l.commitToolResult(runID, call, toolErrorResult(call, "denied by approval policy: "+reason))
				continue
			case ApprovalPending:
				approvalID := ""
				if req, err := cfg.ApprovalChecker.CreateApprovalRequest(ctx, runID, call, reason); err == nil && req != nil {
					approvalID = req.ID
				}
				msg := "approval required for tool: " + call.ToolName
				if approvalID != "" {
					msg += " (id: " + approvalID + ")"
				}
				l.commitToolResult(runID, call, toolErrorResult(call, msg))
				continue
			}
		}

		if cfg.JobRunner != nil && matchesAny(cfg.AsyncTools, call.ToolName) {
			l.commitToolResult(runID, call, cfg.JobRunner.Start(ctx, runID, call))
			continue
		}

		toExecute = append(toExecute, call)
	}

	if len(toExecute) == 0 {
		return
	}

	results := l.toolExec.ExecuteConcurrently(ctx, runID, toExecute, l.pushEvent)
	for _, r := range results {
		toolOutcome := "ok"
		if r.Message.IsError {
			toolOutcome = "error"
		}
		l.config.Metrics.observeToolCall(r.ToolCall.ToolName, toolOutcome, r.EndTime.Sub(r.StartTime).Seconds())
		l.mu.Lock()
		l.messages = append(l.messages, r.Message)
		l.mu.Unlock()
	}
}

// commitToolResult appends a synthesized tool-result message (denied,
// pending approval, or queued as an async job) to history and logs it as
// a tool_execution_end event, matching the shape the concurrent executor
// itself produces so Reconstruct sees a uniform event sequence.
func (l *Loop) commitToolResult(runID string, call agentmodel.ContentBlock, msg agentmodel.Message) {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
	l.pushEvent(AgentEvent{
		Type:  EventToolExecutionEnd,
		RunID: runID,
		ToolExecution: &ToolExecutionEventPayload{
			ToolCallID: call.ToolCallID,
			ToolName:   call.ToolName,
			Result:     &msg,
		},
	})
}

func toolErrorResult(call agentmodel.ContentBlock, message string) agentmodel.Message {
	return agentmodel.NewToolResultMessage(
		newEventID(),
		call.ToolCallID,
		call.ToolName,
		[]agentmodel.ContentBlock{agentmodel.NewTextBlock(message)},
		true,
		nil,
	)
}

// drainInterjections is one POLLING pass: it pops the steering queue per
// its mode (all, or just the head) and, only when no steering message was
// queued, pops the follow-up queue per its mode, committing each popped
// message as a new user message (spec §4.6 "polling for interjections").
// It reports whether anything was added.
func (l *Loop) drainInterjections(runID string) bool {
	added := false
	for _, sm := range l.steering.DrainSteering() {
		l.commitInterjection(runID, sm.Content)
		added = true
	}
	if added {
		return true
	}
	for _, fm := range l.steering.DrainFollowUp() {
		l.commitInterjection(runID, fm.Content)
		added = true
	}
	return added
}

func (l *Loop) commitInterjection(runID string, content []agentmodel.ContentBlock) {
	msg := agentmodel.NewUserMessage(newEventID(), content...)
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
	l.pushEvent(AgentEvent{Type: EventMessageEnd, RunID: runID, Message: &MessageEventPayload{Partial: msg}})
}

// pushEvent stamps ev with a sequence number and timestamp, publishes it
// on the Stream, and appends it to the session event log if one is
// configured; tool_execution_update events are published but never
// appended. An event pushed after the consumer cancelled is counted as
// dropped. Tool results are redacted (spec: "before persistence")
// before either happens, since a live subscriber is as much a
// persistence boundary as storage once the result has left the process.
func (l *Loop) pushEvent(ev AgentEvent) {
	ev.Sequence = l.seq.Add(1)
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Type == EventToolExecutionEnd && ev.ToolExecution != nil && ev.ToolExecution.Result != nil {
		guarded := l.config.ResultGuard.Apply(*ev.ToolExecution.Result)
		ev.ToolExecution.Result = &guarded
	}
	if l.stream.Cancelled() {
		l.config.Metrics.incEventsDropped()
	}
	l.stream.Push(ev)
	if l.config.SessionLog != nil && ev.Type != EventToolExecutionUpdate {
		_ = l.config.SessionLog.Append(context.Background(), l.config.SessionID, ev)
	}
}
