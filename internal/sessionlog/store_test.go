package sessionlog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fankaidev/agentrt/internal/agent"
	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

func userMsg(text string) agentmodel.Message {
	return agentmodel.NewUserTextMessage("u1", text)
}

func TestReconstruct_OnlyMessageEndAndToolResultContribute(t *testing.T) {
	final := agentmodel.Message{Role: agentmodel.RoleAssistant, Content: []agentmodel.ContentBlock{agentmodel.NewTextBlock("hello")}}
	toolResult := agentmodel.NewToolResultMessage("t1", "call-1", "echo", []agentmodel.ContentBlock{agentmodel.NewTextBlock("pong")}, false, nil)

	events := []agent.AgentEvent{
		{Type: agent.EventAgentStart},
		{Type: agent.EventMessageEnd, Message: &agent.MessageEventPayload{Partial: userMsg("hi")}},
		{Type: agent.EventMessageStart, Message: &agent.MessageEventPayload{Partial: final}},
		{Type: agent.EventMessageUpdate, Message: &agent.MessageEventPayload{Partial: final, DeltaText: "hel"}},
		{Type: agent.EventMessageEnd, Message: &agent.MessageEventPayload{Partial: final}},
		{Type: agent.EventToolExecutionStart, ToolExecution: &agent.ToolExecutionEventPayload{ToolCallID: "call-1", ToolName: "echo"}},
		{Type: agent.EventToolExecutionEnd, ToolExecution: &agent.ToolExecutionEventPayload{ToolCallID: "call-1", ToolName: "echo", Result: &toolResult}},
		{Type: agent.EventAgentEnd},
	}

	messages := Reconstruct(events)
	require.Len(t, messages, 3)
	require.Equal(t, "hi", messages[0].Content[0].Text)
	require.Equal(t, "hello", messages[1].Content[0].Text)
	require.Equal(t, "pong", messages[2].Content[0].Text)
}

func TestMemoryStore_AppendReplayReconstructRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := t.Context()

	msg := userMsg("first message")
	events := []agent.AgentEvent{
		{Type: agent.EventAgentStart, Sequence: 1},
		{Type: agent.EventMessageEnd, Sequence: 2, Message: &agent.MessageEventPayload{Partial: msg}},
		{Type: agent.EventAgentEnd, Sequence: 3},
	}

	require.NoError(t, store.Append(ctx, "session-1", events...))

	replayed, err := store.Replay(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, replayed, 3)
	require.Equal(t, events[0].Type, replayed[0].Type)
	require.Equal(t, events[1].Type, replayed[1].Type)
	require.Equal(t, events[2].Type, replayed[2].Type)

	reconstructed, err := store.Reconstruct(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, reconstructed, 1)
	require.Equal(t, "first message", reconstructed[0].Content[0].Text)
}

func TestMemoryStore_UnknownSessionReplaysEmpty(t *testing.T) {
	store := NewMemoryStore()
	events, err := store.Replay(t.Context(), "never-appended")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestResultGuard_RedactsDenylistedToolEntirely(t *testing.T) {
	guard := ResultGuard{Enabled: true, Denylist: []string{"shell"}}
	msg := agentmodel.NewToolResultMessage("t1", "call-1", "shell", []agentmodel.ContentBlock{agentmodel.NewTextBlock("rm -rf /")}, false, nil)

	got := guard.Apply(msg)
	require.Len(t, got.Content, 1)
	require.Equal(t, "[REDACTED]", got.Content[0].Text)
}

func TestResultGuard_TruncatesOversizedText(t *testing.T) {
	guard := ResultGuard{Enabled: true, MaxChars: 5, TruncateSuffix: "...cut"}
	msg := agentmodel.NewToolResultMessage("t1", "call-1", "read_file", []agentmodel.ContentBlock{agentmodel.NewTextBlock("0123456789")}, false, nil)

	got := guard.Apply(msg)
	require.Equal(t, "01234...cut", got.Content[0].Text)
}

func TestResultGuard_SanitizesSecretsWhenEnabled(t *testing.T) {
	guard := ResultGuard{Enabled: true, SanitizeSecrets: true}
	msg := agentmodel.NewToolResultMessage("t1", "call-1", "http_get", []agentmodel.ContentBlock{
		agentmodel.NewTextBlock(`response included api_key: "sk-abcdefghijklmnopqrstuvwx"`),
	}, false, nil)

	got := guard.Apply(msg)
	require.Contains(t, got.Content[0].Text, "[REDACTED]")
	require.NotContains(t, got.Content[0].Text, "sk-abcdefghijklmnopqrstuvwx")
}

func TestResultGuard_InactiveGuardPassesThrough(t *testing.T) {
	guard := ResultGuard{}
	msg := agentmodel.NewToolResultMessage("t1", "call-1", "echo", []agentmodel.ContentBlock{agentmodel.NewTextBlock("unchanged")}, false, nil)
	got := guard.Apply(msg)
	require.Equal(t, "unchanged", got.Content[0].Text)
}

func TestResultGuard_NonToolResultMessagePassesThrough(t *testing.T) {
	guard := ResultGuard{Enabled: true, MaxChars: 1}
	msg := userMsg("this should not be touched regardless of MaxChars")
	got := guard.Apply(msg)
	require.Equal(t, msg.Content[0].Text, got.Content[0].Text)
}
