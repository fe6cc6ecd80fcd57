package provider

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

func TestMapAnthropicStopReason(t *testing.T) {
	tests := []struct {
		raw  string
		want agentmodel.StopReason
	}{
		{"end_turn", agentmodel.StopReasonStop},
		{"stop_sequence", agentmodel.StopReasonStop},
		{"pause_turn", agentmodel.StopReasonStop},
		{"max_tokens", agentmodel.StopReasonLength},
		{"tool_use", agentmodel.StopReasonToolUse},
		{"refusal", agentmodel.StopReasonError},
		{"sensitive", agentmodel.StopReasonError},
	}
	for _, tc := range tests {
		got, err := MapAnthropicStopReason(tc.raw)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}

func TestMapAnthropicStopReason_Unknown(t *testing.T) {
	_, err := MapAnthropicStopReason("something_new")
	require.Error(t, err)
}

func TestMapOpenAIFinishReason(t *testing.T) {
	tests := []struct {
		raw  string
		want agentmodel.StopReason
	}{
		{"stop", agentmodel.StopReasonStop},
		{"length", agentmodel.StopReasonLength},
		{"tool_calls", agentmodel.StopReasonToolUse},
		{"function_call", agentmodel.StopReasonToolUse},
		{"content_filter", agentmodel.StopReasonError},
	}
	for _, tc := range tests {
		got, err := MapOpenAIFinishReason(tc.raw)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}

func TestMapOpenAIFinishReason_Unknown(t *testing.T) {
	_, err := MapOpenAIFinishReason("bogus")
	require.Error(t, err)
}
