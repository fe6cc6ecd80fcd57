package provider

import (
	"fmt"

	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// anthropicStopReasons maps Anthropic's stop_reason values to the core's
// fixed taxonomy (spec §4.2).
var anthropicStopReasons = map[string]agentmodel.StopReason{
	"end_turn":      agentmodel.StopReasonStop,
	"stop_sequence": agentmodel.StopReasonStop,
	"max_tokens":    agentmodel.StopReasonLength,
	"tool_use":      agentmodel.StopReasonToolUse,
	"refusal":       agentmodel.StopReasonError,
	"pause_turn":    agentmodel.StopReasonStop,
	"sensitive":     agentmodel.StopReasonError,
}

// MapAnthropicStopReason translates a raw Anthropic stop_reason. An
// unrecognized value is a fatal decoding error (spec §4.2, §7 kind
// "decoding").
func MapAnthropicStopReason(raw string) (agentmodel.StopReason, error) {
	if mapped, ok := anthropicStopReasons[raw]; ok {
		return mapped, nil
	}
	return agentmodel.StopReasonError, fmt.Errorf("unknown anthropic stop_reason: %q", raw)
}

// openAIFinishReasons maps OpenAI's finish_reason values to the core's
// taxonomy.
var openAIFinishReasons = map[string]agentmodel.StopReason{
	"stop":           agentmodel.StopReasonStop,
	"length":         agentmodel.StopReasonLength,
	"tool_calls":     agentmodel.StopReasonToolUse,
	"function_call":  agentmodel.StopReasonToolUse,
	"content_filter": agentmodel.StopReasonError,
}

// MapOpenAIFinishReason translates a raw OpenAI finish_reason.
func MapOpenAIFinishReason(raw string) (agentmodel.StopReason, error) {
	if mapped, ok := openAIFinishReasons[raw]; ok {
		return mapped, nil
	}
	return agentmodel.StopReasonError, fmt.Errorf("unknown openai finish_reason: %q", raw)
}
