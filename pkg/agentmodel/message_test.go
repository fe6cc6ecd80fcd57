package agentmodel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContentBlock_IsEmpty(t *testing.T) {
	require.True(t, NewTextBlock("").IsEmpty())
	require.False(t, NewTextBlock("hi").IsEmpty())
	require.True(t, NewThinkingBlock("", "sig").IsEmpty())
	require.True(t, NewImageBlock("", "image/png").IsEmpty())
	require.False(t, NewImageBlock("data", "image/png").IsEmpty())
	require.False(t, NewToolCallBlock("id", "name", nil, "").IsEmpty(), "a tool call is never considered empty")
}

func TestMessage_AllBlocksEmpty(t *testing.T) {
	require.True(t, NewUserMessage("1", NewTextBlock(""), NewTextBlock("")).AllBlocksEmpty())
	require.False(t, NewUserMessage("1", NewTextBlock(""), NewTextBlock("hi")).AllBlocksEmpty())
	require.True(t, NewUserMessage("1").AllBlocksEmpty(), "zero blocks is vacuously all-empty")
}

func TestMessage_ToolCallBlocks(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Content: []ContentBlock{
			NewTextBlock("thinking out loud"),
			NewToolCallBlock("call-1", "search", nil, ""),
			NewToolCallBlock("call-2", "fetch", nil, ""),
		},
	}
	calls := msg.ToolCallBlocks()
	require.Len(t, calls, 2)
	require.Equal(t, "search", calls[0].ToolName)
	require.Equal(t, "fetch", calls[1].ToolName)
}

func TestNewToolResultMessage_EmptyContentBecomesOneEmptyTextBlock(t *testing.T) {
	msg := NewToolResultMessage("id", "call-1", "noop", nil, false, nil)
	require.Len(t, msg.Content, 1)
	require.Equal(t, BlockText, msg.Content[0].Type)
	require.Equal(t, "", msg.Content[0].Text)
}

func TestTokenUsage_RecomputeIsIdempotent(t *testing.T) {
	usage := TokenUsage{InputTokens: 1000, OutputTokens: 500, CacheReadTokens: 200, CacheWriteTokens: 100}
	pricing := ModelPricing{InputPerMTok: 3, OutputPerMTok: 15, CacheReadPerMTok: 0.3, CacheWritePerMTok: 3.75}

	usage.Recompute(pricing)
	first := usage.Cost
	firstTotal := usage.TotalTokens

	usage.Recompute(pricing)
	require.Equal(t, first, usage.Cost)
	require.Equal(t, firstTotal, usage.TotalTokens)
	require.Equal(t, first.InputCost+first.OutputCost+first.CacheReadCost+first.CacheWriteCost, first.Total)
}

func TestTokenUsage_RecomputeSumsAllComponents(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	pricing := ModelPricing{InputPerMTok: 3, OutputPerMTok: 15}
	usage.Recompute(pricing)
	require.Equal(t, 3.0, usage.Cost.InputCost)
	require.Equal(t, 15.0, usage.Cost.OutputCost)
	require.Equal(t, 18.0, usage.Cost.Total)
	require.Equal(t, 2_000_000, usage.TotalTokens)
}
