package provider

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

func TestTransform_MergesConsecutiveSameRoleMessages(t *testing.T) {
	messages := []agentmodel.Message{
		agentmodel.NewUserTextMessage("1", "hello"),
		agentmodel.NewUserTextMessage("2", "world"),
	}
	out := Transform(messages, ModelCapabilities{}, CacheRetentionNone)
	require.Len(t, out, 1)
	require.Len(t, out[0].Content, 2)
	require.Equal(t, "hello", out[0].Content[0].Text)
	require.Equal(t, "world", out[0].Content[1].Text)
}

func TestTransform_NeverMergesAssistantMessages(t *testing.T) {
	messages := []agentmodel.Message{
		{ID: "1", Role: agentmodel.RoleAssistant, Content: []agentmodel.ContentBlock{agentmodel.NewTextBlock("a")}},
		{ID: "2", Role: agentmodel.RoleAssistant, Content: []agentmodel.ContentBlock{agentmodel.NewTextBlock("b")}},
	}
	out := Transform(messages, ModelCapabilities{}, CacheRetentionNone)
	require.Len(t, out, 2, "assistant messages carry independent usage/stop-reason and must not merge")
}

func TestTransform_DropsImagesWhenUnsupportedAndNeverEmitsEmptyContent(t *testing.T) {
	messages := []agentmodel.Message{
		agentmodel.NewUserMessage("1", agentmodel.NewImageBlock("data", "image/png")),
	}
	out := Transform(messages, ModelCapabilities{SupportsImages: false}, CacheRetentionNone)
	require.Len(t, out, 1)
	require.Len(t, out[0].Content, 1, "an all-dropped message still carries one empty text block, never zero blocks")
	require.Equal(t, agentmodel.BlockText, out[0].Content[0].Type)
	require.Equal(t, "", out[0].Content[0].Text)
}

func TestTransform_Idempotent(t *testing.T) {
	messages := []agentmodel.Message{
		agentmodel.NewUserTextMessage("1", "hello"),
		agentmodel.NewUserTextMessage("2", "world"),
	}
	first := Transform(messages, ModelCapabilities{}, CacheRetentionLong)
	second := Transform(first, ModelCapabilities{}, CacheRetentionLong)
	require.Equal(t, first, second)
}

func TestTransform_CacheRetentionMarksOnlyTheTailOnce(t *testing.T) {
	messages := []agentmodel.Message{
		agentmodel.NewUserTextMessage("1", "hello"),
	}
	out := Transform(messages, ModelCapabilities{}, CacheRetentionLong)
	last := out[len(out)-1]
	sig := last.Content[len(last.Content)-1].ThoughtSignature
	require.Contains(t, sig, "cache-control:long")

	out2 := Transform(out, ModelCapabilities{}, CacheRetentionLong)
	last2 := out2[len(out2)-1]
	sig2 := last2.Content[len(last2.Content)-1].ThoughtSignature
	require.Equal(t, sig, sig2, "re-marking an already-marked tail must not stack markers")
}
