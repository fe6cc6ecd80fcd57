package provider

import (
	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// Transform runs the pure, idempotent pre-flight context transform (spec
// §4.2, §4.4) that every StreamTurn call applies to the outbound message
// list before it is handed to the wire codec: merge consecutive
// same-role messages, drop empty blocks, strip images the model can't
// accept, normalize tool-call ids, sanitize surrogate halves, and mark
// the cache-control boundary per retention policy. Calling Transform
// again on its own output returns an identical result.
func Transform(messages []agentmodel.Message, caps ModelCapabilities, retention CacheRetention) []agentmodel.Message {
	merged := mergeSameRole(messages)
	cleaned := make([]agentmodel.Message, 0, len(merged))
	for _, msg := range merged {
		msg.Content = cleanBlocks(msg.Content, caps)
		if len(msg.Content) == 0 {
			// spec §8: never emit a message with zero content blocks.
			msg.Content = []agentmodel.ContentBlock{agentmodel.NewTextBlock("")}
		}
		cleaned = append(cleaned, msg)
	}
	applyCacheRetention(cleaned, retention)
	return cleaned
}

// mergeSameRole folds consecutive messages of the same role into one,
// concatenating their content blocks in order. Assistant messages are
// never merged with each other: each one carries its own Usage/StopReason
// and merging would silently discard one side's usage record.
func mergeSameRole(messages []agentmodel.Message) []agentmodel.Message {
	var out []agentmodel.Message
	for _, msg := range messages {
		if n := len(out); n > 0 && out[n-1].Role == msg.Role && msg.Role != agentmodel.RoleAssistant {
			out[n-1].Content = append(out[n-1].Content, msg.Content...)
			continue
		}
		clone := msg
		clone.Content = append([]agentmodel.ContentBlock(nil), msg.Content...)
		out = append(out, clone)
	}
	return out
}

// cleanBlocks drops empty blocks, strips images the model can't accept,
// normalizes tool-call ids, and sanitizes surrogate halves in text.
func cleanBlocks(blocks []agentmodel.ContentBlock, caps ModelCapabilities) []agentmodel.ContentBlock {
	out := make([]agentmodel.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == agentmodel.BlockImage && !caps.SupportsImages {
			continue
		}
		if b.IsEmpty() {
			continue
		}
		switch b.Type {
		case agentmodel.BlockText, agentmodel.BlockThinking:
			b.Text = SanitizeSurrogates(b.Text)
		case agentmodel.BlockToolCall:
			b.ToolCallID = NormalizeToolCallID(b.ToolCallID)
		}
		out = append(out, b)
	}
	return out
}

// cacheControlSignature is stamped onto the thought signature of the
// last retained block as a marker the transform itself treats as
// idempotent: re-applying retention to an already-marked tail is a
// no-op, it never stacks markers.
const cacheControlSignature = "cache-control:"

func applyCacheRetention(messages []agentmodel.Message, retention CacheRetention) {
	if retention == CacheRetentionNone || len(messages) == 0 {
		return
	}
	last := &messages[len(messages)-1]
	if len(last.Content) == 0 {
		return
	}
	idx := len(last.Content) - 1
	sig := last.Content[idx].ThoughtSignature
	if len(sig) >= len(cacheControlSignature) && sig[:len(cacheControlSignature)] == cacheControlSignature {
		return
	}
	last.Content[idx].ThoughtSignature = cacheControlSignature + string(retention) + " " + sig
}
