package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// AnthropicAdapter implements Adapter against the Anthropic Messages
// streaming API.
type AnthropicAdapter struct {
	baseURL string
}

// NewAnthropicAdapter builds an adapter. baseURL overrides the SDK
// default when non-empty (used by ResolveCacheRetention to detect a
// non-canonical endpoint).
func NewAnthropicAdapter(baseURL string) *AnthropicAdapter {
	return &AnthropicAdapter{baseURL: baseURL}
}

func (a *AnthropicAdapter) client(apiKey string) sdkanthropic.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if a.baseURL != "" {
		opts = append(opts, option.WithBaseURL(a.baseURL))
	}
	return sdkanthropic.NewClient(opts...)
}

func (a *AnthropicAdapter) StreamTurn(ctx context.Context, req Request) (<-chan Event, error) {
	messages := Transform(req.Messages, req.ModelCaps, ResolveCacheRetention(req.CacheRetention, a.baseURL))

	params, err := buildAnthropicParams(req, messages)
	if err != nil {
		return nil, err
	}

	client := a.client(req.APIKey)
	stream := client.Messages.NewStreaming(ctx, params)

	out := make(chan Event, 8)
	go a.processStream(ctx, stream, out)
	return out, nil
}

func buildAnthropicParams(req Request, messages []agentmodel.Message) (sdkanthropic.MessageNewParams, error) {
	converted, err := convertMessagesToAnthropic(messages)
	if err != nil {
		return sdkanthropic.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = req.ModelCaps.MaxTokens
	}
	_, budgetTokens, maxTokens := ResolveThinking(req.ThinkingLevel, req.ModelCaps, req.ThinkingBudgets, maxTokens)

	params := sdkanthropic.MessageNewParams{
		Model:     sdkanthropic.Model(req.Model),
		Messages:  converted,
		MaxTokens: int64(maxTokens),
	}
	if req.SystemPrompt != "" {
		params.System = []sdkanthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertToolsToAnthropic(req.Tools)
		if err != nil {
			return sdkanthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	if budgetTokens > 0 {
		params.Thinking = sdkanthropic.ThinkingConfigParamOfEnabled(int64(budgetTokens))
	}
	return params, nil
}

func convertMessagesToAnthropic(messages []agentmodel.Message) ([]sdkanthropic.MessageParam, error) {
	result := make([]sdkanthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var blocks []sdkanthropic.ContentBlockParamUnion
		for _, b := range msg.Content {
			switch b.Type {
			case agentmodel.BlockText:
				blocks = append(blocks, sdkanthropic.NewTextBlock(b.Text))
			case agentmodel.BlockToolCall:
				var input any
				if len(b.ToolArgs) > 0 {
					if err := json.Unmarshal(b.ToolArgs, &input); err != nil {
						return nil, fmt.Errorf("anthropic: decoding tool args for %q: %w", b.ToolName, err)
					}
				}
				blocks = append(blocks, sdkanthropic.NewToolUseBlock(b.ToolCallID, input, b.ToolName))
			}
		}
		switch msg.Role {
		case agentmodel.RoleAssistant:
			result = append(result, sdkanthropic.NewAssistantMessage(blocks...))
		case agentmodel.RoleUser:
			result = append(result, sdkanthropic.NewUserMessage(blocks...))
		case agentmodel.RoleToolResult:
			text := toolResultText(msg.Content)
			result = append(result, sdkanthropic.NewUserMessage(
				sdkanthropic.NewToolResultBlock(msg.ToolCallID, text, msg.IsError),
			))
		}
	}
	return result, nil
}

func toolResultText(blocks []agentmodel.ContentBlock) string {
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == agentmodel.BlockText {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

func convertToolsToAnthropic(tools []agentmodel.ToolDescriptor) ([]sdkanthropic.ToolUnionParam, error) {
	result := make([]sdkanthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema sdkanthropic.ToolInputSchemaParam
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("anthropic: decoding schema for %q: %w", t.Name, err)
			}
		}
		toolParam := sdkanthropic.ToolUnionParamOfTool(schema, t.Name)
		toolParam.OfTool.Description = sdkanthropic.String(t.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

// toolBuffer tracks one in-flight tool_use content block's argument JSON
// as input_json_delta fragments arrive, keyed by block index so multiple
// concurrent tool-call blocks stream independently (spec §4.2
// "content-block index numbering").
type toolBuffer struct {
	id, name string
	input    strings.Builder
}

func (a *AnthropicAdapter) processStream(ctx context.Context, stream *ssestream.Stream[sdkanthropic.MessageStreamEventUnion], out chan<- Event) {
	defer close(out)

	partial := agentmodel.Message{Role: agentmodel.RoleAssistant}
	toolBuffers := map[int64]*toolBuffer{}
	blockOpen := map[int64]bool{}

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	send(Event{Kind: EventStart, Partial: partial})

	for stream.Next() {
		event := stream.Current()

		switch ev := event.AsAny().(type) {
		case sdkanthropic.MessageStartEvent:
			// No normalized event: message_start only seeds input-token usage,
			// which is folded into the done event's Partial.Usage instead.
			partial.Usage.InputTokens = int(ev.Message.Usage.InputTokens)

		case sdkanthropic.ContentBlockStartEvent:
			idx := ev.Index
			blockOpen[idx] = true
			switch ev.ContentBlock.Type {
			case "thinking":
				partial.Content = append(partial.Content, agentmodel.NewThinkingBlock("", ""))
				send(Event{Kind: EventThinkingStart, BlockIndex: int(idx), Partial: partial})
			case "tool_use":
				toolBuffers[idx] = &toolBuffer{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
				partial.Content = append(partial.Content, agentmodel.NewToolCallBlock(ev.ContentBlock.ID, ev.ContentBlock.Name, json.RawMessage("{}"), ""))
				send(Event{Kind: EventToolCallStart, BlockIndex: int(idx), Partial: partial})
			default:
				partial.Content = append(partial.Content, agentmodel.NewTextBlock(""))
				send(Event{Kind: EventTextStart, BlockIndex: int(idx), Partial: partial})
			}

		case sdkanthropic.ContentBlockDeltaEvent:
			idx := ev.Index
			switch delta := ev.Delta.AsAny().(type) {
			case sdkanthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				applyTextDelta(&partial, int(idx), delta.Text)
				send(Event{Kind: EventTextDelta, BlockIndex: int(idx), DeltaText: delta.Text, Partial: partial})
			case sdkanthropic.ThinkingDelta:
				if delta.Thinking == "" {
					continue
				}
				applyThinkingDelta(&partial, int(idx), delta.Thinking)
				send(Event{Kind: EventThinkingDelta, BlockIndex: int(idx), DeltaText: delta.Thinking, Partial: partial})
			case sdkanthropic.SignatureDelta:
				applySignatureDelta(&partial, int(idx), delta.Signature)
			case sdkanthropic.InputJSONDelta:
				if delta.PartialJSON == "" {
					continue
				}
				if buf, ok := toolBuffers[idx]; ok {
					buf.input.WriteString(delta.PartialJSON)
					applyToolArgsDelta(&partial, int(idx), ParsePartialJSON(buf.input.String()))
				}
				send(Event{Kind: EventToolCallDelta, BlockIndex: int(idx), DeltaText: delta.PartialJSON, Partial: partial})
			}

		case sdkanthropic.ContentBlockStopEvent:
			idx := ev.Index
			if buf, ok := toolBuffers[idx]; ok {
				applyToolArgsDelta(&partial, int(idx), ParsePartialJSON(buf.input.String()))
				send(Event{Kind: EventToolCallEnd, BlockIndex: int(idx), Partial: partial})
				delete(toolBuffers, idx)
			} else if idx < int64(len(partial.Content)) && partial.Content[idx].Type == agentmodel.BlockThinking {
				send(Event{Kind: EventThinkingEnd, BlockIndex: int(idx), Partial: partial})
			} else {
				send(Event{Kind: EventTextEnd, BlockIndex: int(idx), Partial: partial})
			}
			delete(blockOpen, idx)

		case sdkanthropic.MessageDeltaEvent:
			partial.Usage.OutputTokens = int(ev.Usage.OutputTokens)
			partial.Usage.InputTokens += int(ev.Usage.CacheCreationInputTokens) + int(ev.Usage.CacheReadInputTokens)
			partial.Usage.CacheReadTokens = int(ev.Usage.CacheReadInputTokens)
			partial.Usage.CacheWriteTokens = int(ev.Usage.CacheCreationInputTokens)
			if string(ev.Delta.StopReason) != "" {
				stop, err := MapAnthropicStopReason(string(ev.Delta.StopReason))
				if err != nil {
					send(Event{Kind: EventError, ErrorMessage: err.Error(), Partial: partial})
					return
				}
				partial.StopReason = stop
			}

		case sdkanthropic.MessageStopEvent:
			partial.Usage.Recompute(agentmodel.ModelPricing{})
			send(Event{Kind: EventDone, Partial: partial, StopReason: partial.StopReason})
			return
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			send(Event{Kind: EventError, ErrorMessage: ctx.Err().Error(), StopReason: agentmodel.StopReasonAborted, Partial: partial})
			return
		}
		send(Event{Kind: EventError, ErrorMessage: err.Error(), Partial: partial})
	}
}

func applyTextDelta(msg *agentmodel.Message, idx int, text string) {
	if idx >= len(msg.Content) {
		return
	}
	msg.Content[idx].Text += text
}

func applyThinkingDelta(msg *agentmodel.Message, idx int, text string) {
	if idx >= len(msg.Content) {
		return
	}
	msg.Content[idx].Text += text
}

func applySignatureDelta(msg *agentmodel.Message, idx int, sig string) {
	if idx >= len(msg.Content) {
		return
	}
	msg.Content[idx].Signature += sig
}

func applyToolArgsDelta(msg *agentmodel.Message, idx int, args json.RawMessage) {
	if idx >= len(msg.Content) {
		return
	}
	msg.Content[idx].ToolArgs = args
}
