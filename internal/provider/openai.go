package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// OpenAIAdapter implements Adapter against the Chat Completions streaming
// API.
type OpenAIAdapter struct {
	baseURL    string
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIAdapter builds an adapter. baseURL overrides the SDK default
// when non-empty.
func NewOpenAIAdapter(baseURL string) *OpenAIAdapter {
	return &OpenAIAdapter{baseURL: baseURL, maxRetries: 3, retryDelay: time.Second}
}

func (a *OpenAIAdapter) client(apiKey string) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if a.baseURL != "" {
		config.BaseURL = a.baseURL
	}
	return openai.NewClientWithConfig(config)
}

func (a *OpenAIAdapter) StreamTurn(ctx context.Context, req Request) (<-chan Event, error) {
	messages := Transform(req.Messages, req.ModelCaps, ResolveCacheRetention(req.CacheRetention, a.baseURL))

	chatReq, err := buildOpenAIRequest(req, messages)
	if err != nil {
		return nil, err
	}

	client := a.client(req.APIKey)

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryableOpenAIError(lastErr) {
			return nil, fmt.Errorf("openai: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
	}

	out := make(chan Event, 8)
	go a.processStream(ctx, stream, out)
	return out, nil
}

func buildOpenAIRequest(req Request, messages []agentmodel.Message) (openai.ChatCompletionRequest, error) {
	converted, err := convertMessagesToOpenAI(messages, req.SystemPrompt)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = req.ModelCaps.MaxTokens
	}
	effort, _, maxTokens := ResolveThinking(req.ThinkingLevel, req.ModelCaps, req.ThinkingBudgets, maxTokens)

	chatReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  converted,
		Stream:    true,
		MaxTokens: maxTokens,
	}
	if effort != "" {
		chatReq.ReasoningEffort = effort
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToolsToOpenAI(req.Tools)
	}
	return chatReq, nil
}

func convertMessagesToOpenAI(messages []agentmodel.Message, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		switch msg.Role {
		case agentmodel.RoleUser:
			result = append(result, openai.ChatCompletionMessage{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: convertBlocksToParts(msg.Content),
			})

		case agentmodel.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: textOf(msg.Content)}
			for _, tc := range msg.ToolCallBlocks() {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   tc.ToolCallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.ToolName,
						Arguments: string(tc.ToolArgs),
					},
				})
			}
			result = append(result, oaiMsg)

		case agentmodel.RoleToolResult:
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    textOf(msg.Content),
				ToolCallID: msg.ToolCallID,
			})
		}
	}
	return result, nil
}

func textOf(blocks []agentmodel.ContentBlock) string {
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == agentmodel.BlockText {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

func convertBlocksToParts(blocks []agentmodel.ContentBlock) []openai.ChatMessagePart {
	parts := make([]openai.ChatMessagePart, 0, len(blocks))
	for _, blk := range blocks {
		switch blk.Type {
		case agentmodel.BlockText:
			if blk.Text != "" {
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: blk.Text})
			}
		case agentmodel.BlockImage:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + blk.MimeType + ";base64," + blk.ImageData,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	return parts
}

func convertToolsToOpenAI(tools []agentmodel.ToolDescriptor) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		schemaMap := map[string]any{"type": "object", "properties": map[string]any{}}
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &schemaMap)
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}

// openAIToolCall tracks one in-flight tool call's accumulated argument
// JSON, keyed by its delta index (spec §4.2 block-index numbering).
type openAIToolCall struct {
	id, name string
	args     strings.Builder
	started  bool
}

func (a *OpenAIAdapter) processStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- Event) {
	defer close(out)
	defer stream.Close()

	partial := agentmodel.Message{Role: agentmodel.RoleAssistant}
	textStarted := false
	toolCalls := map[int]*openAIToolCall{}
	toolOrder := map[int]int{} // openai delta index -> content block index

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	send(Event{Kind: EventStart, Partial: partial})

	flushToolCalls := func() {
		for idx, tc := range toolCalls {
			if tc.id == "" || tc.name == "" {
				continue
			}
			blockIdx, ok := toolOrder[idx]
			if !ok {
				blockIdx = len(partial.Content)
				toolOrder[idx] = blockIdx
				partial.Content = append(partial.Content, agentmodel.NewToolCallBlock(tc.id, tc.name, json.RawMessage("{}"), ""))
				send(Event{Kind: EventToolCallStart, BlockIndex: blockIdx, Partial: partial})
			}
			args := ParsePartialJSON(tc.args.String())
			partial.Content[blockIdx].ToolArgs = args
			send(Event{Kind: EventToolCallDelta, BlockIndex: blockIdx, Partial: partial})
			send(Event{Kind: EventToolCallEnd, BlockIndex: blockIdx, Partial: partial})
		}
		toolCalls = map[int]*openAIToolCall{}
	}

	for {
		select {
		case <-ctx.Done():
			send(Event{Kind: EventError, ErrorMessage: ctx.Err().Error(), StopReason: agentmodel.StopReasonAborted, Partial: partial})
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flushToolCalls()
				if textStarted {
					send(Event{Kind: EventTextEnd, BlockIndex: 0, Partial: partial})
				}
				partial.Usage.Recompute(agentmodel.ModelPricing{})
				send(Event{Kind: EventDone, Partial: partial, StopReason: partial.StopReason})
				return
			}
			send(Event{Kind: EventError, ErrorMessage: err.Error(), Partial: partial})
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			if !textStarted {
				textStarted = true
				partial.Content = append(partial.Content, agentmodel.NewTextBlock(""))
				send(Event{Kind: EventTextStart, BlockIndex: 0, Partial: partial})
			}
			partial.Content[0].Text += delta.Content
			send(Event{Kind: EventTextDelta, BlockIndex: 0, DeltaText: delta.Content, Partial: partial})
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &openAIToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].id = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].args.WriteString(tc.Function.Arguments)
			}
		}

		if reason := string(response.Choices[0].FinishReason); reason != "" {
			stop, err := MapOpenAIFinishReason(reason)
			if err != nil {
				send(Event{Kind: EventError, ErrorMessage: err.Error(), Partial: partial})
				return
			}
			partial.StopReason = stop
		}
	}
}

func isRetryableOpenAIError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, substr := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
