// Package agentmodel defines the tagged message, content-block and usage
// types shared by the agent loop, the provider adapters and the session
// event log.
package agentmodel

import (
	"encoding/json"
	"time"
)

// Role identifies which side of the conversation a message belongs to.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// StopReason is the terminal reason an assistant message stopped streaming.
type StopReason string

const (
	StopReasonNone    StopReason = ""
	StopReasonStop    StopReason = "stop"
	StopReasonLength  StopReason = "length"
	StopReasonToolUse StopReason = "toolUse"
	StopReasonError   StopReason = "error"
	StopReasonAborted StopReason = "aborted"
)

// BlockType tags the variant of a ContentBlock.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockThinking BlockType = "thinking"
	BlockImage    BlockType = "image"
	BlockToolCall BlockType = "tool_call"
)

// ContentBlock is a tagged union over the four block variants the core
// understands. Exactly the fields relevant to Type are populated; the
// others are zero. Construct with the New* helpers below rather than
// setting Type by hand.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// Text / Thinking
	Text      string `json:"text,omitempty"`
	Signature string `json:"signature,omitempty"`

	// Image
	ImageData string `json:"image_data,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`

	// ToolCall
	ToolCallID      string          `json:"tool_call_id,omitempty"`
	ToolName        string          `json:"tool_name,omitempty"`
	ToolArgs        json.RawMessage `json:"tool_args,omitempty"`
	ThoughtSignature string         `json:"thought_signature,omitempty"`
}

// NewTextBlock builds a Text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// NewThinkingBlock builds a Thinking content block.
func NewThinkingBlock(thinking, signature string) ContentBlock {
	return ContentBlock{Type: BlockThinking, Text: thinking, Signature: signature}
}

// NewImageBlock builds an Image content block.
func NewImageBlock(base64Data, mimeType string) ContentBlock {
	return ContentBlock{Type: BlockImage, ImageData: base64Data, MimeType: mimeType}
}

// NewToolCallBlock builds a ToolCall content block.
func NewToolCallBlock(id, name string, args json.RawMessage, thoughtSig string) ContentBlock {
	return ContentBlock{
		Type:             BlockToolCall,
		ToolCallID:       id,
		ToolName:         name,
		ToolArgs:         args,
		ThoughtSignature: thoughtSig,
	}
}

// IsEmpty reports whether the block carries no observable content. Used to
// drop empty text blocks in the pre-flight transform (spec §4.2) and by
// AllBlocksEmpty to decide whether a message is all-empty (spec §8).
func (b ContentBlock) IsEmpty() bool {
	switch b.Type {
	case BlockText, BlockThinking:
		return b.Text == ""
	case BlockImage:
		return b.ImageData == ""
	case BlockToolCall:
		return false
	default:
		return true
	}
}

// TokenUsage is the per-message usage/cost record. The provider adapters
// call Recompute once, when the stream ends, with a zero ModelPricing, so
// the Cost of a streamed assistant message is always zero; Cost is only
// non-zero when a caller calls Recompute with real pricing. The four
// components and their sum are kept consistent by Recompute (spec §3, §8).
type TokenUsage struct {
	InputTokens     int     `json:"input_tokens"`
	OutputTokens    int     `json:"output_tokens"`
	CacheReadTokens int     `json:"cache_read_tokens"`
	CacheWriteTokens int    `json:"cache_write_tokens"`
	TotalTokens     int     `json:"total_tokens"`
	Cost            Cost    `json:"cost"`
}

// Cost holds the four cost components and their sum, all in USD.
type Cost struct {
	InputCost      float64 `json:"input_cost"`
	OutputCost     float64 `json:"output_cost"`
	CacheReadCost  float64 `json:"cache_read_cost"`
	CacheWriteCost float64 `json:"cache_write_cost"`
	Total          float64 `json:"total"`
}

// ModelPricing is per-million-token pricing that Recompute uses to compute
// Cost from a TokenUsage.
type ModelPricing struct {
	InputPerMTok      float64
	OutputPerMTok     float64
	CacheReadPerMTok  float64
	CacheWritePerMTok float64
}

// Recompute fills in Cost from token counts and pricing. It is pure and
// idempotent: calling it twice on the same usage and pricing yields the
// same result.
func (u *TokenUsage) Recompute(pricing ModelPricing) {
	const perToken = 1.0 / 1_000_000
	u.Cost = Cost{
		InputCost:      float64(u.InputTokens) * pricing.InputPerMTok * perToken,
		OutputCost:     float64(u.OutputTokens) * pricing.OutputPerMTok * perToken,
		CacheReadCost:  float64(u.CacheReadTokens) * pricing.CacheReadPerMTok * perToken,
		CacheWriteCost: float64(u.CacheWriteTokens) * pricing.CacheWritePerMTok * perToken,
	}
	u.Cost.Total = u.Cost.InputCost + u.Cost.OutputCost + u.Cost.CacheReadCost + u.Cost.CacheWriteCost
	u.TotalTokens = u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
}

// Message is a tagged variant over the three roles the core understands.
// Only the fields relevant to Role are populated.
type Message struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`

	// User / Assistant
	Content []ContentBlock `json:"content,omitempty"`

	// Assistant-only
	Model        string     `json:"model,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	APIFlavor    string     `json:"api_flavor,omitempty"`
	Usage        TokenUsage `json:"usage,omitempty"`
	StopReason   StopReason `json:"stop_reason,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	// ToolResult-only
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewUserMessage builds a User message from one or more content blocks.
func NewUserMessage(id string, blocks ...ContentBlock) Message {
	return Message{ID: id, Role: RoleUser, Content: blocks, CreatedAt: time.Now()}
}

// NewUserTextMessage builds a single-text-block User message.
func NewUserTextMessage(id, text string) Message {
	return NewUserMessage(id, NewTextBlock(text))
}

// NewToolResultMessage builds a ToolResult message referencing the
// triggering tool-call id and name.
func NewToolResultMessage(id, toolCallID, toolName string, content []ContentBlock, isError bool, details json.RawMessage) Message {
	if len(content) == 0 {
		// spec §8: a tool result with no content produces a single empty
		// text block, never zero blocks.
		content = []ContentBlock{NewTextBlock("")}
	}
	return Message{
		ID:         id,
		Role:       RoleToolResult,
		Content:    content,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		IsError:    isError,
		Details:    details,
		CreatedAt:  time.Now(),
	}
}

// ToolCallBlocks returns the ToolCall blocks of an assistant message, in
// content order.
func (m Message) ToolCallBlocks() []ContentBlock {
	var out []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolCall {
			out = append(out, b)
		}
	}
	return out
}

// AllBlocksEmpty reports whether every content block is empty. Loop.Prompt
// uses it to reject an empty user message; the loop does not consult it
// for assistant messages, which are committed even when all-empty.
func (m Message) AllBlocksEmpty() bool {
	for _, b := range m.Content {
		if !b.IsEmpty() {
			return false
		}
	}
	return true
}
