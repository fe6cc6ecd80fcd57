// Package sessionlog implements the Session Event-Log Store (C5): an
// append-only log of AgentEvents keyed by session id, from which a
// session's message history can be reconstructed by replay (spec §4.5).
package sessionlog

import (
	"context"
	"regexp"
	"strings"

	"github.com/fankaidev/agentrt/internal/agent"
	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// Store is the append-only event log interface. Implementations must
// preserve append order within a session: Replay returns events in the
// order they were appended (spec §4.5 "events are appended in the order
// the loop emits them, and replay is order-preserving").
type Store interface {
	// Append adds events to the session's log, creating the session if
	// this is its first event.
	Append(ctx context.Context, sessionID string, events ...agent.AgentEvent) error

	// Replay returns every event recorded for sessionID, oldest first.
	Replay(ctx context.Context, sessionID string) ([]agent.AgentEvent, error)

	// Reconstruct rebuilds the committed message history for sessionID by
	// replaying its event log (spec §4.5 "a session can be resumed by
	// reconstructing its message list from the log"). Only terminal
	// message_end events and tool-result messages contribute; in-flight
	// message_update deltas are not replayed since they are subsumed by
	// the message_end they lead to.
	Reconstruct(ctx context.Context, sessionID string) ([]agentmodel.Message, error)

	// Close releases any held resources (connections, file handles).
	Close() error
}

// Reconstruct is the backend-independent replay logic shared by every
// Store implementation: it folds a slice of events into a message list.
// Backends call this after fetching their raw rows so the append-order
// semantics live in one place.
func Reconstruct(events []agent.AgentEvent) []agentmodel.Message {
	var messages []agentmodel.Message
	for _, ev := range events {
		switch {
		case ev.Type == agent.EventMessageEnd && ev.Message != nil:
			messages = append(messages, ev.Message.Partial)
		case ev.Type == agent.EventToolExecutionEnd && ev.ToolExecution != nil && ev.ToolExecution.Result != nil:
			messages = append(messages, *ev.ToolExecution.Result)
		}
	}
	return messages
}

// builtinSecretPatterns are redaction rules applied regardless of policy
// configuration when SanitizeSecrets is on, grounded on the teacher's
// ToolResultGuard secret-detection list.
var builtinSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w-]{20,}['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[\w\-.]+`),
	regexp.MustCompile(`(?i)(aws|amazon).*?(key|secret|token)\s*[:=]\s*['"]?[\w/+=]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

// ResultGuard redacts and truncates a tool-result message's text blocks
// before it reaches Append, so secrets and oversized payloads never land
// in the durable log (supplemented feature, grounded on the teacher's
// ToolResultGuard; adapted here to operate on agentmodel.ContentBlock
// text rather than a flat string field).
type ResultGuard struct {
	Enabled         bool
	MaxChars        int
	Denylist        []string // tool names to fully redact
	RedactPatterns  []string // extra regexps, applied after the builtins
	RedactionText   string
	TruncateSuffix  string
	SanitizeSecrets bool
}

func (g ResultGuard) active() bool {
	return g.Enabled || g.MaxChars > 0 || len(g.Denylist) > 0 || len(g.RedactPatterns) > 0 || g.SanitizeSecrets
}

// Apply returns a redacted copy of msg. msg must be a tool-result
// message (agentmodel.RoleToolResult); other roles pass through
// unchanged.
func (g ResultGuard) Apply(msg agentmodel.Message) agentmodel.Message {
	if !g.active() || msg.Role != agentmodel.RoleToolResult {
		return msg
	}

	redaction := strings.TrimSpace(g.RedactionText)
	if redaction == "" {
		redaction = "[REDACTED]"
	}
	suffix := strings.TrimSpace(g.TruncateSuffix)
	if suffix == "" {
		suffix = "...[truncated]"
	}

	if matchesName(g.Denylist, msg.ToolName) {
		msg.Content = []agentmodel.ContentBlock{agentmodel.NewTextBlock(redaction)}
		return msg
	}

	blocks := make([]agentmodel.ContentBlock, len(msg.Content))
	for i, b := range msg.Content {
		if b.Type != agentmodel.BlockText {
			blocks[i] = b
			continue
		}
		text := b.Text
		if g.SanitizeSecrets {
			for _, re := range builtinSecretPatterns {
				text = re.ReplaceAllString(text, redaction)
			}
		}
		for _, pattern := range g.RedactPatterns {
			pattern = strings.TrimSpace(pattern)
			if pattern == "" {
				continue
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				continue
			}
			text = re.ReplaceAllString(text, redaction)
		}
		if g.MaxChars > 0 && len(text) > g.MaxChars {
			text = text[:g.MaxChars] + suffix
		}
		blocks[i] = agentmodel.NewTextBlock(text)
	}
	msg.Content = blocks
	return msg
}

func matchesName(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == name || p == "*" {
			return true
		}
	}
	return false
}
