package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// ElevatedMode controls how much latitude a run has to bypass approval
// (supplemented feature, SPEC_FULL.md §4 "tool approval/elevation").
type ElevatedMode string

const (
	ElevatedOff  ElevatedMode = "off"  // approval policy applies normally
	ElevatedAsk  ElevatedMode = "ask"  // RequireApproval tools run without asking; the denylist still applies
	ElevatedFull ElevatedMode = "full" // every tool call is auto-allowed
)

// ParseElevatedMode parses the string form used in configuration, falling
// back to ElevatedOff for anything unrecognized.
func ParseElevatedMode(s string) ElevatedMode {
	switch ElevatedMode(strings.ToLower(strings.TrimSpace(s))) {
	case ElevatedAsk:
		return ElevatedAsk
	case ElevatedFull:
		return ElevatedFull
	default:
		return ElevatedOff
	}
}

// ApprovalDecision is the result of checking a tool call against a policy.
type ApprovalDecision string

const (
	ApprovalAllowed ApprovalDecision = "allowed"
	ApprovalDenied  ApprovalDecision = "denied"
	ApprovalPending ApprovalDecision = "pending"
)

// ApprovalRequest is a pending authorization request for one tool call.
type ApprovalRequest struct {
	ID         string           `json:"id"`
	ToolCallID string           `json:"tool_call_id"`
	ToolName   string           `json:"tool_name"`
	Args       []byte           `json:"args,omitempty"`
	RunID      string           `json:"run_id,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at,omitempty"`
	Decision   ApprovalDecision `json:"decision"`
	DecidedAt  time.Time        `json:"decided_at,omitempty"`
	DecidedBy  string           `json:"decided_by,omitempty"`
}

// ApprovalPolicy configures which tools run unattended, which are
// forbidden outright, and which require an explicit decision.
type ApprovalPolicy struct {
	Allowlist       []string         `yaml:"allowlist" json:"allowlist"`
	Denylist        []string         `yaml:"denylist" json:"denylist"`
	RequireApproval []string         `yaml:"require_approval" json:"require_approval"`
	DefaultDecision ApprovalDecision `yaml:"default_decision" json:"default_decision"`
	RequestTTL      time.Duration    `yaml:"request_ttl" json:"request_ttl"`
}

// DefaultApprovalPolicy allows everything by default; callers opt specific
// tools into RequireApproval or Denylist.
func DefaultApprovalPolicy() *ApprovalPolicy {
	return &ApprovalPolicy{
		DefaultDecision: ApprovalAllowed,
		RequestTTL:      5 * time.Minute,
	}
}

// ApprovalStore persists pending approval requests across process restarts.
// A nil store is valid: CreateApprovalRequest then just returns the
// in-memory request without persisting it.
type ApprovalStore interface {
	Create(ctx context.Context, req *ApprovalRequest) error
	Get(ctx context.Context, id string) (*ApprovalRequest, error)
	Update(ctx context.Context, req *ApprovalRequest) error
	ListPending(ctx context.Context, runID string) ([]*ApprovalRequest, error)
}

// ApprovalChecker evaluates tool calls against a policy, honoring
// ElevatedMode overrides (spec-supplemented: spec.md itself has no
// approval concept; this sits in front of the tool executor and never
// changes C3's core contract).
type ApprovalChecker struct {
	mu     sync.RWMutex
	policy *ApprovalPolicy
	store  ApprovalStore
}

// NewApprovalChecker creates a checker with policy (DefaultApprovalPolicy
// if nil).
func NewApprovalChecker(policy *ApprovalPolicy) *ApprovalChecker {
	if policy == nil {
		policy = DefaultApprovalPolicy()
	}
	return &ApprovalChecker{policy: policy}
}

// SetStore attaches a persistence layer for pending requests.
func (c *ApprovalChecker) SetStore(store ApprovalStore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = store
}

// SetPolicy replaces the active policy.
func (c *ApprovalChecker) SetPolicy(policy *ApprovalPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policy = policy
}

// Check evaluates a tool-call block under mode and the active policy.
func (c *ApprovalChecker) Check(call agentmodel.ContentBlock, mode ElevatedMode) (ApprovalDecision, string) {
	c.mu.RLock()
	policy := c.policy
	c.mu.RUnlock()

	if mode == ElevatedFull {
		return ApprovalAllowed, "elevated: full"
	}

	name := call.ToolName
	if matchesAny(policy.Denylist, name) {
		return ApprovalDenied, "tool in denylist"
	}
	if matchesAny(policy.Allowlist, name) {
		return ApprovalAllowed, "tool in allowlist"
	}
	if matchesAny(policy.RequireApproval, name) {
		if mode == ElevatedAsk {
			return ApprovalAllowed, "elevated: ask bypasses require_approval"
		}
		return ApprovalPending, "tool requires approval"
	}
	if policy.DefaultDecision == "" {
		return ApprovalAllowed, "default"
	}
	return policy.DefaultDecision, "default"
}

// CreateApprovalRequest builds and, if a store is attached, persists a
// pending request for call.
func (c *ApprovalChecker) CreateApprovalRequest(ctx context.Context, runID string, call agentmodel.ContentBlock, reason string) (*ApprovalRequest, error) {
	c.mu.RLock()
	policy, store := c.policy, c.store
	c.mu.RUnlock()

	ttl := policy.RequestTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	req := &ApprovalRequest{
		ID:         call.ToolCallID + "-approval",
		ToolCallID: call.ToolCallID,
		ToolName:   call.ToolName,
		Args:       []byte(call.ToolArgs),
		RunID:      runID,
		Reason:     reason,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(ttl),
		Decision:   ApprovalPending,
	}

	if store != nil {
		if err := store.Create(ctx, req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// Decide resolves a pending request by id.
func (c *ApprovalChecker) Decide(ctx context.Context, requestID, decidedBy string, allow bool) error {
	c.mu.RLock()
	store := c.store
	c.mu.RUnlock()
	if store == nil {
		return nil
	}
	req, err := store.Get(ctx, requestID)
	if err != nil || req == nil {
		return err
	}
	if allow {
		req.Decision = ApprovalAllowed
	} else {
		req.Decision = ApprovalDenied
	}
	req.DecidedAt = time.Now()
	req.DecidedBy = decidedBy
	return store.Update(ctx, req)
}

// PendingRequests lists the still-open requests for a run.
func (c *ApprovalChecker) PendingRequests(ctx context.Context, runID string) ([]*ApprovalRequest, error) {
	c.mu.RLock()
	store := c.store
	c.mu.RUnlock()
	if store == nil {
		return nil, nil
	}
	return store.ListPending(ctx, runID)
}

// matchesAny reports whether name matches any pattern: exact, "*",
// "prefix*", or "*suffix".
func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if p == "*" || p == name {
			return true
		}
		if strings.HasSuffix(p, "*") && strings.HasPrefix(name, strings.TrimSuffix(p, "*")) {
			return true
		}
		if strings.HasPrefix(p, "*") && strings.HasSuffix(name, strings.TrimPrefix(p, "*")) {
			return true
		}
	}
	return false
}

// MemoryApprovalStore is a thread-safe in-memory ApprovalStore, suitable
// for tests and single-process deployments.
type MemoryApprovalStore struct {
	mu       sync.RWMutex
	requests map[string]*ApprovalRequest
}

// NewMemoryApprovalStore creates an empty store.
func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{requests: make(map[string]*ApprovalRequest)}
}

func (s *MemoryApprovalStore) Create(ctx context.Context, req *ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryApprovalStore) Get(ctx context.Context, id string) (*ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests[id], nil
}

func (s *MemoryApprovalStore) Update(ctx context.Context, req *ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryApprovalStore) ListPending(ctx context.Context, runID string) ([]*ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var out []*ApprovalRequest
	for _, req := range s.requests {
		if req.Decision != ApprovalPending {
			continue
		}
		if !req.ExpiresAt.IsZero() && req.ExpiresAt.Before(now) {
			continue
		}
		if runID != "" && req.RunID != runID {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}
