package sessionlog

import (
	"context"
	"sync"

	"github.com/fankaidev/agentrt/internal/agent"
	"github.com/fankaidev/agentrt/pkg/agentmodel"
)

// MemoryStore is an in-process Store, for tests and single-run examples
// (spec §4.5 names persistence as optional; callers that don't need
// durability can use this instead of wiring a database).
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]agent.AgentEvent
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]agent.AgentEvent)}
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, events ...agent.AgentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[sessionID] = append(s.events[sessionID], events...)
	return nil
}

func (s *MemoryStore) Replay(ctx context.Context, sessionID string) ([]agent.AgentEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agent.AgentEvent, len(s.events[sessionID]))
	copy(out, s.events[sessionID])
	return out, nil
}

func (s *MemoryStore) Reconstruct(ctx context.Context, sessionID string) ([]agentmodel.Message, error) {
	events, _ := s.Replay(ctx, sessionID)
	return Reconstruct(events), nil
}

func (s *MemoryStore) Close() error { return nil }
