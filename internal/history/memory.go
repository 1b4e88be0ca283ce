package history

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a volatile Store keeping transcripts in a process-local
// map. Safe for concurrent use; suited for tests and single-node runs
// without a database.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[string][]Turn)}
}

// Append records one turn at the end of the session's transcript.
func (s *MemoryStore) Append(_ context.Context, sessionID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[sessionID] = append(s.turns[sessionID], Turn{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
	if len(s.turns[sessionID]) > maxSessionTurns {
		s.turns[sessionID] = s.turns[sessionID][len(s.turns[sessionID])-maxSessionTurns:]
	}
	return nil
}

// Recent returns up to limit most recent turns, oldest first. Returned
// slices are copies; callers cannot mutate stored state.
func (s *MemoryStore) Recent(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.turns[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]Turn, len(all))
	copy(out, all)
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
