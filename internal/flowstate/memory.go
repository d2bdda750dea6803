package flowstate

import (
	"context"
	"sync"
	"time"
)

// MemoryStore mirrors the teacher's StateStore: a map guarded by a mutex,
// with lazy expiry cleanup folded into Put. The default store for a
// single-process broker.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*FlowState
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*FlowState)}
}

// Put persists a FlowState with a 10-minute TTL from now.
func (s *MemoryStore) Put(_ context.Context, state, verifier, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanupLocked(time.Now())

	now := time.Now()
	s.entries[state] = &FlowState{
		State:     state,
		Verifier:  verifier,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(flowTTL),
	}
	return nil
}

// Take atomically reads and deletes the entry for state. A given state is
// never returned twice: the delete happens under the same lock as the read,
// whether the lookup succeeds, misses, or finds an expired entry.
func (s *MemoryStore) Take(_ context.Context, state string) (*FlowState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[state]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.entries, state)

	if entry.expired(time.Now()) {
		return nil, ErrExpired
	}
	return entry, nil
}

// Sweep removes every expired entry and reports how many were dropped.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked(time.Now()), nil
}

// cleanupLocked removes expired entries. Caller must hold mu.
func (s *MemoryStore) cleanupLocked(now time.Time) int {
	removed := 0
	for k, v := range s.entries {
		if v.expired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}
