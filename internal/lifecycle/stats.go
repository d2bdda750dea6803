package lifecycle

import (
	"context"
	"time"
)

// Stats is an eventually-consistent snapshot of token lifecycle state
// across all users, in the same spirit as internal/cache.Stats.
type Stats struct {
	ActiveTokens   int
	ExpiringSoon   int
	Expired        int
	Refreshing     int
	TotalRefreshes int64
	MaxUsers       int
}

// Stats computes a snapshot by scanning stored expiry metadata; it does not
// decrypt any token material.
func (m *Manager) Stats(ctx context.Context, maxUsers int) (Stats, error) {
	expiries, err := m.store.ListExpiries(ctx)
	if err != nil {
		return Stats{}, err
	}

	now := time.Now()
	threshold := now.Add(m.refreshThreshold)

	s := Stats{MaxUsers: maxUsers}
	for _, info := range expiries {
		switch {
		case info.ExpiresAt.After(threshold):
			s.ActiveTokens++
		case info.ExpiresAt.After(now):
			s.ExpiringSoon++
		default:
			s.Expired++
		}
	}

	m.mu.Lock()
	s.Refreshing = len(m.refreshing)
	s.TotalRefreshes = m.totalRefreshes
	m.mu.Unlock()

	return s, nil
}
