package tokenstore

import (
	"context"
	"time"
)

// Cleanup removes rows whose last_used_at predates now-maxAge and drops any
// matching cache entries, reporting how many rows were removed.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	n, err := s.db.deleteStaleRows(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.cache.Flush()
	}
	return n, nil
}
