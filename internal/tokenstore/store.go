package tokenstore

import (
	"context"
	"time"

	"github.com/claude-oauth-broker/broker/internal/cache"
	"github.com/claude-oauth-broker/broker/internal/crypto"
)

// minCacheTTL is the floor applied to a record's cache TTL so a token that
// is already within its refresh window doesn't get evicted before the
// lifecycle manager has a chance to read and refresh it.
const minCacheTTL = 60 * time.Second

// Store composes the cache and persistent tiers behind a single read-through
// / write-through API keyed by userID.
type Store struct {
	cache *cache.Cache[string, *TokenRecord]
	db    *sqliteDB
	env   *crypto.Envelope
}

// Open opens (or creates) the SQLite-backed persistent tier at path and
// pairs it with an in-memory LRU+TTL cache sized for maxUsers.
func Open(ctx context.Context, path string, env *crypto.Envelope, maxUsers int) (*Store, error) {
	db, err := openSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Store{
		cache: cache.New[string, *TokenRecord](maxUsers, 0),
		db:    db,
		env:   env,
	}, nil
}

// Close releases the persistent tier's database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the record for userID, reading through to the persistent tier
// and decrypting on a cache miss.
func (s *Store) Get(ctx context.Context, userID string) (*TokenRecord, error) {
	return s.cache.GetOrLoad(userID, func() (*TokenRecord, error) {
		r, err := s.db.getRow(ctx, userID)
		if err != nil {
			return nil, err
		}
		rec, err := openRecord(s.env, r)
		if err != nil {
			return nil, err
		}
		return rec, nil
	})
}

// Upsert seals and persists rec, then refreshes the cache entry with a TTL
// tied to the record's remaining lifetime.
func (s *Store) Upsert(ctx context.Context, rec *TokenRecord) error {
	r, err := sealRecord(s.env, rec)
	if err != nil {
		return err
	}
	if err := s.db.upsertRow(ctx, r); err != nil {
		return err
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl < minCacheTTL {
		ttl = minCacheTTL
	}
	s.cache.SetWithTTL(userID(rec), rec.Clone(), ttl)
	return nil
}

// Delete removes userID's record from both tiers.
func (s *Store) Delete(ctx context.Context, userID string) error {
	s.cache.Invalidate(userID)
	if err := s.db.deleteRow(ctx, userID); err != nil {
		return err
	}
	return nil
}

// Touch updates last_used_at without altering token material, used by the
// lifecycle manager on every successful Get so Cleanup sees recent activity.
func (s *Store) Touch(ctx context.Context, userID string) error {
	r, err := s.db.getRow(ctx, userID)
	if err != nil {
		return err
	}
	r.LastUsedAt = formatTime(time.Now())
	return s.db.upsertRow(ctx, r)
}

func userID(rec *TokenRecord) string { return rec.UserID }

// UserExpiry is a lightweight, non-decrypted projection of a stored record
// used by the lifecycle sweeper to decide who needs a refresh.
type UserExpiry struct {
	UserID          string
	ExpiresAt       time.Time
	HasRefreshToken bool
}

// ListExpiries returns expiry metadata for every stored user without
// decrypting token material.
func (s *Store) ListExpiries(ctx context.Context) ([]UserExpiry, error) {
	infos, err := s.db.listExpiries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]UserExpiry, len(infos))
	for i, info := range infos {
		out[i] = UserExpiry{UserID: info.UserID, ExpiresAt: info.ExpiresAt, HasRefreshToken: info.HasRefreshToken}
	}
	return out, nil
}
