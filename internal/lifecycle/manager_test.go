package lifecycle

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claude-oauth-broker/broker/internal/crypto"
	"github.com/claude-oauth-broker/broker/internal/provider"
	"github.com/claude-oauth-broker/broker/internal/tokenstore"
)

type fakeRefresher struct {
	calls      int32
	response   *provider.TokenResponse
	err        error
	callDelay  time.Duration
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*provider.TokenResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.callDelay > 0 {
		time.Sleep(f.callDelay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func newTestManager(t *testing.T, refresher tokenRefresher) *Manager {
	t.Helper()
	env, err := crypto.GenerateEnvelope()
	if err != nil {
		t.Fatalf("GenerateEnvelope: %v", err)
	}
	store, err := tokenstore.Open(context.Background(), filepath.Join(t.TempDir(), "tokens.db"), env, 100)
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewManager(store, refresher, 5*time.Minute)
}

func TestGetServesValidTokenDirectly(t *testing.T) {
	m := newTestManager(t, &fakeRefresher{})
	ctx := context.Background()
	rec := &tokenstore.TokenRecord{UserID: "alice", AccessToken: "at-1", ExpiresAt: time.Now().Add(time.Hour)}
	if err := m.Register(ctx, rec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tok, err := m.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tok != "at-1" {
		t.Fatalf("got %q", tok)
	}
}

func TestGetAbsentUserReturnsErrUnauthenticated(t *testing.T) {
	m := newTestManager(t, &fakeRefresher{})
	if _, err := m.Get(context.Background(), "ghost"); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestGetExpiredTokenBlocksUntilRefreshed(t *testing.T) {
	refresher := &fakeRefresher{response: &provider.TokenResponse{
		AccessToken:  "at-new",
		RefreshToken: "rt-new",
		ExpiresAt:    time.Now().Add(time.Hour),
	}}
	m := newTestManager(t, refresher)
	ctx := context.Background()
	rec := &tokenstore.TokenRecord{
		UserID:       "bob",
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	if err := m.Register(ctx, rec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tok, err := m.Get(ctx, "bob")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tok != "at-new" {
		t.Fatalf("got %q", tok)
	}
	if atomic.LoadInt32(&refresher.calls) != 1 {
		t.Fatalf("expected exactly 1 refresh call, got %d", refresher.calls)
	}
}

// TestGetNearExpiryWithNoRefreshTokenSurvivesUntilActualExpiry guards
// against triggerRefresh firing for a near-expiry record that has no
// refresh token: doRefresh would immediately kill such a record, revoking it
// well before its real expiresAt instead of waiting for actual expiry per
// the dead state's definition.
func TestGetNearExpiryWithNoRefreshTokenSurvivesUntilActualExpiry(t *testing.T) {
	m := newTestManager(t, &fakeRefresher{})
	ctx := context.Background()
	rec := &tokenstore.TokenRecord{
		UserID:      "hank",
		AccessToken: "at-1",
		ExpiresAt:   time.Now().Add(time.Minute), // inside the 5-minute threshold, not yet expired
	}
	if err := m.Register(ctx, rec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tok, err := m.Get(ctx, "hank")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tok != "at-1" {
		t.Fatalf("got %q, want at-1", tok)
	}

	// Let any (incorrectly) triggered background refresh goroutine run.
	time.Sleep(50 * time.Millisecond)

	if _, err := m.Get(ctx, "hank"); err != nil {
		t.Fatalf("expected record to still be present before actual expiry, got %v", err)
	}
}

func TestManagerShutdownJoinsBackgroundWork(t *testing.T) {
	refresher := &fakeRefresher{
		callDelay: 50 * time.Millisecond,
		response: &provider.TokenResponse{
			AccessToken: "at-new",
			ExpiresAt:   time.Now().Add(time.Hour),
		},
	}
	m := newTestManager(t, refresher)
	ctx := context.Background()
	rec := &tokenstore.TokenRecord{
		UserID:       "ivy",
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		ExpiresAt:    time.Now().Add(time.Minute), // near-expiry: triggers a background refresh
	}
	if err := m.Register(ctx, rec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := m.Get(ctx, "ivy"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestGetExpiredWithNoRefreshTokenIsDead(t *testing.T) {
	m := newTestManager(t, &fakeRefresher{})
	ctx := context.Background()
	rec := &tokenstore.TokenRecord{UserID: "carol", AccessToken: "at-old", ExpiresAt: time.Now().Add(-time.Minute)}
	if err := m.Register(ctx, rec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := m.Get(ctx, "carol"); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := m.Get(ctx, "carol"); err != ErrUnauthenticated {
		t.Fatalf("expected record evicted, got %v", err)
	}
}

func TestGetExpiredWithDeadRefreshTokenShortCircuits(t *testing.T) {
	refresher := &fakeRefresher{err: provider.ErrRefreshTokenDead}
	m := newTestManager(t, refresher)
	ctx := context.Background()
	rec := &tokenstore.TokenRecord{
		UserID:       "dave",
		AccessToken:  "at-old",
		RefreshToken: "rt-dead",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	if err := m.Register(ctx, rec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := m.Get(ctx, "dave"); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if atomic.LoadInt32(&refresher.calls) != 1 {
		t.Fatalf("expected short-circuit after 1 call, got %d", refresher.calls)
	}
}

func TestConcurrentGetsOnExpiredTokenShareOneRefresh(t *testing.T) {
	refresher := &fakeRefresher{
		callDelay: 50 * time.Millisecond,
		response: &provider.TokenResponse{
			AccessToken: "at-shared",
			ExpiresAt:   time.Now().Add(time.Hour),
		},
	}
	m := newTestManager(t, refresher)
	ctx := context.Background()
	rec := &tokenstore.TokenRecord{
		UserID:       "erin",
		AccessToken:  "at-old",
		RefreshToken: "rt-old",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	if err := m.Register(ctx, rec); err != nil {
		t.Fatalf("Register: %v", err)
	}

	const n = 10
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			tok, err := m.Get(ctx, "erin")
			if err != nil {
				t.Error(err)
				return
			}
			results <- tok
		}()
	}
	for i := 0; i < n; i++ {
		if got := <-results; got != "at-shared" {
			t.Fatalf("got %q", got)
		}
	}
	if atomic.LoadInt32(&refresher.calls) != 1 {
		t.Fatalf("expected singleflight to coalesce into 1 call, got %d", refresher.calls)
	}
}

func TestRevokeReturnsToAbsent(t *testing.T) {
	m := newTestManager(t, &fakeRefresher{})
	ctx := context.Background()
	rec := &tokenstore.TokenRecord{UserID: "frank", AccessToken: "at-1", ExpiresAt: time.Now().Add(time.Hour)}
	if err := m.Register(ctx, rec); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Revoke(ctx, "frank"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := m.Get(ctx, "frank"); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated after revoke, got %v", err)
	}
}

func TestStatsBucketsByExpiry(t *testing.T) {
	m := newTestManager(t, &fakeRefresher{})
	ctx := context.Background()
	must := func(rec *tokenstore.TokenRecord) {
		if err := m.Register(ctx, rec); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	must(&tokenstore.TokenRecord{UserID: "active", AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)})
	must(&tokenstore.TokenRecord{UserID: "soon", AccessToken: "a", ExpiresAt: time.Now().Add(time.Minute)})
	must(&tokenstore.TokenRecord{UserID: "gone", AccessToken: "a", ExpiresAt: time.Now().Add(-time.Minute)})

	stats, err := m.Stats(ctx, 100)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ActiveTokens != 1 || stats.ExpiringSoon != 1 || stats.Expired != 1 {
		t.Fatalf("got %+v", stats)
	}
}
