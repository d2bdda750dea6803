package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/claude-oauth-broker/broker/internal/provider"
	"github.com/claude-oauth-broker/broker/internal/tokenstore"
)

// maxRefreshAttempts bounds the exponential backoff retry loop.
const maxRefreshAttempts = 3

// DefaultRefreshThreshold is the window before expiry in which a token is
// considered near-expiry and eligible for background refresh.
const DefaultRefreshThreshold = 5 * time.Minute

// tokenRefresher is the narrow surface of provider.Client this package
// needs, so tests can substitute a fake without spinning up an HTTP server.
type tokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*provider.TokenResponse, error)
}

// Manager serves access tokens and drives their refresh, one state machine
// per userID, backed by a tokenstore.Store and a provider.Client. Concurrent
// refreshes for the same user are coalesced through a singleflight.Group —
// the teacher already depends on golang.org/x/sync for errgroup; this
// exercises its sibling package for exactly the join semantics
// internal/approval/manager.go hand-rolled with a pending-channel map.
type Manager struct {
	store            *tokenstore.Store
	provider         tokenRefresher
	refreshThreshold time.Duration

	sf singleflight.Group

	mu             sync.Mutex
	refreshing     map[string]struct{}
	totalRefreshes int64

	// bgCtx/bgCancel/bgWG track every goroutine this Manager spawns off the
	// request path (background refreshes, last-used touches) so Shutdown can
	// cancel and join them instead of leaking them past process shutdown.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// NewManager builds a Manager. refreshThreshold of zero selects
// DefaultRefreshThreshold.
func NewManager(store *tokenstore.Store, client tokenRefresher, refreshThreshold time.Duration) *Manager {
	if refreshThreshold <= 0 {
		refreshThreshold = DefaultRefreshThreshold
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Manager{
		store:            store,
		provider:         client,
		refreshThreshold: refreshThreshold,
		refreshing:       make(map[string]struct{}),
		bgCtx:            bgCtx,
		bgCancel:         bgCancel,
	}
}

// Shutdown cancels any in-flight background refresh or touch and blocks
// until every such goroutine has exited, or ctx is done first. Same shape as
// approval.Manager.Shutdown(): cancel signal plus WaitGroup join.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.bgCancel()
	done := make(chan struct{})
	go func() {
		m.bgWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register installs a freshly-issued token record, making it immediately
// servable via Get.
func (m *Manager) Register(ctx context.Context, rec *tokenstore.TokenRecord) error {
	return m.store.Upsert(ctx, rec)
}

// Get returns a usable access token for userID, refreshing as needed.
//
//   - valid (now+threshold < expiresAt): served directly.
//   - near-expiry (now < expiresAt <= now+threshold): served directly, and a
//     non-blocking background refresh is triggered if one isn't already
//     in flight.
//   - expired (expiresAt <= now): the caller joins the in-flight refresh
//     (or starts one) and waits for its result.
//   - absent or terminally dead: ErrUnauthenticated.
func (m *Manager) Get(ctx context.Context, userID string) (string, error) {
	rec, err := m.store.Get(ctx, userID)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return "", ErrUnauthenticated
	}
	if err != nil {
		return "", err
	}

	now := time.Now()
	switch {
	case now.Add(m.refreshThreshold).Before(rec.ExpiresAt):
		m.touchAsync(userID)
		return rec.AccessToken, nil
	case rec.ExpiresAt.After(now):
		if rec.RefreshToken != "" {
			m.triggerRefresh(userID)
		}
		m.touchAsync(userID)
		return rec.AccessToken, nil
	default:
		refreshed, err := m.refreshAndWait(ctx, userID)
		if err != nil {
			return "", err
		}
		return refreshed.AccessToken, nil
	}
}

// touchAsync bumps userID's last_used_at off the request path so Cleanup
// doesn't mistake a frequently-served cache hit for a stale, unused record.
func (m *Manager) touchAsync(userID string) {
	m.bgWG.Add(1)
	go func() {
		defer m.bgWG.Done()
		if err := m.store.Touch(m.bgCtx, userID); err != nil {
			slog.Warn("failed to record token last-used time", "user_id", userID, "err", err)
		}
	}()
}

// Refresh forces a refresh outside the normal threshold, used by the
// explicit /refresh operation.
func (m *Manager) Refresh(ctx context.Context, userID string) (*tokenstore.TokenRecord, error) {
	return m.refreshAndWait(ctx, userID)
}

// Record returns userID's full token record as currently stored, without
// triggering a refresh. Used by the CLI export command; callers that only
// need the access token should use Get instead.
func (m *Manager) Record(ctx context.Context, userID string) (*tokenstore.TokenRecord, error) {
	rec, err := m.store.Get(ctx, userID)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	return rec, err
}

// Status reports userID's expiry without triggering a refresh or returning
// token material, for the /status endpoint and CLI status command.
func (m *Manager) Status(ctx context.Context, userID string) (expiresAt time.Time, needsRefresh bool, err error) {
	rec, err := m.store.Get(ctx, userID)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return time.Time{}, false, ErrUnauthenticated
	}
	if err != nil {
		return time.Time{}, false, err
	}
	needsRefresh = !time.Now().Add(m.refreshThreshold).Before(rec.ExpiresAt)
	return rec.ExpiresAt, needsRefresh, nil
}

// Revoke deletes userID's token record. The lifecycle returns to absent.
func (m *Manager) Revoke(ctx context.Context, userID string) error {
	return m.store.Delete(ctx, userID)
}

// triggerRefresh starts a background refresh for userID if one is not
// already running, without waiting for the result. The goroutine is tracked
// by bgWG and bound to bgCtx so Shutdown can cancel and join it.
func (m *Manager) triggerRefresh(userID string) {
	m.bgWG.Add(1)
	go func() {
		defer m.bgWG.Done()
		if _, err, _ := m.sf.Do(userID, func() (any, error) {
			return m.doRefresh(m.bgCtx, userID)
		}); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("background token refresh failed", "user_id", userID, "err", err)
		}
	}()
}

// refreshAndWait joins the in-flight refresh for userID, or starts one and
// blocks until it completes.
func (m *Manager) refreshAndWait(ctx context.Context, userID string) (*tokenstore.TokenRecord, error) {
	v, err, _ := m.sf.Do(userID, func() (any, error) {
		return m.doRefresh(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*tokenstore.TokenRecord), nil
}

// doRefresh performs the actual refresh call with exponential backoff,
// marking the user as refreshing for the duration of the attempt.
func (m *Manager) doRefresh(ctx context.Context, userID string) (*tokenstore.TokenRecord, error) {
	m.markRefreshing(userID)
	defer m.unmarkRefreshing(userID)

	rec, err := m.store.Get(ctx, userID)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if rec.RefreshToken == "" {
		m.kill(ctx, userID)
		return nil, ErrUnauthenticated
	}
	// The store hands out its cached record; work on a copy so concurrent
	// readers never see a half-updated record.
	rec = rec.Clone()

	var tr *provider.TokenResponse
	var refreshErr error
	for attempt := 0; attempt < maxRefreshAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoffDelay(attempt))
		}
		tr, refreshErr = m.provider.Refresh(ctx, rec.RefreshToken)
		if refreshErr == nil {
			break
		}
		if errors.Is(refreshErr, provider.ErrRefreshTokenDead) {
			break
		}
	}
	if refreshErr != nil {
		m.kill(ctx, userID)
		return nil, ErrUnauthenticated
	}

	rec.AccessToken = tr.AccessToken
	rec.RefreshToken = tr.RefreshToken
	rec.ExpiresAt = tr.ExpiresAt
	rec.Scopes = tr.Scopes
	rec.IsMax = tr.IsMax
	rec.RefreshCount++
	rec.LastUsedAt = time.Now()

	if err := m.store.Upsert(ctx, rec); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.totalRefreshes++
	m.mu.Unlock()

	return rec, nil
}

// kill evicts a record whose refresh has permanently failed, preventing
// replay of the dead access token.
func (m *Manager) kill(ctx context.Context, userID string) {
	if err := m.store.Delete(ctx, userID); err != nil && !errors.Is(err, tokenstore.ErrNotFound) {
		slog.Warn("failed to evict dead token record", "user_id", userID, "err", err)
	}
}

func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

func (m *Manager) markRefreshing(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshing[userID] = struct{}{}
}

func (m *Manager) unmarkRefreshing(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refreshing, userID)
}
