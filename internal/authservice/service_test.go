package authservice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claude-oauth-broker/broker/internal/crypto"
	"github.com/claude-oauth-broker/broker/internal/flowstate"
	"github.com/claude-oauth-broker/broker/internal/lifecycle"
	"github.com/claude-oauth-broker/broker/internal/provider"
	"github.com/claude-oauth-broker/broker/internal/tokenstore"
)

func newTestService(t *testing.T, tokenHandler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(tokenHandler)
	t.Cleanup(srv.Close)

	client := provider.NewClient(provider.Config{
		ClientID:     "client-1",
		AuthorizeURL: "https://example.test/authorize",
		TokenURL:     srv.URL,
		RefreshURL:   srv.URL,
		RedirectURI:  "https://broker.example/callback",
	})

	env, err := crypto.GenerateEnvelope()
	if err != nil {
		t.Fatalf("GenerateEnvelope: %v", err)
	}
	store, err := tokenstore.Open(context.Background(), filepath.Join(t.TempDir(), "tokens.db"), env, 100)
	if err != nil {
		t.Fatalf("tokenstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	manager := lifecycle.NewManager(store, client, 5*time.Minute)
	flows := flowstate.NewMemoryStore()
	return New(flows, client, manager, Config{})
}

func TestStartFlowThenCompleteFlowRoundTrip(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_in":    3600,
		})
	})
	ctx := context.Background()

	authorizeURL, state, instructions, err := svc.StartFlow(ctx, "user-1", []string{"org:read"})
	if err != nil {
		t.Fatalf("StartFlow: %v", err)
	}
	if authorizeURL == "" || state == "" || instructions == "" {
		t.Fatal("expected non-empty authorizeURL, state, instructions")
	}

	rec, err := svc.CompleteFlow(ctx, "auth-code", state)
	if err != nil {
		t.Fatalf("CompleteFlow: %v", err)
	}
	if rec.UserID != "user-1" || rec.AccessToken != "at-1" {
		t.Fatalf("got %+v", rec)
	}
}

func TestCompleteFlowUnknownStateFails(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {})
	if _, err := svc.CompleteFlow(context.Background(), "code", "never-issued"); err != ErrStateUnknown {
		t.Fatalf("expected ErrStateUnknown, got %v", err)
	}
}

func TestCompleteFlowManualEntryDisabledByDefault(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {})
	if _, err := svc.CompleteFlow(context.Background(), "code", manualEntryState); err != ErrStateUnknown {
		t.Fatalf("expected ErrStateUnknown when manual entry disabled, got %v", err)
	}
}

func TestGetAccessTokenNoTokenRequiresOAuth(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {})
	if _, err := svc.GetAccessToken(context.Background(), "nobody", false, true); err != ErrNoToken {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

// TestGetAccessTokenValidTokenNeverHitsProvider guards against autoRefresh
// forcing a refresh round-trip for a token that isn't expired: autoRefresh
// only governs behavior once the token is already expired.
func TestGetAccessTokenValidTokenNeverHitsProvider(t *testing.T) {
	var calls int32
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_in":    3600,
		})
	})
	ctx := context.Background()

	_, state, _, err := svc.StartFlow(ctx, "user-4", nil)
	if err != nil {
		t.Fatalf("StartFlow: %v", err)
	}
	rec, err := svc.CompleteFlow(ctx, "auth-code", state)
	if err != nil {
		t.Fatalf("CompleteFlow: %v", err)
	}
	callsAfterExchange := atomic.LoadInt32(&calls)

	tok, err := svc.GetAccessToken(ctx, "user-4", true, false)
	if err != nil {
		t.Fatalf("GetAccessToken: %v", err)
	}
	if tok != rec.AccessToken {
		t.Fatalf("got token %q, want %q", tok, rec.AccessToken)
	}
	if got := atomic.LoadInt32(&calls); got != callsAfterExchange {
		t.Fatalf("expected no additional provider calls for a valid token, exchange=%d now=%d", callsAfterExchange, got)
	}
}

// TestGetAccessTokenExpiredWithoutAutoRefreshFails asserts that a genuinely
// expired token with autoRefresh=false surfaces ErrTokenExpired instead of
// silently refreshing it or returning stale token material.
func TestGetAccessTokenExpiredWithoutAutoRefreshFails(t *testing.T) {
	srv := httptest.NewServer(func() http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) { http.Error(w, "should not be called", 500) }
	}())
	t.Cleanup(srv.Close)

	client := provider.NewClient(provider.Config{
		ClientID:     "client-1",
		AuthorizeURL: "https://example.test/authorize",
		TokenURL:     srv.URL,
		RefreshURL:   srv.URL,
		RedirectURI:  "https://broker.example/callback",
	})

	env, err := crypto.GenerateEnvelope()
	if err != nil {
		t.Fatalf("GenerateEnvelope: %v", err)
	}
	store, err := tokenstore.Open(context.Background(), filepath.Join(t.TempDir(), "tokens.db"), env, 100)
	if err != nil {
		t.Fatalf("tokenstore.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	manager := lifecycle.NewManager(store, client, 5*time.Minute)
	flows := flowstate.NewMemoryStore()
	svc := New(flows, client, manager, Config{})

	ctx := context.Background()
	now := time.Now()
	if err := manager.Register(ctx, &tokenstore.TokenRecord{
		UserID:       "user-5",
		AccessToken:  "stale-at",
		RefreshToken: "rt-5",
		ExpiresAt:    now.Add(-time.Hour),
		CreatedAt:    now,
		LastUsedAt:   now,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.GetAccessToken(ctx, "user-5", false, false); err != ErrTokenExpired {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestHeadersIncludesBearerAndBetaHeader(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "at-1", "expires_in": 3600})
	})
	ctx := context.Background()
	_, state, _, err := svc.StartFlow(ctx, "user-2", nil)
	if err != nil {
		t.Fatalf("StartFlow: %v", err)
	}
	if _, err := svc.CompleteFlow(ctx, "code", state); err != nil {
		t.Fatalf("CompleteFlow: %v", err)
	}

	h, err := svc.Headers(ctx, "user-2")
	if err != nil {
		t.Fatalf("Headers: %v", err)
	}
	if h.Get("Authorization") != "Bearer at-1" {
		t.Fatalf("got Authorization=%q", h.Get("Authorization"))
	}
	if h.Get("Anthropic-Beta") == "" {
		t.Fatal("expected Anthropic-Beta header")
	}
}

func TestRevokeClearsToken(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "at-1", "expires_in": 3600})
	})
	ctx := context.Background()
	_, state, _, err := svc.StartFlow(ctx, "user-3", nil)
	if err != nil {
		t.Fatalf("StartFlow: %v", err)
	}
	if _, err := svc.CompleteFlow(ctx, "code", state); err != nil {
		t.Fatalf("CompleteFlow: %v", err)
	}
	if err := svc.Revoke(ctx, "user-3"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.GetAccessToken(ctx, "user-3", false, true); err != ErrNoToken {
		t.Fatalf("expected ErrNoToken after revoke, got %v", err)
	}
}
