package authservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/claude-oauth-broker/broker/internal/crypto"
	"github.com/claude-oauth-broker/broker/internal/flowstate"
	"github.com/claude-oauth-broker/broker/internal/lifecycle"
	"github.com/claude-oauth-broker/broker/internal/provider"
	"github.com/claude-oauth-broker/broker/internal/tokenstore"
)

// manualEntryState is the documented, opt-in bypass for environments where
// the browser redirect cannot reach this broker and the code must be
// hand-carried by the operator instead.
const manualEntryState = "manual_entry"

// Config controls optional Service behavior.
type Config struct {
	// AllowManualEntry enables the "manual_entry" state bypass in
	// CompleteFlow. Disabled by default.
	AllowManualEntry bool
}

// Service is the façade every external interface (CLI, HTTP API,
// interceptor) calls into. It owns no state of its own beyond its
// dependencies: C2 for pending flows, C3 for the provider wire protocol,
// C4/C5 together for serving and refreshing tokens.
type Service struct {
	flows    flowstate.Store
	provider *provider.Client
	lifecycle *lifecycle.Manager
	cfg      Config
}

// New builds a Service over its four collaborating components.
func New(flows flowstate.Store, providerClient *provider.Client, lifecycleManager *lifecycle.Manager, cfg Config) *Service {
	return &Service{flows: flows, provider: providerClient, lifecycle: lifecycleManager, cfg: cfg}
}

// StartFlow begins a new authorization attempt for userID: a fresh PKCE
// pair and CSRF state are generated, the pending flow is persisted, and the
// resulting authorize URL plus human-readable instructions are returned.
func (s *Service) StartFlow(ctx context.Context, userID string, scopes []string) (authorizeURL, state, instructions string, err error) {
	verifier, challenge, err := crypto.GeneratePKCEPair()
	if err != nil {
		return "", "", "", fmt.Errorf("generate pkce pair: %w", err)
	}
	state, err = crypto.GenerateCSRFState()
	if err != nil {
		return "", "", "", fmt.Errorf("generate csrf state: %w", err)
	}
	if err := s.flows.Put(ctx, state, verifier, userID); err != nil {
		return "", "", "", fmt.Errorf("persist pending flow: %w", err)
	}

	authorizeURL = s.provider.BuildAuthorizeURL(state, challenge, scopes)
	return authorizeURL, state, renderInstructions(authorizeURL, state), nil
}

// CompleteFlow consumes the pending flow for state, exchanges code for
// tokens, and registers the result with the lifecycle manager.
func (s *Service) CompleteFlow(ctx context.Context, code, state string) (*tokenstore.TokenRecord, error) {
	var verifier, userID string

	if state == manualEntryState {
		if !s.cfg.AllowManualEntry {
			return nil, ErrStateUnknown
		}
		// The operator hand-carried this code outside the normal redirect;
		// there is no PKCE verifier to present, and no userID binding
		// beyond what the caller supplies out of band via code itself.
	} else {
		flow, err := s.flows.Take(ctx, state)
		if err != nil {
			switch {
			case errors.Is(err, flowstate.ErrNotFound):
				return nil, ErrStateUnknown
			case errors.Is(err, flowstate.ErrExpired):
				return nil, ErrStateExpired
			default:
				return nil, err
			}
		}
		verifier = flow.Verifier
		userID = flow.UserID
	}

	tr, err := s.provider.ExchangeCode(ctx, code, verifier, state)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	now := time.Now()
	rec := &tokenstore.TokenRecord{
		UserID:       userID,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    tr.ExpiresAt,
		Scopes:       tr.Scopes,
		IsMax:        tr.IsMax,
		CreatedAt:    now,
		LastUsedAt:   now,
	}
	if err := s.lifecycle.Register(ctx, rec); err != nil {
		return nil, fmt.Errorf("register token: %w", err)
	}
	return rec, nil
}

// GetAccessToken returns userID's current access token. If no token is on
// file and requireOAuth is set, ErrNoToken signals the caller should invoke
// StartFlow. autoRefresh only governs what happens when the token has
// already expired: true refreshes it (lifecycle.Get already does this
// synchronously), false surfaces ErrTokenExpired instead of forcing a
// provider round-trip. A valid or near-expiry token is never forced through
// an extra refresh call here.
func (s *Service) GetAccessToken(ctx context.Context, userID string, autoRefresh, requireOAuth bool) (string, error) {
	expiresAt, _, err := s.lifecycle.Status(ctx, userID)
	if errors.Is(err, lifecycle.ErrUnauthenticated) {
		if requireOAuth {
			return "", ErrNoToken
		}
		return "", err
	}
	if err != nil {
		return "", err
	}

	if !autoRefresh && !time.Now().Before(expiresAt) {
		return "", ErrTokenExpired
	}

	return s.lifecycle.Get(ctx, userID)
}

// Refresh forces a refresh for userID outside the normal threshold.
func (s *Service) Refresh(ctx context.Context, userID string) (*tokenstore.TokenRecord, error) {
	return s.lifecycle.Refresh(ctx, userID)
}

// Status reports whether userID is authenticated and, if so, how long until
// its access token expires, without touching token material or triggering a
// refresh.
func (s *Service) Status(ctx context.Context, userID string) (authenticated bool, expiresIn time.Duration, needsRefresh bool, err error) {
	expiresAt, needsRefresh, err := s.lifecycle.Status(ctx, userID)
	if errors.Is(err, lifecycle.ErrUnauthenticated) {
		return false, 0, false, nil
	}
	if err != nil {
		return false, 0, false, err
	}
	return true, time.Until(expiresAt), needsRefresh, nil
}

// Stats returns a lifecycle snapshot for the health endpoint.
func (s *Service) Stats(ctx context.Context, maxUsers int) (lifecycle.Stats, error) {
	return s.lifecycle.Stats(ctx, maxUsers)
}

// Export returns userID's full token record, for the CLI export command.
// Callers that only need the bearer string should use Headers instead.
func (s *Service) Export(ctx context.Context, userID string) (*tokenstore.TokenRecord, error) {
	rec, err := s.lifecycle.Record(ctx, userID)
	if errors.Is(err, lifecycle.ErrUnauthenticated) {
		return nil, ErrNoToken
	}
	return rec, err
}

// Revoke tears down userID's authentication: the lifecycle record and the
// persistent row. It also sweeps expired pending flows; unexpired pending
// flows are left in place.
func (s *Service) Revoke(ctx context.Context, userID string) error {
	if err := s.lifecycle.Revoke(ctx, userID); err != nil {
		return err
	}
	if _, err := s.flows.Sweep(ctx); err != nil {
		return fmt.Errorf("sweep pending flows: %w", err)
	}
	return nil
}

// Headers returns the bearer-token headers a caller should attach to an
// outgoing request on userID's behalf, following
// internal/auth/injector.go's HeadersForDownstream shape.
func (s *Service) Headers(ctx context.Context, userID string) (http.Header, error) {
	tok, err := s.lifecycle.Get(ctx, userID)
	if errors.Is(err, lifecycle.ErrUnauthenticated) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+tok)
	h.Set("Anthropic-Beta", "oauth-2025-04-20")
	return h, nil
}
