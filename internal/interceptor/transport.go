// Package interceptor generalizes internal/downstream/http_instance.go's
// header-injection and 401 handling from "one fixed downstream MCP server"
// to "any http.RoundTripper wrapping calls to the Claude upstream".
package interceptor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/claude-oauth-broker/broker/internal/tokenstore"
)

// ErrOAuthRequired is returned when OAuth material is unavailable and API
// key fallback is disabled.
var ErrOAuthRequired = errors.New("interceptor: oauth token unavailable and api key fallback disabled")

// headerSource is the narrow surface of authservice.Service this package
// needs, so tests can substitute a fake without standing up C1-C6.
type headerSource interface {
	Headers(ctx context.Context, userID string) (http.Header, error)
	Refresh(ctx context.Context, userID string) (*tokenstore.TokenRecord, error)
}

// Config controls Transport behavior.
type Config struct {
	// UpstreamHost is the host the bearer headers are injected for; requests
	// to any other host pass through untouched.
	UpstreamHost string
	// UserID identifies whose token this Transport injects. A process-wide
	// interceptor is scoped to one broker-managed identity at a time.
	UserID string
	// AllowAPIKeyFallback lets a request through with its existing
	// x-api-key header when no OAuth token is available, instead of
	// failing fast with ErrOAuthRequired.
	AllowAPIKeyFallback bool
}

// Transport implements http.RoundTripper, injecting OAuth bearer headers on
// requests to the configured upstream host and retrying once on a
// token-expired response after a synchronous refresh.
type Transport struct {
	cfg  Config
	auth headerSource
	base http.RoundTripper
}

// New builds a Transport wrapping base (http.DefaultTransport if nil).
func New(cfg Config, auth headerSource, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{cfg: cfg, auth: auth, base: base}
}

// tokenErrorTypes are the upstream error vocabulary that signals an expired
// or invalid access token, beyond a bare 401 status.
var tokenErrorTypes = map[string]bool{
	"token_expired": true,
	"invalid_token": true,
	"expired":       true,
	"unauthorized":  true,
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host != t.cfg.UpstreamHost {
		return t.base.RoundTrip(req)
	}

	if err := t.applyAuthHeaders(req); err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if !responseSignalsExpiredToken(resp) {
		return resp, nil
	}

	resp.Body.Close()

	if _, err := t.auth.Refresh(req.Context(), t.cfg.UserID); err != nil {
		return nil, err
	}

	retryReq, err := cloneRequestWithBody(req)
	if err != nil {
		return nil, err
	}
	if err := t.applyAuthHeaders(retryReq); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(retryReq)
}

// applyAuthHeaders fetches the current bearer headers and installs them on
// req, removing any pre-existing x-api-key header so the two auth schemes
// never travel together.
func (t *Transport) applyAuthHeaders(req *http.Request) error {
	headers, err := t.auth.Headers(req.Context(), t.cfg.UserID)
	if err != nil {
		if t.cfg.AllowAPIKeyFallback {
			return nil
		}
		return ErrOAuthRequired
	}
	req.Header.Del("x-api-key")
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Set(k, v)
		}
	}
	return nil
}

// responseSignalsExpiredToken reports whether resp's status or JSON error
// body indicates the access token needs a refresh before retrying.
func responseSignalsExpiredToken(resp *http.Response) bool {
	if resp.StatusCode == http.StatusUnauthorized {
		return true
	}
	if resp.StatusCode < 400 {
		return false
	}

	const maxPeek = 64 * 1024
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPeek))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return false
	}

	var payload struct {
		Type  string `json:"type"`
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}

	return tokenErrorTypes[strings.ToLower(payload.Type)] || tokenErrorTypes[strings.ToLower(payload.Error.Type)]
}

// cloneRequestWithBody rebuilds req with a fresh, re-readable body so it can
// be sent a second time after the first attempt consumed it.
func cloneRequestWithBody(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return clone, nil
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	clone.Body = io.NopCloser(bytes.NewReader(body))
	return clone, nil
}
