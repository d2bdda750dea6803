package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// exchangeTimeout bounds a single code-exchange or refresh round trip.
const exchangeTimeout = 30 * time.Second

// Client is the stateless OAuth client for the configured provider.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient returns a Client using http.DefaultClient's transport settings
// with a dedicated timeout applied per request via context rather than on
// the client itself, so callers can pass a shorter context when needed.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, httpClient: &http.Client{}}
}

// BuildAuthorizeURL constructs the authorization-request URL for a pending
// flow's state and PKCE challenge.
func (c *Client) BuildAuthorizeURL(state, challenge string, scopes []string) string {
	u, _ := url.Parse(c.cfg.AuthorizeURL)
	q := u.Query()
	q.Set("client_id", c.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", c.cfg.RedirectURI)
	if len(scopes) > 0 {
		q.Set("scope", strings.Join(scopes, " "))
	}
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	q.Set("code", "true")
	u.RawQuery = q.Encode()
	return u.String()
}

// sanitizeCode strips anything a careless redirect handler might forward
// along with the code, from the first '#' or '&'.
func sanitizeCode(code string) string {
	if i := strings.IndexAny(code, "#&"); i >= 0 {
		return code[:i]
	}
	return code
}

// ExchangeCode swaps an authorization code and PKCE verifier for a token
// pair.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier, state string) (*TokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"grant_type":    "authorization_code",
		"client_id":     c.cfg.ClientID,
		"code":          sanitizeCode(code),
		"redirect_uri":  c.cfg.RedirectURI,
		"code_verifier": verifier,
		"state":         state,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal exchange request: %w", err)
	}

	status, respBody, err := c.postJSON(ctx, c.cfg.TokenURL, body, false)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, &ExchangeError{Status: status, Body: string(respBody)}
	}
	return parseTokenResponse(respBody)
}

// Refresh exchanges a refresh token for a new access token, preserving the
// caller's existing refresh token if the provider's response omits one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     c.cfg.ClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal refresh request: %w", err)
	}

	status, respBody, err := c.postJSON(ctx, c.cfg.RefreshURL, body, true)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return nil, ErrRefreshTokenDead
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, &RefreshError{Status: status, Body: string(respBody)}
	}

	tr, err := parseTokenResponse(respBody)
	if err != nil {
		return nil, err
	}
	if tr.RefreshToken == "" {
		tr.RefreshToken = refreshToken
	}
	return tr, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body []byte, oauthBeta bool) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if oauthBeta && c.cfg.OAuthBetaHeader != "" {
		req.Header.Set("Anthropic-Beta", c.cfg.OAuthBetaHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
