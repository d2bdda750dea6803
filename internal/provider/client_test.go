package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testConfig(tokenURL, refreshURL string) Config {
	return Config{
		ClientID:        "client-123",
		AuthorizeURL:    "https://example.test/authorize",
		TokenURL:        tokenURL,
		RefreshURL:      refreshURL,
		RedirectURI:     "https://broker.example/callback",
		Scopes:          []string{"org:read", "org:write"},
		OAuthBetaHeader: "oauth-2025-04-20",
	}
}

func TestBuildAuthorizeURL(t *testing.T) {
	c := NewClient(testConfig("", ""))
	u := c.BuildAuthorizeURL("state-abc", "challenge-xyz", []string{"org:read"})
	if !strings.Contains(u, "client_id=client-123") {
		t.Fatalf("missing client_id: %s", u)
	}
	if !strings.Contains(u, "code_challenge=challenge-xyz") {
		t.Fatalf("missing code_challenge: %s", u)
	}
	if !strings.Contains(u, "code_challenge_method=S256") {
		t.Fatalf("missing challenge method: %s", u)
	}
	if !strings.Contains(u, "state=state-abc") {
		t.Fatalf("missing state: %s", u)
	}
}

func TestExchangeCodeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["grant_type"] != "authorization_code" {
			t.Errorf("unexpected grant_type: %s", req["grant_type"])
		}
		if req["code"] != "abc123" {
			t.Errorf("code not sanitized correctly, got %q", req["code"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-1",
			"refresh_token": "rt-1",
			"expires_in":    3600,
			"scope":         "org:read org:write",
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, ""))
	tr, err := c.ExchangeCode(context.Background(), "abc123#fragment", "verifier", "state-1")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if tr.AccessToken != "at-1" || tr.RefreshToken != "rt-1" {
		t.Fatalf("got %+v", tr)
	}
	if len(tr.Scopes) != 2 {
		t.Fatalf("expected 2 scopes, got %v", tr.Scopes)
	}
}

func TestExchangeCodeNonOKIsExchangeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL, ""))
	_, err := c.ExchangeCode(context.Background(), "bad-code", "verifier", "state-1")
	var exchErr *ExchangeError
	if err == nil {
		t.Fatal("expected error")
	}
	if !asExchangeError(err, &exchErr) {
		t.Fatalf("expected *ExchangeError, got %T: %v", err, err)
	}
	if exchErr.Status != http.StatusBadRequest {
		t.Fatalf("got status %d", exchErr.Status)
	}
}

func asExchangeError(err error, target **ExchangeError) bool {
	e, ok := err.(*ExchangeError)
	if ok {
		*target = e
	}
	return ok
}

func TestRefreshPreservesOldTokenWhenOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "new-access",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig("", srv.URL))
	tr, err := c.Refresh(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if tr.RefreshToken != "old-refresh" {
		t.Fatalf("expected old refresh token preserved, got %q", tr.RefreshToken)
	}
}

func TestRefreshUnauthorizedIsErrRefreshTokenDead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(testConfig("", srv.URL))
	_, err := c.Refresh(context.Background(), "dead-refresh")
	if err != ErrRefreshTokenDead {
		t.Fatalf("expected ErrRefreshTokenDead, got %v", err)
	}
}

func TestParseTokenResponseAcceptsCamelCase(t *testing.T) {
	body := []byte(`{"accessToken":"at-camel","refreshToken":"rt-camel","expiresIn":120}`)
	tr, err := parseTokenResponse(body)
	if err != nil {
		t.Fatalf("parseTokenResponse: %v", err)
	}
	if tr.AccessToken != "at-camel" || tr.RefreshToken != "rt-camel" {
		t.Fatalf("got %+v", tr)
	}
}
