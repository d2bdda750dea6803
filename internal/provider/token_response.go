package provider

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// defaultExpiresIn is applied when the provider's response omits expires_in.
const defaultExpiresIn = 3600 * time.Second

// TokenResponse is the normalized result of a code exchange or refresh,
// independent of which field-casing variant the provider used on the wire.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
	IsMax        bool
}

// wireTokenResponse accepts both snake_case and camelCase field names, since
// the provider is not guaranteed to be consistent across code exchange and
// refresh responses.
type wireTokenResponse struct {
	AccessToken     string `json:"access_token"`
	AccessTokenAlt  string `json:"accessToken"`
	RefreshToken    string `json:"refresh_token"`
	RefreshTokenAlt string `json:"refreshToken"`
	ExpiresIn       *int   `json:"expires_in"`
	ExpiresInAlt    *int   `json:"expiresIn"`
	Scope           string `json:"scope"`
	Scopes          any    `json:"scopes"`
	IsMax           bool   `json:"is_max"`
	IsMaxAlt        bool   `json:"isMax"`
}

func parseTokenResponse(body []byte) (*TokenResponse, error) {
	var w wireTokenResponse
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}

	access := w.AccessToken
	if access == "" {
		access = w.AccessTokenAlt
	}
	refresh := w.RefreshToken
	if refresh == "" {
		refresh = w.RefreshTokenAlt
	}

	expiresIn := defaultExpiresIn
	switch {
	case w.ExpiresIn != nil:
		expiresIn = time.Duration(*w.ExpiresIn) * time.Second
	case w.ExpiresInAlt != nil:
		expiresIn = time.Duration(*w.ExpiresInAlt) * time.Second
	}

	return &TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().Add(expiresIn),
		Scopes:       normalizeScopes(w.Scope, w.Scopes),
		IsMax:        w.IsMax || w.IsMaxAlt,
	}, nil
}

func normalizeScopes(scopeField string, scopesField any) []string {
	if list, ok := scopesField.([]any); ok {
		out := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	var out []string
	for _, part := range strings.Fields(scopeField) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
