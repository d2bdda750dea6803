package tokenstore

import (
	"os"
	"strconv"
	"time"
)

// DefaultBootstrapUserID is used when CLAUDE_BOOTSTRAP_USER_ID is unset.
const DefaultBootstrapUserID = "default"

// EnvFallback is the all-or-nothing token tuple read once at process start
// from CLAUDE_ACCESS_TOKEN / CLAUDE_REFRESH_TOKEN / CLAUDE_EXPIRES_AT.
// It seeds a single bootstrap user when the persistent tier has no row yet.
type EnvFallback struct {
	UserID      string
	AccessToken string
	RefreshToken string
	ExpiresAt   time.Time
}

// LoadEnvFallback reads the bootstrap tuple from the environment. It returns
// (nil, nil) if CLAUDE_ACCESS_TOKEN is unset; any other missing or malformed
// field is an error, since a partial tuple is unusable.
func LoadEnvFallback() (*EnvFallback, error) {
	access := os.Getenv("CLAUDE_ACCESS_TOKEN")
	if access == "" {
		return nil, nil
	}
	refresh := os.Getenv("CLAUDE_REFRESH_TOKEN")
	expiresRaw := os.Getenv("CLAUDE_EXPIRES_AT")
	if refresh == "" || expiresRaw == "" {
		return nil, &EnvFallbackError{Missing: "CLAUDE_REFRESH_TOKEN/CLAUDE_EXPIRES_AT"}
	}

	epoch, err := strconv.ParseInt(expiresRaw, 10, 64)
	if err != nil {
		return nil, &EnvFallbackError{Missing: "CLAUDE_EXPIRES_AT", Err: err}
	}

	userID := os.Getenv("CLAUDE_BOOTSTRAP_USER_ID")
	if userID == "" {
		userID = DefaultBootstrapUserID
	}

	return &EnvFallback{
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Unix(epoch, 0),
	}, nil
}

// ToRecord materializes the fallback tuple as a TokenRecord ready for Upsert.
func (f *EnvFallback) ToRecord() *TokenRecord {
	now := time.Now()
	return &TokenRecord{
		UserID:       f.UserID,
		AccessToken:  f.AccessToken,
		RefreshToken: f.RefreshToken,
		ExpiresAt:    f.ExpiresAt,
		CreatedAt:    now,
		LastUsedAt:   now,
	}
}

// EnvFallbackError reports a malformed or partial bootstrap tuple.
type EnvFallbackError struct {
	Missing string
	Err     error
}

func (e *EnvFallbackError) Error() string {
	if e.Err != nil {
		return "tokenstore: env fallback " + e.Missing + ": " + e.Err.Error()
	}
	return "tokenstore: env fallback missing " + e.Missing
}

func (e *EnvFallbackError) Unwrap() error { return e.Err }
