// Package flowstate persists the pending (state -> verifier) tuples created
// at the start of an OAuth redirect and consumed exactly once when the
// provider calls back. Grounded on the teacher's internal/oauth/state.go
// StateStore: an in-memory map guarded by a mutex, with lazy TTL cleanup
// folded into Put rather than a background goroutine.
package flowstate

import (
	"context"
	"errors"
	"time"
)

// flowTTL is the lifetime of a pending flow from StartFlow to CompleteFlow
// or sweep. Matches the 10-minute window a user has to complete a browser
// redirect before the state token is considered abandoned.
const flowTTL = 10 * time.Minute

// ErrNotFound means the state token is unknown: never issued, already
// consumed, or swept as expired before the lookup ran.
var ErrNotFound = errors.New("flowstate: state not found")

// ErrExpired means the state token was found but its TTL had already
// elapsed; it is removed as a side effect of the lookup that returns this.
var ErrExpired = errors.New("flowstate: state expired")

// FlowState is one pending PKCE authorization attempt.
type FlowState struct {
	State     string
	Verifier  string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (f *FlowState) expired(now time.Time) bool {
	return now.After(f.ExpiresAt)
}

// Store persists pending flows between StartFlow and the provider's
// callback. Take is atomic: a given state is returned at most once (P5).
type Store interface {
	Put(ctx context.Context, state, verifier, userID string) error
	Take(ctx context.Context, state string) (*FlowState, error)
	Sweep(ctx context.Context) (int, error)
}
