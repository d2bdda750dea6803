// Package authservice is the thin orchestrator in front of C2-C5,
// grounded on internal/oauth/flow.go's FlowManager, generalized from a
// single per-scope provider to a multi-user engine.
package authservice

import "errors"

var (
	// ErrStateUnknown means the callback's state token was never issued or
	// was already consumed.
	ErrStateUnknown = errors.New("authservice: unknown state")

	// ErrStateExpired means the state token was found but its TTL elapsed.
	ErrStateExpired = errors.New("authservice: state expired")

	// ErrNoToken means the user has no token on file; the caller should
	// invoke StartFlow.
	ErrNoToken = errors.New("authservice: no token for user")

	// ErrTokenExpired means the token on file has already expired and the
	// caller asked GetAccessToken not to auto-refresh it.
	ErrTokenExpired = errors.New("authservice: token expired, auto-refresh disabled")
)
