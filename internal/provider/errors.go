package provider

import (
	"errors"
	"fmt"
)

// ErrRefreshTokenDead means the refresh endpoint returned 401: the refresh
// token itself has been revoked or expired. Terminal; never retried.
var ErrRefreshTokenDead = errors.New("provider: refresh token dead")

// ExchangeError wraps a non-2xx response from the authorization code
// exchange endpoint.
type ExchangeError struct {
	Status int
	Body   string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("provider: code exchange returned %d: %s", e.Status, e.Body)
}

// RefreshError wraps a non-2xx response from the refresh endpoint other than
// the 401 case captured by ErrRefreshTokenDead.
type RefreshError struct {
	Status int
	Body   string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("provider: refresh returned %d: %s", e.Status, e.Body)
}
