// Package lifecycle owns the per-user token state machine: serving valid
// tokens, triggering background refresh as expiry approaches, single-flighting
// concurrent refreshes through golang.org/x/sync/singleflight, and sweeping
// the whole user set on a ticker. Grounded on internal/approval/manager.go's
// pending-signal idiom and internal/downstream/manager.go's per-key lazy
// instantiation, generalized from "once" to "recurring" lifecycles.
package lifecycle

import "errors"

// ErrUnauthenticated means the user has no usable token: never authenticated,
// revoked, or its refresh token has been exhausted.
var ErrUnauthenticated = errors.New("lifecycle: user not authenticated")
