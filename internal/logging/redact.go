// Package logging wraps slog with the redacting handler every component in
// this broker logs through, generalizing internal/audit/redact.go's
// key-substring matching from JSON-RPC params objects to arbitrary log
// attributes.
package logging

import "strings"

// sensitiveKeys are log attribute names whose values are replaced
// unconditionally, regardless of handler verbosity.
var sensitiveKeys = []string{
	"accesstoken",
	"refreshtoken",
	"verifier",
	"code",
	"token",
	"authorization",
	"secret",
	"password",
}

const redactedValue = "[REDACTED]"

// shouldRedact reports whether key matches a sensitive field name.
func shouldRedact(key string) bool {
	lower := strings.ToLower(key)
	for _, pattern := range sensitiveKeys {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
