package httpapi

import (
	"net/http"

	"github.com/claude-oauth-broker/broker/internal/authservice"
)

// RouterDeps holds the dependencies needed by the HTTP API router.
type RouterDeps struct {
	Service  *authservice.Service
	MaxUsers int
}

// NewRouter builds the broker's HTTP surface: six endpoints under
// /auth/claude, wrapped in the same request-ID, logging, CORS, and
// hardening middleware chain the router it's grounded on applies.
func NewRouter(deps RouterDeps) http.Handler {
	mux := http.NewServeMux()

	h := &authHandler{svc: deps.Service, maxUsers: deps.MaxUsers}
	mux.HandleFunc("POST /auth/claude/start", h.start)
	mux.HandleFunc("GET /auth/claude/callback", h.callback)
	mux.HandleFunc("POST /auth/claude/callback", h.callback)
	mux.HandleFunc("GET /auth/claude/status", h.status)
	mux.HandleFunc("POST /auth/claude/refresh", h.refresh)
	mux.HandleFunc("DELETE /auth/claude/revoke", h.revoke)
	mux.HandleFunc("GET /auth/claude/health", h.health)

	var handler http.Handler = mux
	handler = requireJSONContentTypeMiddleware(handler)
	handler = requestBodyLimitMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = browserOriginProtectionMiddleware(handler)
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = corsMiddleware(handler)

	return handler
}
