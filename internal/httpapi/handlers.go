package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/claude-oauth-broker/broker/internal/authservice"
	"github.com/claude-oauth-broker/broker/internal/lifecycle"
)

// userIDHeader stands in for the proxy layer's own API key binding: this
// broker trusts that whatever sits in front of it has already authenticated
// the caller and attached their stable user identifier.
const userIDHeader = "X-User-Id"

type authHandler struct {
	svc      *authservice.Service
	maxUsers int
}

func userIDFromRequest(r *http.Request) string {
	return r.Header.Get(userIDHeader)
}

type startRequest struct {
	Scopes []string `json:"scopes"`
}

type startResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
	Instructions     string `json:"instructions"`
}

// POST /auth/claude/start
func (h *authHandler) start(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userIDHeader+" header")
		return
	}

	var req startRequest
	if hasRequestBody(r) {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid request body")
			return
		}
	}

	authorizeURL, state, instructions, err := h.svc.StartFlow(r.Context(), userID, req.Scopes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, startResponse{
		AuthorizationURL: authorizeURL,
		State:            state,
		Instructions:     instructions,
	})
}

type callbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type callbackResponse struct {
	Success   bool `json:"success"`
	ExpiresIn int  `json:"expires_in"`
}

// POST /auth/claude/callback accepts either a JSON body or query-string
// parameters, mirroring the browser-redirect case where no client code runs
// between the provider's redirect and this broker.
func (h *authHandler) callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if (code == "" || state == "") && hasRequestBody(r) {
		var req callbackRequest
		if err := decodeJSON(r, &req); err == nil {
			if code == "" {
				code = req.Code
			}
			if state == "" {
				state = req.State
			}
		}
	}
	if code == "" || state == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing code or state parameter")
		return
	}

	rec, err := h.svc.CompleteFlow(r.Context(), code, state)
	if err != nil {
		writeErrorDetail(w, http.StatusInternalServerError, "oauth callback failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, callbackResponse{
		Success:   true,
		ExpiresIn: int(time.Until(rec.ExpiresAt).Seconds()),
	})
}

type statusResponse struct {
	Authenticated bool `json:"authenticated"`
	ExpiresIn     int  `json:"expires_in,omitempty"`
	NeedsRefresh  bool `json:"needs_refresh"`
}

// GET /auth/claude/status
func (h *authHandler) status(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userIDHeader+" header")
		return
	}

	authenticated, expiresIn, needsRefresh, err := h.svc.Status(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := statusResponse{Authenticated: authenticated, NeedsRefresh: needsRefresh}
	if authenticated {
		resp.ExpiresIn = int(expiresIn.Seconds())
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /auth/claude/refresh
func (h *authHandler) refresh(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userIDHeader+" header")
		return
	}

	rec, err := h.svc.Refresh(r.Context(), userID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrUnauthenticated) {
			writeError(w, http.StatusBadRequest, "no token on file to refresh")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, callbackResponse{
		Success:   true,
		ExpiresIn: int(time.Until(rec.ExpiresAt).Seconds()),
	})
}

// DELETE /auth/claude/revoke
func (h *authHandler) revoke(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userIDHeader+" header")
		return
	}
	if err := h.svc.Revoke(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

type healthResponse struct {
	Status     string           `json:"status"`
	TokenStats healthTokenStats `json:"token_stats"`
}

type healthTokenStats struct {
	ActiveTokens   int   `json:"active_tokens"`
	ExpiringSoon   int   `json:"expiring_soon"`
	Expired        int   `json:"expired"`
	Refreshing     int   `json:"refreshing"`
	TotalRefreshes int64 `json:"total_refreshes"`
}

// GET /auth/claude/health
func (h *authHandler) health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context(), h.maxUsers)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "token engine unavailable")
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "healthy",
		TokenStats: healthTokenStats{
			ActiveTokens:   stats.ActiveTokens,
			ExpiringSoon:   stats.ExpiringSoon,
			Expired:        stats.Expired,
			Refreshing:     stats.Refreshing,
			TotalRefreshes: stats.TotalRefreshes,
		},
	})
}
