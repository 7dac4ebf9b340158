package server

import (
	"net/http"
	"time"

	"github.com/platinummonkey/kbai/pkg/api"
	"github.com/platinummonkey/kbai/pkg/httputil"
	"github.com/platinummonkey/kbai/pkg/middleware"
)

type tokenRequest struct {
	APIKey     string   `json:"api_key"`
	ClientName string   `json:"client_name"`
	Scopes     []string `json:"scopes,omitempty"`
	TTLSeconds int64    `json:"ttl_seconds,omitempty"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// issueToken handles POST /v1/auth/token. The API key in the body is
// the credential; a valid key can mint scoped bearer tokens.
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Gate.JWTEnabled() {
		httputil.WriteServiceUnavailable(w, "token issuance is not configured")
		return
	}

	var req tokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !s.svc.Gate.VerifyAPIKey(req.APIKey) {
		httputil.WriteUnauthorized(w, "invalid api key")
		return
	}
	if req.ClientName == "" {
		httputil.WriteBadRequest(w, "client_name is required")
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	token, session, err := s.svc.Gate.IssueToken(r.Context(), req.ClientName, req.Scopes, ttl)
	if err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}

	httputil.WriteJSONOrError(w, http.StatusCreated, tokenResponse{
		Token:     token,
		SessionID: session.ID,
		Scopes:    session.Scopes,
		ExpiresAt: session.ExpiresAt,
	}, "failed to encode token response")
}

// authModes handles GET /v1/auth/modes
func (s *Server) authModes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOrError(w, http.StatusOK, map[string]bool{
		"jwt":     s.svc.Gate.JWTEnabled(),
		"api_key": s.svc.Gate.APIKeyEnabled(),
	}, "failed to encode auth modes")
}

type revokeRequest struct {
	SessionID string `json:"session_id"`
}

// revokeToken handles POST /v1/auth/revoke. Callers may always revoke
// their own session; revoking another session requires the wildcard.
func (s *Server) revokeToken(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	session := middleware.GetSession(r.Context())
	target := req.SessionID
	if target == "" {
		target = session.ID
	}
	if target != session.ID && !session.HasScope("*") {
		httputil.WriteForbidden(w, "cannot revoke another session")
		return
	}

	if err := s.svc.Gate.Revoke(r.Context(), target); err != nil {
		httputil.WriteError(w, api.StatusFor(err), err)
		return
	}
	httputil.WriteNoContent(w)
}
