// Package middleware provides the HTTP middleware chain: request
// authentication and trace recording.
package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/kbai/pkg/api"
	"github.com/platinummonkey/kbai/pkg/auth"
	"github.com/platinummonkey/kbai/pkg/httputil"
	"github.com/platinummonkey/kbai/pkg/observability"
)

type contextKey string

const sessionKey contextKey = "session"

// WithSession stores the authenticated session on the context.
func WithSession(ctx context.Context, session *auth.Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// GetSession returns the authenticated session, nil when absent.
func GetSession(ctx context.Context) *auth.Session {
	if s, ok := ctx.Value(sessionKey).(*auth.Session); ok {
		return s
	}
	return nil
}

// Auth authenticates every request through the gate. Bearer tokens are
// checked before the API key header.
func Auth(gate *auth.Gate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := gate.Authenticate(r.Context(),
				r.Header.Get("Authorization"), r.Header.Get("X-API-Key"))
			if err != nil {
				recordAuthOutcome(r.Context(), "", err)
				httputil.WriteError(w, api.StatusFor(err), err)
				return
			}
			recordAuthOutcome(r.Context(), session.ID, nil)
			ctx := observability.WithSessionID(r.Context(), session.ID)
			next.ServeHTTP(w, r.WithContext(WithSession(ctx, session)))
		})
	}
}

// RequireScope guards a handler with a scope check.
func RequireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := auth.RequireScope(GetSession(r.Context()), scope); err != nil {
			httputil.WriteError(w, api.StatusFor(err), err)
			return
		}
		next(w, r)
	}
}
