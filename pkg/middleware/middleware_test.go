package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/kbai/pkg/auth"
	"github.com/platinummonkey/kbai/pkg/trace"
)

func newGate(t *testing.T) *auth.Gate {
	t.Helper()
	return auth.NewGate(auth.Config{
		SigningKey: []byte("test-signing-key"),
		APIKey:     "svc-key",
		TokenTTL:   time.Hour,
	}, auth.NewMemorySessionStore())
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
}

func TestAuthMiddlewareAcceptsAPIKey(t *testing.T) {
	gate := newGate(t)
	var session *auth.Session
	h := Auth(gate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session = GetSession(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/projects", nil)
	req.Header.Set("X-API-Key", "svc-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, session)
	assert.Equal(t, auth.MethodAPIKey, session.AuthMethod)
}

func TestAuthMiddlewareAcceptsBearerToken(t *testing.T) {
	gate := newGate(t)
	token, _, err := gate.IssueToken(context.Background(), "tester", []string{auth.ScopeRead}, time.Minute)
	require.NoError(t, err)

	var session *auth.Session
	h := Auth(gate)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session = GetSession(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/projects", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, session)
	assert.Equal(t, auth.MethodJWT, session.AuthMethod)
	assert.Equal(t, []string{auth.ScopeRead}, session.Scopes)
}

func TestAuthMiddlewareRejectsMissingCredentials(t *testing.T) {
	gate := newGate(t)
	h := Auth(gate)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/projects", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireScope(t *testing.T) {
	called := false
	h := RequireScope(auth.ScopeWrite, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})

	// Session without the scope.
	req := httptest.NewRequest(http.MethodPost, "/v1/projects/95/faqs", nil)
	session := &auth.Session{ID: "s1", Scopes: []string{auth.ScopeRead}}
	req = req.WithContext(WithSession(req.Context(), session))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, called)

	// Wildcard session passes.
	req = httptest.NewRequest(http.MethodPost, "/v1/projects/95/faqs", nil)
	req = req.WithContext(WithSession(req.Context(), &auth.Session{ID: "s2", Scopes: []string{auth.ScopeWildcard}}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, called)
}

func TestTraceMiddlewareRecordsRequest(t *testing.T) {
	ring := trace.NewRing(10, time.Hour)
	h := Trace(ring)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/projects/95/faqs?limit=5", strings.NewReader(`{"question":"q"}`))
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("User-Agent", "test-agent")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	traces := ring.List(trace.Filter{}, 0)
	require.Len(t, traces, 1)
	tr := traces[0]
	assert.Equal(t, http.MethodPost, tr.Method)
	assert.Equal(t, "/v1/projects/95/faqs", tr.Path)
	assert.Equal(t, "5", tr.Query["limit"])
	assert.Equal(t, http.StatusCreated, tr.Status)
	assert.Equal(t, trace.Redacted, tr.Headers["Authorization"])
	assert.Equal(t, "test-agent", tr.UserAgent)
	assert.NotEmpty(t, tr.BodySHA256)
	assert.GreaterOrEqual(t, tr.LatencyMS, 0.0)
}

func TestTraceMiddlewarePreservesBody(t *testing.T) {
	ring := trace.NewRing(10, time.Hour)
	var seen string
	h := Trace(ring)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		seen = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader("payload"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "payload", seen)
}

func TestTraceMiddlewareCapturesSessionFromAuth(t *testing.T) {
	gate := newGate(t)
	ring := trace.NewRing(10, time.Hour)
	h := Trace(ring)(Auth(gate)(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/v1/projects", nil)
	req.Header.Set("X-API-Key", "svc-key")
	h.ServeHTTP(httptest.NewRecorder(), req)

	traces := ring.List(trace.Filter{}, 0)
	require.Len(t, traces, 1)
	assert.NotEmpty(t, traces[0].SessionID)
	assert.Empty(t, traces[0].Error)
}

func TestTraceMiddlewareCapturesAuthError(t *testing.T) {
	gate := newGate(t)
	ring := trace.NewRing(10, time.Hour)
	h := Trace(ring)(Auth(gate)(okHandler()))

	req := httptest.NewRequest(http.MethodGet, "/v1/projects", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	h.ServeHTTP(httptest.NewRecorder(), req)

	traces := ring.List(trace.Filter{}, 0)
	require.Len(t, traces, 1)
	assert.Equal(t, http.StatusUnauthorized, traces[0].Status)
	assert.NotEmpty(t, traces[0].Error)
	assert.Empty(t, traces[0].SessionID)
}

func TestTraceMiddlewareDefaultStatus(t *testing.T) {
	ring := trace.NewRing(10, time.Hour)
	h := Trace(ring)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Handler writes nothing.
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	traces := ring.List(trace.Filter{}, 0)
	require.Len(t, traces, 1)
	assert.Equal(t, http.StatusOK, traces[0].Status)
}
