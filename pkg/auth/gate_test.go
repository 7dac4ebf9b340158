package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/kbai/pkg/api"
)

func newTestGate(t *testing.T) (*Gate, *MemorySessionStore) {
	t.Helper()
	store := NewMemorySessionStore()
	gate := NewGate(Config{
		SigningKey: []byte("test-signing-key"),
		APIKey:     "svc-key-123",
	}, store)
	return gate, store
}

func TestIssueAndAuthenticate(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	token, session, err := gate.IssueToken(ctx, "widget-ui", []string{ScopeRead, ScopeQuery}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, MethodJWT, session.AuthMethod)

	got, err := gate.Authenticate(ctx, "Bearer "+token, "")
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.True(t, got.HasScope(ScopeRead))
	assert.True(t, got.HasScope(ScopeQuery))
	assert.False(t, got.HasScope(ScopeWrite))
}

func TestIssueTokenRejectsUnknownScope(t *testing.T) {
	gate, _ := newTestGate(t)
	_, _, err := gate.IssueToken(context.Background(), "c", []string{"nope:scope"}, 0)
	assert.ErrorIs(t, err, api.ErrBadRequest)
}

func TestIssueTokenRejectsExcessiveTTL(t *testing.T) {
	gate, _ := newTestGate(t)
	_, _, err := gate.IssueToken(context.Background(), "c", nil, 48*time.Hour)
	assert.ErrorIs(t, err, api.ErrBadRequest)
}

func TestAuthenticateAPIKey(t *testing.T) {
	gate, _ := newTestGate(t)
	session, err := gate.Authenticate(context.Background(), "", "svc-key-123")
	require.NoError(t, err)
	assert.Equal(t, MethodAPIKey, session.AuthMethod)
	assert.True(t, session.HasScope(ScopeWrite))
	assert.True(t, session.HasScope(ScopeTraces))
}

func TestAuthenticateBadAPIKey(t *testing.T) {
	gate, _ := newTestGate(t)
	_, err := gate.Authenticate(context.Background(), "", "wrong")
	assert.ErrorIs(t, err, api.ErrUnauthenticated)
}

func TestBearerTakesPrecedenceOverAPIKey(t *testing.T) {
	gate, _ := newTestGate(t)
	// Invalid bearer must fail even with a valid API key alongside.
	_, err := gate.Authenticate(context.Background(), "Bearer garbage", "svc-key-123")
	assert.ErrorIs(t, err, api.ErrUnauthenticated)
}

func TestAuthenticateNoCredentials(t *testing.T) {
	gate, _ := newTestGate(t)
	_, err := gate.Authenticate(context.Background(), "", "")
	assert.ErrorIs(t, err, api.ErrUnauthenticated)
}

func TestAuthenticateNonBearerScheme(t *testing.T) {
	gate, _ := newTestGate(t)
	_, err := gate.Authenticate(context.Background(), "Basic dXNlcjpwYXNz", "")
	assert.ErrorIs(t, err, api.ErrUnauthenticated)
}

func TestExpiredToken(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	gate.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := gate.IssueToken(ctx, "c", nil, time.Hour)
	require.NoError(t, err)

	gate.now = time.Now
	_, err = gate.Authenticate(ctx, "Bearer "+token, "")
	assert.ErrorIs(t, err, api.ErrUnauthenticated)
}

func TestRevokedSession(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	token, session, err := gate.IssueToken(ctx, "c", nil, 0)
	require.NoError(t, err)
	require.NoError(t, gate.Revoke(ctx, session.ID))

	_, err = gate.Authenticate(ctx, "Bearer "+token, "")
	assert.ErrorIs(t, err, api.ErrUnauthenticated)
}

func TestTamperedTokenRejected(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	other := NewGate(Config{SigningKey: []byte("other-key")}, NewMemorySessionStore())
	token, _, err := other.IssueToken(ctx, "c", nil, 0)
	require.NoError(t, err)

	_, err = gate.Authenticate(ctx, "Bearer "+token, "")
	assert.ErrorIs(t, err, api.ErrUnauthenticated)
}

func TestAlgorithmConfusionRejected(t *testing.T) {
	gate, _ := newTestGate(t)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "whatever",
		"iss": "kbai",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = gate.Authenticate(context.Background(), "Bearer "+token, "")
	assert.ErrorIs(t, err, api.ErrUnauthenticated)
}

func TestRequireScope(t *testing.T) {
	s := &Session{Scopes: []string{ScopeRead}}
	assert.NoError(t, RequireScope(s, ScopeRead))
	assert.ErrorIs(t, RequireScope(s, ScopeWrite), api.ErrForbidden)
	assert.ErrorIs(t, RequireScope(nil, ScopeRead), api.ErrUnauthenticated)

	admin := &Session{Scopes: []string{ScopeWildcard}}
	assert.NoError(t, RequireScope(admin, ScopeTraces))
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.CreateSession(ctx, &Session{ID: "old", ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, store.CreateSession(ctx, &Session{ID: "live", ExpiresAt: now.Add(time.Hour)}))

	n, err := store.DeleteExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetSession(ctx, "old")
	assert.ErrorIs(t, err, api.ErrNotFound)
	_, err = store.GetSession(ctx, "live")
	assert.NoError(t, err)
}
