package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/platinummonkey/kbai/pkg/api"
)

// DefaultTokenTTL bounds how long an issued bearer token stays valid
// when the caller does not request a TTL.
const DefaultTokenTTL = 1 * time.Hour

// MaxTokenTTL is the longest TTL a caller may request.
const MaxTokenTTL = 24 * time.Hour

// Config holds gate configuration. JWT auth is enabled when SigningKey
// is set; API key auth is enabled when APIKey is set. At least one
// must be configured for protected routes to be reachable.
type Config struct {
	SigningKey []byte
	APIKey     string
	Issuer     string
	TokenTTL   time.Duration
}

// Gate authenticates requests. Bearer tokens take precedence over the
// API key header: a request presenting an invalid bearer token is
// rejected even if it also carries a valid API key.
type Gate struct {
	cfg   Config
	store SessionStore
	now   func() time.Time
}

type tokenClaims struct {
	Scopes     []string `json:"scopes"`
	ClientName string   `json:"client_name"`
	jwt.RegisteredClaims
}

// NewGate creates a Gate backed by the given session store.
func NewGate(cfg Config, store SessionStore) *Gate {
	if cfg.Issuer == "" {
		cfg.Issuer = "kbai"
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	return &Gate{cfg: cfg, store: store, now: time.Now}
}

// JWTEnabled reports whether bearer tokens can be issued and verified.
func (g *Gate) JWTEnabled() bool { return len(g.cfg.SigningKey) > 0 }

// APIKeyEnabled reports whether a service API key is configured.
func (g *Gate) APIKeyEnabled() bool { return g.cfg.APIKey != "" }

// IssueToken mints a signed bearer token and persists its session.
// Unknown scopes are rejected; a zero TTL uses the configured default.
func (g *Gate) IssueToken(ctx context.Context, clientName string, scopes []string, ttl time.Duration) (string, *Session, error) {
	if !g.JWTEnabled() {
		return "", nil, fmt.Errorf("%w: jwt auth is not configured", api.ErrUnavailable)
	}
	if len(scopes) == 0 {
		scopes = AllScopes
	}
	for _, s := range scopes {
		if !ValidScope(s) {
			return "", nil, fmt.Errorf("%w: unknown scope %q", api.ErrBadRequest, s)
		}
	}
	if ttl <= 0 {
		ttl = g.cfg.TokenTTL
	}
	if ttl > MaxTokenTTL {
		return "", nil, fmt.Errorf("%w: ttl exceeds maximum of %s", api.ErrBadRequest, MaxTokenTTL)
	}

	now := g.now().UTC()
	session := &Session{
		ID:         uuid.NewString(),
		JTI:        uuid.NewString(),
		ClientName: clientName,
		Scopes:     scopes,
		AuthMethod: MethodJWT,
		IssuedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}

	claims := tokenClaims{
		Scopes:     scopes,
		ClientName: clientName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.cfg.Issuer,
			Subject:   session.ID,
			ID:        session.JTI,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.cfg.SigningKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	if err := g.store.CreateSession(ctx, session); err != nil {
		return "", nil, fmt.Errorf("failed to persist session: %w", err)
	}
	return signed, session, nil
}

// Authenticate resolves a request's credentials to a session.
// authorization is the raw Authorization header value, apiKey the raw
// X-API-Key header value.
func (g *Gate) Authenticate(ctx context.Context, authorization, apiKey string) (*Session, error) {
	if authorization != "" {
		token, ok := strings.CutPrefix(authorization, "Bearer ")
		if !ok {
			return nil, fmt.Errorf("%w: authorization header must use the Bearer scheme", api.ErrUnauthenticated)
		}
		return g.verifyToken(ctx, strings.TrimSpace(token))
	}
	if apiKey != "" {
		return g.verifyAPIKey(apiKey)
	}
	return nil, fmt.Errorf("%w: no credentials provided", api.ErrUnauthenticated)
}

func (g *Gate) verifyToken(ctx context.Context, token string) (*Session, error) {
	if !g.JWTEnabled() {
		return nil, fmt.Errorf("%w: jwt auth is not configured", api.ErrUnauthenticated)
	}

	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.cfg.SigningKey, nil
	}, jwt.WithIssuer(g.cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid or expired token", api.ErrUnauthenticated)
	}

	session, err := g.store.GetSession(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown session", api.ErrUnauthenticated)
	}
	if session.Disabled {
		return nil, fmt.Errorf("%w: session revoked", api.ErrUnauthenticated)
	}
	if session.JTI != claims.ID {
		return nil, fmt.Errorf("%w: token superseded", api.ErrUnauthenticated)
	}
	if g.now().After(session.ExpiresAt) {
		return nil, fmt.Errorf("%w: session expired", api.ErrUnauthenticated)
	}
	return session, nil
}

func (g *Gate) verifyAPIKey(candidate string) (*Session, error) {
	if !g.APIKeyEnabled() {
		return nil, fmt.Errorf("%w: api key auth is not configured", api.ErrUnauthenticated)
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(g.cfg.APIKey)) != 1 {
		return nil, fmt.Errorf("%w: invalid api key", api.ErrUnauthenticated)
	}
	now := g.now().UTC()
	return &Session{
		ID:         "api-key",
		ClientName: "api-key",
		Scopes:     []string{ScopeWildcard},
		AuthMethod: MethodAPIKey,
		IssuedAt:   now,
		ExpiresAt:  now.Add(time.Minute),
	}, nil
}

// VerifyAPIKey checks a raw key in constant time. Used by the token
// endpoint, which exchanges the service key for a scoped session.
func (g *Gate) VerifyAPIKey(candidate string) bool {
	return g.APIKeyEnabled() &&
		subtle.ConstantTimeCompare([]byte(candidate), []byte(g.cfg.APIKey)) == 1
}

// Revoke disables a session so its outstanding tokens stop working.
func (g *Gate) Revoke(ctx context.Context, sessionID string) error {
	if err := g.store.DisableSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to revoke session %s: %w", sessionID, err)
	}
	return nil
}

// RequireScope returns nil when the session grants scope.
func RequireScope(session *Session, scope string) error {
	if session == nil {
		return fmt.Errorf("%w: no session", api.ErrUnauthenticated)
	}
	if !session.HasScope(scope) {
		return fmt.Errorf("%w: missing scope %s", api.ErrForbidden, scope)
	}
	return nil
}
