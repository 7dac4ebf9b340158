// Package auth implements the authentication gate: short-lived JWT
// bearer sessions and a static service API key, with scope-based
// authorization.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/kbai/pkg/api"
)

// Scopes. The wildcard grants everything.
const (
	ScopeRead     = "kb:read"
	ScopeWrite    = "kb:write"
	ScopeQuery    = "kb:query"
	ScopeTraces   = "traces:read"
	ScopeWildcard = "*"
)

// AllScopes lists every grantable scope except the wildcard.
var AllScopes = []string{ScopeRead, ScopeWrite, ScopeQuery, ScopeTraces}

// Auth methods recorded on a session.
const (
	MethodJWT    = "jwt"
	MethodAPIKey = "api_key"
)

// Session is an authenticated principal. JWT sessions are persisted so
// they can be revoked before expiry; the API key session is synthetic.
type Session struct {
	ID         string    `json:"id"`
	JTI        string    `json:"jti"`
	ClientName string    `json:"client_name"`
	Scopes     []string  `json:"scopes"`
	AuthMethod string    `json:"auth_method"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Disabled   bool      `json:"disabled"`
}

// HasScope reports whether the session grants the given scope.
func (s *Session) HasScope(scope string) bool {
	for _, have := range s.Scopes {
		if have == ScopeWildcard || have == scope {
			return true
		}
	}
	return false
}

// ValidScope reports whether scope is a known grantable scope.
func ValidScope(scope string) bool {
	if scope == ScopeWildcard {
		return true
	}
	for _, s := range AllScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// SessionStore persists JWT sessions for revocation checks.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DisableSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error)
}

// MemorySessionStore is an in-process SessionStore. It backs
// deployments without a metadata database and the test suite.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

// CreateSession stores a session.
func (m *MemorySessionStore) CreateSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

// GetSession returns a session by ID.
func (m *MemorySessionStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, api.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

// DisableSession marks a session revoked.
func (m *MemorySessionStore) DisableSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, api.ErrNotFound)
	}
	s.Disabled = true
	return nil
}

// DeleteExpiredSessions drops sessions that expired before the cutoff.
func (m *MemorySessionStore) DeleteExpiredSessions(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.ExpiresAt.Before(before) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}
