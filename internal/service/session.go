package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// DefaultSessionTTL matches the admin session cookie max-age.
const DefaultSessionTTL = 24 * time.Hour

// sweepInterval is how often expired sessions are evicted in bulk. Validate
// also expires lazily, so the sweep only bounds memory for abandoned ids.
const sweepInterval = 10 * time.Minute

// SessionStore issues and validates opaque admin session identifiers with an
// explicit server-side TTL. Sessions expire lazily on validation and are
// swept periodically, so the set never grows without bound.
type SessionStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]time.Time // session id -> expiry
}

// NewSessionStore creates a session store. Pass zero to use DefaultSessionTTL.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]time.Time),
	}
}

// TTL returns the configured session lifetime, used for the cookie max-age.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Create issues a new unguessable session id.
func (s *SessionStore) Create() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("generate session id: " + err.Error())
	}
	id := base64.RawURLEncoding.EncodeToString(b)

	s.mu.Lock()
	s.sessions[id] = s.now().Add(s.ttl)
	s.mu.Unlock()
	return id
}

// Validate reports whether the session id is known and unexpired. Expired
// entries are removed on sight.
func (s *SessionStore) Validate(id string) bool {
	if id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.sessions[id]
	if !ok {
		return false
	}
	if s.now().After(expiry) {
		delete(s.sessions, id)
		return false
	}
	return true
}

// Revoke destroys a session.
func (s *SessionStore) Revoke(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Sweep evicts all expired sessions.
func (s *SessionStore) Sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, expiry := range s.sessions {
		if now.After(expiry) {
			delete(s.sessions, id)
		}
	}
}

// Run sweeps periodically until ctx is cancelled.
func (s *SessionStore) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
