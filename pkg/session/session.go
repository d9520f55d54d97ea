// Package session owns the backend authentication lifecycle: cached-session reuse,
// single-flight fresh authentication, expiry tracking, and forced invalidation on
// credential errors.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/draiv/vehicle-gateway/internal/log"
	"github.com/draiv/vehicle-gateway/pkg/backend"
)

// DefaultLifetime is assumed when the backend does not state a token lifetime.
// Conservative: shorter than any observed OEM session lifetime.
const DefaultLifetime = 30 * time.Minute

// expiryMargin renews sessions slightly before their stated expiry so in-flight
// calls don't race the deadline.
const expiryMargin = 30 * time.Second

// Session is an authenticated backend session for one owner.
type Session struct {
	OwnerID     string
	Token       string // opaque backend token, never logged
	AcquiredAt  time.Time
	ExpiresAt   time.Time
	Fingerprint string
}

func (s *Session) expired(now time.Time) bool {
	return now.After(s.ExpiresAt.Add(-expiryMargin))
}

// Credentials are the owner's backend credentials, passed through per request. The
// gateway never stores them.
type Credentials struct {
	Username string
	Password string
}

// Manager caches at most one live session per owner and authenticates on demand.
type Manager struct {
	client      backend.Client
	fingerprint func(context.Context) string
	lifetime    time.Duration
	now         func() time.Time

	group    singleflight.Group
	lock     sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a Manager. fingerprint supplies the outbound identity for
// authentication calls; lifetime overrides DefaultLifetime when positive.
func NewManager(client backend.Client, fingerprint func(context.Context) string, lifetime time.Duration) *Manager {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Manager{
		client:      client,
		fingerprint: fingerprint,
		lifetime:    lifetime,
		now:         time.Now,
		sessions:    make(map[string]*Session),
	}
}

// Get returns the owner's live session, authenticating against the backend if none
// exists. Concurrent callers for the same owner share a single in-flight
// authentication; each owner's authentication is independent of every other's.
//
// A backend credential rejection invalidates any cached session for the owner and is
// returned unwrapped so the caller can classify it; it is never retried here, since
// rejected credentials are presumed stale rather than transient.
func (m *Manager) Get(ctx context.Context, ownerID string, creds Credentials) (*Session, error) {
	if s := m.lookup(ownerID); s != nil {
		return s, nil
	}

	// The flight is shared by every concurrent caller for the owner, so it must not
	// die with the first caller's context. Callers that give up stop waiting below;
	// the authentication itself runs to completion for whoever remains.
	flightCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(ownerID, func() (interface{}, error) {
		// Re-check under the flight: a concurrent caller may have just finished.
		if s := m.lookup(ownerID); s != nil {
			return s, nil
		}
		return m.authenticate(flightCtx, ownerID, creds)
	})

	select {
	case result := <-ch:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) authenticate(ctx context.Context, ownerID string, creds Credentials) (*Session, error) {
	fp := m.fingerprint(ctx)
	log.Info("Authenticating owner %s", ownerID)
	token, err := m.client.Authenticate(ctx, backend.AuthRequest{
		Owner:       ownerID,
		Username:    creds.Username,
		Password:    creds.Password,
		Fingerprint: fp,
	})
	if err != nil {
		if backend.KindOf(err) == backend.KindAuthentication {
			m.Invalidate(ownerID)
		}
		return nil, err
	}

	now := m.now()
	s := &Session{
		OwnerID:     ownerID,
		Token:       token.Value,
		AcquiredAt:  now,
		ExpiresAt:   m.expiry(token, now),
		Fingerprint: fp,
	}

	m.lock.Lock()
	m.sessions[ownerID] = s // supersedes any previous session for the owner
	m.lock.Unlock()
	return s, nil
}

// expiry derives the session deadline: the backend's stated lifetime wins, then the
// token's own exp claim when it happens to be a JWT, then the conservative default.
func (m *Manager) expiry(token backend.Token, now time.Time) time.Time {
	if !token.ExpiresAt.IsZero() {
		return token.ExpiresAt
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token.Value, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.After(now) {
			return exp.Time
		}
	}
	return now.Add(m.lifetime)
}

// Invalidate destroys the owner's session, if any. Called on logout and on backend
// credential errors.
func (m *Manager) Invalidate(ownerID string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.sessions[ownerID]; ok {
		log.Info("Invalidating session for owner %s", ownerID)
		delete(m.sessions, ownerID)
	}
}

func (m *Manager) lookup(ownerID string) *Session {
	m.lock.RLock()
	defer m.lock.RUnlock()
	s, ok := m.sessions[ownerID]
	if !ok || s.expired(m.now()) {
		return nil
	}
	return s
}

// ActiveSessions reports the number of cached non-expired sessions.
func (m *Manager) ActiveSessions() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	now := m.now()
	count := 0
	for _, s := range m.sessions {
		if !s.expired(now) {
			count++
		}
	}
	return count
}
