// Package authorize gates privileged vehicle commands behind secondary-secret
// verification, independent of the backend session.
//
// Two secret classes exist: a one-time challenge token (bot verification, required
// once per fresh session on the owner's first privileged action) and a standing
// short numeric PIN (required on every privileged command). Verification failures
// are caller errors, never backend-health signals; they are invisible to the circuit
// breaker, but repeated failures trigger a short owner-scoped lockout to blunt
// guessing.
package authorize

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/draiv/vehicle-gateway/internal/log"
)

// PINVerifier checks an owner's standing S-PIN. Implemented by an external
// verification provider.
type PINVerifier interface {
	VerifyPIN(ctx context.Context, ownerID, pin string) (bool, error)
}

// ChallengeVerifier checks a one-time challenge token (e.g. hCaptcha). Implemented
// by an external verification provider.
type ChallengeVerifier interface {
	VerifyChallenge(ctx context.Context, ownerID, token string) (bool, error)
}

// PINVerifierFunc adapts a function to the PINVerifier interface.
type PINVerifierFunc func(ctx context.Context, ownerID, pin string) (bool, error)

func (f PINVerifierFunc) VerifyPIN(ctx context.Context, ownerID, pin string) (bool, error) {
	return f(ctx, ownerID, pin)
}

// ChallengeVerifierFunc adapts a function to the ChallengeVerifier interface.
type ChallengeVerifierFunc func(ctx context.Context, ownerID, token string) (bool, error)

func (f ChallengeVerifierFunc) VerifyChallenge(ctx context.Context, ownerID, token string) (bool, error) {
	return f(ctx, ownerID, token)
}

// Secret carries the secondary secrets supplied with a privileged request.
type Secret struct {
	PIN       string
	Challenge string
}

// InvalidSecretError indicates a missing or incorrect secondary secret. It does not
// consume a ticket and must not reach the circuit breaker.
type InvalidSecretError struct {
	Reason string
}

func (e *InvalidSecretError) Error() string {
	return "secondary secret rejected: " + e.Reason
}

// LockoutError indicates too many consecutive verification failures for the same
// owner and command.
type LockoutError struct {
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("too many failed verification attempts, retry in %s", e.RetryAfter)
}

// Ticket proves a single successful verification. It is consumed exactly once,
// immediately before the privileged backend call, and never outlives the request.
type Ticket struct {
	OwnerID    string
	Command    string
	VerifiedAt time.Time

	lock sync.Mutex
	used bool
}

// Consume marks the ticket used. The second and later calls fail.
func (t *Ticket) Consume() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.used {
		return fmt.Errorf("authorization ticket for %s already consumed", t.Command)
	}
	t.used = true
	return nil
}

// Config tunes the guessing lockout.
type Config struct {
	// MaxFailures is the number of consecutive verification failures for one
	// owner+command before a lockout.
	MaxFailures int
	// Lockout is how long verification is refused once triggered.
	Lockout time.Duration
}

func DefaultConfig() Config {
	return Config{MaxFailures: 3, Lockout: 5 * time.Minute}
}

type failKey struct {
	owner   string
	command string
}

type failState struct {
	consecutive int
	lockedUntil time.Time
}

// Authorizer verifies secondary secrets and issues single-use tickets.
type Authorizer struct {
	pins       PINVerifier
	challenges ChallengeVerifier
	config     Config
	now        func() time.Time

	lock       sync.Mutex
	failures   map[failKey]*failState
	challenged map[string]bool // owners who passed the challenge this session
}

// New creates an Authorizer. challenges may be nil when the deployment does not use
// challenge tokens.
func New(pins PINVerifier, challenges ChallengeVerifier, config Config) *Authorizer {
	return &Authorizer{
		pins:       pins,
		challenges: challenges,
		config:     config,
		now:        time.Now,
		failures:   make(map[failKey]*failState),
		challenged: make(map[string]bool),
	}
}

// Verify checks the secondary secrets for a privileged command and returns a
// single-use ticket. The challenge token is demanded only on the owner's first
// privileged action per session; the PIN on every call.
func (a *Authorizer) Verify(ctx context.Context, ownerID, command string, secret Secret) (*Ticket, error) {
	if err := a.checkLockout(ownerID, command); err != nil {
		return nil, err
	}

	if a.challenges != nil && !a.isChallenged(ownerID) {
		if secret.Challenge == "" {
			return nil, &InvalidSecretError{Reason: "challenge token required"}
		}
		ok, err := a.challenges.VerifyChallenge(ctx, ownerID, secret.Challenge)
		if err != nil {
			return nil, err
		}
		if !ok {
			a.recordFailure(ownerID, command)
			return nil, &InvalidSecretError{Reason: "challenge token rejected"}
		}
	}

	if secret.PIN == "" {
		return nil, &InvalidSecretError{Reason: "S-PIN required"}
	}
	ok, err := a.pins.VerifyPIN(ctx, ownerID, secret.PIN)
	if err != nil {
		return nil, err
	}
	if !ok {
		a.recordFailure(ownerID, command)
		return nil, &InvalidSecretError{Reason: "S-PIN rejected"}
	}

	a.recordSuccess(ownerID, command)
	return &Ticket{OwnerID: ownerID, Command: command, VerifiedAt: a.now()}, nil
}

// ResetChallenge clears the owner's challenge pass. Called when the owner's session
// ends, so the next fresh session demands a new challenge token.
func (a *Authorizer) ResetChallenge(ownerID string) {
	a.lock.Lock()
	defer a.lock.Unlock()
	delete(a.challenged, ownerID)
}

func (a *Authorizer) isChallenged(ownerID string) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.challenged[ownerID]
}

func (a *Authorizer) checkLockout(ownerID, command string) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	state, ok := a.failures[failKey{ownerID, command}]
	if !ok {
		return nil
	}
	if remaining := state.lockedUntil.Sub(a.now()); remaining > 0 {
		return &LockoutError{RetryAfter: remaining}
	}
	return nil
}

func (a *Authorizer) recordFailure(ownerID, command string) {
	a.lock.Lock()
	defer a.lock.Unlock()
	key := failKey{ownerID, command}
	state, ok := a.failures[key]
	if !ok {
		state = &failState{}
		a.failures[key] = state
	}
	state.consecutive++
	if state.consecutive >= a.config.MaxFailures {
		state.lockedUntil = a.now().Add(a.config.Lockout)
		state.consecutive = 0
		log.Warning("Verification lockout for owner %s command %s", ownerID, command)
	}
}

func (a *Authorizer) recordSuccess(ownerID, command string) {
	a.lock.Lock()
	defer a.lock.Unlock()
	delete(a.failures, failKey{ownerID, command})
	a.challenged[ownerID] = true
}
