// Package breaker implements the per-operation-class circuit breaker guarding calls
// to the OEM backend.
//
// Beyond the usual CLOSED/OPEN/HALF_OPEN cycle, the breaker has a fourth state,
// QUOTA_PAUSED, for backend-signaled rate limiting. Quota exhaustion is an expected,
// time-bounded condition distinct from a degraded backend: counting it as a failure
// would trip the breaker on normal quota cycling, and treating a real outage as a
// quota pause would retry too eagerly. QUOTA_PAUSED therefore has its own timing
// source, taken from the backend's replenishment hint when one is available.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/draiv/vehicle-gateway/internal/log"
)

// State of a breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
	QuotaPaused
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	case QuotaPaused:
		return "QUOTA_PAUSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// OpenError is returned by Allow while the breaker is open.
type OpenError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit %q is open, retry in %s", e.Key, e.RetryAfter)
}

// QuotaPausedError is returned by Allow while the backend's quota is exhausted.
type QuotaPausedError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *QuotaPausedError) Error() string {
	return fmt.Sprintf("backend quota exhausted for %q, retry in %s", e.Key, e.RetryAfter)
}

// Config holds breaker tuning. The zero value is unusable; use DefaultConfig.
type Config struct {
	// FailureThreshold is the number of failures within Window that opens the
	// breaker.
	FailureThreshold int
	// Window is the sliding interval over which failures are counted.
	Window time.Duration
	// RecoveryTimeout is the initial OPEN duration before a trial call. Each failed
	// trial doubles the next timeout up to MaxRecoveryTimeout.
	RecoveryTimeout    time.Duration
	MaxRecoveryTimeout time.Duration
	// QuotaPause is the pause applied when the backend reports quota exhaustion
	// without a replenishment hint. Repeated hintless quota errors back off
	// exponentially up to MaxQuotaPause.
	QuotaPause    time.Duration
	MaxQuotaPause time.Duration
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		Window:             time.Minute,
		RecoveryTimeout:    time.Minute,
		MaxRecoveryTimeout: 16 * time.Minute,
		QuotaPause:         time.Minute,
		MaxQuotaPause:      time.Hour,
	}
}

// Breaker guards one (backend, operation-class) pair. All methods are safe for
// concurrent use; each breaker has its own lock so unrelated operation classes never
// contend.
type Breaker struct {
	key          string
	config       Config
	now          func() time.Time
	onTransition func(key string, state State)

	lock         sync.Mutex
	state        State
	failures     []time.Time // failure timestamps within the sliding window
	lastFailure  time.Time
	openedAt     time.Time
	recovery     time.Duration // current recovery timeout, doubles on failed trials
	trialPending bool          // a HALF_OPEN trial call is in flight
	pauseUntil   time.Time     // QUOTA_PAUSED expiry
	quotaStreak  int           // consecutive hintless quota errors, drives backoff
}

// New creates a Breaker for key.
func New(key string, config Config) *Breaker {
	return &Breaker{
		key:      key,
		config:   config,
		now:      time.Now,
		state:    Closed,
		recovery: config.RecoveryTimeout,
	}
}

// Allow reports whether a call may proceed. In HALF_OPEN exactly one caller is
// granted the trial slot; everyone else is rejected until the trial resolves.
func (b *Breaker) Allow() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	now := b.now()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if remaining := b.openedAt.Add(b.recovery).Sub(now); remaining > 0 {
			return &OpenError{Key: b.key, RetryAfter: remaining}
		}
		b.transition(HalfOpen)
	case QuotaPaused:
		if remaining := b.pauseUntil.Sub(now); remaining > 0 {
			return &QuotaPausedError{Key: b.key, RetryAfter: remaining}
		}
		b.transition(HalfOpen)
	}

	// HALF_OPEN: admit a single trial call.
	if b.trialPending {
		return &OpenError{Key: b.key, RetryAfter: b.recovery}
	}
	b.trialPending = true
	return nil
}

// RecordSuccess notes a successful backend call.
func (b *Breaker) RecordSuccess() {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.state == HalfOpen {
		b.transition(Closed)
	}
	b.failures = b.failures[:0]
	b.recovery = b.config.RecoveryTimeout
	b.trialPending = false
	b.quotaStreak = 0
}

// Release frees the HALF_OPEN trial slot without recording an outcome. Callers
// admitted by Allow whose call then fails for reasons that say nothing about backend
// health (a rejected PIN, an unknown resource, stale credentials) must call this so
// the next caller can still run the trial. Every call admitted by Allow resolves
// exactly once, through Release or one of the Record methods.
func (b *Breaker) Release() {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.state == HalfOpen {
		b.trialPending = false
	}
}

// RecordFailure notes a transient backend failure. In CLOSED, reaching the failure
// threshold within the sliding window opens the breaker. A failed HALF_OPEN trial
// reopens it with a doubled recovery timeout, capped at MaxRecoveryTimeout.
func (b *Breaker) RecordFailure() {
	b.lock.Lock()
	defer b.lock.Unlock()
	now := b.now()
	b.lastFailure = now

	switch b.state {
	case HalfOpen:
		b.trialPending = false
		b.recovery = min(2*b.recovery, b.config.MaxRecoveryTimeout)
		b.openedAt = now
		b.transition(Open)
	case Closed:
		b.failures = append(b.failures, now)
		b.pruneWindow(now)
		if len(b.failures) >= b.config.FailureThreshold {
			b.openedAt = now
			b.transition(Open)
		}
	}
	// Failures reported while OPEN or QUOTA_PAUSED (stragglers from calls admitted
	// earlier) don't change state.
}

// RecordQuota notes a backend quota/rate-limit signal. Not counted toward the failure
// threshold. The pause honors the backend's replenishment hint; without one, a
// conservative default backs off exponentially across consecutive quota errors.
//
// QUOTA_PAUSED is entered from CLOSED or HALF_OPEN only. A straggler quota error
// arriving while OPEN must not cut the recovery timeout short; the remaining
// recovery time is returned as the pause instead.
func (b *Breaker) RecordQuota(hint time.Duration) time.Duration {
	b.lock.Lock()
	defer b.lock.Unlock()
	now := b.now()

	if b.state == Open {
		return max(0, b.openedAt.Add(b.recovery).Sub(now))
	}
	b.trialPending = false

	pause := hint
	if pause <= 0 {
		b.quotaStreak++
		pause = b.config.QuotaPause << (b.quotaStreak - 1)
		if pause > b.config.MaxQuotaPause || pause <= 0 {
			pause = b.config.MaxQuotaPause
		}
	}
	b.pauseUntil = now.Add(pause)
	b.transition(QuotaPaused)
	return pause
}

// Snapshot describes breaker state for observation.
type Snapshot struct {
	Key          string
	State        State
	FailureCount int
	LastFailure  time.Time
	OpenedAt     time.Time
	RetryAfter   time.Duration
}

func (b *Breaker) Snapshot() Snapshot {
	b.lock.Lock()
	defer b.lock.Unlock()
	now := b.now()
	b.pruneWindow(now)

	snap := Snapshot{
		Key:          b.key,
		State:        b.state,
		FailureCount: len(b.failures),
		LastFailure:  b.lastFailure,
		OpenedAt:     b.openedAt,
	}
	switch b.state {
	case Open:
		snap.RetryAfter = max(0, b.openedAt.Add(b.recovery).Sub(now))
	case QuotaPaused:
		snap.RetryAfter = max(0, b.pauseUntil.Sub(now))
	}
	return snap
}

// transition must be called with the lock held.
func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	log.Info("Circuit %q: %s -> %s", b.key, b.state, next)
	b.state = next
	if next == Closed {
		b.failures = b.failures[:0]
	}
	if b.onTransition != nil {
		b.onTransition(b.key, next)
	}
}

// pruneWindow must be called with the lock held.
func (b *Breaker) pruneWindow(now time.Time) {
	cutoff := now.Add(-b.config.Window)
	kept := b.failures[:0]
	for _, at := range b.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	b.failures = kept
}
