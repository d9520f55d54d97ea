// Package gateway composes the resilience layers into the public entry point:
// request validation, response cache, circuit breakers, session lifecycle,
// privileged-command authorization, and the backend call itself.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/draiv/vehicle-gateway/internal/log"
	"github.com/draiv/vehicle-gateway/pkg/apierr"
	"github.com/draiv/vehicle-gateway/pkg/authorize"
	"github.com/draiv/vehicle-gateway/pkg/backend"
	"github.com/draiv/vehicle-gateway/pkg/breaker"
	"github.com/draiv/vehicle-gateway/pkg/cache"
	"github.com/draiv/vehicle-gateway/pkg/fingerprint"
	"github.com/draiv/vehicle-gateway/pkg/session"
)

// Request is one inbound gateway call, already parsed by the entry point.
type Request struct {
	OwnerID    string `validate:"required"`
	Username   string `validate:"required"`
	Password   string `validate:"required"`
	ResourceID string `validate:"required,alphanum,min=3,max=32"`
	Action     string `validate:"required"`

	// Secondary secrets, only consulted for privileged actions.
	PIN       string
	Challenge string

	Params map[string]interface{}
}

// Result is a successful gateway response.
type Result struct {
	Data     json.RawMessage
	CacheHit bool
}

// Metrics receives gateway-level counters. Implementations must be cheap and
// non-blocking. A nil Metrics is valid.
type Metrics interface {
	CacheHit(class string)
	CacheMiss(class string)
	BackendCall(class, outcome string)
}

// Gateway orchestrates a request through validation, cache, breaker, session,
// authorization, and the backend client.
type Gateway struct {
	client     backend.Client
	rotator    *fingerprint.Rotator
	sessions   *session.Manager
	breakers   *breaker.Set
	cache      *cache.Cache
	authorizer *authorize.Authorizer
	config     Config
	validate   *validator.Validate
	metrics    Metrics

	limiterLock sync.Mutex
	limiters    map[string]*rate.Limiter

	sleep func(ctx context.Context, d time.Duration) error
}

// New wires a Gateway from its collaborators. challenges may be nil when the
// deployment does not use challenge tokens.
func New(client backend.Client, rotator *fingerprint.Rotator, pins authorize.PINVerifier, challenges authorize.ChallengeVerifier, config Config) *Gateway {
	config = config.withDefaults()
	g := &Gateway{
		client:     client,
		rotator:    rotator,
		breakers:   breaker.NewSet(config.breakerConfig()),
		cache:      cache.New(config.CacheEntries),
		authorizer: authorize.New(pins, challenges, config.authorizeConfig()),
		config:     config,
		validate:   validator.New(),
		limiters:   make(map[string]*rate.Limiter),
		sleep:      sleepContext,
	}
	g.sessions = session.NewManager(client, func(ctx context.Context) string {
		return rotator.Fingerprint(ctx).Value
	}, config.SessionLifetime.value())
	return g
}

// SetMetrics installs the metrics sink. Call before serving traffic.
func (g *Gateway) SetMetrics(m Metrics) {
	g.metrics = m
}

// Breakers exposes the breaker set for state observation (metrics, health).
func (g *Gateway) Breakers() *breaker.Set {
	return g.breakers
}

// Execute runs one request end to end. Errors are *apierr.Error values.
func (g *Gateway) Execute(ctx context.Context, req Request) (*Result, error) {
	act, err := g.validateRequest(req)
	if err != nil {
		return nil, err
	}

	if !g.ownerLimiter(req.OwnerID).Allow() {
		return nil, &apierr.Error{
			Code:       apierr.CodeRateLimited,
			Message:    "too many requests for this owner",
			RetryAfter: time.Minute / time.Duration(g.config.OwnerRate.PerMinute),
		}
	}

	key := cache.Key{Operation: string(act.operation), ResourceID: req.ResourceID}
	if act.cacheable {
		if value, ok := g.cache.Get(key); ok {
			g.countCache(act.class, true)
			return &Result{Data: value.(json.RawMessage), CacheHit: true}, nil
		}
		g.countCache(act.class, false)
	}

	br := g.breakers.Get(act.class)
	if err := br.Allow(); err != nil {
		return nil, breakerError(err)
	}

	sess, err := g.sessions.Get(ctx, req.OwnerID, session.Credentials{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		return nil, g.classifyFailure(br, req, err)
	}

	if act.privileged {
		ticket, err := g.authorizer.Verify(ctx, req.OwnerID, req.Action, authorize.Secret{
			PIN:       req.PIN,
			Challenge: req.Challenge,
		})
		if err != nil {
			// A rejected secret says nothing about backend health: free the
			// breaker's trial slot rather than recording an outcome.
			br.Release()
			return nil, authorizeError(err)
		}
		if err := ticket.Consume(); err != nil {
			br.Release()
			return nil, apierr.Wrap(apierr.CodeInternal, err)
		}
	}

	data, err := g.dispatch(ctx, br, act, req, sess)
	if err != nil {
		return nil, err
	}

	br.RecordSuccess()
	g.countBackend(act.class, "success")
	if act.cacheable {
		g.cache.Put(key, data, g.config.ttlFor(act.operation))
	}
	if act.mutating {
		g.cache.InvalidateResource(req.ResourceID)
	}
	return &Result{Data: data}, nil
}

// Logout destroys the owner's session. The next privileged action will demand a
// fresh challenge token.
func (g *Gateway) Logout(ownerID string) {
	g.sessions.Invalidate(ownerID)
	g.authorizer.ResetChallenge(ownerID)
}

func (g *Gateway) validateRequest(req Request) (actionSpec, error) {
	if err := g.validate.Struct(req); err != nil {
		return actionSpec{}, apierr.Newf(apierr.CodeValidation, "invalid request: %s", validationDetail(err))
	}
	act, ok := actions[req.Action]
	if !ok {
		return actionSpec{}, apierr.Newf(apierr.CodeValidation, "unknown action %q", req.Action)
	}
	return act, nil
}

// dispatch performs the backend call with the class timeout, retrying transient
// failures a bounded number of times. Remote commands are detached from caller
// cancellation once dispatched, since a vehicle command is not safely abortable
// mid-flight.
func (g *Gateway) dispatch(ctx context.Context, br *breaker.Breaker, act actionSpec, req Request, sess *session.Session) (json.RawMessage, error) {
	call := backend.Call{
		Fingerprint: sess.Fingerprint,
		Session:     sess.Token,
		Operation:   act.operation,
		ResourceID:  req.ResourceID,
		Params:      req.Params,
	}
	base := ctx
	if act.class == ClassRemoteCommand {
		base = context.WithoutCancel(ctx)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(base, g.config.timeoutFor(act.class))
		data, err := g.client.Execute(callCtx, call)
		cancel()
		if err == nil {
			return data, nil
		}
		lastErr = err

		if backend.KindOf(err) != backend.KindTransient || attempt >= g.config.Retry.Attempts {
			return nil, g.classifyFailure(br, req, lastErr)
		}
		br.RecordFailure()
		g.countBackend(act.class, "transient")
		if br.Allow() != nil {
			// The retry budget does not bypass an open breaker.
			return nil, g.classifyFailure(br, req, lastErr)
		}
		backoff := g.config.Retry.Backoff.value() << attempt
		log.Debug("Transient backend failure on %s, retrying in %s", act.operation, backoff)
		if err := g.sleep(ctx, backoff); err != nil {
			// The Allow check above may have handed out a new trial slot.
			br.Release()
			return nil, apierr.Wrap(apierr.CodeTransientBackend, lastErr)
		}
	}
}

// classifyFailure turns a backend error into the public taxonomy and applies the
// breaker/session policy for its kind.
func (g *Gateway) classifyFailure(br *breaker.Breaker, req Request, err error) error {
	act := actions[req.Action]
	switch backend.KindOf(err) {
	case backend.KindAuthentication:
		// Credentials are presumed stale, not transient. Session is gone; a
		// fresh login also re-triggers the challenge. Not a breaker outcome.
		br.Release()
		g.sessions.Invalidate(req.OwnerID)
		g.authorizer.ResetChallenge(req.OwnerID)
		g.countBackend(act.class, "auth")
		return apierr.Wrap(apierr.CodeAuthentication, err)
	case backend.KindQuota:
		pause := br.RecordQuota(backend.RetryAfterHint(err))
		g.countBackend(act.class, "quota")
		log.Warning("Backend quota exhausted for %s, pausing %s", act.class, pause)
		return &apierr.Error{
			Code:       apierr.CodeQuotaPaused,
			Message:    "backend call volume quota exhausted",
			RetryAfter: pause,
			Err:        err,
		}
	case backend.KindNotFound:
		// Not a health signal either: the trial slot must not be left occupied.
		br.Release()
		return apierr.Wrap(apierr.CodeResourceNotFound, err)
	case backend.KindTransient:
		br.RecordFailure()
		g.countBackend(act.class, "transient")
		return apierr.Wrap(apierr.CodeTransientBackend, err)
	default:
		br.RecordFailure()
		g.countBackend(act.class, "unknown")
		return apierr.Wrap(apierr.CodeInternal, err)
	}
}

func breakerError(err error) error {
	var open *breaker.OpenError
	if errors.As(err, &open) {
		return &apierr.Error{
			Code:       apierr.CodeCircuitOpen,
			Message:    fmt.Sprintf("circuit open for %s", open.Key),
			RetryAfter: open.RetryAfter,
			Err:        err,
		}
	}
	var paused *breaker.QuotaPausedError
	if errors.As(err, &paused) {
		return &apierr.Error{
			Code:       apierr.CodeQuotaPaused,
			Message:    "backend call volume quota exhausted",
			RetryAfter: paused.RetryAfter,
			Err:        err,
		}
	}
	return apierr.Wrap(apierr.CodeInternal, err)
}

func authorizeError(err error) error {
	var invalid *authorize.InvalidSecretError
	if errors.As(err, &invalid) {
		return apierr.Wrap(apierr.CodeInvalidSecondarySecret, err)
	}
	var locked *authorize.LockoutError
	if errors.As(err, &locked) {
		return &apierr.Error{
			Code:       apierr.CodeSecondarySecretLockout,
			Message:    "too many failed verification attempts",
			RetryAfter: locked.RetryAfter,
			Err:        err,
		}
	}
	return apierr.Wrap(apierr.CodeInternal, err)
}

func (g *Gateway) ownerLimiter(ownerID string) *rate.Limiter {
	g.limiterLock.Lock()
	defer g.limiterLock.Unlock()
	limiter, ok := g.limiters[ownerID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(g.config.OwnerRate.PerMinute)/60), g.config.OwnerRate.Burst)
		g.limiters[ownerID] = limiter
	}
	return limiter
}

func (g *Gateway) countCache(class string, hit bool) {
	if g.metrics == nil {
		return
	}
	if hit {
		g.metrics.CacheHit(class)
	} else {
		g.metrics.CacheMiss(class)
	}
}

func (g *Gateway) countBackend(class, outcome string) {
	if g.metrics != nil {
		g.metrics.BackendCall(class, outcome)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func validationDetail(err error) string {
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		f := fields[0]
		return fmt.Sprintf("field %s failed %s validation", f.Field(), f.Tag())
	}
	return err.Error()
}
