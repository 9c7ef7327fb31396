package biz

import (
	"context"
	"sync"
	"time"

	"DualLane/internal/conf"
	"DualLane/internal/model"
	pkglog "DualLane/pkg/log"
	"DualLane/pkg/reliability"

	"github.com/go-kratos/kratos/v2/log"
)

// Operation is the unit of work guarded by the breaker.
type Operation func(ctx context.Context) (*model.TransportResult, error)

// providerBreaker holds the mutable state for one provider key.
// All fields are guarded by mu; counter updates are atomic with respect to
// concurrent failures so the failure threshold is never under-counted.
type providerBreaker struct {
	mu                     sync.Mutex
	state                  model.CircuitBreakerState
	consecutiveFailures    int
	lastFailureTime        time.Time
	halfOpenProbesInFlight int
}

// CircuitBreakerUsecase isolates a failing provider behind a per-key
// CLOSED/OPEN/HALF_OPEN state machine. Breakers are created lazily on first
// reference and never destroyed, only reset.
//
// The OPEN→HALF_OPEN transition is not timer-driven: the effective state is
// recomputed from (state, now, lastFailureTime, recoveryTimeout) on every
// Execute and Snapshot call, which keeps the transition drift-free and
// testable with an injected clock.
type CircuitBreakerUsecase struct {
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int
	now              func() time.Time

	mu       sync.RWMutex
	breakers map[string]*providerBreaker

	logger *pkglog.LogHelper
}

// NewCircuitBreakerUsecase creates a circuit breaker usecase from the
// reliability configuration.
func NewCircuitBreakerUsecase(c *conf.Reliability, logger log.Logger) *CircuitBreakerUsecase {
	uc := &CircuitBreakerUsecase{
		failureThreshold: int(c.CircuitBreakerThreshold),
		recoveryTimeout:  c.CircuitBreakerTimeout.AsDuration(),
		halfOpenMaxCalls: int(c.HalfOpenMaxCalls),
		now:              time.Now,
		breakers:         make(map[string]*providerBreaker),
		logger:           pkglog.NewLogHelper(logger),
	}
	if uc.failureThreshold <= 0 {
		uc.failureThreshold = 5
	}
	if uc.halfOpenMaxCalls <= 0 {
		uc.halfOpenMaxCalls = 1
	}
	return uc
}

// WithClock replaces the breaker's clock. Test hook.
func (uc *CircuitBreakerUsecase) WithClock(now func() time.Time) *CircuitBreakerUsecase {
	uc.now = now
	return uc
}

// effectiveState computes the state a breaker is in at instant now, applying
// the implicit OPEN→HALF_OPEN transition once the recovery timeout elapsed.
// Pure function of its inputs.
func effectiveState(state model.CircuitBreakerState, now, lastFailure time.Time, recoveryTimeout time.Duration) model.CircuitBreakerState {
	if state == model.CircuitOpen && now.Sub(lastFailure) >= recoveryTimeout {
		return model.CircuitHalfOpen
	}
	return state
}

// getOrCreate returns the breaker for the provider key, creating it lazily.
func (uc *CircuitBreakerUsecase) getOrCreate(providerKey string) *providerBreaker {
	uc.mu.RLock()
	b, ok := uc.breakers[providerKey]
	uc.mu.RUnlock()
	if ok {
		return b
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if b, ok = uc.breakers[providerKey]; ok {
		return b
	}
	b = &providerBreaker{state: model.CircuitClosed}
	uc.breakers[providerKey] = b
	return b
}

// Execute runs op through the provider's breaker. It fails fast with a
// CircuitOpenError when the effective state is OPEN, or when HALF_OPEN and
// the probe quota is exhausted. Any error from op counts as a failure; a
// success always resets the consecutive failure counter.
func (uc *CircuitBreakerUsecase) Execute(ctx context.Context, providerKey string, op Operation) (*model.TransportResult, error) {
	b := uc.getOrCreate(providerKey)

	isProbe, err := uc.admit(b, providerKey)
	if err != nil {
		return nil, err
	}

	result, opErr := op(ctx)
	uc.record(b, providerKey, isProbe, opErr)

	return result, opErr
}

// admit decides whether a call may proceed and reserves a probe slot when
// the breaker is half-open.
func (uc *CircuitBreakerUsecase) admit(b *providerBreaker, providerKey string) (isProbe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := uc.now()
	switch effectiveState(b.state, now, b.lastFailureTime, uc.recoveryTimeout) {
	case model.CircuitOpen:
		retryAfter := uc.recoveryTimeout - now.Sub(b.lastFailureTime)
		return false, &reliability.CircuitOpenError{
			ProviderKey: providerKey,
			State:       model.CircuitOpen.String(),
			RetryAfter:  retryAfter,
		}

	case model.CircuitHalfOpen:
		// Materialize the computed transition so probe accounting starts fresh.
		if b.state == model.CircuitOpen {
			b.state = model.CircuitHalfOpen
			b.halfOpenProbesInFlight = 0
			uc.logger.Infow("msg", "circuit breaker entering half-open",
				"provider", providerKey)
		}
		if b.halfOpenProbesInFlight >= uc.halfOpenMaxCalls {
			return false, &reliability.CircuitOpenError{
				ProviderKey: providerKey,
				State:       model.CircuitHalfOpen.String(),
				RetryAfter:  uc.recoveryTimeout,
			}
		}
		b.halfOpenProbesInFlight++
		return true, nil

	default: // CLOSED
		return false, nil
	}
}

// record applies an outcome to the breaker state machine.
func (uc *CircuitBreakerUsecase) record(b *providerBreaker, providerKey string, isProbe bool, opErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if isProbe {
		b.halfOpenProbesInFlight--
		if b.halfOpenProbesInFlight < 0 {
			b.halfOpenProbesInFlight = 0
		}
	}

	if opErr == nil {
		// One success always resets the failure counter, in every state.
		b.consecutiveFailures = 0
		if b.state == model.CircuitHalfOpen {
			b.state = model.CircuitClosed
			b.halfOpenProbesInFlight = 0
			uc.logger.Infow("msg", "circuit breaker closed after successful probe",
				"provider", providerKey)
		}
		return
	}

	b.lastFailureTime = uc.now()

	if b.state == model.CircuitHalfOpen {
		// Any probe failure reopens immediately.
		b.state = model.CircuitOpen
		b.halfOpenProbesInFlight = 0
		uc.logger.Breaker("circuit breaker reopened: probe failed",
			"provider", providerKey)
		return
	}

	b.consecutiveFailures++
	if b.state == model.CircuitClosed && b.consecutiveFailures >= uc.failureThreshold {
		b.state = model.CircuitOpen
		uc.logger.Breaker("circuit breaker opened",
			"provider", providerKey,
			"consecutive_failures", b.consecutiveFailures,
			"threshold", uc.failureThreshold)
	}
}

// Allows reports whether a call to the provider would currently be admitted.
// This is the routing layer's "may I call this provider" gate.
func (uc *CircuitBreakerUsecase) Allows(providerKey string) bool {
	b := uc.getOrCreate(providerKey)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch effectiveState(b.state, uc.now(), b.lastFailureTime, uc.recoveryTimeout) {
	case model.CircuitOpen:
		return false
	case model.CircuitHalfOpen:
		return b.halfOpenProbesInFlight < uc.halfOpenMaxCalls
	default:
		return true
	}
}

// Snapshot returns a read-only copy of the provider's breaker state. It
// never blocks on in-flight calls: only the state fields are read under the
// lock, never the operations themselves.
func (uc *CircuitBreakerUsecase) Snapshot(providerKey string) model.CircuitSnapshot {
	b := uc.getOrCreate(providerKey)
	b.mu.Lock()
	defer b.mu.Unlock()

	return model.CircuitSnapshot{
		ProviderKey:            providerKey,
		State:                  effectiveState(b.state, uc.now(), b.lastFailureTime, uc.recoveryTimeout),
		ConsecutiveFailures:    b.consecutiveFailures,
		LastFailureTime:        b.lastFailureTime,
		HalfOpenProbesInFlight: b.halfOpenProbesInFlight,
	}
}

// ForceOpen forces the provider's breaker OPEN, bypassing the automatic
// transitions. The caller is responsible for audit-logging the override;
// the breaker does not log itself to the audit trail.
func (uc *CircuitBreakerUsecase) ForceOpen(providerKey string) {
	b := uc.getOrCreate(providerKey)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = model.CircuitOpen
	b.lastFailureTime = uc.now()
	b.halfOpenProbesInFlight = 0
	uc.logger.Breaker("circuit breaker forced open", "provider", providerKey)
}

// ForceClose forces the provider's breaker CLOSED, bypassing the automatic
// transitions. Audit-logged by the caller.
func (uc *CircuitBreakerUsecase) ForceClose(providerKey string) {
	b := uc.getOrCreate(providerKey)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = model.CircuitClosed
	b.consecutiveFailures = 0
	b.halfOpenProbesInFlight = 0
	uc.logger.Breaker("circuit breaker forced closed", "provider", providerKey)
}

// Reset restores the provider's breaker to its initial state. Audit-logged
// by the caller.
func (uc *CircuitBreakerUsecase) Reset(providerKey string) {
	b := uc.getOrCreate(providerKey)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = model.CircuitClosed
	b.consecutiveFailures = 0
	b.lastFailureTime = time.Time{}
	b.halfOpenProbesInFlight = 0
	uc.logger.Infow("msg", "circuit breaker reset", "provider", providerKey)
}
