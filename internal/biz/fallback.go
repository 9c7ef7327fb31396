package biz

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"DualLane/internal/conf"
	"DualLane/internal/model"
	pkglog "DualLane/pkg/log"
	"DualLane/pkg/reliability"

	"github.com/go-kratos/kratos/v2/log"
)

// DirectTransport is the Direct Path transport. Distinct type so wire can
// tell the two path transports apart.
type DirectTransport interface {
	Transport
}

// BrokerTransport is the Broker Path transport.
type BrokerTransport interface {
	Transport
}

// FallbackResult is the structured outcome of one fallback operation.
type FallbackResult struct {
	Success  bool
	Data     string
	Err      error
	Attempts []model.FallbackAttempt
}

// FallbackExecutor wraps one path's transport in retry/backoff logic behind
// the circuit breaker, and keeps rolling reliability metrics at operation
// granularity.
type FallbackExecutor struct {
	path        model.Path
	providerKey string
	transport   Transport
	breaker     *CircuitBreakerUsecase

	maxRetries        int
	baseDelay         time.Duration
	maxDelay          time.Duration
	backoffMultiplier float64
	successRateTarget float64
	maxLatency        time.Duration
	maxErrorRate      float64
	minSuccessRate    float64
	grades            conf.GradeCutPoints

	retryable func(error) bool
	sleep     func(ctx context.Context, d time.Duration) error

	metricsMu        sync.Mutex
	totalOperations  int64
	successCount     int64
	failureCount     int64
	retryCount       int64
	averageLatencyMs float64

	transportHealthy atomic.Bool
	healthInterval   time.Duration
	stopCh           chan struct{}
	stopOnce         sync.Once

	logger *pkglog.LogHelper
}

// NewFallbackExecutor creates an executor bound to one path's transport and
// starts its transport health watcher. Destroy must be called on shutdown.
func NewFallbackExecutor(path model.Path, transport Transport, breaker *CircuitBreakerUsecase, c *conf.Reliability, logger log.Logger) *FallbackExecutor {
	e := &FallbackExecutor{
		path:              path,
		providerKey:       path.String(),
		transport:         transport,
		breaker:           breaker,
		maxRetries:        int(c.MaxRetries),
		baseDelay:         c.BaseRetryDelay.AsDuration(),
		maxDelay:          c.MaxRetryDelay.AsDuration(),
		backoffMultiplier: c.ExponentialBackoffMultiplier,
		successRateTarget: c.SuccessRateTarget,
		retryable:         reliability.DefaultRetryable,
		sleep:             sleepContext,
		healthInterval:    c.HealthCheckInterval.AsDuration(),
		stopCh:            make(chan struct{}),
		logger:            pkglog.NewLogHelper(logger),
	}

	if c.PerformanceThresholds != nil {
		e.maxLatency = c.PerformanceThresholds.MaxLatency.AsDuration()
		e.maxErrorRate = c.PerformanceThresholds.MaxErrorRate
		e.minSuccessRate = c.PerformanceThresholds.MinSuccessRate
	}
	if c.Grades != nil {
		e.grades = *c.Grades
	} else {
		e.grades = conf.GradeCutPoints{A: 0.995, B: 0.99, C: 0.97, D: 0.90}
	}
	if e.backoffMultiplier < 1.0 {
		e.backoffMultiplier = 1.0
	}

	// Until the first health probe reports otherwise, assume healthy so the
	// executor does not reconnect on a cold start.
	e.transportHealthy.Store(true)

	if e.healthInterval > 0 {
		go e.healthWatcher()
	}

	return e
}

// WithRetryable replaces the retryability predicate. The default treats
// RetryableOperationError and deadline expiry as retryable.
func (e *FallbackExecutor) WithRetryable(pred func(error) bool) *FallbackExecutor {
	if pred != nil {
		e.retryable = pred
	}
	return e
}

// WithSleep replaces the backoff sleeper. Test hook.
func (e *FallbackExecutor) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *FallbackExecutor {
	if sleep != nil {
		e.sleep = sleep
	}
	return e
}

// sleepContext waits d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// healthWatcher polls the transport's health independently of request
// traffic. Stopped by Destroy without waiting for in-flight requests.
func (e *FallbackExecutor) healthWatcher() {
	ticker := time.NewTicker(e.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.healthInterval)
			status := e.transport.GetHealthStatus(ctx)
			cancel()

			prev := e.transportHealthy.Swap(status.IsHealthy)
			if prev && !status.IsHealthy {
				e.logger.Warnw("msg", "transport degraded",
					"path", e.path,
					"queue_size", status.QueueSize,
					"pending_operations", status.PendingOperations)
			}
		}
	}
}

// Destroy cancels the health watcher. No background work survives it.
// Safe to call more than once.
func (e *FallbackExecutor) Destroy() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Path returns the path this executor is bound to.
func (e *FallbackExecutor) Path() model.Path {
	return e.path
}

// TransportHealthy reports the last observed transport health.
func (e *FallbackExecutor) TransportHealthy() bool {
	return e.transportHealthy.Load()
}

// backoffDelay computes the wait before retry attempt n (1-based retry
// index): min(baseDelay * multiplier^(n-1), maxDelay). Delays are
// non-decreasing because the multiplier is >= 1.
func (e *FallbackExecutor) backoffDelay(retry int) time.Duration {
	d := time.Duration(float64(e.baseDelay) * math.Pow(e.backoffMultiplier, float64(retry-1)))
	if d > e.maxDelay || d < 0 {
		d = e.maxDelay
	}
	return d
}

// ExecuteFallbackOperation runs the payload through the breaker with bounded
// exponential backoff. A request that succeeds on a retry counts once as a
// success in the metrics, with the extra attempts recorded as retries.
func (e *FallbackExecutor) ExecuteFallbackOperation(ctx context.Context, payload, correlationID string) *FallbackResult {
	result := &FallbackResult{}
	opStart := time.Now()

	var delayBefore time.Duration
	for attempt := 1; ; attempt++ {
		attemptStart := time.Now()
		res, err := e.breaker.Execute(ctx, e.providerKey, func(ctx context.Context) (*model.TransportResult, error) {
			return e.transport.RouteRequest(ctx, payload, correlationID)
		})
		latencyMs := time.Since(attemptStart).Milliseconds()

		if err == nil {
			result.Attempts = append(result.Attempts, model.FallbackAttempt{
				AttemptNumber: attempt,
				DelayBeforeMs: delayBefore.Milliseconds(),
				Outcome:       model.AttemptSuccess,
				LatencyMs:     latencyMs,
			})
			result.Success = true
			if res != nil {
				result.Data = res.Data
			}
			e.recordOperation(true, attempt-1, time.Since(opStart).Milliseconds())
			return result
		}

		// A deadline expiry is classified retryable so it lands in the retry
		// accounting; the in-flight attempt was already cancelled through ctx.
		outcome := model.AttemptTerminalFailure
		if e.retryable(err) {
			outcome = model.AttemptRetryableFailure
		}
		result.Attempts = append(result.Attempts, model.FallbackAttempt{
			AttemptNumber: attempt,
			DelayBeforeMs: delayBefore.Milliseconds(),
			Outcome:       outcome,
			LatencyMs:     latencyMs,
		})
		result.Err = err

		if outcome == model.AttemptTerminalFailure {
			if reliability.IsCircuitOpen(err) {
				e.logger.Fallback("operation refused: circuit open",
					"path", e.path,
					"correlation_id", correlationID)
			}
			e.recordOperation(false, attempt-1, time.Since(opStart).Milliseconds())
			return result
		}

		if attempt > e.maxRetries {
			e.logger.Fallback("operation failed: retries exhausted",
				"path", e.path,
				"correlation_id", correlationID,
				"attempts", attempt,
				"error", err)
			e.recordOperation(false, attempt-1, time.Since(opStart).Milliseconds())
			return result
		}

		// Health maintenance runs between retries, not on every attempt, so
		// an outage is not amplified by probe traffic.
		if !e.transportHealthy.Load() {
			status := e.transport.GetHealthStatus(ctx)
			if !status.IsHealthy {
				if rerr := e.transport.Reconnect(ctx); rerr != nil {
					e.logger.Warnw("msg", "transport reconnect failed",
						"path", e.path,
						"error", rerr)
				} else {
					e.transportHealthy.Store(true)
				}
			} else {
				e.transportHealthy.Store(true)
			}
		}

		delayBefore = e.backoffDelay(attempt)
		if serr := e.sleep(ctx, delayBefore); serr != nil {
			// Context cancelled while backing off: give up without another call.
			result.Err = serr
			e.recordOperation(false, attempt-1, time.Since(opStart).Milliseconds())
			return result
		}
	}
}

// recordOperation folds one settled operation into the rolling metrics.
func (e *FallbackExecutor) recordOperation(success bool, retries int, latencyMs int64) {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()

	e.totalOperations++
	if success {
		e.successCount++
	} else {
		e.failureCount++
	}
	e.retryCount += int64(retries)
	e.averageLatencyMs += (float64(latencyMs) - e.averageLatencyMs) / float64(e.totalOperations)
}

// Metrics returns the rolling reliability metrics. Side-effect free.
func (e *FallbackExecutor) Metrics() model.ReliabilityMetrics {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()

	return model.ReliabilityMetrics{
		TotalOperations:  e.totalOperations,
		SuccessCount:     e.successCount,
		FailureCount:     e.failureCount,
		RetryCount:       e.retryCount,
		AverageLatencyMs: e.averageLatencyMs,
		PerformanceGrade: e.gradeLocked(),
	}
}

// gradeLocked buckets the current success rate and latency into a letter
// grade using the configured cut points. Callers hold metricsMu.
func (e *FallbackExecutor) gradeLocked() string {
	if e.totalOperations == 0 {
		return "A"
	}
	rate := float64(e.successCount) / float64(e.totalOperations)

	grade := "F"
	switch {
	case rate >= e.grades.A:
		grade = "A"
	case rate >= e.grades.B:
		grade = "B"
	case rate >= e.grades.C:
		grade = "C"
	case rate >= e.grades.D:
		grade = "D"
	}

	// Latency above the configured maximum degrades the grade one letter.
	if e.maxLatency > 0 && e.averageLatencyMs > float64(e.maxLatency.Milliseconds()) && grade != "F" {
		grade = string(rune(grade[0] + 1))
		if grade == "E" {
			grade = "F"
		}
	}
	return grade
}

// ValidateReliabilityTargets compares the observed rolling success rate
// against the configured target and performance thresholds.
func (e *FallbackExecutor) ValidateReliabilityTargets() model.ReliabilityValidation {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()

	v := model.ReliabilityValidation{TotalOperations: e.totalOperations}
	if e.totalOperations == 0 {
		// No evidence of a missed target yet.
		v.MeetsTarget = true
		v.CurrentSuccessRate = 1.0
		return v
	}

	rate := float64(e.successCount) / float64(e.totalOperations)
	errorRate := float64(e.failureCount) / float64(e.totalOperations)
	v.CurrentSuccessRate = rate

	v.MeetsTarget = rate >= e.successRateTarget &&
		rate >= e.minSuccessRate &&
		(e.maxErrorRate <= 0 || errorRate <= e.maxErrorRate) &&
		(e.maxLatency <= 0 || e.averageLatencyMs <= float64(e.maxLatency.Milliseconds()))
	return v
}

// PathExecutors bundles the per-path executors for injection.
type PathExecutors struct {
	Direct *FallbackExecutor
	Broker *FallbackExecutor
}

// NewPathExecutors builds one executor per path. The returned cleanup stops
// both executors' background health watchers.
func NewPathExecutors(c *conf.Reliability, breaker *CircuitBreakerUsecase, direct DirectTransport, broker BrokerTransport, logger log.Logger) (*PathExecutors, func()) {
	pe := &PathExecutors{
		Direct: NewFallbackExecutor(model.PathDirect, direct, breaker, c, logger),
		Broker: NewFallbackExecutor(model.PathBroker, broker, breaker, c, logger),
	}
	cleanup := func() {
		pe.Direct.Destroy()
		pe.Broker.Destroy()
	}
	return pe, cleanup
}

// ForPath returns the executor bound to the given path.
func (p *PathExecutors) ForPath(path model.Path) *FallbackExecutor {
	if path == model.PathBroker {
		return p.Broker
	}
	return p.Direct
}
