package biz

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"DualLane/internal/conf"
	"DualLane/internal/model"
	"DualLane/pkg/reliability"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

// scriptedTransport replays a fixed sequence of outcomes, then keeps
// returning the default outcome.
type scriptedTransport struct {
	mu          sync.Mutex
	script      []error
	defaultErr  error
	calls       int
	reconnects  int
	healthy     bool
	lastPayload string
}

func newScriptedTransport(script ...error) *scriptedTransport {
	return &scriptedTransport{script: script, healthy: true}
}

func (s *scriptedTransport) RouteRequest(ctx context.Context, payload, correlationID string) (*model.TransportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastPayload = payload
	var err error
	if len(s.script) > 0 {
		err = s.script[0]
		s.script = s.script[1:]
	} else {
		err = s.defaultErr
	}
	if err != nil {
		return nil, err
	}
	return &model.TransportResult{Success: true, Data: "ok", CorrelationID: correlationID}, nil
}

func (s *scriptedTransport) GetHealthStatus(ctx context.Context) model.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.HealthStatus{IsHealthy: s.healthy}
}

func (s *scriptedTransport) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	s.healthy = true
	return nil
}

func (s *scriptedTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testReliabilityConf() *conf.Reliability {
	return &conf.Reliability{
		MaxRetries:                   3,
		BaseRetryDelay:               durationpb.New(200 * time.Millisecond),
		MaxRetryDelay:                durationpb.New(5 * time.Second),
		ExponentialBackoffMultiplier: 2.0,
		CircuitBreakerThreshold:      50,
		CircuitBreakerTimeout:        durationpb.New(30 * time.Second),
		HalfOpenMaxCalls:             2,
		SuccessRateTarget:            0.99,
		Grades:                       &conf.GradeCutPoints{A: 0.995, B: 0.99, C: 0.97, D: 0.90},
	}
}

// Helper function to create an executor with sleeps disabled.
func newTestExecutor(t *testing.T, transport Transport, c *conf.Reliability) *FallbackExecutor {
	t.Helper()
	logger := log.NewStdLogger(os.Stdout)
	breaker := NewCircuitBreakerUsecase(c, logger)
	e := NewFallbackExecutor(model.PathDirect, transport, breaker, c, logger)
	e.WithSleep(func(ctx context.Context, d time.Duration) error { return nil })
	t.Cleanup(e.Destroy)
	return e
}

func retryableErr(reason string) error {
	return &reliability.RetryableOperationError{Reason: reason}
}

func TestFallbackExecutor_SuccessFirstAttempt(t *testing.T) {
	transport := newScriptedTransport()
	e := newTestExecutor(t, transport, testReliabilityConf())

	result := e.ExecuteFallbackOperation(context.Background(), "payload", "corr-1")
	require.True(t, result.Success)
	assert.Equal(t, "ok", result.Data)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, model.AttemptSuccess, result.Attempts[0].Outcome)

	m := e.Metrics()
	assert.Equal(t, int64(1), m.TotalOperations)
	assert.Equal(t, int64(1), m.SuccessCount)
	assert.Equal(t, int64(0), m.RetryCount)
}

func TestFallbackExecutor_RetriesThenSucceeds(t *testing.T) {
	transport := newScriptedTransport(retryableErr("overloaded"), retryableErr("overloaded"), nil)
	e := newTestExecutor(t, transport, testReliabilityConf())

	result := e.ExecuteFallbackOperation(context.Background(), "payload", "corr-1")
	require.True(t, result.Success)
	require.Len(t, result.Attempts, 3)
	assert.Equal(t, model.AttemptRetryableFailure, result.Attempts[0].Outcome)
	assert.Equal(t, model.AttemptSuccess, result.Attempts[2].Outcome)

	// One operation, one success, two retries.
	m := e.Metrics()
	assert.Equal(t, int64(1), m.TotalOperations)
	assert.Equal(t, int64(1), m.SuccessCount)
	assert.Equal(t, int64(0), m.FailureCount)
	assert.Equal(t, int64(2), m.RetryCount)
}

func TestFallbackExecutor_TerminalErrorShortCircuits(t *testing.T) {
	transport := newScriptedTransport()
	transport.defaultErr = &reliability.TerminalOperationError{Reason: "malformed request"}
	e := newTestExecutor(t, transport, testReliabilityConf())

	result := e.ExecuteFallbackOperation(context.Background(), "payload", "corr-1")
	require.False(t, result.Success)
	assert.Equal(t, 1, transport.callCount(), "terminal errors must not be retried")
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, model.AttemptTerminalFailure, result.Attempts[0].Outcome)
}

func TestFallbackExecutor_RetriesExhausted(t *testing.T) {
	transport := newScriptedTransport()
	transport.defaultErr = retryableErr("still overloaded")
	e := newTestExecutor(t, transport, testReliabilityConf())

	result := e.ExecuteFallbackOperation(context.Background(), "payload", "corr-1")
	require.False(t, result.Success)
	// Initial attempt plus maxRetries retries.
	assert.Equal(t, 4, transport.callCount())
	assert.Len(t, result.Attempts, 4)

	m := e.Metrics()
	assert.Equal(t, int64(1), m.FailureCount)
	assert.Equal(t, int64(3), m.RetryCount)
}

func TestFallbackExecutor_BackoffDelaysBoundedAndNonDecreasing(t *testing.T) {
	c := testReliabilityConf()
	c.MaxRetries = 6
	c.MaxRetryDelay = durationpb.New(1 * time.Second)
	transport := newScriptedTransport()
	transport.defaultErr = retryableErr("overloaded")

	logger := log.NewStdLogger(os.Stdout)
	breaker := NewCircuitBreakerUsecase(c, logger)
	e := NewFallbackExecutor(model.PathDirect, transport, breaker, c, logger)
	t.Cleanup(e.Destroy)

	var delays []time.Duration
	e.WithSleep(func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	})

	e.ExecuteFallbackOperation(context.Background(), "payload", "corr-1")

	require.Len(t, delays, 6)
	expected := []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1 * time.Second,
		1 * time.Second,
		1 * time.Second,
	}
	assert.Equal(t, expected, delays)
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}
}

func TestFallbackExecutor_CircuitOpenIsTerminal(t *testing.T) {
	c := testReliabilityConf()
	c.CircuitBreakerThreshold = 1
	transport := newScriptedTransport()
	transport.defaultErr = retryableErr("overloaded")
	e := newTestExecutor(t, transport, c)

	// First operation trips the breaker on its first attempt; the retry is
	// then refused without reaching the transport.
	result := e.ExecuteFallbackOperation(context.Background(), "payload", "corr-1")
	require.False(t, result.Success)
	assert.Equal(t, 1, transport.callCount())
	assert.True(t, reliability.IsCircuitOpen(result.Err))

	// Subsequent operations fail fast.
	result = e.ExecuteFallbackOperation(context.Background(), "payload", "corr-2")
	require.False(t, result.Success)
	assert.Equal(t, 1, transport.callCount())
}

func TestFallbackExecutor_ReconnectsUnhealthyTransportBetweenRetries(t *testing.T) {
	transport := newScriptedTransport(retryableErr("broken pipe"), nil)
	e := newTestExecutor(t, transport, testReliabilityConf())

	transport.mu.Lock()
	transport.healthy = false
	transport.mu.Unlock()
	e.transportHealthy.Store(false)

	result := e.ExecuteFallbackOperation(context.Background(), "payload", "corr-1")
	require.True(t, result.Success)
	assert.Equal(t, 1, transport.reconnects)
	assert.True(t, e.TransportHealthy())
}

func TestFallbackExecutor_ContextCancelledDuringBackoff(t *testing.T) {
	transport := newScriptedTransport()
	transport.defaultErr = retryableErr("overloaded")
	e := newTestExecutor(t, transport, testReliabilityConf())
	e.WithSleep(func(ctx context.Context, d time.Duration) error { return context.Canceled })

	result := e.ExecuteFallbackOperation(context.Background(), "payload", "corr-1")
	require.False(t, result.Success)
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Equal(t, 1, transport.callCount())
}

func TestFallbackExecutor_ValidateMeetsTargetAtOnePercentFailures(t *testing.T) {
	c := testReliabilityConf()
	c.MaxRetries = 0
	transport := newScriptedTransport()
	e := newTestExecutor(t, transport, c)

	// 990 successes and 10 terminal failures, interleaved so the breaker
	// never accumulates consecutive failures.
	for i := 0; i < 1000; i++ {
		if i%100 == 99 {
			transport.mu.Lock()
			transport.defaultErr = &reliability.TerminalOperationError{Reason: "bad payload"}
			transport.mu.Unlock()
		}
		e.ExecuteFallbackOperation(context.Background(), "payload", "corr")
		transport.mu.Lock()
		transport.defaultErr = nil
		transport.mu.Unlock()
	}

	m := e.Metrics()
	assert.Equal(t, int64(1000), m.TotalOperations)
	assert.Equal(t, int64(990), m.SuccessCount)
	assert.Equal(t, int64(10), m.FailureCount)
	assert.Equal(t, "B", m.PerformanceGrade)

	v := e.ValidateReliabilityTargets()
	assert.True(t, v.MeetsTarget)
	assert.InDelta(t, 0.99, v.CurrentSuccessRate, 1e-9)
}

func TestFallbackExecutor_ValidateNoOperationsMeetsTarget(t *testing.T) {
	e := newTestExecutor(t, newScriptedTransport(), testReliabilityConf())

	v := e.ValidateReliabilityTargets()
	assert.True(t, v.MeetsTarget)
	assert.Equal(t, 1.0, v.CurrentSuccessRate)
	assert.Equal(t, int64(0), v.TotalOperations)

	assert.Equal(t, "A", e.Metrics().PerformanceGrade)
}

func TestFallbackExecutor_GradeDegradesWithFailures(t *testing.T) {
	c := testReliabilityConf()
	c.MaxRetries = 0
	c.CircuitBreakerThreshold = 1000
	transport := newScriptedTransport()
	e := newTestExecutor(t, transport, c)

	for i := 0; i < 95; i++ {
		e.ExecuteFallbackOperation(context.Background(), "payload", "corr")
	}
	transport.mu.Lock()
	transport.defaultErr = &reliability.TerminalOperationError{Reason: "bad payload"}
	transport.mu.Unlock()
	for i := 0; i < 5; i++ {
		e.ExecuteFallbackOperation(context.Background(), "payload", "corr")
	}

	// 95% success rate falls in the D band.
	assert.Equal(t, "D", e.Metrics().PerformanceGrade)
	assert.False(t, e.ValidateReliabilityTargets().MeetsTarget)
}

func TestFallbackExecutor_DestroyIsIdempotent(t *testing.T) {
	c := testReliabilityConf()
	c.HealthCheckInterval = durationpb.New(10 * time.Millisecond)
	logger := log.NewStdLogger(os.Stdout)
	breaker := NewCircuitBreakerUsecase(c, logger)
	e := NewFallbackExecutor(model.PathDirect, newScriptedTransport(), breaker, c, logger)

	e.Destroy()
	assert.NotPanics(t, e.Destroy)
}

func TestPathExecutors_ForPath(t *testing.T) {
	c := testReliabilityConf()
	logger := log.NewStdLogger(os.Stdout)
	breaker := NewCircuitBreakerUsecase(c, logger)
	pe, cleanup := NewPathExecutors(c, breaker, newScriptedTransport(), newScriptedTransport(), logger)
	t.Cleanup(cleanup)

	assert.Equal(t, model.PathDirect, pe.ForPath(model.PathDirect).Path())
	assert.Equal(t, model.PathBroker, pe.ForPath(model.PathBroker).Path())
}
