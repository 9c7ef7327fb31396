package biz

import (
	"context"
	"errors"
	"os"
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

var errProviderDown = errors.New("provider down")

// Helper function to create a breaker with a controllable clock.
func newTestBreaker(t *testing.T, threshold, halfOpenMax int32, timeout time.Duration) (*CircuitBreakerUsecase, *time.Time) {
	t.Helper()
	current := time.Unix(1700000000, 0)
	uc := NewCircuitBreakerUsecase(&conf.Reliability{
		CircuitBreakerThreshold: threshold,
		CircuitBreakerTimeout:   durationpb.New(timeout),
		HalfOpenMaxCalls:        halfOpenMax,
	}, log.NewStdLogger(os.Stdout))
	uc.WithClock(func() time.Time { return current })
	return uc, &current
}

func failOnce(uc *CircuitBreakerUsecase, key string) error {
	_, err := uc.Execute(context.Background(), key, func(ctx context.Context) (*model.TransportResult, error) {
		return nil, errProviderDown
	})
	return err
}

func succeedOnce(uc *CircuitBreakerUsecase, key string) error {
	_, err := uc.Execute(context.Background(), key, func(ctx context.Context) (*model.TransportResult, error) {
		return &model.TransportResult{Success: true}, nil
	})
	return err
}

func TestCircuitBreaker_OpensAtThresholdExactly(t *testing.T) {
	uc, _ := newTestBreaker(t, 5, 2, 30*time.Second)

	for i := 0; i < 4; i++ {
		assert.Equal(t, errProviderDown, failOnce(uc, "direct"))
	}
	assert.Equal(t, model.CircuitClosed, uc.Snapshot("direct").State)
	assert.True(t, uc.Allows("direct"))

	// The fifth consecutive failure trips the breaker.
	assert.Equal(t, errProviderDown, failOnce(uc, "direct"))
	assert.Equal(t, model.CircuitOpen, uc.Snapshot("direct").State)
	assert.False(t, uc.Allows("direct"))
}

func TestCircuitBreaker_OpenFailsFast(t *testing.T) {
	uc, _ := newTestBreaker(t, 1, 2, 30*time.Second)

	require.Error(t, failOnce(uc, "direct"))

	called := false
	_, err := uc.Execute(context.Background(), "direct", func(ctx context.Context) (*model.TransportResult, error) {
		called = true
		return &model.TransportResult{}, nil
	})
	require.Error(t, err)
	assert.False(t, called, "operation must not run while the circuit is open")

	var coe *reliability.CircuitOpenError
	require.ErrorAs(t, err, &coe)
	assert.Equal(t, "direct", coe.ProviderKey)
	assert.Greater(t, coe.RetryAfter, time.Duration(0))
}

func TestCircuitBreaker_SuccessResetsFailureCounter(t *testing.T) {
	uc, _ := newTestBreaker(t, 5, 2, 30*time.Second)

	for i := 0; i < 4; i++ {
		require.Error(t, failOnce(uc, "direct"))
	}
	require.NoError(t, succeedOnce(uc, "direct"))
	assert.Equal(t, 0, uc.Snapshot("direct").ConsecutiveFailures)

	// After the reset it takes five fresh failures to open again.
	for i := 0; i < 4; i++ {
		require.Error(t, failOnce(uc, "direct"))
	}
	assert.Equal(t, model.CircuitClosed, uc.Snapshot("direct").State)
}

func TestCircuitBreaker_RecoveryTimeoutBoundary(t *testing.T) {
	uc, clock := newTestBreaker(t, 1, 2, 30*time.Second)

	require.Error(t, failOnce(uc, "direct"))
	assert.Equal(t, model.CircuitOpen, uc.Snapshot("direct").State)

	// One millisecond before the timeout the breaker is still open.
	*clock = clock.Add(30*time.Second - time.Millisecond)
	assert.Equal(t, model.CircuitOpen, uc.Snapshot("direct").State)
	assert.False(t, uc.Allows("direct"))

	// At exactly the timeout it becomes half-open.
	*clock = clock.Add(time.Millisecond)
	assert.Equal(t, model.CircuitHalfOpen, uc.Snapshot("direct").State)
	assert.True(t, uc.Allows("direct"))
}

func TestCircuitBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	uc, clock := newTestBreaker(t, 1, 2, 30*time.Second)

	require.Error(t, failOnce(uc, "direct"))
	*clock = clock.Add(30 * time.Second)

	require.NoError(t, succeedOnce(uc, "direct"))
	snap := uc.Snapshot("direct")
	assert.Equal(t, model.CircuitClosed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	uc, clock := newTestBreaker(t, 1, 2, 30*time.Second)

	require.Error(t, failOnce(uc, "direct"))
	*clock = clock.Add(30 * time.Second)

	require.Error(t, failOnce(uc, "direct"))
	assert.Equal(t, model.CircuitOpen, uc.Snapshot("direct").State)

	// The reopen restarts the recovery window from the probe failure.
	*clock = clock.Add(29 * time.Second)
	assert.Equal(t, model.CircuitOpen, uc.Snapshot("direct").State)
	*clock = clock.Add(time.Second)
	assert.Equal(t, model.CircuitHalfOpen, uc.Snapshot("direct").State)
}

func TestCircuitBreaker_HalfOpenProbeQuota(t *testing.T) {
	uc, clock := newTestBreaker(t, 1, 2, 30*time.Second)

	require.Error(t, failOnce(uc, "direct"))
	*clock = clock.Add(30 * time.Second)

	// Hold two probes in flight; the third caller is refused.
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = uc.Execute(context.Background(), "direct", func(ctx context.Context) (*model.TransportResult, error) {
				started <- struct{}{}
				<-release
				return &model.TransportResult{}, nil
			})
		}()
	}
	<-started
	<-started

	_, err := uc.Execute(context.Background(), "direct", func(ctx context.Context) (*model.TransportResult, error) {
		return &model.TransportResult{}, nil
	})
	require.Error(t, err)
	assert.True(t, reliability.IsCircuitOpen(err))
	close(release)
}

func TestCircuitBreaker_PerProviderIsolation(t *testing.T) {
	uc, _ := newTestBreaker(t, 1, 2, 30*time.Second)

	require.Error(t, failOnce(uc, "direct"))
	assert.False(t, uc.Allows("direct"))
	assert.True(t, uc.Allows("broker"), "breakers are tracked per provider key")
}

func TestCircuitBreaker_ForceOpenAndForceClose(t *testing.T) {
	uc, _ := newTestBreaker(t, 5, 2, 30*time.Second)

	uc.ForceOpen("direct")
	assert.Equal(t, model.CircuitOpen, uc.Snapshot("direct").State)
	assert.False(t, uc.Allows("direct"))

	uc.ForceClose("direct")
	assert.Equal(t, model.CircuitClosed, uc.Snapshot("direct").State)
	assert.True(t, uc.Allows("direct"))
}

func TestCircuitBreaker_Reset(t *testing.T) {
	uc, _ := newTestBreaker(t, 1, 2, 30*time.Second)

	require.Error(t, failOnce(uc, "direct"))
	uc.Reset("direct")

	snap := uc.Snapshot("direct")
	assert.Equal(t, model.CircuitClosed, snap.State)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.True(t, snap.LastFailureTime.IsZero())
}
