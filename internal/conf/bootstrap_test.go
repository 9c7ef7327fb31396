package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a minimal valid config file and returns its path.
func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
data:
  database:
    source: user:pass@tcp(127.0.0.1:3306)/duallane
transport:
  direct:
    endpoint: http://127.0.0.1:9100/v1/operations
`

func TestNewBootstrap_Defaults(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)

	bc, err := NewBootstrap(path)
	require.NoError(t, err)
	require.NotNil(t, bc)

	// Server defaults
	assert.Equal(t, "tcp", bc.Server.Http.Network)
	assert.Equal(t, ":8080", bc.Server.Http.Addr)

	// Reliability defaults
	assert.Equal(t, int32(3), bc.Reliability.MaxRetries)
	assert.Equal(t, 200*time.Millisecond, bc.Reliability.BaseRetryDelay.AsDuration())
	assert.Equal(t, 5*time.Second, bc.Reliability.MaxRetryDelay.AsDuration())
	assert.Equal(t, 2.0, bc.Reliability.ExponentialBackoffMultiplier)
	assert.Equal(t, int32(5), bc.Reliability.CircuitBreakerThreshold)
	assert.Equal(t, 30*time.Second, bc.Reliability.CircuitBreakerTimeout.AsDuration())
	assert.Equal(t, int32(2), bc.Reliability.HalfOpenMaxCalls)
	assert.Equal(t, 0.99, bc.Reliability.SuccessRateTarget)
	assert.Equal(t, 2*time.Second, bc.Reliability.PerformanceThresholds.MaxLatency.AsDuration())
	assert.Equal(t, 0.995, bc.Reliability.Grades.A)
	assert.Equal(t, 0.90, bc.Reliability.Grades.D)

	// Audit defaults
	assert.True(t, bc.Audit.IntegrityCheckEnabled)
	assert.Equal(t, int32(1000), bc.Audit.ChannelBuffer)

	// Log defaults
	assert.Equal(t, "info", bc.Log.Level)
	assert.Equal(t, "json", bc.Log.Format)
}

func TestNewBootstrap_FileOverrides(t *testing.T) {
	path := writeTestConfig(t, minimalConfig+`
reliability:
  max_retries: 7
  circuit_breaker_threshold: 2
  circuit_breaker_timeout: 10s
audit:
  integrity_check_enabled: false
log:
  level: debug
`)

	bc, err := NewBootstrap(path)
	require.NoError(t, err)

	assert.Equal(t, int32(7), bc.Reliability.MaxRetries)
	assert.Equal(t, int32(2), bc.Reliability.CircuitBreakerThreshold)
	assert.Equal(t, 10*time.Second, bc.Reliability.CircuitBreakerTimeout.AsDuration())
	assert.False(t, bc.Audit.IntegrityCheckEnabled)
	assert.Equal(t, "debug", bc.Log.Level)
}

func TestNewBootstrap_EnvOverride(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)

	t.Setenv("DUALLANE_DATA_REDIS_ADDR", "10.0.0.5:6380")

	bc, err := NewBootstrap(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:6380", bc.Data.Redis.Addr)
}

func TestNewBootstrap_MissingDatabaseSource(t *testing.T) {
	// Make sure the env fallbacks do not leak into this test
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("DUALLANE_DATA_DATABASE_SOURCE", "")

	path := writeTestConfig(t, `
transport:
  direct:
    endpoint: http://127.0.0.1:9100/v1/operations
`)

	_, err := NewBootstrap(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data.database.source")
}

func TestNewBootstrap_MissingConfigFile(t *testing.T) {
	_, err := NewBootstrap("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate_BackoffMultiplierBelowOne(t *testing.T) {
	path := writeTestConfig(t, minimalConfig+`
reliability:
  exponential_backoff_multiplier: 0.5
`)

	_, err := NewBootstrap(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exponential_backoff_multiplier")
}

func TestValidate_SuccessRateTargetOutOfRange(t *testing.T) {
	path := writeTestConfig(t, minimalConfig+`
reliability:
  success_rate_target: 1.5
`)

	_, err := NewBootstrap(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "success_rate_target")
}

func TestNewBootstrap_AdminTokenFromEnv(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)

	t.Setenv("ADMIN_TOKEN", "op-secret")

	bc, err := NewBootstrap(path)
	require.NoError(t, err)
	assert.Equal(t, "op-secret", bc.Server.AdminToken)
}
