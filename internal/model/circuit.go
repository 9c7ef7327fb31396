package model

import "time"

// CircuitBreakerState is the per-provider breaker state.
type CircuitBreakerState string

const (
	// CircuitClosed is both the initial and the only fully healthy state.
	CircuitClosed CircuitBreakerState = "CLOSED"
	// CircuitOpen refuses all calls until the recovery timeout elapses.
	CircuitOpen CircuitBreakerState = "OPEN"
	// CircuitHalfOpen admits a bounded number of probe calls.
	CircuitHalfOpen CircuitBreakerState = "HALF_OPEN"
)

// String returns the string representation of the state.
func (s CircuitBreakerState) String() string {
	return string(s)
}

// CircuitSnapshot is a read-only view of one provider's breaker.
// Snapshots are copies: reading one never blocks in-flight calls.
type CircuitSnapshot struct {
	ProviderKey            string              `json:"provider_key"`
	State                  CircuitBreakerState `json:"state"`
	ConsecutiveFailures    int                 `json:"consecutive_failures"`
	LastFailureTime        time.Time           `json:"last_failure_time"`
	HalfOpenProbesInFlight int                 `json:"half_open_probes_in_flight"`
}
