// Package reliability provides the error taxonomy shared by the circuit
// breaker, the fallback executor and the routing layer.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CircuitOpenError is returned when a call is refused because the provider's
// circuit is OPEN (or the HALF_OPEN probe quota is exhausted). No call was
// attempted. The breaker never retries these itself; the routing layer may
// switch paths instead.
type CircuitOpenError struct {
	ProviderKey string
	State       string
	RetryAfter  time.Duration
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for provider %q (state=%s, retry_after=%s)",
		e.ProviderKey, e.State, e.RetryAfter)
}

// RetryableOperationError marks a transient failure (transport timeout,
// 5xx-class response). The executor retries these up to maxRetries.
type RetryableOperationError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *RetryableOperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("retryable operation failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("retryable operation failure: %s", e.Reason)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *RetryableOperationError) Unwrap() error {
	return e.Err
}

// TerminalOperationError marks a validation or authorization failure that
// must never be retried.
type TerminalOperationError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *TerminalOperationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("terminal operation failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("terminal operation failure: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *TerminalOperationError) Unwrap() error {
	return e.Err
}

// ComplianceViolationError blocks dispatch immediately. It is always
// audit-logged with complianceStatus=violation before being surfaced.
type ComplianceViolationError struct {
	Path          string
	OperationType string
	Reason        string
}

// Error implements the error interface.
func (e *ComplianceViolationError) Error() string {
	return fmt.Sprintf("compliance violation on path %q for operation %q: %s",
		e.Path, e.OperationType, e.Reason)
}

// IsCircuitOpen reports whether err is (or wraps) a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var e *CircuitOpenError
	return errors.As(err, &e)
}

// IsTerminal reports whether err must never be retried.
func IsTerminal(err error) bool {
	var te *TerminalOperationError
	if errors.As(err, &te) {
		return true
	}
	var ce *ComplianceViolationError
	return errors.As(err, &ce)
}

// DefaultRetryable is the default retryability predicate used by the
// fallback executor when configuration does not supply one. Deadline expiry
// counts as retryable so an overall operation timeout is absorbed into the
// retry accounting rather than surfacing as an unclassified fault.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsTerminal(err) || IsCircuitOpen(err) {
		return false
	}
	var re *RetryableOperationError
	if errors.As(err, &re) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
