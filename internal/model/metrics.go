package model

// AttemptOutcome classifies a single fallback attempt.
type AttemptOutcome string

const (
	AttemptSuccess          AttemptOutcome = "success"
	AttemptRetryableFailure AttemptOutcome = "retryableFailure"
	AttemptTerminalFailure  AttemptOutcome = "terminalFailure"
)

// FallbackAttempt records one attempt inside the executor's retry loop.
// Attempts feed ReliabilityMetrics and the audit log of the final outcome;
// they are not persisted individually.
type FallbackAttempt struct {
	AttemptNumber int            `json:"attempt_number"`
	DelayBeforeMs int64          `json:"delay_before_ms"`
	Outcome       AttemptOutcome `json:"outcome"`
	LatencyMs     int64          `json:"latency_ms"`
}

// ReliabilityMetrics is the rolling, operation-granular metrics window.
// SuccessCount + FailureCount == TotalOperations: a request that succeeds on
// its third attempt counts once as success with RetryCount incremented by 2.
type ReliabilityMetrics struct {
	TotalOperations  int64   `json:"total_operations"`
	SuccessCount     int64   `json:"success_count"`
	FailureCount     int64   `json:"failure_count"`
	RetryCount       int64   `json:"retry_count"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
	PerformanceGrade string  `json:"performance_grade"`
}

// ReliabilityValidation is the result of comparing observed reliability
// against the configured targets.
type ReliabilityValidation struct {
	MeetsTarget        bool    `json:"meets_target"`
	CurrentSuccessRate float64 `json:"current_success_rate"`
	TotalOperations    int64   `json:"total_operations"`
}
