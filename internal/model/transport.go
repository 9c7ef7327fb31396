package model

// TransportResult is what a path transport returns on success.
type TransportResult struct {
	Success       bool   `json:"success"`
	Data          string `json:"data"`
	CorrelationID string `json:"correlation_id"`
}

// HealthStatus is a transport's self-reported health.
type HealthStatus struct {
	IsHealthy         bool  `json:"is_healthy"`
	QueueSize         int64 `json:"queue_size"`
	PendingOperations int64 `json:"pending_operations"`
}

// ComplianceResult is the compliance collaborator's verdict for a
// path/operation combination.
type ComplianceResult struct {
	Compliant bool   `json:"compliant"`
	Reason    string `json:"reason"`
}

// PIIScanResult summarizes a PII scan. The raw spans stay with the
// collaborator; the core only ever logs counts and the length delta.
type PIIScanResult struct {
	Redacted       string
	ViolationCount int
	LengthDelta    int
}
