package model

// Path identifies one of the two competing execution paths.
type Path string

const (
	// PathDirect is the low-latency, directly-invoked provider integration.
	PathDirect Path = "direct"
	// PathBroker is the queue-mediated provider access: higher latency,
	// higher throughput tolerance.
	PathBroker Path = "broker"
)

// Alternate returns the other path.
func (p Path) Alternate() Path {
	if p == PathDirect {
		return PathBroker
	}
	return PathDirect
}

// String returns the string representation of Path.
func (p Path) String() string {
	return string(p)
}

// Priority ranks a request for routing purposes.
type Priority string

const (
	PriorityEmergency Priority = "emergency"
	PriorityCritical  Priority = "critical"
	PriorityMedium    Priority = "medium"
	PriorityLow       Priority = "low"
)

// IsUrgent reports whether the priority prefers the Direct Path.
func (p Priority) IsUrgent() bool {
	return p == PriorityEmergency || p == PriorityCritical
}

// Valid reports whether p is a known priority value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityEmergency, PriorityCritical, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// RoutingDecision is produced once per request and never mutated.
type RoutingDecision struct {
	SelectedPath        Path   `json:"selected_path"`
	Reason              string `json:"reason"`
	FallbackAvailable   bool   `json:"fallback_available"`
	EstimatedLatencyMs  int64  `json:"estimated_latency_ms"`
	CorrelationID       string `json:"correlation_id"`
	PrimaryPathHealthy  bool   `json:"primary_path_healthy"`
	FallbackPathHealthy bool   `json:"fallback_path_healthy"`
}

// RouteRequest is an operation submitted to the routing layer.
type RouteRequest struct {
	OperationType string
	Priority      Priority
	Payload       string
	CorrelationID string
}

// RouteResult is the structured outcome returned to the caller. Breaker and
// executor errors never escape as raw errors: failures surface here.
type RouteResult struct {
	Success       bool
	Data          string
	Error         string
	Path          Path
	FellBack      bool
	Attempts      int
	CorrelationID string
}
