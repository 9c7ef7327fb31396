package model

import "time"

// AuditEventType defines audit event type constants.
type AuditEventType string

const (
	// AuditEventRoutingDecision is logged before any provider call is made.
	AuditEventRoutingDecision AuditEventType = "ROUTING_DECISION"

	// AuditEventOperationOutcome is logged once the operation settles.
	AuditEventOperationOutcome AuditEventType = "OPERATION_OUTCOME"

	// AuditEventFallbackTriggered is logged when a request is re-routed to
	// the alternate path after the chosen path failed irrecoverably.
	AuditEventFallbackTriggered AuditEventType = "FALLBACK_TRIGGERED"

	// AuditEventComplianceValidation is logged for every compliance check
	// performed before dispatch.
	AuditEventComplianceValidation AuditEventType = "COMPLIANCE_VALIDATION"

	// AuditEventPIIRedaction is logged when redaction occurred. Only counts
	// and the length delta are recorded, never raw text.
	AuditEventPIIRedaction AuditEventType = "PII_REDACTION"

	// AuditEventOperatorOverride is logged when an operator forces a breaker
	// state (forceOpen / forceClose / reset).
	AuditEventOperatorOverride AuditEventType = "OPERATOR_OVERRIDE"

	// AuditEventReliabilityAlert is logged when the scheduled validation job
	// observes a missed reliability target.
	AuditEventReliabilityAlert AuditEventType = "RELIABILITY_ALERT"
)

// String returns the string representation of AuditEventType.
func (e AuditEventType) String() string {
	return string(e)
}

// ComplianceStatus tags every audit event.
type ComplianceStatus string

const (
	ComplianceCompliant ComplianceStatus = "compliant"
	ComplianceWarning   ComplianceStatus = "warning"
	ComplianceViolation ComplianceStatus = "violation"
	CompliancePending   ComplianceStatus = "pending"
)

// RoutingPayload carries a routing decision.
type RoutingPayload struct {
	Decision RoutingDecision `json:"decision"`
}

// OutcomePayload carries the settled result of an operation.
type OutcomePayload struct {
	Path      Path   `json:"path"`
	Success   bool   `json:"success"`
	Attempts  int    `json:"attempts"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// FallbackPayload records a path switch and the root cause of the primary
// path's failure.
type FallbackPayload struct {
	FromRoute Path   `json:"from_route"`
	ToRoute   Path   `json:"to_route"`
	Reason    string `json:"reason"`
	RootCause string `json:"root_cause"`
}

// CompliancePayload records a pre-dispatch compliance validation.
type CompliancePayload struct {
	Path          Path   `json:"path"`
	OperationType string `json:"operation_type"`
	Compliant     bool   `json:"compliant"`
	Reason        string `json:"reason,omitempty"`
}

// PIIPayload records that redaction occurred. No raw PII ever lands here.
type PIIPayload struct {
	ViolationCount int `json:"violation_count"`
	LengthDelta    int `json:"length_delta"`
}

// OverridePayload records a manual breaker override.
type OverridePayload struct {
	ProviderKey string `json:"provider_key"`
	Action      string `json:"action"`
	OperatorID  string `json:"operator_id"`
}

// AlertPayload records a missed reliability target.
type AlertPayload struct {
	Path               Path    `json:"path"`
	CurrentSuccessRate float64 `json:"current_success_rate"`
	TargetSuccessRate  float64 `json:"target_success_rate"`
	TotalOperations    int64   `json:"total_operations"`
}

// AuditPayload is a closed union keyed by the event type: exactly one field
// is set. Using structs instead of a map keeps json.Marshal field order
// deterministic, which the hash chain depends on.
type AuditPayload struct {
	Routing    *RoutingPayload    `json:"routing,omitempty"`
	Outcome    *OutcomePayload    `json:"outcome,omitempty"`
	Fallback   *FallbackPayload   `json:"fallback,omitempty"`
	Compliance *CompliancePayload `json:"compliance,omitempty"`
	PII        *PIIPayload        `json:"pii,omitempty"`
	Override   *OverridePayload   `json:"override,omitempty"`
	Alert      *AlertPayload      `json:"alert,omitempty"`
}

// AuditEvent is one immutable entry in the hash-chained audit trail.
// EventHash covers the canonical JSON form of the event with EventHash
// cleared; PreviousEventHash links to the immediately preceding event,
// forming a single global chain across all event types.
type AuditEvent struct {
	EventID           uint64           `json:"event_id"`
	Timestamp         time.Time        `json:"timestamp"`
	EventType         AuditEventType   `json:"event_type"`
	RequestID         string           `json:"request_id"`
	ComplianceStatus  ComplianceStatus `json:"compliance_status"`
	Payload           AuditPayload     `json:"payload"`
	PreviousEventHash string           `json:"previous_event_hash"`
	EventHash         string           `json:"event_hash"`
}

// IntegrityErrorKind distinguishes the two detectable tampering classes.
type IntegrityErrorKind string

const (
	// IntegrityInvalidHash means an event's recomputed hash does not match
	// its stored hash: the event content was altered.
	IntegrityInvalidHash IntegrityErrorKind = "invalid hash"
	// IntegrityBrokenChainLink means an event's previous-hash pointer does
	// not match its predecessor: events were reordered or deleted.
	IntegrityBrokenChainLink IntegrityErrorKind = "broken chain link"
)

// IntegrityError describes one verification failure.
type IntegrityError struct {
	EventID uint64             `json:"event_id"`
	Index   int                `json:"index"`
	Kind    IntegrityErrorKind `json:"kind"`
	Detail  string             `json:"detail"`
}

// IntegrityReport is the result of verifying an event sequence.
type IntegrityReport struct {
	Valid  bool             `json:"valid"`
	Errors []IntegrityError `json:"errors"`
}

// ComplianceReport summarizes audit activity over a time range.
type ComplianceReport struct {
	Start           time.Time        `json:"start"`
	End             time.Time        `json:"end"`
	Summary         ReportSummary    `json:"summary"`
	Violations      []AuditEvent     `json:"violations"`
	Recommendations []string         `json:"recommendations"`
}

// ReportSummary aggregates event counts for a compliance report.
type ReportSummary struct {
	TotalEvents     int64 `json:"total_events"`
	ViolationCount  int64 `json:"violation_count"`
	WarningCount    int64 `json:"warning_count"`
	FallbackCount   int64 `json:"fallback_count"`
	OverrideCount   int64 `json:"override_count"`
	RoutingDecision int64 `json:"routing_decisions"`
}
