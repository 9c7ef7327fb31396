package biz

import (
	"context"
	"fmt"
	"time"

	"DualLane/internal/model"
	"DualLane/pkg/reliability"

	pkglog "DualLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// decisionCacheSize bounds the recent-decision cache.
	decisionCacheSize = 1024
	// decisionCacheTTL is how long a decision stays queryable by operators.
	decisionCacheTTL = 10 * time.Minute

	// Latency estimates used before any operation has been observed.
	defaultDirectLatencyMs = 150
	defaultBrokerLatencyMs = 1200
)

// RouterUsecase selects a path per request, triggers fallback when the
// chosen path fails, and emits a routing-decision event before any provider
// call is made.
type RouterUsecase struct {
	breaker    *CircuitBreakerUsecase
	executors  *PathExecutors
	audit      *AuditTrailUsecase
	compliance ComplianceChecker
	pii        PIIScanner

	decisions *expirable.LRU[string, model.RoutingDecision]
	logger    *pkglog.LogHelper
}

// NewRouterUsecase creates the routing decision layer.
func NewRouterUsecase(breaker *CircuitBreakerUsecase, executors *PathExecutors, audit *AuditTrailUsecase, compliance ComplianceChecker, pii PIIScanner, logger log.Logger) *RouterUsecase {
	return &RouterUsecase{
		breaker:    breaker,
		executors:  executors,
		audit:      audit,
		compliance: compliance,
		pii:        pii,
		decisions:  expirable.NewLRU[string, model.RoutingDecision](decisionCacheSize, nil, decisionCacheTTL),
		logger:     pkglog.NewLogHelper(logger),
	}
}

// pathHealthy combines the breaker gate with the transport's last reported
// health. A request must never be routed to a path whose breaker is OPEN.
func (uc *RouterUsecase) pathHealthy(path model.Path) bool {
	return uc.breaker.Allows(path.String()) && uc.executors.ForPath(path).TransportHealthy()
}

// estimatedLatencyMs uses the path's rolling average when available.
func (uc *RouterUsecase) estimatedLatencyMs(path model.Path) int64 {
	m := uc.executors.ForPath(path).Metrics()
	if m.TotalOperations > 0 && m.AverageLatencyMs > 0 {
		return int64(m.AverageLatencyMs)
	}
	if path == model.PathBroker {
		return defaultBrokerLatencyMs
	}
	return defaultDirectLatencyMs
}

// DecideRoute chooses a path for the given operation. Emergency and critical
// requests take the Direct Path whenever it is healthy, regardless of the
// Broker Path's estimated latency; medium and low priorities default to the
// Broker Path. Any priority takes the Direct Path opportunistically when the
// Broker Path is unhealthy and the Direct Path is not.
func (uc *RouterUsecase) DecideRoute(operationType string, priority model.Priority, correlationID string) model.RoutingDecision {
	directHealthy := uc.pathHealthy(model.PathDirect)
	brokerHealthy := uc.pathHealthy(model.PathBroker)

	decision := model.RoutingDecision{
		CorrelationID:       correlationID,
		PrimaryPathHealthy:  directHealthy,
		FallbackPathHealthy: brokerHealthy,
	}

	switch {
	case priority.IsUrgent() && directHealthy:
		decision.SelectedPath = model.PathDirect
		decision.Reason = fmt.Sprintf("%s priority prefers direct path", priority)
	case priority.IsUrgent() && brokerHealthy:
		decision.SelectedPath = model.PathBroker
		decision.Reason = "direct path unavailable, degrading urgent request to broker"
	case !priority.IsUrgent() && brokerHealthy:
		decision.SelectedPath = model.PathBroker
		decision.Reason = fmt.Sprintf("%s priority defaults to broker path", priority)
	case !priority.IsUrgent() && directHealthy:
		decision.SelectedPath = model.PathDirect
		decision.Reason = "broker path unhealthy, opportunistically using direct"
	default:
		decision.Reason = "no healthy path available"
	}

	if decision.SelectedPath != "" {
		decision.FallbackAvailable = uc.pathHealthy(decision.SelectedPath.Alternate())
		decision.EstimatedLatencyMs = uc.estimatedLatencyMs(decision.SelectedPath)
	}

	uc.decisions.Add(correlationID, decision)
	uc.logger.Routing("routing decision",
		"correlation_id", correlationID,
		"operation_type", operationType,
		"priority", priority,
		"selected_path", decision.SelectedPath,
		"reason", decision.Reason)

	return decision
}

// RecentDecision returns a cached decision by correlation ID.
func (uc *RouterUsecase) RecentDecision(correlationID string) (model.RoutingDecision, bool) {
	return uc.decisions.Get(correlationID)
}

// checkCompliance consults the compliance collaborator for path/operation
// and audit-logs the verdict. A violation blocks dispatch.
func (uc *RouterUsecase) checkCompliance(ctx context.Context, path model.Path, operationType, correlationID string) error {
	if uc.compliance == nil {
		return nil
	}

	verdict, err := uc.compliance.CheckCompliance(ctx, path, operationType)
	if err != nil {
		// The collaborator being unreachable is a warning, not a violation.
		uc.logger.Warnw("msg", "compliance check failed",
			"correlation_id", correlationID,
			"path", path,
			"error", err)
		uc.logAudit(ctx, model.AuditEventComplianceValidation, correlationID, model.ComplianceWarning, model.AuditPayload{
			Compliance: &model.CompliancePayload{Path: path, OperationType: operationType, Compliant: false, Reason: "compliance collaborator unavailable"},
		})
		return nil
	}

	status := model.ComplianceCompliant
	if !verdict.Compliant {
		status = model.ComplianceViolation
	}
	uc.logAudit(ctx, model.AuditEventComplianceValidation, correlationID, status, model.AuditPayload{
		Compliance: &model.CompliancePayload{Path: path, OperationType: operationType, Compliant: verdict.Compliant, Reason: verdict.Reason},
	})

	if !verdict.Compliant {
		return &reliability.ComplianceViolationError{
			Path:          path.String(),
			OperationType: operationType,
			Reason:        verdict.Reason,
		}
	}
	return nil
}

// logAudit appends an event, tolerating audit failures: a broken audit sink
// never aborts the business operation.
func (uc *RouterUsecase) logAudit(ctx context.Context, eventType model.AuditEventType, requestID string, status model.ComplianceStatus, payload model.AuditPayload) {
	if uc.audit == nil {
		return
	}
	if _, err := uc.audit.LogEvent(ctx, eventType, requestID, status, payload); err != nil {
		uc.logger.Errorw("msg", "failed to log audit event",
			"event_type", eventType,
			"request_id", requestID,
			"error", err)
	}
}

// Route runs one operation end to end: PII scan, route decision, compliance
// validation, execution through the fallback executor, and fallback to the
// alternate path when the chosen path fails irrecoverably. Breaker and
// executor errors never escape to the caller; failures surface as a
// structured result.
func (uc *RouterUsecase) Route(ctx context.Context, req *model.RouteRequest) (*model.RouteResult, error) {
	if !req.Priority.Valid() {
		return nil, fmt.Errorf("invalid priority %q", req.Priority)
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = pkglog.GenerateCorrelationID()
	}

	payload := req.Payload
	if uc.pii != nil && payload != "" {
		scan, err := uc.pii.Scan(ctx, payload)
		if err != nil {
			uc.logger.Warnw("msg", "pii scan failed",
				"correlation_id", correlationID,
				"error", err)
		} else if scan.ViolationCount > 0 {
			payload = scan.Redacted
			// Only the fact of redaction is recorded, never the text.
			uc.logAudit(ctx, model.AuditEventPIIRedaction, correlationID, model.ComplianceWarning, model.AuditPayload{
				PII: &model.PIIPayload{ViolationCount: scan.ViolationCount, LengthDelta: scan.LengthDelta},
			})
		}
	}

	decision := uc.DecideRoute(req.OperationType, req.Priority, correlationID)
	if decision.SelectedPath == "" {
		// Both paths are down. Routing failure is not a compliance
		// violation: the status stays pending.
		uc.logAudit(ctx, model.AuditEventOperationOutcome, correlationID, model.CompliancePending, model.AuditPayload{
			Outcome: &model.OutcomePayload{Success: false, Error: decision.Reason},
		})
		return &model.RouteResult{
			Success:       false,
			Error:         decision.Reason,
			CorrelationID: correlationID,
		}, nil
	}

	if err := uc.checkCompliance(ctx, decision.SelectedPath, req.OperationType, correlationID); err != nil {
		return &model.RouteResult{
			Success:       false,
			Error:         err.Error(),
			Path:          decision.SelectedPath,
			CorrelationID: correlationID,
		}, nil
	}

	// The decision event precedes any provider call.
	uc.logAudit(ctx, model.AuditEventRoutingDecision, correlationID, model.ComplianceCompliant, model.AuditPayload{
		Routing: &model.RoutingPayload{Decision: decision},
	})

	// An urgent request forgoing its preferred direct path is a fallback,
	// recorded before dispatch with the reason direct was passed over.
	fellBack := false
	if req.Priority.IsUrgent() && decision.SelectedPath == model.PathBroker && !decision.PrimaryPathHealthy {
		fellBack = true
		cause := "direct path transport unhealthy"
		if !uc.breaker.Allows(model.PathDirect.String()) {
			cause = "direct path circuit breaker is open"
		}
		uc.logger.Fallback("urgent request degraded to broker",
			"correlation_id", correlationID,
			"priority", req.Priority,
			"root_cause", cause)
		uc.logAudit(ctx, model.AuditEventFallbackTriggered, correlationID, model.ComplianceWarning, model.AuditPayload{
			Fallback: &model.FallbackPayload{
				FromRoute: model.PathDirect,
				ToRoute:   model.PathBroker,
				Reason:    "urgent request degraded before dispatch",
				RootCause: cause,
			},
		})
	}

	start := time.Now()
	primary := uc.executors.ForPath(decision.SelectedPath)
	result := primary.ExecuteFallbackOperation(ctx, payload, correlationID)

	if result.Success {
		uc.logAudit(ctx, model.AuditEventOperationOutcome, correlationID, model.ComplianceCompliant, model.AuditPayload{
			Outcome: &model.OutcomePayload{
				Path:      decision.SelectedPath,
				Success:   true,
				Attempts:  len(result.Attempts),
				LatencyMs: time.Since(start).Milliseconds(),
			},
		})
		return &model.RouteResult{
			Success:       true,
			Data:          result.Data,
			Path:          decision.SelectedPath,
			FellBack:      fellBack,
			Attempts:      len(result.Attempts),
			CorrelationID: correlationID,
		}, nil
	}

	rootCause := "unknown failure"
	if result.Err != nil {
		rootCause = result.Err.Error()
	}

	fallbackPath := decision.SelectedPath.Alternate()
	if !uc.breaker.Allows(fallbackPath.String()) {
		// Primary failed and the alternate's breaker is OPEN: terminal.
		uc.logAudit(ctx, model.AuditEventOperationOutcome, correlationID, model.CompliancePending, model.AuditPayload{
			Outcome: &model.OutcomePayload{
				Path:      decision.SelectedPath,
				Success:   false,
				Attempts:  len(result.Attempts),
				LatencyMs: time.Since(start).Milliseconds(),
				Error:     rootCause,
			},
		})
		return &model.RouteResult{
			Success:       false,
			Error:         rootCause,
			Path:          decision.SelectedPath,
			FellBack:      fellBack,
			Attempts:      len(result.Attempts),
			CorrelationID: correlationID,
		}, nil
	}

	if err := uc.checkCompliance(ctx, fallbackPath, req.OperationType, correlationID); err != nil {
		return &model.RouteResult{
			Success:       false,
			Error:         err.Error(),
			Path:          decision.SelectedPath,
			FellBack:      fellBack,
			Attempts:      len(result.Attempts),
			CorrelationID: correlationID,
		}, nil
	}

	uc.logger.Fallback("primary path failed, falling back",
		"correlation_id", correlationID,
		"from_route", decision.SelectedPath,
		"to_route", fallbackPath,
		"root_cause", rootCause)

	uc.logAudit(ctx, model.AuditEventFallbackTriggered, correlationID, model.ComplianceWarning, model.AuditPayload{
		Fallback: &model.FallbackPayload{
			FromRoute: decision.SelectedPath,
			ToRoute:   fallbackPath,
			Reason:    "primary path failed irrecoverably",
			RootCause: rootCause,
		},
	})

	fallbackResult := uc.executors.ForPath(fallbackPath).ExecuteFallbackOperation(ctx, payload, correlationID)
	totalAttempts := len(result.Attempts) + len(fallbackResult.Attempts)

	if fallbackResult.Success {
		uc.logAudit(ctx, model.AuditEventOperationOutcome, correlationID, model.ComplianceCompliant, model.AuditPayload{
			Outcome: &model.OutcomePayload{
				Path:      fallbackPath,
				Success:   true,
				Attempts:  totalAttempts,
				LatencyMs: time.Since(start).Milliseconds(),
			},
		})
		return &model.RouteResult{
			Success:       true,
			Data:          fallbackResult.Data,
			Path:          fallbackPath,
			FellBack:      true,
			Attempts:      totalAttempts,
			CorrelationID: correlationID,
		}, nil
	}

	finalCause := rootCause
	if fallbackResult.Err != nil {
		finalCause = fallbackResult.Err.Error()
	}
	uc.logAudit(ctx, model.AuditEventOperationOutcome, correlationID, model.CompliancePending, model.AuditPayload{
		Outcome: &model.OutcomePayload{
			Path:      fallbackPath,
			Success:   false,
			Attempts:  totalAttempts,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     finalCause,
		},
	})
	return &model.RouteResult{
		Success:       false,
		Error:         finalCause,
		Path:          fallbackPath,
		FellBack:      true,
		Attempts:      totalAttempts,
		CorrelationID: correlationID,
	}, nil
}

// LogOverride audit-logs a manual breaker override on behalf of the
// operator surface. The breaker itself never logs to the audit trail.
func (uc *RouterUsecase) LogOverride(ctx context.Context, providerKey, action, operatorID string) {
	uc.logAudit(ctx, model.AuditEventOperatorOverride, providerKey, model.ComplianceWarning, model.AuditPayload{
		Override: &model.OverridePayload{ProviderKey: providerKey, Action: action, OperatorID: operatorID},
	})
}
