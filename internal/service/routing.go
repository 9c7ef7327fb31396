package service

import (
	"context"
	"time"

	"DualLane/internal/biz"
	"DualLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RouteRequest is the inbound payload for POST /v1/route.
type RouteRequest struct {
	OperationType string `json:"operation_type"`
	Priority      string `json:"priority"`
	Payload       string `json:"payload"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// RouteReply is the outcome returned to the caller.
type RouteReply struct {
	Success       bool       `json:"success"`
	Data          string     `json:"data,omitempty"`
	Error         string     `json:"error,omitempty"`
	Path          model.Path `json:"path,omitempty"`
	FellBack      bool       `json:"fell_back"`
	Attempts      int        `json:"attempts"`
	CorrelationID string     `json:"correlation_id"`
}

// PathMetricsReply maps each path to its rolling reliability metrics.
type PathMetricsReply struct {
	Direct model.ReliabilityMetrics `json:"direct"`
	Broker model.ReliabilityMetrics `json:"broker"`
}

// PathValidationReply maps each path to its reliability target validation.
type PathValidationReply struct {
	Direct model.ReliabilityValidation `json:"direct"`
	Broker model.ReliabilityValidation `json:"broker"`
}

// OverrideRequest carries the operator identity for breaker overrides.
type OverrideRequest struct {
	OperatorID string `json:"operator_id"`
}

// OverrideReply confirms an applied breaker override.
type OverrideReply struct {
	ProviderKey string                `json:"provider_key"`
	Action      string                `json:"action"`
	Snapshot    model.CircuitSnapshot `json:"snapshot"`
}

// RoutingService exposes routing, breaker and reliability operations.
type RoutingService struct {
	router    *biz.RouterUsecase
	breaker   *biz.CircuitBreakerUsecase
	executors *biz.PathExecutors
	logger    *log.Helper
}

// NewRoutingService creates a new RoutingService instance.
func NewRoutingService(router *biz.RouterUsecase, breaker *biz.CircuitBreakerUsecase, executors *biz.PathExecutors, logger log.Logger) *RoutingService {
	return &RoutingService{
		router:    router,
		breaker:   breaker,
		executors: executors,
		logger:    log.NewHelper(logger),
	}
}

// Route submits one operation for routed execution.
func (s *RoutingService) Route(ctx context.Context, req *RouteRequest) (*RouteReply, error) {
	if req.OperationType == "" {
		return nil, status.Error(codes.InvalidArgument, "operation_type is required")
	}
	priority := model.Priority(req.Priority)
	if !priority.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "invalid priority %q: must be one of emergency, critical, medium, low", req.Priority)
	}

	s.logger.Infow("msg", "Route called",
		"operation_type", req.OperationType,
		"priority", req.Priority,
		"correlation_id", req.CorrelationID)

	result, err := s.router.Route(ctx, &model.RouteRequest{
		OperationType: req.OperationType,
		Priority:      priority,
		Payload:       req.Payload,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	return &RouteReply{
		Success:       result.Success,
		Data:          result.Data,
		Error:         result.Error,
		Path:          result.Path,
		FellBack:      result.FellBack,
		Attempts:      result.Attempts,
		CorrelationID: result.CorrelationID,
	}, nil
}

// GetDecision returns a recent routing decision by correlation ID.
func (s *RoutingService) GetDecision(ctx context.Context, correlationID string) (*model.RoutingDecision, error) {
	if correlationID == "" {
		return nil, status.Error(codes.InvalidArgument, "correlation id is required")
	}
	decision, ok := s.router.RecentDecision(correlationID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no routing decision recorded for %q", correlationID)
	}
	return &decision, nil
}

// FallbackMetrics returns the rolling reliability metrics per path.
func (s *RoutingService) FallbackMetrics(ctx context.Context) (*PathMetricsReply, error) {
	return &PathMetricsReply{
		Direct: s.executors.Direct.Metrics(),
		Broker: s.executors.Broker.Metrics(),
	}, nil
}

// BreakerSnapshot returns the breaker state for a provider key.
func (s *RoutingService) BreakerSnapshot(ctx context.Context, providerKey string) (*model.CircuitSnapshot, error) {
	if providerKey == "" {
		return nil, status.Error(codes.InvalidArgument, "provider key is required")
	}
	snapshot := s.breaker.Snapshot(providerKey)
	return &snapshot, nil
}

// ValidateReliability compares observed success rates against targets.
func (s *RoutingService) ValidateReliability(ctx context.Context) (*PathValidationReply, error) {
	return &PathValidationReply{
		Direct: s.executors.Direct.ValidateReliabilityTargets(),
		Broker: s.executors.Broker.ValidateReliabilityTargets(),
	}, nil
}

// applyOverride runs one breaker override and audit-logs it.
func (s *RoutingService) applyOverride(ctx context.Context, providerKey, action, operatorID string) (*OverrideReply, error) {
	if providerKey == "" {
		return nil, status.Error(codes.InvalidArgument, "provider key is required")
	}
	if operatorID == "" {
		return nil, status.Error(codes.InvalidArgument, "operator_id is required for breaker overrides")
	}

	switch action {
	case "force-open":
		s.breaker.ForceOpen(providerKey)
	case "force-close":
		s.breaker.ForceClose(providerKey)
	case "reset":
		s.breaker.Reset(providerKey)
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown override action %q", action)
	}

	// Overrides are always audit-logged; the breaker itself never writes
	// to the audit trail.
	s.router.LogOverride(ctx, providerKey, action, operatorID)
	s.logger.Warnw("msg", "breaker override applied",
		"provider", providerKey,
		"action", action,
		"operator_id", operatorID,
		"at", time.Now().UTC().Format(time.RFC3339))

	snapshot := s.breaker.Snapshot(providerKey)
	return &OverrideReply{ProviderKey: providerKey, Action: action, Snapshot: snapshot}, nil
}

// ForceOpenBreaker forces a provider's breaker OPEN.
func (s *RoutingService) ForceOpenBreaker(ctx context.Context, providerKey string, req *OverrideRequest) (*OverrideReply, error) {
	return s.applyOverride(ctx, providerKey, "force-open", req.OperatorID)
}

// ForceCloseBreaker forces a provider's breaker CLOSED.
func (s *RoutingService) ForceCloseBreaker(ctx context.Context, providerKey string, req *OverrideRequest) (*OverrideReply, error) {
	return s.applyOverride(ctx, providerKey, "force-close", req.OperatorID)
}

// ResetBreaker restores a provider's breaker to its initial state.
func (s *RoutingService) ResetBreaker(ctx context.Context, providerKey string, req *OverrideRequest) (*OverrideReply, error) {
	return s.applyOverride(ctx, providerKey, "reset", req.OperatorID)
}
