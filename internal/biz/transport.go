package biz

import (
	"context"

	"DualLane/internal/model"
)

// Transport is the pluggable path transport consumed by the fallback
// executor. One instance exists per path (Direct, Broker).
type Transport interface {
	// RouteRequest sends the payload through the path and returns the
	// provider's result, or an error classified by pkg/reliability.
	RouteRequest(ctx context.Context, payload, correlationID string) (*model.TransportResult, error)

	// GetHealthStatus reports the transport's self-assessed health.
	GetHealthStatus(ctx context.Context) model.HealthStatus

	// Reconnect re-establishes the underlying connection. Called by the
	// executor between retries when the transport reported itself unhealthy.
	Reconnect(ctx context.Context) error
}

// ComplianceChecker is the external compliance collaborator. It is invoked
// by the routing layer before dispatch; rule evaluation internals live
// outside this service.
type ComplianceChecker interface {
	CheckCompliance(ctx context.Context, path model.Path, operationType string) (model.ComplianceResult, error)
}

// PIIScanner is the external PII collaborator. The core only consumes the
// violation count and length delta; raw text and spans never reach the
// audit trail.
type PIIScanner interface {
	Scan(ctx context.Context, text string) (model.PIIScanResult, error)
}
