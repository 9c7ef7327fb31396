// Package biz contains business logic layer implementations.
// This layer holds the core business rules and domain models.
package biz

import (
	"DualLane/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewCircuitBreakerUsecase,
	NewPathExecutors,
	NewAuditTrailUsecase,
	NewRouterUsecase,
	// Import data layer providers
	data.NewAuditStore,
	data.NewDirectTransport,
	data.NewBrokerTransport,
	data.NewComplianceChecker,
	data.NewPIIScanner,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(AuditRepo), new(*data.AuditStore)),
	wire.Bind(new(DirectTransport), new(*data.DirectHTTPTransport)),
	wire.Bind(new(BrokerTransport), new(*data.BrokerQueueTransport)),
	wire.Bind(new(ComplianceChecker), new(*data.RuleComplianceChecker)),
	wire.Bind(new(PIIScanner), new(*data.RegexPIIScanner)),
)
