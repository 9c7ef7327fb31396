// Package service implements the application service layer.
// It adapts transport-level requests to business usecases.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewRoutingService,
	NewAuditService,
)
