package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"DualLane/internal/conf"
	"DualLane/internal/model"
	pkglog "DualLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// AuditRepo persists audit events and serves report queries. Append is
// best-effort and asynchronous: a sink failure must never abort the business
// operation that produced the event.
type AuditRepo interface {
	// Append enqueues an event for persistence. Returns an error when the
	// event could not be accepted (queue full, sink closed).
	Append(event *model.AuditEvent) error

	// ListByTimeRange returns stored events within [start, end] ordered by
	// event ID.
	ListByTimeRange(ctx context.Context, start, end time.Time) ([]model.AuditEvent, error)

	// ListChain returns all stored events ordered by event ID.
	ListChain(ctx context.Context) ([]model.AuditEvent, error)
}

// AuditTrailUsecase owns the hash chain tail. All appends go through a
// single mutex so two concurrently logged events can never record the same
// previous hash: that would silently corrupt the chain.
type AuditTrailUsecase struct {
	repo             AuditRepo
	integrityEnabled bool
	now              func() time.Time
	logger           *pkglog.LogHelper

	mu       sync.Mutex
	nextID   uint64
	lastHash string

	writeFailures atomic.Int64
}

// NewAuditTrailUsecase creates the audit trail usecase.
func NewAuditTrailUsecase(c *conf.Audit, repo AuditRepo, logger log.Logger) *AuditTrailUsecase {
	integrityEnabled := true
	if c != nil {
		integrityEnabled = c.IntegrityCheckEnabled
	}
	return &AuditTrailUsecase{
		repo:             repo,
		integrityEnabled: integrityEnabled,
		now:              time.Now,
		logger:           pkglog.NewLogHelper(logger),
	}
}

// WithClock replaces the usecase's clock. Test hook.
func (uc *AuditTrailUsecase) WithClock(now func() time.Time) *AuditTrailUsecase {
	uc.now = now
	return uc
}

// canonicalHash computes the event hash: sha256 over the canonical JSON form
// of the event with EventHash cleared. Struct field order fixes the
// canonical form, which is why the payload is a closed union of structs and
// never a free-form map.
func canonicalHash(event model.AuditEvent) (string, error) {
	event.EventHash = ""
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize audit event: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// LogEvent appends one event to the global chain and hands it to the
// persistence sink. The returned event is immutable once hashed.
func (uc *AuditTrailUsecase) LogEvent(ctx context.Context, eventType model.AuditEventType, requestID string, status model.ComplianceStatus, payload model.AuditPayload) (*model.AuditEvent, error) {
	uc.mu.Lock()
	event := model.AuditEvent{
		EventID:           uc.nextID,
		// Truncated to microseconds so the hash survives a round trip
		// through a DATETIME(6) column.
		Timestamp:         uc.now().UTC().Truncate(time.Microsecond),
		EventType:         eventType,
		RequestID:         requestID,
		ComplianceStatus:  status,
		Payload:           payload,
		PreviousEventHash: uc.lastHash,
	}

	hash, err := canonicalHash(event)
	if err != nil {
		uc.mu.Unlock()
		return nil, err
	}
	event.EventHash = hash
	uc.lastHash = hash
	uc.nextID++
	uc.mu.Unlock()

	// Persistence is best-effort: the business operation's own outcome is
	// unaffected by a sink failure, but operators get a counter to alert on.
	if uc.repo != nil {
		if err := uc.repo.Append(&event); err != nil {
			uc.writeFailures.Add(1)
			uc.logger.Errorw("msg", "failed to persist audit event",
				"event_id", event.EventID,
				"event_type", event.EventType,
				"error", err)
		}
	}

	return &event, nil
}

// WriteFailures returns the number of audit events that could not be
// persisted. Exposed for operational alerting.
func (uc *AuditTrailUsecase) WriteFailures() int64 {
	return uc.writeFailures.Load()
}

// IntegrityEnabled reports whether chain verification is active. Callers
// that depend on audit guarantees must not silently ignore a disabled
// verifier.
func (uc *AuditTrailUsecase) IntegrityEnabled() bool {
	return uc.integrityEnabled
}

// VerifyIntegrity checks a supplied event sequence. It is a pure function:
// no I/O, and verifying the same unmodified list twice yields identical
// results. Two failure classes are reported distinctly: an event whose
// recomputed hash mismatches its stored hash (content tampering), and an
// event whose previous-hash pointer mismatches its predecessor (reordering
// or deletion).
//
// When integrity checking is disabled by configuration this always returns
// valid with no errors. That escape hatch exists for non-compliance
// environments and is intentional.
func (uc *AuditTrailUsecase) VerifyIntegrity(events []model.AuditEvent) model.IntegrityReport {
	if !uc.integrityEnabled {
		return model.IntegrityReport{Valid: true}
	}

	var errs []model.IntegrityError
	for i, event := range events {
		recomputed, err := canonicalHash(event)
		if err != nil || recomputed != event.EventHash {
			errs = append(errs, model.IntegrityError{
				EventID: event.EventID,
				Index:   i,
				Kind:    model.IntegrityInvalidHash,
				Detail:  fmt.Sprintf("stored hash %q does not match recomputed hash", event.EventHash),
			})
		}

		if i > 0 && event.PreviousEventHash != events[i-1].EventHash {
			errs = append(errs, model.IntegrityError{
				EventID: event.EventID,
				Index:   i,
				Kind:    model.IntegrityBrokenChainLink,
				Detail:  fmt.Sprintf("previous hash %q does not match predecessor hash %q", event.PreviousEventHash, events[i-1].EventHash),
			})
		}
	}

	return model.IntegrityReport{Valid: len(errs) == 0, Errors: errs}
}

// VerifyStoredChain reads back the persisted chain and verifies it.
func (uc *AuditTrailUsecase) VerifyStoredChain(ctx context.Context) (model.IntegrityReport, error) {
	if uc.repo == nil {
		return model.IntegrityReport{Valid: true}, nil
	}
	events, err := uc.repo.ListChain(ctx)
	if err != nil {
		return model.IntegrityReport{}, fmt.Errorf("failed to load stored audit chain: %w", err)
	}
	report := uc.VerifyIntegrity(events)
	uc.logger.Audit("stored chain verified",
		"events", len(events),
		"valid", report.Valid,
		"errors", len(report.Errors))
	return report, nil
}

// GenerateComplianceReport summarizes audit activity between start and end.
func (uc *AuditTrailUsecase) GenerateComplianceReport(ctx context.Context, start, end time.Time) (*model.ComplianceReport, error) {
	if uc.repo == nil {
		return nil, fmt.Errorf("audit repository is unavailable")
	}

	events, err := uc.repo.ListByTimeRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit events for report: %w", err)
	}

	report := &model.ComplianceReport{Start: start, End: end}
	report.Summary.TotalEvents = int64(len(events))

	for _, event := range events {
		switch event.ComplianceStatus {
		case model.ComplianceViolation:
			report.Summary.ViolationCount++
			report.Violations = append(report.Violations, event)
		case model.ComplianceWarning:
			report.Summary.WarningCount++
		}

		switch event.EventType {
		case model.AuditEventFallbackTriggered:
			report.Summary.FallbackCount++
		case model.AuditEventOperatorOverride:
			report.Summary.OverrideCount++
		case model.AuditEventRoutingDecision:
			report.Summary.RoutingDecision++
		}
	}

	report.Recommendations = buildRecommendations(report.Summary)
	return report, nil
}

// buildRecommendations derives operator guidance from the report summary.
func buildRecommendations(s model.ReportSummary) []string {
	var recs []string
	if s.ViolationCount > 0 {
		recs = append(recs, "review compliance violations and confirm affected requests were blocked")
	}
	if s.TotalEvents > 0 && s.FallbackCount*5 >= s.TotalEvents {
		recs = append(recs, "fallback rate exceeds 20% of audited events; investigate primary path stability")
	}
	if s.OverrideCount > 0 {
		recs = append(recs, "manual breaker overrides were recorded; verify each has an operator ticket")
	}
	if len(recs) == 0 {
		recs = append(recs, "no action required")
	}
	return recs
}
