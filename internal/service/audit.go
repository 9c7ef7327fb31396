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

// VerifyRequest optionally carries a caller-supplied event slice. When
// empty, the persisted chain is verified instead.
type VerifyRequest struct {
	Events []model.AuditEvent `json:"events,omitempty"`
}

// VerifyReply is the outcome of an audit chain verification.
type VerifyReply struct {
	Report           model.IntegrityReport `json:"report"`
	IntegrityEnabled bool                  `json:"integrity_enabled"`
	WriteFailures    int64                 `json:"write_failures"`
}

// ReportRequest bounds a compliance report query.
type ReportRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// AuditService exposes audit verification and compliance reporting.
type AuditService struct {
	audit  *biz.AuditTrailUsecase
	logger *log.Helper
}

// NewAuditService creates a new AuditService instance.
func NewAuditService(audit *biz.AuditTrailUsecase, logger log.Logger) *AuditService {
	return &AuditService{
		audit:  audit,
		logger: log.NewHelper(logger),
	}
}

// VerifyChain verifies the supplied events, or the persisted chain when the
// request carries none.
func (s *AuditService) VerifyChain(ctx context.Context, req *VerifyRequest) (*VerifyReply, error) {
	var (
		report model.IntegrityReport
		err    error
	)
	if req != nil && len(req.Events) > 0 {
		report = s.audit.VerifyIntegrity(req.Events)
	} else {
		report, err = s.audit.VerifyStoredChain(ctx)
	}
	if err != nil {
		s.logger.Errorw("msg", "audit chain verification failed", "error", err)
		return nil, status.Error(codes.Internal, err.Error())
	}

	if !report.Valid {
		s.logger.Errorw("msg", "audit chain integrity violation detected",
			"error_count", len(report.Errors))
	}

	return &VerifyReply{
		Report:           report,
		IntegrityEnabled: s.audit.IntegrityEnabled(),
		WriteFailures:    s.audit.WriteFailures(),
	}, nil
}

// Report generates a compliance report for a time range. Bounds default to
// the last 24 hours when absent.
func (s *AuditService) Report(ctx context.Context, req *ReportRequest) (*model.ComplianceReport, error) {
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)

	if req.Start != "" {
		t, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid start time %q: expected RFC3339", req.Start)
		}
		start = t
	}
	if req.End != "" {
		t, err := time.Parse(time.RFC3339, req.End)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid end time %q: expected RFC3339", req.End)
		}
		end = t
	}
	if end.Before(start) {
		return nil, status.Error(codes.InvalidArgument, "end time precedes start time")
	}

	report, err := s.audit.GenerateComplianceReport(ctx, start, end)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return report, nil
}
