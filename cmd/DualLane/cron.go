package main

import (
	"context"
	"time"

	"DualLane/internal/biz"
	"DualLane/internal/conf"
	"DualLane/internal/model"
	pkglog "DualLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// newCron starts the background maintenance jobs and returns the scheduler
// together with a cleanup that stops it.
func newCron(executors *biz.PathExecutors, audit *biz.AuditTrailUsecase, rc *conf.Reliability, logger log.Logger) (*cron.Cron, func()) {
	helper := pkglog.NewLogHelper(logger)

	c := cron.New(cron.WithSeconds())

	// Every 5 minutes: compare both paths against their reliability targets
	// and record a RELIABILITY_ALERT audit event for each missed one.
	_, err := c.AddFunc("0 */5 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		validateReliability(ctx, executors, audit, rc, helper)
	})
	if err != nil {
		helper.Errorw("msg", "failed to register reliability validation job", "error", err)
	}

	// Hourly: re-verify the persisted audit chain end to end. Tampering in
	// the store only surfaces on read, so it is checked proactively.
	_, err = c.AddFunc("0 0 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		report, err := audit.VerifyStoredChain(ctx)
		if err != nil {
			helper.Errorw("msg", "stored audit chain verification failed", "error", err)
			return
		}
		if !report.Valid {
			helper.Errorw("msg", "stored audit chain integrity violated",
				"error_count", len(report.Errors),
				"first_error", report.Errors[0].Kind,
			)
		}
	})
	if err != nil {
		helper.Errorw("msg", "failed to register audit verification job", "error", err)
	}

	c.Start()
	helper.Scheduler("maintenance jobs started",
		"reliability_validation", "every 5 minutes",
		"audit_verification", "hourly")

	cleanup := func() {
		helper.Scheduler("stopping maintenance jobs")
		<-c.Stop().Done()
	}
	return c, cleanup
}

func validateReliability(ctx context.Context, executors *biz.PathExecutors, audit *biz.AuditTrailUsecase, rc *conf.Reliability, helper *pkglog.LogHelper) {
	for _, path := range []model.Path{model.PathDirect, model.PathBroker} {
		v := executors.ForPath(path).ValidateReliabilityTargets()
		if v.MeetsTarget {
			continue
		}

		helper.Warnw("msg", "reliability target missed",
			"path", path,
			"current_success_rate", v.CurrentSuccessRate,
			"target_success_rate", rc.SuccessRateTarget,
			"total_operations", v.TotalOperations,
		)

		_, err := audit.LogEvent(ctx, model.AuditEventReliabilityAlert, pkglog.GenerateCorrelationID(), model.ComplianceWarning, model.AuditPayload{
			Alert: &model.AlertPayload{
				Path:               path,
				CurrentSuccessRate: v.CurrentSuccessRate,
				TargetSuccessRate:  rc.SuccessRateTarget,
				TotalOperations:    v.TotalOperations,
			},
		})
		if err != nil {
			helper.Errorw("msg", "failed to record reliability alert", "path", path, "error", err)
		}
	}
}
