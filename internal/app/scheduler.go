/**
 * @description
 * Cron scheduler for the periodic payout reconciliation pass.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// reconcileJobTimeout bounds one scheduled pass.
const reconcileJobTimeout = 4 * time.Minute

// ReconcileScheduler runs Service.ReconcilePayouts on a cron schedule.
type ReconcileScheduler struct {
	cron     *cron.Cron
	service  *Service
	logger   *slog.Logger
	schedule string
	opts     ReconcileOptions
}

// NewReconcileScheduler creates a scheduler. Overlapping runs are skipped.
func NewReconcileScheduler(service *Service, logger *slog.Logger, schedule string, opts ReconcileOptions) *ReconcileScheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &ReconcileScheduler{
		cron:     c,
		service:  service,
		logger:   logger,
		schedule: schedule,
		opts:     opts,
	}
}

// RunOnce performs a single reconciliation pass and logs its report.
func (s *ReconcileScheduler) RunOnce(ctx context.Context) (ReconcileReport, error) {
	started := time.Now()
	report, err := s.service.ReconcilePayouts(ctx, s.opts)
	if err != nil {
		s.logger.Error("reconciliation pass failed", "error", err, "scanned", report.Scanned, "failed", report.Failed)
		return report, err
	}
	s.logger.Info("reconciliation pass finished",
		"scanned", report.Scanned,
		"refreshed", report.Refreshed,
		"changed", report.Changed,
		"failed", report.Failed,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return report, nil
}

// Start registers the reconciliation job and starts the cron scheduler.
func (s *ReconcileScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.job); err != nil {
		s.logger.Error("failed to schedule reconciliation job", "error", err, "schedule", s.schedule)
		return fmt.Errorf("invalid reconcile schedule %q: %w", s.schedule, err)
	}
	s.logger.Info("scheduled reconciliation job", "schedule", s.schedule)

	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *ReconcileScheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *ReconcileScheduler) job() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileJobTimeout)
	defer cancel()
	_, _ = s.RunOnce(ctx)
}
