package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/transfa/payout-service/internal/domain"
	"github.com/transfa/payout-service/pkg/worldpay"
)

func newTestScheduler(svc *Service, schedule string) *ReconcileScheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewReconcileScheduler(svc, logger, schedule, ReconcileOptions{BatchSize: 10})
}

func TestReconcileScheduler_RunOnceAdvancesStalePayouts(t *testing.T) {
	repo := newMemoryRepo()
	seeded := repo.seed(submittedPayout(3, "mock_abc"))
	svc := newTestService(repo, worldpay.NewMockClient(), nil)

	report, err := newTestScheduler(svc, "@every 1m").RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if report.Scanned != 1 || report.Changed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := repo.get(seeded.ID).Status; got != domain.StatusProcessed {
		t.Fatalf("expected processed after reconciliation, got %s", got)
	}
}

func TestReconcileScheduler_RejectsInvalidSchedule(t *testing.T) {
	svc := newTestService(newMemoryRepo(), worldpay.NewMockClient(), nil)
	scheduler := newTestScheduler(svc, "not a schedule")

	if err := scheduler.Start(); err == nil {
		<-scheduler.Stop().Done()
		t.Fatal("expected an invalid schedule to be rejected")
	}
}

func TestReconcileScheduler_StartAndStop(t *testing.T) {
	svc := newTestService(newMemoryRepo(), worldpay.NewMockClient(), nil)
	scheduler := newTestScheduler(svc, "@every 1h")

	if err := scheduler.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	<-scheduler.Stop().Done()
}
