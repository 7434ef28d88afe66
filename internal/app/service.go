/**
 * @description
 * This file contains the core business logic for the payout-service. The `Service`
 * struct drives every payout through its lifecycle, coordinating the normalizer,
 * the record store, the Worldpay gateway client and the event broker.
 *
 * Key features:
 * - Create: normalize, persist, submit, persist the outcome.
 * - Refresh: serialized per payout, advances status only along allowed edges.
 * - Listing and single reads with owner/admin access rules.
 * - Batch reconciliation of stale non-terminal payouts.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/worldpay, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/transfa/payout-service/internal/domain"
	"github.com/transfa/payout-service/internal/store"
	"github.com/transfa/payout-service/pkg/rabbitmq"
	"github.com/transfa/payout-service/pkg/worldpay"
)

// ErrForbidden is returned when a non-privileged caller touches someone else's payout.
var ErrForbidden = errors.New("access denied")

// persistTimeout bounds writes that must happen after the caller's context may have expired.
const persistTimeout = 10 * time.Second

// Service provides the core business logic for payouts.
type Service struct {
	repo          store.Repository
	gateway       worldpay.Gateway
	builder       *worldpay.Builder
	merchant      worldpay.Merchant
	eventProducer rabbitmq.Publisher
	locker        PayoutLocker
	now           func() time.Time
}

// NewService creates a new payout service instance.
func NewService(repo store.Repository, gateway worldpay.Gateway, builder *worldpay.Builder, merchant worldpay.Merchant, producer rabbitmq.Publisher) *Service {
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	return &Service{
		repo:          repo,
		gateway:       gateway,
		builder:       builder,
		merchant:      merchant,
		eventProducer: producer,
		locker:        NewLocalPayoutLocker(),
		now:           time.Now,
	}
}

// SetPayoutLocker replaces the default in-process locker, e.g. with a Redis-backed one.
func (s *Service) SetPayoutLocker(locker PayoutLocker) {
	if locker != nil {
		s.locker = locker
	}
}

// GatewayMode reports whether the service talks to the live gateway or the mock.
func (s *Service) GatewayMode() worldpay.Mode {
	return s.gateway.Mode()
}

// CreatePayout normalizes the request, records the payout and submits it to the gateway.
// When the payout was recorded but submission failed, the failed payout is returned
// together with the classified error.
func (s *Service) CreatePayout(ctx context.Context, ownerID int64, req domain.CreatePayoutRequest) (*domain.Payout, *worldpay.Result, error) {
	canonical, err := NormalizePayoutRequest(req)
	if err != nil {
		return nil, nil, err
	}

	payout := &domain.Payout{
		OwnerID:     ownerID,
		AmountMinor: canonical.AmountMinor,
		Currency:    canonical.Currency,
		Beneficiary: canonical.Beneficiary,
		Reference:   canonical.Reference,
		Status:      domain.StatusCreated,
	}
	if _, err := s.repo.CreatePayout(ctx, payout); err != nil {
		return nil, nil, fmt.Errorf("failed to record payout: %w", err)
	}
	for _, w := range canonical.Warnings {
		log.Printf("level=warn component=payout_service msg=\"normalization warning\" payout_id=%d warning=%q", payout.ID, w)
	}

	// Held until the submission outcome is persisted so no refresh can observe
	// the payout between pending and its submit result.
	unlock, err := s.locker.LockPayout(ctx, payout.ID)
	if err != nil {
		log.Printf("level=error component=payout_service msg=\"payout lock unavailable; not submitting\" payout_id=%d err=%v", payout.ID, err)
		persistCtx, cancel := context.WithTimeout(detached(ctx), persistTimeout)
		defer cancel()
		if markErr := s.transition(persistCtx, payout, domain.StatusFailed, nil, nil); markErr != nil {
			log.Printf("level=error component=payout_service msg=\"failed to mark payout failed\" payout_id=%d err=%v", payout.ID, markErr)
		}
		return payout, nil, fmt.Errorf("failed to lock payout for submission: %w", err)
	}
	defer unlock()

	if err := s.transition(ctx, payout, domain.StatusPending, nil, nil); err != nil {
		return nil, nil, err
	}

	submission, err := s.builder.Build(payout, s.merchant)
	if err != nil {
		log.Printf("level=error component=payout_service msg=\"gateway request mapping failed\" payout_id=%d err=%v", payout.ID, err)
		if markErr := s.transition(detached(ctx), payout, domain.StatusFailed, nil, nil); markErr != nil {
			log.Printf("level=error component=payout_service msg=\"failed to mark payout failed\" payout_id=%d err=%v", payout.ID, markErr)
		}
		return payout, nil, err
	}

	result, err := s.gateway.SubmitPayout(ctx, submission)
	if err != nil {
		log.Printf("level=warn component=payout_service msg=\"payout submission failed\" payout_id=%d correlation_id=%s kind=%s",
			payout.ID, submission.Headers.CorrelationID, worldpay.KindName(err))
		// The caller's context may already be gone (timeout); the failure must still be recorded.
		persistCtx, cancel := context.WithTimeout(detached(ctx), persistTimeout)
		defer cancel()
		if markErr := s.transition(persistCtx, payout, domain.StatusFailed, nil, providerBody(err)); markErr != nil {
			log.Printf("level=error component=payout_service msg=\"failed to mark payout failed\" payout_id=%d err=%v", payout.ID, markErr)
		}
		return payout, nil, err
	}

	persistCtx, cancel := context.WithTimeout(detached(ctx), persistTimeout)
	defer cancel()
	var gatewayID *string
	if result.ID != "" {
		gatewayID = &result.ID
	} else {
		log.Printf("level=warn component=payout_service msg=\"gateway accepted payout without an id\" payout_id=%d status=%s", payout.ID, result.Status)
	}
	if err := s.transition(persistCtx, payout, result.Status, gatewayID, result.Raw); err != nil {
		log.Printf("level=error component=payout_service msg=\"submitted payout could not be recorded\" payout_id=%d gateway_id=%s err=%v", payout.ID, result.ID, err)
		return payout, result, fmt.Errorf("payout was submitted but its outcome could not be recorded: %w", err)
	}

	log.Printf("level=info component=payout_service msg=\"payout submitted\" payout_id=%d gateway_id=%s status=%s mode=%s correlation_id=%s",
		payout.ID, result.ID, payout.Status, s.gateway.Mode(), submission.Headers.CorrelationID)
	return s.reload(persistCtx, payout), result, nil
}

// RefreshPayout asks the gateway for the authoritative status of a payout and records it.
// Ownership is checked before any gateway call; refreshes of the same payout are serialized.
func (s *Service) RefreshPayout(ctx context.Context, payoutID, requesterID int64, privileged bool) (*domain.Payout, *worldpay.Result, error) {
	if _, err := s.GetPayout(ctx, payoutID, requesterID, privileged); err != nil {
		return nil, nil, err
	}

	unlock, err := s.locker.LockPayout(ctx, payoutID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	// Re-read under the lock so the edge check sees the latest committed status.
	payout, err := s.repo.FindPayoutByID(ctx, payoutID)
	if err != nil {
		return nil, nil, err
	}

	externalID := fmt.Sprintf("local-%d", payout.ID)
	if payout.HasGatewayID() {
		externalID = *payout.GatewayID
	}

	headers := s.builder.QueryHeaders()
	notFound := false
	result, err := s.gateway.QueryPayoutStatus(ctx, externalID, headers)
	if err != nil {
		if !errors.Is(err, worldpay.ErrNotFoundUpstream) {
			log.Printf("level=warn component=payout_service msg=\"status query failed\" payout_id=%d payout_ref=%s correlation_id=%s kind=%s",
				payout.ID, externalID, headers.CorrelationID, worldpay.KindName(err))
			return payout, nil, err
		}
		notFound = true
		result = &worldpay.Result{
			ID:     externalID,
			Status: domain.StatusUnknown,
			Raw:    providerBody(err),
			Mock:   s.gateway.Mode() == worldpay.ModeMock,
		}
	}

	target := result.Status
	if !domain.CanTransition(payout.Status, target, payout.HasGatewayID()) {
		log.Printf("level=info component=payout_service msg=\"status edge not allowed; keeping status\" payout_id=%d from=%s reported=%s",
			payout.ID, payout.Status, target)
		if notFound {
			return payout, result, nil
		}
		target = payout.Status
	}

	persistCtx, cancel := context.WithTimeout(detached(ctx), persistTimeout)
	defer cancel()
	if err := s.transition(persistCtx, payout, target, nil, result.Raw); err != nil {
		return payout, result, err
	}

	return s.reload(persistCtx, payout), result, nil
}

// GetPayout returns one payout if the requester may see it.
func (s *Service) GetPayout(ctx context.Context, payoutID, requesterID int64, privileged bool) (*domain.Payout, error) {
	payout, err := s.repo.FindPayoutByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if !privileged && payout.OwnerID != requesterID {
		return nil, ErrForbidden
	}
	return payout, nil
}

// ListPayouts returns the requester's payouts, or every payout with owner identity for privileged callers.
func (s *Service) ListPayouts(ctx context.Context, requesterID int64, privileged bool) ([]domain.PayoutWithOwner, error) {
	if privileged {
		return s.repo.ListAllPayouts(ctx)
	}

	payouts, err := s.repo.ListPayoutsByOwner(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PayoutWithOwner, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, domain.PayoutWithOwner{Payout: p})
	}
	return out, nil
}

// ReconcileOptions selects which payouts a reconciliation pass refreshes.
type ReconcileOptions struct {
	Statuses  []domain.PayoutStatus
	MinAge    time.Duration
	BatchSize int
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Scanned   int `json:"scanned"`
	Refreshed int `json:"refreshed"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
}

// DefaultReconcileStatuses are the non-terminal statuses worth asking the gateway about.
var DefaultReconcileStatuses = []domain.PayoutStatus{domain.StatusSubmitted, domain.StatusUnknown, domain.StatusPending}

// ReconcilePayouts refreshes stale non-terminal payouts through the regular refresh path.
func (s *Service) ReconcilePayouts(ctx context.Context, opts ReconcileOptions) (ReconcileReport, error) {
	statuses := opts.Statuses
	if len(statuses) == 0 {
		statuses = DefaultReconcileStatuses
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 50
	}

	var report ReconcileReport
	payouts, err := s.repo.ListPayoutsForReconciliation(ctx, statuses, s.now().Add(-opts.MinAge), batch)
	if err != nil {
		return report, fmt.Errorf("failed to list payouts for reconciliation: %w", err)
	}
	report.Scanned = len(payouts)

	for _, p := range payouts {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		updated, _, err := s.RefreshPayout(ctx, p.ID, 0, true)
		if err != nil {
			report.Failed++
			log.Printf("level=warn component=payout_reconciler msg=\"refresh failed\" payout_id=%d err=%v", p.ID, err)
			continue
		}
		report.Refreshed++
		if updated != nil && updated.Status != p.Status {
			report.Changed++
		}
	}

	log.Printf("level=info component=payout_reconciler msg=\"reconciliation pass complete\" scanned=%d refreshed=%d changed=%d failed=%d",
		report.Scanned, report.Refreshed, report.Changed, report.Failed)
	return report, nil
}

// transition writes a status change guarded by the payout's current status and
// publishes an event when the status actually moved. A same-status write only
// refreshes the stored gateway response.
func (s *Service) transition(ctx context.Context, payout *domain.Payout, to domain.PayoutStatus, gatewayID *string, raw json.RawMessage) error {
	from := payout.Status
	if from != to && !domain.CanTransition(from, to, payout.HasGatewayID() || (gatewayID != nil && *gatewayID != "")) {
		return fmt.Errorf("illegal payout status transition %s -> %s", from, to)
	}

	expected := from
	err := s.repo.UpdatePayoutStatus(ctx, payout.ID, store.UpdatePayoutStatusParams{
		Status:          to,
		ExpectedStatus:  &expected,
		GatewayID:       gatewayID,
		GatewayResponse: raw,
	})
	if err != nil {
		return fmt.Errorf("failed to update payout %d status to %s: %w", payout.ID, to, err)
	}

	payout.Status = to
	if gatewayID != nil && *gatewayID != "" && !payout.HasGatewayID() {
		id := *gatewayID
		payout.GatewayID = &id
	}
	if len(raw) > 0 {
		payout.GatewayResponse = raw
	}
	payout.UpdatedAt = s.now()

	if from != to {
		s.publishStatusChange(ctx, payout, from)
	}
	return nil
}

func (s *Service) publishStatusChange(ctx context.Context, payout *domain.Payout, from domain.PayoutStatus) {
	event := rabbitmq.PayoutEvent{
		PayoutID:       payout.ID,
		OwnerID:        payout.OwnerID,
		Status:         string(payout.Status),
		PreviousStatus: string(from),
		AmountMinor:    payout.AmountMinor,
		Currency:       payout.Currency,
		GatewayMode:    string(s.gateway.Mode()),
		Timestamp:      s.now().UTC(),
	}
	if payout.HasGatewayID() {
		event.GatewayID = *payout.GatewayID
	}
	if err := s.eventProducer.PublishPayoutEvent(ctx, event); err != nil {
		log.Printf("level=warn component=payout_service msg=\"payout event publish failed\" payout_id=%d status=%s err=%v", payout.ID, payout.Status, err)
	}
}

// reload returns the stored row, falling back to the in-memory copy if the read fails.
func (s *Service) reload(ctx context.Context, payout *domain.Payout) *domain.Payout {
	fresh, err := s.repo.FindPayoutByID(ctx, payout.ID)
	if err != nil {
		log.Printf("level=warn component=payout_service msg=\"payout reload failed\" payout_id=%d err=%v", payout.ID, err)
		return payout
	}
	return fresh
}

// providerBody extracts the provider's JSON response from a classified gateway error.
func providerBody(err error) json.RawMessage {
	var gwErr *worldpay.Error
	if errors.As(err, &gwErr) && len(gwErr.Body) > 0 && json.Valid(gwErr.Body) {
		return json.RawMessage(gwErr.Body)
	}
	return nil
}

func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
