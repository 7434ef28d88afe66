package app

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/transfa/payout-service/internal/domain"
	"github.com/transfa/payout-service/internal/store"
	"github.com/transfa/payout-service/pkg/rabbitmq"
	"github.com/transfa/payout-service/pkg/worldpay"
)

// memoryRepo is an in-memory store.Repository with the same write semantics as Postgres.
type memoryRepo struct {
	store.Repository

	mu      sync.Mutex
	nextID  int64
	payouts map[int64]*domain.Payout
	writes  []store.UpdatePayoutStatusParams
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{payouts: make(map[int64]*domain.Payout)}
}

func (r *memoryRepo) CreatePayout(ctx context.Context, payout *domain.Payout) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	payout.ID = r.nextID
	payout.CreatedAt = time.Now()
	payout.UpdatedAt = payout.CreatedAt
	cp := *payout
	r.payouts[cp.ID] = &cp
	return cp.ID, nil
}

func (r *memoryRepo) FindPayoutByID(ctx context.Context, payoutID int64) (*domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payouts[payoutID]
	if !ok {
		return nil, store.ErrPayoutNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memoryRepo) ListPayoutsByOwner(ctx context.Context, ownerID int64) ([]domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Payout, 0)
	for _, p := range r.payouts {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memoryRepo) ListAllPayouts(ctx context.Context) ([]domain.PayoutWithOwner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PayoutWithOwner, 0)
	for _, p := range r.payouts {
		email := "owner@example.com"
		out = append(out, domain.PayoutWithOwner{Payout: *p, OwnerEmail: &email})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memoryRepo) UpdatePayoutStatus(ctx context.Context, payoutID int64, params store.UpdatePayoutStatusParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payouts[payoutID]
	if !ok {
		return store.ErrPayoutNotFound
	}
	if params.ExpectedStatus != nil && p.Status != *params.ExpectedStatus {
		return store.ErrStaleStatus
	}
	r.writes = append(r.writes, params)
	p.Status = params.Status
	if p.GatewayID == nil && params.GatewayID != nil && *params.GatewayID != "" {
		id := *params.GatewayID
		p.GatewayID = &id
	}
	if len(params.GatewayResponse) > 0 {
		p.GatewayResponse = append(json.RawMessage(nil), params.GatewayResponse...)
	}
	p.UpdatedAt = time.Now()
	return nil
}

func (r *memoryRepo) ListPayoutsForReconciliation(ctx context.Context, statuses []domain.PayoutStatus, olderThan time.Time, limit int) ([]domain.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Payout, 0)
	for _, p := range r.payouts {
		for _, s := range statuses {
			if p.Status == s && p.UpdatedAt.Before(olderThan) {
				out = append(out, *p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepo) seed(p domain.Payout) *domain.Payout {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().Add(-time.Hour)
		p.UpdatedAt = p.CreatedAt
	}
	r.payouts[p.ID] = &p
	cp := p
	return &cp
}

func (r *memoryRepo) get(id int64) domain.Payout {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.payouts[id]
}

// stubGateway records calls and answers from the configured funcs.
type stubGateway struct {
	mode     worldpay.Mode
	submitFn func(ctx context.Context, sub *worldpay.Submission) (*worldpay.Result, error)
	queryFn  func(ctx context.Context, externalID string) (*worldpay.Result, error)

	submits int32
	queries int32
	lastRef atomic.Value
}

func (g *stubGateway) SubmitPayout(ctx context.Context, sub *worldpay.Submission) (*worldpay.Result, error) {
	atomic.AddInt32(&g.submits, 1)
	return g.submitFn(ctx, sub)
}

func (g *stubGateway) QueryPayoutStatus(ctx context.Context, externalID string, headers worldpay.Headers) (*worldpay.Result, error) {
	atomic.AddInt32(&g.queries, 1)
	g.lastRef.Store(externalID)
	return g.queryFn(ctx, externalID)
}

func (g *stubGateway) Mode() worldpay.Mode {
	if g.mode == "" {
		return worldpay.ModeLive
	}
	return g.mode
}

// recordingPublisher captures published payout events.
type recordingPublisher struct {
	rabbitmq.EventProducerFallback
	mu     sync.Mutex
	events []rabbitmq.PayoutEvent
}

func (p *recordingPublisher) PublishPayoutEvent(ctx context.Context, event rabbitmq.PayoutEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Status)
	}
	return out
}

func newTestService(repo store.Repository, gw worldpay.Gateway, pub rabbitmq.Publisher) *Service {
	return NewService(repo, gw, worldpay.NewBuilder(worldpay.IdempotencyRandom), worldpay.Merchant{Entity: "default"}, pub)
}

func submittedPayout(owner int64, gatewayID string) domain.Payout {
	p := domain.Payout{
		OwnerID:     owner,
		AmountMinor: 5000,
		Currency:    "USD",
		Status:      domain.StatusSubmitted,
		Beneficiary: domain.Beneficiary{
			Type:              domain.EntityPerson,
			Title:             "mr",
			Name:              "John Smith",
			GivenName:         "John",
			FamilyName:        "Smith",
			AccountIdentifier: "123456789",
			AccountScheme:     domain.SchemeLocalAccount,
			AccountType:       "checking",
			CountryCode:       "US",
		},
	}
	if gatewayID != "" {
		p.GatewayID = &gatewayID
	}
	return p
}

func TestCreatePayout_MockGatewaySubmits(t *testing.T) {
	repo := newMemoryRepo()
	pub := &recordingPublisher{}
	svc := newTestService(repo, worldpay.NewMockClient(), pub)

	payout, result, err := svc.CreatePayout(context.Background(), 7, baseRequest())
	if err != nil {
		t.Fatalf("CreatePayout returned error: %v", err)
	}
	if payout.Status != domain.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", payout.Status)
	}
	if !payout.HasGatewayID() || !strings.HasPrefix(*payout.GatewayID, "mock_") {
		t.Fatalf("expected mock gateway id, got %v", payout.GatewayID)
	}
	if result == nil || !result.Mock {
		t.Fatalf("expected mock result, got %+v", result)
	}
	if payout.OwnerID != 7 || payout.AmountMinor != 10000 || payout.Currency != "USD" {
		t.Fatalf("unexpected payout: %+v", payout)
	}
	if len(payout.GatewayResponse) == 0 {
		t.Fatalf("expected gateway response to be stored")
	}
	if got := strings.Join(pub.statuses(), ","); got != "pending,submitted" {
		t.Fatalf("expected pending,submitted events, got %s", got)
	}
}

func TestCreatePayout_ValidationErrorNeverReachesStoreOrGateway(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(req *domain.CreatePayoutRequest)
		field  string
	}{
		{name: "zero amount", mutate: func(req *domain.CreatePayoutRequest) { req.Amount = "0" }, field: "amount"},
		{name: "negative amount", mutate: func(req *domain.CreatePayoutRequest) { req.Amount = "-5.00" }, field: "amount"},
		{name: "non numeric amount", mutate: func(req *domain.CreatePayoutRequest) { req.Amount = "ten" }, field: "amount"},
		{name: "two letter currency", mutate: func(req *domain.CreatePayoutRequest) { req.Currency = "US" }, field: "currency"},
		{name: "numeric currency", mutate: func(req *domain.CreatePayoutRequest) { req.Currency = "840" }, field: "currency"},
		{name: "empty currency", mutate: func(req *domain.CreatePayoutRequest) { req.Currency = "" }, field: "currency"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemoryRepo()
			gw := &stubGateway{}
			svc := newTestService(repo, gw, nil)

			req := baseRequest()
			tc.mutate(&req)
			_, _, err := svc.CreatePayout(context.Background(), 7, req)
			requireValidationField(t, err, tc.field)
			if len(repo.payouts) != 0 {
				t.Fatalf("expected no payout to be recorded")
			}
			if atomic.LoadInt32(&gw.submits) != 0 {
				t.Fatalf("gateway must not be called on validation failure")
			}
		})
	}
}

func TestCreatePayout_RefreshWaitsForSubmitResult(t *testing.T) {
	repo := newMemoryRepo()
	submitting := make(chan struct{})
	release := make(chan struct{})
	gw := &stubGateway{
		submitFn: func(ctx context.Context, sub *worldpay.Submission) (*worldpay.Result, error) {
			close(submitting)
			<-release
			return &worldpay.Result{ID: "wp_real", Status: domain.StatusSubmitted, Raw: json.RawMessage(`{"id":"wp_real"}`)}, nil
		},
		queryFn: func(ctx context.Context, externalID string) (*worldpay.Result, error) {
			if externalID != "wp_real" {
				return nil, &worldpay.Error{Kind: worldpay.ErrNotFoundUpstream, StatusCode: 404}
			}
			return &worldpay.Result{ID: externalID, Status: domain.StatusProcessed, Raw: json.RawMessage(`{"status":"settled"}`)}, nil
		},
	}
	svc := newTestService(repo, gw, nil)

	createErr := make(chan error, 1)
	go func() {
		_, _, err := svc.CreatePayout(context.Background(), 7, baseRequest())
		createErr <- err
	}()
	<-submitting

	refreshErr := make(chan error, 1)
	go func() {
		_, _, err := svc.RefreshPayout(context.Background(), 1, 7, false)
		refreshErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if n := atomic.LoadInt32(&gw.queries); n != 0 {
		t.Fatalf("refresh queried the gateway while the submission was in flight")
	}
	close(release)

	if err := <-createErr; err != nil {
		t.Fatalf("CreatePayout returned error: %v", err)
	}
	if err := <-refreshErr; err != nil {
		t.Fatalf("RefreshPayout returned error: %v", err)
	}

	stored := repo.get(1)
	if !stored.HasGatewayID() || *stored.GatewayID != "wp_real" {
		t.Fatalf("expected gateway id wp_real to be stored, got %v", stored.GatewayID)
	}
	if ref, _ := gw.lastRef.Load().(string); ref != "wp_real" {
		t.Fatalf("expected refresh to query wp_real, got %q", ref)
	}
	if stored.Status != domain.StatusProcessed {
		t.Fatalf("expected processed after refresh, got %s", stored.Status)
	}
}

type busyLocker struct{}

func (busyLocker) LockPayout(ctx context.Context, payoutID int64) (func(), error) {
	return nil, ErrRefreshInProgress
}

func TestCreatePayout_LockUnavailableFailsWithoutSubmitting(t *testing.T) {
	repo := newMemoryRepo()
	gw := &stubGateway{}
	svc := newTestService(repo, gw, nil)
	svc.SetPayoutLocker(busyLocker{})

	payout, _, err := svc.CreatePayout(context.Background(), 7, baseRequest())
	if !errors.Is(err, ErrRefreshInProgress) {
		t.Fatalf("expected ErrRefreshInProgress, got %v", err)
	}
	if got := repo.get(payout.ID).Status; got != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if atomic.LoadInt32(&gw.submits) != 0 {
		t.Fatalf("gateway must not be called without the payout lock")
	}
}

func TestCreatePayout_AcceptedWithoutGatewayIDIsUnknown(t *testing.T) {
	repo := newMemoryRepo()
	gw := &stubGateway{
		submitFn: func(ctx context.Context, sub *worldpay.Submission) (*worldpay.Result, error) {
			return &worldpay.Result{Status: domain.StatusUnknown, Raw: json.RawMessage(`{"status":"accepted"}`)}, nil
		},
	}
	svc := newTestService(repo, gw, nil)

	payout, _, err := svc.CreatePayout(context.Background(), 7, baseRequest())
	if err != nil {
		t.Fatalf("CreatePayout returned error: %v", err)
	}
	stored := repo.get(payout.ID)
	if stored.Status != domain.StatusUnknown {
		t.Fatalf("expected unknown, got %s", stored.Status)
	}
	if stored.HasGatewayID() {
		t.Fatalf("expected no gateway id, got %s", *stored.GatewayID)
	}
	if string(stored.GatewayResponse) != `{"status":"accepted"}` {
		t.Fatalf("expected provider body to be kept, got %s", stored.GatewayResponse)
	}
}

func TestCreatePayout_GatewayRejectionMarksFailed(t *testing.T) {
	repo := newMemoryRepo()
	body := []byte(`{"errorName":"bodyDoesNotMatchSchema","validationErrors":[{"jsonPath":"instruction.value","message":"required"}]}`)
	gw := &stubGateway{
		submitFn: func(ctx context.Context, sub *worldpay.Submission) (*worldpay.Result, error) {
			return nil, &worldpay.Error{Kind: worldpay.ErrValidationRejected, StatusCode: 400, Message: "instruction.value: required", Body: body}
		},
	}
	svc := newTestService(repo, gw, nil)

	payout, result, err := svc.CreatePayout(context.Background(), 7, baseRequest())
	if !errors.Is(err, worldpay.ErrValidationRejected) {
		t.Fatalf("expected ErrValidationRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "instruction.value: required") {
		t.Fatalf("expected field-level message, got %q", err.Error())
	}
	if result != nil {
		t.Fatalf("expected no result on failure")
	}
	stored := repo.get(payout.ID)
	if stored.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.HasGatewayID() {
		t.Fatalf("failed submission must not carry a gateway id")
	}
	if string(stored.GatewayResponse) != string(body) {
		t.Fatalf("expected provider body to be kept, got %s", stored.GatewayResponse)
	}
}

func TestCreatePayout_UnavailableGatewayStillRecordsFailure(t *testing.T) {
	repo := newMemoryRepo()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw := &stubGateway{
		submitFn: func(c context.Context, sub *worldpay.Submission) (*worldpay.Result, error) {
			// The client gives up mid-request.
			cancel()
			return nil, &worldpay.Error{Kind: worldpay.ErrUnavailable, Message: "request failed", Err: context.Canceled}
		},
	}
	svc := newTestService(repo, gw, nil)

	payout, _, err := svc.CreatePayout(ctx, 7, baseRequest())
	if !errors.Is(err, worldpay.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := repo.get(payout.ID).Status; got != domain.StatusFailed {
		t.Fatalf("expected failed after cancelled submission, got %s", got)
	}
}

func TestCreatePayout_MappingErrorMarksFailed(t *testing.T) {
	repo := newMemoryRepo()
	gw := &stubGateway{}
	svc := NewService(repo, gw, worldpay.NewBuilder(worldpay.IdempotencyRandom), worldpay.Merchant{}, nil)

	payout, _, err := svc.CreatePayout(context.Background(), 7, baseRequest())
	if !errors.Is(err, worldpay.ErrMapping) {
		t.Fatalf("expected ErrMapping, got %v", err)
	}
	if errors.Is(err, domain.ErrValidation) {
		t.Fatalf("mapping errors must be distinct from validation errors")
	}
	if got := repo.get(payout.ID).Status; got != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if atomic.LoadInt32(&gw.submits) != 0 {
		t.Fatalf("gateway must not be called when mapping fails")
	}
}

func TestRefreshPayout_ForbiddenBeforeGatewayCall(t *testing.T) {
	repo := newMemoryRepo()
	p := repo.seed(submittedPayout(1, "wp_1"))
	gw := &stubGateway{}
	svc := newTestService(repo, gw, nil)

	_, _, err := svc.RefreshPayout(context.Background(), p.ID, 2, false)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if atomic.LoadInt32(&gw.queries) != 0 {
		t.Fatalf("gateway must not be queried for a forbidden refresh")
	}

	_, _, err = svc.RefreshPayout(context.Background(), 999, 1, true)
	if !errors.Is(err, store.ErrPayoutNotFound) {
		t.Fatalf("expected ErrPayoutNotFound, got %v", err)
	}
}

func TestRefreshPayout_AdvancesStatus(t *testing.T) {
	repo := newMemoryRepo()
	p := repo.seed(submittedPayout(1, "wp_1"))
	pub := &recordingPublisher{}
	gw := &stubGateway{
		queryFn: func(ctx context.Context, externalID string) (*worldpay.Result, error) {
			return &worldpay.Result{ID: externalID, Status: domain.StatusProcessed, Raw: json.RawMessage(`{"status":"settled"}`)}, nil
		},
	}
	svc := newTestService(repo, gw, pub)

	updated, result, err := svc.RefreshPayout(context.Background(), p.ID, 1, false)
	if err != nil {
		t.Fatalf("RefreshPayout returned error: %v", err)
	}
	if updated.Status != domain.StatusProcessed || result.Status != domain.StatusProcessed {
		t.Fatalf("expected processed, got payout=%s result=%s", updated.Status, result.Status)
	}
	if ref, _ := gw.lastRef.Load().(string); ref != "wp_1" {
		t.Fatalf("expected query by gateway id, got %q", ref)
	}
	if got := strings.Join(pub.statuses(), ","); got != "processed" {
		t.Fatalf("expected one processed event, got %s", got)
	}
}

func TestRefreshPayout_ProcessedNeverRegresses(t *testing.T) {
	repo := newMemoryRepo()
	seed := submittedPayout(1, "wp_1")
	seed.Status = domain.StatusProcessed
	p := repo.seed(seed)
	gw := &stubGateway{
		queryFn: func(ctx context.Context, externalID string) (*worldpay.Result, error) {
			return &worldpay.Result{ID: externalID, Status: domain.StatusSubmitted, Raw: json.RawMessage(`{"status":"pending"}`)}, nil
		},
	}
	svc := newTestService(repo, gw, nil)

	updated, _, err := svc.RefreshPayout(context.Background(), p.ID, 1, false)
	if err != nil {
		t.Fatalf("RefreshPayout returned error: %v", err)
	}
	if updated.Status != domain.StatusProcessed {
		t.Fatalf("processed payout regressed to %s", updated.Status)
	}
	if string(repo.get(p.ID).GatewayResponse) != `{"status":"pending"}` {
		t.Fatalf("expected latest response to be stored")
	}
}

func TestRefreshPayout_UsesLocalReferenceAndMapsNotFoundToUnknown(t *testing.T) {
	repo := newMemoryRepo()
	seed := submittedPayout(1, "")
	seed.Status = domain.StatusPending
	p := repo.seed(seed)
	gw := &stubGateway{
		queryFn: func(ctx context.Context, externalID string) (*worldpay.Result, error) {
			return nil, &worldpay.Error{Kind: worldpay.ErrNotFoundUpstream, StatusCode: 404}
		},
	}
	svc := newTestService(repo, gw, nil)

	updated, result, err := svc.RefreshPayout(context.Background(), p.ID, 0, true)
	if err != nil {
		t.Fatalf("not found upstream must not be an error: %v", err)
	}
	if ref, _ := gw.lastRef.Load().(string); ref != "local-1" {
		t.Fatalf("expected local-1 reference, got %q", ref)
	}
	if updated.Status != domain.StatusUnknown || result.Status != domain.StatusUnknown {
		t.Fatalf("expected unknown, got %s", updated.Status)
	}
}

func TestRefreshPayout_FailedWithoutGatewayIDIsTerminal(t *testing.T) {
	repo := newMemoryRepo()
	seed := submittedPayout(1, "")
	seed.Status = domain.StatusFailed
	p := repo.seed(seed)
	gw := &stubGateway{mode: worldpay.ModeMock, queryFn: func(ctx context.Context, externalID string) (*worldpay.Result, error) {
		return &worldpay.Result{ID: externalID, Status: domain.StatusProcessed, Mock: true}, nil
	}}
	svc := newTestService(repo, gw, nil)

	updated, _, err := svc.RefreshPayout(context.Background(), p.ID, 1, false)
	if err != nil {
		t.Fatalf("RefreshPayout returned error: %v", err)
	}
	if updated.Status != domain.StatusFailed {
		t.Fatalf("failed submission must stay failed, got %s", updated.Status)
	}
}

func TestRefreshPayout_GatewayFailureLeavesStatus(t *testing.T) {
	repo := newMemoryRepo()
	p := repo.seed(submittedPayout(1, "wp_1"))
	gw := &stubGateway{
		queryFn: func(ctx context.Context, externalID string) (*worldpay.Result, error) {
			return nil, &worldpay.Error{Kind: worldpay.ErrUnavailable, StatusCode: 503}
		},
	}
	svc := newTestService(repo, gw, nil)

	_, _, err := svc.RefreshPayout(context.Background(), p.ID, 1, false)
	if !errors.Is(err, worldpay.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if len(repo.writes) != 0 {
		t.Fatalf("expected no status write, got %d", len(repo.writes))
	}
	if got := repo.get(p.ID).Status; got != domain.StatusSubmitted {
		t.Fatalf("expected status unchanged, got %s", got)
	}
}

func TestRefreshPayout_ConcurrentRefreshesAreSerialized(t *testing.T) {
	repo := newMemoryRepo()
	p := repo.seed(submittedPayout(1, "wp_1"))

	var inFlight, maxInFlight int32
	gw := &stubGateway{
		queryFn: func(ctx context.Context, externalID string) (*worldpay.Result, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxInFlight)
				if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return &worldpay.Result{ID: externalID, Status: domain.StatusSubmitted}, nil
		},
	}
	svc := newTestService(repo, gw, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := svc.RefreshPayout(context.Background(), p.ID, 1, false); err != nil {
				t.Errorf("RefreshPayout returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("expected refreshes to be serialized, saw %d concurrent", got)
	}
}

func TestListPayouts_ScopesByRole(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(submittedPayout(1, "wp_1"))
	repo.seed(submittedPayout(2, "wp_2"))
	repo.seed(submittedPayout(1, "wp_3"))
	svc := newTestService(repo, worldpay.NewMockClient(), nil)

	mine, err := svc.ListPayouts(context.Background(), 1, false)
	if err != nil {
		t.Fatalf("ListPayouts returned error: %v", err)
	}
	if len(mine) != 2 || mine[0].ID < mine[1].ID {
		t.Fatalf("expected 2 payouts newest first, got %+v", mine)
	}
	for _, p := range mine {
		if p.OwnerEmail != nil {
			t.Fatalf("non-privileged listing must not carry owner identity")
		}
	}

	all, err := svc.ListPayouts(context.Background(), 1, true)
	if err != nil {
		t.Fatalf("ListPayouts returned error: %v", err)
	}
	if len(all) != 3 || all[0].OwnerEmail == nil {
		t.Fatalf("expected all payouts with owner identity, got %+v", all)
	}
}

func TestReconcilePayouts_RefreshesStalePayouts(t *testing.T) {
	repo := newMemoryRepo()
	repo.seed(submittedPayout(1, "wp_1"))
	repo.seed(submittedPayout(2, "wp_2"))
	done := submittedPayout(1, "wp_3")
	done.Status = domain.StatusProcessed
	repo.seed(done)

	gw := &stubGateway{
		queryFn: func(ctx context.Context, externalID string) (*worldpay.Result, error) {
			if externalID == "wp_2" {
				return nil, &worldpay.Error{Kind: worldpay.ErrUnavailable}
			}
			return &worldpay.Result{ID: externalID, Status: domain.StatusProcessed}, nil
		},
	}
	svc := newTestService(repo, gw, nil)

	report, err := svc.ReconcilePayouts(context.Background(), ReconcileOptions{MinAge: time.Minute, BatchSize: 10})
	if err != nil {
		t.Fatalf("ReconcilePayouts returned error: %v", err)
	}
	if report.Scanned != 2 || report.Refreshed != 1 || report.Changed != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}
