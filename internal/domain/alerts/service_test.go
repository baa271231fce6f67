package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain"
	"lotledger/internal/domain/catalogs/product"
	"lotledger/internal/domain/ledger"
)

type noopTxManager struct{}

func (noopTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeAlertRepo struct {
	alerts map[id.ID]*Alert
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{alerts: make(map[id.ID]*Alert)}
}

func (r *fakeAlertRepo) Create(_ context.Context, a *Alert) error {
	cp := *a
	r.alerts[a.ID] = &cp
	return nil
}

func (r *fakeAlertRepo) GetByID(_ context.Context, alertID id.ID) (*Alert, error) {
	a, ok := r.alerts[alertID]
	if !ok {
		return nil, apperror.NewNotFound("alert", alertID)
	}
	cp := *a
	return &cp, nil
}

func (r *fakeAlertRepo) Update(_ context.Context, a *Alert) error {
	if _, ok := r.alerts[a.ID]; !ok {
		return apperror.NewNotFound("alert", a.ID)
	}
	cp := *a
	r.alerts[a.ID] = &cp
	return nil
}

func (r *fakeAlertRepo) FindOpen(_ context.Context, productID id.ID, batchID *id.ID, alertType AlertType) (*Alert, error) {
	for _, a := range r.alerts {
		if a.ProductID != productID || a.Type != alertType || !a.IsOpen() {
			continue
		}
		if (a.BatchID == nil) != (batchID == nil) {
			continue
		}
		if batchID != nil && *a.BatchID != *batchID {
			continue
		}
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeAlertRepo) OpenByProduct(_ context.Context, productID id.ID) ([]*Alert, error) {
	var out []*Alert
	for _, a := range r.alerts {
		if a.ProductID == productID && a.IsOpen() {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeAlertRepo) List(_ context.Context, filter ListFilter) ([]*Alert, error) {
	var out []*Alert
	for _, a := range r.alerts {
		if filter.ProductID != nil && a.ProductID != *filter.ProductID {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.Type != nil && a.Type != *filter.Type {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

type stubProducts struct {
	byID map[id.ID]*product.Product
}

func (s *stubProducts) GetByID(_ context.Context, productID id.ID) (*product.Product, error) {
	if p, ok := s.byID[productID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, apperror.NewNotFound("product", productID)
}

func (s *stubProducts) ListActive(_ context.Context) ([]*product.Product, error) {
	var out []*product.Product
	for _, p := range s.byID {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *stubProducts) Create(context.Context, *product.Product) error { return nil }
func (s *stubProducts) GetByCode(context.Context, string) (*product.Product, error) {
	return nil, apperror.NewNotFound("product", "")
}
func (s *stubProducts) Update(context.Context, *product.Product) error     { return nil }
func (s *stubProducts) SetDeletionMark(context.Context, id.ID, bool) error { return nil }
func (s *stubProducts) Exists(context.Context, id.ID) (bool, error)        { return false, nil }
func (s *stubProducts) AdjustStock(context.Context, id.ID, types.Quantity) (types.Quantity, error) {
	return 0, nil
}
func (s *stubProducts) SetUnitCosts(context.Context, id.ID, types.Money, types.Money) error {
	return nil
}
func (s *stubProducts) List(context.Context, domain.ListFilter) (domain.ListResult[*product.Product], error) {
	return domain.ListResult[*product.Product]{}, nil
}

type stubBatches struct {
	byProduct map[id.ID][]ledger.Batch
}

func (s *stubBatches) ListBatchesByProduct(_ context.Context, productID id.ID) ([]ledger.Batch, error) {
	return s.byProduct[productID], nil
}

type fixture struct {
	svc      *Service
	repo     *fakeAlertRepo
	products *stubProducts
	batches  *stubBatches
	product  *product.Product
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := product.NewProduct("P-001", "Bolt M8", "pcs")
	p.ReorderLevel = types.NewQuantityFromInt(20)
	p.CurrentStock = types.NewQuantityFromInt(15)

	repo := newFakeAlertRepo()
	products := &stubProducts{byID: map[id.ID]*product.Product{p.ID: p}}
	batches := &stubBatches{byProduct: map[id.ID][]ledger.Batch{}}

	svc := NewService(repo, products, batches, noopTxManager{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	return &fixture{svc: svc, repo: repo, products: products, batches: batches, product: p, now: now}
}

func TestSweepLowStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// reorder_level=20, current_stock=15: one low_stock alert.
	changed, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	a := changed[0]
	assert.Equal(t, TypeLowStock, a.Type)
	assert.Equal(t, StatusActive, a.Status)
	// 15/20 = 75% of reorder level.
	assert.Equal(t, PriorityLow, a.Priority)
	assert.Nil(t, a.BatchID)
}

func TestSweepDeduplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// No state change in between: nothing new.
	second, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, f.repo.alerts, 1)
}

func TestSweepEscalatesPriority(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, PriorityLow, first[0].Priority)

	// Stock fell to 20% of the reorder level.
	f.products.byID[f.product.ID].CurrentStock = types.NewQuantityFromInt(4)

	second, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID, "escalation reuses the open alert")
	assert.Equal(t, PriorityHigh, second[0].Priority)
	assert.Len(t, f.repo.alerts, 1)
}

func TestSweepOutOfStockReplacesLowStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Sweep(ctx)
	require.NoError(t, err)

	f.products.byID[f.product.ID].CurrentStock = 0

	changed, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	// out_of_stock created, low_stock auto-resolved.
	require.Len(t, changed, 2)

	byType := map[AlertType]*Alert{}
	for _, a := range changed {
		byType[a.Type] = a
	}
	require.Contains(t, byType, TypeOutOfStock)
	require.Contains(t, byType, TypeLowStock)
	assert.Equal(t, StatusActive, byType[TypeOutOfStock].Status)
	assert.Equal(t, PriorityHigh, byType[TypeOutOfStock].Priority)
	assert.Equal(t, StatusResolved, byType[TypeLowStock].Status)
	assert.Nil(t, byType[TypeLowStock].ResolvedBy, "self-healed alerts carry no resolver")
}

func TestSweepAutoResolvesOnRecovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, created, 1)

	f.products.byID[f.product.ID].CurrentStock = types.NewQuantityFromInt(100)

	changed, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, StatusResolved, changed[0].Status)
	assert.Nil(t, changed[0].ResolvedBy)
	assert.NotNil(t, changed[0].ResolvedAt)
}

func TestSweepExpiryAlerts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.products.byID[f.product.ID].CurrentStock = types.NewQuantityFromInt(100)

	expSoon := f.now.AddDate(0, 0, 5)
	expPast := f.now.AddDate(0, 0, -2)
	expFar := f.now.AddDate(1, 0, 0)

	mk := func(number string, expires time.Time) ledger.Batch {
		b := ledger.NewBatch(f.product.ID, number, types.NewQuantityFromInt(10), types.MustMoney("1.00"), f.now.AddDate(0, -1, 0))
		b.ExpiresAt = &expires
		return *b
	}
	f.batches.byProduct[f.product.ID] = []ledger.Batch{
		mk("B-2026-00001", expSoon),
		mk("B-2026-00002", expPast),
		mk("B-2026-00003", expFar),
	}

	changed, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, changed, 2)

	byType := map[AlertType]*Alert{}
	for _, a := range changed {
		byType[a.Type] = a
	}
	require.Contains(t, byType, TypeExpiringSoon)
	require.Contains(t, byType, TypeExpired)
	// 5 days left.
	assert.Equal(t, PriorityHigh, byType[TypeExpiringSoon].Priority)
	assert.Equal(t, PriorityHigh, byType[TypeExpired].Priority)
	assert.NotNil(t, byType[TypeExpired].BatchID)
}

func TestAcknowledgeLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	alertID := created[0].ID

	a, err := f.svc.Acknowledge(ctx, alertID, "alice", "ordering more")
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, a.Status)
	require.NotNil(t, a.AcknowledgedBy)
	assert.Equal(t, "alice", *a.AcknowledgedBy)

	// Acknowledged is not active anymore.
	_, err = f.svc.Acknowledge(ctx, alertID, "bob", "")
	assert.True(t, apperror.IsInvalidState(err))

	// Acknowledged alerts survive a sweep while the condition holds.
	changed, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestResolveLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	created, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	alertID := created[0].ID

	a, err := f.svc.Resolve(ctx, alertID, "alice", "stock corrected")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, a.Status)
	require.NotNil(t, a.ResolvedBy)
	assert.Equal(t, "alice", *a.ResolvedBy)
	assert.Equal(t, "stock corrected", a.ResolutionNotes)

	// Terminal state.
	_, err = f.svc.Resolve(ctx, alertID, "bob", "")
	assert.True(t, apperror.IsInvalidState(err))
	_, err = f.svc.Acknowledge(ctx, alertID, "bob", "")
	assert.True(t, apperror.IsInvalidState(err))
}

func TestResolveRequiresUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.Resolve(ctx, id.New(), "", "notes")
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
}
