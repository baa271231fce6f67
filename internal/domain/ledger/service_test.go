package ledger

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain"
	"lotledger/internal/domain/catalogs/product"
)

// fakeStore backs the in-memory repository fakes. The fake tx manager
// snapshots and restores it to emulate rollback.
type fakeStore struct {
	batches  map[id.ID]*Batch
	txns     []*Transaction
	products map[id.ID]*product.Product
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		batches:  make(map[id.ID]*Batch),
		products: make(map[id.ID]*product.Product),
	}
}

func (s *fakeStore) snapshot() *fakeStore {
	snap := newFakeStore()
	for k, v := range s.batches {
		b := *v
		snap.batches[k] = &b
	}
	for k, v := range s.products {
		p := *v
		snap.products[k] = &p
	}
	snap.txns = append(snap.txns, s.txns...)
	return snap
}

func (s *fakeStore) restore(snap *fakeStore) {
	s.batches = snap.batches
	s.products = snap.products
	s.txns = snap.txns
}

type fakeTxManager struct{ store *fakeStore }

func (m *fakeTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := m.store.snapshot()
	if err := fn(ctx); err != nil {
		m.store.restore(snap)
		return err
	}
	return nil
}

type fakeRepo struct{ store *fakeStore }

func (r *fakeRepo) CreateBatch(_ context.Context, b *Batch) error {
	cp := *b
	r.store.batches[b.ID] = &cp
	return nil
}

func (r *fakeRepo) GetBatch(_ context.Context, batchID id.ID) (*Batch, error) {
	b, ok := r.store.batches[batchID]
	if !ok || b.DeletionMark {
		return nil, apperror.NewNotFound("batch", batchID)
	}
	cp := *b
	return &cp, nil
}

func (r *fakeRepo) GetBatchForUpdate(ctx context.Context, batchID id.ID) (*Batch, error) {
	return r.GetBatch(ctx, batchID)
}

func (r *fakeRepo) UpdateBatch(_ context.Context, b *Batch) error {
	stored, ok := r.store.batches[b.ID]
	if !ok {
		return apperror.NewNotFound("batch", b.ID)
	}
	if stored.Version != b.Version-1 {
		return apperror.NewConcurrentModification("batch", b.ID)
	}
	cp := *b
	r.store.batches[b.ID] = &cp
	return nil
}

func (r *fakeRepo) ActiveBatches(_ context.Context, productID id.ID) ([]Batch, error) {
	var out []Batch
	for _, b := range r.store.batches {
		if b.ProductID == productID && b.IsConsumable() {
			out = append(out, *b)
		}
	}
	sortFIFO(out)
	return out, nil
}

func (r *fakeRepo) BatchesAsOf(_ context.Context, productID id.ID, asOf time.Time) ([]Batch, error) {
	var out []Batch
	for _, b := range r.store.batches {
		if b.ProductID == productID && !b.DeletionMark && !b.ReceivedAt.After(asOf) {
			out = append(out, *b)
		}
	}
	sortFIFO(out)
	return out, nil
}

func (r *fakeRepo) ListBatchesByProduct(_ context.Context, productID id.ID) ([]Batch, error) {
	var out []Batch
	for _, b := range r.store.batches {
		if b.ProductID == productID && !b.DeletionMark {
			out = append(out, *b)
		}
	}
	sortFIFO(out)
	return out, nil
}

func (r *fakeRepo) ExpiringBatches(_ context.Context, deadline time.Time) ([]Batch, error) {
	var out []Batch
	for _, b := range r.store.batches {
		if b.IsConsumable() && b.ExpiresAt != nil && !b.ExpiresAt.After(deadline) {
			out = append(out, *b)
		}
	}
	sortFIFO(out)
	return out, nil
}

func (r *fakeRepo) CreateTransactions(_ context.Context, txns []*Transaction) error {
	for _, t := range txns {
		cp := *t
		r.store.txns = append(r.store.txns, &cp)
	}
	return nil
}

func (r *fakeRepo) TransactionsByProduct(_ context.Context, productID id.ID, filter TransactionFilter) ([]Transaction, error) {
	var out []Transaction
	for _, t := range r.store.txns {
		if t.ProductID != productID || !t.Active {
			continue
		}
		if filter.Type != nil && t.Type != *filter.Type {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, nil
}

func (r *fakeRepo) DeactivateTransaction(_ context.Context, txnID id.ID) error {
	for _, t := range r.store.txns {
		if t.ID == txnID {
			t.Active = false
			return nil
		}
	}
	return apperror.NewNotFound("transaction", txnID)
}

func sortFIFO(batches []Batch) {
	sort.Slice(batches, func(i, j int) bool {
		if !batches[i].ReceivedAt.Equal(batches[j].ReceivedAt) {
			return batches[i].ReceivedAt.Before(batches[j].ReceivedAt)
		}
		return batches[i].ID.String() < batches[j].ID.String()
	})
}

type fakeProducts struct{ store *fakeStore }

func (r *fakeProducts) Create(_ context.Context, p *product.Product) error {
	cp := *p
	r.store.products[p.ID] = &cp
	return nil
}

func (r *fakeProducts) GetByID(_ context.Context, productID id.ID) (*product.Product, error) {
	p, ok := r.store.products[productID]
	if !ok || p.DeletionMark {
		return nil, apperror.NewNotFound("product", productID)
	}
	cp := *p
	return &cp, nil
}

func (r *fakeProducts) GetByCode(_ context.Context, code string) (*product.Product, error) {
	for _, p := range r.store.products {
		if p.Code == code && !p.DeletionMark {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("product", code)
}

func (r *fakeProducts) Update(_ context.Context, p *product.Product) error {
	cp := *p
	r.store.products[p.ID] = &cp
	return nil
}

func (r *fakeProducts) SetDeletionMark(_ context.Context, productID id.ID, marked bool) error {
	p, ok := r.store.products[productID]
	if !ok {
		return apperror.NewNotFound("product", productID)
	}
	p.DeletionMark = marked
	return nil
}

func (r *fakeProducts) List(_ context.Context, _ domain.ListFilter) (domain.ListResult[*product.Product], error) {
	return domain.ListResult[*product.Product]{}, nil
}

func (r *fakeProducts) ListActive(_ context.Context) ([]*product.Product, error) {
	var out []*product.Product
	for _, p := range r.store.products {
		if !p.DeletionMark {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeProducts) Exists(_ context.Context, productID id.ID) (bool, error) {
	p, ok := r.store.products[productID]
	return ok && !p.DeletionMark, nil
}

func (r *fakeProducts) AdjustStock(_ context.Context, productID id.ID, delta types.Quantity) (types.Quantity, error) {
	p, ok := r.store.products[productID]
	if !ok {
		return 0, apperror.NewNotFound("product", productID)
	}
	p.CurrentStock += delta
	return p.CurrentStock, nil
}

func (r *fakeProducts) SetUnitCosts(_ context.Context, productID id.ID, last, average types.Money) error {
	p, ok := r.store.products[productID]
	if !ok {
		return apperror.NewNotFound("product", productID)
	}
	p.LastUnitCost = last
	p.AverageUnitCost = average
	return nil
}

type ledgerFixture struct {
	store    *fakeStore
	svc      *Service
	products *fakeProducts
	product  *product.Product
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	store := newFakeStore()
	products := &fakeProducts{store: store}
	svc := NewService(&fakeRepo{store: store}, products, nil, &fakeTxManager{store: store})

	p := product.NewProduct("P-001", "Bolt M8", "pcs")
	require.NoError(t, products.Create(context.Background(), p))
	return &ledgerFixture{store: store, svc: svc, products: products, product: p}
}

func (f *ledgerFixture) addBatch(t *testing.T, number string, qty int64, cost string, receivedAt time.Time) *Batch {
	t.Helper()
	b, err := f.svc.AddBatch(context.Background(), AddBatchInput{
		ProductID:   f.product.ID,
		Number:      number,
		Quantity:    types.NewQuantityFromInt(qty),
		CostPerUnit: types.MustMoney(cost),
		ReceivedAt:  receivedAt,
	})
	require.NoError(t, err)
	return b
}

func TestAddBatch(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("creates batch and credits stock", func(t *testing.T) {
		f := newLedgerFixture(t)

		b := f.addBatch(t, "B-2026-00001", 100, "10.00", day)

		assert.Equal(t, b.Quantity, b.Remaining)
		assert.Equal(t, BatchStatusActive, b.Status)
		assert.Equal(t, QualityPending, b.Quality)

		p, err := f.products.GetByID(ctx, f.product.ID)
		require.NoError(t, err)
		assert.Equal(t, types.NewQuantityFromInt(100), p.CurrentStock)
		assert.True(t, p.LastUnitCost.Equal(types.MustMoney("10.00")))
		assert.True(t, p.AverageUnitCost.Equal(types.MustMoney("10.00")))

		require.Len(t, f.store.txns, 1)
		assert.Equal(t, TransactionIn, f.store.txns[0].Type)
		assert.Equal(t, types.NewQuantityFromInt(100), f.store.txns[0].Quantity)
		assert.Equal(t, types.NewQuantityFromInt(100), f.store.txns[0].RunningBalance)
	})

	t.Run("weighted average across receipts", func(t *testing.T) {
		f := newLedgerFixture(t)
		f.addBatch(t, "B-2026-00001", 100, "10.00", day)
		f.addBatch(t, "B-2026-00002", 50, "12.00", day.AddDate(0, 0, 1))

		p, err := f.products.GetByID(ctx, f.product.ID)
		require.NoError(t, err)
		// (100*10 + 50*12) / 150 = 10.6667
		assert.True(t, p.AverageUnitCost.Equal(types.MustMoney("10.6667")), p.AverageUnitCost.String())
		assert.True(t, p.LastUnitCost.Equal(types.MustMoney("12.00")))
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		f := newLedgerFixture(t)
		_, err := f.svc.AddBatch(ctx, AddBatchInput{
			ProductID:   f.product.ID,
			Number:      "B-2026-00001",
			Quantity:    0,
			CostPerUnit: types.MustMoney("10.00"),
		})
		require.Error(t, err)
		appErr, ok := apperror.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperror.CodeValidation, appErr.Code)
	})

	t.Run("unknown product", func(t *testing.T) {
		f := newLedgerFixture(t)
		_, err := f.svc.AddBatch(ctx, AddBatchInput{
			ProductID:   id.New(),
			Number:      "B-2026-00001",
			Quantity:    types.NewQuantityFromInt(1),
			CostPerUnit: types.MustMoney("1.00"),
		})
		assert.True(t, apperror.IsNotFound(err))
	})
}

func TestConsume(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("partial consume", func(t *testing.T) {
		f := newLedgerFixture(t)
		b := f.addBatch(t, "B-2026-00001", 100, "10.00", day)

		res, err := f.svc.Consume(ctx, b.ID, types.NewQuantityFromInt(30), Reference{Type: "order"})
		require.NoError(t, err)
		assert.Equal(t, types.NewQuantityFromInt(70), res.Remaining)
		assert.Equal(t, BatchStatusActive, res.Status)
		assert.Equal(t, types.NewQuantityFromInt(70), res.RunningBalance)

		require.Len(t, f.store.txns, 2)
		out := f.store.txns[1]
		assert.Equal(t, TransactionOut, out.Type)
		assert.Equal(t, types.NewQuantityFromInt(-30), out.Quantity)
	})

	t.Run("exact depletion flips status to consumed", func(t *testing.T) {
		f := newLedgerFixture(t)
		b := f.addBatch(t, "B-2026-00001", 100, "10.00", day)

		res, err := f.svc.Consume(ctx, b.ID, types.NewQuantityFromInt(100), Reference{})
		require.NoError(t, err)
		assert.True(t, res.Remaining.IsZero())
		assert.Equal(t, BatchStatusConsumed, res.Status)

		// Consumed batches are no longer consumable.
		_, err = f.svc.Consume(ctx, b.ID, types.NewQuantityFromInt(1), Reference{})
		assert.True(t, apperror.IsInvalidState(err))
	})

	t.Run("over-consumption leaves state unchanged", func(t *testing.T) {
		f := newLedgerFixture(t)
		b := f.addBatch(t, "B-2026-00001", 100, "10.00", day)

		_, err := f.svc.Consume(ctx, b.ID, types.NewQuantityFromInt(101), Reference{})
		require.True(t, apperror.IsInsufficientStock(err))

		appErr, _ := apperror.AsAppError(err)
		assert.InDelta(t, 1.0, appErr.Details["shortfall"], 1e-9)

		got, err := f.svc.GetBatch(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, types.NewQuantityFromInt(100), got.Remaining)

		p, err := f.products.GetByID(ctx, f.product.ID)
		require.NoError(t, err)
		assert.Equal(t, types.NewQuantityFromInt(100), p.CurrentStock)
		assert.Len(t, f.store.txns, 1)
	})

	t.Run("expired batch is rejected and flipped", func(t *testing.T) {
		f := newLedgerFixture(t)
		expiry := day.AddDate(0, 0, 5)
		b, err := f.svc.AddBatch(ctx, AddBatchInput{
			ProductID:   f.product.ID,
			Number:      "B-2026-00001",
			Quantity:    types.NewQuantityFromInt(10),
			CostPerUnit: types.MustMoney("1.00"),
			ReceivedAt:  day,
			ExpiresAt:   &expiry,
		})
		require.NoError(t, err)

		// Expiry is in the past relative to the wall clock.
		_, err = f.svc.Consume(ctx, b.ID, types.NewQuantityFromInt(1), Reference{})
		assert.True(t, apperror.IsInvalidState(err))
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		f := newLedgerFixture(t)
		b := f.addBatch(t, "B-2026-00001", 10, "1.00", day)
		_, err := f.svc.Consume(ctx, b.ID, types.NewQuantityFromInt(-5), Reference{})
		require.Error(t, err)
		appErr, ok := apperror.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperror.CodeValidation, appErr.Code)
	})
}

func TestApplyLines(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("applies all lines in one transaction", func(t *testing.T) {
		f := newLedgerFixture(t)
		b1 := f.addBatch(t, "B-2026-00001", 100, "10.00", day)
		b2 := f.addBatch(t, "B-2026-00002", 50, "12.00", day.AddDate(0, 0, 1))

		results, err := f.svc.ApplyLines(ctx, f.product.ID, []ConsumeLine{
			{BatchID: b1.ID, Quantity: types.NewQuantityFromInt(100)},
			{BatchID: b2.ID, Quantity: types.NewQuantityFromInt(20)},
		}, Reference{Type: "order"})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, BatchStatusConsumed, results[0].Status)
		assert.Equal(t, types.NewQuantityFromInt(30), results[1].Remaining)

		p, err := f.products.GetByID(ctx, f.product.ID)
		require.NoError(t, err)
		assert.Equal(t, types.NewQuantityFromInt(30), p.CurrentStock)
		// Only B2 stock remains, so average tracks its cost.
		assert.True(t, p.AverageUnitCost.Equal(types.MustMoney("12.00")))
	})

	t.Run("failing line rolls the whole plan back", func(t *testing.T) {
		f := newLedgerFixture(t)
		b1 := f.addBatch(t, "B-2026-00001", 100, "10.00", day)
		b2 := f.addBatch(t, "B-2026-00002", 50, "12.00", day.AddDate(0, 0, 1))

		_, err := f.svc.ApplyLines(ctx, f.product.ID, []ConsumeLine{
			{BatchID: b1.ID, Quantity: types.NewQuantityFromInt(40)},
			{BatchID: b2.ID, Quantity: types.NewQuantityFromInt(60)}, // over-consumes
		}, Reference{})
		require.True(t, apperror.IsInsufficientStock(err))

		got1, err := f.svc.GetBatch(ctx, b1.ID)
		require.NoError(t, err)
		assert.Equal(t, types.NewQuantityFromInt(100), got1.Remaining)

		p, err := f.products.GetByID(ctx, f.product.ID)
		require.NoError(t, err)
		assert.Equal(t, types.NewQuantityFromInt(150), p.CurrentStock)
	})

	t.Run("rejects foreign batch", func(t *testing.T) {
		f := newLedgerFixture(t)
		other := product.NewProduct("P-002", "Nut M8", "pcs")
		require.NoError(t, f.products.Create(ctx, other))

		foreign, err := f.svc.AddBatch(ctx, AddBatchInput{
			ProductID:   other.ID,
			Number:      "B-2026-00009",
			Quantity:    types.NewQuantityFromInt(5),
			CostPerUnit: types.MustMoney("1.00"),
			ReceivedAt:  day,
		})
		require.NoError(t, err)

		_, err = f.svc.ApplyLines(ctx, f.product.ID, []ConsumeLine{
			{BatchID: foreign.ID, Quantity: types.NewQuantityFromInt(1)},
		}, Reference{})
		require.Error(t, err)
		appErr, ok := apperror.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperror.CodeValidation, appErr.Code)
	})

	t.Run("empty plan", func(t *testing.T) {
		f := newLedgerFixture(t)
		_, err := f.svc.ApplyLines(ctx, f.product.ID, nil, Reference{})
		require.Error(t, err)
	})
}

func TestActiveBatchesOrder(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	f := newLedgerFixture(t)
	f.addBatch(t, "B-2026-00001", 10, "1.00", day)
	f.addBatch(t, "B-2026-00002", 10, "1.00", day.AddDate(0, 0, 1))
	// Same receipt date as the second batch: UUIDv7 breaks the tie by
	// insertion order.
	f.addBatch(t, "B-2026-00003", 10, "1.00", day.AddDate(0, 0, 1))

	fifo, err := f.svc.ActiveBatches(ctx, f.product.ID, OrderFIFO)
	require.NoError(t, err)
	require.Len(t, fifo, 3)
	assert.Equal(t, "B-2026-00001", fifo[0].Number)
	assert.Equal(t, "B-2026-00002", fifo[1].Number)
	assert.Equal(t, "B-2026-00003", fifo[2].Number)

	lifo, err := f.svc.ActiveBatches(ctx, f.product.ID, OrderLIFO)
	require.NoError(t, err)
	require.Len(t, lifo, 3)
	for i := range fifo {
		assert.Equal(t, fifo[i].ID, lifo[len(lifo)-1-i].ID, "LIFO must be the exact reverse of FIFO")
	}
}

func TestSoftDeleteBatch(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("compensates remaining stock", func(t *testing.T) {
		f := newLedgerFixture(t)
		b1 := f.addBatch(t, "B-2026-00001", 100, "10.00", day)
		f.addBatch(t, "B-2026-00002", 50, "12.00", day.AddDate(0, 0, 1))

		_, err := f.svc.Consume(ctx, b1.ID, types.NewQuantityFromInt(40), Reference{})
		require.NoError(t, err)

		require.NoError(t, f.svc.SoftDeleteBatch(ctx, b1.ID, Reference{Type: "correction"}))

		p, err := f.products.GetByID(ctx, f.product.ID)
		require.NoError(t, err)
		// 150 - 40 consumed - 60 compensated = 50
		assert.Equal(t, types.NewQuantityFromInt(50), p.CurrentStock)

		last := f.store.txns[len(f.store.txns)-1]
		assert.Equal(t, TransactionAdjustment, last.Type)
		assert.Equal(t, types.NewQuantityFromInt(-60), last.Quantity)

		_, err = f.svc.GetBatch(ctx, b1.ID)
		assert.True(t, apperror.IsNotFound(err))
	})

	t.Run("double delete is invalid state", func(t *testing.T) {
		f := newLedgerFixture(t)
		b := f.addBatch(t, "B-2026-00001", 10, "1.00", day)
		require.NoError(t, f.svc.SoftDeleteBatch(ctx, b.ID, Reference{}))

		err := f.svc.SoftDeleteBatch(ctx, b.ID, Reference{})
		assert.True(t, apperror.IsNotFound(err) || apperror.IsInvalidState(err))
	})
}

func TestExpireOverdueBatches(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	f := newLedgerFixture(t)
	expired := day.AddDate(0, 0, 10)
	fresh := day.AddDate(1, 0, 0)

	b1, err := f.svc.AddBatch(ctx, AddBatchInput{
		ProductID: f.product.ID, Number: "B-2026-00001",
		Quantity: types.NewQuantityFromInt(10), CostPerUnit: types.MustMoney("1.00"),
		ReceivedAt: day, ExpiresAt: &expired,
	})
	require.NoError(t, err)
	b2, err := f.svc.AddBatch(ctx, AddBatchInput{
		ProductID: f.product.ID, Number: "B-2026-00002",
		Quantity: types.NewQuantityFromInt(10), CostPerUnit: types.MustMoney("1.00"),
		ReceivedAt: day, ExpiresAt: &fresh,
	})
	require.NoError(t, err)

	now := day.AddDate(0, 1, 0)
	flipped, err := f.svc.ExpireOverdueBatches(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, flipped)

	got1, err := f.svc.GetBatch(ctx, b1.ID)
	require.NoError(t, err)
	assert.Equal(t, BatchStatusExpired, got1.Status)

	got2, err := f.svc.GetBatch(ctx, b2.ID)
	require.NoError(t, err)
	assert.Equal(t, BatchStatusActive, got2.Status)

	// Second sweep is a no-op.
	flipped, err = f.svc.ExpireOverdueBatches(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, flipped)
}

// Conservation: the sum of journal quantities always equals the product's
// current stock, across any sequence of receipts, consumptions and deletes.
func TestJournalConservation(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	f := newLedgerFixture(t)
	b1 := f.addBatch(t, "B-2026-00001", 100, "10.00", day)
	b2 := f.addBatch(t, "B-2026-00002", 50, "12.00", day.AddDate(0, 0, 1))

	_, err := f.svc.Consume(ctx, b1.ID, types.NewQuantityFromInt(30), Reference{})
	require.NoError(t, err)
	_, err = f.svc.Consume(ctx, b2.ID, types.NewQuantityFromInt(50), Reference{})
	require.NoError(t, err)
	require.NoError(t, f.svc.SoftDeleteBatch(ctx, b1.ID, Reference{}))

	var sum types.Quantity
	for _, txn := range f.store.txns {
		sum += txn.Quantity
	}
	p, err := f.products.GetByID(ctx, f.product.ID)
	require.NoError(t, err)
	assert.Equal(t, p.CurrentStock, sum)
	assert.Equal(t, p.CurrentStock, f.store.txns[len(f.store.txns)-1].RunningBalance)
}
