package allocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/catalogs/product"
	"lotledger/internal/domain/ledger"
)

func testBatch(number string, remaining int64, cost string, receivedAt time.Time) ledger.Batch {
	b := ledger.NewBatch(id.New(), number, types.NewQuantityFromInt(remaining), types.MustMoney(cost), receivedAt)
	return *b
}

func TestBuild(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	batches := []ledger.Batch{
		testBatch("B-2026-00001", 100, "10.00", day),
		testBatch("B-2026-00002", 50, "12.00", day.AddDate(0, 0, 1)),
	}

	t.Run("spans batches", func(t *testing.T) {
		allocated, lines := Build(batches, types.NewQuantityFromInt(120))
		assert.Equal(t, types.NewQuantityFromInt(120), allocated)
		require.Len(t, lines, 2)
		assert.Equal(t, types.NewQuantityFromInt(100), lines[0].Quantity)
		assert.Equal(t, "B-2026-00001", lines[0].BatchNumber)
		assert.Equal(t, types.NewQuantityFromInt(20), lines[1].Quantity)
	})

	t.Run("shortfall when stock runs out", func(t *testing.T) {
		allocated, lines := Build(batches, types.NewQuantityFromInt(200))
		assert.Equal(t, types.NewQuantityFromInt(150), allocated)
		require.Len(t, lines, 2)
		assert.Equal(t, types.NewQuantityFromInt(50), lines[1].Quantity)
	})

	t.Run("single batch covers request", func(t *testing.T) {
		allocated, lines := Build(batches, types.NewQuantityFromInt(40))
		assert.Equal(t, types.NewQuantityFromInt(40), allocated)
		require.Len(t, lines, 1)
		assert.Equal(t, types.NewQuantityFromInt(40), lines[0].Quantity)
	})

	t.Run("skips drained batches", func(t *testing.T) {
		drained := batches[0]
		drained.Remaining = 0
		allocated, lines := Build([]ledger.Batch{drained, batches[1]}, types.NewQuantityFromInt(10))
		assert.Equal(t, types.NewQuantityFromInt(10), allocated)
		require.Len(t, lines, 1)
		assert.Equal(t, "B-2026-00002", lines[0].BatchNumber)
	})

	t.Run("deterministic", func(t *testing.T) {
		a1, l1 := Build(batches, types.NewQuantityFromInt(120))
		a2, l2 := Build(batches, types.NewQuantityFromInt(120))
		assert.Equal(t, a1, a2)
		assert.Equal(t, l1, l2)
	})

	t.Run("empty sequence", func(t *testing.T) {
		allocated, lines := Build(nil, types.NewQuantityFromInt(5))
		assert.True(t, allocated.IsZero())
		assert.Empty(t, lines)
	})
}

func TestPlanCost(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	batches := []ledger.Batch{
		testBatch("B-2026-00001", 100, "10.00", day),
		testBatch("B-2026-00002", 50, "12.00", day.AddDate(0, 0, 1)),
	}
	allocated, lines := Build(batches, types.NewQuantityFromInt(120))
	p := Plan{Requested: types.NewQuantityFromInt(120), Allocated: allocated, Lines: lines}

	// 100 * 10.00 + 20 * 12.00
	assert.True(t, p.Cost().Equal(types.MustMoney("1240.00")), p.Cost().String())
	assert.True(t, p.FullyAllocated())
}

// stubSource scripts ledger responses for engine tests.
type stubSource struct {
	batches    []ledger.Batch
	applyErrs  []error
	applyCalls int
	applied    [][]ledger.ConsumeLine
}

func (s *stubSource) ActiveBatches(_ context.Context, _ id.ID, order ledger.Order) ([]ledger.Batch, error) {
	out := make([]ledger.Batch, len(s.batches))
	copy(out, s.batches)
	if order == ledger.OrderLIFO {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (s *stubSource) ApplyLines(_ context.Context, _ id.ID, lines []ledger.ConsumeLine, _ ledger.Reference) ([]ledger.ConsumeResult, error) {
	s.applyCalls++
	s.applied = append(s.applied, lines)
	if len(s.applyErrs) > 0 {
		err := s.applyErrs[0]
		s.applyErrs = s.applyErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	results := make([]ledger.ConsumeResult, len(lines))
	for i, l := range lines {
		results[i] = ledger.ConsumeResult{BatchID: l.BatchID, Consumed: l.Quantity}
	}
	return results, nil
}

type stubProducts struct {
	product.Repository
	known map[id.ID]bool
}

func (s *stubProducts) Exists(_ context.Context, productID id.ID) (bool, error) {
	return s.known[productID], nil
}

func newEngineFixture(batches []ledger.Batch) (*Engine, *stubSource, id.ID) {
	productID := id.New()
	src := &stubSource{batches: batches}
	eng := NewEngine(src, &stubProducts{known: map[id.ID]bool{productID: true}})
	return eng, src, productID
}

func TestAllocate(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	batches := []ledger.Batch{
		testBatch("B-2026-00001", 100, "10.00", day),
		testBatch("B-2026-00002", 50, "12.00", day.AddDate(0, 0, 1)),
	}

	t.Run("fifo plan", func(t *testing.T) {
		eng, _, productID := newEngineFixture(batches)
		plan, err := eng.Allocate(ctx, productID, types.NewQuantityFromInt(120), ledger.OrderFIFO)
		require.NoError(t, err)
		assert.Equal(t, types.NewQuantityFromInt(120), plan.Allocated)
		assert.True(t, plan.Shortfall.IsZero())
		require.Len(t, plan.Lines, 2)
		assert.Equal(t, "B-2026-00001", plan.Lines[0].BatchNumber)
	})

	t.Run("lifo plan walks newest first", func(t *testing.T) {
		eng, _, productID := newEngineFixture(batches)
		plan, err := eng.Allocate(ctx, productID, types.NewQuantityFromInt(60), ledger.OrderLIFO)
		require.NoError(t, err)
		require.Len(t, plan.Lines, 2)
		assert.Equal(t, "B-2026-00002", plan.Lines[0].BatchNumber)
		assert.Equal(t, types.NewQuantityFromInt(50), plan.Lines[0].Quantity)
		assert.Equal(t, types.NewQuantityFromInt(10), plan.Lines[1].Quantity)
	})

	t.Run("shortfall reported, not failed", func(t *testing.T) {
		eng, _, productID := newEngineFixture(batches)
		plan, err := eng.Allocate(ctx, productID, types.NewQuantityFromInt(200), ledger.OrderFIFO)
		require.NoError(t, err)
		assert.Equal(t, types.NewQuantityFromInt(50), plan.Shortfall)
		assert.False(t, plan.FullyAllocated())
	})

	t.Run("unknown product", func(t *testing.T) {
		eng, _, _ := newEngineFixture(batches)
		_, err := eng.Allocate(ctx, id.New(), types.NewQuantityFromInt(1), ledger.OrderFIFO)
		assert.True(t, apperror.IsNotFound(err))
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		eng, _, productID := newEngineFixture(batches)
		_, err := eng.Allocate(ctx, productID, 0, ledger.OrderFIFO)
		require.Error(t, err)
		appErr, ok := apperror.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperror.CodeValidation, appErr.Code)
	})
}

func TestIssue(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	batches := []ledger.Batch{
		testBatch("B-2026-00001", 100, "10.00", day),
		testBatch("B-2026-00002", 50, "12.00", day.AddDate(0, 0, 1)),
	}

	t.Run("applies plan", func(t *testing.T) {
		eng, src, productID := newEngineFixture(batches)
		res, err := eng.Issue(ctx, IssueInput{
			ProductID: productID,
			Quantity:  types.NewQuantityFromInt(120),
			Order:     ledger.OrderFIFO,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, src.applyCalls)
		require.Len(t, res.Applied, 2)
		assert.Equal(t, types.NewQuantityFromInt(100), res.Applied[0].Consumed)
	})

	t.Run("shortfall fails without AllowPartial", func(t *testing.T) {
		eng, src, productID := newEngineFixture(batches)
		_, err := eng.Issue(ctx, IssueInput{
			ProductID: productID,
			Quantity:  types.NewQuantityFromInt(200),
			Order:     ledger.OrderFIFO,
		})
		require.True(t, apperror.IsInsufficientStock(err))
		assert.Zero(t, src.applyCalls, "nothing may be consumed on a refused plan")
	})

	t.Run("partial issue when allowed", func(t *testing.T) {
		eng, _, productID := newEngineFixture(batches)
		res, err := eng.Issue(ctx, IssueInput{
			ProductID:    productID,
			Quantity:     types.NewQuantityFromInt(200),
			Order:        ledger.OrderFIFO,
			AllowPartial: true,
		})
		require.NoError(t, err)
		assert.Equal(t, types.NewQuantityFromInt(150), res.Plan.Allocated)
	})

	t.Run("replans after losing the lock race", func(t *testing.T) {
		eng, src, productID := newEngineFixture(batches)
		src.applyErrs = []error{apperror.NewConcurrentModification("batch", "x"), nil}

		res, err := eng.Issue(ctx, IssueInput{
			ProductID: productID,
			Quantity:  types.NewQuantityFromInt(50),
			Order:     ledger.OrderFIFO,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, src.applyCalls)
		require.Len(t, res.Applied, 1)
	})

	t.Run("gives up after bounded attempts", func(t *testing.T) {
		eng, src, productID := newEngineFixture(batches)
		src.applyErrs = []error{
			apperror.NewConcurrentModification("batch", "x"),
			apperror.NewConcurrentModification("batch", "x"),
			apperror.NewConcurrentModification("batch", "x"),
		}

		_, err := eng.Issue(ctx, IssueInput{
			ProductID: productID,
			Quantity:  types.NewQuantityFromInt(50),
			Order:     ledger.OrderFIFO,
		})
		require.True(t, apperror.IsConcurrentModification(err))
		assert.Equal(t, 3, src.applyCalls)
	})

	t.Run("empty ledger", func(t *testing.T) {
		eng, _, productID := newEngineFixture(nil)
		_, err := eng.Issue(ctx, IssueInput{
			ProductID:    productID,
			Quantity:     types.NewQuantityFromInt(5),
			Order:        ledger.OrderFIFO,
			AllowPartial: true,
		})
		assert.True(t, apperror.IsInsufficientStock(err))
	})
}
