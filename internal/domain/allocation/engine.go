// Package allocation builds and applies batch allocation plans.
//
// Planning is a pure function over an ordered batch sequence; applying a
// plan delegates to the batch ledger, which holds the row locks. The split
// keeps the walk deterministic and testable without storage.
package allocation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/catalogs/product"
	"lotledger/internal/domain/ledger"
	"lotledger/pkg/logger"
)

// Line is one planned draw from a batch.
type Line struct {
	BatchID     id.ID          `json:"batchId"`
	BatchNumber string         `json:"batchNumber"`
	Quantity    types.Quantity `json:"quantity"`
	CostPerUnit types.Money    `json:"costPerUnit"`
	ReceivedAt  time.Time      `json:"receivedAt"`
}

// Plan is the outcome of an allocation walk. It is a proposal only; nothing
// is reserved until the plan is applied.
type Plan struct {
	ProductID id.ID          `json:"productId"`
	Order     ledger.Order   `json:"order"`
	Requested types.Quantity `json:"requested"`
	Allocated types.Quantity `json:"allocated"`
	Shortfall types.Quantity `json:"shortfall"`
	Lines     []Line         `json:"lines"`
}

// FullyAllocated reports whether the plan covers the full request.
func (p Plan) FullyAllocated() bool { return p.Shortfall.IsZero() }

// Cost returns the total cost of the planned draws.
func (p Plan) Cost() types.Money {
	total := decimal.Zero
	for i := range p.Lines {
		total = total.Add(p.Lines[i].Quantity.Decimal().Mul(p.Lines[i].CostPerUnit))
	}
	return total
}

// ConsumeLines converts the plan into ledger consume lines.
func (p Plan) ConsumeLines() []ledger.ConsumeLine {
	lines := make([]ledger.ConsumeLine, len(p.Lines))
	for i := range p.Lines {
		lines[i] = ledger.ConsumeLine{BatchID: p.Lines[i].BatchID, Quantity: p.Lines[i].Quantity}
	}
	return lines
}

// Build walks batches in the given sequence and takes
// min(remaining, still needed) from each until the request is covered or
// the sequence is exhausted. The walk is deterministic: equal inputs yield
// equal plans.
func Build(batches []ledger.Batch, requested types.Quantity) (allocated types.Quantity, lines []Line) {
	needed := requested
	for i := range batches {
		if !needed.IsPositive() {
			break
		}
		b := &batches[i]
		if !b.Remaining.IsPositive() {
			continue
		}
		take := b.Remaining.Min(needed)
		lines = append(lines, Line{
			BatchID:     b.ID,
			BatchNumber: b.Number,
			Quantity:    take,
			CostPerUnit: b.CostPerUnit,
			ReceivedAt:  b.ReceivedAt,
		})
		allocated += take
		needed -= take
	}
	return allocated, lines
}

// BatchSource is the slice of the batch ledger the engine depends on.
type BatchSource interface {
	ActiveBatches(ctx context.Context, productID id.ID, order ledger.Order) ([]ledger.Batch, error)
	ApplyLines(ctx context.Context, productID id.ID, lines []ledger.ConsumeLine, ref ledger.Reference) ([]ledger.ConsumeResult, error)
}

// Engine plans allocations against live batch state and issues stock by
// applying the plan atomically.
type Engine struct {
	ledger   BatchSource
	products product.Repository

	// maxAttempts bounds the replan loop when concurrent consumers win the
	// row-lock race.
	maxAttempts int
}

// NewEngine creates an allocation engine.
func NewEngine(src BatchSource, products product.Repository) *Engine {
	return &Engine{ledger: src, products: products, maxAttempts: 3}
}

// Allocate builds a plan for the requested quantity without consuming
// anything. A shortfall never fails the call; callers decide whether a
// partial plan is acceptable.
func (e *Engine) Allocate(ctx context.Context, productID id.ID, quantity types.Quantity, order ledger.Order) (*Plan, error) {
	if !quantity.IsPositive() {
		return nil, apperror.NewValidation("quantity must be positive").
			WithDetail("field", "quantity")
	}

	exists, err := e.products.Exists(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperror.NewNotFound("product", productID)
	}

	batches, err := e.ledger.ActiveBatches(ctx, productID, order)
	if err != nil {
		return nil, err
	}

	allocated, lines := Build(batches, quantity)
	return &Plan{
		ProductID: productID,
		Order:     order,
		Requested: quantity,
		Allocated: allocated,
		Shortfall: quantity - allocated,
		Lines:     lines,
	}, nil
}

// IssueInput describes a stock issue request.
type IssueInput struct {
	ProductID id.ID
	Quantity  types.Quantity
	Order     ledger.Order
	Reference ledger.Reference

	// AllowPartial issues whatever can be allocated instead of failing on
	// a shortfall.
	AllowPartial bool
}

// IssueResult reports the applied plan and the per-batch outcomes.
type IssueResult struct {
	Plan    *Plan                  `json:"plan"`
	Applied []ledger.ConsumeResult `json:"applied"`
}

// Issue plans and applies an allocation in one call. When a concurrent
// consumer drains a planned batch between planning and locking, the engine
// replans against fresh state, up to a bounded number of attempts.
func (e *Engine) Issue(ctx context.Context, in IssueInput) (*IssueResult, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		plan, err := e.Allocate(ctx, in.ProductID, in.Quantity, in.Order)
		if err != nil {
			return nil, err
		}

		if !plan.FullyAllocated() && !in.AllowPartial {
			return nil, apperror.NewInsufficientStock("product", in.ProductID.String(),
				plan.Requested.Float64(), plan.Allocated.Float64())
		}
		if len(plan.Lines) == 0 {
			return nil, apperror.NewInsufficientStock("product", in.ProductID.String(),
				plan.Requested.Float64(), 0)
		}

		applied, err := e.ledger.ApplyLines(ctx, in.ProductID, plan.ConsumeLines(), in.Reference)
		if err == nil {
			return &IssueResult{Plan: plan, Applied: applied}, nil
		}

		// Losing the race to another consumer invalidates the plan, not
		// the request.
		if apperror.IsConcurrentModification(err) || apperror.IsInsufficientStock(err) {
			lastErr = err
			logger.Warn(ctx, "allocation plan invalidated, replanning",
				"product_id", in.ProductID,
				"attempt", attempt,
			)
			continue
		}
		return nil, err
	}
	return nil, lastErr
}
