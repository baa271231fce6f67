package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/tx"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/catalogs/product"
	"lotledger/pkg/logger"
	"lotledger/pkg/numerator"
)

// Auditor records ledger mutations into the audit trail.
type Auditor interface {
	LogChange(ctx context.Context, entityType string, entityID id.ID, action string, changes map[string]any) error
}

// StockObserver is notified after a committed stock change for a product.
// The alert engine implements this to re-evaluate thresholds; the explicit
// call replaces hidden ORM-hook side effects.
type StockObserver interface {
	StockChanged(ctx context.Context, productID id.ID)
}

// Service provides the batch ledger operations. Every mutation runs inside
// one transaction: batch row, product stock and journal commit together or
// not at all.
type Service struct {
	repo      Repository
	products  product.Repository
	numerator *numerator.Service
	txManager tx.Manager
	audit     Auditor       // optional
	observer  StockObserver // optional
}

// NewService creates a new batch ledger service.
func NewService(repo Repository, products product.Repository, num *numerator.Service, txManager tx.Manager) *Service {
	return &Service{
		repo:      repo,
		products:  products,
		numerator: num,
		txManager: txManager,
	}
}

// SetAuditor wires the audit trail sink.
func (s *Service) SetAuditor(a Auditor) { s.audit = a }

// SetObserver wires the post-commit stock change observer.
func (s *Service) SetObserver(o StockObserver) { s.observer = o }

// AddBatchInput carries the goods-receipt parameters for a new batch.
type AddBatchInput struct {
	ProductID      id.ID
	Number         string // generated when empty
	Quantity       types.Quantity
	CostPerUnit    types.Money
	ReceivedAt     time.Time // defaults to now
	ManufacturedAt *time.Time
	ExpiresAt      *time.Time
	Quality        QualityStatus // defaults to pending
	Reference      Reference
}

// AddBatch creates an active batch and credits the product's stock.
func (s *Service) AddBatch(ctx context.Context, in AddBatchInput) (*Batch, error) {
	if !in.Quantity.IsPositive() {
		return nil, apperror.NewValidation("quantity must be positive").
			WithDetail("field", "quantity")
	}

	if _, err := s.products.GetByID(ctx, in.ProductID); err != nil {
		return nil, err
	}

	if in.Number == "" {
		number, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig("B"),
			&numerator.Options{Strategy: numerator.StrategyCached}, time.Now())
		if err != nil {
			return nil, fmt.Errorf("generate batch number: %w", err)
		}
		in.Number = number
	}

	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	b := NewBatch(in.ProductID, in.Number, in.Quantity, in.CostPerUnit, receivedAt)
	b.ManufacturedAt = in.ManufacturedAt
	b.ExpiresAt = in.ExpiresAt
	if in.Quality != "" {
		b.Quality = in.Quality
	}

	if err := b.Validate(ctx); err != nil {
		return nil, err
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateBatch(ctx, b); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}

		balance, err := s.products.AdjustStock(ctx, b.ProductID, b.Quantity)
		if err != nil {
			return fmt.Errorf("adjust stock: %w", err)
		}

		txn := NewTransaction(b.ProductID, &b.ID, TransactionIn, b.Quantity, balance, in.Reference)
		if err := s.repo.CreateTransactions(ctx, []*Transaction{txn}); err != nil {
			return fmt.Errorf("journal receipt: %w", err)
		}

		if err := s.recomputeProductCosts(ctx, b.ProductID, &b.CostPerUnit); err != nil {
			return err
		}

		s.auditChange(ctx, "batch", b.ID, "create", map[string]any{
			"product_id": b.ProductID.String(),
			"number":     b.Number,
			"quantity":   b.Quantity.String(),
			"cost":       b.CostPerUnit.String(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyStockChanged(ctx, b.ProductID)
	logger.Info(ctx, "batch added",
		"batch_id", b.ID,
		"product_id", b.ProductID,
		"number", b.Number,
		"quantity", b.Quantity,
	)
	return b, nil
}

// ConsumeResult reports the outcome of a consume operation.
type ConsumeResult struct {
	BatchID        id.ID          `json:"batchId"`
	Consumed       types.Quantity `json:"consumed"`
	Remaining      types.Quantity `json:"remaining"`
	Status         BatchStatus    `json:"status"`
	RunningBalance types.Quantity `json:"runningBalance"`
}

// Consume draws quantity from a single batch under a row lock.
// Over-consumption fails with INSUFFICIENT_STOCK and leaves state unchanged.
func (s *Service) Consume(ctx context.Context, batchID id.ID, quantity types.Quantity, ref Reference) (ConsumeResult, error) {
	if !quantity.IsPositive() {
		return ConsumeResult{}, apperror.NewValidation("quantity must be positive").
			WithDetail("field", "quantity")
	}

	var res ConsumeResult
	var productID id.ID
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := s.consumeLocked(ctx, batchID, quantity, ref)
		if err != nil {
			return err
		}
		res = r.result
		productID = r.productID
		return s.recomputeProductCosts(ctx, r.productID, nil)
	})
	if err != nil {
		return ConsumeResult{}, err
	}

	s.notifyStockChanged(ctx, productID)
	return res, nil
}

// ConsumeLine is one applied line of an allocation plan.
type ConsumeLine struct {
	BatchID  id.ID          `json:"batchId"`
	Quantity types.Quantity `json:"quantity"`
}

// ApplyLines applies every line of an allocation plan within one
// transaction: either all batch decrements and journal rows commit, or none
// do. No partial consumption is ever visible to readers.
func (s *Service) ApplyLines(ctx context.Context, productID id.ID, lines []ConsumeLine, ref Reference) ([]ConsumeResult, error) {
	if len(lines) == 0 {
		return nil, apperror.NewValidation("allocation plan has no lines")
	}

	results := make([]ConsumeResult, 0, len(lines))
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		results = results[:0]
		for _, line := range lines {
			r, err := s.consumeLocked(ctx, line.BatchID, line.Quantity, ref)
			if err != nil {
				return err
			}
			if r.productID != productID {
				return apperror.NewValidation("allocation line references a foreign batch").
					WithDetail("batch_id", line.BatchID.String())
			}
			results = append(results, r.result)
		}
		return s.recomputeProductCosts(ctx, productID, nil)
	})
	if err != nil {
		return nil, err
	}

	s.notifyStockChanged(ctx, productID)
	logger.Info(ctx, "allocation plan applied",
		"product_id", productID,
		"lines", len(lines),
	)
	return results, nil
}

type lockedConsume struct {
	result    ConsumeResult
	productID id.ID
}

// consumeLocked performs the row-locked decrement. Must run inside a
// transaction.
func (s *Service) consumeLocked(ctx context.Context, batchID id.ID, quantity types.Quantity, ref Reference) (lockedConsume, error) {
	b, err := s.repo.GetBatchForUpdate(ctx, batchID)
	if err != nil {
		return lockedConsume{}, err
	}

	now := time.Now().UTC()
	if b.Status == BatchStatusActive && b.IsExpired(now) {
		// Flip status lazily; the sweep usually gets there first.
		b.Status = BatchStatusExpired
		b.Touch()
		if uerr := s.repo.UpdateBatch(ctx, b); uerr != nil {
			return lockedConsume{}, fmt.Errorf("expire batch: %w", uerr)
		}
	}

	if !b.IsConsumable() {
		return lockedConsume{}, apperror.NewInvalidState("batch", b.ID.String(),
			fmt.Sprintf("batch is not consumable (status %s)", b.Status))
	}

	if quantity > b.Remaining {
		return lockedConsume{}, apperror.NewInsufficientStock("batch", b.ID.String(),
			quantity.Float64(), b.Remaining.Float64())
	}

	b.Remaining -= quantity
	if b.Remaining.IsZero() {
		b.Status = BatchStatusConsumed
	}
	b.Touch()

	if err := s.repo.UpdateBatch(ctx, b); err != nil {
		return lockedConsume{}, err
	}

	balance, err := s.products.AdjustStock(ctx, b.ProductID, quantity.Neg())
	if err != nil {
		return lockedConsume{}, fmt.Errorf("adjust stock: %w", err)
	}

	txn := NewTransaction(b.ProductID, &b.ID, TransactionOut, quantity.Neg(), balance, ref)
	if err := s.repo.CreateTransactions(ctx, []*Transaction{txn}); err != nil {
		return lockedConsume{}, fmt.Errorf("journal consumption: %w", err)
	}

	s.auditChange(ctx, "batch", b.ID, "consume", map[string]any{
		"quantity":  quantity.String(),
		"remaining": b.Remaining.String(),
		"status":    string(b.Status),
	})

	return lockedConsume{
		result: ConsumeResult{
			BatchID:        b.ID,
			Consumed:       quantity,
			Remaining:      b.Remaining,
			Status:         b.Status,
			RunningBalance: balance,
		},
		productID: b.ProductID,
	}, nil
}

// GetBatch retrieves a batch by ID.
func (s *Service) GetBatch(ctx context.Context, batchID id.ID) (*Batch, error) {
	return s.repo.GetBatch(ctx, batchID)
}

// ActiveBatches returns consumable batches in the requested order.
// FIFO is received_at ascending with UUIDv7 tie-break; LIFO is the exact
// reverse of that sequence.
func (s *Service) ActiveBatches(ctx context.Context, productID id.ID, order Order) ([]Batch, error) {
	batches, err := s.repo.ActiveBatches(ctx, productID)
	if err != nil {
		return nil, err
	}

	if order == OrderLIFO {
		reverse(batches)
	}
	return batches, nil
}

func reverse(batches []Batch) {
	for i, j := 0, len(batches)-1; i < j; i, j = i+1, j-1 {
		batches[i], batches[j] = batches[j], batches[i]
	}
}

// SoftDeleteBatch marks a batch deleted and compensates product stock by the
// remaining quantity, so a deleted batch never leaves orphaned stock credit.
func (s *Service) SoftDeleteBatch(ctx context.Context, batchID id.ID, ref Reference) error {
	var productID id.ID
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetBatchForUpdate(ctx, batchID)
		if err != nil {
			return err
		}
		if b.DeletionMark {
			return apperror.NewInvalidState("batch", b.ID.String(), "batch is already deleted")
		}
		productID = b.ProductID

		if err := s.deactivateLocked(ctx, b, ref); err != nil {
			return err
		}
		return s.recomputeProductCosts(ctx, b.ProductID, nil)
	})
	if err != nil {
		return err
	}

	s.notifyStockChanged(ctx, productID)
	logger.Info(ctx, "batch soft-deleted", "batch_id", batchID, "product_id", productID)
	return nil
}

// DeactivateProductBatches soft-deletes every batch of a product. Runs in
// the caller's transaction (product deletion cascade).
func (s *Service) DeactivateProductBatches(ctx context.Context, productID id.ID) error {
	batches, err := s.repo.ListBatchesByProduct(ctx, productID)
	if err != nil {
		return err
	}

	ref := Reference{Type: "product_deletion", ID: &productID}
	for i := range batches {
		b, err := s.repo.GetBatchForUpdate(ctx, batches[i].ID)
		if err != nil {
			return err
		}
		if b.DeletionMark {
			continue
		}
		if err := s.deactivateLocked(ctx, b, ref); err != nil {
			return err
		}
	}
	return nil
}

// deactivateLocked performs the marked-deleted mutation with stock
// compensation. The batch row must already be locked.
func (s *Service) deactivateLocked(ctx context.Context, b *Batch, ref Reference) error {
	remaining := b.Remaining
	b.MarkDeleted()
	b.Touch()
	if err := s.repo.UpdateBatch(ctx, b); err != nil {
		return err
	}

	if remaining.IsPositive() {
		balance, err := s.products.AdjustStock(ctx, b.ProductID, remaining.Neg())
		if err != nil {
			return fmt.Errorf("compensate stock: %w", err)
		}
		txn := NewTransaction(b.ProductID, &b.ID, TransactionAdjustment, remaining.Neg(), balance, ref)
		if err := s.repo.CreateTransactions(ctx, []*Transaction{txn}); err != nil {
			return fmt.Errorf("journal compensation: %w", err)
		}
	}

	s.auditChange(ctx, "batch", b.ID, "delete", map[string]any{
		"remaining_compensated": remaining.String(),
	})
	return nil
}

// ExpireOverdueBatches flips still-active batches whose expiry date has
// passed to the expired status. Returns the number of flipped batches.
func (s *Service) ExpireOverdueBatches(ctx context.Context, now time.Time) (int, error) {
	overdue, err := s.repo.ExpiringBatches(ctx, now)
	if err != nil {
		return 0, err
	}

	flipped := 0
	for i := range overdue {
		if !overdue[i].IsExpired(now) {
			continue
		}
		err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			b, err := s.repo.GetBatchForUpdate(ctx, overdue[i].ID)
			if err != nil {
				return err
			}
			if b.Status != BatchStatusActive || !b.IsExpired(now) {
				return nil
			}
			b.Status = BatchStatusExpired
			b.Touch()
			if err := s.repo.UpdateBatch(ctx, b); err != nil {
				return err
			}
			flipped++
			s.auditChange(ctx, "batch", b.ID, "expire", map[string]any{
				"expires_at": b.ExpiresAt,
			})
			return nil
		})
		if err != nil {
			return flipped, err
		}
	}

	if flipped > 0 {
		logger.Info(ctx, "expired overdue batches", "count", flipped)
	}
	return flipped, nil
}

// Transactions returns journal history for a product, newest first.
func (s *Service) Transactions(ctx context.Context, productID id.ID, filter TransactionFilter) ([]Transaction, error) {
	return s.repo.TransactionsByProduct(ctx, productID, filter)
}

// recomputeProductCosts refreshes the product's derived average unit cost
// (weighted by remaining quantity across active batches). lastCost, when
// set, also refreshes the last-receipt cost. Must run inside the mutation's
// transaction.
func (s *Service) recomputeProductCosts(ctx context.Context, productID id.ID, lastCost *types.Money) error {
	batches, err := s.repo.ActiveBatches(ctx, productID)
	if err != nil {
		return fmt.Errorf("load batches for costing: %w", err)
	}

	totalQty := decimal.Zero
	totalValue := decimal.Zero
	for i := range batches {
		q := batches[i].Remaining.Decimal()
		totalQty = totalQty.Add(q)
		totalValue = totalValue.Add(q.Mul(batches[i].CostPerUnit))
	}

	average := decimal.Zero
	if totalQty.IsPositive() {
		average = totalValue.Div(totalQty).Round(4)
	}

	last := average
	if lastCost != nil {
		last = *lastCost
	} else if p, err := s.products.GetByID(ctx, productID); err == nil {
		last = p.LastUnitCost
	}

	if err := s.products.SetUnitCosts(ctx, productID, last, average); err != nil {
		return fmt.Errorf("set unit costs: %w", err)
	}
	return nil
}

func (s *Service) auditChange(ctx context.Context, entityType string, entityID id.ID, action string, changes map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogChange(ctx, entityType, entityID, action, changes); err != nil {
		logger.Warn(ctx, "audit write failed", "entity_id", entityID, "action", action, "error", err)
	}
}

func (s *Service) notifyStockChanged(ctx context.Context, productID id.ID) {
	if s.observer == nil || id.IsNil(productID) {
		return
	}
	s.observer.StockChanged(ctx, productID)
}
