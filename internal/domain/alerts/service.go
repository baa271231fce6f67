package alerts

import (
	"context"
	"fmt"
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/tx"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/catalogs/product"
	"lotledger/internal/domain/ledger"
	"lotledger/pkg/logger"
)

// DefaultExpiryWindowDays is the look-ahead for expiring_soon detection.
const DefaultExpiryWindowDays = 30

// BatchSource is the ledger slice the sweep reads from.
type BatchSource interface {
	ListBatchesByProduct(ctx context.Context, productID id.ID) ([]ledger.Batch, error)
}

// Service derives alert state from product and batch thresholds and owns
// the alert lifecycle.
type Service struct {
	repo      Repository
	products  product.Repository
	batches   BatchSource
	txManager tx.Manager

	// expiryWindowDays is the expiring_soon look-ahead window.
	expiryWindowDays int

	// now is swappable for tests.
	now func() time.Time
}

// NewService creates a stock alert service.
func NewService(repo Repository, products product.Repository, batches BatchSource, txManager tx.Manager) *Service {
	return &Service{
		repo:             repo,
		products:         products,
		batches:          batches,
		txManager:        txManager,
		expiryWindowDays: DefaultExpiryWindowDays,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// SetExpiryWindow overrides the expiring_soon look-ahead window.
func (s *Service) SetExpiryWindow(days int) {
	if days > 0 {
		s.expiryWindowDays = days
	}
}

// condition is one threshold breach detected by a sweep pass.
type condition struct {
	batchID  *id.ID
	typ      AlertType
	priority Priority
	message  string
}

func (c condition) key() string {
	b := ""
	if c.batchID != nil {
		b = c.batchID.String()
	}
	return b + "/" + string(c.typ)
}

func alertKey(a *Alert) string {
	b := ""
	if a.BatchID != nil {
		b = a.BatchID.String()
	}
	return b + "/" + string(a.Type)
}

// Sweep evaluates every active product and returns alerts that were created,
// escalated or auto-resolved. A second sweep with no state change in between
// returns nothing.
func (s *Service) Sweep(ctx context.Context) ([]*Alert, error) {
	products, err := s.products.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var changed []*Alert
	for _, p := range products {
		alerts, err := s.sweepOne(ctx, p)
		if err != nil {
			return nil, err
		}
		changed = append(changed, alerts...)
	}

	if len(changed) > 0 {
		logger.Info(ctx, "alert sweep finished",
			"products", len(products),
			"changed", len(changed),
		)
	}
	return changed, nil
}

// SweepProduct re-evaluates a single product, typically right after a
// committed stock change.
func (s *Service) SweepProduct(ctx context.Context, productID id.ID) ([]*Alert, error) {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	return s.sweepOne(ctx, p)
}

// StockChanged implements the ledger's post-commit observer.
func (s *Service) StockChanged(ctx context.Context, productID id.ID) {
	if _, err := s.SweepProduct(ctx, productID); err != nil {
		logger.Warn(ctx, "post-commit alert sweep failed",
			"product_id", productID,
			"error", err,
		)
	}
}

func (s *Service) sweepOne(ctx context.Context, p *product.Product) ([]*Alert, error) {
	now := s.now()

	batches, err := s.batches.ListBatchesByProduct(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	desired := s.detect(p, batches, now)

	var changed []*Alert
	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		changed = changed[:0]

		open, err := s.repo.OpenByProduct(ctx, p.ID)
		if err != nil {
			return err
		}
		openByKey := make(map[string]*Alert, len(open))
		for _, a := range open {
			openByKey[alertKey(a)] = a
		}

		// Find-or-create each breached condition; escalate in place when
		// the derived priority moved.
		for _, c := range desired {
			existing := openByKey[c.key()]
			delete(openByKey, c.key())
			if existing == nil {
				a := NewAlert(p.ID, c.batchID, c.typ, c.priority, c.message)
				if err := s.repo.Create(ctx, a); err != nil {
					return err
				}
				changed = append(changed, a)
				continue
			}
			if existing.Priority != c.priority || existing.Message != c.message {
				existing.Priority = c.priority
				existing.Message = c.message
				existing.UpdatedAt = now
				if err := s.repo.Update(ctx, existing); err != nil {
					return err
				}
				changed = append(changed, existing)
			}
		}

		// Whatever is still open but no longer breached has self-healed.
		for _, a := range openByKey {
			if err := a.Resolve(nil, "condition no longer holds", now); err != nil {
				return err
			}
			if err := s.repo.Update(ctx, a); err != nil {
				return err
			}
			changed = append(changed, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// detect derives the set of breached conditions for a product snapshot.
func (s *Service) detect(p *product.Product, batches []ledger.Batch, now time.Time) []condition {
	var out []condition

	switch {
	case p.IsOutOfStock():
		out = append(out, condition{
			typ:      TypeOutOfStock,
			priority: PriorityHigh,
			message:  fmt.Sprintf("%s is out of stock", p.Code),
		})
	case p.IsBelowReorderLevel():
		out = append(out, condition{
			typ:      TypeLowStock,
			priority: lowStockPriority(p.CurrentStock, p.ReorderLevel),
			message: fmt.Sprintf("%s stock %s is at or below reorder level %s",
				p.Code, p.CurrentStock, p.ReorderLevel),
		})
	}

	for i := range batches {
		b := &batches[i]
		if !b.IsConsumable() && b.Status != ledger.BatchStatusExpired {
			continue
		}
		if !b.Remaining.IsPositive() {
			continue
		}
		batchID := b.ID
		switch {
		case b.Status == ledger.BatchStatusExpired || b.IsExpired(now):
			out = append(out, condition{
				batchID:  &batchID,
				typ:      TypeExpired,
				priority: PriorityHigh,
				message: fmt.Sprintf("batch %s expired on %s with %s remaining",
					b.Number, b.ExpiresAt.Format("2006-01-02"), b.Remaining),
			})
		case b.IsExpiringSoon(now, s.expiryWindowDays):
			days, _ := b.DaysUntilExpiry(now)
			out = append(out, condition{
				batchID:  &batchID,
				typ:      TypeExpiringSoon,
				priority: expiryPriority(days),
				message: fmt.Sprintf("batch %s expires in %d days with %s remaining",
					b.Number, days, b.Remaining),
			})
		}
	}
	return out
}

// lowStockPriority ranks by how far stock fell below the reorder level.
func lowStockPriority(stock, reorderLevel types.Quantity) Priority {
	if !reorderLevel.IsPositive() {
		return PriorityLow
	}
	ratio := stock.Float64() / reorderLevel.Float64()
	switch {
	case ratio <= 0.25:
		return PriorityHigh
	case ratio <= 0.5:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func expiryPriority(daysLeft int) Priority {
	switch {
	case daysLeft <= 7:
		return PriorityHigh
	case daysLeft <= 14:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Get retrieves an alert.
func (s *Service) Get(ctx context.Context, alertID id.ID) (*Alert, error) {
	return s.repo.GetByID(ctx, alertID)
}

// List returns alerts matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Alert, error) {
	return s.repo.List(ctx, filter)
}

// Acknowledge moves an active alert to acknowledged. Resolved or already
// acknowledged alerts fail with INVALID_STATE.
func (s *Service) Acknowledge(ctx context.Context, alertID id.ID, by, notes string) (*Alert, error) {
	if by == "" {
		return nil, apperror.NewValidation("acknowledging user is required").
			WithDetail("field", "by")
	}

	var alert *Alert
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, alertID)
		if err != nil {
			return err
		}
		if err := a.Acknowledge(by, notes, s.now()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		alert = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "alert acknowledged", "alert_id", alertID, "by", by)
	return alert, nil
}

// Resolve closes an open alert. Resolution is terminal.
func (s *Service) Resolve(ctx context.Context, alertID id.ID, by, notes string) (*Alert, error) {
	if by == "" {
		return nil, apperror.NewValidation("resolving user is required").
			WithDetail("field", "by")
	}

	var alert *Alert
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetByID(ctx, alertID)
		if err != nil {
			return err
		}
		if err := a.Resolve(&by, notes, s.now()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		alert = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "alert resolved", "alert_id", alertID, "by", by)
	return alert, nil
}
