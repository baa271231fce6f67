package product

import (
	"context"
	"fmt"
	"time"

	"lotledger/internal/core/id"
	"lotledger/internal/core/tx"
	"lotledger/internal/domain"
	"lotledger/pkg/logger"
	"lotledger/pkg/numerator"
)

// BatchDeactivator is implemented by the batch ledger. Deleting a product
// cascades into deactivation of its batches so no orphaned stock remains.
type BatchDeactivator interface {
	DeactivateProductBatches(ctx context.Context, productID id.ID) error
}

// Service provides business operations for the product catalog.
type Service struct {
	repo      Repository
	numerator *numerator.Service
	txManager tx.Manager
	batches   BatchDeactivator // optional, wired after ledger construction
}

// NewService creates a new product service.
func NewService(repo Repository, num *numerator.Service, txManager tx.Manager) *Service {
	return &Service{
		repo:      repo,
		numerator: num,
		txManager: txManager,
	}
}

// SetBatchDeactivator wires the ledger-side cascade. Called once during
// startup after both services exist.
func (s *Service) SetBatchDeactivator(d BatchDeactivator) {
	s.batches = d
}

// Create creates a new product, generating a code when none is provided.
func (s *Service) Create(ctx context.Context, p *Product) error {
	if err := p.Validate(ctx); err != nil {
		return err
	}

	if p.Code == "" {
		code, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig("P"), nil, time.Now())
		if err != nil {
			return fmt.Errorf("generate code: %w", err)
		}
		p.Code = code
	}

	if err := s.repo.Create(ctx, p); err != nil {
		return fmt.Errorf("create product: %w", err)
	}

	logger.Info(ctx, "product created", "id", p.ID, "code", p.Code)
	return nil
}

// GetByID retrieves a product.
func (s *Service) GetByID(ctx context.Context, productID id.ID) (*Product, error) {
	return s.repo.GetByID(ctx, productID)
}

// Update updates product attributes. Derived fields (current stock, unit
// costs) are owned by the ledger and preserved by the repository.
func (s *Service) Update(ctx context.Context, p *Product) error {
	if err := p.Validate(ctx); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	return s.repo.Update(ctx, p)
}

// Delete soft-deletes a product and deactivates its batches in the same
// transaction, compensating current stock down to zero.
func (s *Service) Delete(ctx context.Context, productID id.ID) error {
	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if s.batches != nil {
			if err := s.batches.DeactivateProductBatches(ctx, productID); err != nil {
				return fmt.Errorf("deactivate batches: %w", err)
			}
		}
		if err := s.repo.SetDeletionMark(ctx, productID, true); err != nil {
			return fmt.Errorf("mark deleted: %w", err)
		}
		logger.Info(ctx, "product deleted", "id", productID)
		return nil
	})
}

// List retrieves products with filtering.
func (s *Service) List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*Product], error) {
	return s.repo.List(ctx, filter)
}
