package product

import (
	"context"

	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain"
)

// Repository defines the interface for Product persistence.
// Soft-deleted rows are filtered out by implementations unless a filter
// explicitly asks for them.
type Repository interface {
	// Create inserts a new product
	Create(ctx context.Context, p *Product) error

	// GetByID retrieves product by ID
	GetByID(ctx context.Context, productID id.ID) (*Product, error)

	// GetByCode retrieves product by code
	GetByCode(ctx context.Context, code string) (*Product, error)

	// Update modifies existing product (with optimistic locking)
	Update(ctx context.Context, p *Product) error

	// SetDeletionMark sets or clears the soft-delete mark
	SetDeletionMark(ctx context.Context, productID id.ID, marked bool) error

	// List retrieves products with filtering and pagination
	List(ctx context.Context, filter domain.ListFilter) (domain.ListResult[*Product], error)

	// ListActive returns all non-deleted products (used by the alert sweep)
	ListActive(ctx context.Context) ([]*Product, error)

	// Exists checks if product with given ID exists
	Exists(ctx context.Context, productID id.ID) (bool, error)

	// AdjustStock atomically applies a signed delta to current_stock under a
	// row lock and returns the new value. Only the batch ledger calls this.
	AdjustStock(ctx context.Context, productID id.ID, delta types.Quantity) (types.Quantity, error)

	// SetUnitCosts updates the derived last/average unit cost figures.
	SetUnitCosts(ctx context.Context, productID id.ID, last, average types.Money) error
}
