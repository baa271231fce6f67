package alerts

import (
	"context"

	"lotledger/internal/core/id"
)

// Repository persists stock alerts.
type Repository interface {
	// Create inserts a new alert.
	Create(ctx context.Context, a *Alert) error

	// GetByID retrieves an alert.
	GetByID(ctx context.Context, alertID id.ID) (*Alert, error)

	// Update persists lifecycle mutations.
	Update(ctx context.Context, a *Alert) error

	// FindOpen returns the non-resolved alert for the dedup key
	// (product, batch, type), or nil when none exists.
	FindOpen(ctx context.Context, productID id.ID, batchID *id.ID, alertType AlertType) (*Alert, error)

	// OpenByProduct returns all non-resolved alerts for a product.
	OpenByProduct(ctx context.Context, productID id.ID) ([]*Alert, error)

	// List returns alerts matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Alert, error)
}
