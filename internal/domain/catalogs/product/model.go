// Package product provides the Product catalog.
// A product carries reorder thresholds and a derived current stock figure;
// the stock itself lives in the batch ledger.
package product

import (
	"context"
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/entity"
	"lotledger/internal/core/types"
)

// Product represents a stocked item.
type Product struct {
	entity.Catalog

	// Unit is the unit of measure (pcs, kg, l)
	Unit string `db:"unit" json:"unit"`

	// ReorderLevel is the stock threshold below which replenishment is recommended
	ReorderLevel types.Quantity `db:"reorder_level" json:"reorderLevel"`

	// ReorderQuantity is the suggested replenishment quantity
	ReorderQuantity types.Quantity `db:"reorder_quantity" json:"reorderQuantity"`

	// MinStockLevel / MaxStockLevel bound the desired stock corridor
	MinStockLevel types.Quantity `db:"min_stock_level" json:"minStockLevel"`
	MaxStockLevel types.Quantity `db:"max_stock_level" json:"maxStockLevel"`

	// CurrentStock is derived: sum of remaining quantity over the product's
	// active batches. Maintained transactionally by the batch ledger; it is
	// never written directly by callers.
	CurrentStock types.Quantity `db:"current_stock" json:"currentStock"`

	// LastUnitCost is the cost of the most recent receipt
	LastUnitCost types.Money `db:"last_unit_cost" json:"lastUnitCost"`

	// AverageUnitCost is the weighted average cost across active batches
	AverageUnitCost types.Money `db:"average_unit_cost" json:"averageUnitCost"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NewProduct creates a new Product with required fields.
func NewProduct(code, name, unit string) *Product {
	now := time.Now().UTC()
	return &Product{
		Catalog:   entity.NewCatalog(code, name),
		Unit:      unit,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate implements entity.Validatable interface.
func (p *Product) Validate(ctx context.Context) error {
	if err := p.Catalog.Validate(ctx); err != nil {
		return err
	}

	if p.Unit == "" {
		return apperror.NewValidation("unit of measure is required").
			WithDetail("field", "unit")
	}

	if p.ReorderLevel.IsNegative() || p.ReorderQuantity.IsNegative() {
		return apperror.NewValidation("reorder thresholds must not be negative").
			WithDetail("field", "reorderLevel")
	}

	if p.MinStockLevel.IsNegative() {
		return apperror.NewValidation("minimum stock level must not be negative").
			WithDetail("field", "minStockLevel")
	}

	if !p.MaxStockLevel.IsZero() && p.MaxStockLevel < p.MinStockLevel {
		return apperror.NewValidation("maximum stock level must not be below minimum").
			WithDetail("field", "maxStockLevel")
	}

	return nil
}

// IsOutOfStock reports whether the product has no stock on hand.
func (p *Product) IsOutOfStock() bool {
	return p.CurrentStock <= 0
}

// IsBelowReorderLevel reports whether stock has fallen to or below the
// reorder threshold. A zero threshold disables the check.
func (p *Product) IsBelowReorderLevel() bool {
	return p.ReorderLevel.IsPositive() && p.CurrentStock <= p.ReorderLevel
}
