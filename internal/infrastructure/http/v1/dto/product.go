package dto

import (
	"time"

	"lotledger/internal/core/types"
	"lotledger/internal/domain/catalogs/product"
)

// CreateProductRequest for creating products.
type CreateProductRequest struct {
	Code            string  `json:"code"`
	Name            string  `json:"name" binding:"required"`
	Unit            string  `json:"unit" binding:"required"`
	ReorderLevel    float64 `json:"reorderLevel" binding:"min=0"`
	ReorderQuantity float64 `json:"reorderQuantity" binding:"min=0"`
	MinStockLevel   float64 `json:"minStockLevel" binding:"min=0"`
	MaxStockLevel   float64 `json:"maxStockLevel" binding:"min=0"`
}

// ToEntity converts the request to a new Product.
func (r CreateProductRequest) ToEntity() *product.Product {
	p := product.NewProduct(r.Code, r.Name, r.Unit)
	p.ReorderLevel = types.NewQuantityFromFloat64(r.ReorderLevel)
	p.ReorderQuantity = types.NewQuantityFromFloat64(r.ReorderQuantity)
	p.MinStockLevel = types.NewQuantityFromFloat64(r.MinStockLevel)
	p.MaxStockLevel = types.NewQuantityFromFloat64(r.MaxStockLevel)
	return p
}

// UpdateProductRequest for updating product attributes. Derived fields
// (current stock, unit costs) are owned by the ledger and not accepted here.
type UpdateProductRequest struct {
	Name            *string  `json:"name"`
	Unit            *string  `json:"unit"`
	ReorderLevel    *float64 `json:"reorderLevel"`
	ReorderQuantity *float64 `json:"reorderQuantity"`
	MinStockLevel   *float64 `json:"minStockLevel"`
	MaxStockLevel   *float64 `json:"maxStockLevel"`
	Version         int      `json:"version" binding:"required,min=1"`
}

// Apply copies the provided fields onto the product.
func (r UpdateProductRequest) Apply(p *product.Product) {
	if r.Name != nil {
		p.Name = *r.Name
	}
	if r.Unit != nil {
		p.Unit = *r.Unit
	}
	if r.ReorderLevel != nil {
		p.ReorderLevel = types.NewQuantityFromFloat64(*r.ReorderLevel)
	}
	if r.ReorderQuantity != nil {
		p.ReorderQuantity = types.NewQuantityFromFloat64(*r.ReorderQuantity)
	}
	if r.MinStockLevel != nil {
		p.MinStockLevel = types.NewQuantityFromFloat64(*r.MinStockLevel)
	}
	if r.MaxStockLevel != nil {
		p.MaxStockLevel = types.NewQuantityFromFloat64(*r.MaxStockLevel)
	}
}

// ProductResponse contains product fields.
type ProductResponse struct {
	ID              string         `json:"id"`
	Code            string         `json:"code"`
	Name            string         `json:"name"`
	Unit            string         `json:"unit"`
	ReorderLevel    types.Quantity `json:"reorderLevel"`
	ReorderQuantity types.Quantity `json:"reorderQuantity"`
	MinStockLevel   types.Quantity `json:"minStockLevel"`
	MaxStockLevel   types.Quantity `json:"maxStockLevel"`
	CurrentStock    types.Quantity `json:"currentStock"`
	LastUnitCost    types.Money    `json:"lastUnitCost"`
	AverageUnitCost types.Money    `json:"averageUnitCost"`
	Version         int            `json:"version"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// FromProduct creates ProductResponse from a product entity.
func FromProduct(p *product.Product) ProductResponse {
	return ProductResponse{
		ID:              p.ID.String(),
		Code:            p.Code,
		Name:            p.Name,
		Unit:            p.Unit,
		ReorderLevel:    p.ReorderLevel,
		ReorderQuantity: p.ReorderQuantity,
		MinStockLevel:   p.MinStockLevel,
		MaxStockLevel:   p.MaxStockLevel,
		CurrentStock:    p.CurrentStock,
		LastUnitCost:    p.LastUnitCost,
		AverageUnitCost: p.AverageUnitCost,
		Version:         p.Version,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}
