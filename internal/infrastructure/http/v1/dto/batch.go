package dto

import (
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/ledger"
)

// AddBatchRequest for goods receipts.
type AddBatchRequest struct {
	ProductID      string     `json:"productId" binding:"required"`
	Number         string     `json:"number"`
	Quantity       float64    `json:"quantity" binding:"required,gt=0"`
	CostPerUnit    float64    `json:"costPerUnit" binding:"min=0"`
	ReceivedAt     *time.Time `json:"receivedAt"`
	ManufacturedAt *time.Time `json:"manufacturedAt"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	Quality        string     `json:"quality"`
	ReferenceType  string     `json:"referenceType"`
	ReferenceID    *string    `json:"referenceId"`
}

// ToInput converts the request to ledger input.
func (r AddBatchRequest) ToInput() (ledger.AddBatchInput, error) {
	productID, err := id.Parse(r.ProductID)
	if err != nil {
		return ledger.AddBatchInput{}, apperror.NewValidation("invalid productId format")
	}

	in := ledger.AddBatchInput{
		ProductID:      productID,
		Number:         r.Number,
		Quantity:       types.NewQuantityFromFloat64(r.Quantity),
		CostPerUnit:    types.NewMoney(r.CostPerUnit),
		ManufacturedAt: r.ManufacturedAt,
		ExpiresAt:      r.ExpiresAt,
		Reference:      ledger.Reference{Type: r.ReferenceType},
	}
	if r.ReceivedAt != nil {
		in.ReceivedAt = *r.ReceivedAt
	}
	if r.Quality != "" {
		quality, err := ledger.ParseQuality(r.Quality)
		if err != nil {
			return ledger.AddBatchInput{}, err
		}
		in.Quality = quality
	}
	if r.ReferenceID != nil {
		refID, err := id.Parse(*r.ReferenceID)
		if err != nil {
			return ledger.AddBatchInput{}, apperror.NewValidation("invalid referenceId format")
		}
		in.Reference.ID = &refID
	}
	return in, nil
}

// ConsumeRequest draws quantity from a single batch.
type ConsumeRequest struct {
	Quantity      float64 `json:"quantity" binding:"required,gt=0"`
	ReferenceType string  `json:"referenceType"`
	ReferenceID   *string `json:"referenceId"`
}

// Reference builds the journal reference for the consumption.
func (r ConsumeRequest) Reference() (ledger.Reference, error) {
	ref := ledger.Reference{Type: r.ReferenceType}
	if r.ReferenceID != nil {
		refID, err := id.Parse(*r.ReferenceID)
		if err != nil {
			return ref, apperror.NewValidation("invalid referenceId format")
		}
		ref.ID = &refID
	}
	return ref, nil
}

// BatchResponse contains batch fields.
type BatchResponse struct {
	ID             string               `json:"id"`
	ProductID      string               `json:"productId"`
	Number         string               `json:"number"`
	Quantity       types.Quantity       `json:"quantity"`
	Remaining      types.Quantity       `json:"remaining"`
	CostPerUnit    types.Money          `json:"costPerUnit"`
	ReceivedAt     time.Time            `json:"receivedAt"`
	ManufacturedAt *time.Time           `json:"manufacturedAt,omitempty"`
	ExpiresAt      *time.Time           `json:"expiresAt,omitempty"`
	Quality        ledger.QualityStatus `json:"quality"`
	Status         ledger.BatchStatus   `json:"status"`
	Version        int                  `json:"version"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// FromBatch creates BatchResponse from a batch entity.
func FromBatch(b *ledger.Batch) BatchResponse {
	return BatchResponse{
		ID:             b.ID.String(),
		ProductID:      b.ProductID.String(),
		Number:         b.Number,
		Quantity:       b.Quantity,
		Remaining:      b.Remaining,
		CostPerUnit:    b.CostPerUnit,
		ReceivedAt:     b.ReceivedAt,
		ManufacturedAt: b.ManufacturedAt,
		ExpiresAt:      b.ExpiresAt,
		Quality:        b.Quality,
		Status:         b.Status,
		Version:        b.Version,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

// BatchListResponse wraps a batch list.
type BatchListResponse struct {
	Items []BatchResponse `json:"items"`
	Order ledger.Order    `json:"order"`
}

// TransactionListResponse wraps journal history.
type TransactionListResponse struct {
	Items []ledger.Transaction `json:"items"`
}
