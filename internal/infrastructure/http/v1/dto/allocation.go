package dto

import (
	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/allocation"
	"lotledger/internal/domain/ledger"
)

// AllocationRequest plans or issues stock against ordered batches.
type AllocationRequest struct {
	ProductID     string  `json:"productId" binding:"required"`
	Quantity      float64 `json:"quantity" binding:"required,gt=0"`
	Order         string  `json:"order"`
	AllowPartial  bool    `json:"allowPartial"`
	ReferenceType string  `json:"referenceType"`
	ReferenceID   *string `json:"referenceId"`
}

// ToIssueInput converts the request to engine input.
func (r AllocationRequest) ToIssueInput() (allocation.IssueInput, error) {
	productID, err := id.Parse(r.ProductID)
	if err != nil {
		return allocation.IssueInput{}, apperror.NewValidation("invalid productId format")
	}

	order, err := ledger.ParseOrder(r.Order)
	if err != nil {
		return allocation.IssueInput{}, err
	}

	in := allocation.IssueInput{
		ProductID:    productID,
		Quantity:     types.NewQuantityFromFloat64(r.Quantity),
		Order:        order,
		AllowPartial: r.AllowPartial,
		Reference:    ledger.Reference{Type: r.ReferenceType},
	}
	if r.ReferenceID != nil {
		refID, err := id.Parse(*r.ReferenceID)
		if err != nil {
			return allocation.IssueInput{}, apperror.NewValidation("invalid referenceId format")
		}
		in.Reference.ID = &refID
	}
	return in, nil
}
