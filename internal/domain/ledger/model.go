// Package ledger provides the batch ledger: the authoritative record of
// remaining stock per batch per product. It is the only component allowed to
// mutate remaining quantity and batch status.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/entity"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
)

// BatchStatus defines the batch lifecycle state.
type BatchStatus string

const (
	BatchStatusActive   BatchStatus = "active"
	BatchStatusConsumed BatchStatus = "consumed"
	BatchStatusExpired  BatchStatus = "expired"
	BatchStatusDamaged  BatchStatus = "damaged"
	BatchStatusReturned BatchStatus = "returned"
)

// QualityStatus defines the quality-control state of a batch.
type QualityStatus string

const (
	QualityPending    QualityStatus = "pending"
	QualityPassed     QualityStatus = "passed"
	QualityFailed     QualityStatus = "failed"
	QualityQuarantine QualityStatus = "quarantine"
)

// ParseQuality validates a quality status string.
func ParseQuality(s string) (QualityStatus, error) {
	switch QualityStatus(s) {
	case QualityPending, QualityPassed, QualityFailed, QualityQuarantine:
		return QualityStatus(s), nil
	case "":
		return QualityPending, nil
	default:
		return "", apperror.NewValidation("unknown quality status").
			WithDetail("quality", s)
	}
}

// Order defines a batch consumption ordering policy.
type Order string

const (
	// OrderFIFO walks batches oldest receipt first.
	OrderFIFO Order = "fifo"
	// OrderLIFO is the exact reverse of FIFO. It is produced by reversing
	// the FIFO sequence, never by an independent sort, so the two orderings
	// are complementary by construction.
	OrderLIFO Order = "lifo"
)

// ParseOrder validates an ordering policy string.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case OrderFIFO, OrderLIFO:
		return Order(s), nil
	case "":
		return OrderFIFO, nil
	default:
		return "", apperror.NewValidation("unknown ordering policy").
			WithDetail("policy", s)
	}
}

// Batch is a discrete receipt of stock with its own cost and expiry,
// consumed independently of other receipts.
type Batch struct {
	entity.BaseRecord

	// ProductID is the owning product (batches never move between products)
	ProductID id.ID `db:"product_id" json:"productId"`

	// Number is the batch number, unique per product
	Number string `db:"number" json:"number"`

	// Quantity is the originally received quantity (immutable)
	Quantity types.Quantity `db:"quantity" json:"quantity"`

	// Remaining is the still-unconsumed quantity: 0 <= Remaining <= Quantity
	Remaining types.Quantity `db:"remaining" json:"remaining"`

	// CostPerUnit is the acquisition cost per unit
	CostPerUnit types.Money `db:"cost_per_unit" json:"costPerUnit"`

	// ReceivedAt is the goods receipt date; primary FIFO sort key.
	// Ties are broken by the UUIDv7 primary key (insertion order).
	ReceivedAt time.Time `db:"received_at" json:"receivedAt"`

	// ManufacturedAt is the optional manufacturing date
	ManufacturedAt *time.Time `db:"manufactured_at" json:"manufacturedAt,omitempty"`

	// ExpiresAt is the optional expiry date
	ExpiresAt *time.Time `db:"expires_at" json:"expiresAt,omitempty"`

	Quality QualityStatus `db:"quality" json:"quality"`
	Status  BatchStatus   `db:"status" json:"status"`
}

// NewBatch creates an active batch for a goods receipt.
func NewBatch(productID id.ID, number string, quantity types.Quantity, costPerUnit types.Money, receivedAt time.Time) *Batch {
	return &Batch{
		BaseRecord:  entity.NewBaseRecord(),
		ProductID:   productID,
		Number:      number,
		Quantity:    quantity,
		Remaining:   quantity,
		CostPerUnit: costPerUnit,
		ReceivedAt:  receivedAt,
		Quality:     QualityPending,
		Status:      BatchStatusActive,
	}
}

// Validate implements entity.Validatable.
func (b *Batch) Validate(ctx context.Context) error {
	if id.IsNil(b.ProductID) {
		return apperror.NewValidation("product is required").
			WithDetail("field", "productId")
	}
	if !b.Quantity.IsPositive() {
		return apperror.NewValidation("quantity must be positive").
			WithDetail("field", "quantity")
	}
	if b.Remaining.IsNegative() || b.Remaining > b.Quantity {
		return apperror.NewValidation("remaining quantity out of range").
			WithDetail("field", "remaining")
	}
	if b.CostPerUnit.IsNegative() {
		return apperror.NewValidation("cost per unit must not be negative").
			WithDetail("field", "costPerUnit")
	}
	if b.ReceivedAt.IsZero() {
		return apperror.NewValidation("received date is required").
			WithDetail("field", "receivedAt")
	}
	if b.ExpiresAt != nil && b.ExpiresAt.Before(b.ReceivedAt) {
		return apperror.NewValidation("expiry date precedes received date").
			WithDetail("field", "expiresAt")
	}
	return nil
}

// IsConsumable reports whether the batch can still be drawn from.
func (b *Batch) IsConsumable() bool {
	return !b.DeletionMark && b.Status == BatchStatusActive && b.Remaining.IsPositive()
}

// IsExpired reports whether the batch's expiry date has passed.
func (b *Batch) IsExpired(now time.Time) bool {
	return b.ExpiresAt != nil && b.ExpiresAt.Before(now)
}

// IsExpiringSoon reports whether the batch expires within the given window.
func (b *Batch) IsExpiringSoon(now time.Time, windowDays int) bool {
	if b.ExpiresAt == nil || b.IsExpired(now) {
		return false
	}
	return !b.ExpiresAt.After(now.AddDate(0, 0, windowDays))
}

// DaysUntilExpiry returns whole days until expiry (negative when past).
// The second return is false when the batch carries no expiry date.
func (b *Batch) DaysUntilExpiry(now time.Time) (int, bool) {
	if b.ExpiresAt == nil {
		return 0, false
	}
	return int(b.ExpiresAt.Sub(now).Hours() / 24), true
}

// UtilizationPercent returns the consumed share of the original quantity,
// as a percentage: (quantity - remaining) / quantity * 100.
func (b *Batch) UtilizationPercent() decimal.Decimal {
	if !b.Quantity.IsPositive() {
		return decimal.Zero
	}
	consumed := b.Quantity - b.Remaining
	return consumed.Decimal().
		Div(b.Quantity.Decimal()).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}

// TransactionType defines the direction of an inventory transaction.
type TransactionType string

const (
	TransactionIn         TransactionType = "in"
	TransactionOut        TransactionType = "out"
	TransactionAdjustment TransactionType = "adjustment"
)

// Reference links a ledger mutation to its originating business document
// (purchase receipt, sales order, production run, manual adjustment).
type Reference struct {
	Type string `json:"type,omitempty"`
	ID   *id.ID `json:"id,omitempty"`
}

// Transaction is one row of the append-only inventory journal.
// Journal rows are never physically deleted; reversals deactivate them and
// write a compensating row, preserving the audit trail.
type Transaction struct {
	ID        id.ID           `db:"id" json:"id"`
	ProductID id.ID           `db:"product_id" json:"productId"`
	BatchID   *id.ID          `db:"batch_id" json:"batchId,omitempty"`
	Type      TransactionType `db:"type" json:"type"`

	// Quantity is signed: positive inward, negative outward
	Quantity types.Quantity `db:"quantity" json:"quantity"`

	ReferenceType string `db:"reference_type" json:"referenceType,omitempty"`
	ReferenceID   *id.ID `db:"reference_id" json:"referenceId,omitempty"`

	// RunningBalance snapshots product stock after this transaction
	RunningBalance types.Quantity `db:"running_balance" json:"runningBalance"`

	OccurredAt time.Time `db:"occurred_at" json:"occurredAt"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// NewTransaction creates a journal row with generated ID.
func NewTransaction(productID id.ID, batchID *id.ID, txType TransactionType, quantity, runningBalance types.Quantity, ref Reference) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		ID:             id.New(),
		ProductID:      productID,
		BatchID:        batchID,
		Type:           txType,
		Quantity:       quantity,
		ReferenceType:  ref.Type,
		ReferenceID:    ref.ID,
		RunningBalance: runningBalance,
		OccurredAt:     now,
		Active:         true,
		CreatedAt:      now,
	}
}

// TransactionFilter narrows journal history queries.
type TransactionFilter struct {
	BatchID  *id.ID
	Type     *TransactionType
	FromDate *time.Time
	ToDate   *time.Time
	Limit    int
	Offset   int
}
