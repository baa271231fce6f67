// Package alerts detects threshold-breach conditions on products and
// batches and owns the stock alert lifecycle.
package alerts

import (
	"time"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
)

// AlertType classifies the breached condition.
type AlertType string

const (
	TypeLowStock     AlertType = "low_stock"
	TypeOutOfStock   AlertType = "out_of_stock"
	TypeExpiringSoon AlertType = "expiring_soon"
	TypeExpired      AlertType = "expired"
)

// Priority ranks how urgently an alert needs attention.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Status is the alert lifecycle state.
// Transitions: active -> acknowledged -> resolved, plus active -> resolved
// when the condition self-heals. resolved is terminal.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Alert records one threshold breach for a product or batch.
// At most one non-resolved alert exists per (product, batch, type).
type Alert struct {
	ID        id.ID     `db:"id" json:"id"`
	ProductID id.ID     `db:"product_id" json:"productId"`
	BatchID   *id.ID    `db:"batch_id" json:"batchId,omitempty"`
	Type      AlertType `db:"alert_type" json:"alertType"`
	Priority  Priority  `db:"priority" json:"priority"`
	Status    Status    `db:"status" json:"status"`
	Message   string    `db:"message" json:"message"`

	// Attribution. Nil ResolvedBy on a resolved alert marks a
	// system-resolved (self-healed) condition.
	AcknowledgedBy  *string    `db:"acknowledged_by" json:"acknowledgedBy,omitempty"`
	AcknowledgedAt  *time.Time `db:"acknowledged_at" json:"acknowledgedAt,omitempty"`
	ResolvedBy      *string    `db:"resolved_by" json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time `db:"resolved_at" json:"resolvedAt,omitempty"`
	ResolutionNotes string     `db:"resolution_notes" json:"resolutionNotes,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NewAlert creates an active alert.
func NewAlert(productID id.ID, batchID *id.ID, alertType AlertType, priority Priority, message string) *Alert {
	now := time.Now().UTC()
	return &Alert{
		ID:        id.New(),
		ProductID: productID,
		BatchID:   batchID,
		Type:      alertType,
		Priority:  priority,
		Status:    StatusActive,
		Message:   message,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsOpen reports whether the alert still needs attention.
func (a *Alert) IsOpen() bool {
	return a.Status == StatusActive || a.Status == StatusAcknowledged
}

// Acknowledge moves an active alert to acknowledged.
func (a *Alert) Acknowledge(by, notes string, now time.Time) error {
	if a.Status != StatusActive {
		return apperror.NewInvalidState("alert", a.ID.String(),
			"only active alerts can be acknowledged")
	}
	a.Status = StatusAcknowledged
	a.AcknowledgedBy = &by
	at := now
	a.AcknowledgedAt = &at
	if notes != "" {
		a.ResolutionNotes = notes
	}
	a.UpdatedAt = now
	return nil
}

// Resolve closes the alert. A nil by marks a system resolution.
func (a *Alert) Resolve(by *string, notes string, now time.Time) error {
	if a.Status == StatusResolved {
		return apperror.NewInvalidState("alert", a.ID.String(),
			"alert is already resolved")
	}
	a.Status = StatusResolved
	a.ResolvedBy = by
	at := now
	a.ResolvedAt = &at
	a.ResolutionNotes = notes
	a.UpdatedAt = now
	return nil
}

// ListFilter narrows alert queries.
type ListFilter struct {
	ProductID *id.ID
	Type      *AlertType
	Status    *Status
	Priority  *Priority
	Limit     int
	Offset    int
}
