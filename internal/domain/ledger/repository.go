package ledger

import (
	"context"
	"time"

	"lotledger/internal/core/id"
)

// Repository defines persistence operations for batches and the inventory
// journal. Implementations filter soft-deleted rows so callers only ever see
// active entities.
type Repository interface {
	// Batch operations

	// CreateBatch inserts a new batch
	CreateBatch(ctx context.Context, b *Batch) error

	// GetBatch retrieves a batch by ID
	GetBatch(ctx context.Context, batchID id.ID) (*Batch, error)

	// GetBatchForUpdate retrieves a batch with a row lock.
	// Must be called within a transaction; serializes concurrent consumers.
	GetBatchForUpdate(ctx context.Context, batchID id.ID) (*Batch, error)

	// UpdateBatch persists batch mutations with optimistic locking.
	// Returns CONCURRENT_MODIFICATION when the stored version moved on.
	UpdateBatch(ctx context.Context, b *Batch) error

	// ActiveBatches returns consumable batches (status active, not deleted,
	// remaining > 0) for a product in FIFO base order: received_at ascending,
	// ties broken by the UUIDv7 primary key.
	ActiveBatches(ctx context.Context, productID id.ID) ([]Batch, error)

	// BatchesAsOf returns batches received on or before asOf, FIFO order,
	// regardless of remaining quantity (valuation input).
	BatchesAsOf(ctx context.Context, productID id.ID, asOf time.Time) ([]Batch, error)

	// ListBatchesByProduct returns all non-deleted batches for a product.
	ListBatchesByProduct(ctx context.Context, productID id.ID) ([]Batch, error)

	// ExpiringBatches returns consumable batches across all products whose
	// expiry date falls on or before the deadline (alert sweep input).
	ExpiringBatches(ctx context.Context, deadline time.Time) ([]Batch, error)

	// Journal operations

	// CreateTransactions batch-inserts journal rows (used within the write
	// transaction so plan application stays atomic).
	CreateTransactions(ctx context.Context, txns []*Transaction) error

	// TransactionsByProduct returns journal history, newest first.
	TransactionsByProduct(ctx context.Context, productID id.ID, filter TransactionFilter) ([]Transaction, error)

	// DeactivateTransaction soft-deactivates a journal row (reversals only;
	// rows are never physically deleted).
	DeactivateTransaction(ctx context.Context, txnID id.ID) error
}
