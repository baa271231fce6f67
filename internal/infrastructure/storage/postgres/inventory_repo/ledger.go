package inventory_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/infrastructure/storage/postgres"
)

const (
	batchTable       = "batches"
	transactionTable = "inventory_transactions"
)

// bulkCopyThreshold is the row count above which journal inserts switch to
// the COPY protocol.
const bulkCopyThreshold = 50

var transactionCols = postgres.ExtractDBColumns[ledger.Transaction]()

// Compile-time check.
var _ ledger.Repository = (*LedgerRepo)(nil)

// LedgerRepo is the PostgreSQL implementation of ledger.Repository:
// batches plus the append-only inventory journal.
type LedgerRepo struct {
	*BaseRepo[*ledger.Batch]
	txm  *postgres.TxManager
	bulk *postgres.BulkInserter
}

// NewLedgerRepo creates a new ledger repository.
func NewLedgerRepo(txm *postgres.TxManager) *LedgerRepo {
	return &LedgerRepo{
		BaseRepo: NewBaseRepo(
			txm,
			batchTable,
			postgres.ExtractDBColumns[ledger.Batch](),
			func() *ledger.Batch { return &ledger.Batch{} },
		),
		txm:  txm,
		bulk: postgres.NewBulkInserter(txm),
	}
}

// CreateBatch inserts a new batch.
func (r *LedgerRepo) CreateBatch(ctx context.Context, b *ledger.Batch) error {
	return r.Create(ctx, b)
}

// GetBatch retrieves a batch by ID.
func (r *LedgerRepo) GetBatch(ctx context.Context, batchID id.ID) (*ledger.Batch, error) {
	return r.GetByID(ctx, batchID)
}

// GetBatchForUpdate retrieves a batch with a row lock.
// Must be called within a transaction; serializes concurrent consumers.
func (r *LedgerRepo) GetBatchForUpdate(ctx context.Context, batchID id.ID) (*ledger.Batch, error) {
	return r.GetForUpdate(ctx, batchID)
}

// UpdateBatch persists batch mutations with optimistic locking.
func (r *LedgerRepo) UpdateBatch(ctx context.Context, b *ledger.Batch) error {
	return r.Update(ctx, b)
}

// activeBatchesQuery builds the consumable-batch selection in FIFO base
// order: received_at ascending, ties broken by the UUIDv7 primary key.
func (r *LedgerRepo) activeBatchesQuery(productID id.ID) squirrel.SelectBuilder {
	return r.baseSelect().
		Where(squirrel.Eq{"product_id": productID}).
		Where(squirrel.Eq{"deletion_mark": false}).
		Where(squirrel.Eq{"status": ledger.BatchStatusActive}).
		Where(squirrel.Gt{"remaining": 0}).
		OrderBy("received_at ASC", "id ASC")
}

// ActiveBatches returns consumable batches for a product in FIFO base order.
func (r *LedgerRepo) ActiveBatches(ctx context.Context, productID id.ID) ([]ledger.Batch, error) {
	sql, args, err := r.activeBatchesQuery(productID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var batches []ledger.Batch
	if err := pgxscan.Select(ctx, r.querier(ctx), &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("active batches: %w", err)
	}
	return batches, nil
}

// BatchesAsOf returns batches received on or before asOf, FIFO order,
// regardless of remaining quantity (valuation input).
func (r *LedgerRepo) BatchesAsOf(ctx context.Context, productID id.ID, asOf time.Time) ([]ledger.Batch, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{"product_id": productID}).
		Where(squirrel.Eq{"deletion_mark": false}).
		Where(squirrel.LtOrEq{"received_at": asOf}).
		OrderBy("received_at ASC", "id ASC")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var batches []ledger.Batch
	if err := pgxscan.Select(ctx, r.querier(ctx), &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("batches as of: %w", err)
	}
	return batches, nil
}

// ListBatchesByProduct returns all non-deleted batches for a product.
func (r *LedgerRepo) ListBatchesByProduct(ctx context.Context, productID id.ID) ([]ledger.Batch, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{"product_id": productID}).
		Where(squirrel.Eq{"deletion_mark": false}).
		OrderBy("received_at ASC", "id ASC")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var batches []ledger.Batch
	if err := pgxscan.Select(ctx, r.querier(ctx), &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batches, nil
}

// ExpiringBatches returns consumable batches across all products whose
// expiry date falls on or before the deadline.
func (r *LedgerRepo) ExpiringBatches(ctx context.Context, deadline time.Time) ([]ledger.Batch, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{"deletion_mark": false}).
		Where(squirrel.Eq{"status": ledger.BatchStatusActive}).
		Where(squirrel.Gt{"remaining": 0}).
		Where(squirrel.NotEq{"expires_at": nil}).
		Where(squirrel.LtOrEq{"expires_at": deadline}).
		OrderBy("expires_at ASC", "id ASC")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var batches []ledger.Batch
	if err := pgxscan.Select(ctx, r.querier(ctx), &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("expiring batches: %w", err)
	}
	return batches, nil
}

// CreateTransactions batch-inserts journal rows. Large batches go through
// the COPY protocol.
func (r *LedgerRepo) CreateTransactions(ctx context.Context, txns []*ledger.Transaction) error {
	if len(txns) == 0 {
		return nil
	}

	if len(txns) >= bulkCopyThreshold {
		return r.copyTransactions(ctx, txns)
	}

	q := r.Builder().
		Insert(transactionTable).
		Columns(transactionCols...)
	for _, t := range txns {
		data := postgres.StructToMap(t)
		row := make([]any, len(transactionCols))
		for i, col := range transactionCols {
			row[i] = data[col]
		}
		q = q.Values(row...)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert transactions: %w", err)
	}
	return nil
}

func (r *LedgerRepo) copyTransactions(ctx context.Context, txns []*ledger.Transaction) error {
	rows := make([][]any, 0, len(txns))
	for _, t := range txns {
		data := postgres.StructToMap(t)
		row := make([]any, len(transactionCols))
		for i, col := range transactionCols {
			row[i] = data[col]
		}
		rows = append(rows, row)
	}

	if _, err := r.bulk.CopyFromSlice(ctx, transactionTable, transactionCols, rows); err != nil {
		return fmt.Errorf("copy transactions: %w", err)
	}
	return nil
}

// transactionsQuery builds the journal history selection, newest first.
func (r *LedgerRepo) transactionsQuery(productID id.ID, filter ledger.TransactionFilter) squirrel.SelectBuilder {
	q := r.Builder().
		Select(transactionCols...).
		From(transactionTable).
		Where(squirrel.Eq{"product_id": productID}).
		Where(squirrel.Eq{"active": true})

	if filter.BatchID != nil {
		q = q.Where(squirrel.Eq{"batch_id": *filter.BatchID})
	}
	if filter.Type != nil {
		q = q.Where(squirrel.Eq{"type": *filter.Type})
	}
	if filter.FromDate != nil {
		q = q.Where(squirrel.GtOrEq{"occurred_at": *filter.FromDate})
	}
	if filter.ToDate != nil {
		q = q.Where(squirrel.LtOrEq{"occurred_at": *filter.ToDate})
	}

	q = q.OrderBy("occurred_at DESC", "id DESC")

	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	return q
}

// TransactionsByProduct returns journal history, newest first.
func (r *LedgerRepo) TransactionsByProduct(ctx context.Context, productID id.ID, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	sql, args, err := r.transactionsQuery(productID, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var txns []ledger.Transaction
	if err := pgxscan.Select(ctx, r.querier(ctx), &txns, sql, args...); err != nil {
		return nil, fmt.Errorf("transactions by product: %w", err)
	}
	return txns, nil
}

// DeactivateTransaction soft-deactivates a journal row. Rows are never
// physically deleted.
func (r *LedgerRepo) DeactivateTransaction(ctx context.Context, txnID id.ID) error {
	q := r.Builder().
		Update(transactionTable).
		Set("active", false).
		Where(squirrel.Eq{"id": txnID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build deactivate: %w", err)
	}

	result, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("deactivate transaction: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewNotFound(transactionTable, txnID.String())
	}
	return nil
}
