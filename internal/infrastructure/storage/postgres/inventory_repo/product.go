package inventory_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/catalogs/product"
	"lotledger/internal/infrastructure/storage/postgres"
)

const productTable = "products"

// Compile-time check.
var _ product.Repository = (*ProductRepo)(nil)

// ProductRepo is the PostgreSQL implementation of product.Repository.
type ProductRepo struct {
	*BaseRepo[*product.Product]
	txm *postgres.TxManager
}

// NewProductRepo creates a new product repository.
func NewProductRepo(txm *postgres.TxManager) *ProductRepo {
	return &ProductRepo{
		BaseRepo: NewBaseRepo(
			txm,
			productTable,
			postgres.ExtractDBColumns[product.Product](),
			func() *product.Product { return &product.Product{} },
		),
		txm: txm,
	}
}

// Update persists caller-owned attributes with optimistic locking. Derived
// columns (current_stock, last/average unit cost) are owned by the ledger
// write path and never written back here, so a concurrent stock adjustment
// cannot be overwritten by a stale catalog edit.
func (r *ProductRepo) Update(ctx context.Context, p *product.Product) error {
	data := postgres.StructToMap(p)
	delete(data, "id")
	delete(data, "created_at")
	delete(data, "current_stock")
	delete(data, "last_unit_cost")
	delete(data, "average_unit_cost")

	q := r.Builder().
		Update(productTable).
		SetMap(data).
		Where(squirrel.Eq{"id": p.ID}).
		Where(squirrel.Eq{"version": p.Version - 1}) // optimistic lock

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewConcurrentModification(productTable, p.ID)
	}
	return nil
}

// GetByCode retrieves a non-deleted product by code.
func (r *ProductRepo) GetByCode(ctx context.Context, code string) (*product.Product, error) {
	p := &product.Product{}

	q := r.baseSelect().
		Where(squirrel.Eq{"code": code}).
		Where(squirrel.Eq{"deletion_mark": false}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	if err := pgxscan.Get(ctx, r.querier(ctx), p, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(productTable, code)
		}
		return nil, fmt.Errorf("get by code: %w", err)
	}

	return p, nil
}

// ListActive returns all non-deleted products (alert sweep input).
func (r *ProductRepo) ListActive(ctx context.Context) ([]*product.Product, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{"deletion_mark": false}).
		OrderBy("code ASC")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var items []*product.Product
	if err := pgxscan.Select(ctx, r.querier(ctx), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}

	return items, nil
}

// AdjustStock atomically applies a signed delta to current_stock under a
// row lock and returns the new value. Only the batch ledger calls this.
func (r *ProductRepo) AdjustStock(ctx context.Context, productID id.ID, delta types.Quantity) (types.Quantity, error) {
	q := r.Builder().
		Update(productTable).
		Set("current_stock", squirrel.Expr("current_stock + ?", delta)).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": productID}).
		Where(squirrel.Eq{"deletion_mark": false}).
		Suffix("RETURNING current_stock")

	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build adjust stock: %w", err)
	}

	var newStock types.Quantity
	err = r.querier(ctx).QueryRow(ctx, sql, args...).Scan(&newStock)
	if err == pgx.ErrNoRows {
		return 0, apperror.NewNotFound(productTable, productID.String())
	}
	if err != nil {
		return 0, fmt.Errorf("adjust stock: %w", err)
	}

	return newStock, nil
}

// SetUnitCosts updates the derived last/average unit cost figures.
func (r *ProductRepo) SetUnitCosts(ctx context.Context, productID id.ID, last, average types.Money) error {
	q := r.Builder().
		Update(productTable).
		Set("last_unit_cost", last).
		Set("average_unit_cost", average).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": productID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set unit costs: %w", err)
	}

	result, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("set unit costs: %w", err)
	}

	if result.RowsAffected() == 0 {
		return apperror.NewNotFound(productTable, productID.String())
	}

	return nil
}
