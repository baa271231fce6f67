package inventory_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/domain/alerts"
	"lotledger/internal/infrastructure/storage/postgres"
)

const alertTable = "stock_alerts"

var alertCols = postgres.ExtractDBColumns[alerts.Alert]()

// openStatuses are the statuses the dedup lookup considers live.
var openStatuses = []alerts.Status{alerts.StatusActive, alerts.StatusAcknowledged}

var _ alerts.Repository = (*AlertRepo)(nil)

// AlertRepo is the PostgreSQL implementation of alerts.Repository.
// Alerts have no soft-delete; resolved rows stay queryable as history.
type AlertRepo struct {
	txm *postgres.TxManager
}

// NewAlertRepo creates a new alert repository.
func NewAlertRepo(txm *postgres.TxManager) *AlertRepo {
	return &AlertRepo{txm: txm}
}

func (r *AlertRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *AlertRepo) querier(ctx context.Context) postgres.Querier {
	return r.txm.GetQuerier(ctx)
}

func (r *AlertRepo) baseSelect() squirrel.SelectBuilder {
	return r.builder().Select(alertCols...).From(alertTable)
}

// Create inserts a new alert.
func (r *AlertRepo) Create(ctx context.Context, a *alerts.Alert) error {
	data := postgres.StructToMap(a)

	q := r.builder().
		Insert(alertTable).
		SetMap(data)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// GetByID retrieves an alert.
func (r *AlertRepo) GetByID(ctx context.Context, alertID id.ID) (*alerts.Alert, error) {
	sql, args, err := r.baseSelect().Where(squirrel.Eq{"id": alertID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var a alerts.Alert
	if err := pgxscan.Get(ctx, r.querier(ctx), &a, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("alert", alertID.String())
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return &a, nil
}

// Update persists lifecycle mutations.
func (r *AlertRepo) Update(ctx context.Context, a *alerts.Alert) error {
	data := postgres.StructToMap(a)
	delete(data, "id")
	delete(data, "created_at")

	q := r.builder().
		Update(alertTable).
		SetMap(data).
		Where(squirrel.Eq{"id": a.ID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.querier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewNotFound("alert", a.ID.String())
	}
	return nil
}

// findOpenQuery builds the dedup-key lookup. A nil batchID matches the
// product-level alert row (batch_id IS NULL).
func (r *AlertRepo) findOpenQuery(productID id.ID, batchID *id.ID, alertType alerts.AlertType) squirrel.SelectBuilder {
	return r.baseSelect().
		Where(squirrel.Eq{"product_id": productID}).
		Where(squirrel.Eq{"batch_id": batchID}).
		Where(squirrel.Eq{"alert_type": alertType}).
		Where(squirrel.Eq{"status": openStatuses}).
		Limit(1)
}

// FindOpen returns the non-resolved alert for the dedup key
// (product, batch, type), or nil when none exists.
func (r *AlertRepo) FindOpen(ctx context.Context, productID id.ID, batchID *id.ID, alertType alerts.AlertType) (*alerts.Alert, error) {
	sql, args, err := r.findOpenQuery(productID, batchID, alertType).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var a alerts.Alert
	if err := pgxscan.Get(ctx, r.querier(ctx), &a, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open alert: %w", err)
	}
	return &a, nil
}

// OpenByProduct returns all non-resolved alerts for a product.
func (r *AlertRepo) OpenByProduct(ctx context.Context, productID id.ID) ([]*alerts.Alert, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{"product_id": productID}).
		Where(squirrel.Eq{"status": openStatuses}).
		OrderBy("created_at DESC")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var list []*alerts.Alert
	if err := pgxscan.Select(ctx, r.querier(ctx), &list, sql, args...); err != nil {
		return nil, fmt.Errorf("open alerts: %w", err)
	}
	return list, nil
}

func (r *AlertRepo) listQuery(filter alerts.ListFilter) squirrel.SelectBuilder {
	q := r.baseSelect()

	if filter.ProductID != nil {
		q = q.Where(squirrel.Eq{"product_id": *filter.ProductID})
	}
	if filter.Type != nil {
		q = q.Where(squirrel.Eq{"alert_type": *filter.Type})
	}
	if filter.Status != nil {
		q = q.Where(squirrel.Eq{"status": *filter.Status})
	}
	if filter.Priority != nil {
		q = q.Where(squirrel.Eq{"priority": *filter.Priority})
	}

	q = q.OrderBy("created_at DESC", "id DESC")

	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}
	return q
}

// List returns alerts matching the filter, newest first.
func (r *AlertRepo) List(ctx context.Context, filter alerts.ListFilter) ([]*alerts.Alert, error) {
	sql, args, err := r.listQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var list []*alerts.Alert
	if err := pgxscan.Select(ctx, r.querier(ctx), &list, sql, args...); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return list, nil
}
