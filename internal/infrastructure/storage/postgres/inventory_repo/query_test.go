package inventory_repo

import (
	"strings"
	"testing"

	"lotledger/internal/core/id"
	"lotledger/internal/domain/alerts"
	"lotledger/internal/domain/ledger"
	"lotledger/internal/infrastructure/storage/postgres"
)

func batchSelectPrefix() string {
	return "SELECT " + strings.Join(postgres.ExtractDBColumns[ledger.Batch](), ", ") + " FROM batches"
}

func TestActiveBatchesQuery(t *testing.T) {
	repo := NewLedgerRepo(nil)
	productID := id.New()

	sql, args, err := repo.activeBatchesQuery(productID).ToSql()
	if err != nil {
		t.Fatalf("ToSql failed: %v", err)
	}

	wantSQL := batchSelectPrefix() +
		" WHERE product_id = $1 AND deletion_mark = $2 AND status = $3 AND remaining > $4" +
		" ORDER BY received_at ASC, id ASC"
	if sql != wantSQL {
		t.Errorf("SQL mismatch\nwant: %s\ngot:  %s", wantSQL, sql)
	}

	if len(args) != 4 {
		t.Fatalf("Args count mismatch\nwant: 4\ngot:  %d", len(args))
	}
	if args[0] != productID {
		t.Errorf("product arg mismatch\nwant: %v\ngot:  %v", productID, args[0])
	}
	if args[2] != ledger.BatchStatusActive {
		t.Errorf("status arg mismatch\nwant: %v\ngot:  %v", ledger.BatchStatusActive, args[2])
	}
}

func TestTransactionsQuery(t *testing.T) {
	repo := NewLedgerRepo(nil)
	productID := id.New()
	prefix := "SELECT " + strings.Join(postgres.ExtractDBColumns[ledger.Transaction](), ", ") +
		" FROM inventory_transactions"

	t.Run("no filter", func(t *testing.T) {
		sql, args, err := repo.transactionsQuery(productID, ledger.TransactionFilter{}).ToSql()
		if err != nil {
			t.Fatalf("ToSql failed: %v", err)
		}

		wantSQL := prefix + " WHERE product_id = $1 AND active = $2 ORDER BY occurred_at DESC, id DESC"
		if sql != wantSQL {
			t.Errorf("SQL mismatch\nwant: %s\ngot:  %s", wantSQL, sql)
		}
		if len(args) != 2 {
			t.Fatalf("Args count mismatch\nwant: 2\ngot:  %d", len(args))
		}
	})

	t.Run("batch and type with pagination", func(t *testing.T) {
		batchID := id.New()
		txType := ledger.TransactionOut
		filter := ledger.TransactionFilter{
			BatchID: &batchID,
			Type:    &txType,
			Limit:   20,
			Offset:  40,
		}

		sql, args, err := repo.transactionsQuery(productID, filter).ToSql()
		if err != nil {
			t.Fatalf("ToSql failed: %v", err)
		}

		wantSQL := prefix +
			" WHERE product_id = $1 AND active = $2 AND batch_id = $3 AND type = $4" +
			" ORDER BY occurred_at DESC, id DESC LIMIT 20 OFFSET 40"
		if sql != wantSQL {
			t.Errorf("SQL mismatch\nwant: %s\ngot:  %s", wantSQL, sql)
		}
		if len(args) != 4 {
			t.Fatalf("Args count mismatch\nwant: 4\ngot:  %d", len(args))
		}
		if args[2] != batchID {
			t.Errorf("batch arg mismatch\nwant: %v\ngot:  %v", batchID, args[2])
		}
	})
}

func TestFindOpenQuery(t *testing.T) {
	repo := NewAlertRepo(nil)
	productID := id.New()
	prefix := "SELECT " + strings.Join(postgres.ExtractDBColumns[alerts.Alert](), ", ") +
		" FROM stock_alerts"

	t.Run("product level key", func(t *testing.T) {
		sql, args, err := repo.findOpenQuery(productID, nil, alerts.TypeLowStock).ToSql()
		if err != nil {
			t.Fatalf("ToSql failed: %v", err)
		}

		wantSQL := prefix +
			" WHERE product_id = $1 AND batch_id IS NULL AND alert_type = $2 AND status IN ($3,$4) LIMIT 1"
		if sql != wantSQL {
			t.Errorf("SQL mismatch\nwant: %s\ngot:  %s", wantSQL, sql)
		}
		if len(args) != 4 {
			t.Fatalf("Args count mismatch\nwant: 4\ngot:  %d", len(args))
		}
	})

	t.Run("batch level key", func(t *testing.T) {
		batchID := id.New()
		sql, args, err := repo.findOpenQuery(productID, &batchID, alerts.TypeExpiringSoon).ToSql()
		if err != nil {
			t.Fatalf("ToSql failed: %v", err)
		}

		wantSQL := prefix +
			" WHERE product_id = $1 AND batch_id = $2 AND alert_type = $3 AND status IN ($4,$5) LIMIT 1"
		if sql != wantSQL {
			t.Errorf("SQL mismatch\nwant: %s\ngot:  %s", wantSQL, sql)
		}
		if len(args) != 5 {
			t.Fatalf("Args count mismatch\nwant: 5\ngot:  %d", len(args))
		}
		if args[1] != batchID {
			t.Errorf("batch arg mismatch\nwant: %v\ngot:  %v", batchID, args[1])
		}
	})
}

func TestListAlertsQuery(t *testing.T) {
	repo := NewAlertRepo(nil)
	prefix := "SELECT " + strings.Join(postgres.ExtractDBColumns[alerts.Alert](), ", ") +
		" FROM stock_alerts"

	t.Run("unfiltered", func(t *testing.T) {
		sql, _, err := repo.listQuery(alerts.ListFilter{}).ToSql()
		if err != nil {
			t.Fatalf("ToSql failed: %v", err)
		}

		wantSQL := prefix + " ORDER BY created_at DESC, id DESC"
		if sql != wantSQL {
			t.Errorf("SQL mismatch\nwant: %s\ngot:  %s", wantSQL, sql)
		}
	})

	t.Run("status and priority", func(t *testing.T) {
		status := alerts.StatusActive
		priority := alerts.PriorityHigh
		filter := alerts.ListFilter{Status: &status, Priority: &priority, Limit: 50}

		sql, args, err := repo.listQuery(filter).ToSql()
		if err != nil {
			t.Fatalf("ToSql failed: %v", err)
		}

		wantSQL := prefix +
			" WHERE status = $1 AND priority = $2 ORDER BY created_at DESC, id DESC LIMIT 50"
		if sql != wantSQL {
			t.Errorf("SQL mismatch\nwant: %s\ngot:  %s", wantSQL, sql)
		}
		if len(args) != 2 {
			t.Fatalf("Args count mismatch\nwant: 2\ngot:  %d", len(args))
		}
	})
}
