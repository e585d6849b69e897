package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	apperrors "github.com/geosot/gridindex/errors"
	"github.com/geosot/gridindex/filter"
	"github.com/geosot/gridindex/telemetry"
)

// PostgresIndex keeps entries in a table with a text id column and a
// BIGINT key column holding filter.SQLKey values, and answers filters with
// the SQL they render.
type PostgresIndex struct {
	db      *PostgresClient
	table   string
	column  string
	metrics *telemetry.StoreMetrics
}

// NewPostgresIndex creates an index over table.column.
func NewPostgresIndex(db *PostgresClient, table, column string, metrics *telemetry.StoreMetrics) (*PostgresIndex, error) {
	if table == "" || column == "" {
		return nil, apperrors.Validation("index table and column must be set")
	}
	return &PostgresIndex{db: db, table: table, column: column, metrics: metrics}, nil
}

func (x *PostgresIndex) observe(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	err := telemetry.WrapStoreOperation(ctx, "postgresql", op, x.table, fn)
	x.metrics.RecordOperation(ctx, op, time.Since(start), err)
	return err
}

// Migrations returns the schema of the index table.
func (x *PostgresIndex) Migrations() []Migration {
	table := pq.QuoteIdentifier(x.table)
	col := pq.QuoteIdentifier(x.column)
	idx := pq.QuoteIdentifier(x.table + "_" + x.column + "_idx")
	return []Migration{{
		Version: 1,
		Name:    "create_" + x.table,
		UpScript: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT NOT NULL,
	%s BIGINT NOT NULL,
	PRIMARY KEY (id, %s)
);
CREATE INDEX IF NOT EXISTS %s ON %s (%s);`, table, col, col, idx, table, col),
		DownScript: fmt.Sprintf("DROP TABLE IF EXISTS %s;", table),
	}}
}

// Add bulk loads entries with COPY inside one transaction.
func (x *PostgresIndex) Add(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return x.observe(ctx, "add", func(ctx context.Context) error {
		return x.db.WithTransactionRetry(ctx, func(tx *Transaction) error {
			stmt, err := tx.PrepareContext(ctx, pq.CopyIn(x.table, "id", x.column))
			if err != nil {
				return err
			}
			for _, e := range entries {
				if _, err := stmt.ExecContext(ctx, e.ID, filter.SQLKey(e.Key)); err != nil {
					stmt.Close()
					return err
				}
			}
			if _, err := stmt.ExecContext(ctx); err != nil {
				stmt.Close()
				return err
			}
			return stmt.Close()
		})
	})
}

// QuerySQL renders the SELECT that Query runs for f.
func (x *PostgresIndex) QuerySQL(f *filter.Filter) (string, []any) {
	where, args := f.SQL(x.column, 1)
	q := fmt.Sprintf("SELECT id, %s FROM %s WHERE %s ORDER BY %s, id",
		pq.QuoteIdentifier(x.column), pq.QuoteIdentifier(x.table), where, pq.QuoteIdentifier(x.column))
	return q, args
}

// Query returns the entries f matches, flagging the exact ones.
func (x *PostgresIndex) Query(ctx context.Context, f *filter.Filter) ([]Hit, error) {
	if len(f.Terms) == 0 {
		return nil, nil
	}
	q, args := x.QuerySQL(f)

	var entries []Entry
	err := x.observe(ctx, "query", func(ctx context.Context) error {
		rows, err := x.db.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				id  string
				key int64
			)
			if err := rows.Scan(&id, &key); err != nil {
				return err
			}
			entries = append(entries, Entry{ID: id, Key: filter.FromSQLKey(key)})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return classify(f, entries), nil
}
