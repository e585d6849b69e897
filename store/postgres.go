package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresConfig sizes the connection pool.
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// DefaultPostgresConfig leaves DSN empty.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{MaxOpenConns: 25, MaxIdleConns: 5, MaxLifetime: 5 * time.Minute}
}

// PostgresClient is a pooled database handle with retrying transactions.
type PostgresClient struct {
	db *sql.DB
}

// NewPostgresClient opens the pool and waits, under the PostgreSQL retry
// policy, for the server to answer.
func NewPostgresClient(ctx context.Context, cfg PostgresConfig) (*PostgresClient, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: empty DSN")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	if err := retryPostgres(ctx, db.PingContext); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &PostgresClient{db: db}, nil
}

func (c *PostgresClient) DB() *sql.DB { return c.db }

func (c *PostgresClient) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *PostgresClient) Close() error { return c.db.Close() }

func (c *PostgresClient) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

func (c *PostgresClient) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

func (c *PostgresClient) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// Transaction is an open transaction handed to WithTransaction callbacks.
type Transaction struct {
	*sql.Tx
}

// WithTransaction commits when fn returns nil and rolls back otherwise,
// including when fn panics.
func (c *PostgresClient) WithTransaction(ctx context.Context, fn func(*Transaction) error) (err error) {
	sqlTx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && err != nil {
			err = errors.Join(err, fmt.Errorf("postgres: rollback: %w", rbErr))
		}
	}()

	if err = fn(&Transaction{Tx: sqlTx}); err != nil {
		return err
	}
	committed = true
	return sqlTx.Commit()
}

// WithTransactionRetry reruns the whole transaction while it fails with
// serialization, deadlock or connection errors.
func (c *PostgresClient) WithTransactionRetry(ctx context.Context, fn func(*Transaction) error) error {
	return retryPostgres(ctx, func(ctx context.Context) error {
		return c.WithTransaction(ctx, fn)
	})
}
