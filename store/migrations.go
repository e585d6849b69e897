package store

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Migration is one versioned schema change. Scripts hold statements
// terminated by a semicolon at the end of a line.
type Migration struct {
	Version    int
	Name       string
	UpScript   string
	DownScript string
}

// MigrationStatus pairs a registered migration with its ledger row.
type MigrationStatus struct {
	Version    int
	Name       string
	Applied    bool
	ExecutedAt *time.Time
}

// Migrator applies migrations in version order, recording each in a ledger
// table. Every step runs in its own transaction under an advisory lock keyed
// on the ledger name, so replicas starting together apply a step once.
type Migrator struct {
	db         *PostgresClient
	tableName  string
	migrations []Migration
}

type MigratorOption func(*Migrator)

// WithTableName overrides the ledger table, schema_migrations by default.
func WithTableName(name string) MigratorOption {
	return func(m *Migrator) { m.tableName = name }
}

func NewMigrator(db *PostgresClient, opts ...MigratorOption) *Migrator {
	m := &Migrator{db: db, tableName: "schema_migrations"}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddMigration registers mig. A later registration of the same version
// replaces the earlier one.
func (m *Migrator) AddMigration(mig Migration) {
	i, found := slices.BinarySearchFunc(m.migrations, mig.Version, func(x Migration, v int) int {
		return x.Version - v
	})
	if found {
		m.migrations[i] = mig
		return
	}
	m.migrations = slices.Insert(m.migrations, i, mig)
}

func (m *Migrator) Migrations() []Migration { return m.migrations }

func (m *Migrator) table() string { return pq.QuoteIdentifier(m.tableName) }

func (m *Migrator) lockKey() int64 {
	h := fnv.New64a()
	h.Write([]byte("migrations:" + m.tableName))
	return int64(h.Sum64())
}

// Initialize creates the ledger table.
func (m *Migrator) Initialize(ctx context.Context) error {
	_, err := m.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+m.table()+` (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	executed_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	if err != nil {
		return fmt.Errorf("migrations: create ledger %s: %w", m.tableName, err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.Query(ctx, "SELECT version, executed_at FROM "+m.table())
	if err != nil {
		return nil, fmt.Errorf("migrations: read ledger: %w", err)
	}
	defer rows.Close()

	done := make(map[int]time.Time)
	for rows.Next() {
		var (
			v  int
			at time.Time
		)
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		done[v] = at
	}
	return done, rows.Err()
}

// Status lists every registered migration with its ledger state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	return statusOf(m.migrations, done), nil
}

func statusOf(migrations []Migration, done map[int]time.Time) []MigrationStatus {
	out := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := done[mig.Version]; ok {
			st.Applied = true
			st.ExecutedAt = &at
		}
		out = append(out, st)
	}
	return out
}

// Up applies the pending migrations and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	done, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, mig := range m.migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		if strings.TrimSpace(mig.UpScript) == "" {
			return n, fmt.Errorf("migrations: %d %s has no up script", mig.Version, mig.Name)
		}
		ran, err := m.step(ctx, mig, true)
		if err != nil {
			return n, fmt.Errorf("migrations: up %d %s: %w", mig.Version, mig.Name, err)
		}
		if ran {
			n++
		}
	}
	return n, nil
}

// Down reverts the newest applied migration. It is a no-op when none is
// applied.
func (m *Migrator) Down(ctx context.Context) error {
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}
	for _, mig := range slices.Backward(m.migrations) {
		if _, ok := done[mig.Version]; !ok {
			continue
		}
		if strings.TrimSpace(mig.DownScript) == "" {
			return fmt.Errorf("migrations: %d %s has no down script", mig.Version, mig.Name)
		}
		if _, err := m.step(ctx, mig, false); err != nil {
			return fmt.Errorf("migrations: down %d %s: %w", mig.Version, mig.Name, err)
		}
		return nil
	}
	return nil
}

// Version returns the highest applied version, 0 on a fresh database.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	if err := m.Initialize(ctx); err != nil {
		return 0, err
	}
	var v sql.NullInt64
	if err := m.db.QueryRow(ctx, "SELECT MAX(version) FROM "+m.table()).Scan(&v); err != nil {
		return 0, fmt.Errorf("migrations: read version: %w", err)
	}
	return int(v.Int64), nil
}

// step runs one migration in a transaction. It reports false when another
// process got there first.
func (m *Migrator) step(ctx context.Context, mig Migration, up bool) (bool, error) {
	ran := false
	err := m.db.WithTransaction(ctx, func(tx *Transaction) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", m.lockKey()); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		var present bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM "+m.table()+" WHERE version = $1)", mig.Version).Scan(&present)
		if err != nil {
			return err
		}
		if present == up {
			return nil
		}

		script, record := mig.DownScript, "DELETE FROM "+m.table()+" WHERE version = $1"
		args := []any{mig.Version}
		if up {
			script, record = mig.UpScript, "INSERT INTO "+m.table()+" (version, name) VALUES ($1, $2)"
			args = append(args, mig.Name)
		}
		for i, stmt := range splitStatements(script) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}
		}
		if _, err := tx.ExecContext(ctx, record, args...); err != nil {
			return fmt.Errorf("ledger: %w", err)
		}
		ran = true
		return nil
	})
	return ran, err
}

// splitStatements cuts a script after every line that ends in a semicolon,
// dropping the terminator and empty statements.
func splitStatements(script string) []string {
	var (
		out   []string
		lines []string
	)
	flush := func() {
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
		if stmt != "" {
			out = append(out, stmt)
		}
		lines = lines[:0]
	}
	for _, line := range strings.Split(script, "\n") {
		lines = append(lines, line)
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			flush()
		}
	}
	flush()
	return out
}
