package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMigrator(t *testing.T) {
	client := &PostgresClient{}

	m := NewMigrator(client)
	assert.Same(t, client, m.db)
	assert.Equal(t, "schema_migrations", m.tableName)
	assert.Empty(t, m.Migrations())

	m = NewMigrator(client, WithTableName("grid_migrations"))
	assert.Equal(t, "grid_migrations", m.tableName)
	assert.Equal(t, `"grid_migrations"`, m.table())
}

func TestMigrator_LockKeyPerLedger(t *testing.T) {
	a := NewMigrator(nil)
	b := NewMigrator(nil, WithTableName("other_migrations"))
	assert.Equal(t, a.lockKey(), NewMigrator(nil).lockKey())
	assert.NotEqual(t, a.lockKey(), b.lockKey())
}

func TestAddMigration(t *testing.T) {
	m := NewMigrator(nil)
	for _, v := range []int{5, 2, 8, 1, 3} {
		m.AddMigration(Migration{Version: v, UpScript: "SELECT 1;"})
	}
	m.AddMigration(Migration{Version: 3, Name: "replacement", UpScript: "SELECT 3;"})

	var versions []int
	for _, mig := range m.Migrations() {
		versions = append(versions, mig.Version)
	}
	assert.Equal(t, []int{1, 2, 3, 5, 8}, versions)
	assert.Equal(t, "replacement", m.Migrations()[2].Name)
}

func TestStatusOf(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	statuses := statusOf([]Migration{
		{Version: 1, Name: "create_grid_index"},
		{Version: 2, Name: "add_level_column"},
	}, map[int]time.Time{1: at, 7: at})

	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	require.NotNil(t, statuses[0].ExecutedAt)
	assert.True(t, statuses[0].ExecutedAt.Equal(at))

	assert.Equal(t, MigrationStatus{Version: 2, Name: "add_level_column"}, statuses[1])
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []string
	}{
		{"single", "CREATE TABLE a (id INT);", []string{"CREATE TABLE a (id INT)"}},
		{"unterminated", "DROP TABLE a", []string{"DROP TABLE a"}},
		{
			"multi-line",
			"CREATE TABLE a (\n\tid INT\n);\nCREATE INDEX a_idx ON a (id);",
			[]string{"CREATE TABLE a (\n\tid INT\n)", "CREATE INDEX a_idx ON a (id)"},
		},
		{"stray terminators", "\n\nSELECT 1;\n;\n\n", []string{"SELECT 1"}},
		{"semicolon inside a line", "SELECT 'a;b' AS x;", []string{"SELECT 'a;b' AS x"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitStatements(tt.script))
		})
	}
}
