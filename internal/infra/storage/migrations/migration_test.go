package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func TestMigrationRunner_EnsureMigrationTable(t *testing.T) {
	db := setupTestDB(t)
	runner := NewMigrationRunner(db, DialectSQLite)

	require.NoError(t, runner.EnsureMigrationTable(context.Background()))
	assert.True(t, tableExists(t, db, "schema_migrations"))

	require.NoError(t, runner.EnsureMigrationTable(context.Background()))
}

func TestMigrationRunner_UnsupportedDialect(t *testing.T) {
	db := setupTestDB(t)
	runner := NewMigrationRunner(db, "oracle")

	err := runner.EnsureMigrationTable(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported dialect")

	_, err = ForDialect("oracle")
	assert.Error(t, err)
}

func TestMigrationRunner_ApplyMigration(t *testing.T) {
	db := setupTestDB(t)
	runner := NewMigrationRunner(db, DialectSQLite)
	ctx := context.Background()

	require.NoError(t, runner.EnsureMigrationTable(ctx))

	migration := Migration{
		Version:     "001",
		Description: "Create test table",
		UpSQL:       `CREATE TABLE test_table (id INTEGER PRIMARY KEY, name TEXT NOT NULL);`,
		DownSQL:     `DROP TABLE test_table;`,
	}
	require.NoError(t, runner.ApplyMigration(ctx, migration))
	assert.True(t, tableExists(t, db, "test_table"))

	var version string
	err := db.QueryRow("SELECT version FROM schema_migrations WHERE version = ?", "001").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, "001", version)
}

func TestMigrationRunner_FailedMigrationIsNotRecorded(t *testing.T) {
	db := setupTestDB(t)
	runner := NewMigrationRunner(db, DialectSQLite)
	ctx := context.Background()

	applied, err := runner.ApplyMigrations(ctx, []Migration{
		{Version: "001", Description: "broken", UpSQL: "CREATE TABLE"},
	})
	require.Error(t, err)
	assert.Equal(t, 0, applied)

	versions, err := runner.GetAppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestMigrationRunner_ApplyMigrationsIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	runner := NewMigrationRunner(db, DialectSQLite)
	ctx := context.Background()

	migrations := []Migration{
		{Version: "002", Description: "Create posts table", UpSQL: `CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL);`},
		{Version: "001", Description: "Create users table", UpSQL: `CREATE TABLE users (id INTEGER PRIMARY KEY, username TEXT NOT NULL);`},
	}

	count, err := runner.ApplyMigrations(ctx, migrations)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.True(t, tableExists(t, db, "users"))
	assert.True(t, tableExists(t, db, "posts"))

	count, err = runner.ApplyMigrations(ctx, migrations)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, "002", migrations[0].Version, "input slice must not be reordered")
}

func TestMigrationRunner_GetMigrationStatus(t *testing.T) {
	db := setupTestDB(t)
	runner := NewMigrationRunner(db, DialectSQLite)
	ctx := context.Background()

	migrations := []Migration{
		{Version: "002", Description: "Migration 2", UpSQL: "SELECT 1;"},
		{Version: "001", Description: "Migration 1", UpSQL: "SELECT 1;"},
	}

	require.NoError(t, runner.EnsureMigrationTable(ctx))
	require.NoError(t, runner.ApplyMigration(ctx, migrations[1]))

	status, err := runner.GetMigrationStatus(ctx, migrations)
	require.NoError(t, err)
	require.Len(t, status, 2)

	assert.Equal(t, "001", status[0].Version)
	assert.True(t, status[0].Applied)
	assert.Equal(t, "002", status[1].Version)
	assert.False(t, status[1].Applied)
	assert.Nil(t, status[1].AppliedAt)
}

func TestSQLiteMigrations_CreateTranscriptsTable(t *testing.T) {
	db := setupTestDB(t)
	runner := NewMigrationRunner(db, DialectSQLite)

	count, err := runner.ApplyMigrations(context.Background(), GetSQLiteMigrations())
	require.NoError(t, err)
	assert.Equal(t, len(GetSQLiteMigrations()), count)
	assert.True(t, tableExists(t, db, "transcripts"))

	_, err = db.Exec(`INSERT INTO transcripts (id, title, entries, created_at, updated_at, backend_url)
		VALUES ('c1', 'title', '[]', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z', 'http://x')`)
	assert.NoError(t, err)
}

func TestPostgresMigrations_Versions(t *testing.T) {
	sqlite := GetSQLiteMigrations()
	postgres := GetPostgresMigrations()

	require.Len(t, postgres, len(sqlite))
	for i := range sqlite {
		assert.Equal(t, sqlite[i].Version, postgres[i].Version)
		assert.NotEmpty(t, postgres[i].UpSQL)
	}
}
