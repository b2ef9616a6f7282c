package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Dialect names accepted by NewMigrationRunner
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Migration is one versioned schema change
type Migration struct {
	// Version orders migrations lexically ("001", "002", ...)
	Version     string
	Description string
	UpSQL       string
	DownSQL     string
}

// MigrationStatus reports whether a known migration has been applied
type MigrationStatus struct {
	Version     string
	Description string
	Applied     bool
	AppliedAt   *time.Time
}

// MigrationRunner applies migrations and tracks them in schema_migrations
type MigrationRunner struct {
	db      *sql.DB
	dialect string
}

// NewMigrationRunner creates a new migration runner
func NewMigrationRunner(db *sql.DB, dialect string) *MigrationRunner {
	return &MigrationRunner{
		db:      db,
		dialect: dialect,
	}
}

// ForDialect returns the built-in transcript migrations for a dialect
func ForDialect(dialect string) ([]Migration, error) {
	switch dialect {
	case DialectSQLite:
		return GetSQLiteMigrations(), nil
	case DialectPostgres:
		return GetPostgresMigrations(), nil
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
}

// EnsureMigrationTable creates schema_migrations when missing
func (r *MigrationRunner) EnsureMigrationTable(ctx context.Context) error {
	var appliedAtType string
	switch r.dialect {
	case DialectSQLite:
		appliedAtType = "DATETIME"
	case DialectPostgres:
		appliedAtType = "TIMESTAMP WITH TIME ZONE"
	default:
		return fmt.Errorf("unsupported dialect: %s", r.dialect)
	}

	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(255) PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at %s NOT NULL
	)`, appliedAtType)

	if _, err := r.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns applied versions with their timestamps
func (r *MigrationRunner) GetAppliedMigrations(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var version, appliedAt string
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = parseAppliedAt(appliedAt)
	}

	return applied, rows.Err()
}

// appliedAtLayouts covers database/sql's RFC3339 rendering and the SQLite driver's text format
var appliedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func parseAppliedAt(value string) time.Time {
	for _, layout := range appliedAtLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (r *MigrationRunner) recordSQL() string {
	if r.dialect == DialectPostgres {
		return "INSERT INTO schema_migrations (version, description, applied_at) VALUES ($1, $2, $3)"
	}
	return "INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"
}

// ApplyMigration runs one migration and records it in the same transaction
func (r *MigrationRunner) ApplyMigration(ctx context.Context, migration Migration) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.UpSQL); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx, r.recordSQL(), migration.Version, migration.Description, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", migration.Version, err)
	}
	return nil
}

// ApplyMigrations applies every pending migration in version order and
// returns how many were applied
func (r *MigrationRunner) ApplyMigrations(ctx context.Context, migrations []Migration) (int, error) {
	if err := r.EnsureMigrationTable(ctx); err != nil {
		return 0, err
	}

	applied, err := r.GetAppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	pending := append([]Migration(nil), migrations...)
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Version < pending[j].Version
	})

	count := 0
	for _, migration := range pending {
		if _, ok := applied[migration.Version]; ok {
			continue
		}
		if err := r.ApplyMigration(ctx, migration); err != nil {
			return count, fmt.Errorf("migration %s failed: %w", migration.Version, err)
		}
		count++
	}

	return count, nil
}

// GetMigrationStatus lists the available migrations with their applied state
func (r *MigrationRunner) GetMigrationStatus(ctx context.Context, available []Migration) ([]MigrationStatus, error) {
	if err := r.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}

	applied, err := r.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	status := make([]MigrationStatus, 0, len(available))
	for _, migration := range available {
		s := MigrationStatus{
			Version:     migration.Version,
			Description: migration.Description,
		}
		if at, ok := applied[migration.Version]; ok {
			at := at
			s.Applied = true
			s.AppliedAt = &at
		}
		status = append(status, s)
	}

	sort.Slice(status, func(i, j int) bool {
		return status[i].Version < status[j].Version
	})
	return status, nil
}
