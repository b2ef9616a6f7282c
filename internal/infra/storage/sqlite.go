package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	config "github.com/kode-sdk/kode-chat/config"
	migrations "github.com/kode-sdk/kode-chat/internal/infra/storage/migrations"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements TranscriptStorage using SQLite
type SQLiteStorage struct {
	sqlStore
	path string
}

// NewSQLiteStorage opens (or creates) the database file and applies migrations
func NewSQLiteStorage(cfg config.SQLiteStorageConfig) (*SQLiteStorage, error) {
	path := expandHome(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(30000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	storage := &SQLiteStorage{
		sqlStore: sqlStore{db: db, dialect: migrations.DialectSQLite},
		path:     path,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := storage.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return storage, nil
}

// Path returns the database file location
func (s *SQLiteStorage) Path() string {
	return s.path
}
