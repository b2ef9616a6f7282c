package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	config "github.com/kode-sdk/kode-chat/config"
	migrations "github.com/kode-sdk/kode-chat/internal/infra/storage/migrations"
	_ "github.com/lib/pq"
)

// PostgresStorage implements TranscriptStorage using PostgreSQL
type PostgresStorage struct {
	sqlStore
}

func postgresDSN(cfg config.PostgresStorageConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, sslMode)
}

// NewPostgresStorage connects to PostgreSQL and applies migrations
func NewPostgresStorage(cfg config.PostgresStorageConfig) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("PostgreSQL connection test failed: %w\n\n"+
			"Failed to connect to PostgreSQL. Verify:\n"+
			"  - PostgreSQL server is running at %s:%d\n"+
			"  - Database '%s' exists\n"+
			"  - User '%s' has proper permissions", err, cfg.Host, cfg.Port, cfg.Database, cfg.Username)
	}

	storage := &PostgresStorage{
		sqlStore: sqlStore{db: db, dialect: migrations.DialectPostgres},
	}

	if err := storage.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return storage, nil
}
