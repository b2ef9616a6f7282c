package storage

import (
	"fmt"

	config "github.com/kode-sdk/kode-chat/config"
)

// NewStorage creates a new storage instance based on the provided configuration
func NewStorage(cfg config.StorageConfig) (TranscriptStorage, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStorage(), nil
	case "", "jsonl":
		return NewJsonlStorage(cfg.Jsonl)
	case "sqlite":
		return NewSQLiteStorage(cfg.SQLite)
	case "postgres":
		return NewPostgresStorage(cfg.Postgres)
	case "redis":
		return NewRedisStorage(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
