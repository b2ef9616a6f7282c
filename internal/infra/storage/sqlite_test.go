package storage

import (
	"context"
	"path/filepath"
	"testing"

	config "github.com/kode-sdk/kode-chat/config"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

func setupTestSQLiteStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(config.SQLiteStorageConfig{
		Path: filepath.Join(t.TempDir(), "transcripts.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStorage(t *testing.T) {
	runStorageSuite(t, func(t *testing.T) TranscriptStorage {
		return setupTestSQLiteStorage(t)
	})
}

func TestSQLiteStorage_MigrationsApplied(t *testing.T) {
	s := setupTestSQLiteStorage(t)

	status, err := s.MigrationStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, status, 2)
	for _, st := range status {
		assert.True(t, st.Applied, "migration %s should be applied", st.Version)
	}
}

func TestSQLiteStorage_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcripts.db")
	ctx := context.Background()

	first, err := NewSQLiteStorage(config.SQLiteStorageConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, first.SaveTranscript(ctx, createTestTranscript("conv-1", baseTime)))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStorage(config.SQLiteStorageConfig{Path: path})
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	loaded, err := second.LoadTranscript(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, loaded.Entries, 3)
	assert.Equal(t, path, second.Path())
}

func TestSQLStore_Rebind(t *testing.T) {
	pg := &sqlStore{dialect: "postgres"}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &sqlStore{dialect: "sqlite"}
	assert.Equal(t, "SELECT ? ", lite.rebind("SELECT ? "))
}

func TestNewStorage(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		s, err := NewStorage(config.StorageConfig{Type: "memory"})
		require.NoError(t, err)
		assert.IsType(t, &MemoryStorage{}, s)
	})

	t.Run("jsonl", func(t *testing.T) {
		s, err := NewStorage(config.StorageConfig{Type: "jsonl", Jsonl: config.JsonlStorageConfig{Path: t.TempDir()}})
		require.NoError(t, err)
		assert.IsType(t, &JsonlStorage{}, s)
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := NewStorage(config.StorageConfig{Type: "sqlite", SQLite: config.SQLiteStorageConfig{Path: filepath.Join(t.TempDir(), "x.db")}})
		require.NoError(t, err)
		defer func() { _ = s.Close() }()
		assert.IsType(t, &SQLiteStorage{}, s)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := NewStorage(config.StorageConfig{Type: "mongo"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported storage type")
	})
}
