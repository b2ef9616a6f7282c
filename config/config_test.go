package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("backend defaults", func(t *testing.T) {
		assert.Equal(t, "http://localhost:3000", cfg.Backend.URL)
		assert.Equal(t, "/api", cfg.Backend.APIPrefix)
		assert.Equal(t, 30, cfg.Backend.Timeout)
		assert.True(t, cfg.Backend.Retry.Enabled)
		assert.Equal(t, 3, cfg.Backend.Retry.MaxAttempts)
	})

	t.Run("stream defaults", func(t *testing.T) {
		assert.Equal(t, "sse", cfg.Stream.Transport)
		assert.Equal(t, 3, cfg.Stream.ReconnectAttempts)
		assert.Equal(t, 1000, cfg.Stream.ReconnectDelayMs)
	})

	t.Run("storage defaults", func(t *testing.T) {
		assert.True(t, cfg.Storage.Enabled)
		assert.Equal(t, "jsonl", cfg.Storage.Type)
		assert.Equal(t, ConversationsDir, cfg.Storage.Jsonl.Path)
	})

	t.Run("demo defaults", func(t *testing.T) {
		assert.Equal(t, ":3000", cfg.Demo.Addr)
		assert.Equal(t, 150, cfg.Demo.ChunkDelayMs)
	})

	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing backend url",
			mutate:  func(c *Config) { c.Backend.URL = "  " },
			wantErr: "backend.url",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Stream.Transport = "grpc" },
			wantErr: "stream.transport",
		},
		{
			name:    "unknown storage",
			mutate:  func(c *Config) { c.Storage.Type = "mongo" },
			wantErr: "storage.type",
		},
		{
			name:    "negative reconnect attempts",
			mutate:  func(c *Config) { c.Stream.ReconnectAttempts = -1 },
			wantErr: "reconnect_attempts",
		},
		{
			name:   "websocket transport is valid",
			mutate: func(c *Config) { c.Stream.Transport = "websocket" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_APIBaseURL(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		prefix string
		want   string
	}{
		{"default prefix", "http://localhost:3000", "/api", "http://localhost:3000/api"},
		{"trailing slash", "http://localhost:3000/", "api/", "http://localhost:3000/api"},
		{"no prefix", "https://agent.example.com", "", "https://agent.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Backend.URL = tt.url
			cfg.Backend.APIPrefix = tt.prefix
			assert.Equal(t, tt.want, cfg.APIBaseURL())
		})
	}
}

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `backend:
  url: http://agent:8080
stream:
  transport: websocket
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://agent:8080", cfg.Backend.URL)
	assert.Equal(t, "/api", cfg.Backend.APIPrefix)
	assert.Equal(t, "websocket", cfg.Stream.Transport)
	assert.Equal(t, 3, cfg.Stream.ReconnectAttempts)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [unterminated"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Backend.UserID = "user-42"
	cfg.Storage.Type = "sqlite"
	require.NoError(t, cfg.SaveConfig(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "user-42", loaded.Backend.UserID)
	assert.Equal(t, "sqlite", loaded.Storage.Type)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "  url: http://localhost:3000")
}
