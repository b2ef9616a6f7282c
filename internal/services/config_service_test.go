package services

import (
	"os"
	"path/filepath"
	"testing"

	config "github.com/kode-sdk/kode-chat/config"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

func TestNewViper_DefaultsWithoutFile(t *testing.T) {
	v, err := NewViper(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	cs, err := NewConfigService(v)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cs.GetConfig())
}

func TestNewViper_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `backend:
  url: http://from-file:8080
stream:
  transport: websocket
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("KODE_BACKEND_USER_ID", "env-user")

	v, err := NewViper(path)
	require.NoError(t, err)
	cs, err := NewConfigService(v)
	require.NoError(t, err)

	cfg := cs.GetConfig()
	assert.Equal(t, "http://from-file:8080", cfg.Backend.URL)
	assert.Equal(t, "websocket", cfg.Stream.Transport)
	assert.Equal(t, "env-user", cfg.Backend.UserID)
	assert.Equal(t, "/api", cfg.Backend.APIPrefix)
}

func TestNewViper_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [oops"), 0644))

	_, err := NewViper(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestConfigService_SetValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	v, err := NewViper(path)
	require.NoError(t, err)
	cs, err := NewConfigService(v)
	require.NoError(t, err)

	require.NoError(t, cs.SetValue("demo.chunk_delay_ms", "25"))
	assert.Equal(t, 25, cs.GetConfig().Demo.ChunkDelayMs)

	loaded, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 25, loaded.Demo.ChunkDelayMs)
	assert.Equal(t, "http://localhost:3000", loaded.Backend.URL)
}

func TestConfigService_SetValueRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	v, err := NewViper(path)
	require.NoError(t, err)
	cs, err := NewConfigService(v)
	require.NoError(t, err)

	err = cs.SetValue("stream.transport", "carrier-pigeon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid value for stream.transport")
	assert.Equal(t, "sse", cs.GetConfig().Stream.Transport)

	err = cs.SetValue("no.such.key", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown configuration key")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
