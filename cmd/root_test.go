package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	config "github.com/kode-sdk/kode-chat/config"
	assert "github.com/stretchr/testify/assert"
	require "github.com/stretchr/testify/require"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("KODE_LOGGING_FILE", filepath.Join(t.TempDir(), "kode.log"))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "kode-chat version "+version)
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := executeCommand(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully created "+path)

	_, err = executeCommand(t, "config", "init", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	out, err = executeCommand(t, "config", "set", "stream.transport", "websocket", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Set stream.transport = websocket")

	loaded, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "websocket", loaded.Stream.Transport)

	out, err = executeCommand(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "transport: websocket")
}

func TestConversationsCommand_UsesConfiguredStorage(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("KODE_STORAGE_JSONL_PATH", filepath.Join(dir, "conversations"))

	out, err := executeCommand(t, "conversations", "list", "--config", filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "No conversations found.")
}
