package logger

import (
	"os"
	"path/filepath"
	"testing"

	config "github.com/kode-sdk/kode-chat/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCaptureGlobal(t *testing.T) {
	logs, restore := CaptureGlobal()
	defer restore()

	Debug("debug message", "key", "value")
	Warn("dropped event", "event", "mystery")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "debug message", entries[0].Message)
	assert.Equal(t, "value", entries[0].ContextMap()["key"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
}

func TestWithConversation(t *testing.T) {
	ctx, logs := TestContext()
	ctx = WithConversation(ctx, "conv-1")

	L(ctx).Info("stream opened")

	entries := logs.FilterMessage("stream opened").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "conv-1", entries[0].ContextMap()["conversation_id"])
}

func TestInit_WritesToLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "kode.log")
	cfg := config.DefaultConfig()
	cfg.Logging.File = path

	Init(true, cfg)
	Info("hello from test", "n", 1)
	Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")

	Set(zap.NewNop())
}
