package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger creates a logger that captures logs for assertions
func TestLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// TestContext creates a context with a test logger
func TestContext() (context.Context, *observer.ObservedLogs) {
	l, logs := TestLogger()
	return ContextWithLogger(context.Background(), l), logs
}

// CaptureGlobal routes the package-level helpers into an observer until the
// returned restore func is called
func CaptureGlobal() (*observer.ObservedLogs, func()) {
	prev := base
	l, logs := TestLogger()
	Set(l)
	return logs, func() {
		if prev == nil {
			base, sugar = nil, nil
			zap.ReplaceGlobals(zap.NewNop())
			return
		}
		Set(prev)
	}
}

// NopContext creates a context with a no-op logger
func NopContext() context.Context {
	return ContextWithLogger(context.Background(), zap.NewNop())
}
