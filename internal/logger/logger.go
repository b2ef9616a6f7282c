package logger

import (
	"os"
	"path/filepath"

	config "github.com/kode-sdk/kode-chat/config"
	zap "go.uber.org/zap"
	zapcore "go.uber.org/zap/zapcore"
)

var (
	base    *zap.Logger
	sugar   *zap.SugaredLogger
	logFile *os.File
)

// Init initializes the global logger. Output goes to the configured log file
// so it never interferes with the terminal UI; stderr is used as a fallback.
func Init(verbose bool, cfg *config.Config) {
	level := zapcore.InfoLevel
	if verbose || (cfg != nil && cfg.Logging.Debug) {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	previous := logFile
	logFile = nil

	sink := zapcore.AddSync(os.Stderr)
	if cfg != nil && cfg.Logging.File != "" {
		if f, err := openLogFile(cfg.Logging.File); err == nil {
			logFile = f
			sink = zapcore.AddSync(f)
		}
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, level)
	Set(zap.New(core))

	if previous != nil {
		_ = previous.Close()
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

// Set replaces the global logger
func Set(l *zap.Logger) {
	base = l
	sugar = l.Sugar()
	zap.ReplaceGlobals(l)
}

// Close flushes buffered entries and releases the log file
func Close() {
	if base != nil {
		_ = base.Sync()
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	if sugar != nil {
		sugar.Debugw(msg, args...)
	}
}

// Info logs an info message
func Info(msg string, args ...any) {
	if sugar != nil {
		sugar.Infow(msg, args...)
	}
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	if sugar != nil {
		sugar.Warnw(msg, args...)
	}
}

// Error logs an error message
func Error(msg string, args ...any) {
	if sugar != nil {
		sugar.Errorw(msg, args...)
	}
}
