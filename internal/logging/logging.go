package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"Pivot/internal/config"
)

// New builds the process logger. With ToFile set, output goes to a dated file
// under ~/.pivot/logs (or cfg.Dir) so that it cannot corrupt the TUI; otherwise
// it goes to stderr and leaves stdout to the streamed model output.
// The returned closer flushes and releases the log file.
func New(cfg config.LoggingConfig) (*zap.Logger, func(), error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(cfg.Level)))); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Encoding) {
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	if !cfg.ToFile {
		core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
		logger := zap.New(core, zap.AddCaller())
		return logger, func() { _ = logger.Sync() }, nil
	}

	dir := cfg.Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".pivot", "logs")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("pivot-%s.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(file), level)
	logger := zap.New(core, zap.AddCaller())
	logger.Info("session started", zap.String("log_file", path))

	closer := func() {
		logger.Info("session ended")
		_ = logger.Sync()
		_ = file.Close()
	}
	return logger, closer, nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
