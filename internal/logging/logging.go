package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"S2CoastalBot/internal/config"
)

// New creates a console slog.Logger with provided level string.
func New(level string) *slog.Logger {
	return slog.New(newHandler(os.Stdout, level))
}

// NewWithConfig logs to stdout and, when a file is configured, to a rotating
// log file as well. The returned closer flushes the file.
func NewWithConfig(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	if cfg.File == "" {
		return New(cfg.Level), io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
		return nil, nil, err
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}

	out := io.MultiWriter(os.Stdout, rotating)
	return slog.New(newHandler(out, cfg.Level)), rotating, nil
}

// ForRun decorates a logger with the attributes every run line carries.
func ForRun(base *slog.Logger, runID string) *slog.Logger {
	return base.With("run_id", runID, "pid", os.Getpid())
}

func newHandler(w io.Writer, level string) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: levelFromString(level),
	})
}

func levelFromString(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "error":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
