package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"S2CoastalBot/internal/config"
)

func TestLevelFromString(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"error":   slog.LevelError,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		" info ":  slog.LevelInfo,
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"verbose": slog.LevelDebug,
	}
	for in, want := range cases {
		if got := levelFromString(in); got != want {
			t.Fatalf("levelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestForRunAddsAttributes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := ForRun(slog.New(newHandler(&buf, "info")), "run-1")
	logger.Info("run started")

	line := buf.String()
	if !strings.Contains(line, "run_id=run-1") {
		t.Fatalf("expected run_id attribute in %q", line)
	}
	if !strings.Contains(line, "pid=") {
		t.Fatalf("expected pid attribute in %q", line)
	}
}

func TestNewWithConfigWritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	logger, closer, err := NewWithConfig(config.LoggingConfig{Level: "info", File: path, MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewWithConfig error: %v", err)
	}

	logger.Info("hello file")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `msg="hello file"`) {
		t.Fatalf("unexpected log file contents: %s", raw)
	}
}
