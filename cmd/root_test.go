package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestPreRunReadsLogLevelFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)
	t.Setenv("ENV", "dev")
	t.Setenv("LOG_LEVEL", "")
	_ = os.Unsetenv("LOG_LEVEL")

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	if err := rootCmd.PersistentPreRunE(rootCmd, nil); err != nil {
		t.Fatalf("PersistentPreRunE() error = %v", err)
	}
	if appConfig.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want debug", appConfig.LogLevel)
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("default logger does not emit debug records")
	}
}

func TestSetupLoggingLevels(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	ctx := context.Background()

	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		setupLogging(tt.level)
		if !slog.Default().Enabled(ctx, tt.want) || slog.Default().Enabled(ctx, tt.want-1) {
			t.Fatalf("setupLogging(%q) did not set level %v", tt.level, tt.want)
		}
	}
}
