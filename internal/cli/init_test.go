package cli

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	applog "zerosum/internal/log"
)

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("ZEROSUM_CLI_TEST=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		_ = os.Unsetenv("ZEROSUM_CLI_TEST")
	})

	LoadEnvFile()

	if got := os.Getenv("ZEROSUM_CLI_TEST"); got != "from-file" {
		t.Errorf("ZEROSUM_CLI_TEST = %q, want from-file", got)
	}
}

func TestSetupLoggerInstallsDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := SetupLogger("debug", applog.ComponentWorker)
	if logger.Component() != applog.ComponentWorker {
		t.Errorf("component = %q", logger.Component())
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("default logger should have debug enabled")
	}
}

func TestGracefulShutdownRunsCleanup(t *testing.T) {
	var buf bytes.Buffer
	logger := applog.New(applog.Config{Level: slog.LevelInfo, Output: &buf})

	ran := make(chan struct{})
	ctx, done := GracefulShutdown(logger, time.Second, func(context.Context) { close(ran) })

	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Signal(os.Interrupt); err != nil {
		t.Skipf("cannot signal self: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	if ctx.Err() == nil {
		t.Error("context should be cancelled")
	}
	select {
	case <-ran:
	default:
		t.Error("cleanup did not run")
	}
	if !strings.Contains(buf.String(), "Shutdown complete") {
		t.Errorf("log missing completion: %s", buf.String())
	}
}
