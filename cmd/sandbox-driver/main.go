// Command sandbox-driver runs inside the sandbox image. It tails the
// request file for submitted code, executes each snippet in a persistent
// Python interpreter, and writes per-command response files.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tracepad/tracepad/internal/driver"
	"github.com/tracepad/tracepad/sandbox"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ioDir := os.Getenv(sandbox.EnvIODataDir)
	if ioDir == "" {
		ioDir = sandbox.IODataDir
	}
	stdinFile := os.Getenv(sandbox.EnvStdinFile)
	if stdinFile == "" {
		stdinFile = filepath.Join(ioDir, "stdin.txt")
	}
	pythonBin := os.Getenv("PYTHON_BIN")
	if pythonBin == "" {
		pythonBin = "python3"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The host pre-creates the request file via the mount; waiting here only
	// covers startup races.
	if err := awaitFile(ctx, stdinFile); err != nil {
		logger.Error("request file never appeared", "path", stdinFile, "error", err)
		os.Exit(1)
	}

	worker, err := NewPythonWorker(pythonBin, logger)
	if err != nil {
		logger.Error("worker setup failed", "error", err)
		os.Exit(1)
	}
	defer worker.Close()

	logger.Info("driver starting", "io_dir", ioDir, "stdin_file", stdinFile, "python", pythonBin)
	d := driver.New(ioDir, stdinFile, worker, logger)
	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("driver stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("driver shut down")
}

// awaitFile polls until path exists or ctx expires.
func awaitFile(ctx context.Context, path string) error {
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
