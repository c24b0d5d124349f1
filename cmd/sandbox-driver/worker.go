package main

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/tracepad/tracepad/internal/driver"
)

//go:embed worker.py
var workerSource string

// maxResponseLine bounds one worker response line. Base64 images are capped
// at 4 MB each before encoding, so 64 MB leaves generous headroom.
const maxResponseLine = 64 << 20

// PythonWorker is a driver.Executor backed by a persistent python3 process.
// The process holds the interpreter namespace, so successive Execute calls
// share state. If the process dies (segfault, sys.exit, OOM kill) the next
// Execute restarts it with a fresh namespace and reports the loss.
type PythonWorker struct {
	pythonBin string
	logger    *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
	script string
}

// NewPythonWorker prepares a worker; the python process starts lazily on
// first Execute.
func NewPythonWorker(pythonBin string, logger *slog.Logger) (*PythonWorker, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	f, err := os.CreateTemp("", "tracepad-worker-*.py")
	if err != nil {
		return nil, fmt.Errorf("worker script: %w", err)
	}
	if _, err := f.WriteString(workerSource); err != nil {
		f.Close()
		return nil, fmt.Errorf("worker script: %w", err)
	}
	f.Close()
	return &PythonWorker{pythonBin: pythonBin, logger: logger, script: f.Name()}, nil
}

// start launches the python process. Caller holds mu.
func (w *PythonWorker) start() error {
	cmd := exec.Command(w.pythonBin, w.script)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64<<10), maxResponseLine)

	w.cmd = cmd
	w.stdin = stdin
	w.stdout = scanner
	w.logger.Info("python worker started", "pid", cmd.Process.Pid)
	return nil
}

// reset discards a dead worker so the next Execute starts fresh. Caller
// holds mu.
func (w *PythonWorker) reset() {
	if w.cmd != nil {
		w.stdin.Close()
		w.cmd.Wait()
	}
	w.cmd = nil
	w.stdin = nil
	w.stdout = nil
}

// Execute implements driver.Executor: one request line out, one response
// line back. Requests are serialized; the driver never calls concurrently,
// but the lock also protects restart.
func (w *PythonWorker) Execute(ctx context.Context, code string) (driver.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	restarted := false
	if w.cmd == nil {
		if err := w.start(); err != nil {
			return driver.Result{}, err
		}
	}

	req, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return driver.Result{}, fmt.Errorf("encode worker request: %w", err)
	}
	req = append(req, '\n')

	if _, err := w.stdin.Write(req); err != nil {
		// Broken pipe: the worker died between requests. Restart once and
		// resend; the new namespace is empty, which the response notes.
		w.logger.Warn("worker write failed, restarting", "error", err)
		w.reset()
		if err := w.start(); err != nil {
			return driver.Result{}, err
		}
		restarted = true
		if _, err := w.stdin.Write(req); err != nil {
			return driver.Result{}, fmt.Errorf("write to restarted worker: %w", err)
		}
	}

	if !w.stdout.Scan() {
		err := w.stdout.Err()
		w.reset()
		if err == nil {
			err = fmt.Errorf("worker exited during execution")
		}
		return driver.Result{}, fmt.Errorf("read worker response: %w", err)
	}

	var res driver.Result
	if err := json.Unmarshal(w.stdout.Bytes(), &res); err != nil {
		return driver.Result{}, fmt.Errorf("decode worker response: %w", err)
	}
	if restarted {
		res.Stderr = "note: interpreter restarted, previous state lost\n" + res.Stderr
	}
	return res, nil
}

// Close stops the worker process and removes the script file.
func (w *PythonWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
	return os.Remove(w.script)
}

// compile-time check
var _ driver.Executor = (*PythonWorker)(nil)
