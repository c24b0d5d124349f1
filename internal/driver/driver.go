// Package driver implements the in-sandbox side of the file protocol: a
// tail loop over the request file that hands each code snippet to an
// Executor and publishes the result as a per-command response file.
package driver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// pollInterval is the sleep between reads when the request file has no new
// data.
const pollInterval = 100 * time.Millisecond

// Request is one line of the request file. Code is a pointer so an absent
// field can be told apart from an empty snippet, which is still a valid
// request.
type Request struct {
	CommandID string  `json:"command_id"`
	Code      *string `json:"code"`
}

// Result is what one execution produced. Images are base64-encoded encoded
// bitmaps; Plots are standalone HTML documents.
type Result struct {
	Stdout string   `json:"stdout"`
	Stderr string   `json:"stderr"`
	Images []string `json:"images"`
	Plots  []string `json:"plots"`
}

// Executor runs one code snippet, preserving interpreter state between
// calls.
type Executor interface {
	Execute(ctx context.Context, code string) (Result, error)
	Close() error
}

// Driver tails the request file and executes each appended request in
// order. One driver owns one request file; requests never run concurrently,
// so the interpreter sees a serial history.
type Driver struct {
	ioDir     string
	stdinPath string
	exec      Executor
	logger    *slog.Logger
	diag      io.Writer
}

// New creates a driver over the given io directory and request file.
// Diagnostics about requests that cannot be executed go to the process
// stdout, where the host's log collector picks them up.
func New(ioDir, stdinPath string, exec Executor, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Driver{ioDir: ioDir, stdinPath: stdinPath, exec: exec, logger: logger, diag: os.Stdout}
}

// Run tails the request file until ctx is cancelled. The file is append-only
// on the client side, so a plain offset-tracking read loop sees every line
// exactly once.
func (d *Driver) Run(ctx context.Context) error {
	f, err := os.Open(d.stdinPath)
	if err != nil {
		return fmt.Errorf("open request file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var partial bytes.Buffer
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 && err == nil {
			if partial.Len() > 0 {
				partial.Write(line)
				line = append([]byte(nil), partial.Bytes()...)
				partial.Reset()
			}
			d.handleLine(ctx, bytes.TrimSpace(line))
			continue
		}
		// Partial line at EOF: the client's append is atomic per line, but
		// buffer anyway until the newline arrives.
		partial.Write(line)
		if err != nil && err != io.EOF {
			return fmt.Errorf("read request file: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// handleLine decodes and executes one request line. A line the driver cannot
// execute — malformed JSON, no code field, no command id — gets a JSON
// diagnostic on stdout and no response file: without a usable command id
// there is nowhere to respond, and with one the client is better served by
// its timeout than by a fabricated result.
func (d *Driver) handleLine(ctx context.Context, line []byte) {
	if len(line) == 0 {
		return
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		d.writeDiag("invalid request line")
		return
	}
	if req.Code == nil {
		d.writeDiag("No code to execute")
		return
	}
	if req.CommandID == "" {
		d.writeDiag("No command_id")
		return
	}

	d.logger.Info("executing request", "command_id", req.CommandID, "bytes", len(*req.Code))
	res, err := d.exec.Execute(ctx, *req.Code)
	if err != nil {
		// Executor failures still get a response so the client does not
		// poll out the full runtime bound.
		res = Result{Stderr: "executor error: " + err.Error()}
	}
	if err := d.writeResponse(req.CommandID, res); err != nil {
		d.logger.Error("write response", "command_id", req.CommandID, "error", err)
	}
}

// writeDiag prints one {"error": ...} line on the diagnostic stream and
// keeps the tail loop going.
func (d *Driver) writeDiag(msg string) {
	raw, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return
	}
	fmt.Fprintln(d.diag, string(raw))
}

// writeResponse publishes the result atomically: the client must never read
// a half-written file, so write to a temp name and rename into place.
func (d *Driver) writeResponse(commandID string, res Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	final := filepath.Join(d.ioDir, commandID+".txt")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish response: %w", err)
	}
	return nil
}
