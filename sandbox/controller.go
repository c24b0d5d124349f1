package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/tracepad/tracepad"
)

// appendAttempts bounds retries of the request-file append on transient
// filesystem failures.
const appendAttempts = 3

// request is one line appended to the request file.
type request struct {
	CommandID string `json:"command_id"`
	Code      string `json:"code"`
}

// response is the driver's reply, read back from the per-command file.
type response struct {
	Stdout string   `json:"stdout"`
	Stderr string   `json:"stderr"`
	Images []string `json:"images"`
	Plots  []string `json:"plots"`
}

// Controller submits code to one driver process and collects results. It is
// the tracepad.CodeRunner the run_code tool talks to. A Controller holds no
// state beyond the process handle, so a surviving process from an earlier
// client can be adopted by passing its recorded id to New.
type Controller struct {
	proc         Process
	remoteID     string
	initScript   string
	maxRuntime   time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithRemoteID makes New try to reattach to the given process before
// starting a new one. Empty means always start fresh.
func WithRemoteID(id string) Option {
	return func(c *Controller) { c.remoteID = id }
}

// WithInitScript runs the given snippet on every freshly started process
// before New returns, so the interpreter is pre-warmed (imports, helper
// definitions). A reattached process keeps its state and skips the script.
func WithInitScript(code string) Option {
	return func(c *Controller) { c.initScript = code }
}

// WithMaxRuntime bounds a single execution (default 300s).
func WithMaxRuntime(d time.Duration) Option {
	return func(c *Controller) { c.maxRuntime = d }
}

// WithPollInterval sets the response poll cadence (default 100ms).
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) { c.pollInterval = d }
}

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New returns a controller over a driver process on host. With WithRemoteID
// it first tries to adopt that process: a live one is reused as-is, with all
// its interpreter state, and no new process is created. Otherwise a fresh
// process is started and the init script, when set, has completed before
// New returns.
func New(ctx context.Context, host Host, opts StartOptions, copts ...Option) (*Controller, error) {
	c := newController(copts...)

	if c.remoteID != "" {
		if proc, err := host.FromID(ctx, c.remoteID); err == nil && proc.Alive(ctx) {
			c.proc = proc
			c.logger.Info("reattached sandbox", "sandbox", c.remoteID)
			return c, nil
		}
		c.logger.Info("recorded sandbox gone, starting fresh", "sandbox", c.remoteID)
	}

	proc, err := host.Start(ctx, opts.withDefaults())
	if err != nil {
		return nil, fmt.Errorf("start sandbox: %w", err)
	}
	c.proc = proc

	if c.initScript != "" {
		if _, err := c.Submit(ctx, c.initScript); err != nil {
			c.Terminate(ctx)
			return nil, fmt.Errorf("init script: %w", err)
		}
	}
	return c, nil
}

func newController(copts ...Option) *Controller {
	c := &Controller{
		maxRuntime:   DefaultMaxRuntime,
		pollInterval: DefaultPollInterval,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range copts {
		opt(c)
	}
	return c
}

// attach wraps an existing process handle.
func attach(proc Process, copts ...Option) *Controller {
	c := newController(copts...)
	c.proc = proc
	return c
}

// RemoteID returns the host-assigned process id, stable across reattach.
func (c *Controller) RemoteID() string { return c.proc.ID() }

// Alive reports whether the underlying process is still running.
func (c *Controller) Alive(ctx context.Context) bool { return c.proc.Alive(ctx) }

// Submit runs one code snippet in the remote interpreter and returns its
// captured output. The snippet shares interpreter state with every earlier
// Submit on the same process.
//
// A dead process fails fast with tracepad.ErrExecutionUnavailable. A snippet
// that produces no response within the runtime bound fails with
// tracepad.ErrExecutionTimeout; its command id is abandoned, never reused,
// and a response arriving later is ignored.
func (c *Controller) Submit(ctx context.Context, code string) (tracepad.ExecResult, error) {
	if !c.proc.Alive(ctx) {
		return tracepad.ExecResult{}, tracepad.ErrExecutionUnavailable
	}

	id := tracepad.NewCommandID()
	line, err := json.Marshal(request{CommandID: id, Code: code})
	if err != nil {
		return tracepad.ExecResult{}, fmt.Errorf("encode request: %w", err)
	}
	line = append(line, '\n')

	if err := c.appendRequest(ctx, line); err != nil {
		return tracepad.ExecResult{}, err
	}

	c.logger.Debug("submitted code", "sandbox", c.proc.ID(), "command_id", id, "bytes", len(code))

	raw, err := c.awaitResponse(ctx, id)
	if err != nil {
		return tracepad.ExecResult{}, err
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return tracepad.ExecResult{}, fmt.Errorf("decode response %s: %w", id, err)
	}
	return tracepad.ExecResult{
		Stdout: resp.Stdout,
		Stderr: resp.Stderr,
		Images: resp.Images,
		Plots:  resp.Plots,
	}, nil
}

// appendRequest appends one request line, retrying transient filesystem
// failures a bounded number of times.
func (c *Controller) appendRequest(ctx context.Context, line []byte) error {
	var last error
	for i := 0; i < appendAttempts; i++ {
		last = c.proc.Append(ctx, StdinFile, line)
		if last == nil {
			return nil
		}
		if !errors.Is(last, ErrTransient) {
			return fmt.Errorf("append request: %w", last)
		}
		c.logger.Warn("transient append failure", "sandbox", c.proc.ID(), "attempt", i+1)
		if err := sleep(ctx, c.pollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("append request after %d attempts: %w", appendAttempts, last)
}

// awaitResponse polls the per-command response file until it appears or the
// runtime bound is spent. Both not-found and transient failures count as
// misses; each miss costs one poll interval, so the attempt budget is
// maxRuntime / pollInterval.
func (c *Controller) awaitResponse(ctx context.Context, commandID string) ([]byte, error) {
	path := ResponsePath(commandID)
	attempts := int(c.maxRuntime / c.pollInterval)
	for i := 0; i < attempts; i++ {
		raw, err := c.proc.Read(ctx, path)
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, ErrTransient) {
			return nil, fmt.Errorf("read response %s: %w", commandID, err)
		}
		if err := sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}
	c.logger.Warn("execution timed out", "sandbox", c.proc.ID(), "command_id", commandID)
	return nil, tracepad.ErrExecutionTimeout
}

// Terminate stops the remote process. Idempotent: terminating an already
// dead process is not an error.
func (c *Controller) Terminate(ctx context.Context) {
	if err := c.proc.Terminate(ctx); err != nil {
		c.logger.Warn("terminate sandbox", "sandbox", c.proc.ID(), "error", err)
	}
}

// Sweep terminates processes under appName left behind by earlier
// incarnations of the client. Processes this incarnation started are left
// alone: their users may be mid-session.
func Sweep(ctx context.Context, host Host, appName string, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if appName == "" {
		appName = DefaultAppName
	}
	procs, err := host.List(ctx, appName)
	if err != nil {
		logger.Warn("sweep: list sandboxes", "error", err)
		return 0
	}
	n := 0
	for _, p := range procs {
		if p.BootID() == bootID {
			continue
		}
		if err := p.Terminate(ctx); err != nil {
			logger.Warn("sweep: terminate", "sandbox", p.ID(), "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		logger.Info("swept orphaned sandboxes", "count", n)
	}
	return n
}

// sleep waits d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// compile-time check
var _ tracepad.CodeRunner = (*Controller)(nil)
