// Package sandbox provides the client side of the detached code-execution
// channel: a Controller that submits snippets to a remote driver over a
// file-based request/response protocol, and a Host abstraction over the
// process host that runs the driver.
package sandbox

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/tracepad/tracepad"
)

// bootID identifies this incarnation of the client process. Hosts label
// every process they start with it, so the orphan sweep can tell processes
// of this run from leftovers of earlier ones.
var bootID = tracepad.NewID()

// Filesystem layout inside the sandbox image. The paths and the env var
// names locating them are the ABI between Controller and driver; the request
// file exists from image build so readers never race its existence.
const (
	IODataDir = "/modal/io"
	StdinFile = IODataDir + "/stdin.txt"

	EnvIODataDir = "IO_DATA_DIR"
	EnvStdinFile = "STDIN_FILE"
)

// ResponsePath returns the in-sandbox path of the response file for one
// command id.
func ResponsePath(commandID string) string {
	return path.Join(IODataDir, commandID+".txt")
}

// ErrTransient marks a transient filesystem failure on the remote side
// (typically concurrent access). Host implementations wrap it; the
// Controller retries operations that fail with it.
var ErrTransient = errors.New("transient filesystem error")

// Host abstracts the process host: something that provides timed,
// resource-limited processes sharing a filesystem with this client.
type Host interface {
	// Start launches a new driver process.
	Start(ctx context.Context, opts StartOptions) (Process, error)
	// FromID returns a handle to an existing process, which may no longer
	// be alive.
	FromID(ctx context.Context, id string) (Process, error)
	// List enumerates live processes under the given application name.
	List(ctx context.Context, appName string) ([]Process, error)
}

// Process is one remote driver process and its shared filesystem.
type Process interface {
	ID() string
	// BootID returns the incarnation id of the client that started the
	// process.
	BootID() string
	Alive(ctx context.Context) bool
	Terminate(ctx context.Context) error
	// Append atomically appends data to the file at the given in-sandbox
	// path. May fail with an error wrapping ErrTransient.
	Append(ctx context.Context, path string, data []byte) error
	// Read returns the full contents of the file at the given in-sandbox
	// path. Fails with fs.ErrNotExist while the file does not exist yet,
	// or with an error wrapping ErrTransient.
	Read(ctx context.Context, path string) ([]byte, error)
}

// Lifecycle and resource defaults.
const (
	// DefaultTimeout is the maximum lifetime of a sandbox process.
	DefaultTimeout = 2 * time.Hour
	// DefaultIdleTimeout terminates a process with no submits in the window.
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultCPUs is the CPU budget per process.
	DefaultCPUs = 4.0
	// DefaultMemoryMiB is the memory budget per process (4 GiB).
	DefaultMemoryMiB = 4096

	// DefaultMaxRuntime bounds one snippet execution: the longest the
	// Controller waits for a response file to appear.
	DefaultMaxRuntime = 300 * time.Second
	// DefaultPollInterval is the cadence of response-file polls and the
	// sleep between filesystem retries.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultAppName groups sandbox processes for the orphan sweep.
	DefaultAppName = "tracepad-sandbox"
)

// StartOptions configures a new driver process.
type StartOptions struct {
	AppName   string
	Image     string
	Env       map[string]string
	CPUs      float64
	MemoryMiB int64
	// Timeout is the overall deadline; IdleTimeout the inactivity one.
	// The host enforces both server-side.
	Timeout     time.Duration
	IdleTimeout time.Duration
}

// withDefaults fills unset fields.
func (o StartOptions) withDefaults() StartOptions {
	if o.AppName == "" {
		o.AppName = DefaultAppName
	}
	if o.CPUs == 0 {
		o.CPUs = DefaultCPUs
	}
	if o.MemoryMiB == 0 {
		o.MemoryMiB = DefaultMemoryMiB
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.Env == nil {
		o.Env = map[string]string{}
	}
	o.Env[EnvIODataDir] = IODataDir
	o.Env[EnvStdinFile] = StdinFile
	return o
}
