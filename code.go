package tracepad

import "context"

// CodeRunner is a per-user handle to a detached, stateful code-execution
// channel. Implementations keep a persistent interpreter environment across
// submits: variables, imports, and definitions from earlier snippets remain
// visible to later ones until the underlying process is destroyed.
//
// The sandbox package provides the file-protocol implementation.
type CodeRunner interface {
	// Submit executes one code snippet and returns its captured output.
	// Submitting against a dead process fails with ErrExecutionUnavailable;
	// a snippet whose response never arrives fails with ErrExecutionTimeout.
	Submit(ctx context.Context, code string) (ExecResult, error)

	// RemoteID identifies the underlying remote process.
	RemoteID() string

	// Terminate stops the remote process. Idempotent; errors are swallowed.
	Terminate(ctx context.Context)
}

// ExecResult is the captured output of one snippet execution.
type ExecResult struct {
	// Stdout and Stderr are the snippet's captured streams. Exceptions in
	// user code are not errors of the runtime; they appear in Stderr.
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	// Images holds base64-encoded PNG or JPEG bytes: rendered figures in
	// figure-number order, then in-memory raster images in scan order.
	Images []string `json:"images"`
	// Plots holds self-contained HTML fragments for interactive plots,
	// in scan order.
	Plots []string `json:"plots"`
}
