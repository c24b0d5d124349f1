package tracepad

import (
	"errors"
	"fmt"
)

// ErrLLM is a model-gateway failure. A gateway failure aborts the current
// turn; partial state already appended to the conversation is retained.
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a non-2xx response from an upstream HTTP API.
type ErrHTTP struct {
	Status int
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Sandbox execution errors. Both surface to the model as tool-result text so
// the loop continues and the model can recover.
var (
	// ErrExecutionTimeout: the response file never appeared within the
	// maximum code runtime. The submit is not re-covered by retries.
	ErrExecutionTimeout = errors.New("code execution timed out")

	// ErrExecutionUnavailable: the sandbox process is gone (idle or overall
	// deadline hit, explicit terminate, or host eviction). A fresh process
	// is created on the next sandbox init.
	ErrExecutionUnavailable = errors.New("code execution unavailable: sandbox process is not running")
)
