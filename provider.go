package tracepad

import "context"

// Provider abstracts the model gateway. One call yields exactly one
// assistant response; token streaming is not part of this contract.
type Provider interface {
	// Chat sends the conversation plus tool definitions and returns the
	// gateway's assistant message, which may contain tool calls.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "openai").
	Name() string
}
