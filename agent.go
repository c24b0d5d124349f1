package tracepad

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// EventType identifies the kind of agent-loop event.
type EventType string

const (
	// EventMessage carries a message just appended to the conversation:
	// an assistant message (with or without tool calls) or a tool result.
	EventMessage EventType = "message"
	// EventUsage carries the new cumulative token total after a model call.
	EventUsage EventType = "usage"
)

// Event is one entry in the totally-ordered stream a turn produces.
// Message events are emitted in the exact order their messages are appended
// to the conversation.
type Event struct {
	Type        EventType
	Message     *ChatMessage // set for EventMessage
	TotalTokens int          // set for EventUsage
}

// maxTurnIterations caps model calls per turn so a model that never stops
// requesting tools cannot loop forever.
const maxTurnIterations = 32

// nopLogger discards all records.
var nopLogger = slog.New(slog.DiscardHandler)

// Agent drives one user turn at a time: it calls the model gateway,
// dispatches tool calls in declaration order, accumulates usage, and emits
// every appended message as an event.
type Agent struct {
	provider        Provider
	tools           *ToolRegistry
	systemPrompt    string
	reasoningEffort string
	tracer          Tracer
	logger          *slog.Logger
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithSystemPrompt overrides DefaultSystemPrompt.
func WithSystemPrompt(p string) AgentOption {
	return func(a *Agent) { a.systemPrompt = p }
}

// WithReasoningEffort sets the fixed reasoning hint sent on every model call.
func WithReasoningEffort(effort string) AgentOption {
	return func(a *Agent) { a.reasoningEffort = effort }
}

// WithTracer enables span emission around model calls and tool dispatch.
func WithTracer(t Tracer) AgentOption {
	return func(a *Agent) { a.tracer = t }
}

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// NewAgent creates an agent over the given gateway and tool table.
func NewAgent(provider Provider, tools *ToolRegistry, opts ...AgentOption) *Agent {
	a := &Agent{
		provider:     provider,
		tools:        tools,
		systemPrompt: DefaultSystemPrompt,
		logger:       nopLogger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RunTurn drives one agent turn over conv, which must already end with the
// user's message. Events are sent on ch in append order; ch is closed when
// the turn completes, whether normally or not. The returned error is non-nil
// only for a model-gateway failure or cancellation — both abort the turn
// with partial conversation state retained.
//
// RunTurn is the sole mutator of conv for the duration of the turn.
func (a *Agent) RunTurn(ctx context.Context, conv *Conversation, ch chan<- Event) error {
	defer close(ch)

	if len(conv.Messages) == 0 || conv.Messages[0].Role != "system" {
		conv.Messages = append([]ChatMessage{SystemMessage(a.systemPrompt)}, conv.Messages...)
	}

	var span Span
	if a.tracer != nil {
		ctx, span = a.tracer.Start(ctx, "agent.turn")
		defer span.End()
	}

	for iter := 0; iter < maxTurnIterations; iter++ {
		resp, err := a.chat(ctx, conv)
		if err != nil {
			a.logger.Error("model call failed", "provider", a.provider.Name(), "error", err)
			if span != nil {
				span.Error(err)
			}
			return err
		}

		// Cumulative usage. A gateway that omits usage contributes nothing
		// and emits no event for this call.
		if resp.Usage.TotalTokens > 0 {
			conv.TotalTokens += resp.Usage.TotalTokens
			if err := emit(ctx, ch, Event{Type: EventUsage, TotalTokens: conv.TotalTokens}); err != nil {
				return err
			}
		}

		assistant := ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			Metadata:  resp.Raw,
		}
		conv.Messages = append(conv.Messages, assistant)
		if err := emit(ctx, ch, Event{Type: EventMessage, Message: &assistant}); err != nil {
			return err
		}

		// Final response: text with no tool calls terminates the turn.
		if len(resp.ToolCalls) == 0 {
			return nil
		}

		// Dispatch each call in declaration order. Results are appended and
		// emitted contiguously, before the next model call.
		for _, tc := range resp.ToolCalls {
			result := a.dispatch(ctx, tc)
			tool := result
			tool.ToolCallID = tc.ID
			conv.Messages = append(conv.Messages, tool)
			if err := emit(ctx, ch, Event{Type: EventMessage, Message: &tool}); err != nil {
				return err
			}
		}
	}

	return fmt.Errorf("turn exceeded %d model calls without a final response", maxTurnIterations)
}

// chat performs one traced model call.
func (a *Agent) chat(ctx context.Context, conv *Conversation) (ChatResponse, error) {
	var span Span
	if a.tracer != nil {
		var cctx context.Context
		cctx, span = a.tracer.Start(ctx, "agent.model_call",
			StringAttr("provider", a.provider.Name()),
			IntAttr("messages", len(conv.Messages)))
		ctx = cctx
		defer span.End()
	}
	resp, err := a.provider.Chat(ctx, ChatRequest{
		Messages:        conv.Messages,
		Tools:           a.tools.AllDefinitions(),
		ReasoningEffort: a.reasoningEffort,
	})
	if err != nil && span != nil {
		span.Error(err)
	}
	if err == nil && span != nil {
		span.SetAttr(IntAttr("tool_calls", len(resp.ToolCalls)), IntAttr("total_tokens", resp.Usage.TotalTokens))
	}
	return resp, err
}

// dispatch executes one tool call and converts the outcome to a tool
// message. A failing tool is not a failing turn: errors become the result's
// text so the model can observe and recover.
func (a *Agent) dispatch(ctx context.Context, tc ToolCall) ChatMessage {
	var span Span
	if a.tracer != nil {
		var cctx context.Context
		cctx, span = a.tracer.Start(ctx, "agent.tool",
			StringAttr("tool", tc.Name), StringAttr("call_id", tc.ID))
		ctx = cctx
		defer span.End()
	}

	args := tc.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	result, err := a.tools.Execute(ctx, tc.Name, args)
	if err != nil {
		a.logger.Warn("tool invocation failed", "tool", tc.Name, "error", err)
		if span != nil {
			span.Error(err)
		}
		return ToolTextMessage(tc.ID, "error: "+err.Error())
	}
	if result.Error != "" {
		return ToolTextMessage(tc.ID, "error: "+result.Error)
	}
	if len(result.Blocks) > 0 {
		return ToolResultMessage(tc.ID, result.Blocks)
	}
	return ToolTextMessage(tc.ID, result.Content)
}

// emit sends an event without ever blocking past cancellation: a dropped
// SSE client cancels ctx and the loop unwinds at the next send.
func emit(ctx context.Context, ch chan<- Event, ev Event) error {
	select {
	case ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
