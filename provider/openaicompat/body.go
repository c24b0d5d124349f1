package openaicompat

import (
	"encoding/json"

	"github.com/tracepad/tracepad"
)

// BuildBody converts tracepad messages into an OpenAI-format ChatRequest.
//
// An assistant message with Metadata is resent as the raw message the
// gateway originally returned: reasoning models attach opaque signature and
// thought fields that must survive append and re-submit byte for byte.
func BuildBody(messages []tracepad.ChatMessage, tools []tracepad.ToolDefinition, model, reasoningEffort string) ChatRequest {
	msgs := make([]json.RawMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "assistant" && len(m.Metadata) > 0 {
			msgs = append(msgs, m.Metadata)
			continue
		}
		msgs = append(msgs, marshalMessage(m))
	}

	req := ChatRequest{
		Model:           model,
		Messages:        msgs,
		ReasoningEffort: reasoningEffort,
	}
	if len(tools) > 0 {
		req.Tools = BuildToolDefs(tools)
	}
	return req
}

// marshalMessage encodes one message in the wire format.
func marshalMessage(m tracepad.ChatMessage) json.RawMessage {
	msg := Message{Role: m.Role, ToolCallID: m.ToolCallID}

	switch {
	case m.Role == "assistant" && len(m.ToolCalls) > 0:
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ToolCallRequest{
				ID:   tc.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Args),
				},
			})
		}
		if m.Content != "" {
			msg.Content = m.Content
		}

	case len(m.Blocks) > 0:
		msg.Content = buildParts(m.Blocks)

	default:
		msg.Content = m.Content
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		// Message structs contain only marshalable fields; unreachable.
		raw = json.RawMessage(`{"role":"user","content":""}`)
	}
	return raw
}

// buildParts converts content blocks into wire content parts. Interactive
// plots are HTML the model cannot render; they collapse to a placeholder so
// the model knows a plot was produced.
func buildParts(blocks []tracepad.ContentBlock) []ContentPart {
	parts := make([]ContentPart, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case tracepad.BlockText:
			parts = append(parts, ContentPart{Type: "text", Text: b.Text})
		case tracepad.BlockImage:
			parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: b.DataURL()}})
		case tracepad.BlockInteractivePlot:
			parts = append(parts, ContentPart{Type: "text", Text: "[interactive plot rendered in the UI]"})
		}
	}
	return parts
}

// BuildToolDefs converts tool definitions to the OpenAI tool format.
func BuildToolDefs(tools []tracepad.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
