package openaicompat

import (
	"encoding/json"
	"fmt"

	"github.com/tracepad/tracepad"
)

// ParseResponse converts a wire response into a tracepad.ChatResponse. The
// raw choice message is retained so the agent loop can resend it verbatim.
func ParseResponse(resp ChatResponse) (tracepad.ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return tracepad.ChatResponse{}, fmt.Errorf("response has no choices")
	}
	raw := resp.Choices[0].Message

	var msg ChoiceMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return tracepad.ChatResponse{}, fmt.Errorf("decode choice message: %w", err)
	}
	if msg.Refusal != "" {
		return tracepad.ChatResponse{}, fmt.Errorf("model refused: %s", msg.Refusal)
	}

	out := tracepad.ChatResponse{
		Content: msg.Content,
		Raw:     raw,
	}
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, tracepad.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	if resp.Usage != nil {
		out.Usage = tracepad.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}
	return out, nil
}
