// Package weather provides the get_weather demo tool.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tracepad/tracepad"
)

// Tool answers weather questions with a canned report. It exists to give
// the agent a trivially-verifiable tool alongside run_code.
type Tool struct{}

// compile-time check
var _ tracepad.Tool = (*Tool)(nil)

// New creates the get_weather tool.
func New() *Tool {
	return &Tool{}
}

func (t *Tool) Definitions() []tracepad.ToolDefinition {
	return []tracepad.ToolDefinition{{
		Name:        "get_weather",
		Description: "Get the current weather for a city",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string","description":"The city name"}},"required":["city"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (tracepad.ToolResult, error) {
	var params struct {
		City string `json:"city"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return tracepad.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if strings.TrimSpace(params.City) == "" {
		return tracepad.ToolResult{Error: "no city provided"}, nil
	}
	return tracepad.ToolResult{
		Content: fmt.Sprintf("The weather in %s is 72°F and sunny.", params.City),
	}, nil
}
