// Package runcode exposes the per-user code sandbox as an agent tool.
package runcode

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tracepad/tracepad"
)

// Resolver finds the calling user's sandbox controller, constructing one
// lazily if needed. The session registry provides this.
type Resolver func(ctx context.Context, userID string) (tracepad.CodeRunner, error)

// Tool runs Python code in the caller's persistent sandbox. Variables,
// imports, and loaded data survive across calls within one session.
type Tool struct {
	resolve Resolver
}

// compile-time check
var _ tracepad.Tool = (*Tool)(nil)

// New creates the run_code tool over the given resolver.
func New(resolve Resolver) *Tool {
	return &Tool{resolve: resolve}
}

func (t *Tool) Definitions() []tracepad.ToolDefinition {
	return []tracepad.ToolDefinition{{
		Name: "run_code",
		Description: "Execute Python code in a persistent sandbox. State (variables, imports, " +
			"dataframes) is preserved between calls. matplotlib figures, plotly figures, and " +
			"PIL images are captured and returned automatically.",
		Parameters: json.RawMessage(`{"type":"object","properties":{"code":{"type":"string","description":"Python code to execute"}},"required":["code"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (tracepad.ToolResult, error) {
	var params struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return tracepad.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if strings.TrimSpace(params.Code) == "" {
		return tracepad.ToolResult{Error: "no code provided"}, nil
	}

	userID := tracepad.UserIDFromContext(ctx)
	if userID == "" {
		return tracepad.ToolResult{Error: "no user in context"}, nil
	}

	runner, err := t.resolve(ctx, userID)
	if err != nil {
		return tracepad.ToolResult{Error: "sandbox unavailable: " + err.Error()}, nil
	}

	res, err := runner.Submit(ctx, params.Code)
	if err != nil {
		switch {
		case errors.Is(err, tracepad.ErrExecutionTimeout):
			return tracepad.ToolResult{Error: "execution timed out"}, nil
		case errors.Is(err, tracepad.ErrExecutionUnavailable):
			return tracepad.ToolResult{Error: "sandbox is not running; it may have expired"}, nil
		default:
			return tracepad.ToolResult{Error: err.Error()}, nil
		}
	}

	return tracepad.ToolResult{
		Content: renderText(res),
		Blocks:  assembleBlocks(res),
	}, nil
}

// renderText combines stdout and stderr into one labeled text section.
// Both empty yields "(no output)" so the model always observes something.
func renderText(res tracepad.ExecResult) string {
	var parts []string
	if res.Stdout != "" {
		parts = append(parts, "stdout:\n"+res.Stdout)
	}
	if res.Stderr != "" {
		parts = append(parts, "stderr:\n"+res.Stderr)
	}
	if len(parts) == 0 {
		return "(no output)"
	}
	return strings.Join(parts, "\n\n")
}

// assembleBlocks orders the result as one text block, then images, then
// interactive plots.
func assembleBlocks(res tracepad.ExecResult) []tracepad.ContentBlock {
	blocks := make([]tracepad.ContentBlock, 0, 1+len(res.Images)+len(res.Plots))
	blocks = append(blocks, tracepad.TextBlock(renderText(res)))
	for _, img := range res.Images {
		blocks = append(blocks, tracepad.ImageBlock(img))
	}
	for _, html := range res.Plots {
		blocks = append(blocks, tracepad.PlotBlock(html))
	}
	return blocks
}
