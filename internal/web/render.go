package web

import (
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/tracepad/tracepad"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type bubbleData struct {
	Role   string
	IsUser bool
	HTML   template.HTML
}

type imageData struct {
	DataURL string
}

type plotData struct {
	HTML string
}

type tokenData struct {
	Tokens int
}

type traceCall struct {
	ID   string
	Name string
	Args string
}

type traceEntry struct {
	RoleUpper  string
	BadgeClass string
	Content    string
	ToolCallID string
	ToolCalls  []traceCall
	Parallel   bool
}

var badgeClasses = map[string]string{
	"system":    "badge-warning",
	"user":      "badge-primary",
	"assistant": "badge-secondary",
	"tool":      "badge-accent",
}

// fragment renders one named template to a string.
func fragment(name string, data any) (string, error) {
	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return b.String(), nil
}

// userBubble renders a user message into the chat container.
func userBubble(content string) (string, error) {
	return fragment("chat-bubble", bubbleData{Role: "User", IsUser: true, HTML: renderMarkdown(content)})
}

// traceFragment renders one conversation message into the trace panel.
func traceFragment(msg *tracepad.ChatMessage) (string, error) {
	e := traceEntry{
		RoleUpper:  strings.ToUpper(msg.Role),
		BadgeClass: badgeClasses[msg.Role],
		Content:    msg.Content,
		ToolCallID: msg.ToolCallID,
	}
	if e.BadgeClass == "" {
		e.BadgeClass = "badge-ghost"
	}
	if msg.Role == "tool" && e.Content == "" {
		e.Content = blockText(msg.Blocks)
	}
	for _, tc := range msg.ToolCalls {
		e.ToolCalls = append(e.ToolCalls, traceCall{ID: tc.ID, Name: tc.Name, Args: string(tc.Args)})
	}
	e.Parallel = len(e.ToolCalls) > 1
	return fragment("trace-entry", e)
}

// blockText extracts the text portion of a block list for the trace view.
func blockText(blocks []tracepad.ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case tracepad.BlockText:
			parts = append(parts, b.Text)
		case tracepad.BlockImage:
			parts = append(parts, "[image]")
		case tracepad.BlockInteractivePlot:
			parts = append(parts, "[interactive plot]")
		}
	}
	return strings.Join(parts, "\n")
}

// renderEvent converts one agent-loop event into the HTML fragments the
// browser swaps into its containers.
func renderEvent(ev tracepad.Event) (string, error) {
	var b strings.Builder

	switch ev.Type {
	case tracepad.EventUsage:
		frag, err := fragment("token-count", tokenData{Tokens: ev.TotalTokens})
		if err != nil {
			return "", err
		}
		b.WriteString(frag)

	case tracepad.EventMessage:
		msg := ev.Message
		trace, err := traceFragment(msg)
		if err != nil {
			return "", err
		}
		b.WriteString(trace)

		switch {
		case msg.Role == "assistant" && len(msg.ToolCalls) == 0:
			// Final response: show it in the chat panel.
			frag, err := fragment("chat-bubble", bubbleData{Role: "Assistant", HTML: renderMarkdown(msg.Content)})
			if err != nil {
				return "", err
			}
			b.WriteString(frag)

		case msg.Role == "tool":
			// Rich tool output lands in the chat panel as it arrives.
			for _, blk := range msg.Blocks {
				switch blk.Type {
				case tracepad.BlockImage:
					frag, err := fragment("chat-image", imageData{DataURL: blk.DataURL()})
					if err != nil {
						return "", err
					}
					b.WriteString(frag)
				case tracepad.BlockInteractivePlot:
					frag, err := fragment("chat-plot", plotData{HTML: blk.HTML})
					if err != nil {
						return "", err
					}
					b.WriteString(frag)
				}
			}
		}
	}

	return b.String(), nil
}
