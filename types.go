package tracepad

import "encoding/json"

// --- LLM protocol types ---

// ChatMessage is one entry in a conversation. Role is one of "system",
// "user", "assistant", or "tool". An assistant message may carry tool calls
// alongside optional text; a tool message answers exactly one tool call and
// carries either plain text content or a content-block list.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	Blocks     []ContentBlock  `json:"blocks,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	// Metadata preserves the gateway's raw assistant message verbatim so
	// opaque fields (thought signatures) survive append/re-submit.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ToolCall is a model-originated request to execute one tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// BlockType discriminates ContentBlock variants.
type BlockType string

const (
	BlockText            BlockType = "text"
	BlockImage           BlockType = "image"
	BlockInteractivePlot BlockType = "interactive_plot"
)

// ContentBlock is one unit of structured tool output.
// Exactly one of Text, (MIME, Data), or HTML is set, per Type.
type ContentBlock struct {
	Type BlockType `json:"type"`
	Text string    `json:"text,omitempty"`
	MIME string    `json:"mime,omitempty"`
	Data string    `json:"data,omitempty"` // base64 image bytes
	HTML string    `json:"html,omitempty"` // self-contained plot fragment
}

// TextBlock returns a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock returns an image content block. data is base64-encoded;
// the MIME type is sniffed from the encoding (PNG base64 starts "iVBOR").
func ImageBlock(data string) ContentBlock {
	return ContentBlock{Type: BlockImage, MIME: SniffImageMIME(data), Data: data}
}

// PlotBlock returns an interactive-plot content block.
func PlotBlock(html string) ContentBlock {
	return ContentBlock{Type: BlockInteractivePlot, HTML: html}
}

// DataURL renders an image block as a data URL for model payloads and UI
// embedding. Only meaningful for BlockImage.
func (b ContentBlock) DataURL() string {
	return "data:" + b.MIME + ";base64," + b.Data
}

// SniffImageMIME infers the media type of a base64-encoded image.
// PNG bytes ("\x89PNG") encode to a base64 string beginning "iVBOR";
// everything else is treated as JPEG.
func SniffImageMIME(b64 string) string {
	if len(b64) >= 5 && b64[:5] == "iVBOR" {
		return "image/png"
	}
	return "image/jpeg"
}

// ChatRequest is the input to a Provider call.
type ChatRequest struct {
	Messages []ChatMessage    `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	// ReasoningEffort is a fixed hint passed through to the gateway
	// ("low", "medium", "high"). Empty omits the field.
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
}

// ChatResponse is the gateway's answer to one ChatRequest.
type ChatResponse struct {
	Content   string          `json:"content"`
	ToolCalls []ToolCall      `json:"tool_calls,omitempty"`
	Usage     Usage           `json:"usage"`
	// Raw is the gateway's assistant message as received, preserved into
	// ChatMessage.Metadata when the loop appends the message.
	Raw json.RawMessage `json:"-"`
}

// Usage reports token consumption declared by the gateway for one call.
// TotalTokens of zero means the gateway omitted usage.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ToolDefinition describes one callable tool to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// Conversation is one user's ordered message history plus the cumulative
// token counter. It has no internal locking: a conversation is mutated only
// by the single agent-loop task driving that user's turn.
type Conversation struct {
	Messages    []ChatMessage
	TotalTokens int
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

// ToolResultMessage builds a tool message answering callID. When blocks is
// non-empty the plain content holds the flattened text of the first text
// block for gateways that reject block lists.
func ToolResultMessage(callID string, blocks []ContentBlock) ChatMessage {
	msg := ChatMessage{Role: "tool", ToolCallID: callID, Blocks: blocks}
	for _, b := range blocks {
		if b.Type == BlockText {
			msg.Content = b.Text
			break
		}
	}
	return msg
}

// ToolTextMessage builds a plain-text tool message answering callID.
func ToolTextMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID}
}
