// Package llm defines a provider-neutral interface for chat completions with
// optional tool use. Provider adapters live in subpackages.
package llm

// MessageRole is the author of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is a single provider-neutral conversation message.
type Message struct {
	Role    MessageRole
	Content []ContentBlock
}

// ContentBlockType discriminates the variants of ContentBlock.
type ContentBlockType string

const (
	ContentBlockTypeText       ContentBlockType = "text"
	ContentBlockTypeToolUse    ContentBlockType = "tool_use"
	ContentBlockTypeToolResult ContentBlockType = "tool_result"
)

// ContentBlock is one unit of message content: text, a tool invocation
// request, or a tool result.
type ContentBlock struct {
	Type       ContentBlockType
	Text       string
	ToolUse    *ToolUseBlock
	ToolResult *ToolResultBlock
}

// ToolUseBlock is a tool invocation requested by the assistant.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// ToolResultBlock carries the outcome of a tool invocation back to the model.
type ToolResultBlock struct {
	ID      string
	Content string
	IsError bool
}

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Schema      ToolSchema
}

// ToolSchema is the JSON schema for a tool's input.
type ToolSchema struct {
	Type       string
	Properties map[string]interface{}
	Required   []string
}

// Request is a complete completion request.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int64
}

// Response is a complete non-streaming completion response.
type Response struct {
	Content    []ContentBlock
	Usage      *Usage
	StopReason string
}

// Usage reports token consumption for a completion.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// StreamEventType discriminates the variants of StreamEvent.
type StreamEventType string

const (
	// StreamEventText carries an incremental text fragment.
	StreamEventText StreamEventType = "text"
	// StreamEventToolUse carries one complete tool invocation. Adapters
	// accumulate partial input internally and emit the block only once its
	// input JSON is whole.
	StreamEventToolUse StreamEventType = "tool_use"
	// StreamEventDone terminates the stream and carries usage and the
	// stop reason.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is one event in a streaming completion.
type StreamEvent struct {
	Type       StreamEventType
	Text       string
	ToolUse    *ToolUseBlock
	Usage      *Usage
	StopReason string
}

// Text returns the concatenated text content of a response.
func (r *Response) Text() string {
	var out string
	for _, block := range r.Content {
		if block.Type == ContentBlockTypeText {
			out += block.Text
		}
	}
	return out
}

// ToolUses returns the tool invocations requested in a response.
func (r *Response) ToolUses() []ToolUseBlock {
	var uses []ToolUseBlock
	for _, block := range r.Content {
		if block.Type == ContentBlockTypeToolUse && block.ToolUse != nil {
			uses = append(uses, *block.ToolUse)
		}
	}
	return uses
}

// NewTextMessage builds a message with a single text block.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{
		Role: role,
		Content: []ContentBlock{
			{Type: ContentBlockTypeText, Text: text},
		},
	}
}

// NewToolResultMessage builds the user message that returns tool results to
// the model.
func NewToolResultMessage(results []ToolResultBlock) Message {
	content := make([]ContentBlock, len(results))
	for i, r := range results {
		r := r
		content[i] = ContentBlock{Type: ContentBlockTypeToolResult, ToolResult: &r}
	}
	return Message{Role: RoleUser, Content: content}
}
