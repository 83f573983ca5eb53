package providers

import (
	"context"
	"encoding/json"
)

// Provider is the interface all LLM providers must implement.
type Provider interface {
	// Chat sends messages to the LLM and returns a response.
	// tools defines available tool schemas; model overrides the default.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ChatStream sends messages and streams response chunks via callback.
	// Returns the final complete response after streaming ends.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// ThinkingCapable is implemented by providers that support extended/reasoning thinking
// (Anthropic's thinking blocks, OpenAI's reasoning effort, DashScope's QwQ reasoning).
// The agent loop type-asserts for this before setting OptThinkingLevel, so a provider
// that doesn't implement it is never handed an option it would silently ignore.
type ThinkingCapable interface {
	SupportsThinking() bool
}

// ChatRequest.Options keys. Left as map entries rather than ChatRequest fields since
// each provider's request builder only reads the ones it understands, and most options
// are looked at by exactly one provider family.
const (
	OptThinkingLevel = "thinking_level" // "off", "low", "medium", "high"
	OptMaxTokens     = "max_tokens"
	OptTemperature   = "temperature"
)

// ChatRequest contains the input for a Chat/ChatStream call.
type ChatRequest struct {
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Model    string           `json:"model,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// ChatResponse is the result from an LLM call.
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"` // "stop", "tool_calls", "length"
	Usage        *Usage     `json:"usage,omitempty"`

	// RawAssistantContent is the provider's native content-block encoding (e.g.
	// Anthropic's thinking+tool_use blocks), preserved verbatim so a later turn can pass
	// it back unchanged instead of reconstructing it from the normalized ToolCalls/Content
	// fields and losing provider-specific context (redacted thinking signatures, etc.).
	RawAssistantContent json.RawMessage `json:"raw_assistant_content,omitempty"`
}

// StreamChunk is a piece of a streaming response.
type StreamChunk struct {
	Content   string `json:"content,omitempty"`
	Thinking  string `json:"thinking,omitempty"`
	Done      bool   `json:"done,omitempty"`
}

// ImageContent represents a base64-encoded image for vision-capable models.
type ImageContent struct {
	MimeType string `json:"mime_type"` // e.g. "image/jpeg"
	Data     string `json:"data"`      // base64-encoded image bytes
}

// Message represents a conversation message.
type Message struct {
	Role       string         `json:"role"`                  // "system", "user", "assistant", "tool"
	Content    string         `json:"content"`
	Images     []ImageContent `json:"images,omitempty"`      // vision: base64 images
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"` // for role="tool" responses

	// RawAssistantContent carries an assistant message's ChatResponse.RawAssistantContent
	// forward into session history, so the next turn's request rebuild can hand the
	// provider back its own native block encoding instead of a lossy reconstruction.
	RawAssistantContent json.RawMessage `json:"raw_assistant_content,omitempty"`
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the schema for a function tool.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens        int `json:"prompt_tokens"`
	CompletionTokens    int `json:"completion_tokens"`
	TotalTokens         int `json:"total_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_input_tokens,omitempty"`

	// ThinkingTokens estimates tokens spent on extended-thinking/reasoning content,
	// separate from CompletionTokens since provider pricing (and the session's
	// accumulated OutputTokens bookkeeping) treats them differently.
	ThinkingTokens int `json:"thinking_tokens,omitempty"`
}
