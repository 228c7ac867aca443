// Package llm defines the LLM client contract used by the orchestrator:
// a provider-agnostic request/response shape, plus one reference
// adapter for a concrete provider so the module is runnable end to end.
//
// Grounded on hector's pkg/model request/response shape
// (pkg/model/openai/openai.go), ported from hector's hand-rolled
// HTTP/SSE client onto the real sashabaranov/go-openai SDK client.
package llm

import "context"

// ResponseType discriminates an LLM turn's result as either plain text
// or a batch of requested tool calls.
type ResponseType string

const (
	ResponseText ResponseType = "text"
	ResponseToolCalls ResponseType = "tool_calls"
)

// ToolCallRequest is one tool invocation an LLM asked for.
type ToolCallRequest struct {
	ID string
	Name string
	Arguments string // raw JSON (or malformed near-JSON) as returned by the model
}

// Response is the tagged union LLM.Generate returns.
type Response struct {
	Type ResponseType
	Content string
	ToolCalls []ToolCallRequest
	Usage Usage
}

// Usage carries token accounting for SSEUsage enrichment.
type Usage struct {
	PromptTokens int
	CompletionTokens int
}

// Message is one entry of the context window sent to the model.
type Message struct {
	Role string
	Content string
	ToolCallID string
	Name string
}

// ToolSchema describes one callable tool in provider-agnostic form.
type ToolSchema struct {
	Name string
	Description string
	Parameters map[string]any // JSON Schema
}

// StreamSink receives incremental text chunks during a streaming call.
// Implementations must not block for long. internal/orchestrator sets
// no sink on its calls, so no chunks reach the event bus.
type StreamSink func(chunk string)

// CallOptions configures one LLM.Generate invocation.
type CallOptions struct {
	Provider string
	Model string
	Temperature float64
	MaxTokens int
	Tools []ToolSchema
	Stream StreamSink
}

// LLM is the provider-agnostic client contract. Implementations must
// respect ctx cancellation at every suspension point.
type LLM interface {
	Generate(ctx context.Context, messages []Message, opts CallOptions) (Response, error)
}
