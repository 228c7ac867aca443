package llm

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentworld/core/internal/logger"
)

// OpenAIAdapter is the reference LLM implementation, wired to the real
// sashabaranov/go-openai client rather than a hand-rolled HTTP layer
// (see DESIGN.md — hector's own openai.go is roughly a thousand lines
// of hand-rolled SSE parsing that this SDK already does correctly).
type OpenAIAdapter struct {
	client *openai.Client
	log    *logger.Logger
}

// NewOpenAIAdapter constructs an adapter against the standard OpenAI API
// using apiKey. Credential sourcing is left to callers, who read
// provider-specific env vars themselves.
func NewOpenAIAdapter(apiKey string) *OpenAIAdapter {
	return &OpenAIAdapter{
		client: openai.NewClient(apiKey),
		log:    logger.For("llm.openai"),
	}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []ToolSchema) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func fromOpenAIToolCalls(calls []openai.ToolCall) []ToolCallRequest {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCallRequest, 0, len(calls))
	for _, c := range calls {
		out = append(out, ToolCallRequest{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: c.Function.Arguments,
		})
	}
	return out
}

// Generate implements LLM. When opts.Stream is set, it streams the
// response and invokes the sink per chunk, still returning the
// accumulated Response at the end so the orchestrator's non-streaming
// dispatch logic is unchanged.
func (a *OpenAIAdapter) Generate(ctx context.Context, messages []Message, opts CallOptions) (Response, error) {
	req := openai.ChatCompletionRequest{
		Model:       opts.Model,
		Messages:    toOpenAIMessages(messages),
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
		Tools:       toOpenAITools(opts.Tools),
	}

	if opts.Stream == nil {
		return a.generateOnce(ctx, req)
	}
	return a.generateStreaming(ctx, req, opts.Stream)
}

func (a *OpenAIAdapter) generateOnce(ctx context.Context, req openai.ChatCompletionRequest) (Response, error) {
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("llm: empty choices in response")
	}
	choice := resp.Choices[0]
	usage := Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens}

	if len(choice.Message.ToolCalls) > 0 {
		return Response{
			Type:      ResponseToolCalls,
			Content:   choice.Message.Content,
			ToolCalls: fromOpenAIToolCalls(choice.Message.ToolCalls),
			Usage:     usage,
		}, nil
	}
	return Response{Type: ResponseText, Content: choice.Message.Content, Usage: usage}, nil
}

func (a *OpenAIAdapter) generateStreaming(ctx context.Context, req openai.ChatCompletionRequest, sink StreamSink) (Response, error) {
	req.Stream = true
	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return Response{}, err
	}
	defer stream.Close()

	var content string
	var toolCalls []openai.ToolCall
	var usage Usage

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Response{}, err
		}
		if chunk.Usage != nil {
			usage = Usage{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content += delta.Content
			sink(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			toolCalls = mergeToolCallDelta(toolCalls, tc)
		}
	}

	if len(toolCalls) > 0 {
		return Response{Type: ResponseToolCalls, Content: content, ToolCalls: fromOpenAIToolCalls(toolCalls), Usage: usage}, nil
	}
	return Response{Type: ResponseText, Content: content, Usage: usage}, nil
}

// mergeToolCallDelta accumulates streamed tool-call fragments (the API
// sends name/arguments in pieces keyed by Index) into whole ToolCalls.
func mergeToolCallDelta(acc []openai.ToolCall, delta openai.ToolCall) []openai.ToolCall {
	idx := 0
	if delta.Index != nil {
		idx = *delta.Index
	}
	for len(acc) <= idx {
		acc = append(acc, openai.ToolCall{Type: openai.ToolTypeFunction})
	}
	if delta.ID != "" {
		acc[idx].ID = delta.ID
	}
	if delta.Function.Name != "" {
		acc[idx].Function.Name += delta.Function.Name
	}
	if delta.Function.Arguments != "" {
		acc[idx].Function.Arguments += delta.Function.Arguments
	}
	return acc
}
