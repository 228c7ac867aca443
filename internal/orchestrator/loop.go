package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/agentworld/core/internal/hitl"
	"github.com/agentworld/core/internal/llm"
	"github.com/agentworld/core/internal/memory"
	"github.com/agentworld/core/internal/toolregistry"
	"github.com/agentworld/core/internal/tools/shellcmd"
	"github.com/agentworld/core/internal/worldmodel"
)

// approvalTimeout bounds how long a gated tool call waits for a human
// decision before it falls back to its default option.
const approvalTimeout = 5 * time.Minute

var noopTracer = noop.NewTracerProvider().Tracer("orchestrator")

// startSpan wraps rt.Tracer.Start, falling back to a no-op tracer when
// Tracer is unset (e.g. in tests that construct a Runtime without
// telemetry.Init).
func (rt *Runtime) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	tracer := rt.Tracer
	if tracer == nil {
		tracer = noopTracer
	}
	return tracer.Start(ctx, name)
}

const (
	hopGuardrailLimit     = 50
	maxEmptyTextRetries   = 2
	maxEmptyToolCallRetry = 2
	invalidToolCallName   = "__invalid_tool_call__"
)

// loopState carries the mutable continuation state (hop count, retry
// counters, a pending guardrail message) shared by pointer across the
// recursive calls between executeOneToolCall and
// continueLLMAfterToolExecution.
type loopState struct {
	hopCount                int
	emptyTextRetries        int
	emptyToolCallRetries    int
	transientGuardrailError string
}

// beginActivity/endActivity implement the pendingOperations
// bookkeeping backing the `activity` channel (the world listener in
// internal/subscribers watches for the idle transition this produces).
func (rt *Runtime) beginActivity(world *worldmodel.World, source, chatID string) {
	n := rt.activityBegin(world.ID)
	rt.Bus.Emit(context.Background(), worldmodel.ChannelWorld, worldmodel.ActivityEvent{
		Type:              worldmodel.ActivityResponseStart,
		PendingOperations: n,
		Source:            source,
		ChatID:            chatID,
	})
}

func (rt *Runtime) endActivity(world *worldmodel.World, source, chatID string) {
	n := rt.activityEnd(world.ID)
	evtType := worldmodel.ActivityResponseEnd
	if n == 0 {
		evtType = worldmodel.ActivityIdle
	}
	rt.Bus.Emit(context.Background(), worldmodel.ChannelWorld, worldmodel.ActivityEvent{
		Type:              evtType,
		PendingOperations: n,
		Source:            source,
		ChatID:            chatID,
	})
}

// ProcessAgentMessage runs one agent's reaction to an inbound message:
// prepare context, call the model, and dispatch on the response type.
func (rt *Runtime) ProcessAgentMessage(ctx context.Context, world *worldmodel.World, agent *worldmodel.Agent, event worldmodel.MessageEvent) {
	chatID := event.ChatID
	if chatID == "" {
		chatID = world.CurrentChatID
	}

	ctx, span := rt.startSpan(ctx, "processAgentMessage")
	defer span.End()

	rt.beginActivity(world, agent.ID, chatID)
	handle := rt.Begin(ctx, world.ID, chatID)
	defer func() {
		handle.Complete()
		rt.endActivity(world, agent.ID, chatID)
	}()

	messages := rt.PrepareMessages(world, agent, chatID)
	agent.LLMCallCount++
	rt.persistAgent(handle.Signal(), world, agent)

	response, err := rt.callLLM(handle.Signal(), world, agent, messages, chatID)
	if err != nil {
		if err == ErrMessageProcessingCanceled {
			return
		}
		rt.Log.Error("llm call failed", "world_id", world.ID, "agent_id", agent.ID, "error", err)
		return
	}

	rt.dispatch(handle, world, agent, event, chatID, response, &loopState{})
}

func (rt *Runtime) callLLM(ctx context.Context, world *worldmodel.World, agent *worldmodel.Agent, messages []llmMessage, chatID string) (llm.Response, error) {
	if rt.Metrics != nil {
		rt.Metrics.LLMCalls.WithLabelValues(world.ID, agent.ID).Inc()
	}

	opts := llm.CallOptions{
		Provider:    agent.Provider,
		Model:       agent.Model,
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxTokens,
	}
	for _, t := range rt.Tools.GetToolsForWorld() {
		opts.Tools = append(opts.Tools, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}

	select {
	case <-ctx.Done():
		return llm.Response{}, ErrMessageProcessingCanceled
	default:
	}

	return rt.LLM.Generate(ctx, messages, opts)
}

// dispatch routes a model response by its type: plain text publishes
// directly, tool calls go through handleToolCalls.
func (rt *Runtime) dispatch(handle *ProcessingHandle, world *worldmodel.World, agent *worldmodel.Agent, event worldmodel.MessageEvent, chatID string, response llm.Response, state *loopState) {
	switch response.Type {
	case llm.ResponseText:
		if strings.TrimSpace(response.Content) == "" {
			rt.Log.Warn("empty text response", "world_id", world.ID, "agent_id", agent.ID)
			return
		}
		rt.handleTextResponse(handle, world, agent, response.Content, newMessageID(), event, chatID)
	case llm.ResponseToolCalls:
		rt.handleToolCalls(handle, world, agent, event, chatID, response.ToolCalls, state)
	}
}

// selectSingleCall implements the single-tool-per-hop policy: only the
// first named call in a batch is honored, the rest are dropped.
func selectSingleCall(calls []llm.ToolCallRequest) (llm.ToolCallRequest, bool, int) {
	var filtered []llm.ToolCallRequest
	for _, c := range calls {
		if strings.TrimSpace(c.Name) != "" {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return llm.ToolCallRequest{}, false, len(calls)
	}
	return filtered[0], true, len(filtered) - 1
}

func (rt *Runtime) handleToolCalls(handle *ProcessingHandle, world *worldmodel.World, agent *worldmodel.Agent, event worldmodel.MessageEvent, chatID string, calls []llm.ToolCallRequest, state *loopState) {
	call, ok, dropped := selectSingleCall(calls)
	if dropped > 0 {
		rt.Log.Warn("multiple tool calls returned, dropping all but the first", "world_id", world.ID, "agent_id", agent.ID, "dropped", dropped)
	}
	if !ok {
		rt.recoverMalformedToolCall(handle, world, agent, event, chatID, "", state)
		return
	}
	rt.executeOneToolCall(handle, world, agent, event, chatID, call, state)
}

// executeOneToolCall validates, dispatches, and records the outcome of
// a single tool invocation, then continues the conversation.
func (rt *Runtime) executeOneToolCall(handle *ProcessingHandle, world *worldmodel.World, agent *worldmodel.Agent, event worldmodel.MessageEvent, chatID string, call llm.ToolCallRequest, state *loopState) {
	spanCtx, span := rt.startSpan(handle.Signal(), "tool:"+call.Name)
	defer span.End()

	messageID := newMessageID()
	toolCall := worldmodel.ToolCall{
		ID:   call.ID,
		Type: "function",
		Function: worldmodel.ToolCallFunction{
			Name:      call.Name,
			Arguments: call.Arguments,
		},
	}
	memory.SaveAssistantToolCall(spanCtx, rt.Store, world, agent, toolCall, messageID, chatID)

	rt.Bus.Emit(context.Background(), worldmodel.ChannelMessage, worldmodel.MessageEvent{
		Content:   fmt.Sprintf("calling tool: %s", call.Name),
		Sender:    agent.ID,
		Role:      worldmodel.RoleAssistant,
		ToolCalls: []worldmodel.ToolCall{toolCall},
		Timestamp: messageTimestamp(),
		MessageID: messageID,
		ChatID:    chatID,
	})

	tool, found := rt.Tools.Lookup(call.Name)
	if !found {
		rt.failToolCall(handle, world, agent, chatID, messageID, call.ID, call.Name,
			fmt.Sprintf("Error executing tool: Tool not found: %s", call.Name))
		rt.continueLLMAfterToolExecution(handle, world, agent, event, chatID, state)
		return
	}

	args, err := sanitizeToolArguments(call.Arguments)
	if err != nil {
		rt.failToolCall(handle, world, agent, chatID, messageID, call.ID, call.Name,
			fmt.Sprintf("Error executing tool: malformed arguments: %v", err))
		rt.continueLLMAfterToolExecution(handle, world, agent, event, chatID, state)
		return
	}

	if err := validateToolArguments(tool, args); err != nil {
		rt.failToolCall(handle, world, agent, chatID, messageID, call.ID, call.Name,
			fmt.Sprintf("Error executing tool: %v", err))
		rt.continueLLMAfterToolExecution(handle, world, agent, event, chatID, state)
		return
	}

	workingDirectory, _ := world.Variable("working_directory")
	if call.Name == shellcmd.ToolName {
		var shArgs shellcmd.Args
		raw, _ := json.Marshal(args)
		_ = json.Unmarshal(raw, &shArgs)
		trustedCwd := workingDirectory
		if sc, ok := tool.(*shellcmd.Tool); ok {
			trustedCwd = sc.TrustedCwd(workingDirectory)
		}
		if err := shellcmd.Validate(shArgs, trustedCwd); err != nil {
			rt.failToolCall(handle, world, agent, chatID, messageID, call.ID, call.Name,
				fmt.Sprintf("Error executing tool: %v", err))
			rt.continueLLMAfterToolExecution(handle, world, agent, event, chatID, state)
			return
		}
	}

	if world.RequiresApproval(call.Name) {
		rt.requestToolApproval(handle, world, agent, chatID, call, args, workingDirectory)
		return
	}

	rt.PublishToolEvent(world, worldmodel.ToolEvent{
		AgentName: agent.ID,
		Type:      worldmodel.ToolStart,
		MessageID: messageID,
		ChatID:    chatID,
		ToolExecution: worldmodel.ToolExecution{
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Input:      args,
		},
	})

	select {
	case <-handle.Signal().Done():
		rt.cancelToolCall(world, agent, chatID, messageID, call.ID, call.Name)
		return
	default:
	}

	req := toolregistry.ExecRequest{
		WorldID:          world.ID,
		ChatID:           chatID,
		ToolCallID:       call.ID,
		Arguments:        args,
		WorkingDirectory: workingDirectory,
		Progress: func(chunk string) {
			rt.PublishToolEvent(world, worldmodel.ToolEvent{
				AgentName: agent.ID,
				Type:      worldmodel.ToolProgress,
				MessageID: messageID,
				ChatID:    chatID,
				ToolExecution: worldmodel.ToolExecution{
					ToolName:   call.Name,
					ToolCallID: call.ID,
					Result:     chunk,
				},
			})
		},
	}

	result, err := tool.Execute(spanCtx, req)

	if handle.IsStopped() {
		rt.cancelToolCall(world, agent, chatID, messageID, call.ID, call.Name)
		return
	}

	if err != nil {
		rt.failToolCall(handle, world, agent, chatID, messageID, call.ID, call.Name,
			fmt.Sprintf("Error executing tool: %v", err))
		rt.continueLLMAfterToolExecution(handle, world, agent, event, chatID, state)
		return
	}

	serialized := serializeResult(result.Output)
	rt.PublishToolEvent(world, worldmodel.ToolEvent{
		AgentName: agent.ID,
		Type:      worldmodel.ToolResult,
		MessageID: messageID,
		ChatID:    chatID,
		ToolExecution: worldmodel.ToolExecution{
			ToolName:   call.Name,
			ToolCallID: call.ID,
			Result:     truncateForPreview(serialized),
			ResultSize: len(serialized),
		},
	})
	memory.SaveTool(handle.Signal(), rt.Store, world, agent, serialized, call.ID, chatID, "")
	agent.UpdateToolCallStatus(call.ID, result.Output)
	if rt.Metrics != nil {
		rt.Metrics.ToolExecutions.WithLabelValues(call.Name, "success").Inc()
	}

	state.hopCount++
	rt.continueLLMAfterToolExecution(handle, world, agent, event, chatID, state)
}

// requestToolApproval defers a gated tool call to the HITL gateway:
// it blocks (on handle's context) until the human approves, denies,
// or the request times out to its default, then hands the decision
// off as a tool-result envelope for internal/subscribers to pick up
// and re-execute or record. The LLM continuation resumes later, via
// ContinueAfterToolApproval, once that decision is recorded.
func (rt *Runtime) requestToolApproval(handle *ProcessingHandle, world *worldmodel.World, agent *worldmodel.Agent, chatID string, call llm.ToolCallRequest, args map[string]any, workingDirectory string) {
	req := hitl.Request{
		RequestID: call.ID,
		Title:     "Tool approval required",
		Message:   fmt.Sprintf("%s wants to run %s", agent.ID, call.Name),
		Options: []hitl.Option{
			{ID: "approve", Label: "Approve"},
			{ID: "deny", Label: "Deny"},
		},
		DefaultOptionID: "deny",
		Timeout:         approvalTimeout,
		ChatID:          chatID,
	}

	res, err := rt.HITL.RequestOption(handle.Signal(), world.ID, req, func(worldID string, r hitl.Request) {
		options := make([]map[string]string, len(r.Options))
		for i, opt := range r.Options {
			options[i] = map[string]string{"id": opt.ID, "label": opt.Label}
		}
		rt.PublishSystemEvent(world, r.Message, "hitl-option-request", chatID, map[string]any{
			"requestId":       r.RequestID,
			"options":         options,
			"defaultOptionId": r.DefaultOptionID,
			"timeoutMs":       r.Timeout.Milliseconds(),
			"toolName":        call.Name,
		})
	})
	if err != nil {
		rt.cancelToolCall(world, agent, chatID, newMessageID(), call.ID, call.Name)
		return
	}

	rt.PublishToolResult(world, agent.ID, PublishToolResultOptions{
		ToolCallID:       call.ID,
		ChatID:           chatID,
		Decision:         res.OptionID,
		Scope:            string(res.Source),
		ToolName:         call.Name,
		ToolArgs:         args,
		WorkingDirectory: workingDirectory,
	})
}

func (rt *Runtime) failToolCall(handle *ProcessingHandle, world *worldmodel.World, agent *worldmodel.Agent, chatID, messageID, toolCallID, toolName, errMsg string) {
	memory.SaveTool(handle.Signal(), rt.Store, world, agent, errMsg, toolCallID, chatID, "")
	agent.UpdateToolCallStatus(toolCallID, map[string]any{"error": errMsg})
	rt.PublishToolEvent(world, worldmodel.ToolEvent{
		AgentName: agent.ID,
		Type:      worldmodel.ToolError,
		MessageID: messageID,
		ChatID:    chatID,
		ToolExecution: worldmodel.ToolExecution{
			ToolName:   toolName,
			ToolCallID: toolCallID,
			Error:      errMsg,
		},
	})
	if rt.Metrics != nil {
		rt.Metrics.ToolExecutions.WithLabelValues(toolName, "error").Inc()
	}
}

// cancelToolCall records a tool call as canceled when Stop fires while
// it is in flight or just before dispatch.
func (rt *Runtime) cancelToolCall(world *worldmodel.World, agent *worldmodel.Agent, chatID, messageID, toolCallID, toolName string) {
	agent.UpdateToolCallStatus(toolCallID, map[string]any{"canceled": true})
	rt.PublishToolEvent(world, worldmodel.ToolEvent{
		AgentName: agent.ID,
		Type:      worldmodel.ToolError,
		MessageID: messageID,
		ChatID:    chatID,
		ToolExecution: worldmodel.ToolExecution{
			ToolName:   toolName,
			ToolCallID: toolCallID,
			Error:      "canceled by user",
		},
	})
}

// callingToolText is the plain-text tool-intent fallback pattern.
var callingToolText = regexp.MustCompile(`(?is)^calling\s+tool\s*:\s*(\w+)\s*(\{[\s\S]*\})?$`)

// continueLLMAfterToolExecution re-prepares context and calls the
// model again after a tool result has been recorded, applying the
// hop guardrail and empty-response retry budgets along the way.
func (rt *Runtime) continueLLMAfterToolExecution(handle *ProcessingHandle, world *worldmodel.World, agent *worldmodel.Agent, event worldmodel.MessageEvent, chatID string, state *loopState) {
	if state.hopCount > hopGuardrailLimit {
		if rt.Metrics != nil {
			rt.Metrics.HopGuardrails.Inc()
		}
		rt.PublishSystemEvent(world, "System error: tool continuation exceeded 50 hops without resolving; resetting.", "hop-guardrail", chatID, nil)
		rt.PublishToolEvent(world, worldmodel.ToolEvent{
			AgentName:     agent.ID,
			Type:          worldmodel.ToolError,
			MessageID:     newMessageID(),
			ChatID:        chatID,
			ToolExecution: worldmodel.ToolExecution{Error: "hop guardrail exceeded"},
		})
		state.transientGuardrailError = "System error: tool continuation exceeded 50 hops without resolving; resetting."
		state.hopCount = 0
	}

	messages := rt.PrepareMessages(world, agent, chatID)
	if state.transientGuardrailError != "" {
		messages = append(messages, llmMessage{Role: "user", Content: state.transientGuardrailError})
		state.transientGuardrailError = ""
	}

	agent.LLMCallCount++
	rt.persistAgent(handle.Signal(), world, agent)

	response, err := rt.callLLM(handle.Signal(), world, agent, messages, chatID)
	if err != nil {
		if err != ErrMessageProcessingCanceled {
			rt.Log.Error("llm continuation failed", "world_id", world.ID, "agent_id", agent.ID, "error", err)
		}
		return
	}

	response = applyPlainTextToolIntentFallback(response)

	switch response.Type {
	case llm.ResponseToolCalls:
		call, ok, dropped := selectSingleCall(response.ToolCalls)
		if dropped > 0 {
			rt.Log.Warn("multiple tool calls returned in continuation, dropping all but the first", "world_id", world.ID, "agent_id", agent.ID, "dropped", dropped)
		}
		if !ok {
			rt.recoverMalformedToolCall(handle, world, agent, event, chatID, "", state)
			return
		}
		rt.executeOneToolCall(handle, world, agent, event, chatID, call, state)

	case llm.ResponseText:
		if strings.TrimSpace(response.Content) == "" {
			if state.emptyTextRetries < maxEmptyTextRetries {
				state.emptyTextRetries++
				rt.continueLLMAfterToolExecution(handle, world, agent, event, chatID, state)
				return
			}
			rt.PublishSystemEvent(world, "Agent returned an empty response after tool execution.", "empty-text-retries-exhausted", chatID, nil)
			return
		}
		rt.handleTextResponse(handle, world, agent, response.Content, newMessageID(), event, chatID)
	}
}

// applyPlainTextToolIntentFallback recognizes a model that narrated a
// tool call as plain text ("calling tool: foo {...}") and reinterprets
// it as an actual tool-call response.
func applyPlainTextToolIntentFallback(response llm.Response) llm.Response {
	if response.Type != llm.ResponseText {
		return response
	}
	m := callingToolText.FindStringSubmatch(strings.TrimSpace(response.Content))
	if m == nil {
		return response
	}
	name := m[1]
	argsText := strings.TrimSpace(m[2])
	if argsText == "" {
		argsText = "{}"
	}
	if !json.Valid([]byte(argsText)) {
		if loose, ok := parseLooseObjectLiteral(argsText); ok {
			argsText = loose
		}
	}
	return llm.Response{
		Type: llm.ResponseToolCalls,
		ToolCalls: []llm.ToolCallRequest{
			{ID: newMessageID(), Name: name, Arguments: argsText},
		},
	}
}

// parseLooseObjectLiteral re-quotes bareword keys in a JS-style object
// literal (e.g. {command: "ls"}) into valid JSON.
var looseKey = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)

func parseLooseObjectLiteral(s string) (string, bool) {
	repaired := looseKey.ReplaceAllString(s, `$1"$2":`)
	if json.Valid([]byte(repaired)) {
		return repaired, true
	}
	return "", false
}

// recoverMalformedToolCall synthesizes a tool-call/tool-result pair
// for a response that claimed to call a tool but omitted its name,
// so the conversation has somewhere to record the failure and retry.
func (rt *Runtime) recoverMalformedToolCall(handle *ProcessingHandle, world *worldmodel.World, agent *worldmodel.Agent, event worldmodel.MessageEvent, chatID, badName string, state *loopState) {
	name := invalidToolCallName
	if badName != "" {
		name = badName
	}

	messageID := newMessageID()
	toolCallID := newMessageID()
	toolCall := worldmodel.ToolCall{
		ID:   toolCallID,
		Type: "function",
		Function: worldmodel.ToolCallFunction{
			Name:      name,
			Arguments: map[string]any{},
		},
	}
	memory.SaveAssistantToolCall(handle.Signal(), rt.Store, world, agent, toolCall, messageID, chatID)
	memory.SaveTool(handle.Signal(), rt.Store, world, agent, "Error executing tool: invalid tool call (missing name)", toolCallID, chatID, "")
	agent.UpdateToolCallStatus(toolCallID, map[string]any{"error": "invalid tool call"})

	if state.emptyToolCallRetries >= maxEmptyToolCallRetry {
		rt.PublishSystemEvent(world, "Agent repeatedly returned invalid tool calls and has been stopped.", "malformed-tool-call-exhausted", chatID, nil)
		return
	}
	state.emptyToolCallRetries++
	rt.continueLLMAfterToolExecution(handle, world, agent, event, chatID, state)
}

// handleTextResponse strips self-mentions, applies auto-mention when
// configured, persists the message, and publishes it on the bus.
func (rt *Runtime) handleTextResponse(handle *ProcessingHandle, world *worldmodel.World, agent *worldmodel.Agent, text, messageID string, event worldmodel.MessageEvent, chatID string) {
	sanitized := removeSelfMentions(text, agent.ID)

	final := sanitized
	if agent.AutoReply && shouldAutoMentionFn(sanitized, event.Sender, agent.ID) {
		final = addAutoMentionFn(sanitized, event.Sender)
	}

	memory.SaveAssistant(handle.Signal(), rt.Store, world, agent, final, messageID, chatID, event.MessageID)
	rt.PublishMessageWithID(world, final, agent.ID, messageID, chatID, event.MessageID)
}

func serializeResult(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

const toolResultPreviewLimit = 4000

func truncateForPreview(s string) string {
	if len(s) <= toolResultPreviewLimit {
		return s
	}
	return s[:toolResultPreviewLimit] + "…(truncated)"
}

// ContinueAfterToolApproval resumes the tool continuation once a
// deferred tool call has been approved or denied and its `tool`
// memory record written, under a fresh loopState and a new
// ProcessingHandle scoped to (world, chat).
func (rt *Runtime) ContinueAfterToolApproval(ctx context.Context, world *worldmodel.World, agent *worldmodel.Agent, event worldmodel.MessageEvent, chatID string) {
	rt.beginActivity(world, agent.ID, chatID)
	handle := rt.Begin(ctx, world.ID, chatID)
	defer func() {
		handle.Complete()
		rt.endActivity(world, agent.ID, chatID)
	}()
	rt.continueLLMAfterToolExecution(handle, world, agent, event, chatID, &loopState{})
}

func (rt *Runtime) persistAgent(ctx context.Context, world *worldmodel.World, agent *worldmodel.Agent) {
	memory.Persist(ctx, rt.Store, world, agent)
}

func messageTimestamp() time.Time { return time.Now() }
