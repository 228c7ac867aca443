package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/agentworld/core/internal/llm"
	"github.com/agentworld/core/internal/worldmodel"
)

type llmMessage = llm.Message

func toLLMMessage(m worldmodel.AgentMessage) llmMessage {
	role := string(m.Role)
	out := llmMessage{Role: role, Content: m.Content, ToolCallID: m.ToolCallID}
	return out
}

// ToolResultEnvelope is the enhanced payload
// `{"__type":"tool_result", tool_call_id, agentId, content}`. Exported so
// internal/subscribers's tool handler can recognize and unwrap it off the
// `message` channel without duplicating the JSON shape.
type ToolResultEnvelope struct {
	Type       string `json:"__type"`
	ToolCallID string `json:"tool_call_id"`
	AgentID    string `json:"agentId"`
	Content    string `json:"content"`
}

// ToolDecision is the JSON shape carried inside a ToolResultEnvelope's
// Content field — the HITL decision plus enough of the original call
// to re-execute it.
type ToolDecision struct {
	Decision         string         `json:"decision"`
	Scope            string         `json:"scope"`
	ToolName         string         `json:"toolName"`
	ToolArgs         map[string]any `json:"toolArgs"`
	WorkingDirectory string         `json:"workingDirectory"`
}

func ParseToolResultEnvelope(content string) (ToolResultEnvelope, bool) {
	var env ToolResultEnvelope
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return ToolResultEnvelope{}, false
	}
	if env.Type != "tool_result" {
		return ToolResultEnvelope{}, false
	}
	return env, true
}

// ParseToolDecision unwraps a ToolResultEnvelope's Content field.
func ParseToolDecision(env ToolResultEnvelope) (ToolDecision, error) {
	var d ToolDecision
	err := json.Unmarshal([]byte(env.Content), &d)
	return d, err
}

// PublishMessage publishes a message on the `message` channel with a
// freshly generated message id.
func (rt *Runtime) PublishMessage(world *worldmodel.World, content, sender, chatID, replyToMessageID string) worldmodel.MessageEvent {
	return rt.PublishMessageWithID(world, content, sender, newMessageID(), chatID, replyToMessageID)
}

// PublishMessageWithID publishes a message with a caller-supplied id,
// routing the role and applying @mention forwarding to world.MainAgent.
func (rt *Runtime) PublishMessageWithID(world *worldmodel.World, content, sender, messageID, chatID, replyToMessageID string) worldmodel.MessageEvent {
	final := content
	role := worldmodel.RoleAssistant

	if env, ok := ParseToolResultEnvelope(content); ok {
		role = worldmodel.RoleTool
		_ = env // no @mention prepended for enhanced tool-result envelopes
	} else {
		if isHumanSender(sender) || strings.HasPrefix(strings.ToLower(sender), "user") {
			role = worldmodel.RoleUser
		}
		if role == worldmodel.RoleUser {
			if target, ok := routingTarget(world, final); ok {
				final = "@" + target + ", " + final
			}
		}
	}

	event := worldmodel.MessageEvent{
		Content:          final,
		Sender:           sender,
		Role:             role,
		Timestamp:        time.Now(),
		MessageID:        messageID,
		ChatID:           chatID,
		ReplyToMessageID: replyToMessageID,
	}
	rt.Bus.Emit(context.Background(), worldmodel.ChannelMessage, event)
	return event
}

// routingTarget narrows an outgoing human message to world.MainAgent
// when it carries no leading mention.
func routingTarget(world *worldmodel.World, content string) (string, bool) {
	if world.MainAgent == "" {
		return "", false
	}
	if len(paragraphBeginMentions(content)) > 0 {
		return "", false
	}
	return world.MainAgent, true
}

// PublishToolResultOptions is the input to PublishToolResult.
type PublishToolResultOptions struct {
	ToolCallID       string
	ChatID           string
	Decision         string
	Scope            string
	ToolName         string
	ToolArgs         map[string]any
	WorkingDirectory string
}

// PublishToolResult wraps a HITL decision (plus enough of the original
// tool call to re-execute it) into a ToolResultEnvelope and publishes
// it as a message from the deciding agent, scoped to the chat the
// original tool call was made in.
func (rt *Runtime) PublishToolResult(world *worldmodel.World, agentID string, opts PublishToolResultOptions) worldmodel.MessageEvent {
	decision := map[string]any{
		"decision":         opts.Decision,
		"scope":            opts.Scope,
		"toolName":         opts.ToolName,
		"toolArgs":         opts.ToolArgs,
		"workingDirectory": opts.WorkingDirectory,
	}
	decisionJSON, _ := json.Marshal(decision)

	env := ToolResultEnvelope{
		Type:       "tool_result",
		ToolCallID: opts.ToolCallID,
		AgentID:    agentID,
		Content:    string(decisionJSON),
	}
	envJSON, _ := json.Marshal(env)
	return rt.PublishMessageWithID(world, string(envJSON), agentID, newMessageID(), opts.ChatID, "")
}

// PublishSSE emits a streaming delta on the `sse` channel.
func (rt *Runtime) PublishSSE(world *worldmodel.World, partial worldmodel.SSEEvent) {
	rt.Bus.Emit(context.Background(), worldmodel.ChannelSSE, partial)
}

// PublishToolEvent emits a tool-lifecycle event, transported on
// ChannelWorld.
func (rt *Runtime) PublishToolEvent(world *worldmodel.World, partial worldmodel.ToolEvent) {
	rt.Bus.Emit(context.Background(), worldmodel.ChannelWorld, partial)
}

// PublishSystemEvent emits a `system` event.
func (rt *Runtime) PublishSystemEvent(world *worldmodel.World, content, eventType, chatID string, extra map[string]any) {
	rt.Bus.Emit(context.Background(), worldmodel.ChannelSystem, worldmodel.SystemEvent{
		Content:   content,
		Timestamp: time.Now(),
		MessageID: newMessageID(),
		ChatID:    chatID,
		EventType: eventType,
		Extra:     extra,
	})
}
