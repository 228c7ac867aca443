// Package memory implements per-agent append rules and chat-title
// generation.
//
// Grounded on hector's pkg/agent/history.go append-rule shape
// (sender self-skip, chatId scoping, persist-on-append) and
// pkg/agent/summarization.go's LLM-summarization-service pattern,
// narrowed here to a small fixed-budget title prompt instead of full
// conversation summarization.
package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/agentworld/core/internal/logger"
	"github.com/agentworld/core/internal/storage"
	"github.com/agentworld/core/internal/worldmodel"
)

var log = logger.For("memory")

// SaveIncomingMessage appends an inbound message: skip self-sent
// events, scope the record to the event's chat (or the world's current
// chat), then persist.
func SaveIncomingMessage(ctx context.Context, store storage.Store, world *worldmodel.World, agent *worldmodel.Agent, event worldmodel.MessageEvent) {
	if event.Sender == agent.ID {
		return
	}
	chatID := event.ChatID
	if chatID == "" {
		chatID = world.CurrentChatID
	}

	role := event.Role
	if role == "" {
		role = worldmodel.RoleUser
	}
	agent.Append(worldmodel.AgentMessage{
		Role:       role,
		Content:    event.Content,
		Sender:     event.Sender,
		ChatID:     chatID,
		MessageID:  event.MessageID,
		AgentID:    agent.ID,
		CreatedAt:  event.Timestamp,
		ToolCalls:  event.ToolCalls,
		ToolCallID: event.ToolCallID,
	})
	persist(ctx, store, world, agent)
}

// SaveAssistant appends an assistant text response.
func SaveAssistant(ctx context.Context, store storage.Store, world *worldmodel.World, agent *worldmodel.Agent, content, messageID, chatID, replyTo string) {
	agent.Append(worldmodel.AgentMessage{
		Role:             worldmodel.RoleAssistant,
		Content:          content,
		Sender:           agent.ID,
		ChatID:           chatID,
		MessageID:        messageID,
		ReplyToMessageID: replyTo,
		AgentID:          agent.ID,
		CreatedAt:        time.Now(),
	})
	persist(ctx, store, world, agent)
}

// SaveAssistantToolCall appends an assistant message carrying a pending
// tool call.
func SaveAssistantToolCall(ctx context.Context, store storage.Store, world *worldmodel.World, agent *worldmodel.Agent, call worldmodel.ToolCall, messageID, chatID string) {
	agent.Append(worldmodel.AgentMessage{
		Role:      worldmodel.RoleAssistant,
		Sender:    agent.ID,
		ChatID:    chatID,
		MessageID: messageID,
		AgentID:   agent.ID,
		CreatedAt: time.Now(),
		ToolCalls: []worldmodel.ToolCall{call},
		ToolCallStatus: map[string]*worldmodel.ToolCallStatus{
			call.ID: {Complete: false, Result: nil},
		},
	})
	persist(ctx, store, world, agent)
}

// SaveTool appends a tool-result message.
func SaveTool(ctx context.Context, store storage.Store, world *worldmodel.World, agent *worldmodel.Agent, content, toolCallID, chatID, replyTo string) {
	agent.Append(worldmodel.AgentMessage{
		Role:             worldmodel.RoleTool,
		Content:          content,
		Sender:           agent.ID,
		ChatID:           chatID,
		MessageID:        uuid.NewString(),
		ReplyToMessageID: replyTo,
		AgentID:          agent.ID,
		ToolCallID:       toolCallID,
		CreatedAt:        time.Now(),
	})
	persist(ctx, store, world, agent)
}

// ResetLLMCallCountIfNeeded zeroes an agent's LLM call budget whenever a
// human or the world itself sends a message, giving the agent a fresh
// turn allowance.
func ResetLLMCallCountIfNeeded(ctx context.Context, store storage.Store, world *worldmodel.World, agent *worldmodel.Agent, event worldmodel.MessageEvent) {
	if (event.Sender == "human" || event.Sender == "world") && agent.LLMCallCount > 0 {
		agent.LLMCallCount = 0
		persist(ctx, store, world, agent)
	}
}

// Persist writes agent's current state to store (exported so callers
// outside this package, e.g. the orchestrator after bumping
// llmCallCount, can reuse the same persistence shape).
func Persist(ctx context.Context, store storage.Store, world *worldmodel.World, agent *worldmodel.Agent) {
	persist(ctx, store, world, agent)
}

func persist(ctx context.Context, store storage.Store, world *worldmodel.World, agent *worldmodel.Agent) {
	if store == nil {
		return
	}
	rec := storage.AgentRecord{
		ID:           agent.ID,
		Name:         agent.Name,
		Type:         agent.Type,
		Provider:     agent.Provider,
		Model:        agent.Model,
		SystemPrompt: agent.SystemPrompt,
		Temperature:  agent.Temperature,
		MaxTokens:    agent.MaxTokens,
		Status:       agent.Status,
		AutoReply:    agent.AutoReply,
		LLMCallCount: agent.LLMCallCount,
		LastLLMCall:  agent.LastLLMCall,
		CreatedAt:    agent.CreatedAt,
		LastActive:   agent.LastActive,
		Memory:       agent.MemorySnapshot(),
	}
	if err := store.SaveAgent(ctx, world.ID, rec); err != nil {
		log.Warn("agent persist failed", "world_id", world.ID, "agent_id", agent.ID, "error", err)
	}
}
