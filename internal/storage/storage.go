// Package storage defines the persistence contract and provides
// memory, file, and sqlite backends selected by
// AGENT_WORLD_STORAGE_TYPE.
//
// Grounded on hector's pkg/config/database.go connection-setup
// pattern for the sqlite backend; the contract shape itself has no
// direct teacher analogue (hector persists sessions through its own
// pkg/session store) and is built fresh to match this contract exactly.
package storage

import (
	"context"
	"time"

	"github.com/agentworld/core/internal/worldmodel"
)

// AgentRecord is the durable form of worldmodel.Agent (no mutex, no
// methods — a plain snapshot for marshaling).
type AgentRecord struct {
	ID string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Provider string `json:"provider"`
	Model string `json:"model"`
	SystemPrompt string `json:"systemPrompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens int `json:"maxTokens"`
	Status worldmodel.AgentStatus `json:"status"`
	AutoReply bool `json:"autoReply"`
	LLMCallCount int `json:"llmCallCount"`
	LastLLMCall time.Time `json:"lastLlmCall"`
	CreatedAt time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
	Memory []worldmodel.AgentMessage `json:"memory"`
}

// WorldRecord is the durable form of worldmodel.World.
type WorldRecord struct {
	ID string `json:"id"`
	Name string `json:"name"`
	Description string `json:"description"`
	TurnLimit int `json:"turnLimit"`
	MainAgent string `json:"mainAgent"`
	ChatProvider string `json:"chatProvider"`
	ChatModel string `json:"chatModel"`
	CurrentChatID string `json:"currentChatId"`
	Variables map[string]string `json:"variables"`
	AgentIDs []string `json:"agentIds"`
}

// ChatPatch is a partial update applied by UpdateChatData.
type ChatPatch struct {
	Name *string
	Description *string
}

// EventRecord is one persisted bus event, enriched with metadata
// computed at persist time.
type EventRecord struct {
	WorldID string `json:"worldId"`
	Channel string `json:"channel"`
	ChatID string `json:"chatId,omitempty"`
	OwnerAgent string `json:"ownerAgentId,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Direction string `json:"direction,omitempty"` // "incoming" | "outgoing"
	ThreadRoot string `json:"threadRoot,omitempty"`
	HasTool bool `json:"hasToolCalls"`
	Timestamp time.Time `json:"timestamp"`
	Payload any `json:"payload"`
}

// Store is the persistence contract.
type Store interface {
	SaveAgent(ctx context.Context, worldID string, agent AgentRecord) error
	LoadAgent(ctx context.Context, worldID, agentID string) (AgentRecord, bool, error)
	ListAgents(ctx context.Context, worldID string) ([]AgentRecord, error)
	DeleteAgent(ctx context.Context, worldID, agentID string) error

	SaveWorld(ctx context.Context, world WorldRecord) error
	LoadWorld(ctx context.Context, worldID string) (WorldRecord, bool, error)
	ListWorlds(ctx context.Context) ([]WorldRecord, error)
	DeleteWorld(ctx context.Context, worldID string) error

	SaveChatData(ctx context.Context, worldID string, chat worldmodel.ChatMeta) error
	UpdateChatData(ctx context.Context, worldID, chatID string, patch ChatPatch) error
	ListChats(ctx context.Context, worldID string) ([]worldmodel.ChatMeta, error)
	DeleteChat(ctx context.Context, worldID, chatID string) error

	GetMemory(ctx context.Context, worldID, chatID string) ([]worldmodel.AgentMessage, error)
	SaveEvent(ctx context.Context, event EventRecord) error

	Close() error
}
