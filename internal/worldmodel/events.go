package worldmodel

import "time"

// Channel names a bus channel.
type Channel string

const (
	ChannelMessage Channel = "message"
	ChannelSSE Channel = "sse"
	ChannelTool Channel = "tool"
	ChannelSystem Channel = "system"
	ChannelCRUD Channel = "crud"
	ChannelActivity Channel = "activity"
	// ChannelWorld is the transport channel tool and activity events are
	// actually emitted on.
	ChannelWorld Channel = "world"
)

// MessageEvent is the `message` channel payload.
type MessageEvent struct {
	Content string `json:"content"`
	Sender string `json:"sender"`
	Role Role `json:"role,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolCallStatus map[string]*ToolCallStatus `json:"toolCallStatus,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string `json:"messageId"`
	ChatID string `json:"chatId,omitempty"`
	ReplyToMessageID string `json:"replyToMessageId,omitempty"`
}

// SSEType is the kind of streaming delta.
type SSEType string

const (
	SSEStart SSEType = "start"
	SSEChunk SSEType = "chunk"
	SSEEnd SSEType = "end"
	SSEError SSEType = "error"
)

// SSEUsage is optional token-usage metadata attached to an SSE `end`.
type SSEUsage struct {
	PromptTokens int `json:"promptTokens,omitempty"`
	CompletionTokens int `json:"completionTokens,omitempty"`
}

// SSEEvent is the `sse` channel payload.
type SSEEvent struct {
	AgentName string `json:"agentName"`
	Type SSEType `json:"type"`
	Content string `json:"content,omitempty"`
	Error string `json:"error,omitempty"`
	MessageID string `json:"messageId"`
	Usage *SSEUsage `json:"usage,omitempty"`
	ChatID string `json:"chatId,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolEventType is the kind of tool-channel event.
type ToolEventType string

const (
	ToolStart ToolEventType = "tool-start"
	ToolResult ToolEventType = "tool-result"
	ToolError ToolEventType = "tool-error"
	ToolProgress ToolEventType = "tool-progress"
)

// ToolExecution is the nested detail of a ToolEvent.
type ToolExecution struct {
	ToolName string `json:"toolName"`
	ToolCallID string `json:"toolCallId"`
	Input any `json:"input,omitempty"`
	Result any `json:"result,omitempty"`
	Error string `json:"error,omitempty"`
	ResultSize int `json:"resultSize,omitempty"`
}

// ToolEvent is the `tool` payload (emitted on ChannelWorld).
type ToolEvent struct {
	AgentName string `json:"agentName"`
	Type ToolEventType `json:"type"`
	MessageID string `json:"messageId"`
	ChatID string `json:"chatId,omitempty"`
	ToolExecution ToolExecution `json:"toolExecution"`
}

// SystemEvent is the `system` channel payload.
type SystemEvent struct {
	Content string `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string `json:"messageId"`
	ChatID string `json:"chatId,omitempty"`
	EventType string `json:"eventType,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// CRUDOperation is the kind of CRUD-channel mutation.
type CRUDOperation string

const (
	CRUDCreate CRUDOperation = "create"
	CRUDUpdate CRUDOperation = "update"
	CRUDDelete CRUDOperation = "delete"
)

// EntityType names the kind of entity a CRUDEvent concerns.
type EntityType string

const (
	EntityAgent EntityType = "agent"
	EntityChat EntityType = "chat"
	EntityWorld EntityType = "world"
)

// CRUDEvent is the `crud` channel payload.
type CRUDEvent struct {
	Operation CRUDOperation `json:"operation"`
	EntityType EntityType `json:"entityType"`
	EntityID string `json:"entityId"`
	EntityData any `json:"entityData,omitempty"`
	ChatID string `json:"chatId"`
	Timestamp time.Time `json:"timestamp"`
}

// ActivityType is the kind of activity-channel transition.
type ActivityType string

const (
	ActivityResponseStart ActivityType = "response-start"
	ActivityResponseEnd ActivityType = "response-end"
	ActivityIdle ActivityType = "idle"
)

// ActivityEvent is the `activity` payload (emitted on ChannelWorld).
type ActivityEvent struct {
	Type ActivityType `json:"type"`
	PendingOperations int `json:"pendingOperations"`
	Source string `json:"source"`
	ActiveSources []string `json:"activeSources,omitempty"`
	ActivityID string `json:"activityId"`
	Timestamp time.Time `json:"timestamp"`
	ChatID string `json:"chatId,omitempty"`
}
