// Package worldmodel defines the data model shared by the event bus,
// memory, and orchestrator: worlds, agents, messages, tool calls, and
// the events that flow between them.
package worldmodel

import (
	"sync"
	"time"
)

// AgentStatus is the lifecycle status of an Agent.
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusInactive AgentStatus = "inactive"
)

// Role discriminates an AgentMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCallFunction is the `function` member of a ToolCall.
type ToolCallFunction struct {
	Name string `json:"name"`
	// Arguments is a JSON object or a string that parses to one. Kept as
	// `any` so malformed LLM output (a raw string) survives unmarshalling
	// long enough for the sanitizer in internal/orchestrator to work on it.
	Arguments any `json:"arguments"`
}

// ToolCall is one LLM-requested tool invocation.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"` // always "function"
	Function ToolCallFunction `json:"function"`
}

// ToolCallStatus tracks completion of one tool call referenced by an
// assistant message. Invariant: Complete transitions
// false->true at most once per id.
type ToolCallStatus struct {
	Complete bool `json:"complete"`
	Result   any  `json:"result"`
}

// AgentMessage is the discriminated union of role-tagged conversation
// records. All fields are present on the struct; which are meaningful
// depends on Role.
type AgentMessage struct {
	Role             Role                       `json:"role"`
	Content          string                     `json:"content"`
	Sender           string                     `json:"sender"`
	ChatID           string                     `json:"chatId"`
	MessageID        string                     `json:"messageId"`
	ReplyToMessageID string                     `json:"replyToMessageId,omitempty"`
	CreatedAt        time.Time                  `json:"createdAt"`
	AgentID          string                     `json:"agentId"`
	ToolCalls        []ToolCall                 `json:"tool_calls,omitempty"`
	ToolCallStatus   map[string]*ToolCallStatus `json:"toolCallStatus,omitempty"`
	ToolCallID       string                     `json:"tool_call_id,omitempty"`
}

// Clone returns a deep-enough copy for safe concurrent reads (memory
// readers take snapshots rather than holding references).
func (m AgentMessage) Clone() AgentMessage {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if m.ToolCallStatus != nil {
		out.ToolCallStatus = make(map[string]*ToolCallStatus, len(m.ToolCallStatus))
		for k, v := range m.ToolCallStatus {
			cp := *v
			out.ToolCallStatus[k] = &cp
		}
	}
	return out
}

// ChatMeta is the metadata record for a chat within a world.
type ChatMeta struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// ReusableWindow is the window within which a fresh "New Chat" with no
// messages is considered reusable.
const ReusableWindow = 5 * time.Minute

// Reusable reports whether this chat may be reused instead of creating
// a new one.
func (c ChatMeta) Reusable(now time.Time) bool {
	return c.Name == "New Chat" && c.MessageCount == 0 && now.Sub(c.CreatedAt) <= ReusableWindow
}

// Agent is a conversational participant in a world. Memory is
// append-only except for archival/clear, guarded by mu since readers
// (persistence, title generation) may run concurrently with the
// orchestrator that owns writes.
type Agent struct {
	ID           string
	Name         string
	Type         string
	Provider     string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Status       AgentStatus
	AutoReply    bool
	LLMCallCount int
	LastLLMCall  time.Time
	CreatedAt    time.Time
	LastActive   time.Time

	mu     sync.RWMutex
	memory []AgentMessage
}

// NewAgent constructs an Agent with its default status and timestamps.
func NewAgent(id, name string) *Agent {
	now := time.Now()
	return &Agent{
		ID:         id,
		Name:       name,
		Status:     AgentStatusActive,
		AutoReply:  true,
		CreatedAt:  now,
		LastActive: now,
	}
}

// Append adds a message to memory. Append-only by contract; callers must
// not mutate messages already appended.
func (a *Agent) Append(msg AgentMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memory = append(a.memory, msg)
	a.LastActive = time.Now()
}

// MemorySnapshot returns a defensive copy of the full memory sequence.
func (a *Agent) MemorySnapshot() []AgentMessage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]AgentMessage, len(a.memory))
	for i, m := range a.memory {
		out[i] = m.Clone()
	}
	return out
}

// MemoryForChat returns memory messages scoped to chatID, in append
// order (memory from other chats is excluded).
func (a *Agent) MemoryForChat(chatID string) []AgentMessage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []AgentMessage
	for _, m := range a.memory {
		if m.ChatID == chatID {
			out = append(out, m.Clone())
		}
	}
	return out
}

// UpdateToolCallStatus mutates the ToolCallStatus map on the assistant
// message that declared toolCallID, enforcing the false->true-once
// invariant.
func (a *Agent) UpdateToolCallStatus(toolCallID string, result any) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.memory {
		msg := &a.memory[i]
		if msg.Role != RoleAssistant || msg.ToolCallStatus == nil {
			continue
		}
		st, ok := msg.ToolCallStatus[toolCallID]
		if !ok || st.Complete {
			continue
		}
		st.Complete = true
		st.Result = result
		return true
	}
	return false
}

// World owns its agents, chats, and event emitter.
type World struct {
	ID            string
	Name          string
	Description   string
	TurnLimit     int
	MainAgent     string
	ChatProvider  string
	ChatModel     string
	CurrentChatID string
	Variables     map[string]string

	// ApprovalRequiredTools names tools that must clear a human approval
	// gate (internal/hitl) before they execute, keyed by tool name.
	ApprovalRequiredTools map[string]bool

	mu     sync.RWMutex
	agents map[string]*Agent
	chats  map[string]*ChatMeta
}

// DefaultTurnLimit is the default per-agent LLM-call budget per world.
const DefaultTurnLimit = 5

// NewWorld constructs a World with its default turn limit and empty
// agent/chat sets.
func NewWorld(id, name string) *World {
	return &World{
		ID:                    id,
		Name:                  name,
		TurnLimit:             DefaultTurnLimit,
		Variables:             map[string]string{},
		ApprovalRequiredTools: map[string]bool{},
		agents:                map[string]*Agent{},
		chats:                 map[string]*ChatMeta{},
	}
}

// AddAgent registers an agent, taking ownership.
func (w *World) AddAgent(a *Agent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.agents[a.ID] = a
}

// Agent looks up an agent by id.
func (w *World) Agent(id string) (*Agent, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, ok := w.agents[id]
	return a, ok
}

// Agents returns a snapshot slice of all agents.
func (w *World) Agents() []*Agent {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Agent, 0, len(w.agents))
	for _, a := range w.agents {
		out = append(out, a)
	}
	return out
}

// RemoveAgent deletes an agent from the world.
func (w *World) RemoveAgent(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.agents, id)
}

// PutChat inserts/updates chat metadata.
func (w *World) PutChat(c *ChatMeta) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chats[c.ID] = c
}

// Chat looks up chat metadata by id.
func (w *World) Chat(id string) (*ChatMeta, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.chats[id]
	return c, ok
}

// Chats returns a snapshot slice of all chat metadata.
func (w *World) Chats() []*ChatMeta {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*ChatMeta, 0, len(w.chats))
	for _, c := range w.chats {
		out = append(out, c)
	}
	return out
}

// DeleteChat removes chat metadata.
func (w *World) DeleteChat(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.chats, id)
}

// Variable reads a world variable (e.g. "working_directory").
func (w *World) Variable(key string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.Variables[key]
	return v, ok
}

// RequiresApproval reports whether toolName must be routed through the
// HITL approval gate before it executes.
func (w *World) RequiresApproval(toolName string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ApprovalRequiredTools[toolName]
}
