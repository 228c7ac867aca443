// Package subscribers wires agents onto the world bus: a per-agent
// message handler, a per-agent tool (approval) handler, and a single
// world-wide activity listener that drives auto-title.
//
// Grounded on hector's pkg/runner/runner.go session/event wiring
// pattern (subscribe to the event stream, hand work off to the agent,
// dedupe already-seen work) adapted from a single-session runner into a
// per-world, per-agent subscriber set. Each agent gets its own
// serialized worker queue rather than running its pipeline inline on
// the bus's drain goroutine, so at most one orchestrator pipeline runs
// at a time per (world, chat, agent).
package subscribers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agentworld/core/internal/eventbus"
	"github.com/agentworld/core/internal/llm"
	"github.com/agentworld/core/internal/logger"
	"github.com/agentworld/core/internal/memory"
	"github.com/agentworld/core/internal/orchestrator"
	"github.com/agentworld/core/internal/storage"
	"github.com/agentworld/core/internal/toolregistry"
	"github.com/agentworld/core/internal/tools/shellcmd"
	"github.com/agentworld/core/internal/worldmodel"
)

var log = logger.For("subscribers")

// dedupeWindow is how many recent messageIds an agent subscription
// remembers, bounding a small table rather than growing it unboundedly
// over a long-running world.
const dedupeWindow = 512

// recentIDs is a bounded FIFO set used to deduplicate bus events an
// agent subscription has already acted on — the bus can redeliver the
// same rendering event to every attached handler, so each agent's
// subscription tracks what it has already processed.
type recentIDs struct {
	mu    sync.Mutex
	order []string
	seen  map[string]bool
}

func newRecentIDs() *recentIDs {
	return &recentIDs{seen: map[string]bool{}}
}

// markIfNew reports whether id is new, recording it if so.
func (r *recentIDs) markIfNew(id string) bool {
	if id == "" {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[id] {
		return false
	}
	r.seen[id] = true
	r.order = append(r.order, id)
	if len(r.order) > dedupeWindow {
		drop := r.order[0]
		r.order = r.order[1:]
		delete(r.seen, drop)
	}
	return true
}

// task is one unit of work queued onto an agent's serial worker.
type task func(ctx context.Context)

// AgentSubscription holds the handles needed to detach an agent from
// the bus.
type AgentSubscription struct {
	unsub []eventbus.Unsubscribe
	tasks chan task
	done  chan struct{}
}

// Close unregisters both handlers and stops the agent's worker.
func (s *AgentSubscription) Close() {
	for _, u := range s.unsub {
		u()
	}
	close(s.done)
}

// AttachAgent registers the message handler and the tool handler for
// one agent — two distinct per-agent subscriptions sharing one
// serialized worker queue.
func AttachAgent(rt *orchestrator.Runtime, world *worldmodel.World, agent *worldmodel.Agent) *AgentSubscription {
	sub := &AgentSubscription{
		tasks: make(chan task, 64),
		done:  make(chan struct{}),
	}
	go sub.run()

	seenApprovals := newRecentIDs()

	unsubMessage := rt.Bus.On(worldmodel.ChannelMessage, func(ctx context.Context, raw any) {
		event, ok := raw.(worldmodel.MessageEvent)
		if !ok {
			return
		}
		if event.Role == worldmodel.RoleTool {
			return // delegated to the tool handler below
		}
		sub.enqueue(func(ctx context.Context) {
			handleMessage(ctx, rt, world, agent, event, seenApprovals)
		})
	})

	unsubTool := rt.Bus.On(worldmodel.ChannelMessage, func(ctx context.Context, raw any) {
		event, ok := raw.(worldmodel.MessageEvent)
		if !ok || event.Role != worldmodel.RoleTool {
			return
		}
		sub.enqueue(func(ctx context.Context) {
			handleToolDecision(ctx, rt, world, agent, event)
		})
	})

	sub.unsub = []eventbus.Unsubscribe{unsubMessage, unsubTool}
	return sub
}

func (s *AgentSubscription) enqueue(t task) {
	select {
	case s.tasks <- t:
	case <-s.done:
	}
}

func (s *AgentSubscription) run() {
	for {
		select {
		case t := <-s.tasks:
			t(context.Background())
		case <-s.done:
			return
		}
	}
}

// handleMessage reacts to an inbound message on behalf of one agent:
// dedupe, reset the turn-limit counter if needed, check eligibility,
// persist, and hand off to the orchestrator.
func handleMessage(ctx context.Context, rt *orchestrator.Runtime, world *worldmodel.World, agent *worldmodel.Agent, event worldmodel.MessageEvent, seen *recentIDs) {
	if len(event.ToolCalls) > 0 {
		// A "calling tool: X" rendering notice, not a message to respond
		// to; record it once so a redelivered copy is a no-op.
		seen.markIfNew(event.MessageID)
		return
	}
	if event.Sender == agent.ID {
		return
	}
	if !seen.markIfNew(event.MessageID) {
		return
	}

	memory.ResetLLMCallCountIfNeeded(ctx, rt.Store, world, agent, event)

	if !rt.ShouldRespond(world, agent, event) {
		return
	}

	memory.SaveIncomingMessage(ctx, rt.Store, world, agent, event)
	rt.ProcessAgentMessage(ctx, world, agent, event)
}

// handleToolDecision reacts to a HITL decision envelope addressed to
// this agent: validate it against known pending calls, re-execute an
// approved shell command, and resume the conversation.
func handleToolDecision(ctx context.Context, rt *orchestrator.Runtime, world *worldmodel.World, agent *worldmodel.Agent, event worldmodel.MessageEvent) {
	env, ok := orchestrator.ParseToolResultEnvelope(event.Content)
	if !ok || env.AgentID != agent.ID {
		return
	}
	if !toolCallKnown(agent, event.ChatID, env.ToolCallID) {
		log.Warn("rejecting tool decision for unknown tool_call_id", "agent_id", agent.ID, "tool_call_id", env.ToolCallID)
		return
	}

	decision, err := orchestrator.ParseToolDecision(env)
	if err != nil {
		log.Warn("malformed tool decision envelope", "agent_id", agent.ID, "error", err)
		return
	}

	chatID := event.ChatID
	if chatID == "" {
		chatID = world.CurrentChatID
	}

	result := executeApprovedTool(ctx, rt, world, decision)

	memory.SaveTool(ctx, rt.Store, world, agent, result, env.ToolCallID, chatID, event.MessageID)
	agent.UpdateToolCallStatus(env.ToolCallID, result)
	memory.Persist(ctx, rt.Store, world, agent)

	rt.ContinueAfterToolApproval(ctx, world, agent, event, chatID)
}

// executeApprovedTool runs the real tool when the human approved a
// shell_cmd invocation deferred for HITL review; any other decision
// (deny, or a tool this handler doesn't know how to re-run) is recorded
// as its decision text.
func executeApprovedTool(ctx context.Context, rt *orchestrator.Runtime, world *worldmodel.World, decision orchestrator.ToolDecision) string {
	if decision.Decision != "approve" || decision.ToolName != shellcmd.ToolName {
		return fmt.Sprintf("Tool call decision: %s", decision.Decision)
	}

	tool, found := rt.Tools.Lookup(decision.ToolName)
	if !found {
		return "Error executing tool: Tool not found: " + decision.ToolName
	}

	workingDirectory := decision.WorkingDirectory
	if workingDirectory == "" {
		workingDirectory, _ = world.Variable("working_directory")
	}

	res, err := tool.Execute(ctx, toolExecRequest(world, decision, workingDirectory))
	if err != nil {
		return "Error executing tool: " + err.Error()
	}
	return serializeToolOutput(res.Output)
}

func toolCallKnown(agent *worldmodel.Agent, chatID, toolCallID string) bool {
	for _, m := range agent.MemoryForChat(chatID) {
		if m.ToolCallStatus == nil {
			continue
		}
		if _, ok := m.ToolCallStatus[toolCallID]; ok {
			return true
		}
	}
	return false
}

func toolExecRequest(world *worldmodel.World, decision orchestrator.ToolDecision, workingDirectory string) toolregistry.ExecRequest {
	return toolregistry.ExecRequest{
		WorldID:          world.ID,
		Arguments:        decision.ToolArgs,
		WorkingDirectory: workingDirectory,
	}
}

func serializeToolOutput(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// AttachWorldActivityListener listens for the world going idle with no
// pending operations and auto-titles a chat still named "New Chat".
// Guarding against repeat runs needs no extra state — once the title
// is set the chat's name is no longer "New Chat", so later idle events
// for the same chat are no-ops.
func AttachWorldActivityListener(rt *orchestrator.Runtime, world *worldmodel.World, titleClient llm.LLM) eventbus.Unsubscribe {
	return rt.Bus.On(worldmodel.ChannelWorld, func(ctx context.Context, raw any) {
		event, ok := raw.(worldmodel.ActivityEvent)
		if !ok {
			return
		}
		if event.Type != worldmodel.ActivityIdle || event.PendingOperations != 0 {
			return
		}

		chatID := event.ChatID
		if chatID == "" {
			chatID = world.CurrentChatID
		}
		if chatID == "" {
			return
		}
		chat, ok := world.Chat(chatID)
		if !ok || chat.Name != "New Chat" {
			return
		}

		title, err := memory.GenerateChatTitle(ctx, rt.Store, titleClient, world.ID, chatID, "", world.ChatModel)
		if err != nil || title == "" {
			return
		}

		name := title
		if err := rt.Store.UpdateChatData(ctx, world.ID, chatID, storage.ChatPatch{Name: &name}); err != nil {
			log.Warn("chat title persist failed", "world_id", world.ID, "chat_id", chatID, "error", err)
			return
		}
		chat.Name = title
		chat.UpdatedAt = time.Now()
		world.PutChat(chat)

		rt.PublishSystemEvent(world, title, "chat-title-updated", chatID, map[string]any{"title": title})
	})
}
