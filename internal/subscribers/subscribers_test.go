package subscribers

import (
	"context"
	"testing"
	"time"

	"github.com/agentworld/core/internal/eventbus"
	"github.com/agentworld/core/internal/hitl"
	"github.com/agentworld/core/internal/llm"
	"github.com/agentworld/core/internal/orchestrator"
	"github.com/agentworld/core/internal/storage"
	"github.com/agentworld/core/internal/toolregistry"
	"github.com/agentworld/core/internal/tools/shellcmd"
	"github.com/agentworld/core/internal/worldmodel"
)

func TestRecentIDsMarksOnceOnly(t *testing.T) {
	r := newRecentIDs()
	if !r.markIfNew("a") {
		t.Fatal("expected first mark of id a to be new")
	}
	if r.markIfNew("a") {
		t.Fatal("expected second mark of id a to report not-new")
	}
	if !r.markIfNew("b") {
		t.Fatal("expected first mark of id b to be new")
	}
}

func TestRecentIDsEmptyIDAlwaysNew(t *testing.T) {
	r := newRecentIDs()
	if !r.markIfNew("") {
		t.Fatal("expected empty id to always report new")
	}
	if !r.markIfNew("") {
		t.Fatal("expected empty id to always report new")
	}
}

func TestRecentIDsBoundedWindow(t *testing.T) {
	r := newRecentIDs()
	for i := 0; i < dedupeWindow+10; i++ {
		r.markIfNew(string(rune('a')) + string(rune(i)))
	}
	if len(r.order) > dedupeWindow {
		t.Fatalf("expected order to stay within dedupeWindow, got %d entries", len(r.order))
	}
}

func TestToolCallKnown(t *testing.T) {
	agent := worldmodel.NewAgent("bot", "Bot")
	agent.Append(worldmodel.AgentMessage{
		Role:   worldmodel.RoleAssistant,
		ChatID: "c1",
		ToolCallStatus: map[string]*worldmodel.ToolCallStatus{
			"call1": {Complete: false},
		},
	})

	if !toolCallKnown(agent, "c1", "call1") {
		t.Fatal("expected call1 to be known in chat c1")
	}
	if toolCallKnown(agent, "c1", "call2") {
		t.Fatal("did not expect call2 to be known")
	}
	if toolCallKnown(agent, "other-chat", "call1") {
		t.Fatal("expected tool call lookup to be scoped by chatID")
	}
}

type fakeLLM struct{ text string }

func (f *fakeLLM) Generate(ctx context.Context, messages []llm.Message, opts llm.CallOptions) (llm.Response, error) {
	return llm.Response{Type: llm.ResponseText, Content: f.text}, nil
}

func newTestRuntime(text string) (*orchestrator.Runtime, *worldmodel.World, *worldmodel.Agent) {
	world := worldmodel.NewWorld("w1", "Test World")
	agent := worldmodel.NewAgent("bot", "Bot")
	agent.AutoReply = true
	world.AddAgent(agent)

	rt := orchestrator.NewRuntime(eventbus.New(world.ID), storage.NewMemoryStore(), &fakeLLM{text: text}, toolregistry.New(), hitl.New())
	return rt, world, agent
}

func TestAttachAgentRespondsToEligibleMessage(t *testing.T) {
	rt, world, agent := newTestRuntime("hello from bot")
	sub := AttachAgent(rt, world, agent)
	defer sub.Close()

	reply := make(chan worldmodel.MessageEvent, 1)
	rt.Bus.On(worldmodel.ChannelMessage, func(_ context.Context, raw any) {
		if m, ok := raw.(worldmodel.MessageEvent); ok && m.Sender == agent.ID {
			reply <- m
		}
	})

	rt.PublishMessage(world, "@bot hi", "human", "c1", "")

	select {
	case m := <-reply:
		if m.Content != "hello from bot" {
			t.Fatalf("got content %q", m.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for agent reply")
	}
}

func TestAttachAgentIgnoresOwnMessages(t *testing.T) {
	rt, world, agent := newTestRuntime("should not run")
	sub := AttachAgent(rt, world, agent)
	defer sub.Close()

	seen := newRecentIDs()
	done := make(chan struct{})
	go func() {
		handleMessage(context.Background(), rt, world, agent, worldmodel.MessageEvent{
			Sender: agent.ID, Content: "hi", MessageID: "m1", ChatID: "c1",
		}, seen)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handleMessage should return promptly for a self-sent message")
	}
	if len(agent.MemoryForChat("c1")) != 0 {
		t.Fatal("expected no memory recorded for a self-sent message")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	rt, world, agent := newTestRuntime("unexpected")
	sub := AttachAgent(rt, world, agent)
	sub.Close()

	reply := make(chan worldmodel.MessageEvent, 1)
	rt.Bus.On(worldmodel.ChannelMessage, func(_ context.Context, raw any) {
		if m, ok := raw.(worldmodel.MessageEvent); ok && m.Sender == agent.ID {
			reply <- m
		}
	})

	rt.PublishMessage(world, "@bot hi", "human", "c1", "")

	select {
	case m := <-reply:
		t.Fatalf("expected no reply after Close, got %+v", m)
	case <-time.After(200 * time.Millisecond):
	}
}

// queuedLLM returns a queued sequence of responses, one per Generate
// call: a tool call first, then the text reply produced once the tool
// continuation resumes.
type queuedLLM struct {
	responses []llm.Response
	calls     int
}

func (f *queuedLLM) Generate(ctx context.Context, messages []llm.Message, opts llm.CallOptions) (llm.Response, error) {
	if f.calls >= len(f.responses) {
		return llm.Response{Type: llm.ResponseText, Content: ""}, nil
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

// TestHITLApprovalRequestSubmitExecuteContinue exercises the full
// gated tool-call path: a tool requiring approval blocks on the HITL
// gateway, the resulting hitl-option-request is observable on the
// system channel, submitting "approve" re-executes the tool and the
// conversation continues to a final text reply.
func TestHITLApprovalRequestSubmitExecuteContinue(t *testing.T) {
	dir := t.TempDir()

	world := worldmodel.NewWorld("w1", "Test World")
	world.Variables["working_directory"] = dir
	world.ApprovalRequiredTools[shellcmd.ToolName] = true

	agent := worldmodel.NewAgent("bot", "Bot")
	agent.AutoReply = true
	world.AddAgent(agent)

	tools := toolregistry.New()
	tools.Register(shellcmd.New(dir))

	llmClient := &queuedLLM{responses: []llm.Response{
		{Type: llm.ResponseToolCalls, ToolCalls: []llm.ToolCallRequest{
			{ID: "call1", Name: shellcmd.ToolName, Arguments: `{"command":"echo","parameters":["approved"]}`},
		}},
		{Type: llm.ResponseText, Content: "done"},
	}}

	gateway := hitl.New()
	rt := orchestrator.NewRuntime(eventbus.New(world.ID), storage.NewMemoryStore(), llmClient, tools, gateway)

	sub := AttachAgent(rt, world, agent)
	defer sub.Close()

	var requestID string
	gotRequest := make(chan struct{})
	rt.Bus.On(worldmodel.ChannelSystem, func(_ context.Context, raw any) {
		evt, ok := raw.(worldmodel.SystemEvent)
		if !ok || evt.EventType != "hitl-option-request" {
			return
		}
		requestID, _ = evt.Extra["requestId"].(string)
		select {
		case <-gotRequest:
		default:
			close(gotRequest)
		}
	})

	finalReply := make(chan worldmodel.MessageEvent, 1)
	rt.Bus.On(worldmodel.ChannelMessage, func(_ context.Context, raw any) {
		m, ok := raw.(worldmodel.MessageEvent)
		if ok && m.Sender == agent.ID && m.Role == worldmodel.RoleAssistant && len(m.ToolCalls) == 0 {
			select {
			case finalReply <- m:
			default:
			}
		}
	})

	rt.PublishMessage(world, "@bot please run a command", "human", "c1", "")

	select {
	case <-gotRequest:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hitl-option-request event")
	}
	if requestID == "" {
		t.Fatal("expected a non-empty requestId on the hitl-option-request event")
	}

	if err := gateway.Submit(world.ID, requestID, "approve"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case m := <-finalReply:
		if m.Content != "done" {
			t.Fatalf("got content %q", m.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for post-approval continuation reply")
	}
}
