package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/agentworld/core/internal/eventbus"
	"github.com/agentworld/core/internal/hitl"
	"github.com/agentworld/core/internal/llm"
	"github.com/agentworld/core/internal/storage"
	"github.com/agentworld/core/internal/toolregistry"
	"github.com/agentworld/core/internal/worldmodel"
)

func llmResponseText(content string) llm.Response {
	return llm.Response{Type: llm.ResponseText, Content: content}
}

// fakeLLM returns a queued sequence of responses, one per Generate call.
type fakeLLM struct {
	responses []llm.Response
	calls     int
}

func (f *fakeLLM) Generate(ctx context.Context, messages []llm.Message, opts llm.CallOptions) (llm.Response, error) {
	if f.calls >= len(f.responses) {
		return llm.Response{Type: llm.ResponseText, Content: ""}, nil
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

func newTestRuntime(t *testing.T, responses ...llm.Response) (*Runtime, *worldmodel.World, *worldmodel.Agent) {
	t.Helper()
	world := worldmodel.NewWorld("w1", "Test World")
	agent := worldmodel.NewAgent("bot", "Bot")
	agent.AutoReply = true
	world.AddAgent(agent)

	rt := NewRuntime(eventbus.New(world.ID), storage.NewMemoryStore(), &fakeLLM{responses: responses}, toolregistry.New(), hitl.New())
	return rt, world, agent
}

func TestProcessAgentMessageTextResponse(t *testing.T) {
	rt, world, agent := newTestRuntime(t, llmResponseText("hello there"))

	event := worldmodel.MessageEvent{
		Content:   "@bot hi",
		Sender:    "human",
		MessageID: "m1",
		ChatID:    "c1",
	}

	done := make(chan worldmodel.MessageEvent, 1)
	rt.Bus.On(worldmodel.ChannelMessage, func(ctx context.Context, e any) {
		if me, ok := e.(worldmodel.MessageEvent); ok && me.Sender == agent.ID {
			done <- me
		}
	})

	rt.ProcessAgentMessage(context.Background(), world, agent, event)

	select {
	case m := <-done:
		if m.Content != "hello there" {
			t.Fatalf("got content %q", m.Content)
		}
		if m.ReplyToMessageID != "m1" {
			t.Fatalf("got replyTo %q", m.ReplyToMessageID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for assistant message")
	}

	snap := agent.MemoryForChat("c1")
	if len(snap) != 1 || snap[0].Role != worldmodel.RoleAssistant {
		t.Fatalf("expected one assistant memory record, got %+v", snap)
	}
}

func TestProcessAgentMessageEmptyTextLogsAndReturns(t *testing.T) {
	rt, world, agent := newTestRuntime(t, llmResponseText(""))

	event := worldmodel.MessageEvent{Content: "@bot hi", Sender: "human", MessageID: "m1", ChatID: "c1"}
	rt.ProcessAgentMessage(context.Background(), world, agent, event)

	if len(agent.MemoryForChat("c1")) != 0 {
		t.Fatalf("expected no memory record for an empty response")
	}
}

func TestShouldRespondSelfSkip(t *testing.T) {
	rt, world, agent := newTestRuntime(t)
	event := worldmodel.MessageEvent{Sender: agent.ID, Content: "hi"}
	if rt.ShouldRespond(world, agent, event) {
		t.Fatal("agent should not respond to its own message")
	}
}

func TestShouldRespondBroadcastFromHuman(t *testing.T) {
	rt, world, agent := newTestRuntime(t)
	event := worldmodel.MessageEvent{Sender: "human", Content: "no mention here"}
	if !rt.ShouldRespond(world, agent, event) {
		t.Fatal("expected broadcast eligibility")
	}
}

func TestShouldRespondLeadingMentionOfOther(t *testing.T) {
	rt, world, agent := newTestRuntime(t)
	event := worldmodel.MessageEvent{Sender: "human", Content: "@someone-else hi"}
	if rt.ShouldRespond(world, agent, event) {
		t.Fatal("expected ineligibility when leading mention targets a different agent")
	}
}

func TestShouldRespondTurnLimitReached(t *testing.T) {
	rt, world, agent := newTestRuntime(t)
	world.TurnLimit = 1
	agent.LLMCallCount = 1
	event := worldmodel.MessageEvent{Sender: "human", Content: "hi", ChatID: "c1"}
	if rt.ShouldRespond(world, agent, event) {
		t.Fatal("expected ineligibility once turn limit reached")
	}
}
