package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agentworld/core/internal/eventbus"
	"github.com/agentworld/core/internal/hitl"
	"github.com/agentworld/core/internal/llm"
	"github.com/agentworld/core/internal/orchestrator"
	"github.com/agentworld/core/internal/storage"
	"github.com/agentworld/core/internal/toolregistry"
	"github.com/agentworld/core/internal/worldmodel"
)

type noopLLM struct{}

func (noopLLM) Generate(ctx context.Context, messages []llm.Message, opts llm.CallOptions) (llm.Response, error) {
	return llm.Response{Type: llm.ResponseText, Content: ""}, nil
}

func newTestServer() (*Server, *BoundWorld) {
	world := worldmodel.NewWorld("w1", "Test World")
	rt := orchestrator.NewRuntime(eventbus.New(world.ID), storage.NewMemoryStore(), noopLLM{}, toolregistry.New(), hitl.New())
	bound := &BoundWorld{World: world, Runtime: rt}

	srv := NewServer()
	srv.RegisterWorld(bound)
	return srv, bound
}

func TestHandlePostMessageUnknownWorld(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/worlds/nope/chats/c1/messages", strings.NewReader(`{"content":"hi"}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown world, got %d", w.Code)
	}
}

func TestHandlePostMessagePublishesOnBus(t *testing.T) {
	srv, bound := newTestServer()

	got := make(chan worldmodel.MessageEvent, 1)
	bound.Runtime.Bus.On(worldmodel.ChannelMessage, func(_ context.Context, raw any) {
		if m, ok := raw.(worldmodel.MessageEvent); ok {
			got <- m
		}
	})

	body := `{"content":"hello world","sender":"human"}`
	req := httptest.NewRequest(http.MethodPost, "/worlds/w1/chats/c1/messages", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}

	select {
	case m := <-got:
		if m.Content != "hello world" {
			t.Fatalf("got content %q", m.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestHandlePostMessageDefaultsSender(t *testing.T) {
	srv, _ := newTestServer()

	body := `{"content":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/worlds/w1/chats/c1/messages", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	var event worldmodel.MessageEvent
	if err := json.Unmarshal(w.Body.Bytes(), &event); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if event.Sender != "human" {
		t.Fatalf("expected default sender human, got %q", event.Sender)
	}
}

func TestHandleHITLSubmitUnknownRequestErrors(t *testing.T) {
	srv, _ := newTestServer()

	body := `{"optionId":"approve"}`
	req := httptest.NewRequest(http.MethodPost, "/worlds/w1/hitl/nope", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown request id, got %d", w.Code)
	}
}

func TestHandleEventsUnknownChannel(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/worlds/w1/events?channel=bogus", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown channel, got %d", w.Code)
	}
}
