// Package orchestrator implements the core LLM tool-calling loop:
// response eligibility, context preparation, the main processing loop,
// tool-call dispatch with continuation, malformed-tool recovery, and
// the JSON argument sanitizer.
//
// Grounded almost file-for-file in control-flow shape on hector's
// pkg/agent/llmagent/flow.go: an outer loop bounded by an iteration cap
// (MaxIterations -> this port's 50-hop guardrail), runOneStep
// (preprocess -> LLM -> postprocess -> tool dispatch),
// handleToolCalls (per-call lookup/execute/result), and
// populateFunctionCallIDs (synthesizing tool-call ids when a model
// omits them -> this port's malformed-tool-call recovery). Also
// grounded on pkg/agent/tool_approval.go for the approve/deny/pending
// shape reused here via internal/hitl.
//
// Continuation here is recursive: executeOneToolCall and
// continueLLMAfterToolExecution call each other for every tool hop, and
// continueLLMAfterToolExecution calls itself on an empty-text retry, all
// sharing one *loopState. Each hop adds stack frames; there is no
// flat loop.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentworld/core/internal/eventbus"
	"github.com/agentworld/core/internal/hitl"
	"github.com/agentworld/core/internal/llm"
	"github.com/agentworld/core/internal/logger"
	"github.com/agentworld/core/internal/mention"
	"github.com/agentworld/core/internal/storage"
	"github.com/agentworld/core/internal/telemetry"
	"github.com/agentworld/core/internal/toolregistry"
	"github.com/agentworld/core/internal/worldmodel"
)

// Runtime is the explicit context struct passed to orchestrator entry
// points, replacing the module-level singletons this design calls out
// ("storageWrappers, global streamingEnabled -> explicit Runtime
// context struct").
type Runtime struct {
	Bus     *eventbus.Bus
	Store   storage.Store
	LLM     llm.LLM
	Tools   *toolregistry.Registry
	HITL    *hitl.Gateway
	Tracer  trace.Tracer
	Metrics *telemetry.Metrics
	Log     *logger.Logger

	// Streaming replaces hector's global streamingEnabled flag. The
	// orchestrator does not read it: callLLM sets no CallOptions.Stream
	// sink, so no sse events are emitted whatever its value.
	Streaming bool

	mu      sync.Mutex
	handles map[string]*ProcessingHandle
	pending map[string]int
}

// NewRuntime constructs a Runtime; nil Tracer/Metrics are tolerated
// (tests may omit telemetry).
func NewRuntime(bus *eventbus.Bus, store storage.Store, client llm.LLM, tools *toolregistry.Registry, gateway *hitl.Gateway) *Runtime {
	return &Runtime{
		Bus:     bus,
		Store:   store,
		LLM:     client,
		Tools:   tools,
		HITL:    gateway,
		Log:     logger.For("orchestrator"),
		handles: map[string]*ProcessingHandle{},
		pending: map[string]int{},
	}
}

// activityBegin/activityEnd track the pendingOperations count per
// world, backing the `activity` channel's response-start/response-end/
// idle transitions (internal/orchestrator/loop.go's beginActivity/
// endActivity).
func (rt *Runtime) activityBegin(worldID string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.pending[worldID]++
	return rt.pending[worldID]
}

func (rt *Runtime) activityEnd(worldID string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.pending[worldID] > 0 {
		rt.pending[worldID]--
	}
	return rt.pending[worldID]
}

// ProcessingHandle is the cancel-scope tied to (world, chat).
type ProcessingHandle struct {
	worldID, chatID string
	cancel          context.CancelFunc
	ctx             context.Context
	stopped         atomicBool
}

type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) set(v bool) { b.mu.Lock(); b.v = v; b.mu.Unlock() }
func (b *atomicBool) get() bool  { b.mu.Lock(); defer b.mu.Unlock(); return b.v }

// Signal returns the handle's context, canceled when Stop is called.
func (h *ProcessingHandle) Signal() context.Context { return h.ctx }

// IsStopped reports whether Stop was called on this handle.
func (h *ProcessingHandle) IsStopped() bool { return h.stopped.get() }

// Complete releases the handle's resources. Idempotent.
func (h *ProcessingHandle) Complete() { h.cancel() }

// Begin creates a processing handle scoped to (worldID, chatID).
// Per-(world,chat) serialization of orchestrator pipelines is the
// caller's responsibility (e.g. subscribers run each agent's pipeline
// from a single per-agent goroutine).
func (rt *Runtime) Begin(parent context.Context, worldID, chatID string) *ProcessingHandle {
	ctx, cancel := context.WithCancel(parent)
	h := &ProcessingHandle{worldID: worldID, chatID: chatID, ctx: ctx, cancel: cancel}

	rt.mu.Lock()
	rt.handles[worldID+"::"+chatID] = h
	rt.mu.Unlock()

	return h
}

// Stop cancels the processing handle for (worldID, chatID), if any.
func (rt *Runtime) Stop(worldID, chatID string) {
	rt.mu.Lock()
	h, ok := rt.handles[worldID+"::"+chatID]
	rt.mu.Unlock()
	if ok {
		h.stopped.set(true)
		h.cancel()
	}
}

// ErrMessageProcessingCanceled is the MessageProcessingCanceled
// error kind.
var ErrMessageProcessingCanceled = fmt.Errorf("orchestrator: message processing canceled")

func newMessageID() string { return uuid.NewString() }

// mentionRouter groups the mention package functions the orchestrator
// needs, so call sites read as orchestrator-local concerns even though
// the logic lives in internal/mention.
var (
	paragraphBeginMentions = mention.ParagraphBeginMentions
	extractMentions        = mention.ExtractMentions
	removeSelfMentions     = mention.RemoveSelfMentions
	shouldAutoMentionFn    = mention.ShouldAutoMention
	addAutoMentionFn       = mention.AddAutoMention
)
