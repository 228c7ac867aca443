// Package toolregistry is the per-world tool lookup: register a tool
// once at world init, look it up by name when the orchestrator needs
// to dispatch a call, and list the full set for inclusion in an LLM
// call's tool schema.
//
// Grounded on hector's pkg/tool.Tool/CallableTool interface
// hierarchy and pkg/registry.BaseRegistry[T] mutex-guarded map, adapted
// to this domain's plain map[string]any argument/result shape instead
// of hector's agent.CallbackContext-bound Context.
package toolregistry

import (
	"context"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
)

// ExecRequest is the execution envelope passed to Tool.Execute.
type ExecRequest struct {
	WorldID          string
	ChatID           string
	ToolCallID       string
	Arguments        map[string]any
	WorkingDirectory string
	// Progress receives streamed stdout/stderr-style chunks, surfaced by
	// the orchestrator as tool-progress events (shell_cmd contract).
	Progress func(chunk string)
}

// ExecResult is what a tool execution yields on success.
type ExecResult struct {
	// Output is the tool's primary result, JSON-marshalable.
	Output any
	// Artifacts is optional file-output metadata (shell_cmd contract).
	Artifacts []Artifact
}

// Artifact describes one file a tool produced.
type Artifact struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// Tool is one callable function exposed to the LLM.
type Tool interface {
	Name() string
	Description() string
	// Schema returns the JSON Schema object for Arguments.
	Schema() map[string]any
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// Registry is a per-world, read-after-init-mostly tool lookup. Safe
// for concurrent GetToolsForWorld / Lookup / ReplaceAll.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Lookup finds a tool by name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// GetToolsForWorld returns every registered tool, for inclusion in the
// LLM call's tool list.
func (r *Registry) GetToolsForWorld() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// ReplaceAll atomically swaps the tool set, used when an MCP-backed
// source refreshes its tool list.
func (r *Registry) ReplaceAll(tools []Tool) {
	fresh := make(map[string]Tool, len(tools))
	for _, t := range tools {
		fresh[t.Name()] = t
	}
	r.mu.Lock()
	r.tools = fresh
	r.mu.Unlock()
}

// schemaReflector is shared across SchemaFor calls; invopop/jsonschema's
// Reflector is safe for concurrent Reflect calls once configured.
var schemaReflector = &jsonschema.Reflector{
	DoNotReference:            true,
	ExpandedStruct:            true,
	AllowAdditionalProperties: false,
}

// SchemaFor derives a JSON Schema object from a Go struct describing a
// tool's arguments, the same struct-tag-driven approach as hector's
// functiontool package.
func SchemaFor(v any) map[string]any {
	schema := schemaReflector.Reflect(v)
	out := map[string]any{
		"type": "object",
	}
	if schema.Properties != nil {
		props := map[string]any{}
		for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
			props[pair.Key] = pair.Value
		}
		out["properties"] = props
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}

// NotFoundError is returned when a tool name is absent from the
// registry.
type NotFoundError struct{ Name string }

func (e NotFoundError) Error() string { return fmt.Sprintf("tool not found: %s", e.Name) }
