package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/agentworld/core/internal/toolregistry"
)

// schemaCache compiles each tool's JSON Schema once and reuses the
// compiled validator — the sanitizer only recovers syntax; this
// catches a syntactically valid but wrong-shape payload before
// Execute runs.
//
// Grounded on hector's pkg/tool/functiontool schema-validation step,
// swapping invopop/jsonschema's reflection-only output for
// santhosh-tekuri/jsonschema/v5's compiled Validate, since hector
// validates generated schemas with that package at the functiontool
// call boundary.
type schemaCache struct {
	mu     sync.Mutex
	byTool map[string]*jsonschema.Schema
}

var validators = &schemaCache{byTool: map[string]*jsonschema.Schema{}}

func (c *schemaCache) compiled(tool toolregistry.Tool) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.byTool[tool.Name()]; ok {
		return s, nil
	}

	raw, err := json.Marshal(tool.Schema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", tool.Name(), err)
	}
	compiler := jsonschema.NewCompiler()
	resourceName := tool.Name() + ".json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %s: %w", tool.Name(), err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", tool.Name(), err)
	}
	c.byTool[tool.Name()] = schema
	return schema, nil
}

// validateToolArguments checks a sanitized, syntactically valid tool
// argument object against the tool's declared schema so a model that
// omits a required field fails with a clear error instead of an
// opaque runtime error from Execute.
func validateToolArguments(tool toolregistry.Tool, args map[string]any) error {
	schema, err := validators.compiled(tool)
	if err != nil {
		// A tool whose declared schema doesn't compile is a registration
		// bug, not an argument problem; don't block execution on it.
		return nil
	}
	if err := schema.Validate(args); err != nil {
		return fmt.Errorf("tool arguments invalid: %w", err)
	}
	return nil
}
