package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentworld/core/internal/logger"
)

// MCPSourceConfig configures a stdio-transport MCP tool source,
// grounded on hector's mcptoolset.connectStdio.
type MCPSourceConfig struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Filter  []string
}

// LoadMCPTools connects to an MCP stdio server, lists its tools, and
// returns them wrapped as toolregistry.Tool. The connection is kept open
// for the lifetime of the returned tools (Execute dispatches CallTool
// over it); callers are responsible for registering the result with a
// Registry via ReplaceAll for atomic refresh.
func LoadMCPTools(ctx context.Context, cfg MCPSourceConfig) ([]Tool, func() error, error) {
	mcpClient, err := client.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
	if err != nil {
		return nil, nil, fmt.Errorf("create mcp client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("start mcp client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentworldd", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, nil, fmt.Errorf("initialize mcp: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return nil, nil, fmt.Errorf("list mcp tools: %w", err)
	}

	var filter map[string]bool
	if len(cfg.Filter) > 0 {
		filter = make(map[string]bool, len(cfg.Filter))
		for _, name := range cfg.Filter {
			filter[name] = true
		}
	}

	log := logger.For("toolregistry.mcp").With("source", cfg.Name)
	var tools []Tool
	for _, mt := range listResp.Tools {
		if filter != nil && !filter[mt.Name] {
			continue
		}
		tools = append(tools, &mcpTool{
			client: mcpClient,
			name:   mt.Name,
			desc:   mt.Description,
			schema: convertMCPSchema(mt.InputSchema),
		})
	}
	log.Info("loaded mcp tools", "count", len(tools))

	return tools, mcpClient.Close, nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func convertMCPSchema(schema mcp.ToolInputSchema) map[string]any {
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}

// mcpTool adapts one MCP server tool to toolregistry.Tool.
type mcpTool struct {
	client *client.Client
	name   string
	desc   string
	schema map[string]any
}

func (t *mcpTool) Name() string            { return t.name }
func (t *mcpTool) Description() string     { return t.desc }
func (t *mcpTool) Schema() map[string]any { return t.schema }

func (t *mcpTool) Execute(ctx context.Context, req ExecRequest) (ExecResult, error) {
	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = t.name
	callReq.Params.Arguments = req.Arguments

	resp, err := t.client.CallTool(ctx, callReq)
	if err != nil {
		return ExecResult{}, err
	}
	if resp.IsError {
		return ExecResult{}, fmt.Errorf("mcp tool %s returned an error result", t.name)
	}

	var parts []string
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 1 {
		return ExecResult{Output: parts[0]}, nil
	}
	return ExecResult{Output: parts}, nil
}
