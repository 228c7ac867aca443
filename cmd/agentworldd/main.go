// Command agentworldd is the CLI and server entry point for the agent
// world event-and-orchestration core.
//
// Usage:
//
//	agentworldd serve --config world.yaml
//	agentworldd world create --config world.yaml --id team --name Team
//	agentworldd world list --config world.yaml
//	agentworldd chat send --server http://localhost:8080 --world team --chat c1 "hello"
//	agentworldd approve --server http://localhost:8080 --world team --request r1 --options approve:Approve,deny:Deny
//
// Grounded on hector's cmd/hector (kong subcommand CLI: top-level
// flags shared via the parent CLI struct, one Cmd struct per verb with
// a Run(cli *CLI) method).
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/huh"
	promclient "github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/agentworld/core/internal/bridge"
	"github.com/agentworld/core/internal/config"
	"github.com/agentworld/core/internal/eventbus"
	"github.com/agentworld/core/internal/hitl"
	"github.com/agentworld/core/internal/llm"
	"github.com/agentworld/core/internal/logger"
	"github.com/agentworld/core/internal/orchestrator"
	"github.com/agentworld/core/internal/storage"
	"github.com/agentworld/core/internal/subscribers"
	"github.com/agentworld/core/internal/telemetry"
	"github.com/agentworld/core/internal/toolregistry"
	"github.com/agentworld/core/internal/tools/shellcmd"
	"github.com/agentworld/core/internal/worldmodel"
)

// CLI is the top-level kong command tree.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP/SSE bridge over the configured worlds."`
	World   WorldCmd   `cmd:"" help:"Inspect or create worlds."`
	Chat    ChatCmd    `cmd:"" help:"Send a chat message to a running server."`
	Approve ApproveCmd `cmd:"" help:"Resolve a pending HITL request on a running server."`

	Config   string `short:"c" help:"Path to world config YAML." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("agentworldd"),
		kong.Description("Agent World event-and-orchestration core."),
	)
	logger.Init(logger.ParseLevel(cli.LogLevel), os.Stderr)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}

// ServeCmd starts the bridge server over every world named in the
// config file.
type ServeCmd struct {
	Port       int    `help:"HTTP port to listen on." default:"8080"`
	APIKey     string `name:"api-key" help:"LLM provider API key (defaults to OPENAI_API_KEY)."`
	EnableOtel bool   `name:"otel" help:"Enable stdout tracing + Prometheus metrics."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := storage.Open(cfg.StorageType, cfg.StorageDSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	provider, err := telemetry.Init(ctx, telemetry.Config{
		TracingEnabled: c.EnableOtel,
		MetricsEnabled: c.EnableOtel,
		ServiceName:    "agentworldd",
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer provider.Shutdown(ctx)
	metrics := telemetry.NewMetrics(promclient.DefaultRegisterer)

	apiKey := c.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	client := llm.NewOpenAIAdapter(apiKey)
	gateway := hitl.New()
	srv := bridge.NewServer()

	// Worlds are independent (each owns its own bus, runtime and agent
	// set), so build them concurrently and fail the whole startup if any
	// one world's config is bad.
	bounds := make([]*bridge.BoundWorld, len(cfg.Worlds))
	g, gctx := errgroup.WithContext(ctx)
	for i, wc := range cfg.Worlds {
		i, wc := i, wc
		g.Go(func() error {
			bound, err := buildWorld(wc, store, client, gateway, provider, metrics, cfg.WorkingDirectory)
			if err != nil {
				return fmt.Errorf("build world %s: %w", wc.ID, err)
			}
			bounds[i] = bound
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, bound := range bounds {
		srv.RegisterWorld(bound)
	}

	addr := fmt.Sprintf(":%d", c.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	fmt.Printf("agentworldd listening on %s\n", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func buildWorld(wc config.WorldConfig, store storage.Store, client llm.LLM, gateway *hitl.Gateway, provider *telemetry.Provider, metrics *telemetry.Metrics, workingDirectory string) (*bridge.BoundWorld, error) {
	world := worldmodel.NewWorld(wc.ID, wc.Name)
	world.Description = wc.Description
	if wc.TurnLimit > 0 {
		world.TurnLimit = wc.TurnLimit
	}
	world.MainAgent = wc.MainAgent
	world.ChatProvider = wc.ChatProvider
	world.ChatModel = wc.ChatModel
	for k, v := range wc.Variables {
		world.Variables[k] = v
	}
	if workingDirectory != "" {
		if _, ok := world.Variables["working_directory"]; !ok {
			world.Variables["working_directory"] = workingDirectory
		}
	}
	if len(wc.ApprovalRequiredTools) == 0 {
		world.ApprovalRequiredTools[shellcmd.ToolName] = true
	} else {
		for _, name := range wc.ApprovalRequiredTools {
			world.ApprovalRequiredTools[name] = true
		}
	}

	tools := toolregistry.New()
	tools.Register(shellcmd.New(world.Variables["working_directory"]))

	bus := eventbus.New(world.ID)
	rt := orchestrator.NewRuntime(bus, store, client, tools, gateway)
	rt.Tracer = provider.Tracer
	rt.Metrics = metrics

	for _, ac := range wc.Agents {
		agent := worldmodel.NewAgent(ac.ID, ac.Name)
		agent.Provider = ac.Provider
		agent.Model = ac.Model
		agent.SystemPrompt = ac.SystemPrompt
		agent.Temperature = ac.Temperature
		agent.MaxTokens = ac.MaxTokens
		if ac.AutoReply != nil {
			agent.AutoReply = *ac.AutoReply
		}
		world.AddAgent(agent)
		subscribers.AttachAgent(rt, world, agent)
	}
	subscribers.AttachWorldActivityListener(rt, world, client)

	return &bridge.BoundWorld{World: world, Runtime: rt}, nil
}

// WorldCmd groups world-inspection subcommands.
type WorldCmd struct {
	Create WorldCreateCmd `cmd:"" help:"Persist a new world record to the configured storage backend (the config file is not modified)."`
	List   WorldListCmd   `cmd:"" help:"List worlds known to the configured storage backend."`
}

type WorldCreateCmd struct {
	ID        string `required:"" help:"World id."`
	Name      string `required:"" help:"Display name."`
	TurnLimit int    `default:"5" help:"Turn limit before requiring human takeover."`
}

func (c *WorldCreateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := storage.Open(cfg.StorageType, cfg.StorageDSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	rec := storage.WorldRecord{ID: c.ID, Name: c.Name, TurnLimit: c.TurnLimit, Variables: map[string]string{}}
	if err := store.SaveWorld(context.Background(), rec); err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	fmt.Printf("created world %s (%s)\n", c.ID, c.Name)
	return nil
}

type WorldListCmd struct{}

func (c *WorldListCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := storage.Open(cfg.StorageType, cfg.StorageDSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	worlds, err := store.ListWorlds(context.Background())
	if err != nil {
		return fmt.Errorf("list worlds: %w", err)
	}
	for _, w := range worlds {
		fmt.Printf("%s\t%s\tturnLimit=%d\n", w.ID, w.Name, w.TurnLimit)
	}
	return nil
}

// ChatCmd sends one message to a running agentworldd server.
type ChatCmd struct {
	Send ChatSendCmd `cmd:"" help:"Publish a message into a world's chat."`
}

type ChatSendCmd struct {
	Server  string `default:"http://localhost:8080" help:"Base URL of a running agentworldd."`
	World   string `required:"" help:"World id."`
	Chat    string `required:"" help:"Chat id."`
	Sender  string `default:"human" help:"Sender id."`
	Content string `arg:"" help:"Message content."`
}

func (c *ChatSendCmd) Run(cli *CLI) error {
	body, _ := json.Marshal(map[string]string{"content": c.Content, "sender": c.Sender})
	url := fmt.Sprintf("%s/worlds/%s/chats/%s/messages", c.Server, c.World, c.Chat)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	fmt.Println("message sent")
	return nil
}

// ApproveCmd prompts the operator for a HITL decision via huh and
// submits it to a running server.
type ApproveCmd struct {
	Server  string `default:"http://localhost:8080" help:"Base URL of a running agentworldd."`
	World   string `required:"" help:"World id."`
	Request string `required:"" help:"Pending HITL request id."`
	Options string `required:"" help:"Comma-separated id:label pairs, e.g. approve:Approve,deny:Deny."`
	Message string `help:"Prompt text shown above the option list."`
}

func (c *ApproveCmd) Run(cli *CLI) error {
	var opts []huh.Option[string]
	for _, pair := range strings.Split(c.Options, ",") {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("malformed option %q, want id:label", pair)
		}
		opts = append(opts, huh.NewOption(parts[1], parts[0]))
	}

	var chosen string
	title := c.Message
	if title == "" {
		title = "Select a tool-call decision"
	}
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().Title(title).Options(opts...).Value(&chosen),
	))
	if err := form.Run(); err != nil {
		return fmt.Errorf("prompt: %w", err)
	}

	body, _ := json.Marshal(map[string]string{"optionId": chosen})
	url := fmt.Sprintf("%s/worlds/%s/hitl/%s", c.Server, c.World, c.Request)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit decision: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	fmt.Printf("submitted %s\n", chosen)
	return nil
}
