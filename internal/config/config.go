// Package config loads world/agent configuration from YAML with an
// environment-variable overlay and optional live-reload via fsnotify.
//
// Grounded on hector's pkg/config/loader.go file+env layering
// pattern. Hector's koanf-based distributed backends (consul,
// etcd, zookeeper) are dropped — see DESIGN.md — since go.mod does not
// declare koanf and this package only names sqlite/file/memory storage, not
// a distributed config store.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/agentworld/core/internal/logger"
)

var log = logger.For("config")

// AgentConfig is one agent's static configuration.
type AgentConfig struct {
	ID           string  `yaml:"id" mapstructure:"id"`
	Name         string  `yaml:"name" mapstructure:"name"`
	Provider     string  `yaml:"provider" mapstructure:"provider"`
	Model        string  `yaml:"model" mapstructure:"model"`
	SystemPrompt string  `yaml:"system_prompt" mapstructure:"system_prompt"`
	Temperature  float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	AutoReply    *bool   `yaml:"auto_reply" mapstructure:"auto_reply"`
}

// WorldConfig is one world's static configuration.
type WorldConfig struct {
	ID           string            `yaml:"id" mapstructure:"id"`
	Name         string            `yaml:"name" mapstructure:"name"`
	Description  string            `yaml:"description" mapstructure:"description"`
	TurnLimit    int               `yaml:"turn_limit" mapstructure:"turn_limit"`
	MainAgent    string            `yaml:"main_agent" mapstructure:"main_agent"`
	ChatProvider string            `yaml:"chat_provider" mapstructure:"chat_provider"`
	ChatModel    string            `yaml:"chat_model" mapstructure:"chat_model"`
	Variables    map[string]string `yaml:"variables" mapstructure:"variables"`
	Agents       []AgentConfig     `yaml:"agents" mapstructure:"agents"`

	// ApprovalRequiredTools names tools that must be routed through the
	// HITL approval gate before execution (e.g. "shell_cmd").
	ApprovalRequiredTools []string `yaml:"approval_required_tools" mapstructure:"approval_required_tools"`
}

// Config is the top-level configuration document.
type Config struct {
	StorageType      string        `yaml:"storage_type" mapstructure:"storage_type"`
	StorageDSN       string        `yaml:"storage_dsn" mapstructure:"storage_dsn"`
	WorkingDirectory string        `yaml:"working_directory" mapstructure:"working_directory"`
	Worlds           []WorldConfig `yaml:"worlds" mapstructure:"worlds"`
}

// Load reads path (YAML), applies an environment-variable overlay, and
// decodes into Config via mapstructure: raw map, env overlay,
// structured decode.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort; absent .env is not an error

	raw := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverlay(raw)

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyEnvOverlay mirrors AGENT_WORLD_STORAGE_TYPE,
// AGENT_WORLD_WORKING_DIRECTORY, and AGENT_WORLD_STORAGE_DSN onto raw.
func applyEnvOverlay(raw map[string]any) {
	if v := os.Getenv("AGENT_WORLD_STORAGE_TYPE"); v != "" {
		raw["storage_type"] = v
	}
	if v := os.Getenv("AGENT_WORLD_WORKING_DIRECTORY"); v != "" {
		raw["working_directory"] = v
	}
	if v := os.Getenv("AGENT_WORLD_STORAGE_DSN"); v != "" {
		raw["storage_dsn"] = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.StorageType == "" {
		cfg.StorageType = "memory"
	}
	for wi := range cfg.Worlds {
		if cfg.Worlds[wi].TurnLimit == 0 {
			cfg.Worlds[wi].TurnLimit = 5
		}
	}
}

// DisableEventPersistence reports the DISABLE_EVENT_PERSISTENCE=true
// switch.
func DisableEventPersistence() bool {
	v, _ := strconv.ParseBool(os.Getenv("DISABLE_EVENT_PERSISTENCE"))
	return v
}

// BridgeLoggingEnabled reports the LOG_LLM_TOOL_BRIDGE=1 switch.
func BridgeLoggingEnabled() bool {
	return strings.TrimSpace(os.Getenv("LOG_LLM_TOOL_BRIDGE")) == "1"
}

// Watch reloads path on change and invokes onChange with the freshly
// loaded Config. Returns a stop function. Errors during reload are
// logged, not propagated, so a transient editor save does not crash the
// watcher.
func Watch(path string, onChange func(*Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					log.Warn("config reload failed", "path", path, "error", err)
					continue
				}
				onChange(cfg)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "error", werr)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
