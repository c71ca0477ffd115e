// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the engine configuration.
type Config struct {
	LLM         LLMConfig                   `toml:"llm"`
	Engine      EngineConfig                `toml:"engine"`
	Retry       RetryConfig                 `toml:"retry"`
	Iterations  IterationsConfig            `toml:"iterations"`
	Specialists map[string]SpecialistConfig `toml:"specialists"`
	Session     SessionConfig               `toml:"session"`
	Tools       ToolsConfig                 `toml:"tools"`
	Paths       PathsConfig                 `toml:"paths"`
	Storage     StorageConfig               `toml:"storage"`
	Telemetry   TelemetryConfig             `toml:"telemetry"`
	Events      EventsConfig                `toml:"events"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	MaxTokens int    `toml:"max_tokens"`
	BaseURL   string `toml:"base_url"` // Custom API endpoint (OpenRouter, LiteLLM, Ollama, LMStudio)
	System    string `toml:"system"`   // System prompt prepended to every specialist call
}

// EngineConfig contains specialist loop and history settings.
type EngineConfig struct {
	HistoryBudget    int `toml:"history_budget"`     // Token budget for rendered iteration history
	EntryMaxTokens   int `toml:"entry_max_tokens"`   // Per-entry cap applied before compression
	KeepRecent       int `toml:"keep_recent"`        // Newest entries always kept verbatim
	AttemptFactor    int `toml:"attempt_factor"`     // Total attempts = factor * max iterations
	ValidationRetry  int `toml:"validation_retries"` // Corrective retries per step
	RefineMax        int `toml:"refine_max"`         // Loop bound for workflow_mode = "refine"
	DebugPromptBytes int `toml:"debug_prompt_bytes"` // Prompt bytes kept in journal events (0 = all)
}

// RetryConfig contains model retry budgets per error class.
type RetryConfig struct {
	NetworkAttempts    int    `toml:"network_attempts"`
	TokenLimitAttempts int    `toml:"token_limit_attempts"`
	ServerAttempts     int    `toml:"server_attempts"`
	InitialBackoff     string `toml:"initial_backoff"`
	MaxBackoff         string `toml:"max_backoff"`
}

// IterationsConfig contains the static layers of the iteration limit resolver.
type IterationsConfig struct {
	GlobalDefault    int               `toml:"global_default"`
	Overrides        map[string]int    `toml:"overrides"`         // specialist id -> limit
	CategoryDefaults map[string]int    `toml:"category_defaults"` // category -> limit
	Categories       map[string]string `toml:"categories"`        // specialist id -> category
	DynamicFile      string            `toml:"dynamic_file"`      // Hot-reloaded per-specialist limits
}

// SpecialistConfig describes one specialist profile.
type SpecialistConfig struct {
	Role      string `toml:"role"`
	Category  string `toml:"category"`
	Archetype string `toml:"archetype"` // direct | decision | nonfile
	Prompt    string `toml:"prompt"`
}

// SessionConfig contains project session settings.
type SessionConfig struct {
	Changing []string `toml:"changing"` // Specialists whose success refreshes the session context
	File     string   `toml:"file"`     // Project context JSON file
}

// ToolsConfig contains tool facade settings.
type ToolsConfig struct {
	FileMutating []string            `toml:"file_mutating"`
	Roles        map[string][]string `toml:"roles"` // role -> allowed tool names ("*" = all)
	Workspace    string              `toml:"workspace"`
}

// PathsConfig contains target path resolution settings.
type PathsConfig struct {
	Denylist []string `toml:"denylist"`
}

// StorageConfig contains persistent storage settings.
type StorageConfig struct {
	Path string `toml:"path"` // Base directory for snapshots and journals
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string `toml:"protocol"` // grpc (default) or http
}

// EventsConfig contains progress event publishing settings.
type EventsConfig struct {
	NATSURL string `toml:"nats_url"` // Empty disables publishing
	Subject string `toml:"subject"`  // Subject prefix
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Engine: EngineConfig{
			HistoryBudget:   6000,
			EntryMaxTokens:  1500,
			KeepRecent:      2,
			AttemptFactor:   2,
			ValidationRetry: 1,
			RefineMax:       3,
		},
		Retry: RetryConfig{
			NetworkAttempts:    3,
			TokenLimitAttempts: 3,
			ServerAttempts:     2, // one retry
			InitialBackoff:     "1s",
			MaxBackoff:         "30s",
		},
		Iterations: IterationsConfig{
			GlobalDefault: 10,
		},
		Tools: ToolsConfig{
			FileMutating: []string{"write", "edit", "write_file", "edit_file", "apply_edit", "create_file", "delete_file"},
		},
		Storage: StorageConfig{
			Path: "~/.local/docplan",
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
		Events: EventsConfig{
			Subject: "docplan",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from docplan.toml in the current directory.
// A missing file yields the defaults.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	path := filepath.Join(cwd, "docplan.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return LoadFile(path)
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}

// Backoff parses the retry backoff bounds, falling back to 1s and 30s.
func (r RetryConfig) Backoff() (initial, max time.Duration) {
	initial, max = time.Second, 30*time.Second
	if d, err := time.ParseDuration(r.InitialBackoff); err == nil && d > 0 {
		initial = d
	}
	if d, err := time.ParseDuration(r.MaxBackoff); err == nil && d > 0 {
		max = d
	}
	return initial, max
}

// StoragePath returns the storage directory with a leading ~ expanded.
func (c *Config) StoragePath() string {
	p := c.Storage.Path
	if len(p) > 1 && p[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// IsSessionChanging reports whether a specialist's success should refresh the session context.
func (c *Config) IsSessionChanging(specialistID string) bool {
	for _, id := range c.Session.Changing {
		if id == specialistID {
			return true
		}
	}
	return false
}
