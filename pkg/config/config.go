// Package config provides configuration loading and validation.
//
// Configuration is loaded once at startup from an optional YAML file plus
// environment overrides, validated, and accessed by value. State (session
// phases, turn history) never lives here; it belongs to the database.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names for the LLM invoker.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderMock      = "mock"
)

// Default models per provider.
const (
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultOpenAIModel    = "gpt-4o"
	DefaultOllamaModel    = "llama3.1"
	DefaultOllamaHost     = "http://localhost:11434"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Context  ContextConfig  `yaml:"context"`
	Session  SessionConfig  `yaml:"session"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds the SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// EventLogDir is where audit log files are written.
	EventLogDir string `yaml:"event_log_dir"`
}

// LLMConfig holds the language-model invocation settings.
type LLMConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	OllamaHost string        `yaml:"ollama_host"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	MaxTokens  int           `yaml:"max_tokens"`
	// APIKey is resolved from the environment, never from the config file.
	APIKey string `yaml:"-"`
}

// ContextConfig controls context assembly.
type ContextConfig struct {
	// RecentTurns is how many prior turns feed the short-term section.
	RecentTurns int `yaml:"recent_turns"`
	// MemoryResults caps memory excerpts included in a payload.
	MemoryResults int `yaml:"memory_results"`
	// MaxPayloadTokens bounds the assembled payload; excess is truncated.
	MaxPayloadTokens int `yaml:"max_payload_tokens"`
}

// SessionConfig controls session lifecycle.
type SessionConfig struct {
	// StaleAfter marks a session stale once inactive this long.
	StaleAfter time.Duration `yaml:"stale_after"`
	// LockTimeout bounds how long a turn waits for the per-session lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{Path: "pedagogue.db", EventLogDir: "logs"},
		LLM: LLMConfig{
			Provider:   ProviderAnthropic,
			Model:      DefaultAnthropicModel,
			OllamaHost: DefaultOllamaHost,
			Timeout:    60 * time.Second,
			MaxRetries: 2,
			MaxTokens:  4096,
		},
		Context: ContextConfig{
			RecentTurns:      2,
			MemoryResults:    5,
			MaxPayloadTokens: 8000,
		},
		Session: SessionConfig{
			StaleAfter:  24 * time.Hour,
			LockTimeout: 5 * time.Second,
		},
	}
}

// Load reads configuration from the given YAML file path, applying defaults
// for anything unset. An empty path yields the defaults. Environment
// variables override the API key and server address.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if addr := os.Getenv("PEDAGOGUE_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if dbPath := os.Getenv("PEDAGOGUE_DB"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if provider := os.Getenv("PEDAGOGUE_LLM_PROVIDER"); provider != "" {
		cfg.LLM.Provider = provider
	}

	switch cfg.LLM.Provider {
	case ProviderAnthropic:
		cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case ProviderOpenAI:
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderOllama, ProviderMock:
	default:
		return fmt.Errorf("invalid llm provider: %s", c.LLM.Provider)
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm timeout must be positive, got %v", c.LLM.Timeout)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm max_retries must not be negative, got %d", c.LLM.MaxRetries)
	}
	if c.Context.RecentTurns < 0 {
		return fmt.Errorf("context recent_turns must not be negative, got %d", c.Context.RecentTurns)
	}
	if c.Context.MaxPayloadTokens <= 0 {
		return fmt.Errorf("context max_payload_tokens must be positive, got %d", c.Context.MaxPayloadTokens)
	}
	if c.Session.LockTimeout <= 0 {
		return fmt.Errorf("session lock_timeout must be positive, got %v", c.Session.LockTimeout)
	}
	return nil
}
