// Package config loads contentforge configuration from forge.yaml with
// environment variable overrides for credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all contentforge configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Polling   PollingConfig   `yaml:"polling"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LLMConfig configures model provider access.
type LLMConfig struct {
	// API keys, normally supplied through environment variables.
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	// DefaultModel runs steps that configure no model of their own.
	DefaultModel       string  `yaml:"default_model"`
	DefaultTemperature float64 `yaml:"default_temperature"`
	DefaultMaxTokens   int     `yaml:"default_max_tokens"`

	// SyncTimeout bounds synchronous provider calls. Async-class calls
	// have no caller-side timeout; they run to terminal status.
	SyncTimeout string `yaml:"sync_timeout"`
}

// RetrievalConfig configures rag-mode grounding.
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k"`
	MinScore       float64 `yaml:"min_score"`
	EmbeddingModel string  `yaml:"embedding_model"`
}

// PollingConfig configures the async task monitor.
type PollingConfig struct {
	Interval string `yaml:"interval"`
	// ExpectedCeiling caps the advisory progress estimate. It never
	// infers completion; only terminal status does.
	ExpectedCeiling string `yaml:"expected_ceiling"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig mirrors logging.Settings.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the configuration used when forge.yaml is absent.
func DefaultConfig() *Config {
	return &Config{
		Name:    "contentforge",
		Version: "1.0.0",

		LLM: LLMConfig{
			DefaultModel:       "gemini-2.5-flash",
			DefaultTemperature: 0.7,
			DefaultMaxTokens:   8192,
			SyncTimeout:        "5m",
		},

		Retrieval: RetrievalConfig{
			TopK:           10,
			MinScore:       0.7,
			EmbeddingModel: "gemini-embedding-001",
		},

		Polling: PollingConfig{
			Interval:        "20s",
			ExpectedCeiling: "10m",
		},

		Store: StoreConfig{
			DatabasePath: ".forge/forge.db",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults
// when the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. Environment
// always wins over the file for credentials.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.GeminiAPIKey = key
	}
	if c.LLM.GeminiAPIKey == "" {
		// Deep research shares the Gemini credential under either name.
		if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
			c.LLM.GeminiAPIKey = key
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.OpenAIAPIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.AnthropicAPIKey = key
	}
	if path := os.Getenv("FORGE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

// SyncTimeout parses the synchronous call timeout, defaulting to 5m.
func (c *Config) SyncTimeout() time.Duration {
	if d, err := time.ParseDuration(c.LLM.SyncTimeout); err == nil && d > 0 {
		return d
	}
	return 5 * time.Minute
}

// PollInterval parses the async poll interval, defaulting to 20s.
func (c *Config) PollInterval() time.Duration {
	if d, err := time.ParseDuration(c.Polling.Interval); err == nil && d > 0 {
		return d
	}
	return 20 * time.Second
}

// ExpectedCeiling parses the advisory progress ceiling, defaulting to 10m.
func (c *Config) ExpectedCeiling() time.Duration {
	if d, err := time.ParseDuration(c.Polling.ExpectedCeiling); err == nil && d > 0 {
		return d
	}
	return 10 * time.Minute
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.LLM.DefaultModel == "" {
		return fmt.Errorf("llm.default_model is required")
	}
	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path is required")
	}
	return nil
}
