// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/onion-salad/persona-lens-sub000/internal/embedding"
	"github.com/onion-salad/persona-lens-sub000/internal/generation"
)

// Config holds all persona-lens configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Workspace is the base directory for the database and logs.
	Workspace string `yaml:"workspace"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Persona store
	Store StoreConfig `yaml:"store"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Retrieval reranking
	Embedding embedding.Config `yaml:"embedding"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the generation backend.
type LLMConfig struct {
	Provider   string `yaml:"provider"` // gemini, openai
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries"`
}

// StoreConfig configures the persona store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	RequestTimeout string `yaml:"request_timeout"`
	ReadTimeout    string `yaml:"read_timeout"`
	WriteTimeout   string `yaml:"write_timeout"`
}

// LoggingConfig configures the category file logger and the process logger.
type LoggingConfig struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, text
	Debug      bool            `yaml:"debug"`  // enable category file logs
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:      "persona-lens",
		Version:   "0.3.0",
		Workspace: ".",

		LLM: LLMConfig{
			Provider:   "gemini",
			Model:      "gemini-2.0-flash",
			Timeout:    "120s",
			MaxRetries: 3,
		},

		Store: StoreConfig{
			DatabasePath: "data/personas.db",
		},

		Server: ServerConfig{
			Addr:           ":8080",
			RequestTimeout: "300s",
			ReadTimeout:    "30s",
			WriteTimeout:   "360s",
		},

		Embedding: embedding.DefaultConfig(),

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults;
// environment variables override both.
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

// applyEnvOverrides applies PERSONALENS_* and provider key overrides.
func (c *Config) applyEnvOverrides() {
	// Provider API keys in priority order; the last one found wins the
	// provider selection.
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "gemini"
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.Provider == "openai" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("PERSONALENS_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}

	if v := os.Getenv("PERSONALENS_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("PERSONALENS_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("PERSONALENS_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("PERSONALENS_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("PERSONALENS_DB_PATH"); v != "" {
		c.Store.DatabasePath = v
	}
	if v := os.Getenv("PERSONALENS_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("PERSONALENS_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PERSONALENS_DEBUG"); v == "1" || v == "true" {
		c.Logging.Debug = true
	}
	if v := os.Getenv("PERSONALENS_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("PERSONALENS_EMBEDDING_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
	}
}

// Validate checks cross-field constraints before wiring.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("llm.provider must be gemini or openai, got %q", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required (set GEMINI_API_KEY, OPENAI_API_KEY or PERSONALENS_API_KEY)")
	}
	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path is required")
	}
	if _, err := c.LLMTimeout(); err != nil {
		return fmt.Errorf("llm.timeout: %w", err)
	}
	if _, err := c.RequestTimeout(); err != nil {
		return fmt.Errorf("server.request_timeout: %w", err)
	}
	return nil
}

// LLMTimeout parses the per-call generation timeout.
func (c *Config) LLMTimeout() (time.Duration, error) {
	return parseDuration(c.LLM.Timeout, 2*time.Minute)
}

// RequestTimeout parses the end-to-end request deadline.
func (c *Config) RequestTimeout() (time.Duration, error) {
	return parseDuration(c.Server.RequestTimeout, 5*time.Minute)
}

// ReadTimeout parses the server read timeout.
func (c *Config) ReadTimeout() (time.Duration, error) {
	return parseDuration(c.Server.ReadTimeout, 30*time.Second)
}

// WriteTimeout parses the server write timeout.
func (c *Config) WriteTimeout() (time.Duration, error) {
	return parseDuration(c.Server.WriteTimeout, 6*time.Minute)
}

// GenerationConfig builds the generation client configuration.
func (c *Config) GenerationConfig() (generation.Config, error) {
	timeout, err := c.LLMTimeout()
	if err != nil {
		return generation.Config{}, err
	}
	return generation.Config{
		Provider:   generation.Provider(c.LLM.Provider),
		APIKey:     c.LLM.APIKey,
		BaseURL:    c.LLM.BaseURL,
		Model:      c.LLM.Model,
		Timeout:    timeout,
		MaxRetries: c.LLM.MaxRetries,
	}, nil
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}
