// Package config provides engine configuration.
//
// AppConfig is the on-disk configuration document: infrastructure settings
// (listen address, database path, repository root, LLM endpoint) plus
// optional overrides for the execution knobs in ExecutionConfig. It is
// loaded once at process start and frozen before serving begins.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LLMConfig configures the LLM provider adapter.
type LLMConfig struct {
	// Provider selects the adapter: "anthropic" or "mock".
	Provider string `yaml:"provider" json:"provider"`
	// Model is the default model identifier passed to the provider.
	Model string `yaml:"model" json:"model"`
	// APIKeyEnv names the environment variable holding the API key. The key
	// itself never appears in the config document.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	// MaxTokens is the default completion budget per call.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`
	// Temperature is the default sampling temperature.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
}

// AppConfig is the full configuration document for one engine process.
type AppConfig struct {
	// ListenAddress is the gRPC listen address, e.g. ":50051".
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
	// DatabasePath is the SQLite database file backing the code index,
	// understanding cache, session state, and event log.
	DatabasePath string `yaml:"database_path" json:"database_path"`
	// RepoRoot is the root of the repository under analysis.
	RepoRoot string `yaml:"repo_root" json:"repo_root"`
	// LogLevel is the zap level name: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`

	LLM LLMConfig `yaml:"llm" json:"llm"`

	// Execution holds overrides for ExecutionConfig knobs, keyed by the
	// same names ExecutionConfigFromMap accepts. Absent keys keep defaults.
	Execution map[string]any `yaml:"execution,omitempty" json:"execution,omitempty"`
}

// DefaultAppConfig returns an AppConfig with default values.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		ListenAddress: ":50051",
		DatabasePath:  "codeanalysis.db",
		RepoRoot:      ".",
		LogLevel:      "info",
		LLM: LLMConfig{
			Provider:  "mock",
			Model:     "claude-sonnet-4-20250514",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			MaxTokens: 2000,
		},
	}
}

// LoadAppConfig reads and parses the YAML configuration document at path.
// Missing keys keep their defaults; unknown keys are rejected so a typo in
// a deployment document fails at startup rather than silently no-opping.
func LoadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := DefaultAppConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the document for values the engine cannot start with.
func (c *AppConfig) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listen_address is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.RepoRoot == "" {
		return fmt.Errorf("repo_root is required")
	}
	switch c.LLM.Provider {
	case "anthropic", "mock":
	default:
		return fmt.Errorf("llm.provider must be \"anthropic\" or \"mock\", got %q", c.LLM.Provider)
	}
	return nil
}

// ExecutionConfig resolves the execution knobs: defaults overlaid with the
// document's execution section.
func (c *AppConfig) ExecutionConfig() *ExecutionConfig {
	if len(c.Execution) == 0 {
		return DefaultExecutionConfig()
	}
	return ExecutionConfigFromMap(c.Execution)
}
