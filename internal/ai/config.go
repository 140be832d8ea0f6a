// Package ai is the gateway's concrete default AgentRuntime: a
// langchaingo-backed multi-provider chat/tool-agent service, adapted from
// the teacher's ai/ and pkg/ai/ packages. The agent driver (internal/ep/agent)
// depends only on the AgentRuntime interface; this package is one pluggable
// implementation of it, not a hard dependency of the gateway core.
package ai

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelConfig configures one backing LLM.
type ModelConfig struct {
	Name        string  `yaml:"name"`
	Provider    string  `yaml:"provider"` // openai | google | anthropic
	APIKey      string  `yaml:"api_key"`  // literal key, or "env:VAR_NAME"
	BaseURL     string  `yaml:"base_url,omitempty"`
	ModelName   string  `yaml:"model_name"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// Config holds every configured model and the default to use.
type Config struct {
	DefaultModel string        `yaml:"default_model"`
	Models       []ModelConfig `yaml:"models"`
}

// LoadConfig reads and parses a YAML model configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ai: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("ai: parse config: %w", err)
	}
	return &cfg, nil
}
