package ai

import (
	"errors"

	"github.com/KDmytro/k-base/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Enabled   bool
}

// LLMConfig represents LLM configuration.
type LLMConfig struct {
	Provider    string // openai, deepseek, siliconflow, openrouter, ollama
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0.7
	Timeout     int     // Request timeout in seconds (default: 120)
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

// ModelInfo describes one entry of the chat model registry.
type ModelInfo struct {
	Provider string `json:"provider"`
	Display  string `json:"display"`
}

// AvailableModels is the registry of chat models the API advertises to
// clients, keyed by the identifier sent to the provider. Any
// OpenAI-compatible model works even if it is not listed here; the registry
// only drives model pickers.
var AvailableModels = map[string]ModelInfo{
	"gpt-4o":            {Provider: "openai", Display: "GPT-4o"},
	"gpt-4o-mini":       {Provider: "openai", Display: "GPT-4o Mini"},
	"deepseek-chat":     {Provider: "deepseek", Display: "DeepSeek Chat"},
	"deepseek-reasoner": {Provider: "deepseek", Display: "DeepSeek Reasoner"},
	"qwen2.5-72b":       {Provider: "siliconflow", Display: "Qwen 2.5 72B"},
	"llama3.1":          {Provider: "ollama", Display: "Llama 3.1"},
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.IsAIEnabled(),
	}

	if !cfg.Enabled {
		return cfg
	}

	cfg.LLM = LLMConfig{
		Provider:    p.LLMProvider,
		Model:       p.LLMModel,
		APIKey:      p.LLMAPIKey,
		BaseURL:     p.LLMBaseURL,
		MaxTokens:   2048,
		Temperature: 0.7,
		Timeout:     p.LLMTimeout,
	}

	cfg.Embedding = EmbeddingConfig{
		Provider:   p.EmbeddingProvider,
		Model:      p.EmbeddingModel,
		APIKey:     p.EmbeddingAPIKey,
		BaseURL:    p.EmbeddingBaseURL,
		Dimensions: p.EmbeddingDimensions,
	}

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.LLM.Provider == "" {
		return errors.New("LLM provider is required")
	}
	if c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		return errors.New("LLM API key is required")
	}

	if c.Embedding.Provider == "" {
		return errors.New("embedding provider is required")
	}
	if c.Embedding.Provider != "ollama" && c.Embedding.APIKey == "" {
		return errors.New("embedding API key is required")
	}
	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}

	return nil
}
