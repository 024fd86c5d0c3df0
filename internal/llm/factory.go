package llm

import (
	"fmt"
	"time"
)

// ProviderConfig is the subset of engine configuration needed to construct
// a ChatGenerator, independent of how the caller sourced it (env vars,
// flags, a config file).
type ProviderConfig struct {
	Provider string // "openai", "anthropic", "ollama" (default)
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// NewChatGenerator constructs the ChatGenerator for cfg.Provider. All three
// concrete clients also implement StreamingChatGenerator; callers that want
// streaming should type-assert.
func NewChatGenerator(cfg ProviderConfig) (ChatGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Timeout: cfg.Timeout}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model, Timeout: cfg.Timeout}), nil
	case "ollama", "":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "qwen2.5:7b"
		}
		return NewOllamaClient(OllamaConfig{BaseURL: baseURL, Model: model, Timeout: cfg.Timeout}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
