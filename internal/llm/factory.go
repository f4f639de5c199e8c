package llm

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/healthtrack/symptomtracker/internal/config"
)

// NewClients builds the generator and embedder for the configured provider.
// Claude has no embedding API; its embedder always returns
// ErrEmbeddingsUnsupported.
func NewClients(cfg config.LLMConfig) (Generator, Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		c := NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.EmbeddingModel, cfg.BaseURL, cfg.MaxTokens)
		return c, c, nil

	case "claude":
		c := NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens)
		slog.Warn("claude provider has no embeddings; semantic retrieval is disabled")
		return c, unsupportedEmbedder{}, nil

	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = strings.TrimRight(baseURL, "/") + "/v1"
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		slog.Info("using ollama through its openai-compatible api", "base_url", baseURL)
		c := NewOpenAIClient(apiKey, cfg.Model, cfg.EmbeddingModel, baseURL, cfg.MaxTokens)
		return c, c, nil

	default:
		return nil, nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
