package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}

	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "claude":
		if c.LLM.APIKey == "" {
			errs = append(errs, fmt.Sprintf("LLM_API_KEY is required for provider %q", c.LLM.Provider))
		}
	case "ollama":
	default:
		errs = append(errs, fmt.Sprintf("LLM_PROVIDER must be openai, claude or ollama, got %q", c.LLM.Provider))
	}

	// Memory tuning
	if c.Memory.EmbeddingDimension <= 0 {
		errs = append(errs, fmt.Sprintf("MEMORY_EMBEDDING_DIMENSION must be positive, got %d", c.Memory.EmbeddingDimension))
	}
	if c.Memory.SimilarityThreshold <= 0 || c.Memory.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Sprintf("MEMORY_SIMILARITY_THRESHOLD must be in (0, 1], got %g", c.Memory.SimilarityThreshold))
	}
	if c.Memory.EpisodeWindowDays <= 0 {
		errs = append(errs, "MEMORY_EPISODE_WINDOW_DAYS must be positive")
	}
	if c.Memory.NegativeWindowDays <= 0 {
		errs = append(errs, "MEMORY_NEGATIVE_WINDOW_DAYS must be positive")
	}

	if c.Memory.EmbeddingDimension > 0 && c.Memory.EmbeddingDimension != 1536 {
		slog.Warn("MEMORY_EMBEDDING_DIMENSION differs from the vector(1536) column in migrations",
			"dimension", c.Memory.EmbeddingDimension)
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
