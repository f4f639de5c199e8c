package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthtrack/symptomtracker/internal/config"
)

func TestNewClients(t *testing.T) {
	gen, emb, err := NewClients(config.LLMConfig{Provider: "OpenAI", APIKey: "k", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, gen)
	assert.IsType(t, &OpenAIClient{}, emb)

	gen, emb, err = NewClients(config.LLMConfig{Provider: "claude", APIKey: "k", Model: "claude-3-5-haiku-latest"})
	require.NoError(t, err)
	assert.IsType(t, &ClaudeClient{}, gen)
	_, err = emb.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmbeddingsUnsupported)

	_, _, err = NewClients(config.LLMConfig{Provider: "ollama", Model: "llama3"})
	require.NoError(t, err)

	_, _, err = NewClients(config.LLMConfig{Provider: "gemini"})
	assert.Error(t, err)
}
