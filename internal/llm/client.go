// Package llm wraps the chat and embedding providers behind two small
// interfaces so workflows never import a vendor SDK directly.
package llm

import (
	"context"
	"errors"
)

// Roles accepted in a Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmbeddingsUnsupported is returned by providers without an embedding API.
var ErrEmbeddingsUnsupported = errors.New("llm: provider does not support embeddings")

type Message struct {
	Role    string
	Content string
}

// Generator produces a completion for a chat history.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type unsupportedEmbedder struct{}

func (unsupportedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrEmbeddingsUnsupported
}
