// Package retrieval stores message embeddings and finds related messages
// from a user's other conversations.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/healthtrack/symptomtracker/internal/clinical"
	"github.com/healthtrack/symptomtracker/internal/llm"
	"github.com/healthtrack/symptomtracker/internal/metrics"
)

// Options tunes the service. Zero values fall back to the defaults below.
type Options struct {
	Dimension     int
	MinSimilarity float64
	Limit         int
	BackfillBatch int
}

const (
	DefaultDimension     = 1536
	DefaultMinSimilarity = 0.7
	DefaultLimit         = 5
	DefaultBackfillBatch = 20
)

// Service validates embeddings and ranks stored messages against a query.
type Service struct {
	repo     Repository
	embedder llm.Embedder
	opts     Options
}

func NewService(repo Repository, embedder llm.Embedder, opts Options) *Service {
	if opts.Dimension <= 0 {
		opts.Dimension = DefaultDimension
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.BackfillBatch <= 0 {
		opts.BackfillBatch = DefaultBackfillBatch
	}
	return &Service{repo: repo, embedder: embedder, opts: opts}
}

// Embed returns the vector for text, failing with DimensionMismatchError when
// the provider's output does not have the configured length.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if err := s.checkDimension(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (s *Service) checkDimension(vec []float32) error {
	if len(vec) != s.opts.Dimension {
		metrics.EmbeddingDimensionMismatchTotal.Inc()
		return &DimensionMismatchError{Expected: s.opts.Dimension, Actual: len(vec)}
	}
	return nil
}

// Store persists the embedding for one message, replacing any earlier one.
func (s *Service) Store(ctx context.Context, messageID, userID uuid.UUID, vector []float32) error {
	if err := s.checkDimension(vector); err != nil {
		return err
	}
	return s.repo.Upsert(ctx, messageID, userID, vector)
}

// IndexMessage embeds and stores msg. Providers without embeddings are skipped.
func (s *Service) IndexMessage(ctx context.Context, msg clinical.Message) error {
	vec, err := s.Embed(ctx, msg.Content)
	if err != nil {
		if errors.Is(err, llm.ErrEmbeddingsUnsupported) {
			return nil
		}
		return err
	}
	return s.Store(ctx, msg.ID, msg.UserID, vec)
}

// SearchQuery describes a cross-conversation lookup. Limit and MinSimilarity
// default to the service options when zero.
type SearchQuery struct {
	UserID              uuid.UUID
	Text                string
	ExcludeConversation *uuid.UUID
	Limit               int
	MinSimilarity       float64
}

// Search embeds q.Text and returns the user's most similar messages.
func (s *Service) Search(ctx context.Context, q SearchQuery) ([]Match, error) {
	vec, err := s.Embed(ctx, q.Text)
	if err != nil {
		if errors.Is(err, llm.ErrEmbeddingsUnsupported) {
			return []Match{}, nil
		}
		return nil, err
	}
	return s.SearchByVector(ctx, q, vec)
}

// SearchByVector ranks stored messages against an already computed vector.
// Results exclude q.ExcludeConversation, never fall below the similarity
// threshold and are ordered by similarity, newest first on ties.
func (s *Service) SearchByVector(ctx context.Context, q SearchQuery, vec []float32) ([]Match, error) {
	if err := s.checkDimension(vec); err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = s.opts.Limit
	}
	minSim := q.MinSimilarity
	if minSim <= 0 {
		minSim = s.opts.MinSimilarity
	}

	candidates, err := s.repo.Candidates(ctx, CandidateQuery{
		UserID:              q.UserID,
		Vector:              vec,
		ExcludeConversation: q.ExcludeConversation,
		MinSimilarity:       minSim,
		Limit:               limit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if c.Message.UserID != q.UserID {
			continue
		}
		if q.ExcludeConversation != nil && c.Message.ConversationID == *q.ExcludeConversation {
			continue
		}
		if c.Similarity < minSim || math.IsNaN(c.Similarity) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Message.CreatedAt.After(out[j].Message.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}

	metrics.SearchResults.Observe(float64(len(out)))
	return out, nil
}

// Backfill embeds up to batch of the user's messages that have no stored
// vector. It returns how many were indexed.
func (s *Service) Backfill(ctx context.Context, userID uuid.UUID, batch int) (int, error) {
	if batch <= 0 {
		batch = s.opts.BackfillBatch
	}
	msgs, err := s.repo.ListUnembedded(ctx, userID, batch)
	if err != nil {
		return 0, err
	}

	indexed := 0
	for _, m := range msgs {
		vec, err := s.Embed(ctx, m.Content)
		if err != nil {
			if errors.Is(err, llm.ErrEmbeddingsUnsupported) {
				return indexed, nil
			}
			return indexed, err
		}
		if err := s.repo.Upsert(ctx, m.ID, m.UserID, vec); err != nil {
			return indexed, err
		}
		indexed++
	}
	if indexed > 0 {
		slog.Debug("retrieval: backfilled embeddings", "user_id", userID, "count", indexed)
	}
	return indexed, nil
}

// ClearAll removes every stored embedding and returns how many were removed.
// Messages are re-embedded lazily afterwards.
func (s *Service) ClearAll(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	slog.Warn("retrieval: cleared all message embeddings", "removed", n)
	return n, nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is a zero vector or their lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
