package retrieval

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthtrack/symptomtracker/internal/clinical"
	"github.com/healthtrack/symptomtracker/internal/llm"
)

const dim = DefaultDimension

// angled returns a unit vector whose cosine similarity with axis() is cos(theta).
func angled(theta float64) []float32 {
	v := make([]float32, dim)
	v[0] = float32(math.Cos(theta))
	v[1] = float32(math.Sin(theta))
	return v
}

func axis() []float32 { return angled(0) }

func withSimilarity(sim float64) []float32 { return angled(math.Acos(sim)) }

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return axis(), nil
}

type storedVector struct {
	userID uuid.UUID
	vec    []float32
}

// memRepository over-fetches on purpose: it ignores the limit and returns
// candidates unsorted so the service's own ranking is what gets tested.
type memRepository struct {
	mu       sync.Mutex
	messages map[uuid.UUID]clinical.Message
	vectors  map[uuid.UUID]storedVector
	upserts  int
}

func newMemRepository() *memRepository {
	return &memRepository{
		messages: make(map[uuid.UUID]clinical.Message),
		vectors:  make(map[uuid.UUID]storedVector),
	}
}

func (r *memRepository) addMessage(m clinical.Message) clinical.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Role == "" {
		m.Role = clinical.RoleUser
	}
	r.messages[m.ID] = m
	return m
}

func (r *memRepository) Upsert(_ context.Context, messageID, userID uuid.UUID, vector []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts++
	r.vectors[messageID] = storedVector{userID: userID, vec: vector}
	return nil
}

func (r *memRepository) Candidates(_ context.Context, q CandidateQuery) ([]Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Match
	for id, sv := range r.vectors {
		if sv.userID != q.UserID {
			continue
		}
		out = append(out, Match{Message: r.messages[id], Similarity: CosineSimilarity(q.Vector, sv.vec)})
	}
	return out, nil
}

func (r *memRepository) ListUnembedded(_ context.Context, userID uuid.UUID, limit int) ([]clinical.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []clinical.Message
	for id, m := range r.messages {
		if _, ok := r.vectors[id]; ok || m.UserID != userID {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memRepository) DeleteAll(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.vectors))
	r.vectors = make(map[uuid.UUID]storedVector)
	return n, nil
}

func TestEmbed_DimensionMismatchDoesNotStore(t *testing.T) {
	repo := newMemRepository()
	emb := &fakeEmbedder{vectors: map[string][]float32{"short": make([]float32, 768)}}
	svc := NewService(repo, emb, Options{})

	msg := repo.addMessage(clinical.Message{UserID: uuid.New(), Content: "short"})
	err := svc.IndexMessage(context.Background(), msg)

	var dm *DimensionMismatchError
	require.True(t, errors.As(err, &dm))
	assert.Equal(t, 1536, dm.Expected)
	assert.Equal(t, 768, dm.Actual)
	assert.Contains(t, err.Error(), "1536")
	assert.Contains(t, err.Error(), "768")
	assert.Zero(t, repo.upserts)

	err = svc.Store(context.Background(), msg.ID, msg.UserID, make([]float32, 3))
	assert.True(t, errors.As(err, &dm))
	assert.Zero(t, repo.upserts)
}

func TestIndexMessage_OverwritesPerMessage(t *testing.T) {
	repo := newMemRepository()
	emb := &fakeEmbedder{vectors: map[string][]float32{}}
	svc := NewService(repo, emb, Options{})
	msg := repo.addMessage(clinical.Message{UserID: uuid.New(), Content: "headache again"})

	require.NoError(t, svc.IndexMessage(context.Background(), msg))
	require.NoError(t, svc.Store(context.Background(), msg.ID, msg.UserID, withSimilarity(0.5)))
	assert.Len(t, repo.vectors, 1)
	assert.InDelta(t, 0.5, CosineSimilarity(axis(), repo.vectors[msg.ID].vec), 1e-6)
}

func TestSearch_ExclusionThresholdAndOrder(t *testing.T) {
	repo := newMemRepository()
	svc := NewService(repo, &fakeEmbedder{}, Options{})
	ctx := context.Background()

	user := uuid.New()
	current := uuid.New()
	other := uuid.New()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	seed := func(conv uuid.UUID, sim float64, age time.Duration) clinical.Message {
		m := repo.addMessage(clinical.Message{UserID: user, ConversationID: conv, Content: "x", CreatedAt: base.Add(-age)})
		require.NoError(t, svc.Store(ctx, m.ID, user, withSimilarity(sim)))
		return m
	}

	seed(current, 0.99, 0)
	best := seed(other, 0.95, time.Hour)
	tieNew := seed(other, 0.8, time.Hour)
	tieOld := seed(other, 0.8, 48*time.Hour)
	seed(other, 0.5, 0)

	// Another user's identical vector must never leak.
	stranger := repo.addMessage(clinical.Message{UserID: uuid.New(), ConversationID: other, Content: "x"})
	require.NoError(t, svc.Store(ctx, stranger.ID, stranger.UserID, axis()))

	got, err := svc.Search(ctx, SearchQuery{UserID: user, Text: "head", ExcludeConversation: &current})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, best.ID, got[0].Message.ID)
	assert.Equal(t, tieNew.ID, got[1].Message.ID)
	assert.Equal(t, tieOld.ID, got[2].Message.ID)
	for i, m := range got {
		assert.NotEqual(t, current, m.Message.ConversationID)
		assert.Equal(t, user, m.Message.UserID)
		assert.GreaterOrEqual(t, m.Similarity, 0.7)
		if i > 0 {
			assert.LessOrEqual(t, m.Similarity, got[i-1].Similarity)
		}
	}

	limited, err := svc.Search(ctx, SearchQuery{UserID: user, Text: "head", ExcludeConversation: &current, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, best.ID, limited[0].Message.ID)

	all, err := svc.Search(ctx, SearchQuery{UserID: user, Text: "head"})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestClearAll_EmptiesSearch(t *testing.T) {
	repo := newMemRepository()
	svc := NewService(repo, &fakeEmbedder{}, Options{})
	ctx := context.Background()
	user := uuid.New()

	for i := 0; i < 3; i++ {
		m := repo.addMessage(clinical.Message{UserID: user, ConversationID: uuid.New(), Content: "x"})
		require.NoError(t, svc.IndexMessage(ctx, m))
	}

	n, err := svc.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := svc.Search(ctx, SearchQuery{UserID: user, Text: "x"})
	require.NoError(t, err)
	assert.Empty(t, got)

	indexed, err := svc.Backfill(ctx, user, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, indexed)

	got, err = svc.Search(ctx, SearchQuery{UserID: user, Text: "x"})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestUnsupportedEmbedderDisablesRetrieval(t *testing.T) {
	repo := newMemRepository()
	svc := NewService(repo, &fakeEmbedder{err: llm.ErrEmbeddingsUnsupported}, Options{})
	ctx := context.Background()

	msg := repo.addMessage(clinical.Message{UserID: uuid.New(), Content: "x"})
	assert.NoError(t, svc.IndexMessage(ctx, msg))

	got, err := svc.Search(ctx, SearchQuery{UserID: msg.UserID, Text: "x"})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	n, err := svc.Backfill(ctx, msg.UserID, 5)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEmbed_ProviderErrorPropagates(t *testing.T) {
	boom := errors.New("rate limited")
	svc := NewService(newMemRepository(), &fakeEmbedder{err: boom}, Options{})
	_, err := svc.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 1}))
}
