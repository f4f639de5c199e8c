package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T, maxMsgs int, ttl time.Duration) (*HistoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewHistoryStore(client, maxMsgs, ttl), mr
}

func TestHistoryStore_AppendAndRecent(t *testing.T) {
	store, _ := setupMiniredis(t, 20, time.Hour)
	ctx := context.Background()
	userID, convID := uuid.New(), uuid.New()

	err := store.Append(ctx, userID, convID,
		Turn{Role: "user", Content: "I have a headache"},
		Turn{Role: "assistant", Content: "How severe is it?"},
	)
	require.NoError(t, err)

	turns, err := store.Recent(ctx, userID, convID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "How severe is it?", turns[1].Content)

	msgs, err := store.Turns(ctx, userID, convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestHistoryStore_Trim(t *testing.T) {
	store, _ := setupMiniredis(t, 3, time.Hour)
	ctx := context.Background()
	userID, convID := uuid.New(), uuid.New()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, userID, convID, Turn{Role: "user", Content: string(rune('A' + i))}))
	}

	turns, err := store.Recent(ctx, userID, convID)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "C", turns[0].Content)
	assert.Equal(t, "E", turns[2].Content)
}

func TestHistoryStore_TTL(t *testing.T) {
	store, mr := setupMiniredis(t, 20, time.Minute)
	ctx := context.Background()
	userID, convID := uuid.New(), uuid.New()

	require.NoError(t, store.Append(ctx, userID, convID, Turn{Role: "user", Content: "Hello"}))
	mr.FastForward(61 * time.Second)

	turns, err := store.Recent(ctx, userID, convID)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestHistoryStore_ClearAndIsolation(t *testing.T) {
	store, _ := setupMiniredis(t, 20, time.Hour)
	ctx := context.Background()
	user1, user2, convID := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, store.Append(ctx, user1, convID, Turn{Role: "user", Content: "U1"}))
	require.NoError(t, store.Append(ctx, user2, convID, Turn{Role: "user", Content: "U2"}))

	turns, _ := store.Recent(ctx, user2, convID)
	require.Len(t, turns, 1)
	assert.Equal(t, "U2", turns[0].Content)

	require.NoError(t, store.Clear(ctx, user1, convID))
	turns, err := store.Recent(ctx, user1, convID)
	require.NoError(t, err)
	assert.Empty(t, turns)

	turns, _ = store.Recent(ctx, user2, convID)
	assert.Len(t, turns, 1)
}

func TestHistoryStore_SkipsMalformedEntries(t *testing.T) {
	store, mr := setupMiniredis(t, 20, time.Hour)
	ctx := context.Background()
	userID, convID := uuid.New(), uuid.New()

	_, err := mr.RPush(historyKey(userID, convID), "not json")
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, userID, convID, Turn{Role: "user", Content: "ok"}))

	turns, err := store.Recent(ctx, userID, convID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "ok", turns[0].Content)
}
