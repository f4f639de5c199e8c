package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/healthtrack/symptomtracker/internal/llm"
)

// Turn is one entry of the short-term history.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryStore keeps the last few turns of each conversation in a Redis list.
type HistoryStore struct {
	client  *redis.Client
	maxMsgs int
	ttl     time.Duration
}

func NewHistoryStore(client *redis.Client, maxMsgs int, ttl time.Duration) *HistoryStore {
	if maxMsgs <= 0 {
		maxMsgs = 20
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &HistoryStore{client: client, maxMsgs: maxMsgs, ttl: ttl}
}

func historyKey(userID, conversationID uuid.UUID) string {
	return fmt.Sprintf("history:%s:%s", userID, conversationID)
}

// Append pushes turns in order and trims the list.
func (s *HistoryStore) Append(ctx context.Context, userID, conversationID uuid.UUID, turns ...Turn) error {
	key := historyKey(userID, conversationID)

	pipe := s.client.Pipeline()
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshaling turn: %w", err)
		}
		pipe.RPush(ctx, key, string(data))
	}
	pipe.LTrim(ctx, key, int64(-s.maxMsgs), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec for %s: %w", key, err)
	}
	return nil
}

// Recent returns up to the configured number of turns, oldest first.
func (s *HistoryStore) Recent(ctx context.Context, userID, conversationID uuid.UUID) ([]Turn, error) {
	key := historyKey(userID, conversationID)
	vals, err := s.client.LRange(ctx, key, int64(-s.maxMsgs), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}

	turns := make([]Turn, 0, len(vals))
	for _, v := range vals {
		var t Turn
		if err := json.Unmarshal([]byte(v), &t); err != nil {
			continue // skip malformed entries
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Turns adapts Recent for prompt building.
func (s *HistoryStore) Turns(ctx context.Context, userID, conversationID uuid.UUID) ([]llm.Message, error) {
	turns, err := s.Recent(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, llm.Message{Role: t.Role, Content: t.Content})
	}
	return out, nil
}

func (s *HistoryStore) Clear(ctx context.Context, userID, conversationID uuid.UUID) error {
	return s.client.Del(ctx, historyKey(userID, conversationID)).Err()
}
