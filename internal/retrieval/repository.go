package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/healthtrack/symptomtracker/internal/clinical"
)

// Match is a message together with its similarity to the query.
type Match struct {
	Message    clinical.Message `json:"message"`
	Similarity float64          `json:"similarity"`
}

// CandidateQuery scopes a similarity lookup to one user.
type CandidateQuery struct {
	UserID              uuid.UUID
	Vector              []float32
	ExcludeConversation *uuid.UUID
	MinSimilarity       float64
	Limit               int
}

// Repository defines message embedding persistence.
type Repository interface {
	Upsert(ctx context.Context, messageID, userID uuid.UUID, vector []float32) error
	Candidates(ctx context.Context, q CandidateQuery) ([]Match, error)
	ListUnembedded(ctx context.Context, userID uuid.UUID, limit int) ([]clinical.Message, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// PostgresRepository implements Repository using pgx + pgvector.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Upsert(ctx context.Context, messageID, userID uuid.UUID, vector []float32) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_embeddings (message_id, user_id, embedding)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (message_id) DO UPDATE
		 SET embedding = EXCLUDED.embedding, created_at = now()`,
		messageID, userID, pgvector.NewVector(vector),
	)
	if err != nil {
		return fmt.Errorf("storing message embedding: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Candidates(ctx context.Context, q CandidateQuery) ([]Match, error) {
	vec := pgvector.NewVector(q.Vector)
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.conversation_id, m.user_id, m.role, m.content, m.created_at,
		        1 - (e.embedding <=> $1) AS similarity
		 FROM message_embeddings e
		 JOIN messages m ON m.id = e.message_id
		 WHERE e.user_id = $2
		   AND ($3::uuid IS NULL OR m.conversation_id <> $3)
		   AND 1 - (e.embedding <=> $1) >= $4
		 ORDER BY similarity DESC, m.created_at DESC
		 LIMIT $5`,
		vec, q.UserID, q.ExcludeConversation, q.MinSimilarity, q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching similar messages: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(
			&m.Message.ID, &m.Message.ConversationID, &m.Message.UserID,
			&m.Message.Role, &m.Message.Content, &m.Message.CreatedAt, &m.Similarity,
		); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (r *PostgresRepository) ListUnembedded(ctx context.Context, userID uuid.UUID, limit int) ([]clinical.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.conversation_id, m.user_id, m.role, m.content, m.created_at
		 FROM messages m
		 LEFT JOIN message_embeddings e ON e.message_id = m.id
		 WHERE m.user_id = $1 AND m.role = 'user' AND e.message_id IS NULL
		 ORDER BY m.created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing unembedded messages: %w", err)
	}
	defer rows.Close()

	var msgs []clinical.Message
	for rows.Next() {
		var m clinical.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *PostgresRepository) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM message_embeddings`)
	if err != nil {
		return 0, fmt.Errorf("clearing message embeddings: %w", err)
	}
	return tag.RowsAffected(), nil
}
