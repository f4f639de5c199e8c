package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthtrack/symptomtracker/internal/clinical"
)

// Repository defines conversation and message persistence.
type Repository interface {
	GetConversation(ctx context.Context, userID, id uuid.UUID) (*clinical.Conversation, error)
	CreateConversation(ctx context.Context, c *clinical.Conversation) error
	CreateMessage(ctx context.Context, m *clinical.Message) error
}

// PostgresRepository implements Repository using pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetConversation returns clinical.ErrNotFound when the conversation does
// not exist or belongs to another user.
func (r *PostgresRepository) GetConversation(ctx context.Context, userID, id uuid.UUID) (*clinical.Conversation, error) {
	var c clinical.Conversation
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, title, created_at, updated_at
		 FROM conversations
		 WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, clinical.ErrNotFound
		}
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) CreateConversation(ctx context.Context, c *clinical.Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO conversations (id, user_id, title)
		 VALUES ($1, $2, $3)
		 RETURNING created_at, updated_at`,
		c.ID, c.UserID, c.Title,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating conversation: %w", err)
	}
	return nil
}

// CreateMessage inserts the message and bumps the conversation's updated_at
// in one statement.
func (r *PostgresRepository) CreateMessage(ctx context.Context, m *clinical.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx,
		`WITH touched AS (
		     UPDATE conversations SET updated_at = now() WHERE id = $2
		 )
		 INSERT INTO messages (id, conversation_id, user_id, role, content)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		m.ID, m.ConversationID, m.UserID, string(m.Role), m.Content,
	).Scan(&m.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating message: %w", err)
	}
	return nil
}
