package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/healthtrack/symptomtracker/internal/changes"
	"github.com/healthtrack/symptomtracker/internal/clinical"
	natsclient "github.com/healthtrack/symptomtracker/internal/nats"
	"github.com/healthtrack/symptomtracker/internal/retrieval"
	"github.com/healthtrack/symptomtracker/internal/workflow"
	"github.com/healthtrack/symptomtracker/internal/workingmemory"
)

// ErrEmptyMessage is returned for blank chat input.
var ErrEmptyMessage = errors.New("message is empty")

const titleLength = 60

// Hydrator builds and flushes working memory.
type Hydrator interface {
	Hydrate(ctx context.Context, userID uuid.UUID, conversationID *uuid.UUID) (*workingmemory.ConversationContext, error)
	Flush(ctx context.Context, wm *workingmemory.ConversationContext) error
}

// Dispatcher runs the workflow for a message.
type Dispatcher interface {
	Dispatch(ctx context.Context, message string, wm *workingmemory.ConversationContext, tracker *changes.Tracker) (*workflow.Result, error)
}

// Indexer stores and clears message embeddings.
type Indexer interface {
	IndexMessage(ctx context.Context, msg clinical.Message) error
	ClearAll(ctx context.Context) (int64, error)
}

// TurnStore keeps short-term history.
type TurnStore interface {
	Append(ctx context.Context, userID, conversationID uuid.UUID, turns ...Turn) error
}

// AuditPublisher records audit events.
type AuditPublisher interface {
	PublishAuditEvent(ctx context.Context, event natsclient.AuditEvent) error
}

// Service processes chat messages end to end.
type Service struct {
	repo       Repository
	hydrator   Hydrator
	dispatcher Dispatcher
	indexer    Indexer
	notifier   changes.Notifier
	history    TurnStore
	audit      AuditPublisher
	now        func() time.Time
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithHistory enables short-term history writes.
func WithHistory(h TurnStore) ServiceOption {
	return func(s *Service) { s.history = h }
}

// WithAudit publishes an audit event per processed message.
func WithAudit(a AuditPublisher) ServiceOption {
	return func(s *Service) { s.audit = a }
}

func NewService(repo Repository, hydrator Hydrator, dispatcher Dispatcher, indexer Indexer, notifier changes.Notifier, opts ...ServiceOption) *Service {
	if notifier == nil {
		notifier = changes.NopNotifier{}
	}
	s := &Service{
		repo:       repo,
		hydrator:   hydrator,
		dispatcher: dispatcher,
		indexer:    indexer,
		notifier:   notifier,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessMessage handles one user message. When conversationID is nil, or
// names a conversation the user does not own, a new conversation is started.
// Any fatal error aborts the request; writes already made by the workflow
// are not rolled back.
func (s *Service) ProcessMessage(ctx context.Context, userID uuid.UUID, text string, conversationID *uuid.UUID) (*Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	conv, err := s.ensureConversation(ctx, userID, text, conversationID)
	if err != nil {
		return nil, err
	}

	userMsg := &clinical.Message{ConversationID: conv.ID, UserID: userID, Role: clinical.RoleUser, Content: text}
	if err := s.repo.CreateMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	if err := s.indexer.IndexMessage(ctx, *userMsg); err != nil {
		var dimErr *retrieval.DimensionMismatchError
		if errors.As(err, &dimErr) {
			return nil, err
		}
		// Backfill picks the message up on the next assessment.
		slog.Warn("indexing user message", "error", err, "message_id", userMsg.ID)
	}

	wm, err := s.hydrator.Hydrate(ctx, userID, &conv.ID)
	if err != nil {
		return nil, err
	}

	tracker := changes.NewTracker(userID, &conv.ID, s.notifier)
	res, err := s.dispatcher.Dispatch(ctx, text, wm, tracker)
	if err != nil {
		return nil, err
	}

	if err := s.hydrator.Flush(ctx, wm); err != nil {
		return nil, fmt.Errorf("flushing working memory: %w", err)
	}

	reply := &clinical.Message{ConversationID: conv.ID, UserID: userID, Role: clinical.RoleAssistant, Content: res.ResponseText}
	if err := s.repo.CreateMessage(ctx, reply); err != nil {
		return nil, fmt.Errorf("persisting reply: %w", err)
	}

	s.appendHistory(ctx, userID, conv.ID, userMsg, reply)
	s.publishAudit(ctx, userID, conv.ID, res)

	return &Response{
		ResponseText:    res.ResponseText,
		ConversationID:  conv.ID,
		Intent:          res.Intent,
		ExplicitChanges: changes.DeriveChanges(res.Outcome, wm),
		StatusUpdates:   tracker.CollectStatusUpdates(),
	}, nil
}

func (s *Service) ensureConversation(ctx context.Context, userID uuid.UUID, text string, conversationID *uuid.UUID) (*clinical.Conversation, error) {
	if conversationID != nil {
		conv, err := s.repo.GetConversation(ctx, userID, *conversationID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, clinical.ErrNotFound) {
			return nil, fmt.Errorf("loading conversation: %w", err)
		}
		slog.Info("conversation not found for user, starting a new one",
			"user_id", userID, "conversation_id", *conversationID)
	}

	conv := &clinical.Conversation{ID: uuid.New(), UserID: userID, Title: title(text)}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func title(text string) string {
	r := []rune(text)
	if len(r) <= titleLength {
		return text
	}
	return strings.TrimSpace(string(r[:titleLength])) + "…"
}

func (s *Service) appendHistory(ctx context.Context, userID, conversationID uuid.UUID, msgs ...*clinical.Message) {
	if s.history == nil {
		return
	}
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, Turn{Role: string(m.Role), Content: m.Content, Timestamp: m.CreatedAt})
	}
	if err := s.history.Append(ctx, userID, conversationID, turns...); err != nil {
		slog.Warn("appending conversation history", "error", err, "conversation_id", conversationID)
	}
}

func (s *Service) publishAudit(ctx context.Context, userID, conversationID uuid.UUID, res *workflow.Result) {
	if s.audit == nil {
		return
	}
	event := natsclient.AuditEvent{
		UserID:       userID,
		EventType:    "message_processed",
		Severity:     "info",
		ResourceType: "conversation",
		ResourceID:   conversationID.String(),
		Details: fmt.Sprintf("intent=%s created=%d updated=%d resolved=%d",
			res.Intent, len(res.CreatedEpisodeIDs), len(res.UpdatedEpisodeIDs), len(res.ResolvedEpisodeIDs)),
		Timestamp: s.now(),
	}
	if err := s.audit.PublishAuditEvent(ctx, event); err != nil {
		slog.Error("publishing audit event", "error", err)
	}
}

// ClearEmbeddings removes every stored message vector, typically after an
// embedding model change. Vectors are rebuilt lazily on the next assessment.
func (s *Service) ClearEmbeddings(ctx context.Context, actor uuid.UUID) (int64, error) {
	n, err := s.indexer.ClearAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("clearing embeddings: %w", err)
	}
	slog.Info("message embeddings cleared", "removed", n, "actor", actor)

	if s.audit != nil {
		event := natsclient.AuditEvent{
			UserID:       actor,
			EventType:    "embeddings_cleared",
			Severity:     "warn",
			ResourceType: "embeddings",
			Details:      fmt.Sprintf("removed=%d", n),
			Timestamp:    s.now(),
		}
		if err := s.audit.PublishAuditEvent(ctx, event); err != nil {
			slog.Error("publishing audit event", "error", err)
		}
	}
	return n, nil
}
