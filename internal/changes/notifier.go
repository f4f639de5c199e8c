package changes

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/healthtrack/symptomtracker/internal/metrics"
	natsclient "github.com/healthtrack/symptomtracker/internal/nats"
)

const (
	publishTimeout = 2 * time.Second

	// DefaultQueueSize bounds the updates waiting for delivery.
	DefaultQueueSize = 256
)

// StatusPublisher is the subset of the NATS publisher the notifier needs.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event natsclient.StatusEvent) error
	PublishAuditEvent(ctx context.Context, event natsclient.AuditEvent) error
}

type queuedUpdate struct {
	userID         uuid.UUID
	conversationID *uuid.UUID
	update         StatusUpdate
}

// NATSNotifier publishes status updates on the user's status subject and
// records each one as an audit event. Notify only enqueues; Run delivers.
type NATSNotifier struct {
	pub   StatusPublisher
	queue chan queuedUpdate
}

func NewNATSNotifier(pub StatusPublisher, queueSize int) *NATSNotifier {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &NATSNotifier{pub: pub, queue: make(chan queuedUpdate, queueSize)}
}

// Notify queues u and returns immediately. When the queue is full the
// update is dropped.
func (n *NATSNotifier) Notify(_ context.Context, userID uuid.UUID, conversationID *uuid.UUID, u StatusUpdate) {
	select {
	case n.queue <- queuedUpdate{userID: userID, conversationID: conversationID, update: u}:
	default:
		metrics.StatusPublishFailuresTotal.Inc()
		slog.Warn("changes: status queue full, dropping update", "user_id", userID, "kind", u.Kind)
	}
}

// Run delivers queued updates in order until ctx is done. Updates still
// queued at shutdown are dropped.
func (n *NATSNotifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case q := <-n.queue:
			n.deliver(ctx, q)
		}
	}
}

func (n *NATSNotifier) deliver(ctx context.Context, q queuedUpdate) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	u, userID, conversationID := q.update, q.userID, q.conversationID
	event := natsclient.StatusEvent{
		UserID:         userID,
		ConversationID: conversationID,
		Kind:           string(u.Kind),
		Message:        u.Message,
		Data:           u.Data(),
		Timestamp:      u.Timestamp,
	}
	if err := n.pub.PublishStatus(ctx, event); err != nil {
		metrics.StatusPublishFailuresTotal.Inc()
		slog.Warn("changes: publishing status update", "error", err, "user_id", userID, "kind", u.Kind)
	}

	details, _ := json.Marshal(u)
	resourceID := ""
	if conversationID != nil {
		resourceID = conversationID.String()
	}
	audit := natsclient.AuditEvent{
		UserID:       userID,
		EventType:    "status." + string(u.Kind),
		Severity:     "info",
		ResourceType: "conversation",
		ResourceID:   resourceID,
		Details:      string(details),
		Timestamp:    u.Timestamp,
	}
	if err := n.pub.PublishAuditEvent(ctx, audit); err != nil {
		slog.Warn("changes: publishing status audit event", "error", err, "user_id", userID)
	}
}
