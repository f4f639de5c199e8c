package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	natsclient "github.com/healthtrack/symptomtracker/internal/nats"
)

var errMalformed = errors.New("malformed audit event")

// Inserter persists audit rows.
type Inserter interface {
	Insert(ctx context.Context, l *Log) error
}

// Consumer listens on the audit subject and persists entries to the database.
type Consumer struct {
	repo        Inserter
	consumerMgr *natsclient.ConsumerManager
}

func NewConsumer(repo Inserter, consumerMgr *natsclient.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, natsclient.AuditEvents)
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", natsclient.AuditEvents.Durable)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(natsclient.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			switch err := c.persist(ctx, msg.Data()); {
			case err == nil:
				_ = msg.Ack()
			case errors.Is(err, errMalformed):
				_ = msg.Term()
			default:
				_ = msg.Nak()
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) persist(ctx context.Context, data []byte) error {
	var event natsclient.AuditEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Error("audit consumer: unmarshaling event", "error", err)
		return fmt.Errorf("%w: %v", errMalformed, err)
	}

	if err := c.repo.Insert(ctx, FromEvent(event)); err != nil {
		slog.Error("audit consumer: persisting audit log", "error", err, "event_type", event.EventType)
		return err
	}

	slog.Debug("audit consumer: persisted event",
		"event_type", event.EventType,
		"user_id", event.UserID,
		"resource_id", event.ResourceID,
	)
	return nil
}
