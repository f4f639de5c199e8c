package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	natsclient "github.com/healthtrack/symptomtracker/internal/nats"
	"github.com/healthtrack/symptomtracker/internal/retrieval"
)

// OutboundPublisher publishes replies to bus clients.
type OutboundPublisher interface {
	PublishOutboundMessage(ctx context.Context, msg natsclient.OutboundMessage) error
}

// Consumer processes chat messages arriving on the inbound subject and
// answers on the outbound subject.
type Consumer struct {
	svc         MessageProcessor
	publisher   OutboundPublisher
	consumerMgr *natsclient.ConsumerManager
}

func NewConsumer(svc MessageProcessor, publisher OutboundPublisher, consumerMgr *natsclient.ConsumerManager) *Consumer {
	return &Consumer{svc: svc, publisher: publisher, consumerMgr: consumerMgr}
}

// Start runs the fetch loop until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, natsclient.InboundMessages)
	if err != nil {
		return err
	}

	slog.Info("conversation consumer started", "consumer", natsclient.InboundMessages.Durable)

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(natsclient.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("fetching inbound messages", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.processMessage(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg jetstream.Msg) {
	out, ok := c.handle(ctx, msg.Data())
	if !ok {
		// Malformed payloads are dropped; redelivery cannot fix them.
		_ = msg.Term()
		return
	}
	if err := c.publisher.PublishOutboundMessage(ctx, out); err != nil {
		slog.Error("publishing outbound message", "error", err, "in_reply_to", out.InReplyTo)
	}
	_ = msg.Ack()
}

// handle runs one inbound payload and builds the reply. It reports false
// when the payload cannot be decoded.
func (c *Consumer) handle(ctx context.Context, data []byte) (natsclient.OutboundMessage, bool) {
	var inbound natsclient.InboundMessage
	if err := json.Unmarshal(data, &inbound); err != nil {
		slog.Error("unmarshaling inbound message", "error", err)
		return natsclient.OutboundMessage{}, false
	}

	out := natsclient.OutboundMessage{
		ID:        uuid.New().String(),
		UserID:    inbound.UserID,
		InReplyTo: inbound.ID,
	}
	if inbound.ConversationID != nil {
		out.ConversationID = *inbound.ConversationID
	}

	if inbound.UserID == uuid.Nil {
		out.Error = "user_id is required"
		return out, true
	}

	resp, err := c.svc.ProcessMessage(ctx, inbound.UserID, inbound.Body, inbound.ConversationID)
	if err != nil {
		slog.Warn("processing inbound message", "error", err, "id", inbound.ID, "user_id", inbound.UserID)
		out.Error = publicError(err)
		return out, true
	}

	out.ConversationID = resp.ConversationID
	out.Body = resp.ResponseText
	return out, true
}

func publicError(err error) string {
	var dimErr *retrieval.DimensionMismatchError
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return err.Error()
	case errors.As(err, &dimErr):
		return "service temporarily unavailable"
	default:
		return "internal error"
	}
}
