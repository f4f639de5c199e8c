package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// ConsumerSpec describes a durable pull consumer on one of the service's
// streams.
type ConsumerSpec struct {
	Stream     string
	Durable    string
	Subject    string
	AckWait    time.Duration
	MaxDeliver int
}

var (
	// InboundMessages feeds the conversation pipeline. AckWait covers a full
	// turn, LLM calls included.
	InboundMessages = ConsumerSpec{
		Stream:     StreamMessages,
		Durable:    "conversation",
		Subject:    SubjectInboundMessage,
		AckWait:    2 * time.Minute,
		MaxDeliver: 3,
	}

	AuditEvents = ConsumerSpec{
		Stream:     StreamEvents,
		Durable:    "audit-persister",
		Subject:    SubjectAuditEvent,
		AckWait:    30 * time.Second,
		MaxDeliver: 10,
	}
)

func (s ConsumerSpec) config() jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Durable:       s.Durable,
		FilterSubject: s.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       s.AckWait,
		MaxDeliver:    s.MaxDeliver,
	}
}

// ConsumerManager creates the durable consumers the service reads from.
type ConsumerManager struct {
	js jetstream.JetStream
}

func NewConsumerManager(js jetstream.JetStream) *ConsumerManager {
	return &ConsumerManager{js: js}
}

// EnsureConsumer creates the consumer or brings an existing one in line
// with spec.
func (cm *ConsumerManager) EnsureConsumer(ctx context.Context, spec ConsumerSpec) (jetstream.Consumer, error) {
	consumer, err := cm.js.CreateOrUpdateConsumer(ctx, spec.Stream, spec.config())
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %s on %s: %w", spec.Durable, spec.Stream, err)
	}
	return consumer, nil
}
