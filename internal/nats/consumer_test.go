package nats

import (
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
)

func TestConsumerSpecs(t *testing.T) {
	tests := []struct {
		spec    ConsumerSpec
		stream  string
		subject string
	}{
		{InboundMessages, StreamMessages, SubjectInboundMessage},
		{AuditEvents, StreamEvents, SubjectAuditEvent},
	}
	for _, tt := range tests {
		t.Run(tt.spec.Durable, func(t *testing.T) {
			cfg := tt.spec.config()
			assert.Equal(t, tt.stream, tt.spec.Stream)
			assert.Equal(t, tt.spec.Durable, cfg.Durable)
			assert.Equal(t, tt.subject, cfg.FilterSubject)
			assert.Equal(t, jetstream.AckExplicitPolicy, cfg.AckPolicy)
			assert.Positive(t, cfg.AckWait)
			assert.Positive(t, cfg.MaxDeliver)
		})
	}
	assert.Greater(t, InboundMessages.AckWait, AuditEvents.AckWait)
}
