package nats

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout bounds one batch fetch from a pull consumer.
const FetchTimeout = 2 * time.Second

const (
	StreamMessages = "SYMPTOMTRACKER_MESSAGES"
	StreamEvents   = "SYMPTOMTRACKER_EVENTS"
)

const (
	SubjectMessages        = "symptomtracker.messages.>"
	SubjectInboundMessage  = "symptomtracker.messages.inbound"
	SubjectOutboundMessage = "symptomtracker.messages.outbound"

	SubjectEvents       = "symptomtracker.events.>"
	SubjectStatusPrefix = "symptomtracker.events.status" // symptomtracker.events.status.{user_id}
	SubjectAuditEvent   = "symptomtracker.events.audit"
)

// InboundMessage is a chat message submitted through the bus instead of HTTP.
type InboundMessage struct {
	ID             string     `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	Body           string     `json:"body"`
	ReceivedAt     time.Time  `json:"received_at"`
}

// OutboundMessage carries the reply to an InboundMessage. Error is set and
// Body empty when processing failed.
type OutboundMessage struct {
	ID             string    `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Body           string    `json:"body"`
	InReplyTo      string    `json:"in_reply_to,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// StatusEvent is an ephemeral progress notice pushed to a user's clients.
type StatusEvent struct {
	UserID         uuid.UUID      `json:"user_id"`
	ConversationID *uuid.UUID     `json:"conversation_id,omitempty"`
	Kind           string         `json:"kind"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// AuditEvent is published for compliance/audit logging.
type AuditEvent struct {
	UserID       uuid.UUID `json:"user_id"`
	EventType    string    `json:"event_type"`
	Severity     string    `json:"severity"` // info, warn, error
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Details      string    `json:"details"`
	Timestamp    time.Time `json:"timestamp"`
}
