// Package audit persists audit events published on the bus.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	natsclient "github.com/healthtrack/symptomtracker/internal/nats"
)

// Log matches the audit_logs table schema.
type Log struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	EventType    string          `json:"event_type"`
	Severity     string          `json:"severity"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   *uuid.UUID      `json:"resource_id,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ListParams holds pagination and filtering parameters for audit log queries.
type ListParams struct {
	EventType string
	Severity  string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}

// FromEvent converts a bus event into a row. Non-UUID resource ids are
// dropped; details are stored as {"message": ...}.
func FromEvent(event natsclient.AuditEvent) *Log {
	l := &Log{
		ID:           uuid.New(),
		UserID:       event.UserID,
		EventType:    event.EventType,
		Severity:     event.Severity,
		ResourceType: event.ResourceType,
		CreatedAt:    event.Timestamp,
	}
	if l.Severity == "" {
		l.Severity = "info"
	}

	if event.ResourceID != "" {
		if parsed, err := uuid.Parse(event.ResourceID); err == nil {
			l.ResourceID = &parsed
		}
	}

	details := map[string]string{"message": event.Details}
	if data, err := json.Marshal(details); err == nil {
		l.Details = data
	}
	return l
}
