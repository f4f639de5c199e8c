// Package conversation is the chat entry point: it persists turns, runs the
// clinical workflows and reports what changed.
package conversation

import (
	"github.com/google/uuid"

	"github.com/healthtrack/symptomtracker/internal/changes"
	"github.com/healthtrack/symptomtracker/internal/workflow"
)

// SendMessageRequest is the body of POST /conversations/messages.
type SendMessageRequest struct {
	Message        string     `json:"message" validate:"required,max=4000"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
}

// Response is the outcome of processing one chat message.
type Response struct {
	ResponseText    string                 `json:"response_text"`
	ConversationID  uuid.UUID              `json:"conversation_id"`
	Intent          workflow.Intent        `json:"intent"`
	ExplicitChanges []changes.EntityChange `json:"explicit_changes"`
	StatusUpdates   []changes.StatusUpdate `json:"status_updates"`
}

// ClearEmbeddingsResponse reports how many stored vectors were removed.
type ClearEmbeddingsResponse struct {
	Removed int64 `json:"removed"`
}
