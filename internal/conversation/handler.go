package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/healthtrack/symptomtracker/internal/api"
	"github.com/healthtrack/symptomtracker/internal/auth"
	"github.com/healthtrack/symptomtracker/internal/retrieval"
)

// MessageProcessor is the service surface the transports use.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, userID uuid.UUID, text string, conversationID *uuid.UUID) (*Response, error)
	ClearEmbeddings(ctx context.Context, actor uuid.UUID) (int64, error)
}

// Handler handles conversation HTTP endpoints.
type Handler struct {
	svc      MessageProcessor
	validate *validator.Validate
}

// NewHandler creates a new conversation handler.
func NewHandler(svc MessageProcessor) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

// SendMessage processes one chat message for the authenticated user.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	resp, err := h.svc.ProcessMessage(r.Context(), userID, req.Message, req.ConversationID)
	if err != nil {
		api.HandleError(w, mapError(err, userID))
		return
	}

	api.JSON(w, http.StatusOK, resp)
}

// ClearEmbeddings drops every stored message vector.
func (h *Handler) ClearEmbeddings(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	n, err := h.svc.ClearEmbeddings(r.Context(), userID)
	if err != nil {
		slog.Error("clearing embeddings", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, ClearEmbeddingsResponse{Removed: n})
}

func mapError(err error, userID uuid.UUID) error {
	var dimErr *retrieval.DimensionMismatchError
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return api.NewValidationError(err.Error())
	case errors.As(err, &dimErr):
		slog.Error("embedding configuration error", "error", err, "user_id", userID)
		return api.ErrUnavailable
	default:
		slog.Error("processing message", "error", err, "user_id", userID)
		return api.ErrInternalServer
	}
}
