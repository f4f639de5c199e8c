package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/healthtrack/symptomtracker/internal/api"
	"github.com/healthtrack/symptomtracker/internal/auth"
)

// Lister reads audit logs.
type Lister interface {
	ListByUser(ctx context.Context, userID uuid.UUID, params ListParams) ([]Log, int64, error)
}

// Handler serves the caller's audit trail.
type Handler struct {
	repo Lister
}

func NewHandler(repo Lister) *Handler {
	return &Handler{repo: repo}
}

// List returns the authenticated user's audit logs, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	params, err := parseListParams(r)
	if err != nil {
		api.HandleError(w, api.NewBadRequestError(err.Error()))
		return
	}

	logs, total, err := h.repo.ListByUser(r.Context(), userID, params)
	if err != nil {
		slog.Error("listing audit logs", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, logs, total, params.Page, params.PageSize)
}

func parseListParams(r *http.Request) (ListParams, error) {
	params := DefaultListParams()
	q := r.URL.Query()

	if p := q.Get("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			params.Page = v
		}
	}
	if ps := q.Get("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			params.PageSize = v
		}
	}
	params.EventType = q.Get("event_type")
	params.Severity = q.Get("severity")

	for key, dst := range map[string]**time.Time{"from": &params.From, "to": &params.To} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return params, &paramError{key: key}
		}
		*dst = &ts
	}
	return params, nil
}

type paramError struct{ key string }

func (e *paramError) Error() string { return "invalid " + e.key + ": expected RFC3339 timestamp" }
