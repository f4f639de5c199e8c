package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Envelope wraps every JSON body the service writes: data on success, error
// otherwise.
type Envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Page is the envelope for list endpoints.
type Page struct {
	Data       any   `json:"data"`
	TotalCount int64 `json:"total_count"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("api: encoding response", "error", err, "status", status)
	}
}

func JSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Data: data})
}

func JSONPaginated(w http.ResponseWriter, status int, data any, totalCount int64, page, pageSize int) {
	writeJSON(w, status, Page{Data: data, TotalCount: totalCount, Page: page, PageSize: pageSize})
}

func JSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Error: message})
}
