// Package httpio holds the JSON response helpers shared by the HTTP handlers.
package httpio

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/joao-fontenele/shoplite/internal/apperror"
)

type ErrorResponse struct {
	Kind      apperror.Kind `json:"kind"`
	Message   string        `json:"message"`
	Status    int           `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

func WriteJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// WriteError maps err onto its kind's status. Internal errors are logged and
// answered with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := apperror.KindOf(err)
	status := apperror.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed", "error", err, "method", r.Method, "path", r.URL.Path)
	}

	WriteJSON(w, logger, status, ErrorResponse{
		Kind:      kind,
		Message:   apperror.Message(err),
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.Validation("invalid request body: %v", err)
	}
	return nil
}

func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
