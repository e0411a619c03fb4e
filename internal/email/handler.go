// Package email is the sink that accepts digital delivery messages.
package email

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/joao-fontenele/shoplite/internal/apperror"
	"github.com/joao-fontenele/shoplite/internal/httpio"
)

// Sender transports a rendered message. The default logs it.
type Sender interface {
	Send(r *http.Request, to, subject, body string) error
}

type Handler struct {
	sender   Sender
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(sender Sender, logger *slog.Logger) *Handler {
	if sender == nil {
		sender = LogSender{Logger: logger}
	}
	return &Handler{
		sender:   sender,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

type sendRequest struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := httpio.DecodeJSON(r, &req); err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpio.WriteError(w, r, h.logger, apperror.Validation("%v", err))
		return
	}

	if err := h.sender.Send(r, req.To, req.Subject, req.Body); err != nil {
		httpio.WriteError(w, r, h.logger, err)
		return
	}

	h.logger.InfoContext(r.Context(), "email sent", "to", req.To, "subject", req.Subject)
	httpio.WriteJSON(w, h.logger, http.StatusOK, sendResponse{Status: "sent"})
}

// LogSender writes messages to the log instead of an SMTP relay.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(r *http.Request, to, subject, body string) error {
	s.Logger.DebugContext(r.Context(), "email body", "to", to, "subject", subject, "bytes", len(body))
	return nil
}
