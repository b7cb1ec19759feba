package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/dentaistudy/internal/email"
	"github.com/DukeRupert/dentaistudy/internal/service"
)

const maxContactBodyBytes = 32 << 10

// ContactRequest is the body of POST /api/contact.
type ContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// ContactHandler forwards contact-form submissions.
type ContactHandler struct {
	contact service.ContactService
	logger  *slog.Logger
}

// NewContactHandler creates a new ContactHandler.
func NewContactHandler(contact service.ContactService, logger *slog.Logger) *ContactHandler {
	return &ContactHandler{contact: contact, logger: logger}
}

// RegisterRoutes registers the contact route behind the given rate limiter.
func (h *ContactHandler) RegisterRoutes(mux *http.ServeMux, limit func(http.Handler) http.Handler) {
	mux.Handle("POST /api/contact", limit(http.HandlerFunc(h.HandleContact)))
}

// HandleContact validates and sends one message.
func (h *ContactHandler) HandleContact(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if err := decodeJSON(r, maxContactBodyBytes, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	err := h.contact.Send(r.Context(), email.ContactMessage{
		Name:    req.Name,
		Email:   req.Email,
		Topic:   req.Topic,
		Message: req.Message,
	})
	if err != nil {
		// Falls back to ErrorResponse for non-validation errors.
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
