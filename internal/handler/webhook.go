// Package handler contains the HTTP handlers of the study API.
//
// This file implements the payment webhook endpoint.
//
// Route:
//   - POST /webhooks/payment -> HandlePaymentWebhook
//
// The route is public; deliveries authenticate with the webhook signature.
package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/dentaistudy/internal/billing"
	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/DukeRupert/dentaistudy/internal/service"
)

// MaxWebhookBodyBytes bounds the raw payload read before verification.
const MaxWebhookBodyBytes = 65536

// WebhookResponse is returned for every verified delivery.
type WebhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
	Reason   string `json:"reason,omitempty"`
	Tier     string `json:"tier,omitempty"`
}

// WebhookHandler handles payment provider deliveries.
type WebhookHandler struct {
	reconciler service.ReconcileService
	logger     *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(reconciler service.ReconcileService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		logger:     logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/payment", h.HandlePaymentWebhook)
}

// HandlePaymentWebhook verifies and reconciles one delivery.
//
// Status codes: 400 missing signature headers, 401 bad signature, 500 when
// the entitlement could not be stored (the provider redelivers), 200 for
// everything else including ignored events.
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	// One byte over the limit is read so oversized bodies fail verification
	// instead of being silently truncated into a valid-looking prefix.
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookBodyBytes+1))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		writeJSON(w, http.StatusBadRequest, JSONError{Error: "INVALID_BODY"})
		return
	}
	if len(body) > MaxWebhookBodyBytes {
		h.logger.Warn("webhook body too large", "size", len(body))
		writeJSON(w, http.StatusRequestEntityTooLarge, JSONError{Error: "TOO_LARGE"})
		return
	}

	outcome, err := h.reconciler.Reconcile(r.Context(), body, billing.HeadersFromRequest(r.Header))
	if err != nil {
		h.logger.Error("webhook processing failed", "event_id", outcome.EventID, "error", err)
		writeJSON(w, http.StatusInternalServerError, JSONError{
			Error:     "PROCESSING_FAILED",
			Retryable: true,
		})
		return
	}

	switch outcome.Kind {
	case domain.OutcomeRejected:
		status := http.StatusUnauthorized
		if outcome.Reason == domain.ReasonMissingHeaders {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, JSONError{Error: outcome.Reason})
	default:
		writeJSON(w, http.StatusOK, WebhookResponse{
			Received: true,
			Outcome:  string(outcome.Kind),
			Reason:   outcome.Reason,
			Tier:     string(outcome.Tier),
		})
	}
}
