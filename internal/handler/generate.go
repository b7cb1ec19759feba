// This file implements the study assistant endpoint.
//
// Route:
//   - POST /api/ai/generate -> HandleGenerate
//
// Callers may be signed in (bearer token) or anonymous (device key).
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/dentaistudy/internal/ai"
	"github.com/DukeRupert/dentaistudy/internal/auth"
	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/DukeRupert/dentaistudy/internal/service"
)

const maxGenerateBodyBytes = 256 << 10

type generateMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is the body of POST /api/ai/generate.
type GenerateRequest struct {
	Topic    string            `json:"topic"`
	Mode     string            `json:"mode"`
	Subject  string            `json:"subject"`
	Messages []generateMessage `json:"messages"`
}

// GenerateResponse is a successful generation.
type GenerateResponse struct {
	Content   string `json:"content"`
	Tier      string `json:"tier"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// GenerateHandler serves quota-gated AI generation.
type GenerateHandler struct {
	generator service.GenerateService
	logger    *slog.Logger
}

// NewGenerateHandler creates a new GenerateHandler.
func NewGenerateHandler(generator service.GenerateService, logger *slog.Logger) *GenerateHandler {
	return &GenerateHandler{
		generator: generator,
		logger:    logger,
	}
}

// RegisterRoutes registers the generation route. mw wraps the handler with
// the caller-identity and rate limit middleware.
func (h *GenerateHandler) RegisterRoutes(mux *http.ServeMux, mw func(http.Handler) http.Handler) {
	mux.Handle("POST /api/ai/generate", mw(http.HandlerFunc(h.HandleGenerate)))
}

// HandleGenerate consumes quota and returns the assistant reply.
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := decodeJSON(r, maxGenerateBodyBytes, &req); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	prompt := ai.StudyPrompt{
		Topic:   req.Topic,
		Mode:    req.Mode,
		Subject: req.Subject,
	}
	for _, m := range req.Messages {
		prompt.Messages = append(prompt.Messages, ai.Message{Role: m.Role, Content: m.Content})
	}
	if !prompt.HasInput() {
		writeJSON(w, http.StatusBadRequest, JSONError{Error: "TOPIC_REQUIRED", Message: "Topic is required"})
		return
	}

	subject := service.QuotaSubject{DeviceKey: auth.GetDeviceKey(r.Context())}
	if sub := auth.GetSubject(r.Context()); sub != nil {
		subject.UserID = sub.UserID
	}

	res, err := h.generator.Generate(r.Context(), service.GenerateParams{Subject: subject, Prompt: prompt})
	if err != nil {
		h.writeGenerateError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{
		Content:   res.Content,
		Tier:      res.Quota.Tier,
		Limit:     res.Quota.Limit,
		Remaining: res.Quota.Remaining,
	})
}

func (h *GenerateHandler) writeGenerateError(w http.ResponseWriter, r *http.Request, err error) {
	var limitErr *domain.LimitReachedError
	switch {
	case errors.As(err, &limitErr):
		writeJSON(w, http.StatusTooManyRequests, limitReachedResponse{
			Error: "LIMIT_REACHED",
			Tier:  limitErr.Tier,
			Limit: limitErr.Limit,
		})
	case errors.Is(err, service.ErrGenerationTimeout):
		writeJSON(w, http.StatusGatewayTimeout, JSONError{Error: "AI_TIMEOUT", Retryable: true})
	case errors.Is(err, service.ErrGenerationFailed):
		writeJSON(w, http.StatusBadGateway, JSONError{Error: "AI_ERROR"})
	case domain.ErrorCode(err) == domain.EUNAVAILABLE:
		h.logger.Warn("quota unavailable", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, JSONError{
			Error:     "QUOTA_UNAVAILABLE",
			Message:   "Usage limits could not be checked. Please try again shortly.",
			Retryable: true,
		})
	default:
		ErrorResponse(w, r, h.logger, err)
	}
}
