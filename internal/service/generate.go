package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/dentaistudy/internal/ai"
	"github.com/DukeRupert/dentaistudy/internal/domain"
	"github.com/DukeRupert/dentaistudy/internal/metrics"
)

var (
	// ErrGenerationFailed wraps provider failures other than timeouts.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrGenerationTimeout wraps provider timeouts. Clients may retry.
	ErrGenerationTimeout = errors.New("generation timed out")
)

// GenerateParams is one study-assistant request.
type GenerateParams struct {
	Subject QuotaSubject
	Prompt  ai.StudyPrompt
}

// GenerateResult is the assistant reply and the quota state after it.
type GenerateResult struct {
	Content string
	Quota   domain.QuotaDecision
}

// GenerateService defines the quota-gated generation operation.
type GenerateService interface {
	// Generate consumes one unit of quota and calls the AI provider.
	// Consumed quota is not refunded when the provider call fails.
	Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error)
}

type generateService struct {
	quota    QuotaService
	provider ai.Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGenerateService creates a new GenerateService. timeout bounds the
// provider call including retries.
func NewGenerateService(quota QuotaService, provider ai.Provider, timeout time.Duration, logger *slog.Logger) GenerateService {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &generateService{
		quota:    quota,
		provider: provider,
		timeout:  timeout,
		logger:   logger,
	}
}

// Generate implements GenerateService.
func (s *generateService) Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error) {
	const op = "GenerateService.Generate"

	if !params.Prompt.HasInput() {
		return nil, domain.Invalid(op, "Topic is required")
	}

	decision, err := s.quota.CheckAndConsume(ctx, params.Subject)
	if err != nil {
		return nil, err
	}

	req := params.Prompt.Build()
	req.UserID = params.Subject.UserID

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	out, err := s.provider.Complete(callCtx, req)
	if err != nil {
		if ai.IsTimeout(err) {
			metrics.AICall(s.provider.Name(), "timeout", time.Since(start))
			s.logger.Warn("generation timed out", "op", op, "user_id", params.Subject.UserID, "error", err)
			return nil, errors.Join(ErrGenerationTimeout, err)
		}
		metrics.AICall(s.provider.Name(), "error", time.Since(start))
		s.logger.Error("generation failed", "op", op, "user_id", params.Subject.UserID, "error", err)
		return nil, errors.Join(ErrGenerationFailed, err)
	}

	metrics.AICall(s.provider.Name(), "success", time.Since(start))
	metrics.AITokens(out.Usage.InputTokens, out.Usage.OutputTokens)
	s.logger.Info("generation completed",
		"user_id", params.Subject.UserID,
		"tier", decision.Tier,
		"remaining", decision.Remaining,
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens,
	)

	return &GenerateResult{Content: out.Content, Quota: *decision}, nil
}
