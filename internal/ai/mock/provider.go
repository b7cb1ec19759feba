package mock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/dentaistudy/internal/ai"
)

// Provider is a mock AI provider for testing and development
type Provider struct {
	logger *slog.Logger

	mu sync.Mutex

	// Configurable responses for testing
	Response *ai.Completion
	Err      error
	Delay    time.Duration

	// Call tracking for testing
	Calls       int
	LastRequest ai.CompletionRequest
}

// New creates a new mock AI provider
func New(logger *slog.Logger) *Provider {
	return &Provider{logger: logger}
}

// Name implements ai.Provider.
func (p *Provider) Name() string { return "mock" }

// Complete returns the configured response, or a canned study note.
func (p *Provider) Complete(ctx context.Context, req ai.CompletionRequest) (*ai.Completion, error) {
	p.mu.Lock()
	p.Calls++
	p.LastRequest = req
	resp, err, delay := p.Response, p.Err, p.Delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ai.WrapError("complete", ai.EAITimeout)
		}
	}
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}

	p.logger.Debug("Mock AI completion", "messages", len(req.Messages))

	last := ""
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}
	return &ai.Completion{
		Content: fmt.Sprintf("## Study notes\n\n- Key point one\n- Key point two\n\n_Request:_ %.80s", last),
		Usage: ai.UsageInfo{
			Model:        "mock",
			InputTokens:  100,
			OutputTokens: 50,
		},
	}, nil
}

var _ ai.Provider = (*Provider)(nil)
