package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/dentaistudy/internal/ai"
)

const (
	// APIBaseURL is the base URL for the Anthropic API
	APIBaseURL = "https://api.anthropic.com/v1/messages"

	// APIVersion is the Anthropic API version
	APIVersion = "2023-06-01"

	// DefaultModel is the default Claude model to use
	DefaultModel = "claude-3-5-haiku-latest"
)

// Config contains configuration for the Anthropic provider
type Config struct {
	APIKey         string
	Model          string
	BaseURL        string // overrides APIBaseURL, for tests
	ProviderConfig ai.ProviderConfig
}

// Provider implements ai.Provider using Anthropic's Messages API
type Provider struct {
	config  Config
	client  *http.Client
	retrier *ai.Retrier
	logger  *slog.Logger
}

// New creates a new Anthropic AI provider
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = APIBaseURL
	}

	retrier := ai.NewRetrier(config.ProviderConfig, logger)
	return &Provider{
		config:  config,
		client:  &http.Client{Timeout: retrier.Config().RequestTimeout},
		retrier: retrier,
		logger:  logger,
	}, nil
}

// Name implements ai.Provider.
func (p *Provider) Name() string { return "anthropic" }

// Complete implements ai.Provider.
func (p *Provider) Complete(ctx context.Context, req ai.CompletionRequest) (*ai.Completion, error) {
	start := time.Now()

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, ai.WrapError("marshal request", err)
	}

	var resp *apiResponse
	err = p.retrier.Do(ctx, func(ctx context.Context) error {
		r, err := p.executeRequest(ctx, body)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, ai.WrapError("complete", err)
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, ai.WrapError("complete", ai.EAIEmptyResponse)
	}

	return &ai.Completion{
		Content: text.String(),
		Usage: ai.UsageInfo{
			Model:        resp.Model,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			Duration:     time.Since(start),
		},
	}, nil
}

func (p *Provider) buildRequest(req ai.CompletionRequest) apiRequest {
	out := apiRequest{
		Model:       p.config.Model,
		MaxTokens:   req.MaxTokens,
		System:      req.System,
		Temperature: req.Temperature,
		Messages:    make([]apiMessage, 0, len(req.Messages)),
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = ai.DefaultMaxTokens
	}
	if req.UserID != "" {
		out.Metadata = &apiMetadata{UserID: req.UserID}
	}
	for _, m := range req.Messages {
		if m.Role == ai.RoleSystem {
			continue
		}
		out.Messages = append(out.Messages, apiMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// executeRequest executes a single HTTP request
func (p *Provider) executeRequest(ctx context.Context, body []byte) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", APIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, ai.ClassifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp apiErrorResponse
		_ = json.Unmarshal(bodyBytes, &errResp)
		return nil, ai.ClassifyStatus(resp.StatusCode, errResp.Error.Message)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &apiResp, nil
}

// API request/response types

type apiRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	System      string       `json:"system,omitempty"`
	Temperature float64      `json:"temperature"`
	Messages    []apiMessage `json:"messages"`
	Metadata    *apiMetadata `json:"metadata,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiMetadata struct {
	UserID string `json:"user_id"`
}

type apiResponse struct {
	ID      string             `json:"id"`
	Content []apiContentOutput `json:"content"`
	Model   string             `json:"model"`
	Usage   apiUsage           `json:"usage"`
}

type apiContentOutput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiErrorResponse struct {
	Type  string   `json:"type"`
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

var _ ai.Provider = (*Provider)(nil)
