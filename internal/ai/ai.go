// Package ai defines the text-generation provider used by the study assistant.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider generates a chat completion.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Complete sends the conversation and returns the assistant reply.
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Message roles accepted by providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest contains parameters for a completion
type CompletionRequest struct {
	System      string    // System prompt, sent separately where the API supports it
	Messages    []Message // User and assistant turns in order
	Temperature float64
	MaxTokens   int
	UserID      string // Subject for provider-side abuse tracking; empty for anonymous
}

// Completion is the provider reply.
type Completion struct {
	Content string
	Usage   UsageInfo
}

// UsageInfo tracks API usage for monitoring
type UsageInfo struct {
	Model        string        // AI model used
	InputTokens  int           // Tokens in the request
	OutputTokens int           // Tokens in the response
	Duration     time.Duration // Request duration including retries
}

// ProviderConfig contains common configuration for AI providers
type ProviderConfig struct {
	MaxRetries     int           // Maximum retry attempts for transient errors
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// withDefaults fills zero values.
func (c ProviderConfig) withDefaults() ProviderConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	return c
}

// Error codes for AI provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAIInvalidRequest indicates the provider rejected the request body
	EAIInvalidRequest = errors.New("ai provider rejected request")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")

	// EAIEmptyResponse indicates the provider returned no text
	EAIEmptyResponse = errors.New("ai provider returned no content")
)

// IsRetryable returns true if the error is a transient error that can be retried
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// IsTimeout reports whether err is a deadline failure the client may retry.
func IsTimeout(err error) bool {
	return errors.Is(err, EAITimeout) || errors.Is(err, context.DeadlineExceeded)
}

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}
