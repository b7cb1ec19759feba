package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ClassifyTransportError maps a failed http.Client.Do to a provider error.
func ClassifyTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return EAITimeout
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return EAITimeout
	}
	// Network errors are typically retryable
	return EAIUnavailable
}

// ClassifyStatus maps a non-200 provider status to a provider error.
// detail is the provider's error message, if any.
func ClassifyStatus(status int, detail string) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return EAIUnauthorized
	case http.StatusTooManyRequests:
		return EAIRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return EAITimeout
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", EAIInvalidRequest, detail)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, 529:
		return EAIUnavailable
	default:
		return fmt.Errorf("API error (status %d): %s", status, detail)
	}
}
