package ai

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Retrier runs a provider call with exponential backoff on retryable errors.
type Retrier struct {
	config ProviderConfig
	logger *slog.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a Retrier. Zero config values get defaults.
func NewRetrier(config ProviderConfig, logger *slog.Logger) *Retrier {
	return &Retrier{
		config: config.withDefaults(),
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Config returns the effective configuration.
func (r *Retrier) Config() ProviderConfig {
	return r.config
}

// Do calls attempt until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. attempt must build a fresh request each call.
// MaxRetries counts retries, so attempt runs at most MaxRetries+1 times.
func (r *Retrier) Do(ctx context.Context, attempt func(ctx context.Context) error) error {
	var lastErr error

	for n := 0; n <= r.config.MaxRetries; n++ {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) || n == r.config.MaxRetries {
			break
		}

		// exponential: base * 2^n
		delay := r.config.RetryBaseDelay * time.Duration(1<<n)
		r.logger.Info("Retrying AI request", "attempt", n+1, "delay", delay, "error", err)

		if err := r.sleep(ctx, delay); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return EAITimeout
			}
			return err
		}
	}

	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
