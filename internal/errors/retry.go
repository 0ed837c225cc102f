package errors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig configures exponential backoff.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier grows the delay after each retry.
	Multiplier float64

	// Jitter scales each delay by a random factor in [0.5, 1).
	Jitter bool

	// RetryIf decides whether an error is worth another attempt.
	// Nil retries every error.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns the backoff used for embedding calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}
}

// Retry executes fn with exponential backoff.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult executes fn with exponential backoff and returns its result.
// Context cancellation interrupts both attempts and waits.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return zero, err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		wait := delay
		if cfg.Jitter {
			wait = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
