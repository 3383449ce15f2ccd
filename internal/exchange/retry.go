package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig configures retry behavior for exchange REST calls
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()

	// Network errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit") {
		return true
	}

	// Binance futures error codes
	if strings.Contains(errStr, "-1003") || // Too many requests
		strings.Contains(errStr, "-1001") || // Internal error
		strings.Contains(errStr, "-1021") { // Timestamp outside of recvWindow
		return true
	}

	return false
}

// RetryableOperation represents an operation that can be retried
type RetryableOperation func() error

// WithRetry executes an operation with exponential backoff retry
func WithRetry(ctx context.Context, config RetryConfig, operation RetryableOperation) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled: %w", ctx.Err())
		default:
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				log.Info().
					Int("attempt", attempt+1).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			log.Debug().
				Err(err).
				Msg("Error is not retryable, aborting")
			return err
		}

		// Don't sleep after last attempt
		if attempt == config.MaxRetries {
			break
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", config.MaxRetries+1).
			Dur("backoff", backoff).
			Msg("Operation failed, retrying with backoff")

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled during backoff: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffFactor)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}
