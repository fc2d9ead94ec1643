package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
	// RetryIf selects the errors worth another attempt. Nil retries every error.
	RetryIf func(error) bool
	// OnRetry is called before sleeping ahead of attempt+1.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig retries up to three times with short randomized delays.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  20 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Retry executes fn until it succeeds, returns a non-retryable error, or the
// attempt bound is reached. On exhaustion the returned error wraps both
// ErrMaxRetriesExceeded and the last error from fn.
func Retry(ctx context.Context, config *RetryConfig, fn func(attempt int) error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if config.RetryIf != nil && !config.RetryIf(err) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt == maxAttempts {
			break
		}

		if attempt > 1 && config.BackoffFactor > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
		}
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}

		sleep := delay
		if config.JitterEnabled && sleep > 0 {
			// full jitter in [delay/2, delay*3/2)
			sleep = sleep/2 + time.Duration(rand.Int64N(int64(sleep)))
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt, err, sleep)
		}

		if sleep <= 0 {
			continue
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return &ExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

// ExhaustedError reports that every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retry attempts (%d) exceeded: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrMaxRetriesExceeded, e.Err}
}
