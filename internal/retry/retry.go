package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (including initial attempt)
	MaxAttempts int
	// InitialDelay is the delay before first retry
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// Multiplier is the backoff multiplier
	Multiplier float64
	// Jitter is the fraction of each delay that is randomized, 0.0 to 1.0
	Jitter float64
	// Retryable returns true if the error should be retried; nil retries everything
	Retryable func(err error) bool
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, delay time.Duration, err error)
	// After replaces time.After, for tests
	After func(d time.Duration) <-chan time.Time
}

// DefaultConfig returns the backoff used for upstream page requests
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 300 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.3,
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Retry returns the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry executes fn with exponential backoff until it succeeds, fails permanently,
// runs out of attempts, or ctx is done. The last error is returned.
func Retry(ctx context.Context, config Config, fn func(ctx context.Context) error) error {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Multiplier == 0 {
		config.Multiplier = 2.0
	}
	if config.MaxDelay == 0 {
		config.MaxDelay = 30 * time.Second
	}
	config.Jitter = math.Max(0, math.Min(1, config.Jitter))
	if config.After == nil {
		config.After = time.After
	}

	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		lastErr = err

		if config.Retryable != nil && !config.Retryable(err) {
			return err
		}

		if attempt >= config.MaxAttempts {
			break
		}

		delay := calculateDelay(attempt, config)

		if config.OnRetry != nil {
			config.OnRetry(attempt, delay, err)
		}

		select {
		case <-config.After(delay):
		case <-ctx.Done():
			return lastErr
		}
	}

	return lastErr
}

// calculateDelay calculates delay with exponential backoff and jitter
func calculateDelay(attempt int, config Config) time.Duration {
	backoff := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))

	if backoff > float64(config.MaxDelay) {
		backoff = float64(config.MaxDelay)
	}

	// Partial jitter: random between (1-jitter)*backoff and (1+jitter)*backoff
	if config.Jitter > 0 {
		jitterAmount := backoff * config.Jitter
		backoff = backoff - jitterAmount + (rand.Float64() * jitterAmount * 2)
	}

	return time.Duration(backoff)
}
