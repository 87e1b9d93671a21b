package backoff

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Retryer runs an operation until it succeeds, the attempts run out, or the
// context is done.
type Retryer interface {
	Retry(ctx context.Context, fn func() error) error
}

// ExponentialBackoffRetryer retries with exponentially growing, jittered delays.
type ExponentialBackoffRetryer struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	multiplier float64
	jitter     bool
}

// Option configures an ExponentialBackoffRetryer.
type Option func(*ExponentialBackoffRetryer)

// WithMaxRetries sets how many retries follow the first attempt.
func WithMaxRetries(n int) Option {
	return func(r *ExponentialBackoffRetryer) { r.maxRetries = n }
}

// WithBaseDelay sets the delay before the first retry.
func WithBaseDelay(d time.Duration) Option {
	return func(r *ExponentialBackoffRetryer) { r.baseDelay = d }
}

// WithMaxDelay caps the delay between attempts.
func WithMaxDelay(d time.Duration) Option {
	return func(r *ExponentialBackoffRetryer) { r.maxDelay = d }
}

// WithoutJitter makes delays deterministic.
func WithoutJitter() Option {
	return func(r *ExponentialBackoffRetryer) { r.jitter = false }
}

// NewExponentialBackoffRetryer creates a retryer. Without options it makes
// up to 6 attempts starting at 100ms, doubling up to 30s, with up to 25%
// jitter.
func NewExponentialBackoffRetryer(opts ...Option) *ExponentialBackoffRetryer {
	r := &ExponentialBackoffRetryer{
		maxRetries: 5,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   30 * time.Second,
		multiplier: 2.0,
		jitter:     true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retry executes fn with exponential backoff between failed attempts.
func (r *ExponentialBackoffRetryer) Retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == r.maxRetries {
			break
		}

		delay := r.Delay(attempt)
		slog.DebugContext(ctx, "Retry attempt failed, waiting before next attempt",
			"event", "retry_attempt", "version", "1.0",
			"attempt", attempt+1, "max_attempts", r.maxRetries+1,
			"delay_ms", delay.Milliseconds(), "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

// Delay returns the wait after the given zero-based failed attempt.
func (r *ExponentialBackoffRetryer) Delay(attempt int) time.Duration {
	delay := float64(r.baseDelay) * math.Pow(r.multiplier, float64(attempt))
	if delay > float64(r.maxDelay) {
		delay = float64(r.maxDelay)
	}

	if r.jitter {
		// up to 25% on top
		delay += rand.Float64() * delay * 0.25
	}

	return time.Duration(delay)
}
