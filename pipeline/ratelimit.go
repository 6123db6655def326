package pipeline

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter is token-bucket admission control for outbound AI calls:
// capacity tokens of burst, refilling continuously at refill tokens per
// second. Acquire never fails on a valid request; it only delays.
type Limiter struct {
	capacity int
	bucket   *rate.Limiter
}

// NewLimiter validates the bucket parameters and builds the limiter.
// Invalid parameters fail fast with a ConfigurationError, before any
// stage runs.
func NewLimiter(capacity int, refillPerSecond float64) (*Limiter, error) {
	if capacity <= 0 {
		return nil, Errorf(KindConfig, "rate limiter capacity must be positive, got %d", capacity)
	}
	if refillPerSecond <= 0 {
		return nil, Errorf(KindConfig, "rate limiter refill must be positive, got %g", refillPerSecond)
	}
	return &Limiter{
		capacity: capacity,
		bucket:   rate.NewLimiter(rate.Limit(refillPerSecond), capacity),
	}, nil
}

// Acquire blocks until n tokens are available, then consumes them.
// n greater than the bucket capacity can never be admitted and is a
// ConfigurationError. Context cancellation aborts the wait.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	if n > l.capacity {
		return Errorf(KindConfig, "cannot acquire %d tokens from a bucket of capacity %d", n, l.capacity)
	}
	if err := l.bucket.WaitN(ctx, n); err != nil {
		return Errorf(KindTransient, "rate limiter wait: %w", err)
	}
	return nil
}

// Capacity returns the configured burst size.
func (l *Limiter) Capacity() int {
	return l.capacity
}
