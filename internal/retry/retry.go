// Package retry provides configurable retry logic with backoff strategies.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/grabarr/grabarr/internal/errs"
)

// NonRetryableError wraps an error to indicate it should not be retried,
// regardless of its taxonomy classification.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// Policy controls retry behavior.
type Policy struct {
	// MaxAttempts is the maximum number of attempts (not retries).
	// Must be at least 1.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64

	// Jitter randomizes each delay by ±10% to avoid thundering herds.
	Jitter bool
}

// Quick returns a policy for cheap, latency-sensitive operations.
func Quick() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Slow returns a policy for expensive operations against slow services.
func Slow() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Delay returns the backoff before retry n (0-indexed: the delay after the
// first failed attempt is Delay(0)).
func (p Policy) Delay(n int) time.Duration {
	if p.InitialDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(n))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d *= 1 + (rand.Float64()*0.2 - 0.1)
	}
	return time.Duration(d)
}

// Do executes fn until it succeeds, a permanent error occurs, or the
// policy's attempts are exhausted. Only transient errors (per the errs
// taxonomy) are retried; permanent errors short-circuit immediately.
// Rate-limited errors carrying a server retry-after hint wait at least
// that long. If the context is cancelled during backoff, ctx.Err() is
// returned.
func Do[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt - 1)
			if ra := retryAfterHint(lastErr); ra > delay {
				delay = ra
			}
			if delay > 0 {
				select {
				case <-ctx.Done():
					return zero, ctx.Err()
				case <-time.After(delay):
				}
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		var nonRetryable *NonRetryableError
		if errors.As(err, &nonRetryable) {
			return zero, nonRetryable.Err
		}
		if !errs.IsTransient(err) {
			return zero, err
		}

		lastErr = err
	}

	return zero, fmt.Errorf("failed after %d attempts: %w", p.MaxAttempts, lastErr)
}

// Run is Do for operations with no result value.
func Run(ctx context.Context, p Policy, fn func(context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func retryAfterHint(err error) time.Duration {
	var e *errs.Error
	if errors.As(err, &e) && e.Kind == errs.KindRateLimited {
		return e.RetryAfter
	}
	return 0
}
