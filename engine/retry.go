package engine

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy configures exponential backoff with jitter for retryable
// errors.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	Jitter      float64 // fraction of the computed delay randomized, e.g. 0.2
}

// DefaultRetryPolicy returns the engine's default retry configuration.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Factor:      2,
		Jitter:      0.2,
	}
}

// delay returns the backoff duration before attempt (1-indexed: attempt 2 is
// the first retry after a failed attempt 1).
func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt-1; i++ {
		d *= p.Factor
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}

// RetryObserver is notified before each retry attempt beyond the first,
// used by the scheduler to emit node_retry telemetry.
type RetryObserver func(attempt int, err *Error)

// Do runs fn, retrying on a retryable *Error per policy. It returns the
// last error on exhaustion. fn's own context cancellation always takes
// precedence over retry: run-level cancellation or timeout supersedes any
// in-flight retry.
func Do(ctx context.Context, policy RetryPolicy, onRetry RetryObserver, fn func(attempt int) (any, error)) (any, int, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, attempt - 1, ctx.Err()
		}

		result, err := fn(attempt)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		eerr, ok := err.(*Error)
		if !ok || !eerr.Retryable() || attempt == maxAttempts {
			return nil, attempt, err
		}

		if onRetry != nil {
			onRetry(attempt+1, eerr)
		}

		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(policy.delay(attempt + 1)):
		}
	}
	return nil, maxAttempts, lastErr
}
