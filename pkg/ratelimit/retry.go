package ratelimit

import (
	"context"
	"time"
)

// RetryPolicy parameterizes Retry, the package's retry combinator, by
// (predicate, base delay, max delay, max attempts). RetryOn429 is its only
// caller in this repository: the peer client's post does not retry, and
// the downstream chain's 409-as-success rule is handled in pkg/task rather
// than through Retry (see Retry's doc comment).
type RetryPolicy struct {
	// Retryable reports whether err should trigger another attempt.
	Retryable func(err error) bool
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxAttempts bounds retries to one retry budget per call site (the
	// protocol never nests one Retry call inside another).
	MaxAttempts int
}

// Retry runs fn, retrying per policy with exponential backoff (delay
// doubling from BaseDelay up to MaxDelay) until it succeeds, policy's
// attempt budget is exhausted, or ctx is cancelled. On exhaustion the last
// error is returned unchanged — callers see the original error, not a
// retry-wrapper error.
//
// The 409-as-success rule belongs to the Task coordinator's Execute phase
// (pkg/task), not here: Retry only retries errors Retryable reports true
// for, and a duplicate-submission 409 is never one of them — it is treated
// as success before Retry (or anything else) would see it as an error.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	delay := policy.BaseDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := policy.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 15 * time.Second
	}
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if policy.Retryable == nil || !policy.Retryable(err) {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return zero, lastErr
}

// Is429 is the default Retryable predicate for RetryOn429: it treats any
// error implementing `StatusCode() int` as retryable when the code is 429.
type httpStatusError interface {
	StatusCode() int
}

func Is429(err error) bool {
	if hs, ok := err.(httpStatusError); ok {
		return hs.StatusCode() == 429
	}
	return false
}

// RetryOn429 wraps fn with the protocol's standard 429 backoff: doubling
// from 500ms to a 15s cap. When the call ends in failure after fn returned
// a 429 (attempts exhausted, or ctx cancelled during a backoff), it
// transiently reduces key's effective rate on l so subsequent callers slow
// down without needing to hit the provider again.
func RetryOn429[T any](ctx context.Context, l *Limiter, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	saw429 := false
	result, err := Retry(ctx, RetryPolicy{
		Retryable:   Is429,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    15 * time.Second,
		MaxAttempts: 6,
	}, func(ctx context.Context) (T, error) {
		r, fnErr := fn(ctx)
		if Is429(fnErr) {
			saw429 = true
		}
		return r, fnErr
	})
	if err != nil && saw429 {
		l.reduceRate(key, 0.5, 30*time.Second)
	}
	return result, err
}
