package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct{ code int }

func (e statusErr) Error() string  { return "status error" }
func (e statusErr) StatusCode() int { return e.code }

func TestIs429(t *testing.T) {
	assert.True(t, Is429(statusErr{code: 429}))
	assert.False(t, Is429(statusErr{code: 500}))
	assert.False(t, Is429(assert.AnError))
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	result, err := Retry(context.Background(), RetryPolicy{
		Retryable:   Is429,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: 5,
	}, func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", statusErr{code: 429}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustionReturnsOriginalError(t *testing.T) {
	attempts := 0
	_, err := Retry(context.Background(), RetryPolicy{
		Retryable:   Is429,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		MaxAttempts: 3,
	}, func(ctx context.Context) (string, error) {
		attempts++
		return "", statusErr{code: 429}
	})
	require.Error(t, err)
	assert.Equal(t, statusErr{code: 429}, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryDoesNotRetryNonMatchingError(t *testing.T) {
	attempts := 0
	_, err := Retry(context.Background(), RetryPolicy{
		Retryable:   Is429,
		MaxAttempts: 5,
	}, func(ctx context.Context) (string, error) {
		attempts++
		return "", assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "a non-retryable error must not be retried")
}

func TestRetryOn429ReducesEffectiveRateOnExhaustion(t *testing.T) {
	coordinator := newLocalCoordinator()
	limiter := NewLimiter(coordinator, time.Second, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := RetryOn429(ctx, limiter, "provider-x", func(ctx context.Context) (string, error) {
		return "", statusErr{code: 429}
	})
	require.Error(t, err)
	assert.Less(t, limiter.effectiveLimit("provider-x", 10), 10)
}

func TestRetryOn429LeavesRateUntouchedOnSuccess(t *testing.T) {
	coordinator := newLocalCoordinator()
	limiter := NewLimiter(coordinator, time.Second, nil)

	result, err := RetryOn429(context.Background(), limiter, "provider-y", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 10, limiter.effectiveLimit("provider-y", 10))
}
