package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCoordinatorQueuesRatherThanDrops(t *testing.T) {
	coordinator := newLocalCoordinator()
	limiter := NewLimiter(coordinator, time.Second, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var calls int
	for i := 0; i < 3; i++ {
		_, err := ExecuteThrottled(ctx, limiter, "scope-a", 1, func(ctx context.Context) (struct{}, error) {
			calls++
			return struct{}{}, nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
}

func TestLocalCoordinatorRespectsPerKeyIsolation(t *testing.T) {
	coordinator := newLocalCoordinator()
	now := time.Now()

	_, err := coordinator.Reserve(context.Background(), "key-a", time.Second, 1, now)
	require.NoError(t, err)
	_, err = coordinator.Reserve(context.Background(), "key-a", time.Second, 1, now)
	require.ErrorIs(t, err, ErrRateLimitExceeded)

	_, err = coordinator.Reserve(context.Background(), "key-b", time.Second, 1, now)
	require.NoError(t, err, "a distinct key must have its own budget")
}

func TestLocalCoordinatorRefillsOverTime(t *testing.T) {
	coordinator := newLocalCoordinator()
	now := time.Now()

	_, err := coordinator.Reserve(context.Background(), "refill", time.Second, 2, now)
	require.NoError(t, err)
	_, err = coordinator.Reserve(context.Background(), "refill", time.Second, 2, now)
	require.NoError(t, err)

	_, err = coordinator.Reserve(context.Background(), "refill", time.Second, 2, now)
	require.ErrorIs(t, err, ErrRateLimitExceeded)

	later := now.Add(600 * time.Millisecond)
	_, err = coordinator.Reserve(context.Background(), "refill", time.Second, 2, later)
	require.NoError(t, err, "partial refill should grant at least one token back")
}

func TestExecuteThrottledPropagatesFnError(t *testing.T) {
	coordinator := newLocalCoordinator()
	limiter := NewLimiter(coordinator, time.Second, nil)

	sentinel := assert.AnError
	_, err := ExecuteThrottled(context.Background(), limiter, "scope-err", 5, func(ctx context.Context) (int, error) {
		return 0, sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestExecuteThrottledHonorsContextCancellation(t *testing.T) {
	coordinator := newLocalCoordinator()
	limiter := NewLimiter(coordinator, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := limiter.coordinator.Reserve(ctx, "scope-cancel", time.Second, 1, time.Now())
	require.NoError(t, err)
	cancel()

	_, err = ExecuteThrottled(ctx, limiter, "scope-cancel", 1, func(ctx context.Context) (int, error) {
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReduceRateLowersEffectiveLimitTransiently(t *testing.T) {
	coordinator := newLocalCoordinator()
	limiter := NewLimiter(coordinator, time.Second, nil)

	assert.Equal(t, 10, limiter.effectiveLimit("scope-reduce", 10))

	limiter.reduceRate("scope-reduce", 0.5, 50*time.Millisecond)
	assert.Equal(t, 5, limiter.effectiveLimit("scope-reduce", 10))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 10, limiter.effectiveLimit("scope-reduce", 10), "reduction must expire")
}
