package ratelimit

import (
	"context"
	"sync"
	"time"
)

// localCoordinator is an in-process moving-window token bucket per scope.
// Grounded on backend/pkg/api/ratelimit.go's tokenBucket (elapsed-time
// refill), generalized to key-scoped buckets and changed from "reject" to
// "report ErrRateLimitExceeded so the caller queues" per the protocol.
type localCoordinator struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newLocalCoordinator() Coordinator {
	return &localCoordinator{buckets: make(map[string]*tokenBucket)}
}

func (l *localCoordinator) Reserve(_ context.Context, scope string, window time.Duration, limit int, now time.Time) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[scope]
	if !ok {
		b = &tokenBucket{
			tokens:     float64(limit),
			capacity:   float64(limit),
			refillRate: float64(limit) / window.Seconds(),
			lastRefill: now,
		}
		l.buckets[scope] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}

	if b.tokens < 1 {
		return nil, ErrRateLimitExceeded
	}
	b.tokens--
	return noopReservation{}, nil
}

type noopReservation struct{}

func (noopReservation) Release(context.Context) error { return nil }
