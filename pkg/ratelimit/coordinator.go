// Package ratelimit implements the per-identifier token bucket described by
// the protocol: N calls per second per key, callers queue (never dropped)
// when the bucket is empty. The pluggable backend (local in-process bucket,
// or a Redis-coordinated bucket shared across node processes) mirrors
// enforcement-agent/internal/ratelimit's Coordinator/Factory split.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRateLimitExceeded is returned by Coordinator.Reserve when no token is
// currently available for scope.
var ErrRateLimitExceeded = errors.New("ratelimit: rate limit exceeded")

// Reservation represents a granted token. Release returns the token early
// where the backend supports it (the local backend's Release is a no-op);
// nothing in this repository calls it.
type Reservation interface {
	Release(ctx context.Context) error
}

// Coordinator reserves a single call against a per-scope token budget.
// limit is calls allowed per window (the protocol always uses a 1-second
// window).
type Coordinator interface {
	Reserve(ctx context.Context, scope string, window time.Duration, limit int, now time.Time) (Reservation, error)
}

// Backend selects a Coordinator implementation.
type Backend string

const (
	BackendLocal Backend = "local"
	BackendRedis Backend = "redis"
)

// Options groups coordinator construction parameters.
type Options struct {
	Redis *RedisOptions
}

// Factory constructs a Coordinator for the named backend, mirroring
// enforcement-agent/internal/ratelimit.Factory's switch-on-backend shape.
func Factory(backend Backend, opts Options) (Coordinator, error) {
	switch backend {
	case "", BackendLocal:
		return newLocalCoordinator(), nil
	case BackendRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("ratelimit: redis backend requires configuration")
		}
		return newRedisCoordinator(*opts.Redis)
	default:
		return nil, fmt.Errorf("ratelimit: unsupported backend %q", backend)
	}
}
