// Package cache implements the shared TTL cache used for listener progress
// markers, event-id dedup, and webhook (mint, account) dedup. Entries
// are keyed and copy-on-write; reads/writes are atomic per key, so there is
// no cross-key contention.
package cache

import (
	"context"
	"time"
)

// Store is the TTL cache's backend contract. Set overwrites any existing
// value and its TTL; Get reports whether the key is present and unexpired.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend selects a Store implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendBbolt  Backend = "bbolt"
)

// Options groups cache construction parameters.
type Options struct {
	BboltPath string
	// DefaultCapacity bounds the memory backend's LRU size; the protocol
	// imposes no explicit bound (§3: "TTL-only; no LRU"), but an unbounded
	// map is not a responsible default for a long-lived process, so the
	// memory backend caps itself and relies on TTL expiry to keep it well
	// under that cap in normal operation.
	DefaultCapacity int
}

// Factory constructs a Store for the named backend, mirroring
// ratelimit.Factory's switch-on-backend shape.
func Factory(backend Backend, opts Options) (Store, error) {
	switch backend {
	case "", BackendMemory:
		capacity := opts.DefaultCapacity
		if capacity <= 0 {
			capacity = 100000
		}
		return newMemoryStore(capacity), nil
	case BackendBbolt:
		return newBboltStore(opts.BboltPath)
	default:
		return nil, &unsupportedBackendError{backend: string(backend)}
	}
}

type unsupportedBackendError struct{ backend string }

func (e *unsupportedBackendError) Error() string { return "cache: unsupported backend " + e.backend }
