package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// memoryStore is the default, non-durable cache backend. Grounded on
// backend/pkg/consensus/pbft/quorum.go's QuorumVerifier, which keeps a
// qcCache *expirable.LRU[BlockHash,bool] sized and TTL'd from
// QuorumConfig.CacheSize/CacheTTL; here every key shares one LRU with a
// per-Set TTL recorded alongside the value, since expirable.LRU itself
// applies one fixed TTL to the whole cache rather than a per-entry one.
type memoryStore struct {
	lru *expirable.LRU[string, memoryEntry]
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func newMemoryStore(capacity int) *memoryStore {
	// expirable.LRU needs a single constructor-wide TTL; pass 0 (no
	// eviction by the LRU itself) and enforce the per-entry TTL ourselves
	// in Get, since Set callers choose their own TTL per key.
	return &memoryStore{lru: expirable.NewLRU[string, memoryEntry](capacity, nil, 0)}
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.lru.Remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.lru.Add(key, memoryEntry{value: value, expiresAt: expiresAt})
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

func (m *memoryStore) Close() error { return nil }
