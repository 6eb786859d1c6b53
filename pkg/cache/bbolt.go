package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var cacheBucket = []byte("cache-entries")

// bboltStore is the durable cache backend, for listener progress markers
// and dedup records that must survive a process restart. It opens its
// database file with a bounded mkdir-then-open timeout and keeps every
// read/write inside a single-bucket transaction, with each stored value
// carrying a packed expiry prefix so TTL can be enforced at read time.
type bboltStore struct {
	db *bolt.DB
}

func newBboltStore(path string) (*bboltStore, error) {
	if path == "" {
		return nil, errors.New("cache: bbolt path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cache: mkdir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("cache: open: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: init bucket: %w", err)
	}
	return &bboltStore{db: db}, nil
}

// encodeValue packs an 8-byte big-endian unix-milli expiry (0 means no
// expiry) ahead of the raw value, so a single []byte round-trips through
// bbolt without a second bucket for metadata.
func encodeValue(value []byte, expiresAt time.Time) []byte {
	var millis int64
	if !expiresAt.IsZero() {
		millis = expiresAt.UnixMilli()
	}
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(millis))
	copy(buf[8:], value)
	return buf
}

func decodeValue(buf []byte) ([]byte, time.Time, error) {
	if len(buf) < 8 {
		return nil, time.Time{}, errors.New("cache: corrupt entry")
	}
	millis := int64(binary.BigEndian.Uint64(buf[:8]))
	var expiresAt time.Time
	if millis != 0 {
		expiresAt = time.UnixMilli(millis)
	}
	return buf[8:], expiresAt, nil
}

func (b *bboltStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt time.Time
		found     bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(cacheBucket)
		raw := bucket.Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		v, exp, err := decodeValue(raw)
		if err != nil {
			return err
		}
		value = append([]byte(nil), v...)
		expiresAt = exp
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if !expiresAt.IsZero() && time.Now().After(expiresAt) {
		_ = b.Delete(context.Background(), key)
		return nil, false, nil
	}
	return value, true, nil
}

func (b *bboltStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(cacheBucket)
		return bucket.Put([]byte(key), encodeValue(value, expiresAt))
	})
}

func (b *bboltStore) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(cacheBucket)
		return bucket.Delete([]byte(key))
	})
}

func (b *bboltStore) Close() error { return b.db.Close() }
