// Package source adapts external blockchain event feeds to the listener
// contract the scheduler drives: idempotent progress marker, bounded
// window scan, ordered dispatch, event-id dedup, optional batching.
// Concrete chain RPC providers are out of scope here — this package
// supplies the thin contract plus one illustrative EVM adapter exercising
// it.
package source

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/megayours/megaforwarder/pkg/cache"
)

// Event is one ordered occurrence drawn from a source-chain window.
type Event struct {
	ID          string // stable, e.g. "txHash-logIndex"
	BlockNumber uint64
	LogIndex    uint32
	Payload     []byte
}

// Source is the thin chain-specific surface an Adapter drives. A concrete
// implementation (e.g. evmSource) wraps a provider RPC client.
type Source interface {
	// Head returns the source chain's current indexed height/slot.
	Head(ctx context.Context) (uint64, error)
	// Scan returns every event in [start, end], inclusive, unordered.
	Scan(ctx context.Context, start, end uint64) ([]Event, error)
}

// Dispatch runs a Task for one ordered batch of events.
type Dispatch func(ctx context.Context, events []Event) error

// Config tunes one Adapter, mirroring config.ListenerConfig.
type Config struct {
	BlockHeightIncrement uint64
	ThrottleOnSuccessMs  int
	BatchSize            int
	CacheTTL             time.Duration
	// Lag holds back the scan window from the chain head by a small
	// constant (≈10 blocks) to tolerate source-chain reorgs.
	Lag uint64
}

// Adapter implements scheduler.Listener over one Source, maintaining its
// progress cursor and event dedup records in a shared cache.Store.
type Adapter struct {
	id       string
	source   Source
	store    cache.Store
	dispatch Dispatch
	cfg      Config
	logger   *zap.Logger
}

func New(id string, source Source, store cache.Store, dispatch Dispatch, cfg Config, logger *zap.Logger) *Adapter {
	if cfg.BlockHeightIncrement == 0 {
		cfg.BlockHeightIncrement = 1000
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1
	}
	if cfg.ThrottleOnSuccessMs == 0 {
		cfg.ThrottleOnSuccessMs = 15000
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Adapter{id: id, source: source, store: store, dispatch: dispatch, cfg: cfg, logger: logger}
}

func (a *Adapter) ID() string { return a.id }

func (a *Adapter) cursorKey() string { return fmt.Sprintf("listener:%s:cursor", a.id) }
func (a *Adapter) eventKey(eventID string) string {
	return fmt.Sprintf("listener:%s:event:%s", a.id, eventID)
}

// Run scans one bounded window, dedups against the store, and dispatches
// fresh events in order before advancing the cursor.
func (a *Adapter) Run(ctx context.Context) (time.Time, error) {
	start, err := a.loadCursor(ctx)
	if err != nil {
		return time.Time{}, err
	}

	head, err := a.source.Head(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("source %s: head: %w", a.id, err)
	}
	if head <= a.cfg.Lag {
		return a.throttle(), nil
	}
	safeHead := head - a.cfg.Lag
	if start > safeHead {
		return a.throttle(), nil
	}

	end := start + a.cfg.BlockHeightIncrement - 1
	if end > safeHead {
		end = safeHead
	}

	events, err := a.source.Scan(ctx, start, end)
	if err != nil {
		return time.Time{}, fmt.Errorf("source %s: scan: %w", a.id, err)
	}
	if len(events) == 0 {
		if err := a.storeCursor(ctx, end+1); err != nil {
			return time.Time{}, err
		}
		if end < safeHead {
			return time.Now(), nil
		}
		return a.throttle(), nil
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	fresh, err := a.filterDuplicates(ctx, events)
	if err != nil {
		return time.Time{}, err
	}

	for i := 0; i < len(fresh); i += a.cfg.BatchSize {
		batch := fresh[i:min(i+a.cfg.BatchSize, len(fresh))]
		if err := a.dispatch(ctx, batch); err != nil {
			return time.Time{}, fmt.Errorf("source %s: dispatch: %w", a.id, err)
		}
		for _, e := range batch {
			if err := a.store.Set(ctx, a.eventKey(e.ID), []byte{1}, a.cfg.CacheTTL); err != nil && a.logger != nil {
				a.logger.Warn("listener failed to record event dedup marker", zap.String("listenerId", a.id), zap.Error(err))
			}
		}
	}

	if err := a.storeCursor(ctx, end+1); err != nil {
		return time.Time{}, err
	}

	// A backlogged window fires again immediately; a caught-up one
	// self-throttles so it doesn't poll the provider needlessly.
	if end < safeHead {
		return time.Now(), nil
	}
	return a.throttle(), nil
}

func (a *Adapter) filterDuplicates(ctx context.Context, events []Event) ([]Event, error) {
	fresh := make([]Event, 0, len(events))
	for _, e := range events {
		_, found, err := a.store.Get(ctx, a.eventKey(e.ID))
		if err != nil {
			return nil, fmt.Errorf("source %s: dedup lookup: %w", a.id, err)
		}
		if found {
			continue
		}
		fresh = append(fresh, e)
	}
	return fresh, nil
}

func (a *Adapter) loadCursor(ctx context.Context) (uint64, error) {
	raw, found, err := a.store.Get(ctx, a.cursorKey())
	if err != nil {
		return 0, fmt.Errorf("source %s: load cursor: %w", a.id, err)
	}
	if !found {
		head, err := a.source.Head(ctx)
		if err != nil {
			return 0, fmt.Errorf("source %s: cold-start head: %w", a.id, err)
		}
		return head, nil
	}
	return decodeHeight(raw), nil
}

func (a *Adapter) storeCursor(ctx context.Context, height uint64) error {
	if err := a.store.Set(ctx, a.cursorKey(), encodeHeight(height), 0); err != nil {
		return fmt.Errorf("source %s: store cursor: %w", a.id, err)
	}
	return nil
}

func (a *Adapter) throttle() time.Time {
	return time.Now().Add(time.Duration(a.cfg.ThrottleOnSuccessMs) * time.Millisecond)
}

func encodeHeight(h uint64) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[7-i] = byte(h >> (8 * i))
	}
	return buf
}

func decodeHeight(buf []byte) uint64 {
	var h uint64
	for _, b := range buf {
		h = h<<8 | uint64(b)
	}
	return h
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
