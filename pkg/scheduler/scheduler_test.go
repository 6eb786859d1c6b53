package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingListener struct {
	id       string
	runs     atomic.Int32
	nextWait time.Duration
	failNext atomic.Bool
}

func (l *countingListener) ID() string { return l.id }

func (l *countingListener) Run(ctx context.Context) (time.Time, error) {
	l.runs.Add(1)
	if l.failNext.Load() {
		l.failNext.Store(false)
		return time.Time{}, errors.New("boom")
	}
	return time.Now().Add(l.nextWait), nil
}

func TestSchedulerDispatchesRegisteredListener(t *testing.T) {
	listener := &countingListener{id: "a", nextWait: time.Hour}
	s := New(zap.NewNop())
	s.Register(listener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool { return listener.runs.Load() >= 1 }, time.Second, 10*time.Millisecond)

	// With nextWait an hour out, a second run must not happen quickly.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), listener.runs.Load())
}

func TestSchedulerReschedulesImmediatelyWhenDue(t *testing.T) {
	listener := &countingListener{id: "b", nextWait: 0}
	s := New(zap.NewNop())
	s.Register(listener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool { return listener.runs.Load() >= 3 }, time.Second, 10*time.Millisecond)
}

func TestSchedulerAppliesPenaltyOnError(t *testing.T) {
	listener := &countingListener{id: "c", nextWait: 0}
	listener.failNext.Store(true)
	s := New(zap.NewNop())
	s.Register(listener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool { return listener.runs.Load() >= 1 }, time.Second, 10*time.Millisecond)

	// After the single failure, the entry is penalized a minute out, so a
	// second run must not happen within this test's short window.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), listener.runs.Load())
}

func TestSchedulerStopsOnContextCancellation(t *testing.T) {
	listener := &countingListener{id: "d", nextWait: 0}
	s := New(zap.NewNop())
	s.Register(listener)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return listener.runs.Load() >= 1 }, time.Second, 10*time.Millisecond)

	cancel()
	time.Sleep(150 * time.Millisecond)
	countAtCancel := listener.runs.Load()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, countAtCancel, listener.runs.Load(), "fiber must stop dispatching after ctx is cancelled")
}
