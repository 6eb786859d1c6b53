package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Limiter wraps a Coordinator with the queueing, metrics, and throttle-
// reduction behavior described by the protocol (§4.3): ExecuteThrottled
// never drops a caller, it makes it wait; a per-key gauge tracks how many
// callers are currently queued, and a per-key histogram tracks how long
// each call waited for its token.
type Limiter struct {
	coordinator Coordinator
	window      time.Duration

	queueDepth  *prometheus.GaugeVec
	waitSeconds *prometheus.HistogramVec

	mu        sync.Mutex
	depth     map[string]*int64
	throttled map[string]throttleState
}

type throttleState struct {
	factor float64
	until  time.Time
}

// NewLimiter constructs a Limiter. window is the bucket window (the
// protocol fixes this at 1 second); reg is the Prometheus registerer the
// limiter's gauge/histogram are registered against.
func NewLimiter(coordinator Coordinator, window time.Duration, reg prometheus.Registerer) *Limiter {
	l := &Limiter{
		coordinator: coordinator,
		window:      window,
		depth:       make(map[string]*int64),
		throttled:   make(map[string]throttleState),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ratelimit_queue_depth",
			Help: "Number of callers currently queued waiting for a rate-limit token, by key.",
		}, []string{"key"}),
		waitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ratelimit_wait_seconds",
			Help:    "Time callers spent waiting for a rate-limit token, by key.",
			Buckets: prometheus.DefBuckets,
		}, []string{"key"}),
	}
	if reg != nil {
		reg.MustRegister(l.queueDepth, l.waitSeconds)
	}
	return l
}

// ExecuteThrottled runs fn once the rate limiter for key grants a token,
// queuing (sleeping and retrying) rather than dropping the caller when the
// bucket is empty. limit is the per-second call budget for key.
func ExecuteThrottled[T any](ctx context.Context, l *Limiter, key string, limit int, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	counter := l.depthCounter(key)
	n := atomic.AddInt64(counter, 1)
	l.queueDepth.WithLabelValues(key).Set(float64(n))
	defer func() {
		n := atomic.AddInt64(counter, -1)
		l.queueDepth.WithLabelValues(key).Set(float64(n))
	}()

	start := time.Now()
	effectiveLimit := l.effectiveLimit(key, limit)
	for {
		_, err := l.coordinator.Reserve(ctx, key, l.window, effectiveLimit, time.Now())
		if err == nil {
			break
		}
		if !errors.Is(err, ErrRateLimitExceeded) {
			return zero, err
		}
		wait := l.window / time.Duration(maxInt(effectiveLimit, 1))
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
		effectiveLimit = l.effectiveLimit(key, limit)
	}
	l.waitSeconds.WithLabelValues(key).Observe(time.Since(start).Seconds())

	return fn(ctx)
}

func (l *Limiter) depthCounter(key string) *int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.depth[key]
	if !ok {
		var zero int64
		c = &zero
		l.depth[key] = c
	}
	return c
}

// reduceRate transiently lowers the effective per-second limit for key by
// factor (0 < factor < 1) for duration. Used by RetryOn429 when a provider
// surfaces HTTP 429 for key, so subsequent callers back off automatically
// without the provider needing to be asked again.
func (l *Limiter) reduceRate(key string, factor float64, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.throttled[key] = throttleState{factor: factor, until: time.Now().Add(duration)}
}

func (l *Limiter) effectiveLimit(key string, limit int) int {
	l.mu.Lock()
	state, ok := l.throttled[key]
	l.mu.Unlock()
	if !ok || time.Now().After(state.until) {
		return limit
	}
	reduced := int(float64(limit) * state.factor)
	if reduced < 1 {
		reduced = 1
	}
	return reduced
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
