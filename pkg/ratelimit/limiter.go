// Package ratelimit implements per-key admission control for outbound
// provider calls. A limiter admits one call per logical key no faster
// than a configured interval; the key usually identifies a provider API
// quota (one key per API token, or per endpoint family).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for rate limiting.
var (
	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainfetch_rate_limit_admissions_total",
		Help: "Total admitted calls by key",
	}, []string{"key"})

	waitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainfetch_rate_limit_wait_seconds",
		Help:    "Time spent waiting for admission by key",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"key"})
)

// Limiter gates outbound calls per logical key. Implementations must be
// safe for concurrent use and must not starve callers with different keys.
type Limiter interface {
	// Acquire blocks until the key may make another call, or until the
	// context is cancelled.
	Acquire(ctx context.Context, key string) error
}

// IntervalLimiter is an in-process Limiter that spaces calls for each
// key at least Interval apart. Concurrent callers on the same key are
// queued in reservation order.
type IntervalLimiter struct {
	interval time.Duration
	logger   zerolog.Logger

	mu   sync.Mutex
	next map[string]time.Time
}

// NewIntervalLimiter creates a limiter admitting one call per key every
// interval. A non-positive interval admits immediately.
func NewIntervalLimiter(interval time.Duration) *IntervalLimiter {
	return &IntervalLimiter{
		interval: interval,
		logger:   log.With().Str("component", "ratelimit").Logger(),
		next:     make(map[string]time.Time),
	}
}

// Acquire implements Limiter. It reserves the next free slot for key and
// sleeps until that slot arrives.
func (l *IntervalLimiter) Acquire(ctx context.Context, key string) error {
	if l.interval <= 0 {
		admissionsTotal.WithLabelValues(key).Inc()
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	slot := l.next[key]
	if slot.Before(now) {
		slot = now
	}
	l.next[key] = slot.Add(l.interval)
	l.mu.Unlock()

	wait := time.Until(slot)
	if wait > 0 {
		waitSeconds.WithLabelValues(key).Observe(wait.Seconds())
		l.logger.Debug().
			Str("key", key).
			Dur("wait", wait).
			Msg("Waiting for rate limit slot")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	admissionsTotal.WithLabelValues(key).Inc()
	return nil
}
