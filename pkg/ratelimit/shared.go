package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var sharedContentionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chainfetch_rate_limit_shared_contention_total",
	Help: "Total times a shared slot was already taken by another process",
}, []string{"key"})

// SharedLimiter coordinates per-key admission intervals across processes
// through Redis. Whichever process wins SET NX on the slot key owns the
// current interval; everyone else waits for the key to expire.
type SharedLimiter struct {
	redis    *redis.Client
	interval time.Duration
	logger   zerolog.Logger
}

// NewSharedLimiter creates a Redis-backed limiter admitting one call per
// key every interval across all participating processes.
func NewSharedLimiter(redisClient *redis.Client, interval time.Duration) *SharedLimiter {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &SharedLimiter{
		redis:    redisClient,
		interval: interval,
		logger:   log.With().Str("component", "ratelimit-shared").Logger(),
	}
}

func slotKey(key string) string {
	return "chainfetch:rate_limit:slot:" + key
}

// Acquire implements Limiter.
func (l *SharedLimiter) Acquire(ctx context.Context, key string) error {
	if l.interval <= 0 {
		admissionsTotal.WithLabelValues(key).Inc()
		return nil
	}

	start := time.Now()
	rkey := slotKey(key)

	for {
		ok, err := l.redis.SetNX(ctx, rkey, 1, l.interval).Result()
		if err != nil {
			return fmt.Errorf("reserve rate limit slot: %w", err)
		}
		if ok {
			if waited := time.Since(start); waited > 0 {
				waitSeconds.WithLabelValues(key).Observe(waited.Seconds())
			}
			admissionsTotal.WithLabelValues(key).Inc()
			return nil
		}

		sharedContentionTotal.WithLabelValues(key).Inc()

		// Slot taken; wait for the remaining TTL before trying again.
		ttl, err := l.redis.PTTL(ctx, rkey).Result()
		if err != nil {
			return fmt.Errorf("read rate limit slot ttl: %w", err)
		}
		if ttl <= 0 {
			// Key expired between SETNX and PTTL; retry immediately.
			continue
		}

		l.logger.Debug().
			Str("key", key).
			Dur("ttl", ttl).
			Msg("Shared slot taken, waiting for expiry")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ttl):
		}
	}
}
