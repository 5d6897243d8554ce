// Package retry implements the retry policy used around every outbound
// page and range call: exponential backoff with jitter, a max-backoff
// clamp, and context-aware waiting.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainfetch_retries_total",
		Help: "Total number of retry attempts by operation",
	}, []string{"op"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainfetch_retry_backoff_seconds",
		Help:    "Backoff duration for retries by operation",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"op"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainfetch_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by operation",
	}, []string{"op"})
)

// Common errors returned by the policy.
var (
	// ErrExhausted is returned when all retry attempts are exhausted.
	ErrExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// retriable is implemented by errors that can veto a retry.
type retriable interface {
	Retriable() bool
}

// Retriable reports whether err should be retried. Errors that implement
// Retriable() bool decide for themselves; everything else is retried.
func Retriable(err error) bool {
	var r retriable
	if errors.As(err, &r) {
		return r.Retriable()
	}
	return true
}

// Policy holds the configuration for retry logic. The zero value is not
// usable; construct with DefaultPolicy or fill every field.
type Policy struct {
	// Op names the operation in metrics and logs.
	Op string

	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// InitialBackoff is the backoff before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff clamps the exponential backoff.
	MaxBackoff time.Duration

	// Multiplier is the exponential backoff multiplier.
	Multiplier float64
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy(op string) Policy {
	return Policy{
		Op:             op,
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// Run executes op with exponential backoff retry logic. It respects
// context cancellation and adds jitter to prevent thundering herd.
// On exhaustion the last error is wrapped in ErrExhausted.
func (p Policy) Run(ctx context.Context, op func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var lastErr error
	backoff := p.InitialBackoff

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("op", p.Op).
					Int("attempt", attempt).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !Retriable(err) {
			// Non-retriable errors waste the provider's error budget;
			// return immediately.
			return lastErr
		}

		if attempt >= p.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(p.Op).Inc()

		// Add jitter (±20% randomness)
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(p.Op).Observe(jitter.Seconds())

		log.Debug().
			Str("op", p.Op).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Err(err).
			Msg("Retrying after backoff")

		select {
		case <-ctx.Done():
			log.Warn().
				Str("op", p.Op).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-time.After(jitter):
		}

		backoff = time.Duration(float64(backoff) * p.Multiplier)
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}

	retryExhaustedTotal.WithLabelValues(p.Op).Inc()
	log.Warn().
		Str("op", p.Op).
		Int("max_attempts", p.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, p.MaxAttempts, lastErr)
}
