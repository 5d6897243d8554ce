package fetcher

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chainfetch/chainfetch/pkg/telemetry"
)

// Prometheus metrics for engine operations.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainfetch_pages_fetched_total",
		Help: "Total provider page/range calls by mode and outcome",
	}, []string{"mode", "outcome"})

	fetchDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainfetch_fetch_duration_seconds",
		Help:    "Whole-fetch duration in seconds by mode",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"mode"})

	rangesSplitTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainfetch_ranges_split_total",
		Help: "Total sub-ranges split after a saturated response",
	})

	rangesFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chainfetch_ranges_failed_total",
		Help: "Total sub-ranges dropped after exhausting their attempt budget",
	})

	itemsFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainfetch_items_fetched_total",
		Help: "Total items returned to callers by dataset name",
	}, []string{"name"})
)

// Config holds engine configuration. Limiter, Retry and Telemetry are
// caller-owned collaborators; each may be nil.
type Config struct {
	// MaxConcurrent bounds concurrent outbound calls across both
	// strategies. Defaults to 5.
	MaxConcurrent int

	// Limiter gates every outbound call by the policy's RPSKey.
	Limiter RateLimiter

	// Retry wraps every outbound call.
	Retry Retrier

	// Telemetry receives engine events. Nil is a valid no-op.
	Telemetry telemetry.Sink
}

// Engine executes paginated and adaptive range fetches. Engines are
// cheap and safe for concurrent use; per-call state (heap, dedup set,
// counters) is owned by each invocation.
type Engine struct {
	cfg    Config
	sem    chan struct{}
	logger zerolog.Logger
}

// New creates an engine, correcting zero-value configuration.
func New(cfg Config) *Engine {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}

	return &Engine{
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		logger: log.With().Str("component", "fetcher").Logger(),
	}
}

// call performs one outbound provider call: semaphore slot, rate limiter
// admission (per attempt, so retried attempts re-queue behind the
// limiter), then op, wrapped by the retry policy when configured.
func (e *Engine) call(ctx context.Context, rpsKey string, op func(ctx context.Context) error) error {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.sem }()

	attempt := func(ctx context.Context) error {
		if e.cfg.Limiter != nil && rpsKey != "" {
			if err := e.cfg.Limiter.Acquire(ctx, rpsKey); err != nil {
				return err
			}
		}
		return op(ctx)
	}

	if e.cfg.Retry != nil {
		return e.cfg.Retry.Run(ctx, attempt)
	}
	return attempt(ctx)
}
