// Package metrics provides the centralized Prometheus metrics registry
// for the chainfetch engine. All metrics are defined in their respective
// packages (fetcher, provider, cache, ratelimit, retry) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by chainfetch.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Fetch Engine Metrics (pkg/fetcher):
//   - chainfetch_pages_fetched_total{mode, outcome} (Counter): Provider calls by mode and outcome
//   - chainfetch_fetch_duration_seconds{mode} (Histogram): Whole-run duration by mode
//   - chainfetch_ranges_split_total (Counter): Range subdivisions triggered by saturation
//   - chainfetch_ranges_failed_total (Counter): Ranges abandoned after exhausting their attempt budget
//   - chainfetch_items_fetched_total{name} (Counter): Items returned to callers by fetch name
//
// Provider Metrics (pkg/provider):
//   - chainfetch_provider_requests_total{action, status} (Counter): Requests by action and HTTP status
//   - chainfetch_provider_request_duration_seconds{action} (Histogram): Request duration by action
//   - chainfetch_provider_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Cache Metrics (pkg/cache):
//   - chainfetch_cache_hits_total{layer="redis"} (Counter): Page cache hits by layer
//   - chainfetch_cache_misses_total (Counter): Page cache misses
//   - chainfetch_cache_errors_total{operation} (Counter): Cache operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - chainfetch_rate_limit_admissions_total{key} (Counter): Admitted requests by limiter key
//   - chainfetch_rate_limit_wait_seconds{key} (Histogram): Time spent waiting for a slot
//   - chainfetch_rate_limit_shared_contention_total{key} (Counter): Shared slots found taken by another process
//
// Telemetry Metrics (pkg/telemetry):
//   - chainfetch_telemetry_events_total{event} (Counter): Telemetry events by name
//   - chainfetch_telemetry_errors_total{event} (Counter): Telemetry error events by name
//
// Retry Metrics (pkg/retry):
//   - chainfetch_retries_total{op} (Counter): Retry attempts by operation
//   - chainfetch_retry_backoff_seconds{op} (Histogram): Backoff duration by operation
//   - chainfetch_retry_exhausted_total{op} (Counter): Operations that exhausted max attempts
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(chainfetch_cache_hits_total[5m])) /
//   (sum(rate(chainfetch_cache_hits_total[5m])) + sum(rate(chainfetch_cache_misses_total[5m])))
//
//   # Split Pressure
//   rate(chainfetch_ranges_split_total[5m])
//
//   # Provider Error Rate
//   rate(chainfetch_provider_errors_total[5m])
//
//   # P95 Provider Latency
//   histogram_quantile(0.95, rate(chainfetch_provider_request_duration_seconds_bucket[5m]))
