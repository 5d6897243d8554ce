// Package fetcher implements the adaptive range-fetch and generic paging
// engine for unbounded, rate-limited, paginated provider datasets keyed
// by block number.
//
// Two strategies are offered, both producing a complete, deduplicated,
// stably-ordered result set for a closed block range:
//
//   - Engine.FetchAllPages drives a caller-supplied page callback under a
//     provider Policy: either strict page numbers ("paged", with a
//     configurable prefetch depth) or a sliding start-block window
//     ("sliding", advancing past the last item seen).
//
//   - Engine.FetchAllRanges drives a caller-supplied range callback across
//     the whole range using a max-heap of sub-ranges, splitting any
//     sub-range whose response saturates the provider's per-call item cap.
//     The split point is chosen by local density estimation rather than
//     naive bisection, and an edge-first kickoff starts convergence from
//     both ends of the range concurrently.
//
// Example usage:
//
//	engine := fetcher.New(fetcher.Config{
//		MaxConcurrent: 5,
//		Limiter:       ratelimit.NewIntervalLimiter(200 * time.Millisecond),
//		Retry:         retry.DefaultPolicy("fetch_page"),
//	})
//	items, stats, err := engine.FetchAllPages(ctx, 0, fetcher.EndBlockLatest, spec, policy)
//
// Every outbound call is gated by a counting semaphore of size
// MaxConcurrent, admitted through the rate limiter (per Policy.RPSKey),
// and wrapped by the retry policy. Results pass through a shared
// dedup/stable-sort step; a typed RunStats value reports per-run counters.
//
// The two strategies fail differently on purpose: the pager aborts the
// whole call on any unrecovered page error (sequential pagination makes a
// partial result misleading), while the splitter records permanently
// failed sub-ranges in RunStats.RangesFailed and still returns the rest.
package fetcher
