package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainfetch/chainfetch/pkg/telemetry"
)

// FetchAllPages fetches every item of a paginated dataset in
// [startBlock, endBlock] according to the provider's Policy.
//
// Pass EndBlockLatest as endBlock to resolve the chain head once via
// spec.ResolveEndBlock; the resolved value is a fixed snapshot for the
// whole call. If endBlock <= startBlock after resolution the call
// returns empty with zero provider calls.
//
// Any unrecovered page error fails the whole call; no partial result is
// returned.
func (e *Engine) FetchAllPages(ctx context.Context, startBlock, endBlock int64, spec FetchSpec, policy Policy) ([]Item, RunStats, error) {
	start := time.Now()

	stats := RunStats{
		Mode:       policy.Mode,
		StartBlock: startBlock,
	}

	if spec.FetchPage == nil {
		return nil, stats, fmt.Errorf("fetch spec %q: FetchPage is required", spec.Name)
	}
	if spec.MaxOffset <= 0 {
		spec.MaxOffset = 1000
	}

	if endBlock < 0 {
		endBlock = e.resolveEndBlock(ctx, spec)
	}
	stats.EndBlock = endBlock

	if endBlock <= startBlock {
		return nil, stats, nil
	}

	var (
		acc []Item
		err error
	)

	switch policy.Mode {
	case ModeSliding:
		if spec.Order == nil {
			return nil, stats, fmt.Errorf("fetch spec %q: sliding mode requires Order", spec.Name)
		}
		acc, err = e.fetchSliding(ctx, startBlock, endBlock, spec, policy, &stats)
	case ModePaged, "":
		stats.Mode = ModePaged
		acc, err = e.fetchPaged(ctx, startBlock, endBlock, spec, policy, &stats)
	default:
		return nil, stats, fmt.Errorf("fetch spec %q: unknown pagination mode %q", spec.Name, policy.Mode)
	}

	if err != nil {
		telemetry.Error(e.cfg.Telemetry, "pager_failed", err, map[string]any{
			"name": spec.Name,
			"mode": string(stats.Mode),
		})
		return nil, stats, err
	}

	stats.Items = len(acc)
	items, duplicates, dropped := dedupSort(acc, spec.Key, spec.Order, e.cfg.Telemetry)
	stats.Duplicates = duplicates
	stats.Dropped = dropped
	stats.Duration = time.Since(start)

	itemsFetchedTotal.WithLabelValues(spec.Name).Add(float64(len(items)))
	fetchDurationSeconds.WithLabelValues(string(stats.Mode)).Observe(stats.Duration.Seconds())

	e.logger.Info().
		Str("name", spec.Name).
		Object("stats", stats).
		Msg("Paginated fetch complete")
	telemetry.Event(e.cfg.Telemetry, "pager_complete", map[string]any{
		"name":  spec.Name,
		"mode":  string(stats.Mode),
		"pages": stats.PagesProcessed,
		"items": len(items),
	})

	return items, stats, nil
}

// resolveEndBlock snapshots the chain head once per call, falling back
// to EndBlockSentinel when no resolver is configured or resolution fails.
func (e *Engine) resolveEndBlock(ctx context.Context, spec FetchSpec) int64 {
	if spec.ResolveEndBlock == nil {
		return EndBlockSentinel
	}

	head, err := spec.ResolveEndBlock(ctx)
	if err != nil {
		telemetry.Error(e.cfg.Telemetry, "resolve_end_block_failed", err, map[string]any{"name": spec.Name})
		e.logger.Warn().
			Err(err).
			Str("name", spec.Name).
			Int64("sentinel", EndBlockSentinel).
			Msg("End block resolution failed, using sentinel")
		return EndBlockSentinel
	}
	return head
}

// fetchSliding advances the query's start block past the last item of
// each full page. A page shorter than MaxOffset means the provider has
// no more data in the current window.
func (e *Engine) fetchSliding(ctx context.Context, startBlock, endBlock int64, spec FetchSpec, policy Policy, stats *RunStats) ([]Item, error) {
	var acc []Item
	current := startBlock

	for {
		windowEnd := endBlock
		if policy.WindowCap > 0 && current+policy.WindowCap-1 < endBlock {
			windowEnd = current + policy.WindowCap - 1
		}

		var page []Item
		err := e.call(ctx, policy.RPSKey, func(ctx context.Context) error {
			var ferr error
			page, ferr = spec.FetchPage(ctx, 1, current, windowEnd, spec.MaxOffset)
			return ferr
		})
		if err != nil {
			pagesFetchedTotal.WithLabelValues(string(ModeSliding), "error").Inc()
			return nil, fmt.Errorf("sliding fetch %q [%d, %d]: %w", spec.Name, current, windowEnd, err)
		}

		pagesFetchedTotal.WithLabelValues(string(ModeSliding), "ok").Inc()
		stats.PagesProcessed++
		acc = append(acc, page...)

		e.logger.Debug().
			Str("name", spec.Name).
			Int64("window_start", current).
			Int64("window_end", windowEnd).
			Int("items", len(page)).
			Msg("Sliding window fetched")

		if len(page) < spec.MaxOffset {
			if windowEnd >= endBlock {
				return acc, nil
			}
			// Window exhausted but capped short of the end block.
			current = windowEnd + 1
			continue
		}

		lastBlock, _ := spec.Order(page[len(page)-1])
		next := lastBlock + 1
		if next <= current {
			// Provider returned a full page without advancing the block
			// cursor; force progress to avoid re-fetching the same window.
			next = current + 1
		}
		if next > endBlock {
			return acc, nil
		}
		current = next
	}
}

// fetchPaged issues batches of Prefetch concurrent calls for consecutive
// page numbers. A batch element returning fewer than MaxOffset items
// ends the entire stream: providers return pages in non-decreasing page
// order with no gaps, so nothing exists past the first short page. The
// rest of the batch is still included.
func (e *Engine) fetchPaged(ctx context.Context, startBlock, endBlock int64, spec FetchSpec, policy Policy, stats *RunStats) ([]Item, error) {
	prefetch := policy.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	stats.Prefetch = prefetch

	var acc []Item
	page := 1

	for {
		pages := make([][]Item, prefetch)
		errs := make([]error, prefetch)

		var wg sync.WaitGroup
		for i := 0; i < prefetch; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				p := page + i
				errs[i] = e.call(ctx, policy.RPSKey, func(ctx context.Context) error {
					var ferr error
					pages[i], ferr = spec.FetchPage(ctx, p, startBlock, endBlock, spec.MaxOffset)
					return ferr
				})
			}(i)
		}
		wg.Wait()

		done := false
		for i := 0; i < prefetch; i++ {
			if errs[i] != nil {
				pagesFetchedTotal.WithLabelValues(string(ModePaged), "error").Inc()
				return nil, fmt.Errorf("paged fetch %q page %d: %w", spec.Name, page+i, errs[i])
			}

			pagesFetchedTotal.WithLabelValues(string(ModePaged), "ok").Inc()
			stats.PagesProcessed++
			acc = append(acc, pages[i]...)

			if len(pages[i]) < spec.MaxOffset {
				done = true
			}
		}

		e.logger.Debug().
			Str("name", spec.Name).
			Int("first_page", page).
			Int("batch", prefetch).
			Int("items_total", len(acc)).
			Msg("Page batch fetched")

		if done {
			return acc, nil
		}
		page += prefetch
	}
}
