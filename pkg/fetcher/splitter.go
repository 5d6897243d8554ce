package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainfetch/chainfetch/pkg/telemetry"
)

// ModeRanges marks RunStats produced by the adaptive range splitter.
const ModeRanges Mode = "ranges"

// densityMargin widens the density-derived target length by 15% so split
// sub-ranges land close to, but under, the provider cap.
const densityMargin = 1.15

// maxEdgeWidth caps the edge-first kickoff ranges at 50k blocks.
const maxEdgeWidth int64 = 50_000

// FetchAllRanges fetches every record in [startBlock, endBlock] from a
// provider that caps total results per call without signalling
// truncation. Sub-ranges whose response saturates spec.MaxOffset are
// split at a density-estimated pivot and re-queued on a widest-first
// heap until every pending range drains.
//
// The call is best-effort: a sub-range that keeps failing after
// spec.MaxAttemptsPerRange attempts is excluded from the result and
// counted in RunStats.RangesFailed instead of failing the call. Callers
// must inspect the returned stats to detect partial results.
func (e *Engine) FetchAllRanges(ctx context.Context, startBlock, endBlock int64, spec RangeSpec) ([]Item, RunStats, error) {
	start := time.Now()

	stats := RunStats{
		Mode:       ModeRanges,
		StartBlock: startBlock,
		EndBlock:   endBlock,
	}

	if spec.FetchRange == nil {
		return nil, stats, fmt.Errorf("range spec %q: FetchRange is required", spec.Name)
	}
	if spec.MaxOffset <= 0 {
		spec.MaxOffset = 1000
	}
	if spec.MinRangeWidth <= 0 {
		spec.MinRangeWidth = 64
	}
	if spec.MaxAttemptsPerRange <= 0 {
		spec.MaxAttemptsPerRange = 3
	}

	if endBlock <= startBlock {
		return nil, stats, nil
	}

	run := &rangeRun{
		engine:   e,
		spec:     spec,
		queue:    newTaskQueue(),
		attempts: make(map[[2]int64]int),
		stats:    &stats,
	}

	if spec.EdgesFirst {
		run.kickoffEdges(ctx, startBlock, endBlock)
	} else {
		run.queue.push(startBlock, endBlock)
		stats.RangesSeeded++
	}

	for run.queue.len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}

		batch := make([]rangeTask, 0, cap(e.sem))
		for len(batch) < cap(e.sem) {
			task, ok := run.queue.pop()
			if !ok {
				break
			}
			batch = append(batch, task)
		}

		run.fetchBatch(ctx, batch)
	}

	stats.Items = len(run.acc)
	items, duplicates, dropped := dedupSort(run.acc, spec.Key, spec.Order, e.cfg.Telemetry)
	stats.Duplicates = duplicates
	stats.Dropped = dropped
	stats.Duration = time.Since(start)

	itemsFetchedTotal.WithLabelValues(spec.Name).Add(float64(len(items)))
	fetchDurationSeconds.WithLabelValues(string(ModeRanges)).Observe(stats.Duration.Seconds())

	e.logger.Info().
		Str("name", spec.Name).
		Object("stats", stats).
		Msg("Adaptive range fetch complete")
	telemetry.Event(e.cfg.Telemetry, "ranges_complete", map[string]any{
		"name":          spec.Name,
		"items":         len(items),
		"ranges_failed": stats.RangesFailed,
	})

	return items, stats, nil
}

// rangeRun is the per-invocation state of one FetchAllRanges call.
type rangeRun struct {
	engine   *Engine
	spec     RangeSpec
	queue    *taskQueue
	attempts map[[2]int64]int
	acc      []Item
	stats    *RunStats
}

// kickoffEdges fetches both boundary sub-ranges concurrently before the
// (usually largest) center range, then seeds the heap with the center.
// Boundary activity tends to be dense, so converging from both ends
// shortens the critical path versus center-out splitting.
func (r *rangeRun) kickoffEdges(ctx context.Context, startBlock, endBlock int64) {
	quarter := (endBlock - startBlock) / 4
	edgeWidth := quarter
	if edgeWidth > maxEdgeWidth {
		edgeWidth = maxEdgeWidth
	}

	leftEnd := startBlock + edgeWidth
	rightStart := endBlock - quarter
	if rightStart < leftEnd+1 {
		rightStart = leftEnd + 1
	}

	edges := []rangeTask{
		{start: startBlock, end: leftEnd, width: leftEnd - startBlock},
		{start: rightStart, end: endBlock, width: endBlock - rightStart},
	}
	r.stats.RangesSeeded += len(edges)

	r.engine.logger.Debug().
		Str("name", r.spec.Name).
		Int64("left_end", leftEnd).
		Int64("right_start", rightStart).
		Msg("Edge-first kickoff")

	r.fetchBatch(ctx, edges)

	if leftEnd+1 <= rightStart-1 {
		r.queue.push(leftEnd+1, rightStart-1)
		r.stats.RangesSeeded++
	}
}

// fetchBatch fetches the batch concurrently and handles the results in
// task order so heap mutation stays deterministic.
func (r *rangeRun) fetchBatch(ctx context.Context, batch []rangeTask) {
	results := make([][]Item, len(batch))
	errs := make([]error, len(batch))

	var wg sync.WaitGroup
	for i, task := range batch {
		wg.Add(1)
		go func(i int, task rangeTask) {
			defer wg.Done()
			errs[i] = r.engine.call(ctx, r.spec.RPSKey, func(ctx context.Context) error {
				var ferr error
				results[i], ferr = r.spec.FetchRange(ctx, task.start, task.end)
				return ferr
			})
		}(i, task)
	}
	wg.Wait()

	for i, task := range batch {
		r.handle(task, results[i], errs[i])
	}
}

// handle routes one fetched sub-range: re-enqueue or give up on error,
// split on saturation, accept otherwise.
func (r *rangeRun) handle(task rangeTask, items []Item, err error) {
	logger := r.engine.logger.With().
		Str("name", r.spec.Name).
		Int64("start_block", task.start).
		Int64("end_block", task.end).
		Logger()

	if err != nil {
		pagesFetchedTotal.WithLabelValues(string(ModeRanges), "error").Inc()

		key := [2]int64{task.start, task.end}
		r.attempts[key]++
		if r.attempts[key] < r.spec.MaxAttemptsPerRange {
			r.stats.RangesRetried++
			r.queue.push(task.start, task.end)
			logger.Warn().
				Err(err).
				Int("attempt", r.attempts[key]).
				Msg("Range fetch failed, re-enqueued")
			telemetry.Event(r.engine.cfg.Telemetry, "range_retry", map[string]any{
				"start":   task.start,
				"end":     task.end,
				"attempt": r.attempts[key],
			})
			return
		}

		r.stats.RangesFailed++
		rangesFailedTotal.Inc()
		logger.Error().
			Err(err).
			Int("attempts", r.attempts[key]).
			Msg("Range failed permanently, excluded from result")
		telemetry.Error(r.engine.cfg.Telemetry, "range_failed", err, map[string]any{
			"start": task.start,
			"end":   task.end,
		})
		return
	}

	pagesFetchedTotal.WithLabelValues(string(ModeRanges), "ok").Inc()
	r.stats.RangesProcessed++

	width := task.end - task.start + 1
	if len(items) >= r.spec.MaxOffset && width > r.spec.MinRangeWidth {
		r.split(task, len(items), width, logger)
		return
	}

	if len(items) >= r.spec.MaxOffset {
		// Saturated at the minimum width: accepted as-is, data may be
		// truncated. Surfaced through stats and telemetry, not an error.
		r.stats.RangesAtFloor++
		logger.Warn().
			Int("items", len(items)).
			Int64("width", width).
			Msg("Range saturated at minimum width, accepting possibly-truncated data")
		telemetry.Event(r.engine.cfg.Telemetry, "range_accepted_at_floor", map[string]any{
			"start": task.start,
			"end":   task.end,
			"items": len(items),
		})
	}

	r.acc = append(r.acc, items...)
}

// split chooses a density-driven pivot: target a sub-range whose
// expected item count is just under the cap, which converges faster
// than 50/50 bisection on unevenly distributed data.
func (r *rangeRun) split(task rangeTask, itemCount int, width int64, logger zerolog.Logger) {
	density := float64(itemCount) / float64(width)
	target := int64(float64(r.spec.MaxOffset) / density * densityMargin)
	if target >= width {
		// A response truncated exactly at the cap estimates the local
		// density too low to be informative; bisect instead.
		target = width / 2
	}
	if target < r.spec.MinRangeWidth {
		target = r.spec.MinRangeWidth
	}
	if target >= width {
		target = width - 1
	}

	pivot := task.start + target - 1
	r.queue.push(task.start, pivot)
	r.queue.push(pivot+1, task.end)
	r.stats.RangesSplit++
	rangesSplitTotal.Inc()

	logger.Debug().
		Int("items", itemCount).
		Int64("pivot", pivot).
		Msg("Saturated range split")
	telemetry.Event(r.engine.cfg.Telemetry, "range_split", map[string]any{
		"start": task.start,
		"end":   task.end,
		"pivot": pivot,
	})
}
