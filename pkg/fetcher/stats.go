package fetcher

import (
	"time"

	"github.com/rs/zerolog"
)

// RunStats reports the counters of one engine invocation. It is built
// per call and returned by value; callers inspecting splitter results
// must check RangesFailed and RangesAtFloor to detect partial or
// possibly-truncated data.
type RunStats struct {
	// Mode is the pagination strategy used ("paged", "sliding", or
	// "ranges" for the adaptive splitter).
	Mode Mode

	// StartBlock and EndBlock are the resolved bounds of the run.
	StartBlock int64
	EndBlock   int64

	// Prefetch is the paged-mode batch depth used.
	Prefetch int

	// PagesProcessed counts provider page calls that completed.
	PagesProcessed int

	// RangesSeeded counts sub-ranges initially enqueued, edge kickoff
	// ranges included.
	RangesSeeded int

	// RangesProcessed counts sub-range fetches that completed without
	// error (whether accepted or split).
	RangesProcessed int

	// RangesSplit counts sub-ranges split after a saturated response.
	RangesSplit int

	// RangesRetried counts whole-range re-enqueues after a failed fetch.
	RangesRetried int

	// RangesFailed counts sub-ranges dropped after exhausting
	// MaxAttemptsPerRange. Their data is missing from the result.
	RangesFailed int

	// RangesAtFloor counts sub-ranges accepted while still saturated
	// because they reached MinRangeWidth. Their data may be truncated.
	RangesAtFloor int

	// Items counts accepted items before deduplication.
	Items int

	// Duplicates counts items removed by deduplication.
	Duplicates int

	// Dropped counts items dropped for lacking a resolvable key.
	Dropped int

	// Duration is the wall-clock time of the run.
	Duration time.Duration
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler so stats
// can be attached to log events as a single field.
func (s RunStats) MarshalZerologObject(e *zerolog.Event) {
	e.Str("mode", string(s.Mode)).
		Int64("start_block", s.StartBlock).
		Int64("end_block", s.EndBlock).
		Int("pages_processed", s.PagesProcessed).
		Int("ranges_seeded", s.RangesSeeded).
		Int("ranges_processed", s.RangesProcessed).
		Int("ranges_split", s.RangesSplit).
		Int("ranges_retried", s.RangesRetried).
		Int("ranges_failed", s.RangesFailed).
		Int("ranges_at_floor", s.RangesAtFloor).
		Int("items", s.Items).
		Int("duplicates", s.Duplicates).
		Int("dropped", s.Dropped).
		Dur("duration", s.Duration)
}

// Partial reports whether the run is known to be missing data.
func (s RunStats) Partial() bool {
	return s.RangesFailed > 0
}
