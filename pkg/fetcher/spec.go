package fetcher

import (
	"context"
)

// Item is an opaque provider record. The engine never inspects fields
// except through the caller-supplied key and order functions.
type Item map[string]any

// KeyFunc extracts the dedup key of an item. Items for which ok is false
// cannot be deduplicated safely and are dropped.
type KeyFunc func(Item) (key string, ok bool)

// OrderFunc extracts the sort key of an item. The first component MUST
// be the item's block number: it both orders the final output and drives
// sliding-window advancement. The second component breaks ties (e.g. a
// transaction index within the block).
type OrderFunc func(Item) (block int64, index int64)

// PageFunc fetches one page slice from the provider.
type PageFunc func(ctx context.Context, page int, startBlock, endBlock int64, offset int) ([]Item, error)

// RangeFunc fetches every record the provider will return for a closed
// block range in a single call. Used only by FetchAllRanges.
type RangeFunc func(ctx context.Context, start, end int64) ([]Item, error)

// ResolveFunc resolves the current chain head block number.
type ResolveFunc func(ctx context.Context) (int64, error)

// RateLimiter admits one call per logical key no faster than a
// configured interval. Implementations are caller-owned, may be shared
// across concurrent fetches, and must be safe for concurrent use.
// ratelimit.Limiter satisfies this interface.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) error
}

// Retrier re-invokes an operation on failure per its own backoff and
// attempt policy, re-raising the last error on exhaustion.
// retry.Policy satisfies this interface.
type Retrier interface {
	Run(ctx context.Context, op func(ctx context.Context) error) error
}

// Mode selects the pagination strategy of a provider.
type Mode string

const (
	// ModePaged uses explicit, provider-tracked page numbers.
	ModePaged Mode = "paged"

	// ModeSliding advances the query's start block past the last item
	// seen instead of incrementing a page number.
	ModeSliding Mode = "sliding"
)

const (
	// EndBlockLatest asks FetchAllPages to resolve the end block via
	// FetchSpec.ResolveEndBlock, falling back to EndBlockSentinel.
	EndBlockLatest int64 = -1

	// EndBlockSentinel is the fixed upper bound used when the chain head
	// cannot be resolved. Providers treat it as "no upper bound".
	EndBlockSentinel int64 = 99_999_999
)

// FetchSpec describes one paginated provider dataset for FetchAllPages.
// A spec value is immutable once handed to the engine.
type FetchSpec struct {
	// Name identifies the dataset in logs, metrics and telemetry
	// (e.g. "txlist", "tokentx").
	Name string

	// FetchPage fetches one page slice. Required.
	FetchPage PageFunc

	// Key extracts the dedup key. Nil disables deduplication.
	Key KeyFunc

	// Order extracts the sort key. Required in sliding mode, where its
	// block component drives window advancement.
	Order OrderFunc

	// MaxOffset is the page size requested from the provider. A page
	// with fewer than MaxOffset items signals the end of the stream.
	MaxOffset int

	// ResolveEndBlock resolves the chain head when the caller passes
	// EndBlockLatest. Optional; EndBlockSentinel is used without it.
	ResolveEndBlock ResolveFunc
}

// Policy captures a provider's pagination semantics.
type Policy struct {
	// Mode selects paged or sliding pagination.
	Mode Mode

	// Prefetch bounds how many consecutive pages are requested
	// concurrently per batch in paged mode. Defaults to 1.
	Prefetch int

	// WindowCap, when positive, caps the width of each sliding-mode
	// query window in blocks. Zero means the window always extends to
	// the end block.
	WindowCap int64

	// RPSKey is the rate limiter key for this provider's quota. Empty
	// skips rate limiting.
	RPSKey string
}

// RangeSpec describes one adaptive range fetch for FetchAllRanges.
type RangeSpec struct {
	// Name identifies the dataset in logs, metrics and telemetry.
	Name string

	// FetchRange fetches all records for a closed sub-range. Required.
	FetchRange RangeFunc

	// Key extracts the dedup key. Nil disables deduplication.
	Key KeyFunc

	// Order extracts the sort key.
	Order OrderFunc

	// MaxOffset is the provider's per-call item cap. A response of
	// MaxOffset or more items is treated as possibly truncated and the
	// sub-range is split. Defaults to 1000.
	MaxOffset int

	// MinRangeWidth is the floor, in blocks, below which a sub-range is
	// never split. A range saturated at the floor is accepted as-is and
	// counted in RunStats.RangesAtFloor. Defaults to 64.
	MinRangeWidth int64

	// MaxAttemptsPerRange bounds how many times a failing sub-range is
	// re-enqueued, on top of whatever per-call retries the engine's
	// retry policy performs. Defaults to 3.
	MaxAttemptsPerRange int

	// EdgesFirst fetches both boundary sub-ranges concurrently before
	// the center range, front-loading likely-dense boundary activity.
	EdgesFirst bool

	// RPSKey is the rate limiter key. Empty skips rate limiting.
	RPSKey string
}

// DefaultRangeSpec returns a RangeSpec with the defaults filled in and
// edge-first kickoff enabled.
func DefaultRangeSpec(name string, fetch RangeFunc) RangeSpec {
	return RangeSpec{
		Name:                name,
		FetchRange:          fetch,
		MaxOffset:           1000,
		MinRangeWidth:       64,
		MaxAttemptsPerRange: 3,
		EdgesFirst:          true,
	}
}
