package fetcher

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/chainfetch/chainfetch/pkg/telemetry"
)

// dedupSort deduplicates items under key (first seen wins, keyless items
// dropped) and stable-sorts the survivors ascending under order. A
// panicking order function downgrades to insertion order rather than
// aborting an otherwise-successful fetch; the fallback is surfaced via
// telemetry and a warn log.
func dedupSort(items []Item, key KeyFunc, order OrderFunc, sink telemetry.Sink) (out []Item, duplicates, dropped int) {
	if key == nil {
		out = append(out, items...)
	} else {
		seen := make(map[string]struct{}, len(items))
		out = make([]Item, 0, len(items))
		for _, item := range items {
			k, ok := resolveKey(key, item)
			if !ok {
				dropped++
				continue
			}
			if _, dup := seen[k]; dup {
				duplicates++
				continue
			}
			seen[k] = struct{}{}
			out = append(out, item)
		}
	}

	if order == nil || len(out) < 2 {
		return out, duplicates, dropped
	}

	sorted := make([]Item, len(out))
	copy(sorted, out)

	if err := stableSort(sorted, order); err != nil {
		telemetry.Error(sink, "sort_fallback", err, map[string]any{"items": len(out)})
		log.Warn().
			Err(err).
			Int("items", len(out)).
			Msg("Order function failed, keeping insertion order")
		return out, duplicates, dropped
	}

	return sorted, duplicates, dropped
}

// resolveKey guards against a panicking key function; a panic counts as
// an unresolvable key.
func resolveKey(key KeyFunc, item Item) (k string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return key(item)
}

// stableSort sorts in place, converting an order-function panic on
// malformed input into an error.
func stableSort(items []Item, order OrderFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("order function panic: %v", r)
		}
	}()

	sort.SliceStable(items, func(i, j int) bool {
		bi, xi := order(items[i])
		bj, xj := order(items[j])
		if bi != bj {
			return bi < bj
		}
		return xi < xj
	})
	return nil
}
