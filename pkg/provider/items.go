package provider

import (
	"strconv"

	"github.com/chainfetch/chainfetch/pkg/fetcher"
)

// ItemKey builds a fetcher.KeyFunc reading the given string field
// (typically "hash"). Items missing the field have no safe identity.
func ItemKey(field string) fetcher.KeyFunc {
	return func(it fetcher.Item) (string, bool) {
		v, ok := it[field]
		if !ok {
			return "", false
		}
		s, ok := v.(string)
		if !ok || s == "" {
			return "", false
		}
		return s, true
	}
}

// ItemOrder builds a fetcher.OrderFunc from a block number field and a
// tie-break field (e.g. "blockNumber" and "transactionIndex"). Provider
// JSON carries numbers as decimal strings; unparsable values order as 0.
func ItemOrder(blockField, indexField string) fetcher.OrderFunc {
	return func(it fetcher.Item) (int64, int64) {
		block, _ := itemInt64(it[blockField])
		index, _ := itemInt64(it[indexField])
		return block, index
	}
}

// itemInt64 coerces the number shapes seen in provider payloads.
func itemInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
