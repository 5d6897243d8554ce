package cache

import (
	"fmt"
	"strings"
)

// PageKey identifies one provider page response in the cache.
type PageKey struct {
	// Name is the dataset name (e.g. "txlist", "tokentx").
	Name string

	// StartBlock and EndBlock are the queried range bounds.
	StartBlock int64
	EndBlock   int64

	// Page is the page number (0 for range queries).
	Page int

	// Offset is the requested page size (0 for range queries).
	Offset int
}

// String generates a deterministic cache key string.
// Format: chainfetch:page:name:start-end:page=N:offset=M
//
// Example:
//
//	chainfetch:page:txlist:1000000-1050000:page=3:offset=1000
func (k PageKey) String() string {
	parts := []string{"chainfetch", "page"}

	name := strings.TrimSpace(k.Name)
	if name != "" {
		parts = append(parts, name)
	}
	parts = append(parts, fmt.Sprintf("%d-%d", k.StartBlock, k.EndBlock))

	if k.Page > 0 {
		parts = append(parts, fmt.Sprintf("page=%d", k.Page))
	}
	if k.Offset > 0 {
		parts = append(parts, fmt.Sprintf("offset=%d", k.Offset))
	}

	return strings.Join(parts, ":")
}
