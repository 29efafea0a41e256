package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// QueryType identifies a cacheable query class.
type QueryType string

const (
	QuerySymbolLookup   QueryType = "SYMBOL_LOOKUP"
	QuerySearch         QueryType = "SEARCH"
	QuerySemanticSearch QueryType = "SEMANTIC_SEARCH"
	QueryFileSymbols    QueryType = "FILE_SYMBOLS"
	QueryProjectStatus  QueryType = "PROJECT_STATUS"
)

// Well-known invalidation tags.
const (
	TagSymbols = "symbols"
	TagSearch  = "search"
	TagStatus  = "status"
)

// FileTag returns the per-file invalidation tag.
func FileTag(path string) string {
	return "file:" + path
}

// ttlByType holds per-query-type TTLs.
var ttlByType = map[QueryType]time.Duration{
	QuerySymbolLookup:   30 * time.Minute,
	QuerySearch:         10 * time.Minute,
	QuerySemanticSearch: 15 * time.Minute,
	QueryFileSymbols:    30 * time.Minute,
	QueryProjectStatus:  time.Minute,
}

// TTLFor returns the TTL for a query type, falling back to the search TTL.
func TTLFor(qt QueryType) time.Duration {
	if ttl, ok := ttlByType[qt]; ok {
		return ttl
	}
	return ttlByType[QuerySearch]
}

// QueryKey builds the canonical cache key for (query_type, params).
// Parameters are sorted by name so equal queries always collide.
func QueryKey(qt QueryType, params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(string(qt))
	for _, name := range names {
		fmt.Fprintf(&b, "|%s=%s", name, params[name])
	}
	return b.String()
}

// QueryCache is the thin query-result layer over the tiered cache.
type QueryCache struct {
	cache *TieredCache
}

// NewQueryCache wraps a tiered cache.
func NewQueryCache(c *TieredCache) *QueryCache {
	return &QueryCache{cache: c}
}

// Get returns the cached result bytes for a query, if present.
func (q *QueryCache) Get(ctx context.Context, qt QueryType, params map[string]string) ([]byte, bool) {
	value, _, ok := q.cache.Get(ctx, QueryKey(qt, params))
	return value, ok
}

// Set stores a query result with the type's TTL and the given tags.
func (q *QueryCache) Set(ctx context.Context, qt QueryType, params map[string]string, value []byte, tags []string) {
	q.cache.Set(ctx, QueryKey(qt, params), value, SetOptions{
		TTL:  TTLFor(qt),
		Tags: tags,
	})
}

// InvalidateFile removes every entry derived from a source file.
func (q *QueryCache) InvalidateFile(ctx context.Context, path string) int {
	return q.cache.InvalidateFile(ctx, path)
}

// InvalidateTag removes every entry carrying the tag.
func (q *QueryCache) InvalidateTag(ctx context.Context, tag string) int {
	return q.cache.InvalidateTag(ctx, tag)
}

// Stats exposes the underlying tier statistics.
func (q *QueryCache) Stats() map[string]any {
	return q.cache.Stats()
}

// Healthy reports whether all configured tiers are reachable.
func (q *QueryCache) Healthy(ctx context.Context) bool {
	return q.cache.Healthy(ctx)
}

// Close stops the underlying cache maintenance loop.
func (q *QueryCache) Close() {
	q.cache.Close()
}

// Cached wraps a computation with the lookup -> compute -> store
// protocol. Cache failures are invisible: a lookup error falls through
// to compute, and a store error is ignored. The caller cannot tell from
// the result whether the cache was used.
func (q *QueryCache) Cached(ctx context.Context, qt QueryType, params map[string]string, tags []string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if value, ok := q.Get(ctx, qt, params); ok {
		return value, nil
	}
	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	q.Set(ctx, qt, params, value, tags)
	return value, nil
}
