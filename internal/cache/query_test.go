package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryKey_Deterministic(t *testing.T) {
	a := QueryKey(QuerySearch, map[string]string{"query": "foo", "limit": "20"})
	b := QueryKey(QuerySearch, map[string]string{"limit": "20", "query": "foo"})
	assert.Equal(t, a, b, "parameter order must not change the key")

	assert.Equal(t, "SEARCH|limit=20|query=foo", a)

	// Different params or type yield different keys.
	assert.NotEqual(t, a, QueryKey(QuerySearch, map[string]string{"query": "bar", "limit": "20"}))
	assert.NotEqual(t, a, QueryKey(QuerySymbolLookup, map[string]string{"query": "foo", "limit": "20"}))
}

func TestTTLFor(t *testing.T) {
	assert.Equal(t, 30*time.Minute, TTLFor(QuerySymbolLookup))
	assert.Equal(t, 10*time.Minute, TTLFor(QuerySearch))
	assert.Equal(t, time.Minute, TTLFor(QueryProjectStatus))
	// Unknown types fall back to the search TTL.
	assert.Equal(t, 10*time.Minute, TTLFor(QueryType("UNKNOWN")))
}

func TestQueryCache_Cached(t *testing.T) {
	qc := NewQueryCache(newTestCache(t))
	ctx := context.Background()
	params := map[string]string{"symbol": "ParseConfig"}

	calls := 0
	compute := func(context.Context) ([]byte, error) {
		calls++
		return []byte("result"), nil
	}

	value, err := qc.Cached(ctx, QuerySymbolLookup, params, []string{TagSymbols}, compute)
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), value)
	assert.Equal(t, 1, calls)

	// Second call is served from the cache.
	value, err = qc.Cached(ctx, QuerySymbolLookup, params, []string{TagSymbols}, compute)
	require.NoError(t, err)
	assert.Equal(t, []byte("result"), value)
	assert.Equal(t, 1, calls)

	// Invalidation forces a recompute.
	qc.InvalidateTag(ctx, TagSymbols)
	_, err = qc.Cached(ctx, QuerySymbolLookup, params, []string{TagSymbols}, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestQueryCache_ComputeErrorsAreNotCached(t *testing.T) {
	qc := NewQueryCache(newTestCache(t))
	ctx := context.Background()
	params := map[string]string{"query": "x"}

	boom := errors.New("backend down")
	_, err := qc.Cached(ctx, QuerySearch, params, nil, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	// The failure was not stored; the next call computes again.
	value, err := qc.Cached(ctx, QuerySearch, params, nil, func(context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), value)
}
