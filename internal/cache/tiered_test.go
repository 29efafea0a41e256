package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestCache builds a cache with L1+L3 only (no Redis) over a temp dir.
func newTestCache(t *testing.T) *TieredCache {
	t.Helper()
	c, err := New(Config{
		MaxEntries: 100,
		MaxBytes:   1 << 20,
		DefaultTTL: time.Minute,
		Dir:        t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestTieredCache_SetGetThroughL3(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	// Small entry without a hot pattern lands in L2+L3; with no Redis the
	// read comes back from disk.
	c.Set(ctx, "key", []byte("value"), SetOptions{})

	value, tier, ok := c.Get(ctx, "key")
	require.True(t, ok)
	assert.Equal(t, []byte("value"), value)
	assert.Equal(t, TierL3, tier)
}

func TestTieredCache_TierHintL1(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "hot", []byte("value"), SetOptions{TierHint: TierL1})

	_, tier, ok := c.Get(ctx, "hot")
	require.True(t, ok)
	assert.Equal(t, TierL1, tier)
}

func TestTieredCache_LargeEntriesBypassL1(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	big := make([]byte, largeEntryBytes+1)
	c.Set(ctx, "big", big, SetOptions{})

	_, tier, ok := c.Get(ctx, "big")
	require.True(t, ok)
	assert.Equal(t, TierL3, tier)

	entries, _ := c.l1.stats()
	assert.Zero(t, entries)
}

func TestTieredCache_ExpiredEntryIsMiss(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "short", []byte("v"), SetOptions{TTL: time.Millisecond})
	time.Sleep(10 * time.Millisecond)

	_, _, ok := c.Get(ctx, "short")
	assert.False(t, ok)
}

func TestTieredCache_AccessPatternAccumulates(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "key", []byte("v"), SetOptions{})
	for i := 0; i < 3; i++ {
		_, _, ok := c.Get(ctx, "key")
		require.True(t, ok)
	}

	p := c.patterns.Get("key")
	require.NotNil(t, p)
	assert.Equal(t, int64(3), p.AccessCount)
	assert.Equal(t, []Tier{TierL3}, p.TierHistory)
}

func TestTieredCache_DeleteRemovesEverywhere(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "key", []byte("v"), SetOptions{TierHint: TierL1})
	c.Delete(ctx, "key")

	_, _, ok := c.Get(ctx, "key")
	assert.False(t, ok)
	assert.Nil(t, c.patterns.Get("key"))
}

func TestTieredCache_InvalidateTag(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), SetOptions{Tags: []string{"symbols"}, TierHint: TierL1})
	c.Set(ctx, "b", []byte("2"), SetOptions{Tags: []string{"symbols"}, TierHint: TierL1})
	c.Set(ctx, "c", []byte("3"), SetOptions{Tags: []string{"search"}, TierHint: TierL1})

	n := c.InvalidateTag(ctx, "symbols")
	assert.Equal(t, 2, n)

	_, _, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	_, _, ok = c.Get(ctx, "b")
	assert.False(t, ok)
	_, _, ok = c.Get(ctx, "c")
	assert.True(t, ok)

	// Invalidating a dead tag is a no-op.
	assert.Zero(t, c.InvalidateTag(ctx, "symbols"))
}

func TestTieredCache_InvalidateFile(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "lookup", []byte("1"), SetOptions{
		Tags:     []string{FileTag("/proj/a.go"), TagSymbols},
		TierHint: TierL1,
	})
	c.Set(ctx, "search", []byte("2"), SetOptions{
		Tags:     []string{TagSearch},
		TierHint: TierL1,
	})
	c.Set(ctx, "other", []byte("3"), SetOptions{
		Tags:     []string{FileTag("/proj/b.go")},
		TierHint: TierL1,
	})

	c.InvalidateFile(ctx, "/proj/a.go")

	// Everything derived from the file or from cross-file queries is gone.
	_, _, ok := c.Get(ctx, "lookup")
	assert.False(t, ok)
	_, _, ok = c.Get(ctx, "search")
	assert.False(t, ok)
	// Entries tied only to another file survive.
	_, _, ok = c.Get(ctx, "other")
	assert.True(t, ok)
}

func TestTieredCache_MaintenanceDemotesIdleL1(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "idle", []byte("v"), SetOptions{TierHint: TierL1})

	// Backdate the L1 access time past the demotion window.
	c.l1.mu.Lock()
	for _, el := range c.l1.items {
		el.Value.(*l1Item).lastAccess = time.Now().Add(-2 * time.Hour)
	}
	c.l1.mu.Unlock()

	c.runMaintenance(ctx)

	entries, _ := c.l1.stats()
	assert.Zero(t, entries)

	// Still readable from a lower tier.
	_, tier, ok := c.Get(ctx, "idle")
	require.True(t, ok)
	assert.Equal(t, TierL3, tier)
}

func TestTieredCache_HealthyWithoutRedis(t *testing.T) {
	c := newTestCache(t)
	assert.True(t, c.Healthy(context.Background()))

	stats := c.Stats()
	assert.Equal(t, false, stats["l2_enabled"])
}
