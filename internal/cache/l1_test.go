package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flatScore treats every entry equally so eviction order is driven by
// the bounds alone.
func flatScore(string, int64, time.Time) float64 { return 1 }

func TestL1_GetSetDelete(t *testing.T) {
	c := newL1Cache(10, 1<<20)

	entry := &Entry{Key: "k", Value: []byte("v"), ExpiresAt: time.Now().Add(time.Minute)}
	evicted := c.set(entry, flatScore)
	assert.Empty(t, evicted)

	got, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got.Value)
	assert.Equal(t, int64(1), got.AccessCount)

	assert.True(t, c.delete("k"))
	_, ok = c.get("k")
	assert.False(t, ok)
	assert.False(t, c.delete("k"))
}

func TestL1_ExpiredEntriesAreMisses(t *testing.T) {
	c := newL1Cache(10, 1<<20)
	c.set(&Entry{Key: "old", Value: []byte("v"), ExpiresAt: time.Now().Add(-time.Second)}, flatScore)

	_, ok := c.get("old")
	assert.False(t, ok)

	// The expired entry was removed, not just hidden.
	entries, _ := c.stats()
	assert.Zero(t, entries)
}

func TestL1_EntryCountBound(t *testing.T) {
	c := newL1Cache(5, 1<<20)

	for i := 0; i < 20; i++ {
		c.set(&Entry{Key: fmt.Sprintf("k%02d", i), Value: []byte("v")}, flatScore)
	}

	entries, _ := c.stats()
	assert.LessOrEqual(t, entries, 5)
}

func TestL1_ByteBound(t *testing.T) {
	payload := make([]byte, 1024)
	c := newL1Cache(1000, 4*1024)

	for i := 0; i < 16; i++ {
		c.set(&Entry{Key: fmt.Sprintf("k%02d", i), Value: payload}, flatScore)
	}

	entries, bytes := c.stats()
	assert.LessOrEqual(t, bytes, int64(4*1024))
	assert.Greater(t, entries, 0)
}

func TestL1_EvictsLowestScoredFirst(t *testing.T) {
	c := newL1Cache(3, 1<<20)

	scores := map[string]float64{"cold": 0.1, "warm": 1, "hot": 10, "new": 5}
	scoreFn := func(key string, _ int64, _ time.Time) float64 { return scores[key] }

	c.set(&Entry{Key: "cold", Value: []byte("v")}, scoreFn)
	c.set(&Entry{Key: "warm", Value: []byte("v")}, scoreFn)
	c.set(&Entry{Key: "hot", Value: []byte("v")}, scoreFn)

	evicted := c.set(&Entry{Key: "new", Value: []byte("v")}, scoreFn)
	require.Equal(t, []string{"cold"}, evicted)

	_, ok := c.get("hot")
	assert.True(t, ok)
	_, ok = c.get("cold")
	assert.False(t, ok)
}

func TestL1_ReplaceDoesNotLeakBytes(t *testing.T) {
	c := newL1Cache(10, 1<<20)

	c.set(&Entry{Key: "k", Value: make([]byte, 1000)}, flatScore)
	c.set(&Entry{Key: "k", Value: make([]byte, 10)}, flatScore)

	entries, bytes := c.stats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, int64(len("k")+10), bytes)
}

func TestL1_IdleKeys(t *testing.T) {
	c := newL1Cache(10, 1<<20)
	c.set(&Entry{Key: "a", Value: []byte("v")}, flatScore)

	assert.Empty(t, c.idleKeys(time.Now().Add(-time.Minute)))
	assert.Equal(t, []string{"a"}, c.idleKeys(time.Now().Add(time.Minute)))
}
