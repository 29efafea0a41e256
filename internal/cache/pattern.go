package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// patternTableSize bounds the access pattern sidecar table.
const patternTableSize = 4096

// AccessPattern is the per-key sidecar used to guide promotion and
// eviction decisions. Decisions read from the pattern, never from the
// entry itself.
type AccessPattern struct {
	Key         string
	AccessCount int64
	FirstAccess time.Time
	LastAccess  time.Time
	SizeBytes   int64
	TierHistory []Tier
}

// Frequency returns accesses per hour over the pattern's lifetime.
func (p *AccessPattern) Frequency(now time.Time) float64 {
	elapsed := now.Sub(p.FirstAccess)
	if elapsed < time.Minute {
		elapsed = time.Minute
	}
	return float64(p.AccessCount) / elapsed.Hours()
}

// PatternTracker records access patterns in an LRU-bounded table.
type PatternTracker struct {
	mu       sync.Mutex
	patterns *lru.Cache[string, *AccessPattern]
	now      func() time.Time
}

// NewPatternTracker creates an empty tracker.
func NewPatternTracker() *PatternTracker {
	patterns, _ := lru.New[string, *AccessPattern](patternTableSize)
	return &PatternTracker{patterns: patterns, now: time.Now}
}

// Record notes an access to key at the given tier.
func (t *PatternTracker) Record(key string, size int64, tier Tier) *AccessPattern {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	p, ok := t.patterns.Get(key)
	if !ok {
		p = &AccessPattern{Key: key, FirstAccess: now}
		t.patterns.Add(key, p)
	}
	p.AccessCount++
	p.LastAccess = now
	if size > 0 {
		p.SizeBytes = size
	}
	if n := len(p.TierHistory); n == 0 || p.TierHistory[n-1] != tier {
		p.TierHistory = append(p.TierHistory, tier)
	}
	return p
}

// Get returns the pattern for key, or nil if none exists.
func (t *PatternTracker) Get(key string) *AccessPattern {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, _ := t.patterns.Get(key)
	return p
}

// Forget drops the pattern for key.
func (t *PatternTracker) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.patterns.Remove(key)
}

// EvictStale removes patterns idle longer than maxAge. Returns the
// number removed.
func (t *PatternTracker) EvictStale(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	removed := 0
	for _, key := range t.patterns.Keys() {
		if p, ok := t.patterns.Peek(key); ok && p.LastAccess.Before(cutoff) {
			t.patterns.Remove(key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked patterns.
func (t *PatternTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.patterns.Len()
}
