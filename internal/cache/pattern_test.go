package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternTracker_RecordAndFrequency(t *testing.T) {
	tracker := NewPatternTracker()
	base := time.Now()
	tracker.now = func() time.Time { return base }

	var p *AccessPattern
	for i := 0; i < 6; i++ {
		p = tracker.Record("key", 100, TierL2)
	}
	require.NotNil(t, p)
	assert.Equal(t, int64(6), p.AccessCount)
	assert.Equal(t, int64(100), p.SizeBytes)

	// Elapsed time is clamped to one minute, so six immediate accesses
	// read as 6 per minute = 360 per hour.
	assert.InDelta(t, 360.0, p.Frequency(base), 0.01)

	// An hour later the same six accesses are ~6/h.
	assert.InDelta(t, 6.0, p.Frequency(base.Add(time.Hour)), 0.2)
}

func TestPatternTracker_TierHistoryDeduplicates(t *testing.T) {
	tracker := NewPatternTracker()

	tracker.Record("key", 0, TierL3)
	tracker.Record("key", 0, TierL3)
	tracker.Record("key", 0, TierL2)
	p := tracker.Record("key", 0, TierL1)

	assert.Equal(t, []Tier{TierL3, TierL2, TierL1}, p.TierHistory)
}

func TestPatternTracker_EvictStale(t *testing.T) {
	tracker := NewPatternTracker()
	base := time.Now()

	tracker.now = func() time.Time { return base.Add(-48 * time.Hour) }
	tracker.Record("old", 0, TierL1)

	tracker.now = func() time.Time { return base }
	tracker.Record("fresh", 0, TierL1)

	removed := tracker.EvictStale(24 * time.Hour)
	assert.Equal(t, 1, removed)
	assert.Nil(t, tracker.Get("old"))
	assert.NotNil(t, tracker.Get("fresh"))
}

func TestPatternTracker_Forget(t *testing.T) {
	tracker := NewPatternTracker()
	tracker.Record("key", 0, TierL1)
	tracker.Forget("key")
	assert.Nil(t, tracker.Get("key"))
	assert.Zero(t, tracker.Len())
}
