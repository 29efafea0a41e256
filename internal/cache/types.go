// Package cache implements the multi-tier query cache: a bounded
// in-memory L1, a Redis-backed L2, and a disk-backed L3, with
// access-pattern-driven promotion and tag-based invalidation.
//
// Cache failures are never fatal: any tier error is logged and treated
// as a miss for that tier only.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Tier identifies a cache level.
type Tier string

const (
	TierL1 Tier = "l1"
	TierL2 Tier = "l2"
	TierL3 Tier = "l3"
)

// Placement thresholds for writes and promotions.
const (
	// smallEntryBytes is the ceiling below which hot entries may enter L1.
	smallEntryBytes = 50 * 1024
	// largeEntryBytes is the ceiling above which entries go to L3 only.
	largeEntryBytes = 5 * 1024 * 1024

	// hotFrequencyPerHour marks a key hot for placement.
	hotFrequencyPerHour = 5.0
	// l1PromoteFrequencyPerHour promotes an L2 hit into L1.
	l1PromoteFrequencyPerHour = 10.0
	// l2PromoteAccessCount promotes an L3 hit into L2.
	l2PromoteAccessCount = 3

	// maintenanceInterval is the background loop period.
	maintenanceInterval = 5 * time.Minute
	// patternMaxAge is how long an idle access pattern survives.
	patternMaxAge = 24 * time.Hour
	// l1IdleDemotion is how long an L1 entry may sit unused before it is
	// demoted to L2.
	l1IdleDemotion = time.Hour
)

// Entry is the value type shared by all tiers: an opaque payload plus
// metadata.
type Entry struct {
	Key         string    `json:"key"`
	Value       []byte    `json:"value"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"` // zero means no expiry
	AccessCount int64     `json:"access_count"`
}

// Expired reports whether the entry's TTL has passed.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// SizeBytes estimates the entry's memory footprint.
func (e *Entry) SizeBytes() int64 {
	size := int64(len(e.Key)) + int64(len(e.Value))
	for _, t := range e.Tags {
		size += int64(len(t))
	}
	return size
}

// SetOptions configures a cache write.
type SetOptions struct {
	// TTL overrides the cache default when positive.
	TTL time.Duration
	// Tags label the entry for invalidation.
	Tags []string
	// TierHint, when non-empty, overrides the placement heuristic.
	TierHint Tier
}

// keyHash returns the hex SHA-256 of a cache key, used for L3 file
// naming and sharding.
func keyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
