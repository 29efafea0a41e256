package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the tiered cache.
type Config struct {
	// MaxEntries bounds the L1 entry count (default 1000).
	MaxEntries int
	// MaxBytes bounds total L1 bytes (default 100 MiB).
	MaxBytes int64
	// DefaultTTL applies to writes without an explicit TTL.
	DefaultTTL time.Duration
	// RedisURL enables the L2 tier when non-empty.
	RedisURL string
	// Dir is the L3 cache directory.
	Dir string
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// TieredCache is the L1/L2/L3 hierarchy. All errors from tier I/O are
// swallowed after logging; callers observe only hits and misses.
type TieredCache struct {
	l1       *l1Cache
	l2       *l2Tier // nil when Redis is not configured
	l3       *l3Tier
	patterns *PatternTracker

	defaultTTL time.Duration
	logger     *slog.Logger

	// tagIndex tracks keys per tag for entries written by this process.
	// L2 keeps its own tag sets so invalidation also reaches entries
	// written elsewhere.
	tagMu    sync.Mutex
	tagIndex map[string]map[string]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates the cache and starts its maintenance loop.
func New(cfg Config) (*TieredCache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 100 * 1024 * 1024
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	l3, err := newL3Tier(cfg.Dir)
	if err != nil {
		return nil, err
	}

	c := &TieredCache{
		l1:         newL1Cache(cfg.MaxEntries, cfg.MaxBytes),
		l3:         l3,
		patterns:   NewPatternTracker(),
		defaultTTL: cfg.DefaultTTL,
		logger:     cfg.Logger,
		tagIndex:   make(map[string]map[string]struct{}),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			cfg.Logger.Warn("cache_redis_url_invalid", slog.String("error", err.Error()))
		} else {
			c.l2 = newL2Tier(redis.NewClient(opts))
		}
	}

	go c.maintenanceLoop()
	return c, nil
}

// Get walks the tiers top down. A hit records the access pattern and may
// promote the entry; any tier error counts as a miss for that tier only.
func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, Tier, bool) {
	if entry, ok := c.l1.get(key); ok {
		c.patterns.Record(key, entry.SizeBytes(), TierL1)
		return entry.Value, TierL1, true
	}

	if c.l2 != nil {
		entry, err := c.l2.get(ctx, key)
		if err != nil {
			c.logger.Debug("cache_l2_error", slog.String("key", key), slog.String("error", err.Error()))
		} else if entry != nil && !entry.Expired(time.Now()) {
			pattern := c.patterns.Record(key, entry.SizeBytes(), TierL2)
			c.maybePromoteToL1(entry, pattern)
			return entry.Value, TierL2, true
		}
	}

	entry, err := c.l3.get(key)
	if err != nil {
		c.logger.Debug("cache_l3_error", slog.String("key", key), slog.String("error", err.Error()))
		return nil, "", false
	}
	if entry == nil {
		return nil, "", false
	}
	pattern := c.patterns.Record(key, entry.SizeBytes(), TierL3)
	c.maybePromoteToL2(ctx, entry, pattern)
	return entry.Value, TierL3, true
}

// Set places the value according to the (size, frequency) table, or the
// caller's tier hint. Each tier write is independent; partial success is
// acceptable.
func (c *TieredCache) Set(ctx context.Context, key string, value []byte, opts SetOptions) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()
	entry := &Entry{
		Key:       key,
		Value:     value,
		Tags:      opts.Tags,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	c.indexTags(entry)

	tiers := c.placement(entry, opts.TierHint)
	for _, tier := range tiers {
		switch tier {
		case TierL1:
			c.setL1(entry)
		case TierL2:
			if c.l2 != nil {
				if err := c.l2.set(ctx, entry, ttl); err != nil {
					c.logger.Debug("cache_l2_set_error", slog.String("key", key), slog.String("error", err.Error()))
				}
			}
		case TierL3:
			if err := c.l3.set(entry); err != nil {
				c.logger.Debug("cache_l3_set_error", slog.String("key", key), slog.String("error", err.Error()))
			}
		}
	}
}

// placement implements the SET protocol table.
func (c *TieredCache) placement(entry *Entry, hint Tier) []Tier {
	if hint != "" {
		switch hint {
		case TierL1:
			return []Tier{TierL1, TierL2, TierL3}
		case TierL2:
			return []Tier{TierL2, TierL3}
		default:
			return []Tier{TierL3}
		}
	}

	size := entry.SizeBytes()
	hot := false
	if p := c.patterns.Get(entry.Key); p != nil {
		hot = p.Frequency(time.Now()) > hotFrequencyPerHour
	}

	switch {
	case size > largeEntryBytes:
		return []Tier{TierL3}
	case size >= smallEntryBytes:
		return []Tier{TierL2, TierL3}
	case hot:
		return []Tier{TierL1, TierL2, TierL3}
	default:
		return []Tier{TierL2, TierL3}
	}
}

// Delete removes the key from every tier.
func (c *TieredCache) Delete(ctx context.Context, key string) {
	c.l1.delete(key)
	if c.l2 != nil {
		if err := c.l2.delete(ctx, key); err != nil {
			c.logger.Debug("cache_l2_delete_error", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	if err := c.l3.delete(key); err != nil {
		c.logger.Debug("cache_l3_delete_error", slog.String("key", key), slog.String("error", err.Error()))
	}
	c.patterns.Forget(key)
}

// InvalidateTag removes every entry carrying the tag, across all tiers.
func (c *TieredCache) InvalidateTag(ctx context.Context, tag string) int {
	keys := make(map[string]struct{})

	c.tagMu.Lock()
	for key := range c.tagIndex[tag] {
		keys[key] = struct{}{}
	}
	delete(c.tagIndex, tag)
	c.tagMu.Unlock()

	if c.l2 != nil {
		if members, err := c.l2.tagMembers(ctx, tag); err == nil {
			for _, key := range members {
				keys[key] = struct{}{}
			}
			_ = c.l2.dropTag(ctx, tag)
		}
	}

	for key := range keys {
		c.Delete(ctx, key)
	}
	return len(keys)
}

// InvalidateFile invalidates everything derived from a source file: the
// file's own tag plus the symbols and search tags.
func (c *TieredCache) InvalidateFile(ctx context.Context, path string) int {
	n := c.InvalidateTag(ctx, FileTag(path))
	n += c.InvalidateTag(ctx, TagSymbols)
	n += c.InvalidateTag(ctx, TagSearch)
	return n
}

// Stats reports tier occupancy for health checks.
func (c *TieredCache) Stats() map[string]any {
	entries, bytes := c.l1.stats()
	return map[string]any{
		"l1_entries":  entries,
		"l1_bytes":    bytes,
		"l2_enabled":  c.l2 != nil,
		"patterns":    c.patterns.Len(),
		"default_ttl": c.defaultTTL.String(),
	}
}

// Healthy reports whether the L2 backend is reachable. Always true when
// L2 is not configured, since the cache degrades to L1+L3.
func (c *TieredCache) Healthy(ctx context.Context) bool {
	if c.l2 == nil {
		return true
	}
	return c.l2.ping(ctx) == nil
}

// Close stops the maintenance loop. Idempotent.
func (c *TieredCache) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
}

// setL1 inserts into L1 with pattern-driven eviction scoring.
func (c *TieredCache) setL1(entry *Entry) {
	now := time.Now()
	evicted := c.l1.set(entry, func(key string, size int64, lastAccess time.Time) float64 {
		p := c.patterns.Get(key)
		if p == nil {
			// No recorded pattern: lowest priority.
			return 0
		}
		age := now.Sub(p.LastAccess).Seconds()
		if age < 1 {
			age = 1
		}
		sizeKB := float64(size) / 1024
		if sizeKB < 1 {
			sizeKB = 1
		}
		return p.Frequency(now) * (1 / age) / sizeKB
	})
	for _, key := range evicted {
		c.logger.Debug("cache_l1_evict", slog.String("key", key))
	}
}

// maybePromoteToL1 promotes a hot L2 hit into L1.
func (c *TieredCache) maybePromoteToL1(entry *Entry, pattern *AccessPattern) {
	if pattern.Frequency(time.Now()) > l1PromoteFrequencyPerHour {
		c.setL1(entry)
	}
}

// maybePromoteToL2 promotes a repeatedly read L3 hit into L2.
func (c *TieredCache) maybePromoteToL2(ctx context.Context, entry *Entry, pattern *AccessPattern) {
	if c.l2 == nil || pattern.AccessCount < l2PromoteAccessCount {
		return
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if err := c.l2.set(ctx, entry, ttl); err != nil {
		c.logger.Debug("cache_promote_error", slog.String("key", entry.Key), slog.String("error", err.Error()))
	}
}

// indexTags records the entry's tags in the in-process index.
func (c *TieredCache) indexTags(entry *Entry) {
	if len(entry.Tags) == 0 {
		return
	}
	c.tagMu.Lock()
	defer c.tagMu.Unlock()
	for _, tag := range entry.Tags {
		if c.tagIndex[tag] == nil {
			c.tagIndex[tag] = make(map[string]struct{})
		}
		c.tagIndex[tag][entry.Key] = struct{}{}
	}
}

// maintenanceLoop purges expired L3 files, discards stale access
// patterns, and demotes idle L1 entries.
func (c *TieredCache) maintenanceLoop() {
	defer close(c.doneCh)
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.runMaintenance(context.Background())
		}
	}
}

// runMaintenance executes one maintenance pass.
func (c *TieredCache) runMaintenance(ctx context.Context) {
	purged := c.l3.purge()
	stale := c.patterns.EvictStale(patternMaxAge)

	// Demote L1 entries unused for over an hour: ensure an L2 copy
	// exists, then drop from L1.
	demoted := 0
	for _, key := range c.l1.idleKeys(time.Now().Add(-l1IdleDemotion)) {
		entry, ok := c.l1.peek(key)
		if !ok {
			continue
		}
		if c.l2 != nil {
			if ttl := time.Until(entry.ExpiresAt); ttl > 0 {
				if err := c.l2.set(ctx, entry, ttl); err != nil {
					continue
				}
			}
		}
		c.l1.delete(key)
		demoted++
	}

	if purged > 0 || stale > 0 || demoted > 0 {
		c.logger.Debug("cache_maintenance",
			slog.Int("l3_purged", purged),
			slog.Int("patterns_evicted", stale),
			slog.Int("l1_demoted", demoted))
	}
}
