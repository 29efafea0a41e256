package cache

import (
	"container/list"
	"sync"
	"time"
)

// l1Item is a resident L1 entry with its recency bookkeeping.
type l1Item struct {
	entry      *Entry
	size       int64
	lastAccess time.Time
}

// l1Cache is the in-memory tier: an ordered map bounded by entry count
// and total bytes. A single mutex protects the map and the byte counter;
// no I/O happens under the lock.
type l1Cache struct {
	mu         sync.Mutex
	order      *list.List // front = most recently used
	items      map[string]*list.Element
	totalBytes int64
	maxEntries int
	maxBytes   int64
	now        func() time.Time
}

func newL1Cache(maxEntries int, maxBytes int64) *l1Cache {
	return &l1Cache{
		order:      list.New(),
		items:      make(map[string]*list.Element),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		now:        time.Now,
	}
}

// get returns the entry and moves it to the most-recently-used position.
func (c *l1Cache) get(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	item := el.Value.(*l1Item)
	if item.entry.Expired(c.now()) {
		c.removeElement(el)
		return nil, false
	}
	item.lastAccess = c.now()
	item.entry.AccessCount++
	c.order.MoveToFront(el)
	return item.entry, true
}

// set inserts or replaces an entry. Returns the keys evicted to stay
// within bounds; the caller scores candidates through scoreFn.
func (c *l1Cache) set(entry *Entry, scoreFn func(key string, size int64, lastAccess time.Time) float64) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := entry.SizeBytes()
	if el, ok := c.items[entry.Key]; ok {
		c.removeElement(el)
	}

	el := c.order.PushFront(&l1Item{entry: entry, size: size, lastAccess: c.now()})
	c.items[entry.Key] = el
	c.totalBytes += size

	if len(c.items) <= c.maxEntries && c.totalBytes <= c.maxBytes {
		return nil
	}
	return c.evictLocked(scoreFn)
}

// evictLocked drops the lowest-scoring 10% of entries (at least one) and
// keeps dropping until both bounds hold. Caller holds the mutex.
func (c *l1Cache) evictLocked(scoreFn func(key string, size int64, lastAccess time.Time) float64) []string {
	type scored struct {
		el    *list.Element
		score float64
	}
	candidates := make([]scored, 0, len(c.items))
	for _, el := range c.items {
		item := el.Value.(*l1Item)
		candidates = append(candidates, scored{el: el, score: scoreFn(item.entry.Key, item.size, item.lastAccess)})
	}

	// Selection by repeated minimum; eviction batches are small.
	target := len(candidates) / 10
	if target < 1 {
		target = 1
	}

	var evicted []string
	for len(evicted) < target || len(c.items) > c.maxEntries || c.totalBytes > c.maxBytes {
		lowest := -1
		for i := range candidates {
			if candidates[i].el == nil {
				continue
			}
			if lowest == -1 || candidates[i].score < candidates[lowest].score {
				lowest = i
			}
		}
		if lowest == -1 {
			break
		}
		item := candidates[lowest].el.Value.(*l1Item)
		evicted = append(evicted, item.entry.Key)
		c.removeElement(candidates[lowest].el)
		candidates[lowest].el = nil
	}
	return evicted
}

// delete removes an entry if present.
func (c *l1Cache) delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// idleKeys returns keys not accessed since the cutoff.
func (c *l1Cache) idleKeys(cutoff time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for key, el := range c.items {
		if el.Value.(*l1Item).lastAccess.Before(cutoff) {
			keys = append(keys, key)
		}
	}
	return keys
}

// peek returns an entry without recency side effects.
func (c *l1Cache) peek(key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*l1Item).entry, true
}

// stats returns the current entry count and byte total.
func (c *l1Cache) stats() (entries int, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items), c.totalBytes
}

// keys returns all resident keys.
func (c *l1Cache) keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for k := range c.items {
		keys = append(keys, k)
	}
	return keys
}

func (c *l1Cache) removeElement(el *list.Element) {
	item := el.Value.(*l1Item)
	c.order.Remove(el)
	delete(c.items, item.entry.Key)
	c.totalBytes -= item.size
}
