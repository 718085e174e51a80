package traffic

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/nasguard/pkg/models"
)

// MetadataLoader batch-loads subscriber metadata from durable storage.
// Ids that no longer exist are omitted from the result.
type MetadataLoader interface {
	LoadSubscriberMeta(ctx context.Context, ids []string) (map[string]models.SubscriberMeta, error)
}

type cacheEntry struct {
	meta    models.SubscriberMeta
	expires time.Time
}

// MetadataCache is a bounded, TTL-expiring cache of subscriber metadata
// shared by every device worker. Entries are keyed by subscriber id and
// concurrent refreshes of the same id are last-write-wins.
type MetadataCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	size    int
	now     func() time.Time
}

// NewMetadataCache returns a cache holding at most size entries for ttl.
func NewMetadataCache(ttl time.Duration, size int) *MetadataCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if size <= 0 {
		size = 10000
	}
	return &MetadataCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		size:    size,
		now:     time.Now,
	}
}

// Lookup returns the fresh entries for ids and the ids that must be loaded.
func (c *MetadataCache) Lookup(ids []string) (hits map[string]models.SubscriberMeta, misses []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	hits = make(map[string]models.SubscriberMeta, len(ids))
	for _, id := range ids {
		if _, dup := hits[id]; dup {
			continue
		}
		e, ok := c.entries[id]
		if !ok || !now.Before(e.expires) {
			misses = append(misses, id)
			continue
		}
		hits[id] = e.meta
	}
	return hits, misses
}

// Put stores metas, evicting expired entries and then the entries closest
// to expiry when the cache is full.
func (c *MetadataCache) Put(metas ...models.SubscriberMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, m := range metas {
		if _, exists := c.entries[m.ID]; !exists && len(c.entries) >= c.size {
			c.evictLocked(now)
		}
		c.entries[m.ID] = cacheEntry{meta: m, expires: now.Add(c.ttl)}
	}
}

// Invalidate drops ids so the next lookup reloads them.
func (c *MetadataCache) Invalidate(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.entries, id)
	}
}

// Len returns the number of cached entries, fresh or not.
func (c *MetadataCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MetadataCache) evictLocked(now time.Time) {
	for id, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, id)
		}
	}
	if len(c.entries) < c.size {
		return
	}
	var oldestID string
	var oldest time.Time
	for id, e := range c.entries {
		if oldestID == "" || e.expires.Before(oldest) {
			oldestID, oldest = id, e.expires
		}
	}
	delete(c.entries, oldestID)
}
