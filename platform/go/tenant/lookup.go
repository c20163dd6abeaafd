package tenant

import (
	"context"
	"sync"
	"time"
)

// Lookup reads tenant routing records from the central database.
// Implementations return ErrTenantNotFound when no record matches.
type Lookup interface {
	FindByID(ctx context.Context, id string) (Record, error)
	FindByDomain(ctx context.Context, domain string) (Record, error)
}

// Invalidator fans cache invalidations out to other processes.
type Invalidator interface {
	Publish(ctx context.Context, keys []string) error
}

// MemoryCache is a goroutine-safe TTL cache of tenant records.
type MemoryCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]cacheItem
	now   func() time.Time
}

type cacheItem struct {
	rec       Record
	expiresAt time.Time
}

// NewMemoryCache returns a cache whose entries live for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, items: make(map[string]cacheItem), now: time.Now}
}

func (c *MemoryCache) Get(key string) (Record, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || c.now().After(item.expiresAt) {
		return Record{}, false
	}
	return item.rec, true
}

func (c *MemoryCache) Set(key string, rec Record) {
	c.mu.Lock()
	c.items[key] = cacheItem{rec: rec, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) Delete(keys ...string) {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.items, key)
	}
	c.mu.Unlock()
}

// IDKey and DomainKey name cache entries.
func IDKey(id string) string         { return "id:" + id }
func DomainKey(domain string) string { return "domain:" + NormalizeHost(domain) }

// CachedLookup decorates a Lookup with a MemoryCache. Misses are never cached so a
// freshly provisioned tenant is visible on the next request.
type CachedLookup struct {
	next        Lookup
	cache       *MemoryCache
	invalidator Invalidator
}

// NewCachedLookup wraps next. invalidator may be nil.
func NewCachedLookup(next Lookup, cache *MemoryCache, invalidator Invalidator) *CachedLookup {
	if next == nil {
		panic("cached lookup requires next lookup")
	}
	if cache == nil {
		panic("cached lookup requires cache")
	}
	return &CachedLookup{next: next, cache: cache, invalidator: invalidator}
}

func (l *CachedLookup) FindByID(ctx context.Context, id string) (Record, error) {
	key := IDKey(id)
	if rec, ok := l.cache.Get(key); ok {
		return rec, nil
	}
	rec, err := l.next.FindByID(ctx, id)
	if err != nil {
		return Record{}, err
	}
	l.cache.Set(key, rec)
	return rec, nil
}

func (l *CachedLookup) FindByDomain(ctx context.Context, domain string) (Record, error) {
	key := DomainKey(domain)
	if rec, ok := l.cache.Get(key); ok {
		return rec, nil
	}
	rec, err := l.next.FindByDomain(ctx, NormalizeHost(domain))
	if err != nil {
		return Record{}, err
	}
	l.cache.Set(key, rec)
	return rec, nil
}

// Invalidate drops the tenant and the given domains locally and, when configured,
// in every other process sharing the invalidator.
func (l *CachedLookup) Invalidate(ctx context.Context, tenantID string, domains ...string) error {
	keys := make([]string, 0, len(domains)+1)
	keys = append(keys, IDKey(tenantID))
	for _, d := range domains {
		keys = append(keys, DomainKey(d))
	}
	l.cache.Delete(keys...)
	if l.invalidator == nil {
		return nil
	}
	return l.invalidator.Publish(ctx, keys)
}
