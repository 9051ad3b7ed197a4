package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Item is a cached value with the time it was last written.
type Item[V any] struct {
	Value     V
	StoredAt  time.Time
	ExpiresAt time.Time
}

func (item Item[V]) expired(now time.Time) bool {
	return !item.ExpiresAt.IsZero() && !now.Before(item.ExpiresAt)
}

// Cache is a thread-safe TTL map. Expired entries are invisible to reads
// and dropped by Sweep or the background janitor.
type Cache[V any] struct {
	mu         sync.RWMutex
	items      map[string]Item[V]
	defaultTTL time.Duration
	now        func() time.Time
}

type Option[V any] func(*Cache[V])

// WithClock replaces time.Now, mostly for tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

func New[V any](defaultTTL time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		items:      make(map[string]Item[V]),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache[V]) Get(key string) (V, bool) {
	item, ok := c.Lookup(key)
	return item.Value, ok
}

// Lookup returns the full entry so callers can inspect StoredAt.
func (c *Cache[V]) Lookup(key string) (Item[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok || item.expired(c.now()) {
		return Item[V]{}, false
	}
	return item, true
}

func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value; ttl <= 0 never expires.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	item := Item[V]{Value: value, StoredAt: now}
	if ttl > 0 {
		item.ExpiresAt = now.Add(ttl)
	}
	c.items[key] = item
}

// Update applies fn to the current value (zero if absent) under the lock.
func (c *Cache[V]) Update(key string, fn func(V, bool) V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cur, ok := c.items[key]
	if ok && cur.expired(now) {
		ok = false
		cur = Item[V]{}
	}
	next := Item[V]{Value: fn(cur.Value, ok), StoredAt: now}
	if c.defaultTTL > 0 {
		next.ExpiresAt = now.Add(c.defaultTTL)
	}
	c.items[key] = next
	return next.Value
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Items returns a snapshot of live entries whose key starts with prefix.
func (c *Cache[V]) Items(prefix string) map[string]Item[V] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	out := make(map[string]Item[V])
	for k, item := range c.items {
		if item.expired(now) || !strings.HasPrefix(k, prefix) {
			continue
		}
		out[k] = item
	}
	return out
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, item := range c.items {
		if item.expired(now) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Janitor sweeps every interval until ctx is done.
func (c *Cache[V]) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
