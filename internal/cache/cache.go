package cache

import (
	"context"
	"sync"

	"github.com/loykin/agentsync/internal/metrics"
	"github.com/loykin/agentsync/internal/status"
	"github.com/loykin/agentsync/internal/store"
)

// Cache is a read-through, write-through view of a Store private to one
// process. Entries never expire; only Delete, Clear and Refresh change them.
type Cache struct {
	st      store.Store
	mu      sync.RWMutex
	entries map[string]status.Record
}

func New(st store.Store) *Cache {
	return &Cache{st: st, entries: make(map[string]status.Record)}
}

// Get returns the cached record or loads it from the store, caching hits.
// Store errors, including status.ErrNotFound, are returned unchanged.
func (c *Cache) Get(ctx context.Context, agent string) (status.Record, error) {
	if rec, ok := c.Peek(agent); ok {
		metrics.IncCacheHit()
		return rec, nil
	}
	metrics.IncCacheMiss()
	return c.Refresh(ctx, agent)
}

// Peek returns the cached record without touching the store.
func (c *Cache) Peek(agent string) (status.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.entries[agent]
	return rec, ok
}

// Refresh reads agent from the store and replaces the cached entry.
// A newer cached record is kept if the store returns an older one.
func (c *Cache) Refresh(ctx context.Context, agent string) (status.Record, error) {
	rec, err := c.st.Get(ctx, agent)
	if err != nil {
		return status.Record{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[agent]; ok && cur.Newer(rec) {
		return cur, nil
	}
	c.entries[agent] = rec
	return rec, nil
}

// Set records a successful write.
func (c *Cache) Set(rec status.Record) {
	c.mu.Lock()
	c.entries[rec.Agent] = rec
	c.mu.Unlock()
}

func (c *Cache) Delete(agent string) {
	c.mu.Lock()
	delete(c.entries, agent)
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]status.Record)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
