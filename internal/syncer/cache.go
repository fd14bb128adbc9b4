package syncer

import (
	"context"
	"fmt"
	"sync"

	"meridian/internal/types"
)

// MemoryCache is the in-process Cache used by the client-side
// coordinator and by tests. Entries are copied on the way in and out so
// callers cannot mutate cached state behind the lock.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Entry)}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, fmt.Errorf("cache entry %s: %w", key, types.ErrNotFound)
	}
	return e.clone(), nil
}

func (c *MemoryCache) Put(ctx context.Context, e *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Key] = e.clone()
	return nil
}
