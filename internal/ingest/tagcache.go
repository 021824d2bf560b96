package ingest

import "sync"

// TagCache maps tag names to their surrogate ids.
// It only learns ids whose rows are committed, so a hit is always valid.
type TagCache struct {
	mu  sync.RWMutex
	ids map[string]int64
}

// NewTagCache creates an empty cache
func NewTagCache() *TagCache {
	return &TagCache{ids: make(map[string]int64)}
}

// Get returns the cached id for name
func (c *TagCache) Get(name string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[name]
	return id, ok
}

// Merge records ids observed by a committed transaction
func (c *TagCache) Merge(ids map[string]int64) {
	if len(ids) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, id := range ids {
		c.ids[name] = id
	}
}

// Len returns the number of cached names
func (c *TagCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}
