// Package hotcache is the process-local accelerator in front of the result store.
// It holds only transformed text and is never the source of truth.
package hotcache

import (
	"fmt"

	"github.com/cuongbtq/doc-converter/internal/domain"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize matches the capacity the service has always run with
const DefaultSize = 128

// Cache is a bounded LRU of CacheKey -> payload. Safe for concurrent use.
type Cache struct {
	entries *lru.Cache[domain.CacheKey, string]
}

// New creates a cache holding at most size entries
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	entries, err := lru.New[domain.CacheKey, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create hot cache: %w", err)
	}
	return &Cache{entries: entries}, nil
}

// Get returns the cached payload for key
func (c *Cache) Get(key domain.CacheKey) (string, bool) {
	return c.entries.Get(key)
}

// Put stores payload, evicting the least recently used entry when full.
// Empty payloads are never cached.
func (c *Cache) Put(key domain.CacheKey, payload string) {
	if payload == "" {
		return
	}
	c.entries.Add(key, payload)
}

// Remove drops key, used when the store no longer backs a cached entry
func (c *Cache) Remove(key domain.CacheKey) {
	c.entries.Remove(key)
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	return c.entries.Len()
}
