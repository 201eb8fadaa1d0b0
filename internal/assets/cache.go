package assets

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Source resolves one URL to an asset or nil. *Resolver satisfies it.
type Source interface {
	Resolve(ctx context.Context, rawURL string) *Asset
}

// BatchCache deduplicates resolves for the lifetime of one export batch: each distinct URL is
// fetched at most once, concurrent callers for the same URL share the fetch, and nil results are
// remembered as well.
type BatchCache struct {
	src     Source
	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]*Asset
}

// NewBatchCache wraps src for a single batch.
func NewBatchCache(src Source) *BatchCache {
	return &BatchCache{src: src, entries: make(map[string]*Asset)}
}

// Resolve returns the cached asset for rawURL, fetching it on first use.
func (c *BatchCache) Resolve(ctx context.Context, rawURL string) *Asset {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil
	}
	c.mu.Lock()
	a, ok := c.entries[rawURL]
	c.mu.Unlock()
	if ok {
		return a
	}

	v, _, _ := c.group.Do(rawURL, func() (any, error) {
		c.mu.Lock()
		if a, ok := c.entries[rawURL]; ok {
			c.mu.Unlock()
			return a, nil
		}
		c.mu.Unlock()

		a := c.src.Resolve(ctx, rawURL)
		c.mu.Lock()
		c.entries[rawURL] = a
		c.mu.Unlock()
		return a, nil
	})
	asset, _ := v.(*Asset)
	return asset
}

// Len reports how many distinct URLs have been resolved.
func (c *BatchCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
