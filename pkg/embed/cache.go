package embed

import (
	"context"
	"sync/atomic"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 10000

// Stats is a snapshot of cache usage.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// Cache is a bounded, concurrency-safe LRU cache of query embeddings keyed
// by normalized query text. It lives as long as the process and can be
// cleared with Purge.
type Cache struct {
	lru *lru.Cache[string, []float32]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a cache holding at most size vectors. A non-positive size
// uses DefaultCacheSize.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Key normalizes text the way lookups do.
func Key(text string) string {
	return common.TextKey(text)
}

func (c *Cache) Get(text string) ([]float32, bool) {
	vec, ok := c.lru.Get(Key(text))
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return vec, ok
}

func (c *Cache) Add(text string, vec []float32) {
	c.lru.Add(Key(text), vec)
}

func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge removes every entry. Counters are kept.
func (c *Cache) Purge() {
	c.lru.Purge()
}

func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: c.lru.Len()}
}

// CachedEmbedder serves embeddings from a Cache and falls back to the
// wrapped Embedder on misses. Failed embeddings are not cached.
type CachedEmbedder struct {
	next  Embedder
	cache *Cache
}

func NewCachedEmbedder(next Embedder, cache *Cache) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: cache}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.Get(text); ok {
		return vec, nil
	}
	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(text, vec)
	return vec, nil
}

// Cache returns the underlying cache.
func (e *CachedEmbedder) Cache() *Cache {
	return e.cache
}
