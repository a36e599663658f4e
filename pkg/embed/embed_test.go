package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

type countingEmbedder struct {
	calls atomic.Int64
	fail  bool
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, errors.New("embedding service unavailable")
	}
	return []float32{float32(len(text))}, nil
}

func TestCachedEmbedderNormalizesKeys(t *testing.T) {
	cache, err := NewCache(8)
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	base := &countingEmbedder{}
	e := NewCachedEmbedder(base, cache)
	ctx := context.Background()

	for _, q := range []string{"Chest Pain", "chest pain", "  chest   pain "} {
		if _, err := e.Embed(ctx, q); err != nil {
			t.Fatalf("Embed(%q) error = %v", q, err)
		}
	}
	if base.calls.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", base.calls.Load())
	}
	stats := cache.Stats()
	if stats.Hits != 2 || stats.Misses != 1 || stats.Size != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache, _ := NewCache(2)
	cache.Add("a", []float32{1})
	cache.Add("b", []float32{2})
	cache.Get("a")
	cache.Add("c", []float32{3})

	if _, ok := cache.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if _, ok := cache.Get("a"); !ok {
		t.Fatalf("expected a to survive")
	}
	if cache.Len() != 2 {
		t.Fatalf("cache exceeded its bound: %d", cache.Len())
	}
}

func TestCachePurge(t *testing.T) {
	cache, _ := NewCache(0)
	cache.Add("fever", []float32{1})
	cache.Purge()
	if cache.Len() != 0 {
		t.Fatalf("expected empty cache after purge")
	}
}

func TestCachedEmbedderDoesNotCacheErrors(t *testing.T) {
	cache, _ := NewCache(4)
	base := &countingEmbedder{fail: true}
	e := NewCachedEmbedder(base, cache)

	for i := 0; i < 2; i++ {
		if _, err := e.Embed(context.Background(), "fever"); err == nil {
			t.Fatalf("expected error")
		}
	}
	if base.calls.Load() != 2 || cache.Len() != 0 {
		t.Fatalf("errors must not be cached: calls=%d len=%d", base.calls.Load(), cache.Len())
	}
}

func TestCachedEmbedderConcurrentUse(t *testing.T) {
	cache, _ := NewCache(16)
	e := NewCachedEmbedder(&countingEmbedder{}, cache)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Embed(context.Background(), fmt.Sprintf("query %d", i%32)); err != nil {
				t.Errorf("Embed() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if cache.Len() > 16 {
		t.Fatalf("cache exceeded its bound: %d", cache.Len())
	}
}

func TestEmbedAll(t *testing.T) {
	base := &countingEmbedder{}
	out, err := EmbedAll(context.Background(), base, []string{"a", "", "abc"}, 2)
	if err != nil {
		t.Fatalf("EmbedAll() error = %v", err)
	}
	if len(out) != 3 || out[1] != nil || out[2][0] != 3 {
		t.Fatalf("unexpected result %v", out)
	}
	if base.calls.Load() != 2 {
		t.Fatalf("blank texts must be skipped, got %d calls", base.calls.Load())
	}

	if _, err := EmbedAll(context.Background(), &countingEmbedder{fail: true}, []string{"a"}, 1); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAIEmbedderWithoutClient(t *testing.T) {
	if _, err := NewAIEmbedder(nil).Embed(context.Background(), "x"); err == nil {
		t.Fatalf("expected error without client")
	}
}
