package terminology

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCacheSize = 4096

type cached struct {
	concept common.Concept
	ok      bool
}

// Normalizer puts a bounded LRU cache in front of a Service. Hits and
// misses are cached; service errors are not, so a later call retries.
type Normalizer struct {
	svc   Service
	cache *lru.Cache[string, cached]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewNormalizer wraps svc. A non-positive size uses DefaultCacheSize.
func NewNormalizer(svc Service, size int) (*Normalizer, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, cached](size)
	if err != nil {
		return nil, err
	}
	return &Normalizer{svc: svc, cache: cache}, nil
}

// Normalize resolves m. Failures of the underlying service are returned
// wrapped in common.ErrNormalizationUnavailable.
func (n *Normalizer) Normalize(ctx context.Context, m Mention) (common.Concept, bool, error) {
	key := cacheKey(m)
	if key == "" {
		return common.Concept{}, false, nil
	}
	if c, ok := n.cache.Get(key); ok {
		n.hits.Add(1)
		return c.concept, c.ok, nil
	}
	n.misses.Add(1)

	concept, ok, err := n.svc.Lookup(ctx, m)
	if err != nil {
		return common.Concept{}, false, fmt.Errorf("%w: %w", common.ErrNormalizationUnavailable, err)
	}
	n.cache.Add(key, cached{concept: concept, ok: ok})
	return concept, ok, nil
}

// Stats returns the cache hit and miss counters.
func (n *Normalizer) Stats() (hits, misses int64) {
	return n.hits.Load(), n.misses.Load()
}

// Purge drops every cached lookup.
func (n *Normalizer) Purge() {
	n.cache.Purge()
}

// cacheKey identifies a lookup. Text lookups include the context signature
// because the same abbreviation can resolve differently per record.
func cacheKey(m Mention) string {
	if m.Coded() {
		return "code|" + CanonicalSystem(m.System) + "|" + strings.TrimSpace(m.Code) + "|" + common.TextKey(m.Text)
	}
	text := common.TextKey(m.Text)
	if text == "" {
		return ""
	}

	types := make([]string, 0, len(m.Context))
	for _, t := range m.Context {
		types = append(types, string(t))
	}
	slices.Sort(types)
	types = slices.Compact(types)

	terms := make([]string, 0, len(m.ContextTerms))
	for _, t := range m.ContextTerms {
		if k := common.TextKey(t); k != "" {
			terms = append(terms, k)
		}
	}
	slices.Sort(terms)
	terms = slices.Compact(terms)

	return "text|" + text + "|" + string(m.Type) + "|" + strings.Join(types, ",") + "|" + strings.Join(terms, ",")
}
