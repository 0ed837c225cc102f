package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of embeddings to cache.
// At 768 dimensions * 4 bytes * 1000 entries, about 3MB.
const DefaultEmbeddingCacheSize = 1000

// CachedEmbedder wraps an Embedder with an LRU cache keyed by text and model.
// Repeated queries and re-ingested passages skip the model call.
type CachedEmbedder struct {
	inner  Embedder
	cache  *lru.Cache[string, []float32]
	hits   atomic.Int64
	misses atomic.Int64
}

var _ Embedder = (*CachedEmbedder)(nil)

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// NewCachedEmbedder creates a cached embedder wrapping the given embedder.
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{
		inner: inner,
		cache: cache,
	}
}

// cacheKey hashes text and model name so a model switch never serves stale vectors.
func (c *CachedEmbedder) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelName()))
	return hex.EncodeToString(hash[:])
}

// lookup returns a copy so callers cannot mutate cached vectors.
func (c *CachedEmbedder) lookup(key string) ([]float32, bool) {
	vec, ok := c.cache.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return slices.Clone(vec), true
}

// Embed returns cached embedding if available, otherwise computes and caches.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.lookup(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, slices.Clone(vec))
	return vec, nil
}

// EmbedBatch embeds only the texts missing from the cache, in one inner call.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		keys[i] = c.cacheKey(text)
		if vec, ok := c.lookup(keys[i]); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	fresh, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		results[idx] = fresh[j]
		c.cache.Add(keys[idx], slices.Clone(fresh[j]))
	}
	return results, nil
}

// Stats returns cache counters.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{
		Entries: c.cache.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

// Available checks if the embedder is ready (passthrough to inner).
func (c *CachedEmbedder) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close closes the inner embedder.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}

// Inner returns the underlying embedder.
func (c *CachedEmbedder) Inner() Embedder {
	return c.inner
}
