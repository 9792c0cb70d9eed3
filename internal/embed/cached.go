package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultCacheSize is the default number of embeddings to cache.
	// At 768 dimensions * 4 bytes * 1000 entries that is roughly 3MB.
	DefaultCacheSize = 1000

	// DefaultCacheTTL is how long a cached embedding lives initially.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultHotTTL is the extended lifetime for frequently hit entries.
	DefaultHotTTL = time.Hour

	// promoteAfterHits moves an entry to the hot tier once it has been
	// served this many times within its initial TTL.
	promoteAfterHits = 3
)

// CachedEmbedder wraps an Embedder with a two-tier TTL cache. Fresh
// entries live in the warm tier with a short TTL; entries hit repeatedly
// get promoted to the hot tier with a long TTL. Repeated queries skip the
// backend entirely, saving 50-200ms each.
type CachedEmbedder struct {
	inner Embedder
	warm  *expirable.LRU[string, []float32]
	hot   *expirable.LRU[string, []float32]

	mu   sync.Mutex
	hits *lru.Cache[string, int]
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder creates a cached embedder wrapping the given one.
// Zero values select the defaults.
func NewCachedEmbedder(inner Embedder, cacheSize int, ttl, hotTTL time.Duration) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if hotTTL <= 0 {
		hotTTL = DefaultHotTTL
	}

	hits, _ := lru.New[string, int](cacheSize)
	return &CachedEmbedder{
		inner: inner,
		warm:  expirable.NewLRU[string, []float32](cacheSize, nil, ttl),
		hot:   expirable.NewLRU[string, []float32](cacheSize, nil, hotTTL),
		hits:  hits,
	}
}

// NewCachedEmbedderWithDefaults creates a cached embedder with default settings.
func NewCachedEmbedderWithDefaults(inner Embedder) *CachedEmbedder {
	return NewCachedEmbedder(inner, DefaultCacheSize, DefaultCacheTTL, DefaultHotTTL)
}

// cacheKey hashes text plus model so a model switch never serves stale
// vectors.
func (c *CachedEmbedder) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelName()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// get checks hot tier first, then warm; a warm hit counts toward
// promotion.
func (c *CachedEmbedder) get(key string) ([]float32, bool) {
	if vec, ok := c.hot.Get(key); ok {
		return vec, true
	}

	vec, ok := c.warm.Get(key)
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	count, _ := c.hits.Get(key)
	count++
	if count >= promoteAfterHits {
		c.hot.Add(key, vec)
		c.warm.Remove(key)
		c.hits.Remove(key)
	} else {
		c.hits.Add(key, count)
	}
	c.mu.Unlock()

	return vec, true
}

func (c *CachedEmbedder) put(key string, vec []float32) {
	c.warm.Add(key, vec)
}

// Embed returns a cached embedding if available, otherwise computes and
// caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if vec, ok := c.get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.put(key, vec)
	return vec, nil
}

// EmbedBatch embeds multiple texts, checking the cache per text so
// partial hits still save backend calls.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	uncachedIndices := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.get(c.cacheKey(text)); ok {
			results[i] = vec
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	newEmbeddings, err := c.inner.EmbedBatch(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range uncachedIndices {
		results[idx] = newEmbeddings[j]
		c.put(c.cacheKey(texts[idx]), newEmbeddings[j])
	}

	return results, nil
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

// Close releases resources and closes the inner embedder.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}

// Inner returns the underlying embedder.
func (c *CachedEmbedder) Inner() Embedder {
	return c.inner
}
