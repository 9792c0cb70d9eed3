package embed

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps StaticEmbedder and counts backend calls.
type countingEmbedder struct {
	*StaticEmbedder
	embedCalls atomic.Int32
	batchCalls atomic.Int32
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: NewStaticEmbedder(16)}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embedCalls.Add(1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchCalls.Add(1)
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_CacheHit(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedderWithDefaults(inner)
	ctx := context.Background()

	first, err := cached.Embed(ctx, "repeated query")
	require.NoError(t, err)

	second, err := cached.Embed(ctx, "repeated query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), inner.embedCalls.Load())
}

func TestCachedEmbedder_DistinctTextsMiss(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedderWithDefaults(inner)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "first")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "second")
	require.NoError(t, err)

	assert.Equal(t, int32(2), inner.embedCalls.Load())
}

func TestCachedEmbedder_BatchPartialHit(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedderWithDefaults(inner)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "cached")
	require.NoError(t, err)

	results, err := cached.EmbedBatch(ctx, []string{"cached", "fresh"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Only the uncached text reached the backend.
	assert.Equal(t, int32(1), inner.batchCalls.Load())
}

func TestCachedEmbedder_WarmTTLExpiry(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 10, 30*time.Millisecond, time.Hour)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "ephemeral")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	_, err = cached.Embed(ctx, "ephemeral")
	require.NoError(t, err)

	// The warm entry expired, so the backend was called again.
	assert.Equal(t, int32(2), inner.embedCalls.Load())
}

func TestCachedEmbedder_HotPromotionSurvivesWarmTTL(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedder(inner, 10, 50*time.Millisecond, time.Hour)
	ctx := context.Background()

	// One miss plus enough hits to promote to the hot tier.
	for i := 0; i <= promoteAfterHits; i++ {
		_, err := cached.Embed(ctx, "popular query")
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), inner.embedCalls.Load())

	// Past the warm TTL the hot tier still serves it.
	time.Sleep(100 * time.Millisecond)

	_, err := cached.Embed(ctx, "popular query")
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.embedCalls.Load())
}

func TestCachedEmbedder_ModelNameInKey(t *testing.T) {
	inner := newCountingEmbedder()
	cached := NewCachedEmbedderWithDefaults(inner)

	key1 := cached.cacheKey("same text")
	key2 := cached.cacheKey("other text")
	assert.NotEqual(t, key1, key2)

	// Passthroughs.
	assert.Equal(t, 16, cached.Dimensions())
	assert.Equal(t, "static-hash", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, Embedder(inner), cached.Inner())
}
