package embed

import (
	"context"
	"log/slog"
	"time"
)

// New builds the production embedder stack: an HTTP embedder wrapped in
// the two-tier cache. Construction fails if the backend is unreachable;
// callers that can operate degraded should fall back to NewStaticEmbedder
// and keyword-only retrieval.
func New(ctx context.Context, cfg Config, cacheSize int, ttl, hotTTL time.Duration) (Embedder, error) {
	inner, err := NewHTTPEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("embedder_ready",
		slog.String("model", inner.ModelName()),
		slog.Int("dimensions", inner.Dimensions()))

	return NewCachedEmbedder(inner, cacheSize, ttl, hotTTL), nil
}
