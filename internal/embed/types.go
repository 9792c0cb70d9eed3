// Package embed generates vector embeddings for queries and note chunks.
// The production path talks to an Ollama-compatible HTTP backend; a
// deterministic hash embedder serves tests and degraded operation.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// MinBatchSize is the minimum allowed batch size.
	MinBatchSize = 1

	// MaxBatchSize caps batch size to prevent memory exhaustion.
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultWarmTimeout applies when the model served a request recently.
	DefaultWarmTimeout = 30 * time.Second

	// DefaultColdTimeout applies on the first request or after the backend
	// likely unloaded the model. Cold loads can take tens of seconds.
	DefaultColdTimeout = 120 * time.Second

	// ModelUnloadThreshold is how long after the last call the model is
	// considered cold. Ollama unloads models after ~5 minutes idle.
	ModelUnloadThreshold = 5 * time.Minute

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// DefaultDimensions matches nomic-embed-text.
	DefaultDimensions = 768

	// StaticDimensions is the dimension of the hash-based embedder.
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Config configures the HTTP embedding backend.
type Config struct {
	// Endpoint is the backend base URL (e.g. http://localhost:11434).
	Endpoint string

	// Model is the embedding model name.
	Model string

	// FallbackModels are tried in order when Model is not installed.
	FallbackModels []string

	// Dimensions is the expected embedding dimension. Zero means
	// auto-detect from the first embedding.
	Dimensions int

	// BatchSize is texts per backend request.
	BatchSize int

	// Timeout overrides the warm timeout when positive.
	Timeout time.Duration

	// MaxRetries is attempts per request.
	MaxRetries int

	// SkipHealthCheck skips backend probing at construction (tests).
	SkipHealthCheck bool
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
