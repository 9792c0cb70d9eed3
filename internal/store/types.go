// Package store provides chunk persistence (SQLite), lexical search (bleve),
// and vector search (HNSW). This is the persistence layer for all note data.
package store

import (
	"context"
	"fmt"
	"time"
)

// Chunk represents a retrievable unit of a note. Notes are split into chunks
// upstream; the QA core treats chunk boundaries as given.
type Chunk struct {
	ID       string // stable chunk identifier, unique per tenant
	NoteID   string // parent note identifier
	TenantID string // owning user; never crosses tenants
	Title    string // parent note title
	Folder   string // note folder path, empty for root
	Tags     []string
	Content  string
	Position int // 0-indexed order within the note

	CreatedAt time.Time // note creation time
	UpdatedAt time.Time // note last-modified time, drives recency
}

// ChunkStore persists chunks in SQLite and serves the recency channel.
type ChunkStore interface {
	// SaveChunks upserts chunks. Existing IDs are replaced.
	SaveChunks(ctx context.Context, chunks []*Chunk) error

	// GetChunk returns a single chunk by ID.
	GetChunk(ctx context.Context, tenantID, id string) (*Chunk, error)

	// GetChunks batch-fetches chunks by ID, preserving no particular order.
	// Missing IDs are silently skipped.
	GetChunks(ctx context.Context, tenantID string, ids []string) ([]*Chunk, error)

	// GetChunksByNote returns all chunks of a note in position order.
	GetChunksByNote(ctx context.Context, tenantID, noteID string) ([]*Chunk, error)

	// DeleteChunksByNote removes all chunks of a note.
	DeleteChunksByNote(ctx context.Context, tenantID, noteID string) error

	// ListRecent returns chunk IDs updated since the given time, newest
	// first, capped at limit. This is the recency retrieval channel.
	ListRecent(ctx context.Context, tenantID string, since time.Time, limit int) ([]*RecencyResult, error)

	// CountChunks returns the number of chunks a tenant owns.
	CountChunks(ctx context.Context, tenantID string) (int, error)

	// Lifecycle
	Close() error
}

// RecencyResult is one entry of the recency channel.
type RecencyResult struct {
	ChunkID   string
	UpdatedAt time.Time
}

// LexicalResult represents a single lexical (keyword) search result.
type LexicalResult struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// LexicalIndex provides keyword search over chunk content.
// All queries are tenant-scoped; a search never returns another
// tenant's chunks.
type LexicalIndex interface {
	// Index adds chunks to the index. Existing IDs are replaced.
	Index(ctx context.Context, chunks []*Chunk) error

	// Search returns chunks matching query for the tenant, best first.
	Search(ctx context.Context, tenantID, query string, limit int) ([]*LexicalResult, error)

	// Delete removes chunks from the index.
	Delete(ctx context.Context, ids []string) error

	// DocCount returns the number of indexed chunks across tenants.
	DocCount() (uint64, error)

	// Lifecycle
	Close() error
}

// LexicalConfig configures the lexical index.
type LexicalConfig struct {
	// StopWords is a list of words excluded from indexing and matching.
	StopWords []string

	// MinTokenLength is minimum token length to index (default: 2).
	MinTokenLength int
}

// DefaultLexicalConfig returns default lexical index configuration.
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords contains common English words that carry no retrieval
// signal in note content.
var DefaultStopWords = []string{
	"a", "an", "the", "is", "are", "was", "were", "be", "been", "being",
	"i", "me", "my", "we", "our", "you", "your", "it", "its", "this",
	"that", "these", "those", "and", "or", "but", "if", "then", "of",
	"at", "by", "for", "with", "about", "to", "from", "in", "on", "as",
	"do", "did", "does", "have", "has", "had", "will", "would", "can",
	"could", "should", "what", "when", "where", "which", "who", "how",
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ChunkID  string
	Distance float32 // lower is more similar (0-2 for cosine)
	Score    float32 // normalized similarity (0-1)
}

// VectorIndex provides semantic search over chunk embeddings.
// Each tenant gets an isolated graph; a search never crosses tenants.
type VectorIndex interface {
	// Add inserts vectors for a tenant. Existing IDs are replaced.
	Add(ctx context.Context, tenantID string, ids []string, vectors [][]float32) error

	// Search finds the k nearest chunks to query within the tenant.
	Search(ctx context.Context, tenantID string, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID within the tenant.
	Delete(ctx context.Context, tenantID string, ids []string) error

	// Count returns the number of vectors stored for the tenant.
	Count(tenantID string) int

	// Persistence
	Save(dir string) error
	Load(dir string) error
	Close() error
}

// VectorConfig configures the vector index.
type VectorConfig struct {
	// Dimensions is the embedding dimension (e.g. 768).
	Dimensions int

	// Metric is the distance metric: "cos" (cosine) or "l2" (default: "cos").
	Metric string

	// M is HNSW max connections per layer (default: 32).
	M int

	// EfConstruction is HNSW build-time search width (default: 128).
	EfConstruction int

	// EfSearch is HNSW query-time search width (default: 64).
	EfSearch int
}

// DefaultVectorConfig returns sensible defaults for the vector index.
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
