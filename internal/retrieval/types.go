// Package retrieval implements the hybrid retriever: vector, lexical, and
// recency searches run concurrently, their rankings are fused with weighted
// Reciprocal Rank Fusion, an optional completion-backed reranker refines the
// order, and a context budget caps the output.
package retrieval

import (
	"time"

	"github.com/mnemosyne-notes/mnemo/internal/store"
)

// Mode labels which sources contributed to the final ranking.
type Mode string

const (
	// ModeVector means only vector search contributed.
	ModeVector Mode = "vector"

	// ModeHybrid means vector and at least one other source contributed.
	ModeHybrid Mode = "hybrid"

	// ModeKeywordOnly means vector search was unavailable or empty.
	ModeKeywordOnly Mode = "keyword_only"

	// ModeFallback means retrieval degraded to recency only, or the
	// corpus was empty.
	ModeFallback Mode = "fallback"
)

// ScoredChunk is a chunk plus its fused relevance score. It lives for the
// duration of one request and is immutable once the retriever returns.
type ScoredChunk struct {
	Chunk *store.Chunk

	// Score is the fused, normalized relevance in [0,1].
	Score float64

	// Component scores, zero when the source did not surface the chunk.
	VectorScore  float64
	LexicalScore float64
	RecencyScore float64
	RerankScore  float64

	// SourceCount is how many retrieval sources surfaced the chunk.
	SourceCount int

	// MatchedTerms are the lexical query terms found in the chunk.
	MatchedTerms []string
}

// StageCounts records candidate counts per retrieval stage.
type StageCounts struct {
	Vector   int `json:"vector"`
	Lexical  int `json:"lexical"`
	Recency  int `json:"recency"`
	Merged   int `json:"merged"`
	Reranked int `json:"reranked"`
	Final    int `json:"final"`
}

// StageTimings records wall time per retrieval stage.
type StageTimings struct {
	Vector  time.Duration `json:"vector"`
	Lexical time.Duration `json:"lexical"`
	Recency time.Duration `json:"recency"`
	Fusion  time.Duration `json:"fusion"`
	Rerank  time.Duration `json:"rerank"`
	Total   time.Duration `json:"total"`
}

// Filters restricts retrieval to a subset of the tenant's notes.
type Filters struct {
	// IncludeNotes limits results to these note IDs when non-empty.
	IncludeNotes []string

	// ExcludeNotes removes results from these note IDs.
	ExcludeNotes []string

	// Tags limits results to chunks carrying at least one of these tags.
	Tags []string

	// After and Before bound chunk update time. Zero values mean unbounded.
	After  time.Time
	Before time.Time
}

// Options configures one retrieval call. Zero fields fall back to the
// engine configuration.
type Options struct {
	// K is the final candidate count.
	K int

	// RerankWidth is how many fused candidates the reranker may score.
	RerankWidth int

	// ContextBudget caps the summed chunk text length in characters.
	ContextBudget int

	// MinRelevance drops fused results below this score.
	MinRelevance float64

	// Horizon bounds recency search and vector-hit age. Zero means the
	// engine default (90 days).
	Horizon time.Duration

	// Filters optionally restricts the note set. Retrieval with filters
	// bypasses the query-result cache.
	Filters *Filters
}

// Result is the retriever's output for one request.
type Result struct {
	Chunks  []*ScoredChunk
	Mode    Mode
	Counts  StageCounts
	Timings StageTimings

	// EmptyCorpus is set when the tenant has no chunks at all, which
	// callers answer deterministically instead of generating.
	EmptyCorpus bool
}

// Weights are the per-source RRF weights.
type Weights struct {
	Vector  float64
	Lexical float64
	Recency float64
}

// DefaultWeights reflect source trust: vector carries the most signal,
// recency the least.
func DefaultWeights() Weights {
	return Weights{Vector: 1.0, Lexical: 0.8, Recency: 0.3}
}

// Config tunes the engine.
type Config struct {
	// DefaultK is the candidate count when Options.K is zero (default: 8).
	DefaultK int

	// MaxK caps Options.K (default: 50).
	MaxK int

	// RRFConstant is the RRF smoothing constant k (default: 60).
	RRFConstant int

	// Weights are the per-source fusion weights.
	Weights Weights

	// MultiSourceBoost is applied per additional source after RRF
	// (default: 0.15).
	MultiSourceBoost float64

	// MinCosine drops vector hits below this similarity (default: 0.3).
	MinCosine float64

	// Horizon is the default time horizon (default: 90 days).
	Horizon time.Duration

	// ContextBudget is the default character budget (default: 12000).
	ContextBudget int

	// IdentifierBonus is added to the lexical score per matched
	// SCREAMING_SNAKE identifier (default: 0.2).
	IdentifierBonus float64

	// RecencyHalfLife controls exponential age decay (default: 7 days).
	RecencyHalfLife time.Duration

	// RerankTimeout bounds the external reranker call (default: 5s).
	RerankTimeout time.Duration

	// CacheSize and CacheTTL configure the query-result cache. CacheSize
	// zero disables caching.
	CacheSize int
	CacheTTL  time.Duration

	// SourceTimeout bounds each retrieval sub-task (default: 3s).
	SourceTimeout time.Duration
}

// DefaultEngineConfig returns the standard engine configuration.
func DefaultEngineConfig() Config {
	return Config{
		DefaultK:         8,
		MaxK:             50,
		RRFConstant:      60,
		Weights:          DefaultWeights(),
		MultiSourceBoost: 0.15,
		MinCosine:        0.3,
		Horizon:          90 * 24 * time.Hour,
		ContextBudget:    12000,
		IdentifierBonus:  0.2,
		RecencyHalfLife:  7 * 24 * time.Hour,
		RerankTimeout:    5 * time.Second,
		CacheSize:        256,
		CacheTTL:         30 * time.Second,
		SourceTimeout:    3 * time.Second,
	}
}
