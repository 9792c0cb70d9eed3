package retrieval

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemosyne-notes/mnemo/internal/query"
	"github.com/mnemosyne-notes/mnemo/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeChunkStore struct {
	chunks    map[string]*store.Chunk
	recent    []*store.RecencyResult
	recentErr error
	getCalls  atomic.Int64
}

func newFakeChunkStore(chunks ...*store.Chunk) *fakeChunkStore {
	m := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		m[c.ID] = c
	}
	return &fakeChunkStore{chunks: m}
}

func (f *fakeChunkStore) SaveChunks(_ context.Context, chunks []*store.Chunk) error {
	for _, c := range chunks {
		f.chunks[c.ID] = c
	}
	return nil
}

func (f *fakeChunkStore) GetChunk(_ context.Context, _, id string) (*store.Chunk, error) {
	c, ok := f.chunks[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return c, nil
}

func (f *fakeChunkStore) GetChunks(_ context.Context, _ string, ids []string) ([]*store.Chunk, error) {
	f.getCalls.Add(1)
	var out []*store.Chunk
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeChunkStore) GetChunksByNote(_ context.Context, _, _ string) ([]*store.Chunk, error) {
	return nil, nil
}

func (f *fakeChunkStore) DeleteChunksByNote(_ context.Context, _, _ string) error { return nil }

func (f *fakeChunkStore) ListRecent(_ context.Context, _ string, _ time.Time, limit int) ([]*store.RecencyResult, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	if len(f.recent) > limit {
		return f.recent[:limit], nil
	}
	return f.recent, nil
}

func (f *fakeChunkStore) CountChunks(_ context.Context, _ string) (int, error) {
	return len(f.chunks), nil
}

func (f *fakeChunkStore) Close() error { return nil }

type fakeLexical struct {
	results []*store.LexicalResult
	err     error
}

func (f *fakeLexical) Index(_ context.Context, _ []*store.Chunk) error { return nil }
func (f *fakeLexical) Search(_ context.Context, _, _ string, _ int) ([]*store.LexicalResult, error) {
	return f.results, f.err
}
func (f *fakeLexical) Delete(_ context.Context, _ []string) error { return nil }
func (f *fakeLexical) DocCount() (uint64, error)                  { return uint64(len(f.results)), nil }
func (f *fakeLexical) Close() error                               { return nil }

type fakeVector struct {
	results []*store.VectorResult
	err     error
}

func (f *fakeVector) Add(_ context.Context, _ string, _ []string, _ [][]float32) error { return nil }
func (f *fakeVector) Search(_ context.Context, _ string, _ []float32, _ int) ([]*store.VectorResult, error) {
	return f.results, f.err
}
func (f *fakeVector) Delete(_ context.Context, _ string, _ []string) error { return nil }
func (f *fakeVector) Count(_ string) int                                   { return len(f.results) }
func (f *fakeVector) Save(_ string) error                                  { return nil }
func (f *fakeVector) Load(_ string) error                                  { return nil }
func (f *fakeVector) Close() error                                         { return nil }

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int                    { return 4 }
func (f *fakeEmbedder) ModelName() string                  { return "fake" }
func (f *fakeEmbedder) Available(_ context.Context) bool   { return f.err == nil }
func (f *fakeEmbedder) Close() error                       { return nil }

type fakeReranker struct {
	scores    []float64
	err       error
	available bool
	calls     atomic.Int64
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, _ query.QueryType, candidates []string) ([]float64, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.scores) >= len(candidates) {
		return f.scores[:len(candidates)], nil
	}
	return f.scores, nil
}

func (f *fakeReranker) Available(_ context.Context) bool { return f.available }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testChunk(id, noteID, content string, age time.Duration) *store.Chunk {
	now := time.Now()
	return &store.Chunk{
		ID:        id,
		NoteID:    noteID,
		TenantID:  "tenant-a",
		Content:   content,
		CreatedAt: now.Add(-age),
		UpdatedAt: now.Add(-age),
	}
}

func testAnalysis(q string, keywords ...string) *query.Analysis {
	return &query.Analysis{
		Normalized:  q,
		Keywords:    keywords,
		Intent:      query.IntentQuestion,
		QueryType:   query.QueryTypeFactual,
		CandidateK:  8,
		RerankWidth: 24,
	}
}

func testEngineConfig() Config {
	cfg := DefaultEngineConfig()
	cfg.CacheSize = 0 // tests opt in explicitly
	return cfg
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRetrieveEmptyCorpus(t *testing.T) {
	e, err := NewEngine(newFakeChunkStore(), &fakeLexical{}, testEngineConfig())
	require.NoError(t, err)

	result, err := e.Retrieve(context.Background(), "tenant-a", testAnalysis("anything"), Options{})
	require.NoError(t, err)
	assert.Equal(t, ModeFallback, result.Mode)
	assert.Empty(t, result.Chunks)
	assert.True(t, result.EmptyCorpus)
}

func TestRetrieveHybrid(t *testing.T) {
	a := testChunk("c1", "n1", "we decided to adopt PostgreSQL for storage", time.Hour)
	b := testChunk("c2", "n1", "meeting notes about the database migration", 2*time.Hour)
	c := testChunk("c3", "n2", "grocery list for the weekend", 3*time.Hour)
	chunks := newFakeChunkStore(a, b, c)
	chunks.recent = []*store.RecencyResult{
		{ChunkID: "c1", UpdatedAt: a.UpdatedAt},
		{ChunkID: "c3", UpdatedAt: c.UpdatedAt},
	}

	vector := &fakeVector{results: []*store.VectorResult{
		{ChunkID: "c1", Score: 0.9},
		{ChunkID: "c2", Score: 0.7},
	}}
	lexical := &fakeLexical{results: []*store.LexicalResult{
		{ChunkID: "c1", Score: 2.0, MatchedTerms: []string{"postgresql", "database"}},
	}}

	e, err := NewEngine(chunks, lexical, testEngineConfig(),
		WithVectorSearch(vector, &fakeEmbedder{}))
	require.NoError(t, err)

	result, err := e.Retrieve(context.Background(), "tenant-a",
		testAnalysis("what database did we pick", "database", "postgresql"), Options{})
	require.NoError(t, err)

	assert.Equal(t, ModeHybrid, result.Mode)
	require.NotEmpty(t, result.Chunks)

	// c1 is in all three sources and must rank first.
	assert.Equal(t, "c1", result.Chunks[0].Chunk.ID)
	assert.Equal(t, 3, result.Chunks[0].SourceCount)
	assert.InDelta(t, 1.0, result.Chunks[0].Score, 1e-9)
	assert.Equal(t, []string{"postgresql", "database"}, result.Chunks[0].MatchedTerms)

	assert.Equal(t, 2, result.Counts.Vector)
	assert.Equal(t, 1, result.Counts.Lexical)
	assert.Equal(t, 2, result.Counts.Recency)
	assert.Equal(t, result.Counts.Final, len(result.Chunks))
	assert.Greater(t, result.Timings.Total, time.Duration(0))
}

func TestRetrieveKeywordOnlyWithoutVector(t *testing.T) {
	a := testChunk("c1", "n1", "postgres notes", time.Hour)
	chunks := newFakeChunkStore(a)
	lexical := &fakeLexical{results: []*store.LexicalResult{
		{ChunkID: "c1", Score: 1.0, MatchedTerms: []string{"postgres"}},
	}}

	e, err := NewEngine(chunks, lexical, testEngineConfig())
	require.NoError(t, err)

	result, err := e.Retrieve(context.Background(), "tenant-a",
		testAnalysis("postgres", "postgres"), Options{})
	require.NoError(t, err)
	assert.Equal(t, ModeKeywordOnly, result.Mode)
	require.Len(t, result.Chunks, 1)
	assert.Greater(t, result.Chunks[0].LexicalScore, 0.0)
}

func TestRetrieveFallbackToRecency(t *testing.T) {
	a := testChunk("c1", "n1", "recent thoughts", time.Hour)
	chunks := newFakeChunkStore(a)
	chunks.recent = []*store.RecencyResult{{ChunkID: "c1", UpdatedAt: a.UpdatedAt}}

	e, err := NewEngine(chunks, &fakeLexical{}, testEngineConfig(),
		WithVectorSearch(&fakeVector{}, &fakeEmbedder{}))
	require.NoError(t, err)

	result, err := e.Retrieve(context.Background(), "tenant-a",
		testAnalysis("anything", "anything"), Options{})
	require.NoError(t, err)
	assert.Equal(t, ModeFallback, result.Mode)
	require.Len(t, result.Chunks, 1)
	assert.Greater(t, result.Chunks[0].RecencyScore, 0.0)
}

func TestRetrieveSingleSourceFailureTolerated(t *testing.T) {
	a := testChunk("c1", "n1", "postgres decision", time.Hour)
	chunks := newFakeChunkStore(a)

	vector := &fakeVector{results: []*store.VectorResult{{ChunkID: "c1", Score: 0.9}}}
	lexical := &fakeLexical{err: errors.New("index unavailable")}

	e, err := NewEngine(chunks, lexical, testEngineConfig(),
		WithVectorSearch(vector, &fakeEmbedder{}))
	require.NoError(t, err)

	result, err := e.Retrieve(context.Background(), "tenant-a",
		testAnalysis("postgres", "postgres"), Options{})
	require.NoError(t, err)
	assert.Equal(t, ModeVector, result.Mode)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "c1", result.Chunks[0].Chunk.ID)
}

func TestRetrieveAllSourcesFail(t *testing.T) {
	a := testChunk("c1", "n1", "content", time.Hour)
	chunks := newFakeChunkStore(a)
	chunks.recentErr = errors.New("store down")

	e, err := NewEngine(chunks,
		&fakeLexical{err: errors.New("index down")},
		testEngineConfig(),
		WithVectorSearch(&fakeVector{err: errors.New("graph down")}, &fakeEmbedder{}))
	require.NoError(t, err)

	_, err = e.Retrieve(context.Background(), "tenant-a",
		testAnalysis("anything", "anything"), Options{})
	require.Error(t, err)
}

func TestRetrieveDropsBelowCosineFloor(t *testing.T) {
	a := testChunk("c1", "n1", "relevant", time.Hour)
	b := testChunk("c2", "n1", "barely related", time.Hour)
	chunks := newFakeChunkStore(a, b)

	vector := &fakeVector{results: []*store.VectorResult{
		{ChunkID: "c1", Score: 0.9},
		{ChunkID: "c2", Score: 0.1}, // below MinCosine 0.3
	}}

	e, err := NewEngine(chunks, &fakeLexical{}, testEngineConfig(),
		WithVectorSearch(vector, &fakeEmbedder{}))
	require.NoError(t, err)

	result, err := e.Retrieve(context.Background(), "tenant-a",
		testAnalysis("relevant", "relevant"), Options{})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "c1", result.Chunks[0].Chunk.ID)
}

func TestRetrieveHorizonDropsOldVectorHits(t *testing.T) {
	fresh := testChunk("c1", "n1", "fresh", time.Hour)
	stale := testChunk("c2", "n1", "stale", 100*24*time.Hour)
	chunks := newFakeChunkStore(fresh, stale)

	vector := &fakeVector{results: []*store.VectorResult{
		{ChunkID: "c2", Score: 0.95},
		{ChunkID: "c1", Score: 0.9},
	}}

	e, err := NewEngine(chunks, &fakeLexical{}, testEngineConfig(),
		WithVectorSearch(vector, &fakeEmbedder{}))
	require.NoError(t, err)

	result, err := e.Retrieve(context.Background(), "tenant-a",
		testAnalysis("anything", "anything"), Options{})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "c1", result.Chunks[0].Chunk.ID)
}

func TestContextBudgetCutoff(t *testing.T) {
	long := testChunk("c1", "n1", "aaaaaaaaaaaaaaaaaaaa", time.Hour)  // 20 chars
	short := testChunk("c2", "n1", "bbbbbbbbbb", time.Hour)           // 10 chars
	tail := testChunk("c3", "n1", "cccccccccccccccccccc", time.Hour)  // 20 chars
	chunks := newFakeChunkStore(long, short, tail)

	vector := &fakeVector{results: []*store.VectorResult{
		{ChunkID: "c1", Score: 0.9},
		{ChunkID: "c2", Score: 0.8},
		{ChunkID: "c3", Score: 0.7},
	}}

	cfg := testEngineConfig()
	cfg.ContextBudget = 35

	e, err := NewEngine(chunks, &fakeLexical{}, cfg,
		WithVectorSearch(vector, &fakeEmbedder{}))
	require.NoError(t, err)

	result, err := e.Retrieve(context.Background(), "tenant-a",
		testAnalysis("anything", "anything"), Options{})
	require.NoError(t, err)

	// 20 + 10 fit; the third chunk would exceed 35 and the cutoff stops.
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "c1", result.Chunks[0].Chunk.ID)
	assert.Equal(t, "c2", result.Chunks[1].Chunk.ID)
}

func TestRerankBlendsAndReorders(t *testing.T) {
	a := testChunk("c1", "n1", "first by fusion", time.Hour)
	b := testChunk("c2", "n1", "second by fusion", time.Hour)
	chunks := newFakeChunkStore(a, b)

	vector := &fakeVector{results: []*store.VectorResult{
		{ChunkID: "c1", Score: 0.9},
		{ChunkID: "c2", Score: 0.8},
	}}

	// The reranker strongly prefers the second candidate.
	reranker := &fakeReranker{scores: []float64{0.1, 0.95}, available: true}

	e, err := NewEngine(chunks, &fakeLexical{}, testEngineConfig(),
		WithVectorSearch(vector, &fakeEmbedder{}),
		WithReranker(reranker))
	require.NoError(t, err)

	result, err := e.Retrieve(context.Background(), "tenant-a",
		testAnalysis("anything", "anything"), Options{})
	require.NoError(t, err)

	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "c2", result.Chunks[0].Chunk.ID)
	assert.InDelta(t, 0.95, result.Chunks[0].RerankScore, 1e-9)
	assert.Equal(t, int64(1), reranker.calls.Load())
	assert.Equal(t, 2, result.Counts.Reranked)
}

func TestRerankFailureKeepsFusedOrder(t *testing.T) {
	a := testChunk("c1", "n1", "first", time.Hour)
	b := testChunk("c2", "n1", "second", time.Hour)
	chunks := newFakeChunkStore(a, b)

	vector := &fakeVector{results: []*store.VectorResult{
		{ChunkID: "c1", Score: 0.9},
		{ChunkID: "c2", Score: 0.8},
	}}

	reranker := &fakeReranker{err: errors.New("model timeout"), available: true}

	e, err := NewEngine(chunks, &fakeLexical{}, testEngineConfig(),
		WithVectorSearch(vector, &fakeEmbedder{}),
		WithReranker(reranker))
	require.NoError(t, err)

	result, err := e.Retrieve(context.Background(), "tenant-a",
		testAnalysis("anything", "anything"), Options{})
	require.NoError(t, err)

	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "c1", result.Chunks[0].Chunk.ID)
	assert.Equal(t, 0, result.Counts.Reranked)
}

func TestRerankUnavailableNotCounted(t *testing.T) {
	a := testChunk("c1", "n1", "first", time.Hour)
	b := testChunk("c2", "n1", "second", time.Hour)
	chunks := newFakeChunkStore(a, b)

	vector := &fakeVector{results: []*store.VectorResult{
		{ChunkID: "c1", Score: 0.9},
		{ChunkID: "c2", Score: 0.8},
	}}

	reranker := &fakeReranker{scores: []float64{0.1, 0.95}, available: false}

	e, err := NewEngine(chunks, &fakeLexical{}, testEngineConfig(),
		WithVectorSearch(vector, &fakeEmbedder{}),
		WithReranker(reranker))
	require.NoError(t, err)

	result, err := e.Retrieve(context.Background(), "tenant-a",
		testAnalysis("anything", "anything"), Options{})
	require.NoError(t, err)

	// The reranker was configured but never ran, so the fused order
	// stands and the count stays zero.
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "c1", result.Chunks[0].Chunk.ID)
	assert.Equal(t, 0, result.Counts.Reranked)
	assert.Equal(t, int64(0), reranker.calls.Load())
}

func TestRetrieveRecencyOnlyWithoutVectorIsFallback(t *testing.T) {
	a := testChunk("c1", "n1", "recent thoughts", time.Hour)
	chunks := newFakeChunkStore(a)
	chunks.recent = []*store.RecencyResult{{ChunkID: "c1", UpdatedAt: a.UpdatedAt}}

	// No vector backend and no lexical hits: the only evidence is
	// recency, which is fallback regardless of why vector is absent.
	e, err := NewEngine(chunks, &fakeLexical{}, testEngineConfig())
	require.NoError(t, err)

	result, err := e.Retrieve(context.Background(), "tenant-a",
		testAnalysis("anything", "anything"), Options{})
	require.NoError(t, err)
	assert.Equal(t, ModeFallback, result.Mode)
	require.Len(t, result.Chunks, 1)
	assert.Greater(t, result.Chunks[0].RecencyScore, 0.0)
}

func TestRetrieveNoteFilters(t *testing.T) {
	a := testChunk("c1", "n1", "keep me", time.Hour)
	b := testChunk("c2", "n2", "exclude me", time.Hour)
	chunks := newFakeChunkStore(a, b)

	vector := &fakeVector{results: []*store.VectorResult{
		{ChunkID: "c1", Score: 0.9},
		{ChunkID: "c2", Score: 0.85},
	}}

	e, err := NewEngine(chunks, &fakeLexical{}, testEngineConfig(),
		WithVectorSearch(vector, &fakeEmbedder{}))
	require.NoError(t, err)

	result, err := e.Retrieve(context.Background(), "tenant-a",
		testAnalysis("anything", "anything"),
		Options{Filters: &Filters{ExcludeNotes: []string{"n2"}}})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "c1", result.Chunks[0].Chunk.ID)
}

func TestRetrieveCachesResults(t *testing.T) {
	a := testChunk("c1", "n1", "cached", time.Hour)
	chunks := newFakeChunkStore(a)

	vector := &fakeVector{results: []*store.VectorResult{{ChunkID: "c1", Score: 0.9}}}

	cfg := testEngineConfig()
	cfg.CacheSize = 16
	cfg.CacheTTL = time.Minute

	e, err := NewEngine(chunks, &fakeLexical{}, cfg,
		WithVectorSearch(vector, &fakeEmbedder{}))
	require.NoError(t, err)

	an := testAnalysis("cached question", "cached")
	first, err := e.Retrieve(context.Background(), "tenant-a", an, Options{})
	require.NoError(t, err)
	callsAfterFirst := chunks.getCalls.Load()

	second, err := e.Retrieve(context.Background(), "tenant-a", an, Options{})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, callsAfterFirst, chunks.getCalls.Load())

	// Filtered requests bypass the cache.
	_, err = e.Retrieve(context.Background(), "tenant-a", an,
		Options{Filters: &Filters{ExcludeNotes: []string{"none"}}})
	require.NoError(t, err)
	assert.Greater(t, chunks.getCalls.Load(), callsAfterFirst)
}

func TestRetrieveCacheKeyedByMinRelevance(t *testing.T) {
	a := testChunk("c1", "n1", "strong match", time.Hour)
	b := testChunk("c2", "n1", "middling match", time.Hour)
	chunks := newFakeChunkStore(a, b)

	vector := &fakeVector{results: []*store.VectorResult{
		{ChunkID: "c1", Score: 0.9},
		{ChunkID: "c2", Score: 0.6},
	}}

	cfg := testEngineConfig()
	cfg.CacheSize = 16
	cfg.CacheTTL = time.Minute

	e, err := NewEngine(chunks, &fakeLexical{}, cfg,
		WithVectorSearch(vector, &fakeEmbedder{}))
	require.NoError(t, err)

	an := testAnalysis("middling question", "middling")
	first, err := e.Retrieve(context.Background(), "tenant-a", an, Options{})
	require.NoError(t, err)
	require.Len(t, first.Chunks, 2)

	// Same query with a relevance floor must not be served the
	// unfloored cached result.
	floored, err := e.Retrieve(context.Background(), "tenant-a", an,
		Options{MinRelevance: 0.99})
	require.NoError(t, err)
	assert.NotSame(t, first, floored)
	require.Len(t, floored.Chunks, 1)
	assert.Equal(t, "c1", floored.Chunks[0].Chunk.ID)

	// The unfloored entry is still cached under its own key.
	again, err := e.Retrieve(context.Background(), "tenant-a", an, Options{})
	require.NoError(t, err)
	assert.Same(t, first, again)
}

func TestApplyContextBudgetUnit(t *testing.T) {
	mk := func(id string, size int) *ScoredChunk {
		return &ScoredChunk{Chunk: &store.Chunk{ID: id, Content: string(make([]byte, size))}}
	}
	in := []*ScoredChunk{mk("a", 10), mk("b", 10), mk("c", 10)}

	assert.Len(t, applyContextBudget(in, 30), 3)
	assert.Len(t, applyContextBudget(in, 25), 2)
	assert.Len(t, applyContextBudget(in, 5), 0)
	assert.Len(t, applyContextBudget(in, 0), 3) // zero budget disables the cutoff
}
