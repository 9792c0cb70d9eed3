package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/mnemosyne-notes/mnemo/internal/embed"
	mnerrors "github.com/mnemosyne-notes/mnemo/internal/errors"
	"github.com/mnemosyne-notes/mnemo/internal/query"
	"github.com/mnemosyne-notes/mnemo/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// rerankBlendCross and rerankBlendRRF blend the cross-encoder score with
// the fused score for the final ranking.
const (
	rerankBlendCross = 0.7
	rerankBlendRRF   = 0.3
)

// Engine runs the three retrieval sources concurrently and fuses their
// rankings. Safe for concurrent use.
type Engine struct {
	chunks   store.ChunkStore
	vector   store.VectorIndex
	lexical  store.LexicalIndex
	embedder embed.Embedder
	reranker Reranker
	fusion   *rrfFusion
	config   Config
	cache    *expirable.LRU[string, *Result]
	now      func() time.Time
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithReranker sets an optional cross-encoder reranker. Reranking applies
// after fusion; on any reranker failure the fused order is kept.
func WithReranker(r Reranker) EngineOption {
	return func(e *Engine) { e.reranker = r }
}

// WithVectorSearch enables the semantic source. When absent the engine
// runs in keyword_only mode.
func WithVectorSearch(index store.VectorIndex, embedder embed.Embedder) EngineOption {
	return func(e *Engine) {
		e.vector = index
		e.embedder = embedder
	}
}

// NewEngine creates a hybrid retrieval engine. The chunk store and lexical
// index are required; vector search and reranking are optional.
func NewEngine(chunks store.ChunkStore, lexical store.LexicalIndex, config Config, opts ...EngineOption) (*Engine, error) {
	if chunks == nil {
		return nil, fmt.Errorf("%w: chunk store is required", ErrNilDependency)
	}
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}

	def := DefaultEngineConfig()
	if config.DefaultK <= 0 {
		config.DefaultK = def.DefaultK
	}
	if config.MaxK <= 0 {
		config.MaxK = def.MaxK
	}
	if config.RRFConstant <= 0 {
		config.RRFConstant = def.RRFConstant
	}
	if config.Weights == (Weights{}) {
		config.Weights = def.Weights
	}
	if config.MultiSourceBoost <= 0 {
		config.MultiSourceBoost = def.MultiSourceBoost
	}
	if config.MinCosine <= 0 {
		config.MinCosine = def.MinCosine
	}
	if config.Horizon <= 0 {
		config.Horizon = def.Horizon
	}
	if config.ContextBudget <= 0 {
		config.ContextBudget = def.ContextBudget
	}
	if config.IdentifierBonus <= 0 {
		config.IdentifierBonus = def.IdentifierBonus
	}
	if config.RecencyHalfLife <= 0 {
		config.RecencyHalfLife = def.RecencyHalfLife
	}
	if config.RerankTimeout <= 0 {
		config.RerankTimeout = def.RerankTimeout
	}
	if config.SourceTimeout <= 0 {
		config.SourceTimeout = def.SourceTimeout
	}

	e := &Engine{
		chunks:  chunks,
		lexical: lexical,
		fusion:  newRRFFusion(config.RRFConstant, config.Weights, config.MultiSourceBoost),
		config:  config,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if config.CacheSize > 0 {
		e.cache = expirable.NewLRU[string, *Result](config.CacheSize, nil, config.CacheTTL)
	}
	return e, nil
}

// Retrieve runs hybrid retrieval for one analyzed question. A single
// source failing degrades gracefully; the call fails only when every
// available source fails.
func (e *Engine) Retrieve(ctx context.Context, tenantID string, analysis *query.Analysis, opts Options) (*Result, error) {
	start := e.now()
	opts = e.applyDefaults(opts, analysis)

	total, err := e.chunks.CountChunks(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return &Result{Chunks: []*ScoredChunk{}, Mode: ModeFallback, EmptyCorpus: true}, nil
	}

	cacheKey := ""
	if e.cache != nil && opts.Filters == nil {
		// MinRelevance changes what applyFilters keeps, so it must be
		// part of the key or a floored request would be served an
		// unfloored cached result.
		cacheKey = fmt.Sprintf("%s\x00%s\x00%d\x00%g",
			tenantID, analysis.Normalized, opts.K, opts.MinRelevance)
		if cached, ok := e.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	vectorAvailable := e.vector != nil && e.embedder != nil

	state := &searchState{horizon: opts.Horizon, overFetch: opts.K * 2}
	e.fanOut(ctx, tenantID, analysis, state, vectorAvailable)

	if state.allFailed(vectorAvailable) {
		return nil, mnerrors.BackendError("all retrieval sources failed",
			errors.Join(state.vecErr, state.lexErr, state.recErr))
	}

	fuseStart := e.now()
	fused := e.fusion.Fuse(state.vectorHits, state.lexicalHits, state.recencyHits)
	fusionTime := e.now().Sub(fuseStart)

	scored, err := e.enrich(ctx, tenantID, fused, state.arena)
	if err != nil {
		return nil, err
	}

	scored = applyFilters(scored, opts)

	counts := StageCounts{
		Vector:  len(state.vectorHits),
		Lexical: len(state.lexicalHits),
		Recency: len(state.recencyHits),
		Merged:  len(scored),
	}

	rerankStart := e.now()
	scored, counts.Reranked = e.rerank(ctx, analysis, scored, opts.RerankWidth)
	rerankTime := e.now().Sub(rerankStart)

	if len(scored) > opts.K {
		scored = scored[:opts.K]
	}
	scored = applyContextBudget(scored, opts.ContextBudget)
	counts.Final = len(scored)

	result := &Result{
		Chunks: scored,
		Mode:   e.mode(vectorAvailable, state),
		Counts: counts,
		Timings: StageTimings{
			Vector:  state.vectorTime,
			Lexical: state.lexicalTime,
			Recency: state.recencyTime,
			Fusion:  fusionTime,
			Rerank:  rerankTime,
			Total:   e.now().Sub(start),
		},
	}

	if cacheKey != "" {
		e.cache.Add(cacheKey, result)
	}
	return result, nil
}

// searchState collects per-source hits, errors, and timings for one
// request. The arena holds chunks already fetched by the vector source so
// enrichment fetches each chunk at most once.
type searchState struct {
	horizon   time.Duration
	overFetch int

	vectorHits  []*sourceHit
	lexicalHits []*sourceHit
	recencyHits []*sourceHit

	vecErr error
	lexErr error
	recErr error

	vectorTime  time.Duration
	lexicalTime time.Duration
	recencyTime time.Duration

	arena map[string]*store.Chunk
}

func (s *searchState) allFailed(vectorAvailable bool) bool {
	if s.lexErr == nil || s.recErr == nil {
		return false
	}
	return !vectorAvailable || s.vecErr != nil
}

// fanOut runs the three sources concurrently. Errors are captured per
// source, never propagated through the group, so one failing source does
// not cancel its siblings.
func (e *Engine) fanOut(ctx context.Context, tenantID string, analysis *query.Analysis, state *searchState, vectorAvailable bool) {
	g, gctx := errgroup.WithContext(ctx)

	if vectorAvailable {
		g.Go(func() error {
			start := e.now()
			sctx, cancel := context.WithTimeout(gctx, e.config.SourceTimeout)
			defer cancel()
			hits, arena, err := e.vectorSearch(sctx, tenantID, analysis, state.overFetch, state.horizon)
			state.vectorTime = e.now().Sub(start)
			if err != nil {
				state.vecErr = err
				slog.Warn("vector search failed, continuing with remaining sources",
					slog.String("tenant_id", tenantID),
					slog.String("error", err.Error()))
				return nil
			}
			state.vectorHits = hits
			state.arena = arena
			return nil
		})
	}

	g.Go(func() error {
		start := e.now()
		sctx, cancel := context.WithTimeout(gctx, e.config.SourceTimeout)
		defer cancel()
		hits, err := e.lexicalSearch(sctx, tenantID, analysis, state.overFetch)
		state.lexicalTime = e.now().Sub(start)
		if err != nil {
			state.lexErr = err
			slog.Warn("lexical search failed, continuing with remaining sources",
				slog.String("tenant_id", tenantID),
				slog.String("error", err.Error()))
			return nil
		}
		state.lexicalHits = hits
		return nil
	})

	g.Go(func() error {
		start := e.now()
		sctx, cancel := context.WithTimeout(gctx, e.config.SourceTimeout)
		defer cancel()
		hits, err := e.recencySearch(sctx, tenantID, state.overFetch, state.horizon)
		state.recencyTime = e.now().Sub(start)
		if err != nil {
			state.recErr = err
			slog.Warn("recency search failed, continuing with remaining sources",
				slog.String("tenant_id", tenantID),
				slog.String("error", err.Error()))
			return nil
		}
		state.recencyHits = hits
		return nil
	})

	_ = g.Wait()
}

// vectorSearch embeds the query and finds nearest neighbors, over-fetching
// 2x the final K. Hits below the cosine floor or older than the horizon
// are dropped. Chunk data for survivors is fetched in one batched call and
// returned as the arena for later enrichment.
func (e *Engine) vectorSearch(ctx context.Context, tenantID string, analysis *query.Analysis, k int, horizon time.Duration) ([]*sourceHit, map[string]*store.Chunk, error) {
	embedding, err := e.embedder.Embed(ctx, analysis.Normalized)
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := e.vector.Search(ctx, tenantID, embedding, k)
	if err != nil {
		return nil, nil, fmt.Errorf("vector search: %w", err)
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		if float64(r.Score) < e.config.MinCosine {
			continue
		}
		ids = append(ids, r.ChunkID)
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}

	chunks, err := e.chunks.GetChunks(ctx, tenantID, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("enrich vector hits: %w", err)
	}
	arena := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		arena[c.ID] = c
	}

	cutoff := e.now().Add(-horizon)
	hits := make([]*sourceHit, 0, len(ids))
	for _, r := range results {
		c, ok := arena[r.ChunkID]
		if !ok {
			continue
		}
		if c.UpdatedAt.Before(cutoff) {
			delete(arena, r.ChunkID)
			continue
		}
		hits = append(hits, &sourceHit{ChunkID: r.ChunkID, Score: float64(r.Score)})
	}
	return hits, arena, nil
}

// lexicalSearch queries the term index and rescores hits as the fraction
// of query keywords present, with a bonus per matched identifier.
func (e *Engine) lexicalSearch(ctx context.Context, tenantID string, analysis *query.Analysis, k int) ([]*sourceHit, error) {
	results, err := e.lexical.Search(ctx, tenantID, analysis.Normalized, k)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	identifiers := make(map[string]struct{}, len(analysis.Identifiers))
	for _, id := range analysis.Identifiers {
		identifiers[strings.ToLower(id)] = struct{}{}
	}

	hits := make([]*sourceHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, &sourceHit{
			ChunkID:      r.ChunkID,
			Score:        e.lexicalScore(analysis.Keywords, r.MatchedTerms, identifiers),
			MatchedTerms: r.MatchedTerms,
		})
	}
	return hits, nil
}

// lexicalScore is the min-based keyword overlap plus the identifier bonus,
// capped at 1.0.
func (e *Engine) lexicalScore(keywords, matched []string, identifiers map[string]struct{}) float64 {
	if len(keywords) == 0 || len(matched) == 0 {
		return 0
	}
	matchedSet := make(map[string]struct{}, len(matched))
	for _, m := range matched {
		matchedSet[strings.ToLower(m)] = struct{}{}
	}

	found := 0
	bonus := 0.0
	for _, kw := range keywords {
		lower := strings.ToLower(kw)
		if _, ok := matchedSet[lower]; !ok {
			continue
		}
		found++
		if _, isID := identifiers[lower]; isID {
			bonus += e.config.IdentifierBonus
		}
	}

	score := float64(found)/float64(len(keywords)) + bonus
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// recencySearch returns the newest chunks within the horizon, scored by
// exponential age decay with the configured half-life.
func (e *Engine) recencySearch(ctx context.Context, tenantID string, k int, horizon time.Duration) ([]*sourceHit, error) {
	since := e.now().Add(-horizon)
	results, err := e.chunks.ListRecent(ctx, tenantID, since, k)
	if err != nil {
		return nil, fmt.Errorf("recency search: %w", err)
	}

	now := e.now()
	hits := make([]*sourceHit, 0, len(results))
	for _, r := range results {
		age := now.Sub(r.UpdatedAt)
		if age < 0 {
			age = 0
		}
		score := math.Exp2(-age.Hours() / e.config.RecencyHalfLife.Hours())
		hits = append(hits, &sourceHit{ChunkID: r.ChunkID, Score: score})
	}
	return hits, nil
}

// enrich attaches full chunk data to fused results. Chunks already fetched
// by the vector source come from the arena; the rest are fetched in one
// batched call. Fused entries whose chunk has vanished are dropped.
func (e *Engine) enrich(ctx context.Context, tenantID string, fused []*fusedChunk, arena map[string]*store.Chunk) ([]*ScoredChunk, error) {
	if len(fused) == 0 {
		return []*ScoredChunk{}, nil
	}
	if arena == nil {
		arena = make(map[string]*store.Chunk)
	}

	var missing []string
	for _, f := range fused {
		if _, ok := arena[f.chunkID]; !ok {
			missing = append(missing, f.chunkID)
		}
	}
	if len(missing) > 0 {
		chunks, err := e.chunks.GetChunks(ctx, tenantID, missing)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			arena[c.ID] = c
		}
	}

	results := make([]*ScoredChunk, 0, len(fused))
	for _, f := range fused {
		c, ok := arena[f.chunkID]
		if !ok {
			continue
		}
		results = append(results, &ScoredChunk{
			Chunk:        c,
			Score:        f.rrfScore,
			VectorScore:  f.vectorScore,
			LexicalScore: f.lexicalScore,
			RecencyScore: f.recencyScore,
			SourceCount:  f.sourceCount,
			MatchedTerms: f.matchedTerms,
		})
	}
	return results, nil
}

// rerank blends cross-encoder scores with fused scores for the top
// candidates. Any failure keeps the fused order. The second return is
// the number of candidates actually reranked, zero unless a blend
// happened.
func (e *Engine) rerank(ctx context.Context, analysis *query.Analysis, scored []*ScoredChunk, width int) ([]*ScoredChunk, int) {
	if e.reranker == nil || len(scored) < 2 || width < 2 {
		return scored, 0
	}

	head := scored
	if len(head) > width {
		head = head[:width]
	}

	rctx, cancel := context.WithTimeout(ctx, e.config.RerankTimeout)
	defer cancel()

	if !e.reranker.Available(rctx) {
		return scored, 0
	}

	texts := make([]string, len(head))
	for i, s := range head {
		texts[i] = s.Chunk.Content
	}

	crossScores, err := e.reranker.Rerank(rctx, analysis.Normalized, analysis.QueryType, texts)
	if err != nil {
		slog.Warn("rerank failed, keeping fused order", slog.String("error", err.Error()))
		return scored, 0
	}
	if len(crossScores) != len(head) {
		slog.Warn("rerank returned wrong score count, keeping fused order",
			slog.Int("want", len(head)), slog.Int("got", len(crossScores)))
		return scored, 0
	}

	for i, s := range head {
		s.RerankScore = crossScores[i]
		s.Score = rerankBlendCross*crossScores[i] + rerankBlendRRF*s.Score
	}
	sort.SliceStable(head, func(i, j int) bool {
		if head[i].Score != head[j].Score {
			return head[i].Score > head[j].Score
		}
		return head[i].Chunk.ID < head[j].Chunk.ID
	})
	return scored, len(head)
}

// mode labels which sources produced the final ranking.
func (e *Engine) mode(vectorAvailable bool, state *searchState) Mode {
	if !vectorAvailable {
		if len(state.lexicalHits) == 0 {
			return ModeFallback // recency only, or nothing at all
		}
		return ModeKeywordOnly
	}
	hasVector := len(state.vectorHits) > 0
	hasLexical := len(state.lexicalHits) > 0
	hasRecency := len(state.recencyHits) > 0
	switch {
	case !hasVector && !hasLexical:
		return ModeFallback // recency only, or nothing at all
	case hasVector && (hasLexical || hasRecency):
		return ModeHybrid
	case hasVector:
		return ModeVector
	default:
		return ModeKeywordOnly
	}
}

// applyDefaults resolves per-request options against the analysis and the
// engine configuration.
func (e *Engine) applyDefaults(opts Options, analysis *query.Analysis) Options {
	if opts.K <= 0 {
		opts.K = analysis.CandidateK
	}
	if opts.K <= 0 {
		opts.K = e.config.DefaultK
	}
	if opts.K > e.config.MaxK {
		opts.K = e.config.MaxK
	}
	if opts.RerankWidth <= 0 {
		opts.RerankWidth = analysis.RerankWidth
	}
	if opts.RerankWidth <= 0 {
		opts.RerankWidth = opts.K * 3
	}
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = e.config.ContextBudget
	}
	if opts.Horizon <= 0 {
		if analysis.TimeHint != nil && analysis.TimeHint.DaysBack > 0 {
			opts.Horizon = time.Duration(analysis.TimeHint.DaysBack) * 24 * time.Hour
		} else {
			opts.Horizon = e.config.Horizon
		}
	}
	return opts
}

// applyFilters drops chunks excluded by note filters or below the
// relevance floor. Order is preserved.
func applyFilters(scored []*ScoredChunk, opts Options) []*ScoredChunk {
	f := opts.Filters
	if f == nil && opts.MinRelevance <= 0 {
		return scored
	}

	var include map[string]struct{}
	var exclude map[string]struct{}
	var tags map[string]struct{}
	if f != nil {
		if len(f.IncludeNotes) > 0 {
			include = make(map[string]struct{}, len(f.IncludeNotes))
			for _, id := range f.IncludeNotes {
				include[id] = struct{}{}
			}
		}
		if len(f.ExcludeNotes) > 0 {
			exclude = make(map[string]struct{}, len(f.ExcludeNotes))
			for _, id := range f.ExcludeNotes {
				exclude[id] = struct{}{}
			}
		}
		if len(f.Tags) > 0 {
			tags = make(map[string]struct{}, len(f.Tags))
			for _, tag := range f.Tags {
				tags[strings.ToLower(tag)] = struct{}{}
			}
		}
	}

	filtered := make([]*ScoredChunk, 0, len(scored))
	for _, s := range scored {
		if opts.MinRelevance > 0 && s.Score < opts.MinRelevance {
			continue
		}
		if include != nil {
			if _, ok := include[s.Chunk.NoteID]; !ok {
				continue
			}
		}
		if exclude != nil {
			if _, ok := exclude[s.Chunk.NoteID]; ok {
				continue
			}
		}
		if tags != nil && !hasAnyTag(s.Chunk.Tags, tags) {
			continue
		}
		if f != nil {
			if !f.After.IsZero() && s.Chunk.UpdatedAt.Before(f.After) {
				continue
			}
			if !f.Before.IsZero() && s.Chunk.UpdatedAt.After(f.Before) {
				continue
			}
		}
		filtered = append(filtered, s)
	}
	return filtered
}

func hasAnyTag(chunkTags []string, want map[string]struct{}) bool {
	for _, t := range chunkTags {
		if _, ok := want[strings.ToLower(t)]; ok {
			return true
		}
	}
	return false
}

// applyContextBudget adds chunks in order until the next chunk's text
// would exceed the remaining budget. Later chunks are dropped even if
// above the relevance floor.
func applyContextBudget(scored []*ScoredChunk, budget int) []*ScoredChunk {
	if budget <= 0 {
		return scored
	}
	used := 0
	for i, s := range scored {
		if used+len(s.Chunk.Content) > budget {
			return scored[:i]
		}
		used += len(s.Chunk.Content)
	}
	return scored
}
