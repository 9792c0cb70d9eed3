package confidence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemosyne-notes/mnemo/internal/citation"
	"github.com/mnemosyne-notes/mnemo/internal/retrieval"
	"github.com/mnemosyne-notes/mnemo/internal/store"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int                    { return len(f.vec) }
func (f *fakeEmbedder) ModelName() string                  { return "fake" }
func (f *fakeEmbedder) Available(ctx context.Context) bool { return true }
func (f *fakeEmbedder) Close() error                       { return nil }

func pairPack(contents ...string) *citation.SourcesPack {
	chunks := make([]*retrieval.ScoredChunk, 0, len(contents))
	for i, c := range contents {
		chunks = append(chunks, &retrieval.ScoredChunk{
			Chunk: &store.Chunk{
				ID:        string(rune('a' + i)),
				NoteID:    "n1",
				Content:   c,
				CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			},
			Score: 0.9,
		})
	}
	return citation.BuildSourcesPack(chunks, nil, 0)
}

func TestPairScorerVerbatimClaim(t *testing.T) {
	source := "the database migration failed with a postgres timeout."
	pack := pairPack(source)
	s := NewPairScorer(DefaultPairScorerConfig(), nil)

	pairs := s.Score(context.Background(), "the database migration failed with a postgres timeout [N1].", pack)
	require.Len(t, pairs, 1)
	assert.Equal(t, "N1", pairs[0].CitationID)
	assert.InDelta(t, 1.0, pairs[0].Lexical, 0.001)
	assert.InDelta(t, 1.0, pairs[0].NGram, 0.001)
	assert.InDelta(t, 1.0, pairs[0].Entity, 0.001)
	assert.InDelta(t, 1.0, pairs[0].Combined, 0.001)
	assert.False(t, pairs[0].BelowFloor)
}

func TestPairScorerUnrelatedClaimFlagged(t *testing.T) {
	pack := pairPack("gardening tomato seedlings basil watering schedule sunlight")
	s := NewPairScorer(DefaultPairScorerConfig(), nil)

	pairs := s.Score(context.Background(), "the quarterly budget review happened yesterday [N1].", pack)
	require.Len(t, pairs, 1)
	assert.Zero(t, pairs[0].Lexical)
	assert.Zero(t, pairs[0].NGram)
	// Without the semantic component the remaining weights renormalize;
	// entity alignment is trivially 1.0 for an entity-free claim.
	assert.InDelta(t, 0.25, pairs[0].Combined, 0.001)
	assert.True(t, pairs[0].BelowFloor)
}

func TestPairScorerSemanticComponent(t *testing.T) {
	pack := pairPack("some loosely related source text about deployments")
	s := NewPairScorer(DefaultPairScorerConfig(), &fakeEmbedder{vec: []float32{1, 0, 0, 0}})

	pairs := s.Score(context.Background(), "the deployment pipeline text was related [N1].", pack)
	require.Len(t, pairs, 1)
	assert.InDelta(t, 1.0, pairs[0].Semantic, 0.001, "identical fake vectors have cosine 1")
	assert.Greater(t, pairs[0].Combined, 0.4)
}

func TestPairScorerEmbedderFailureDegrades(t *testing.T) {
	source := "the database migration failed with a postgres timeout."
	pack := pairPack(source)
	s := NewPairScorer(DefaultPairScorerConfig(), &fakeEmbedder{err: assert.AnError})

	pairs := s.Score(context.Background(), "the database migration failed with a postgres timeout [N1].", pack)
	require.Len(t, pairs, 1)
	assert.Zero(t, pairs[0].Semantic)
	assert.InDelta(t, 1.0, pairs[0].Combined, 0.001)
}

func TestPairScorerSkipsUncitedSentences(t *testing.T) {
	pack := pairPack("anything")
	s := NewPairScorer(DefaultPairScorerConfig(), nil)

	pairs := s.Score(context.Background(), "No markers in this sentence at all.", pack)
	assert.Empty(t, pairs)
}

func TestEntityAlignment(t *testing.T) {
	assert.InDelta(t, 1.0, entityAlignment("met with Maria in Lisbon", "Maria lives in Lisbon"), 0.001)
	assert.InDelta(t, 0.5, entityAlignment("met with Maria in Lisbon", "Maria was at the office"), 0.001)
	assert.InDelta(t, 1.0, entityAlignment("no proper nouns here", "whatever"), 0.001)
}
