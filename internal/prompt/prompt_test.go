package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemosyne-notes/mnemo/internal/citation"
	"github.com/mnemosyne-notes/mnemo/internal/query"
	"github.com/mnemosyne-notes/mnemo/internal/retrieval"
	"github.com/mnemosyne-notes/mnemo/internal/store"
)

func testPack(contents ...string) *citation.SourcesPack {
	chunks := make([]*retrieval.ScoredChunk, 0, len(contents))
	for i, c := range contents {
		chunks = append(chunks, &retrieval.ScoredChunk{
			Chunk: &store.Chunk{
				ID:        string(rune('a' + i)),
				NoteID:    "n1",
				Content:   c,
				CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			},
			Score: 1.0 - 0.3*float64(i),
		})
	}
	return citation.BuildSourcesPack(chunks, nil, 0)
}

func TestBuildStructuredTier(t *testing.T) {
	b := NewBuilder(TierStructured)
	p := b.Build(Request{
		Question: "what did we decide about the database?",
		Analysis: &query.Analysis{Intent: query.IntentDecision},
		Pack:     testPack("We decided to use postgres.", "Backup plan was sqlite."),
	})

	require.NotEmpty(t, p.System)
	assert.Contains(t, p.System, "CITATION RULES")
	assert.Contains(t, p.System, "[N<number>]")
	assert.Contains(t, p.System, "Lead with the decision")

	assert.Contains(t, p.User, "=== SOURCES ===")
	assert.Contains(t, p.User, "[N1]")
	assert.Contains(t, p.User, "[N2]")
	assert.Contains(t, p.User, "We decided to use postgres.")
	assert.Contains(t, p.User, "=== QUESTION ===")
	assert.Contains(t, p.User, "what did we decide about the database?")
	assert.NotContains(t, p.User, "CONVERSATION SO FAR")
}

func TestBuildLegacyTierFoldsRulesIntoUserPrompt(t *testing.T) {
	b := NewBuilder(TierLegacy)
	p := b.Build(Request{Question: "q", Pack: testPack("content")})

	assert.Empty(t, p.System)
	assert.Contains(t, p.User, "CITATION RULES")
	assert.Contains(t, p.User, "=== SOURCES ===")
}

func TestBuildAgenticTierAddsPreamble(t *testing.T) {
	b := NewBuilder(TierAgentic)
	p := b.Build(Request{Question: "q", Pack: testPack("content")})
	assert.Contains(t, p.System, "silently extract")

	structured := NewBuilder(TierStructured).Build(Request{Question: "q", Pack: testPack("content")})
	assert.NotContains(t, structured.System, "silently extract")
}

func TestBuildHistoryIsNonCitable(t *testing.T) {
	b := NewBuilder(TierStructured)
	p := b.Build(Request{
		Question: "and what about the backup?",
		Pack:     testPack("Backup plan was sqlite."),
		History: []HistoryTurn{
			{Role: "user", Content: "what database do we use?"},
			{Role: "assistant", Content: "Postgres [1]."},
		},
	})

	idx := strings.Index(p.User, "CONVERSATION SO FAR (context only, never cite)")
	require.GreaterOrEqual(t, idx, 0)
	assert.Contains(t, p.User, "user: what database do we use?")

	// History comes after the sources and before the question.
	assert.Less(t, strings.Index(p.User, "=== SOURCES ==="), idx)
	assert.Greater(t, strings.Index(p.User, "=== QUESTION ==="), idx)
}

func TestBuildCustomSystemKeepsGrammar(t *testing.T) {
	b := NewBuilder(TierStructured)
	p := b.Build(Request{
		Question:     "q",
		Pack:         testPack("content"),
		CustomSystem: "You are a pirate.",
	})

	assert.Contains(t, p.System, "You are a pirate.")
	assert.Contains(t, p.System, "CITATION RULES")
	assert.NotContains(t, p.System, "personal notes assistant")
}

func TestBuildFormatAndLanguage(t *testing.T) {
	b := NewBuilder(TierStructured)
	p := b.Build(Request{
		Question: "q",
		Pack:     testPack("content"),
		Format:   FormatBullet,
		Language: "pt-BR",
	})

	assert.Contains(t, p.System, "bulleted list")
	assert.Contains(t, p.System, "Answer in pt-BR.")
}

func TestBuildEmptyPack(t *testing.T) {
	b := NewBuilder(TierStructured)
	p := b.Build(Request{Question: "q", Pack: testPack()})
	assert.Contains(t, p.User, "(no sources found)")
}

func TestRelevanceStars(t *testing.T) {
	assert.Equal(t, "★★★★★", relevanceStars(1.0))
	assert.Equal(t, "★★★☆☆", relevanceStars(0.5))
	assert.Equal(t, "★☆☆☆☆", relevanceStars(0.0))
	assert.Equal(t, "★☆☆☆☆", relevanceStars(-1))
}

func TestBuildRepairIncludesPreviousAnswer(t *testing.T) {
	b := NewBuilder(TierStructured)
	p := b.BuildRepair(Request{
		Question: "When did the deploy fail?",
		Pack:     testPack("The deploy failed at 02:00 after the timeout."),
	}, "The deploy failed on Tuesday.")

	assert.Contains(t, p.System, "CITATION RULES")
	assert.Contains(t, p.User, "=== PREVIOUS ANSWER")
	assert.Contains(t, p.User, "The deploy failed on Tuesday.")
	assert.Contains(t, p.User, "Rewrite the previous answer")
}

func TestNewBuilderUnknownTierFallsBack(t *testing.T) {
	assert.Equal(t, TierStructured, NewBuilder("bogus").Tier())
}
