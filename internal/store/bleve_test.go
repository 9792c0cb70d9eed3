package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLexicalIndex(t *testing.T) *BleveLexicalIndex {
	t.Helper()
	idx, err := NewBleveLexicalIndex("", DefaultLexicalConfig())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func lexChunk(tenant, id, title, content string) *Chunk {
	return &Chunk{
		ID:        id,
		NoteID:    "note-" + id,
		TenantID:  tenant,
		Title:     title,
		Content:   content,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestBleveLexicalIndex_IndexAndSearch(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Chunk{
		lexChunk("user-1", "c1", "Standup", "discussed the quarterly budget review"),
		lexChunk("user-1", "c2", "Groceries", "milk eggs bread"),
	}))

	results, err := idx.Search(ctx, "user-1", "budget review", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Greater(t, results[0].Score, 0.0)
	assert.NotEmpty(t, results[0].MatchedTerms)
}

func TestBleveLexicalIndex_TenantIsolation(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Chunk{
		lexChunk("alice", "a1", "Secrets", "launch codes for project atlas"),
		lexChunk("bob", "b1", "Shopping", "new keyboard"),
	}))

	// Bob searching Alice's terms gets nothing.
	results, err := idx.Search(ctx, "bob", "launch codes atlas", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(ctx, "alice", "launch codes", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a1", results[0].ChunkID)
}

func TestBleveLexicalIndex_TitleMatchRanksFirst(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Chunk{
		lexChunk("user-1", "body", "Random thoughts", "kubernetes cluster upgrade went fine"),
		lexChunk("user-1", "titled", "Kubernetes upgrade plan", "step one drain the nodes"),
	}))

	results, err := idx.Search(ctx, "user-1", "kubernetes upgrade", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "titled", results[0].ChunkID)
}

func TestBleveLexicalIndex_CompoundIdentifierMatch(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Chunk{
		lexChunk("user-1", "c1", "Debug log", "the getUserName helper returns stale data"),
	}))

	// Searching a sub-word of a camelCase identifier finds the chunk.
	results, err := idx.Search(ctx, "user-1", "user", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestBleveLexicalIndex_Delete(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Chunk{
		lexChunk("user-1", "c1", "Note", "ephemeral content"),
	}))
	require.NoError(t, idx.Delete(ctx, []string{"c1"}))

	results, err := idx.Search(ctx, "user-1", "ephemeral", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveLexicalIndex_Reindex(t *testing.T) {
	idx := newTestLexicalIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Index(ctx, []*Chunk{
		lexChunk("user-1", "c1", "Note", "original topic cooking"),
	}))
	require.NoError(t, idx.Index(ctx, []*Chunk{
		lexChunk("user-1", "c1", "Note", "replaced topic woodworking"),
	}))

	results, err := idx.Search(ctx, "user-1", "cooking", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(ctx, "user-1", "woodworking", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}

func TestBleveLexicalIndex_EmptyQuery(t *testing.T) {
	idx := newTestLexicalIndex(t)

	results, err := idx.Search(context.Background(), "user-1", "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBleveLexicalIndex_ClosedIndex(t *testing.T) {
	idx := newTestLexicalIndex(t)
	require.NoError(t, idx.Close())

	_, err := idx.Search(context.Background(), "user-1", "anything", 10)
	assert.Error(t, err)

	err = idx.Index(context.Background(), []*Chunk{lexChunk("user-1", "c1", "t", "c")})
	assert.Error(t, err)
}

func TestBleveLexicalIndex_CorruptionDetection(t *testing.T) {
	t.Run("missing meta is corrupt", func(t *testing.T) {
		dir := t.TempDir()
		// A directory without index_meta.json looks like an interrupted write.
		assert.Error(t, validateIndexIntegrity(dir))
	})

	t.Run("nonexistent path is fine", func(t *testing.T) {
		assert.NoError(t, validateIndexIntegrity(t.TempDir()+"/does-not-exist"))
	})
}
