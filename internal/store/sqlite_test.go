package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mnerrors "github.com/mnemosyne-notes/mnemo/internal/errors"
)

func newTestChunkStore(t *testing.T) *SQLiteChunkStore {
	t.Helper()
	s, err := NewSQLiteChunkStore(":memory:", 16)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testChunk(tenant, id, noteID string, updated time.Time) *Chunk {
	return &Chunk{
		ID:        id,
		NoteID:    noteID,
		TenantID:  tenant,
		Title:     "Test Note",
		Content:   "some content for " + id,
		Tags:      []string{"work"},
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
	}
}

func TestSQLiteChunkStore_SaveAndGet(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()
	now := time.Now()

	chunk := testChunk("user-1", "c1", "n1", now)
	chunk.Folder = "projects/alpha"
	chunk.Position = 2
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{chunk}))

	got, err := s.GetChunk(ctx, "user-1", "c1")
	require.NoError(t, err)

	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, "n1", got.NoteID)
	assert.Equal(t, "user-1", got.TenantID)
	assert.Equal(t, "Test Note", got.Title)
	assert.Equal(t, "projects/alpha", got.Folder)
	assert.Equal(t, []string{"work"}, got.Tags)
	assert.Equal(t, 2, got.Position)
	assert.Equal(t, now.UnixNano(), got.UpdatedAt.UnixNano())
}

func TestSQLiteChunkStore_GetChunkNotFound(t *testing.T) {
	s := newTestChunkStore(t)

	_, err := s.GetChunk(context.Background(), "user-1", "missing")
	require.Error(t, err)
	assert.Equal(t, mnerrors.ErrCodeChunkNotFound, mnerrors.GetCode(err))
}

func TestSQLiteChunkStore_TenantIsolation(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveChunks(ctx, []*Chunk{testChunk("alice", "c1", "n1", now)}))

	// Bob cannot see Alice's chunk.
	_, err := s.GetChunk(ctx, "bob", "c1")
	assert.Equal(t, mnerrors.ErrCodeChunkNotFound, mnerrors.GetCode(err))

	chunks, err := s.GetChunks(ctx, "bob", []string{"c1"})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSQLiteChunkStore_BatchGetSkipsMissing(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		testChunk("user-1", "c1", "n1", now),
		testChunk("user-1", "c2", "n1", now),
	}))

	chunks, err := s.GetChunks(ctx, "user-1", []string{"c1", "c2", "ghost"})
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestSQLiteChunkStore_Upsert(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()
	now := time.Now()

	chunk := testChunk("user-1", "c1", "n1", now)
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{chunk}))

	chunk.Content = "revised content"
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{chunk}))

	got, err := s.GetChunk(ctx, "user-1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "revised content", got.Content)

	count, err := s.CountChunks(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLiteChunkStore_GetChunksByNoteOrdersByPosition(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()
	now := time.Now()

	c0 := testChunk("user-1", "c0", "n1", now)
	c0.Position = 0
	c1 := testChunk("user-1", "c1", "n1", now)
	c1.Position = 1
	c2 := testChunk("user-1", "c2", "n1", now)
	c2.Position = 2

	// Insert out of order.
	require.NoError(t, s.SaveChunks(ctx, []*Chunk{c2, c0, c1}))

	chunks, err := s.GetChunksByNote(ctx, "user-1", "n1")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "c0", chunks[0].ID)
	assert.Equal(t, "c1", chunks[1].ID)
	assert.Equal(t, "c2", chunks[2].ID)
}

func TestSQLiteChunkStore_DeleteChunksByNote(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		testChunk("user-1", "c1", "n1", now),
		testChunk("user-1", "c2", "n1", now),
		testChunk("user-1", "c3", "n2", now),
	}))

	require.NoError(t, s.DeleteChunksByNote(ctx, "user-1", "n1"))

	count, err := s.CountChunks(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := s.GetChunk(ctx, "user-1", "c3")
	require.NoError(t, err)
	assert.Equal(t, "n2", got.NoteID)
}

func TestSQLiteChunkStore_ListRecent(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, s.SaveChunks(ctx, []*Chunk{
		testChunk("user-1", "old", "n1", base.Add(-100*24*time.Hour)),
		testChunk("user-1", "mid", "n2", base.Add(-10*24*time.Hour)),
		testChunk("user-1", "new", "n3", base.Add(-time.Hour)),
		testChunk("other", "theirs", "n4", base),
	}))

	// Given a 90 day horizon
	since := base.Add(-90 * 24 * time.Hour)

	// When listing recent chunks
	results, err := s.ListRecent(ctx, "user-1", since, 10)
	require.NoError(t, err)

	// Then only in-horizon chunks return, newest first, own tenant only
	require.Len(t, results, 2)
	assert.Equal(t, "new", results[0].ChunkID)
	assert.Equal(t, "mid", results[1].ChunkID)
}

func TestSQLiteChunkStore_ListRecentLimit(t *testing.T) {
	s := newTestChunkStore(t)
	ctx := context.Background()
	base := time.Now()

	var chunks []*Chunk
	for i := 0; i < 5; i++ {
		chunks = append(chunks, testChunk("user-1", string(rune('a'+i)), "n1", base.Add(time.Duration(i)*time.Minute)))
	}
	require.NoError(t, s.SaveChunks(ctx, chunks))

	results, err := s.ListRecent(ctx, "user-1", base.Add(-time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "e", results[0].ChunkID)
	assert.Equal(t, "d", results[1].ChunkID)
}

func TestSQLiteChunkStore_SaveValidation(t *testing.T) {
	s := newTestChunkStore(t)

	err := s.SaveChunks(context.Background(), []*Chunk{{ID: "", TenantID: "user-1"}})
	require.Error(t, err)
	assert.Equal(t, mnerrors.CategoryValidation, mnerrors.GetCategory(err))
}
