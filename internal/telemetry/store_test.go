package telemetry

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)

	require.NoError(t, InitAggregateSchema(db))

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestSQLiteAggregateStore_IntentCounts(t *testing.T) {
	store, err := NewSQLiteAggregateStore(setupTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.SaveIntentCounts("2026-08-25", map[string]int64{
		"question": 10,
		"list":     5,
	}))

	result, err := store.GetIntentCounts("2026-08-25", "2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, int64(10), result["question"])
	assert.Equal(t, int64(5), result["list"])
}

func TestSQLiteAggregateStore_IntentCountsIncremental(t *testing.T) {
	store, err := NewSQLiteAggregateStore(setupTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.SaveIntentCounts("2026-08-25", map[string]int64{"question": 3}))
	require.NoError(t, store.SaveIntentCounts("2026-08-25", map[string]int64{"question": 4}))

	result, err := store.GetIntentCounts("2026-08-25", "2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, int64(7), result["question"])
}

func TestSQLiteAggregateStore_TermCounts(t *testing.T) {
	store, err := NewSQLiteAggregateStore(setupTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.UpsertTermCounts(map[string]int64{"postgres": 2, "deploy": 1}))
	require.NoError(t, store.UpsertTermCounts(map[string]int64{"postgres": 3}))

	terms, err := store.GetTopTerms(10)
	require.NoError(t, err)
	require.NotEmpty(t, terms)
	assert.Equal(t, "postgres", terms[0].Term)
	assert.Equal(t, int64(5), terms[0].Count)
}

func TestSQLiteAggregateStore_UnansweredQuestions(t *testing.T) {
	store, err := NewSQLiteAggregateStore(setupTestDB(t))
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, store.AddUnansweredQuestion("what about gardening?", now))
	require.NoError(t, store.AddUnansweredQuestion("what about sailing?", now))

	questions, err := store.GetUnansweredQuestions(10)
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, "what about sailing?", questions[0], "newest first")
}

func TestSQLiteAggregateStore_UnansweredTrimmedTo100(t *testing.T) {
	store, err := NewSQLiteAggregateStore(setupTestDB(t))
	require.NoError(t, err)

	now := time.Now()
	for i := 0; i < 105; i++ {
		require.NoError(t, store.AddUnansweredQuestion("question", now))
	}

	questions, err := store.GetUnansweredQuestions(200)
	require.NoError(t, err)
	assert.Len(t, questions, 100)
}

func TestSQLiteAggregateStore_LatencyCounts(t *testing.T) {
	store, err := NewSQLiteAggregateStore(setupTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.SaveLatencyCounts("2026-08-25", map[LatencyBucket]int64{
		BucketFast: 8,
		BucketSlow: 2,
	}))

	result, err := store.GetLatencyCounts("2026-08-25", "2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, int64(8), result[BucketFast])
	assert.Equal(t, int64(2), result[BucketSlow])
}

func TestNewSQLiteAggregateStoreRequiresDB(t *testing.T) {
	_, err := NewSQLiteAggregateStore(nil)
	assert.Error(t, err)
}
