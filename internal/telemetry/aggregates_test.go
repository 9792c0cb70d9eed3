package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAggregateStore struct {
	intents    map[string]int64
	terms      map[string]int64
	unanswered []string
	latencies  map[LatencyBucket]int64
}

func newFakeAggregateStore() *fakeAggregateStore {
	return &fakeAggregateStore{
		intents:   make(map[string]int64),
		terms:     make(map[string]int64),
		latencies: make(map[LatencyBucket]int64),
	}
}

func (f *fakeAggregateStore) SaveIntentCounts(date string, counts map[string]int64) error {
	for k, v := range counts {
		f.intents[k] += v
	}
	return nil
}

func (f *fakeAggregateStore) UpsertTermCounts(terms map[string]int64) error {
	for k, v := range terms {
		f.terms[k] += v
	}
	return nil
}

func (f *fakeAggregateStore) AddUnansweredQuestion(q string, ts time.Time) error {
	f.unanswered = append(f.unanswered, q)
	return nil
}

func (f *fakeAggregateStore) GetUnansweredQuestions(limit int) ([]string, error) {
	return f.unanswered, nil
}

func (f *fakeAggregateStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	for k, v := range counts {
		f.latencies[k] += v
	}
	return nil
}

func (f *fakeAggregateStore) GetTopTerms(limit int) ([]TermCount, error) { return nil, nil }
func (f *fakeAggregateStore) Close() error                              { return nil }

func testEvent(question, intent, confidence string, citations int, latency time.Duration) AnswerEvent {
	return AnswerEvent{
		Question:      question,
		Intent:        intent,
		Mode:          "hybrid",
		Confidence:    confidence,
		CitationCount: citations,
		Latency:       latency,
		Timestamp:     time.Now(),
	}
}

func TestCollectorRecordAndSnapshot(t *testing.T) {
	c := NewCollector(nil, CollectorConfig{})
	defer c.Close()

	c.Record(testEvent("what database did we pick", "question", "high", 2, 100*time.Millisecond))
	c.Record(testEvent("list my action items", "list", "medium", 1, 3*time.Second))
	c.Record(testEvent("anything about sailing", "search", "none", 0, 600*time.Millisecond))

	snap := c.Snapshot()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.UnansweredCount)
	assert.Equal(t, int64(1), snap.IntentCounts["question"])
	assert.Equal(t, int64(3), snap.ModeCounts["hybrid"])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketFast])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketNormal])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketSlow])
	assert.Equal(t, []string{"anything about sailing"}, snap.UnansweredQuestions)
	assert.InDelta(t, 100.0/3.0, snap.UnansweredPercentage(), 0.01)
}

func TestCollectorTopTerms(t *testing.T) {
	c := NewCollector(nil, CollectorConfig{})
	defer c.Close()

	c.Record(testEvent("postgres migration status", "question", "high", 1, time.Millisecond))
	c.Record(testEvent("postgres backup plan", "question", "high", 1, time.Millisecond))

	snap := c.Snapshot()
	require.NotEmpty(t, snap.TopTerms)
	assert.Equal(t, "postgres", snap.TopTerms[0].Term)
	assert.Equal(t, int64(2), snap.TopTerms[0].Count)
}

func TestCollectorFlushResetsWindow(t *testing.T) {
	store := newFakeAggregateStore()
	c := NewCollector(store, CollectorConfig{FlushInterval: 0})
	defer c.Close()

	c.Record(testEvent("postgres migration status", "question", "high", 1, time.Millisecond))
	require.NoError(t, c.Flush())

	assert.Equal(t, int64(1), store.intents["question"])
	assert.Equal(t, int64(1), store.terms["postgres"])
	assert.Equal(t, int64(1), store.latencies[BucketFast])

	// The window resets so a second flush adds nothing.
	require.NoError(t, c.Flush())
	assert.Equal(t, int64(1), store.intents["question"])
	assert.Equal(t, int64(1), store.terms["postgres"])

	// Lifetime counters survive the flush.
	assert.Equal(t, int64(1), c.Snapshot().TotalRequests)
}

func TestCollectorWritesUnansweredThrough(t *testing.T) {
	store := newFakeAggregateStore()
	c := NewCollector(store, CollectorConfig{FlushInterval: 0})
	defer c.Close()

	c.Record(testEvent("anything about sailing", "search", "none", 0, time.Millisecond))
	assert.Equal(t, []string{"anything about sailing"}, store.unanswered)
}

func TestCircularBufferWrapsAround(t *testing.T) {
	b := NewCircularBuffer[int](3)
	for i := 1; i <= 5; i++ {
		b.Add(i)
	}
	assert.Equal(t, 3, b.Size())
	assert.Equal(t, []int{3, 4, 5}, b.Items())
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"postgres", "migration"}, ExtractTerms("  Postgres migration? "))
	assert.Nil(t, ExtractTerms("a an"))
	assert.Nil(t, ExtractTerms(""))
}

func TestLatencyToBucket(t *testing.T) {
	assert.Equal(t, BucketFast, LatencyToBucket(50*time.Millisecond))
	assert.Equal(t, BucketNormal, LatencyToBucket(time.Second))
	assert.Equal(t, BucketSlow, LatencyToBucket(3*time.Second))
	assert.Equal(t, BucketVerySlow, LatencyToBucket(10*time.Second))
}
