package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket labels a request latency histogram bucket.
type LatencyBucket string

const (
	BucketFast     LatencyBucket = "lt500ms"
	BucketNormal   LatencyBucket = "lt2s"
	BucketSlow     LatencyBucket = "lt5s"
	BucketVerySlow LatencyBucket = "ge5s"
)

// LatencyToBucket converts a duration to its histogram bucket. Answer
// latency is dominated by the generation call, so the buckets are much
// coarser than pure retrieval latency would need.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 500:
		return BucketFast
	case ms < 2000:
		return BucketNormal
	case ms < 5000:
		return BucketSlow
	default:
		return BucketVerySlow
	}
}

// AnswerEvent is one answered request for aggregate tracking.
type AnswerEvent struct {
	Question      string
	Intent        string
	Mode          string
	Confidence    string
	CitationCount int
	Latency       time.Duration
	Timestamp     time.Time
}

// IsUnanswered reports whether the request produced no citable answer.
func (e AnswerEvent) IsUnanswered() bool {
	return e.CitationCount == 0 || e.Confidence == "none"
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}
	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// ExtractTerms pulls trackable terms from a question: lowercased,
// whitespace-split, minimum length 3.
func ExtractTerms(question string) []string {
	question = strings.ToLower(strings.TrimSpace(question))
	if question == "" {
		return nil
	}
	var terms []string
	for _, w := range strings.Fields(question) {
		w = strings.Trim(w, ".,;:!?\"'")
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	if len(terms) == 0 {
		return nil
	}
	return terms
}

// TermCount is a term with its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is an immutable view of the collector state.
type Snapshot struct {
	IntentCounts        map[string]int64        `json:"intent_counts"`
	ModeCounts          map[string]int64        `json:"mode_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	UnansweredQuestions []string                `json:"unanswered_questions"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalRequests       int64                   `json:"total_requests"`
	UnansweredCount     int64                   `json:"unanswered_count"`
	Since               time.Time               `json:"since"`
}

// UnansweredPercentage returns the share of unanswered requests.
func (s *Snapshot) UnansweredPercentage() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.UnansweredCount) / float64(s.TotalRequests) * 100
}

// AggregateStore persists collector aggregates.
type AggregateStore interface {
	// SaveIntentCounts upserts daily intent counts.
	SaveIntentCounts(date string, counts map[string]int64) error

	// UpsertTermCounts updates question term frequencies.
	UpsertTermCounts(terms map[string]int64) error

	// AddUnansweredQuestion appends to the bounded unanswered log.
	AddUnansweredQuestion(question string, timestamp time.Time) error

	// GetUnansweredQuestions retrieves recent unanswered questions.
	GetUnansweredQuestions(limit int) ([]string, error)

	// SaveLatencyCounts upserts daily latency histogram counts.
	SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error

	// GetTopTerms retrieves the top N terms by frequency.
	GetTopTerms(limit int) ([]TermCount, error)

	// Close releases resources.
	Close() error
}

// CollectorConfig tunes the aggregate collector.
type CollectorConfig struct {
	TopTermsCapacity   int           // default 100
	UnansweredCapacity int           // default 100
	FlushInterval      time.Duration // default 60s, 0 disables auto-flush
}

// DefaultCollectorConfig returns the standard configuration.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		TopTermsCapacity:   100,
		UnansweredCapacity: 100,
		FlushInterval:      60 * time.Second,
	}
}

// Collector aggregates answer events in memory and flushes them to an
// optional store. Thread-safe.
type Collector struct {
	mu sync.Mutex

	intents         map[string]int64
	modes           map[string]int64
	topTerms        *lru.Cache[string, int64]
	unanswered      *CircularBuffer[string]
	latencies       map[LatencyBucket]int64
	totalRequests   int64
	unansweredCount int64
	startTime       time.Time

	store       AggregateStore
	config      CollectorConfig
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closed      bool
}

// NewCollector creates a collector. A nil store keeps aggregates in
// memory only.
func NewCollector(store AggregateStore, cfg CollectorConfig) *Collector {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.UnansweredCapacity <= 0 {
		cfg.UnansweredCapacity = 100
	}
	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)

	c := &Collector{
		intents:    make(map[string]int64),
		modes:      make(map[string]int64),
		topTerms:   topTerms,
		unanswered: NewCircularBuffer[string](cfg.UnansweredCapacity),
		latencies:  make(map[LatencyBucket]int64),
		startTime:  time.Now(),
		store:      store,
		config:     cfg,
		stopCh:     make(chan struct{}),
	}
	if cfg.FlushInterval > 0 && store != nil {
		c.flushTicker = time.NewTicker(cfg.FlushInterval)
		go c.flushLoop()
	}
	return c
}

func (c *Collector) flushLoop() {
	for {
		select {
		case <-c.flushTicker.C:
			_ = c.Flush()
		case <-c.stopCh:
			return
		}
	}
}

// Record captures one answered request. Unanswered questions are also
// written through to the store immediately so they survive a crash.
func (c *Collector) Record(event AnswerEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.intents[event.Intent]++
	c.modes[event.Mode]++
	c.totalRequests++

	for _, term := range ExtractTerms(event.Question) {
		count, _ := c.topTerms.Get(term)
		c.topTerms.Add(term, count+1)
	}

	if event.IsUnanswered() {
		c.unanswered.Add(event.Question)
		c.unansweredCount++
		if c.store != nil {
			_ = c.store.AddUnansweredQuestion(event.Question, event.Timestamp)
		}
	}

	c.latencies[LatencyToBucket(event.Latency)]++
}

// Snapshot returns the current aggregates. The per-key maps cover the
// window since the last flush; TotalRequests and UnansweredCount are
// lifetime counters.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Collector) snapshotLocked() *Snapshot {
	intents := make(map[string]int64, len(c.intents))
	for k, v := range c.intents {
		intents[k] = v
	}
	modes := make(map[string]int64, len(c.modes))
	for k, v := range c.modes {
		modes[k] = v
	}

	var terms []TermCount
	for _, key := range c.topTerms.Keys() {
		if count, ok := c.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})

	latencies := make(map[LatencyBucket]int64, len(c.latencies))
	for k, v := range c.latencies {
		latencies[k] = v
	}

	return &Snapshot{
		IntentCounts:        intents,
		ModeCounts:          modes,
		TopTerms:            terms,
		UnansweredQuestions: c.unanswered.Items(),
		LatencyDistribution: latencies,
		TotalRequests:       c.totalRequests,
		UnansweredCount:     c.unansweredCount,
		Since:               c.startTime,
	}
}

// Flush persists the aggregates accumulated since the previous flush.
// The store adds counts on conflict, so flushed maps are reset to avoid
// double counting; a failed write drops that window. Safe without a
// store.
func (c *Collector) Flush() error {
	if c.store == nil {
		return nil
	}

	c.mu.Lock()
	snapshot := c.snapshotLocked()
	c.intents = make(map[string]int64)
	c.latencies = make(map[LatencyBucket]int64)
	c.topTerms.Purge()
	c.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if err := c.store.SaveIntentCounts(today, snapshot.IntentCounts); err != nil {
		return err
	}

	termCounts := make(map[string]int64, len(snapshot.TopTerms))
	for _, tc := range snapshot.TopTerms {
		termCounts[tc.Term] = tc.Count
	}
	if err := c.store.UpsertTermCounts(termCounts); err != nil {
		return err
	}

	return c.store.SaveLatencyCounts(today, snapshot.LatencyDistribution)
}

// Close flushes and stops the auto-flush loop.
func (c *Collector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.flushTicker != nil {
		c.flushTicker.Stop()
		close(c.stopCh)
	}
	return c.Flush()
}
