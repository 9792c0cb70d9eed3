package telemetry

import (
	"database/sql"
	"fmt"
	"time"
)

// SQLiteAggregateStore implements AggregateStore over a shared SQLite
// handle.
type SQLiteAggregateStore struct {
	db *sql.DB
}

// NewSQLiteAggregateStore creates a store. The schema must already exist
// (see InitAggregateSchema).
func NewSQLiteAggregateStore(db *sql.DB) (*SQLiteAggregateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteAggregateStore{db: db}, nil
}

// InitAggregateSchema creates the telemetry tables if they don't exist.
func InitAggregateSchema(db *sql.DB) error {
	schema := `
	-- Intent frequency, aggregated daily
	CREATE TABLE IF NOT EXISTS answer_intent_stats (
		date TEXT NOT NULL,
		intent TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, intent)
	);

	-- Question terms with frequency
	CREATE TABLE IF NOT EXISTS question_terms (
		term TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_question_terms_count ON question_terms(count DESC);

	-- Questions the notes could not answer (bounded FIFO)
	CREATE TABLE IF NOT EXISTS unanswered_questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Answer latency histogram, aggregated daily
	CREATE TABLE IF NOT EXISTS answer_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// SaveIntentCounts upserts daily intent counts.
func (s *SQLiteAggregateStore) SaveIntentCounts(date string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO answer_intent_stats (date, intent, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, intent) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for intent, count := range counts {
		if _, err := stmt.Exec(date, intent, count); err != nil {
			return fmt.Errorf("insert intent count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetIntentCounts retrieves counts for a date range.
func (s *SQLiteAggregateStore) GetIntentCounts(from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT intent, SUM(count) as total
		FROM answer_intent_stats
		WHERE date >= ? AND date <= ?
		GROUP BY intent
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query intent counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var intent string
		var count int64
		if err := rows.Scan(&intent, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[intent] = count
	}
	return counts, rows.Err()
}

// UpsertTermCounts updates question term frequencies.
func (s *SQLiteAggregateStore) UpsertTermCounts(terms map[string]int64) error {
	if len(terms) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO question_terms (term, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(term) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for term, count := range terms {
		if _, err := stmt.Exec(term, count); err != nil {
			return fmt.Errorf("upsert term count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetTopTerms retrieves the top N terms by frequency.
func (s *SQLiteAggregateStore) GetTopTerms(limit int) ([]TermCount, error) {
	rows, err := s.db.Query(`
		SELECT term, count
		FROM question_terms
		ORDER BY count DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top terms: %w", err)
	}
	defer rows.Close()

	var terms []TermCount
	for rows.Next() {
		var tc TermCount
		if err := rows.Scan(&tc.Term, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		terms = append(terms, tc)
	}
	return terms, rows.Err()
}

// AddUnansweredQuestion appends to the unanswered log, trimmed to the
// most recent 100 entries.
func (s *SQLiteAggregateStore) AddUnansweredQuestion(question string, timestamp time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO unanswered_questions (question, timestamp)
		VALUES (?, ?)
	`, question, timestamp)
	if err != nil {
		return fmt.Errorf("insert unanswered question: %w", err)
	}

	_, err = s.db.Exec(`
		DELETE FROM unanswered_questions
		WHERE id NOT IN (
			SELECT id FROM unanswered_questions
			ORDER BY id DESC
			LIMIT 100
		)
	`)
	if err != nil {
		return fmt.Errorf("trim unanswered questions: %w", err)
	}
	return nil
}

// GetUnansweredQuestions retrieves recent unanswered questions, newest
// first.
func (s *SQLiteAggregateStore) GetUnansweredQuestions(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT question
		FROM unanswered_questions
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unanswered questions: %w", err)
	}
	defer rows.Close()

	var questions []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// SaveLatencyCounts upserts daily latency histogram counts.
func (s *SQLiteAggregateStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	if len(counts) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO answer_latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for bucket, count := range counts {
		if _, err := stmt.Exec(date, string(bucket), count); err != nil {
			return fmt.Errorf("insert latency count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetLatencyCounts retrieves latency distribution for a date range.
func (s *SQLiteAggregateStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	rows, err := s.db.Query(`
		SELECT bucket, SUM(count) as total
		FROM answer_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query latency counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[LatencyBucket]int64)
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[LatencyBucket(bucket)] = count
	}
	return counts, rows.Err()
}

// Close releases nothing; the db handle is shared with the chunk store.
func (s *SQLiteAggregateStore) Close() error {
	return nil
}
