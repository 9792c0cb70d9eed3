// Package telemetry emits one structured record per answered request and
// keeps local aggregate metrics for answer quality. Nothing is reported
// externally except through the configured sink.
package telemetry

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/mnemosyne-notes/mnemo/internal/retrieval"
)

// queryTruncateLen caps the query text stored in a record.
const queryTruncateLen = 500

// ScoreDistribution summarizes the fused scores of the final candidates.
type ScoreDistribution struct {
	Top         float64 `json:"top"`
	Median      float64 `json:"median"`
	Min         float64 `json:"min"`
	Gap         float64 `json:"gap"`
	StdDev      float64 `json:"stdDev"`
	UniqueNotes int     `json:"uniqueNotes"`
}

// CitationRecord is the logged summary of one surviving citation.
type CitationRecord struct {
	ID         string  `json:"id"`
	NotePrefix string  `json:"notePrefix"`
	Score      float64 `json:"score"`
}

// Timings is the per-stage latency breakdown in milliseconds.
type Timings struct {
	VectorMs     int64 `json:"vectorMs"`
	LexicalMs    int64 `json:"lexicalMs"`
	RecencyMs    int64 `json:"recencyMs"`
	FusionMs     int64 `json:"fusionMs"`
	RerankMs     int64 `json:"rerankMs"`
	GenerationMs int64 `json:"generationMs"`
	ValidationMs int64 `json:"validationMs"`
	TotalMs      int64 `json:"totalMs"`
}

// Quality carries the answer-quality flags for one request.
type Quality struct {
	CoveragePercent       float64 `json:"coveragePercent"`
	InvalidsRemoved       int     `json:"invalidsRemoved"`
	DroppedCitations      int     `json:"droppedCitations"`
	SuspiciousCitations   int     `json:"suspiciousCitations"`
	RegenerationAttempted bool    `json:"regenerationAttempted"`
	RegenerationAccepted  bool    `json:"regenerationAccepted"`
	FallbackUsed          bool    `json:"fallbackUsed"`
	Uncertainty           bool    `json:"uncertainty"`
	HallucinationFlags    int     `json:"hallucinationFlags"`
}

// Record is the observability record for one request.
type Record struct {
	RequestID     string                `json:"requestId"`
	TraceID       string                `json:"traceId"`
	TenantID      string                `json:"tenantId"`
	Query         string                `json:"query"`
	QueryLength   int                   `json:"queryLength"`
	Intent        string                `json:"intent"`
	RetrievalMode string                `json:"retrievalMode"`
	Candidates    retrieval.StageCounts `json:"candidateCounts"`
	Scores        ScoreDistribution     `json:"scoreDistribution"`
	RerankMethod  string                `json:"rerankMethod"`
	Citations     []CitationRecord      `json:"citations"`
	Timings       Timings               `json:"timings"`
	Quality       Quality               `json:"quality"`
	Confidence    string                `json:"confidence"`
	SourceCount   int                   `json:"sourceCount"`
	AnswerLength  int                   `json:"answerLength"`
	Timestamp     string                `json:"timestamp"`
}

// SetQuery stores the query truncated to the logged limit and records the
// original length.
func (r *Record) SetQuery(q string) {
	r.QueryLength = len(q)
	if len(q) > queryTruncateLen {
		q = q[:queryTruncateLen]
	}
	r.Query = q
}

// Stamp sets the ISO-8601 timestamp.
func (r *Record) Stamp(now time.Time) {
	r.Timestamp = now.UTC().Format(time.RFC3339Nano)
}

// Sink accepts one record per request.
type Sink interface {
	Emit(ctx context.Context, rec *Record)
}

// SlogSink writes records to the structured logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink over the given logger. A nil logger uses the
// default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit logs the record at info level.
func (s *SlogSink) Emit(ctx context.Context, rec *Record) {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "request completed",
		slog.String("requestId", rec.RequestID),
		slog.String("tenantId", rec.TenantID),
		slog.String("intent", rec.Intent),
		slog.String("retrievalMode", rec.RetrievalMode),
		slog.String("confidence", rec.Confidence),
		slog.Int("sourceCount", rec.SourceCount),
		slog.Int("answerLength", rec.AnswerLength),
		slog.Int64("totalMs", rec.Timings.TotalMs),
		slog.Any("record", rec),
	)
}

// Observer fans a record out to the sink, the warning rules, the
// aggregate collector, and the prometheus metrics. Any of its parts may
// be nil.
type Observer struct {
	sink      Sink
	logger    *slog.Logger
	metrics   *Metrics
	collector *Collector
}

// NewObserver wires the observability outputs together.
func NewObserver(sink Sink, logger *slog.Logger, metrics *Metrics, collector *Collector) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{sink: sink, logger: logger, metrics: metrics, collector: collector}
}

const (
	warnCoveragePercent = 60.0
	warnScoreGap        = 0.3
)

// Observe emits the record and applies the warning rules.
func (o *Observer) Observe(ctx context.Context, rec *Record) {
	if o == nil || rec == nil {
		return
	}
	if o.sink != nil {
		o.sink.Emit(ctx, rec)
	}
	if o.metrics != nil {
		o.metrics.Observe(rec)
	}
	if o.collector != nil {
		o.collector.Record(AnswerEvent{
			Question:      rec.Query,
			Intent:        rec.Intent,
			Mode:          rec.RetrievalMode,
			Confidence:    rec.Confidence,
			CitationCount: len(rec.Citations),
			Latency:       time.Duration(rec.Timings.TotalMs) * time.Millisecond,
			Timestamp:     time.Now(),
		})
	}

	// Gate on sources offered to the model, not sources cited; low
	// coverage with few surviving citations is exactly the case to flag.
	if rec.Quality.CoveragePercent < warnCoveragePercent &&
		rec.Candidates.Final >= 3 && !rec.Quality.Uncertainty && !rec.Quality.FallbackUsed {
		o.logger.Warn("low citation coverage",
			slog.String("requestId", rec.RequestID),
			slog.Float64("coveragePercent", rec.Quality.CoveragePercent),
			slog.Int("sourcesOffered", rec.Candidates.Final))
	}
	if rec.Scores.Gap > warnScoreGap {
		o.logger.Warn("single source dominance",
			slog.String("requestId", rec.RequestID),
			slog.Float64("gap", rec.Scores.Gap))
	}
	if rec.Quality.DroppedCitations > 0 {
		o.logger.Warn("citations dropped",
			slog.String("requestId", rec.RequestID),
			slog.Int("dropped", rec.Quality.DroppedCitations))
	}
}

// Distribution summarizes the fused scores of the final candidate list.
func Distribution(chunks []*retrieval.ScoredChunk) ScoreDistribution {
	if len(chunks) == 0 {
		return ScoreDistribution{}
	}

	scores := make([]float64, len(chunks))
	notes := make(map[string]struct{})
	for i, c := range chunks {
		scores[i] = c.Score
		notes[c.Chunk.NoteID] = struct{}{}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))

	d := ScoreDistribution{
		Top:         scores[0],
		Median:      scores[len(scores)/2],
		Min:         scores[len(scores)-1],
		UniqueNotes: len(notes),
	}
	if len(scores) > 1 {
		d.Gap = scores[0] - scores[1]
	}

	mean := 0.0
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))
	variance := 0.0
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	d.StdDev = math.Sqrt(variance / float64(len(scores)))
	return d
}

// TimingsFrom converts stage durations to the logged millisecond form.
func TimingsFrom(st retrieval.StageTimings, generation, validation, total time.Duration) Timings {
	return Timings{
		VectorMs:     st.Vector.Milliseconds(),
		LexicalMs:    st.Lexical.Milliseconds(),
		RecencyMs:    st.Recency.Milliseconds(),
		FusionMs:     st.Fusion.Milliseconds(),
		RerankMs:     st.Rerank.Milliseconds(),
		GenerationMs: generation.Milliseconds(),
		ValidationMs: validation.Milliseconds(),
		TotalMs:      total.Milliseconds(),
	}
}
