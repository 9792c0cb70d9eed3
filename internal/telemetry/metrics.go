package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus instruments updated per request.
type Metrics struct {
	requests       *prometheus.CounterVec
	duration       prometheus.Histogram
	stageDuration  *prometheus.HistogramVec
	droppedTotal   prometheus.Counter
	repairAttempts *prometheus.CounterVec
}

// NewMetrics registers the instruments on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mnemo",
			Name:      "ask_requests_total",
			Help:      "Answered requests by retrieval mode and confidence level.",
		}, []string{"mode", "confidence"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mnemo",
			Name:      "ask_duration_seconds",
			Help:      "End to end request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mnemo",
			Name:      "ask_stage_duration_seconds",
			Help:      "Per stage latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"stage"}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mnemo",
			Name:      "citations_dropped_total",
			Help:      "Citations removed by the validator.",
		}),
		repairAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mnemo",
			Name:      "citation_repairs_total",
			Help:      "Repair generations by outcome.",
		}, []string{"accepted"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration, m.stageDuration, m.droppedTotal, m.repairAttempts)
	}
	return m
}

// Observe updates the instruments from one record.
func (m *Metrics) Observe(rec *Record) {
	m.requests.WithLabelValues(rec.RetrievalMode, rec.Confidence).Inc()
	m.duration.Observe(float64(rec.Timings.TotalMs) / 1000)

	stages := map[string]int64{
		"vector":     rec.Timings.VectorMs,
		"lexical":    rec.Timings.LexicalMs,
		"recency":    rec.Timings.RecencyMs,
		"rerank":     rec.Timings.RerankMs,
		"generation": rec.Timings.GenerationMs,
		"validation": rec.Timings.ValidationMs,
	}
	for stage, ms := range stages {
		if ms > 0 {
			m.stageDuration.WithLabelValues(stage).Observe(float64(ms) / 1000)
		}
	}

	if rec.Quality.DroppedCitations > 0 {
		m.droppedTotal.Add(float64(rec.Quality.DroppedCitations))
	}
	if rec.Quality.RegenerationAttempted {
		if rec.Quality.RegenerationAccepted {
			m.repairAttempts.WithLabelValues("true").Inc()
		} else {
			m.repairAttempts.WithLabelValues("false").Inc()
		}
	}
}
