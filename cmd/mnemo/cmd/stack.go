package cmd

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	_ "modernc.org/sqlite"

	"github.com/mnemosyne-notes/mnemo/internal/answer"
	"github.com/mnemosyne-notes/mnemo/internal/citation"
	"github.com/mnemosyne-notes/mnemo/internal/config"
	"github.com/mnemosyne-notes/mnemo/internal/confidence"
	"github.com/mnemosyne-notes/mnemo/internal/embed"
	"github.com/mnemosyne-notes/mnemo/internal/genai"
	"github.com/mnemosyne-notes/mnemo/internal/query"
	"github.com/mnemosyne-notes/mnemo/internal/ratelimit"
	"github.com/mnemosyne-notes/mnemo/internal/retrieval"
	"github.com/mnemosyne-notes/mnemo/internal/store"
	"github.com/mnemosyne-notes/mnemo/internal/telemetry"
)

// stack is the wired service: stores, backends, pipeline, observability.
type stack struct {
	chunks   *store.SQLiteChunkStore
	lexical  *store.BleveLexicalIndex
	vectors  *store.HNSWVectorIndex
	embedder embed.Embedder
	client   genai.Client

	pipeline  *answer.Pipeline
	limiter   *ratelimit.Limiter
	registry  *prometheus.Registry
	collector *telemetry.Collector

	dataDir     string
	telemetryDB *sql.DB
	logger      *slog.Logger
}

// buildStack opens every store and backend the pipeline needs. An
// unreachable embedding backend degrades to keyword-only retrieval
// instead of failing startup.
func buildStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	dataDir := cfg.Store.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	s := &stack{dataDir: dataDir, logger: logger}

	chunks, err := store.NewSQLiteChunkStore(filepath.Join(dataDir, "chunks.db"), cfg.Store.SQLiteCacheMB)
	if err != nil {
		return nil, err
	}
	s.chunks = chunks

	lexical, err := store.NewBleveLexicalIndex(filepath.Join(dataDir, "lexical.bleve"), store.DefaultLexicalConfig())
	if err != nil {
		s.Close()
		return nil, err
	}
	s.lexical = lexical

	vectors, err := store.NewHNSWVectorIndex(store.VectorConfig{
		Dimensions:     cfg.Embeddings.Dimensions,
		M:              cfg.Store.HNSWM,
		EfConstruction: cfg.Store.HNSWEfConstruction,
		EfSearch:       cfg.Store.HNSWEfSearch,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := vectors.Load(dataDir); err != nil {
		logger.Warn("vector index load failed, starting empty", slog.String("error", err.Error()))
	}
	s.vectors = vectors

	embedder, err := embed.New(ctx, embed.Config{
		Endpoint:   cfg.Embeddings.Endpoint,
		Model:      cfg.Embeddings.Model,
		Dimensions: cfg.Embeddings.Dimensions,
		BatchSize:  cfg.Embeddings.BatchSize,
		Timeout:    cfg.Embeddings.Timeout,
	}, cfg.Embeddings.CacheSize, cfg.Embeddings.CacheTTL, cfg.Embeddings.CacheHotTTL)
	if err != nil {
		logger.Warn("embedding backend unavailable, vector search disabled",
			slog.String("endpoint", cfg.Embeddings.Endpoint),
			slog.String("error", err.Error()))
		embedder = nil
	}
	s.embedder = embedder

	client, err := genai.NewOllamaClient(genai.Config{
		Endpoint:      cfg.Generation.Endpoint,
		Model:         cfg.Generation.Model,
		MaxTokens:     cfg.Generation.MaxTokens,
		Temperature:   cfg.Generation.Temperature,
		Timeout:       cfg.Generation.Timeout,
		MaxConcurrent: int64(cfg.Generation.MaxConcurrent),
		MaxRetries:    cfg.Generation.MaxRetries,
		RetryDelay:    cfg.Generation.RetryDelay,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.client = client

	var engineOpts []retrieval.EngineOption
	if embedder != nil {
		engineOpts = append(engineOpts, retrieval.WithVectorSearch(vectors, embedder))
	}
	if cfg.Retrieval.RerankEnabled {
		engineOpts = append(engineOpts, retrieval.WithReranker(retrieval.NewCompletionReranker(client)))
	}

	engine, err := retrieval.NewEngine(chunks, lexical, retrieval.Config{
		DefaultK:    cfg.Retrieval.DefaultK,
		MaxK:        cfg.Retrieval.MaxK,
		RRFConstant: cfg.Retrieval.RRFConstant,
		Weights: retrieval.Weights{
			Vector:  cfg.Retrieval.VectorWeight,
			Lexical: cfg.Retrieval.LexicalWeight,
			Recency: cfg.Retrieval.RecencyWeight,
		},
		MultiSourceBoost: cfg.Retrieval.MultiSourceBoost,
		Horizon:          time.Duration(cfg.Retrieval.TimeHorizonDays) * 24 * time.Hour,
		ContextBudget:    cfg.Retrieval.ContextBudgetChars,
		RerankTimeout:    cfg.Retrieval.RerankTimeout,
		CacheSize:        cfg.Retrieval.QueryCacheSize,
		CacheTTL:         cfg.Retrieval.QueryCacheTTL,
	}, engineOpts...)
	if err != nil {
		s.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := telemetry.NewMetrics(registry)
	s.registry = registry

	telemetryDB, err := sql.Open("sqlite", filepath.Join(dataDir, "telemetry.db"))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.telemetryDB = telemetryDB
	aggStore, err := telemetry.NewSQLiteAggregateStore(telemetryDB)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.collector = telemetry.NewCollector(aggStore, telemetry.CollectorConfig{})

	observer := telemetry.NewObserver(telemetry.NewSlogSink(logger), logger, metrics, s.collector)

	s.pipeline = answer.NewPipeline(answer.Deps{
		Analyzer: query.NewAnalyzer(query.Config{
			BaseK: cfg.Retrieval.DefaultK,
			MaxK:  cfg.Retrieval.MaxK,
		}),
		Retriever:  engine,
		Client:     client,
		PairScorer: confidence.NewPairScorer(confidence.PairScorerConfig{}, embedder),
		Observer:   observer,
		Logger:     logger,
	}, answer.Config{
		DisableRepair: !cfg.Citation.RepairEnabled,
		Validator: citation.ValidatorConfig{
			MinOverlap:            cfg.Citation.OverlapThreshold,
			MaxMarkersPerSentence: cfg.Citation.MaxPerSentence,
		},
	})

	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{
			Limit:  cfg.RateLimit.Requests,
			Window: cfg.RateLimit.Window,
		})
	}

	return s, nil
}

// Close releases everything in reverse construction order. Safe on a
// partially built stack.
func (s *stack) Close() {
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.collector != nil {
		if err := s.collector.Close(); err != nil {
			s.logger.Warn("telemetry collector close failed", slog.String("error", err.Error()))
		}
	}
	if s.telemetryDB != nil {
		_ = s.telemetryDB.Close()
	}
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.embedder != nil {
		_ = s.embedder.Close()
	}
	if s.vectors != nil {
		if err := s.vectors.Save(s.dataDir); err != nil {
			s.logger.Warn("vector index save failed", slog.String("error", err.Error()))
		}
		_ = s.vectors.Close()
	}
	if s.lexical != nil {
		_ = s.lexical.Close()
	}
	if s.chunks != nil {
		_ = s.chunks.Close()
	}
}
