package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Mnemo configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Citation   CitationConfig   `yaml:"citation" json:"citation"`
	Confidence ConfidenceConfig `yaml:"confidence" json:"confidence"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" json:"rate_limit"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// StoreConfig configures the chunk store and the two indexes.
type StoreConfig struct {
	// DataDir is the root directory for SQLite, bleve, and HNSW data.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// SQLiteCacheMB is the SQLite page cache size in MB (default: 64).
	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
	// HNSW graph parameters.
	HNSWM              int `yaml:"hnsw_m" json:"hnsw_m"`
	HNSWEfConstruction int `yaml:"hnsw_ef_construction" json:"hnsw_ef_construction"`
	HNSWEfSearch       int `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
}

// EmbeddingsConfig configures the embedding backend and its cache.
type EmbeddingsConfig struct {
	Endpoint   string        `yaml:"endpoint" json:"endpoint"`
	Model      string        `yaml:"model" json:"model"`
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	BatchSize  int           `yaml:"batch_size" json:"batch_size"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`

	// CacheSize is the embedding cache capacity (default: 1000 entries).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
	// CacheTTL is the initial entry lifetime (default: 5m).
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	// CacheHotTTL is the extended lifetime granted to frequently hit
	// entries (default: 1h after 3 hits).
	CacheHotTTL time.Duration `yaml:"cache_hot_ttl" json:"cache_hot_ttl"`
}

// GenerationConfig configures the completion backend.
type GenerationConfig struct {
	Endpoint    string        `yaml:"endpoint" json:"endpoint"`
	Model       string        `yaml:"model" json:"model"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature float64       `yaml:"temperature" json:"temperature"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
	// MaxConcurrent caps in-flight completion calls process-wide (default: 10).
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
	// MaxRetries is attempts after the first on transient failures (default: 3).
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryDelay is the initial backoff delay (default: 1s, doubling).
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// RetrievalConfig configures hybrid retrieval and fusion.
// Weights and the RRF constant are configurable via:
//  1. User config (~/.config/mnemo/config.yaml) - personal defaults
//  2. Local config (mnemo.yaml) - per-deployment tuning
//  3. Env vars (MNEMO_VECTOR_WEIGHT, MNEMO_LEXICAL_WEIGHT, MNEMO_RRF_CONSTANT) - highest priority
type RetrievalConfig struct {
	// VectorWeight scales the vector channel's RRF contribution.
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`
	// LexicalWeight scales the lexical channel's RRF contribution.
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`
	// RecencyWeight scales the recency channel's RRF contribution.
	RecencyWeight float64 `yaml:"recency_weight" json:"recency_weight"`

	// RRFConstant is the RRF fusion smoothing parameter (k).
	// Default: 60 (industry standard used by Azure AI Search, OpenSearch).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// MultiSourceBoost is the score multiplier increment per extra channel
	// that returned the same chunk (default: 0.15).
	MultiSourceBoost float64 `yaml:"multi_source_boost" json:"multi_source_boost"`

	// DefaultK is the fused result count when the analyzer has no opinion.
	DefaultK int `yaml:"default_k" json:"default_k"`
	// MaxK bounds any per-request top-k override.
	MaxK int `yaml:"max_k" json:"max_k"`

	// MinRelevance drops fused results scoring below it (0 disables).
	MinRelevance float64 `yaml:"min_relevance" json:"min_relevance"`
	// MaxPerNote caps chunks per source note in the fused list (0 = no cap).
	MaxPerNote int `yaml:"max_per_note" json:"max_per_note"`

	// TimeHorizonDays is the default recency window (default: 90).
	TimeHorizonDays int `yaml:"time_horizon_days" json:"time_horizon_days"`

	// ContextBudgetChars bounds the total character size of retrieved
	// chunks handed to the prompt builder.
	ContextBudgetChars int `yaml:"context_budget_chars" json:"context_budget_chars"`

	// RerankEnabled turns on cross-encoder reranking of fused results.
	RerankEnabled bool `yaml:"rerank_enabled" json:"rerank_enabled"`
	// RerankTimeout is the hard deadline for a rerank pass (default: 2s).
	RerankTimeout time.Duration `yaml:"rerank_timeout" json:"rerank_timeout"`
	// RerankBlend is the reranker's share of the blended score (default: 0.7).
	RerankBlend float64 `yaml:"rerank_blend" json:"rerank_blend"`

	// QueryCacheSize is the retrieval result cache capacity (default: 256).
	QueryCacheSize int `yaml:"query_cache_size" json:"query_cache_size"`
	// QueryCacheTTL is the retrieval result cache entry lifetime (default: 60s).
	QueryCacheTTL time.Duration `yaml:"query_cache_ttl" json:"query_cache_ttl"`
}

// CitationConfig configures citation validation and repair.
type CitationConfig struct {
	// OverlapThreshold is the minimum keyword overlap between a cited
	// sentence and its source chunk (default: 0.15).
	OverlapThreshold float64 `yaml:"overlap_threshold" json:"overlap_threshold"`
	// CoverageWarn flags answers whose citation coverage falls below it
	// while at least three sources were retrieved (default: 0.6).
	CoverageWarn float64 `yaml:"coverage_warn" json:"coverage_warn"`
	// MaxPerSentence caps markers per sentence (default: 3).
	MaxPerSentence int `yaml:"max_per_sentence" json:"max_per_sentence"`
	// RepairEnabled allows one regeneration pass when validation fails.
	RepairEnabled bool `yaml:"repair_enabled" json:"repair_enabled"`
}

// ConfidenceConfig configures answer confidence scoring.
type ConfidenceConfig struct {
	// Floor is the minimum confidence below which the deterministic
	// low-confidence response replaces the generated answer (0 disables).
	Floor float64 `yaml:"floor" json:"floor"`
	// Sub-score weights. Must sum to 1.0.
	DensityWeight   float64 `yaml:"density_weight" json:"density_weight"`
	RelevanceWeight float64 `yaml:"relevance_weight" json:"relevance_weight"`
	CoherenceWeight float64 `yaml:"coherence_weight" json:"coherence_weight"`
	SupportWeight   float64 `yaml:"support_weight" json:"support_weight"`
}

// RateLimitConfig configures the per-user sliding window limiter.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Requests allowed per window per user (default: 100).
	Requests int `yaml:"requests" json:"requests"`
	// Window is the sliding window length (default: 60s).
	Window time.Duration `yaml:"window" json:"window"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8465,
			LogLevel: "info",
		},
		Store: StoreConfig{
			DataDir:       defaultDataDir(),
			SQLiteCacheMB: 64,
			// HNSW defaults tuned for ~1M chunks at 768 dims.
			HNSWM:              32,
			HNSWEfConstruction: 128,
			HNSWEfSearch:       64,
		},
		Embeddings: EmbeddingsConfig{
			Endpoint:    "http://localhost:11434",
			Model:       "nomic-embed-text",
			Dimensions:  768,
			BatchSize:   32,
			Timeout:     30 * time.Second,
			CacheSize:   1000,
			CacheTTL:    5 * time.Minute,
			CacheHotTTL: time.Hour,
		},
		Generation: GenerationConfig{
			Endpoint:      "http://localhost:11434",
			Model:         "qwen3:8b",
			MaxTokens:     1024,
			Temperature:   0.2,
			Timeout:       60 * time.Second,
			MaxConcurrent: 10,
			MaxRetries:    3,
			RetryDelay:    1 * time.Second,
		},
		Retrieval: RetrievalConfig{
			VectorWeight:  1.0,
			LexicalWeight: 0.8,
			RecencyWeight: 0.3,
			// RRF constant k=60 is industry standard (Azure AI Search, OpenSearch)
			RRFConstant:        60,
			MultiSourceBoost:   0.15,
			DefaultK:           8,
			MaxK:               25,
			MinRelevance:       0.0,
			MaxPerNote:         3,
			TimeHorizonDays:    90,
			ContextBudgetChars: 24000,
			RerankEnabled:      false,
			RerankTimeout:      2 * time.Second,
			RerankBlend:        0.7,
			QueryCacheSize:     256,
			QueryCacheTTL:      60 * time.Second,
		},
		Citation: CitationConfig{
			OverlapThreshold: 0.15,
			CoverageWarn:     0.6,
			MaxPerSentence:   3,
			RepairEnabled:    true,
		},
		Confidence: ConfidenceConfig{
			Floor:           0.0,
			DensityWeight:   0.25,
			RelevanceWeight: 0.30,
			CoherenceWeight: 0.20,
			SupportWeight:   0.25,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 100,
			Window:   60 * time.Second,
		},
	}
}

// defaultDataDir returns the default data directory (~/.mnemo/data).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".mnemo", "data")
	}
	return filepath.Join(home, ".mnemo", "data")
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/mnemo/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/mnemo/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mnemo", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "mnemo", "config.yaml")
	}
	return filepath.Join(home, ".config", "mnemo", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist (that's OK).
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/mnemo/config.yaml)
//  3. Local config (mnemo.yaml in dir)
//  4. Environment variables (MNEMO_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LocalConfigPath returns the path of the local config file in dir, or the
// empty string when none exists.
func LocalConfigPath(dir string) string {
	for _, name := range []string{"mnemo.yaml", "mnemo.yml"} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// loadFromFile attempts to load configuration from mnemo.yaml or mnemo.yml.
func (c *Config) loadFromFile(dir string) error {
	path := LocalConfigPath(dir)
	if path == "" {
		// No config file is fine - use defaults
		return nil
	}
	return c.loadYAML(path)
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Parse into a scratch struct so type errors surface before merging.
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Server
	if other.Server.Host != "" {
		c.Server.Host = other.Server.Host
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	// Store
	if other.Store.DataDir != "" {
		c.Store.DataDir = other.Store.DataDir
	}
	if other.Store.SQLiteCacheMB != 0 {
		c.Store.SQLiteCacheMB = other.Store.SQLiteCacheMB
	}
	if other.Store.HNSWM != 0 {
		c.Store.HNSWM = other.Store.HNSWM
	}
	if other.Store.HNSWEfConstruction != 0 {
		c.Store.HNSWEfConstruction = other.Store.HNSWEfConstruction
	}
	if other.Store.HNSWEfSearch != 0 {
		c.Store.HNSWEfSearch = other.Store.HNSWEfSearch
	}

	// Embeddings
	if other.Embeddings.Endpoint != "" {
		c.Embeddings.Endpoint = other.Embeddings.Endpoint
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.Timeout != 0 {
		c.Embeddings.Timeout = other.Embeddings.Timeout
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.CacheTTL != 0 {
		c.Embeddings.CacheTTL = other.Embeddings.CacheTTL
	}
	if other.Embeddings.CacheHotTTL != 0 {
		c.Embeddings.CacheHotTTL = other.Embeddings.CacheHotTTL
	}

	// Generation
	if other.Generation.Endpoint != "" {
		c.Generation.Endpoint = other.Generation.Endpoint
	}
	if other.Generation.Model != "" {
		c.Generation.Model = other.Generation.Model
	}
	if other.Generation.MaxTokens != 0 {
		c.Generation.MaxTokens = other.Generation.MaxTokens
	}
	if other.Generation.Temperature != 0 {
		c.Generation.Temperature = other.Generation.Temperature
	}
	if other.Generation.Timeout != 0 {
		c.Generation.Timeout = other.Generation.Timeout
	}
	if other.Generation.MaxConcurrent != 0 {
		c.Generation.MaxConcurrent = other.Generation.MaxConcurrent
	}
	if other.Generation.MaxRetries != 0 {
		c.Generation.MaxRetries = other.Generation.MaxRetries
	}
	if other.Generation.RetryDelay != 0 {
		c.Generation.RetryDelay = other.Generation.RetryDelay
	}

	// Retrieval weights and RRF constant.
	// 0 is not a practical weight value, so only non-zero values merge.
	if other.Retrieval.VectorWeight != 0 {
		c.Retrieval.VectorWeight = other.Retrieval.VectorWeight
	}
	if other.Retrieval.LexicalWeight != 0 {
		c.Retrieval.LexicalWeight = other.Retrieval.LexicalWeight
	}
	if other.Retrieval.RecencyWeight != 0 {
		c.Retrieval.RecencyWeight = other.Retrieval.RecencyWeight
	}
	if other.Retrieval.RRFConstant != 0 {
		c.Retrieval.RRFConstant = other.Retrieval.RRFConstant
	}
	if other.Retrieval.MultiSourceBoost != 0 {
		c.Retrieval.MultiSourceBoost = other.Retrieval.MultiSourceBoost
	}
	if other.Retrieval.DefaultK != 0 {
		c.Retrieval.DefaultK = other.Retrieval.DefaultK
	}
	if other.Retrieval.MaxK != 0 {
		c.Retrieval.MaxK = other.Retrieval.MaxK
	}
	if other.Retrieval.MinRelevance != 0 {
		c.Retrieval.MinRelevance = other.Retrieval.MinRelevance
	}
	if other.Retrieval.MaxPerNote != 0 {
		c.Retrieval.MaxPerNote = other.Retrieval.MaxPerNote
	}
	if other.Retrieval.TimeHorizonDays != 0 {
		c.Retrieval.TimeHorizonDays = other.Retrieval.TimeHorizonDays
	}
	if other.Retrieval.ContextBudgetChars != 0 {
		c.Retrieval.ContextBudgetChars = other.Retrieval.ContextBudgetChars
	}
	if other.Retrieval.RerankEnabled {
		c.Retrieval.RerankEnabled = true
	}
	if other.Retrieval.RerankTimeout != 0 {
		c.Retrieval.RerankTimeout = other.Retrieval.RerankTimeout
	}
	if other.Retrieval.RerankBlend != 0 {
		c.Retrieval.RerankBlend = other.Retrieval.RerankBlend
	}
	if other.Retrieval.QueryCacheSize != 0 {
		c.Retrieval.QueryCacheSize = other.Retrieval.QueryCacheSize
	}
	if other.Retrieval.QueryCacheTTL != 0 {
		c.Retrieval.QueryCacheTTL = other.Retrieval.QueryCacheTTL
	}

	// Citation
	if other.Citation.OverlapThreshold != 0 {
		c.Citation.OverlapThreshold = other.Citation.OverlapThreshold
	}
	if other.Citation.CoverageWarn != 0 {
		c.Citation.CoverageWarn = other.Citation.CoverageWarn
	}
	if other.Citation.MaxPerSentence != 0 {
		c.Citation.MaxPerSentence = other.Citation.MaxPerSentence
	}
	// RepairEnabled is boolean; a local file setting it false is honored only
	// when some other citation field is present, same as the boolean handling
	// elsewhere in this merge.
	if other.Citation.OverlapThreshold != 0 || other.Citation.CoverageWarn != 0 {
		c.Citation.RepairEnabled = other.Citation.RepairEnabled
	}

	// Confidence
	if other.Confidence.Floor != 0 {
		c.Confidence.Floor = other.Confidence.Floor
	}
	if other.Confidence.DensityWeight != 0 {
		c.Confidence.DensityWeight = other.Confidence.DensityWeight
	}
	if other.Confidence.RelevanceWeight != 0 {
		c.Confidence.RelevanceWeight = other.Confidence.RelevanceWeight
	}
	if other.Confidence.CoherenceWeight != 0 {
		c.Confidence.CoherenceWeight = other.Confidence.CoherenceWeight
	}
	if other.Confidence.SupportWeight != 0 {
		c.Confidence.SupportWeight = other.Confidence.SupportWeight
	}

	// Rate limit
	if other.RateLimit.Requests != 0 {
		c.RateLimit.Requests = other.RateLimit.Requests
		c.RateLimit.Enabled = other.RateLimit.Enabled
	}
	if other.RateLimit.Window != 0 {
		c.RateLimit.Window = other.RateLimit.Window
	}
}

// applyEnvOverrides applies MNEMO_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Fusion weights support explicit zero values via env vars.
	if v := os.Getenv("MNEMO_VECTOR_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Retrieval.VectorWeight = w
		}
	}
	if v := os.Getenv("MNEMO_LEXICAL_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Retrieval.LexicalWeight = w
		}
	}
	if v := os.Getenv("MNEMO_RECENCY_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 {
			c.Retrieval.RecencyWeight = w
		}
	}
	if v := os.Getenv("MNEMO_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Retrieval.RRFConstant = k
		}
	}

	if v := os.Getenv("MNEMO_EMBEDDINGS_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	if v := os.Getenv("MNEMO_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("MNEMO_GENERATION_ENDPOINT"); v != "" {
		c.Generation.Endpoint = v
	}
	if v := os.Getenv("MNEMO_GENERATION_MODEL"); v != "" {
		c.Generation.Model = v
	}
	if v := os.Getenv("MNEMO_CONFIDENCE_FLOOR"); v != "" {
		if f, err := parseFloat64(v); err == nil && f >= 0 && f <= 1 {
			c.Confidence.Floor = f
		}
	}
	if v := os.Getenv("MNEMO_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("MNEMO_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			c.Server.Port = p
		}
	}
	if v := os.Getenv("MNEMO_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("MNEMO_RATE_LIMIT_ENABLED"); v != "" {
		c.RateLimit.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Retrieval.VectorWeight < 0 {
		return fmt.Errorf("vector_weight must be non-negative, got %f", c.Retrieval.VectorWeight)
	}
	if c.Retrieval.LexicalWeight < 0 {
		return fmt.Errorf("lexical_weight must be non-negative, got %f", c.Retrieval.LexicalWeight)
	}
	if c.Retrieval.RecencyWeight < 0 {
		return fmt.Errorf("recency_weight must be non-negative, got %f", c.Retrieval.RecencyWeight)
	}
	if c.Retrieval.VectorWeight+c.Retrieval.LexicalWeight+c.Retrieval.RecencyWeight == 0 {
		return fmt.Errorf("at least one fusion weight must be positive")
	}
	if c.Retrieval.RRFConstant <= 0 {
		return fmt.Errorf("rrf_constant must be positive, got %d", c.Retrieval.RRFConstant)
	}
	if c.Retrieval.DefaultK <= 0 || c.Retrieval.MaxK <= 0 {
		return fmt.Errorf("default_k and max_k must be positive")
	}
	if c.Retrieval.DefaultK > c.Retrieval.MaxK {
		return fmt.Errorf("default_k (%d) must not exceed max_k (%d)", c.Retrieval.DefaultK, c.Retrieval.MaxK)
	}
	if c.Retrieval.RerankBlend < 0 || c.Retrieval.RerankBlend > 1 {
		return fmt.Errorf("rerank_blend must be between 0 and 1, got %f", c.Retrieval.RerankBlend)
	}

	if c.Citation.OverlapThreshold < 0 || c.Citation.OverlapThreshold > 1 {
		return fmt.Errorf("overlap_threshold must be between 0 and 1, got %f", c.Citation.OverlapThreshold)
	}

	sum := c.Confidence.DensityWeight + c.Confidence.RelevanceWeight +
		c.Confidence.CoherenceWeight + c.Confidence.SupportWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("confidence weights must sum to 1.0, got %.2f", sum)
	}
	if c.Confidence.Floor < 0 || c.Confidence.Floor > 1 {
		return fmt.Errorf("confidence floor must be between 0 and 1, got %f", c.Confidence.Floor)
	}

	if c.Generation.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.Generation.MaxConcurrent)
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requests and window must be positive when enabled")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
