// Package httpapi exposes the answering pipeline over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mnemosyne-notes/mnemo/internal/answer"
	mnerrors "github.com/mnemosyne-notes/mnemo/internal/errors"
	"github.com/mnemosyne-notes/mnemo/internal/prompt"
	"github.com/mnemosyne-notes/mnemo/internal/ratelimit"
	"github.com/mnemosyne-notes/mnemo/internal/retrieval"
	"github.com/mnemosyne-notes/mnemo/internal/telemetry"
)

// Asker is the answering surface the server depends on.
type Asker interface {
	Ask(ctx context.Context, req answer.Request) (*answer.Response, error)
}

// Config tunes the HTTP server.
type Config struct {
	// RequestTimeout bounds one /api/ask request (default: 60s).
	RequestTimeout time.Duration

	// MaxBodyBytes caps the request body (default: 64KiB).
	MaxBodyBytes int64
}

// DefaultConfig returns the standard server configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 60 * time.Second,
		MaxBodyBytes:   64 << 10,
	}
}

// Server routes API requests to the pipeline.
type Server struct {
	asker   Asker
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	config  Config
	router  chi.Router
}

// NewServer builds the router. The limiter may be nil to disable rate
// limiting; gatherer may be nil to hide /metrics.
func NewServer(asker Asker, limiter *ratelimit.Limiter, gatherer prometheus.Gatherer, logger *slog.Logger, config Config) *Server {
	def := DefaultConfig()
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = def.RequestTimeout
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = def.MaxBodyBytes
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		asker:   asker,
		limiter: limiter,
		logger:  logger,
		config:  config,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Post("/api/ask", s.handleAsk)
	r.Get("/healthz", s.handleHealth)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// askBody is the /api/ask request payload.
type askBody struct {
	TenantID  string            `json:"tenantId"`
	Question  string            `json:"question"`
	History   []historyTurn     `json:"history,omitempty"`
	Filters   *filterBody       `json:"filters,omitempty"`
	Format    string            `json:"format,omitempty"`
	Overrides *answer.Overrides `json:"overrides,omitempty"`
}

type historyTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type filterBody struct {
	IncludeNotes []string  `json:"includeNotes,omitempty"`
	ExcludeNotes []string  `json:"excludeNotes,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	After        time.Time `json:"after,omitempty"`
	Before       time.Time `json:"before,omitempty"`
}

func (f *filterBody) toFilters() *retrieval.Filters {
	if f == nil {
		return nil
	}
	return &retrieval.Filters{
		IncludeNotes: f.IncludeNotes,
		ExcludeNotes: f.ExcludeNotes,
		Tags:         f.Tags,
		After:        f.After,
		Before:       f.Before,
	}
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	var req askBody
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, r, requestID, mnerrors.ValidationError("malformed request body", err))
		return
	}

	// The rate-limit key resolves as soon as the body parses, so the
	// headers are attached to every resolved response.
	if s.limiter != nil && req.TenantID != "" {
		decision := s.limiter.Allow(req.TenantID)
		decision.Apply(w.Header())
		if !decision.Allowed {
			s.writeError(w, r, requestID,
				mnerrors.RateLimitError("rate limit exceeded", decision.RetryAfter))
			return
		}
	}

	ctx := r.Context()
	if trace := r.Header.Get("X-Trace-ID"); trace != "" {
		ctx = telemetry.WithTraceID(ctx, trace)
	}
	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	resp, err := s.asker.Ask(ctx, answer.Request{
		TenantID:  req.TenantID,
		Question:  req.Question,
		History:   historyFrom(req.History),
		Filters:   req.Filters.toFilters(),
		Format:    prompt.Format(req.Format),
		Overrides: req.Overrides,
		RequestID: requestID,
	})
	if err != nil {
		s.writeError(w, r, requestID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	status := mnerrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("requestId", requestID),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("details", mnerrors.FormatForLog(err)))
	}

	if retryAfter := mnerrors.GetRetryAfter(err); retryAfter > 0 && w.Header().Get("Retry-After") == "" {
		secs := int(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	payload, jerr := mnerrors.FormatJSON(err)
	if jerr != nil {
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", slog.String("error", err.Error()))
	}
}

func historyFrom(turns []historyTurn) []prompt.HistoryTurn {
	if len(turns) == 0 {
		return nil
	}
	out := make([]prompt.HistoryTurn, len(turns))
	for i, t := range turns {
		out[i] = prompt.HistoryTurn{Role: t.Role, Content: t.Content}
	}
	return out
}
