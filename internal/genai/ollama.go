package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	mnerrors "github.com/mnemosyne-notes/mnemo/internal/errors"
)

// generateRequest is the Ollama-compatible /api/generate request body.
type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
	TopK        int     `json:"top_k,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
}

// generateResponse is the non-streaming /api/generate response body.
type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaClient implements Client against an Ollama-compatible HTTP API.
// A process-wide semaphore caps concurrent calls and a circuit breaker
// fails fast when the backend is down.
type OllamaClient struct {
	client  *http.Client
	config  Config
	sem     *semaphore.Weighted
	breaker *mnerrors.CircuitBreaker
}

var _ Client = (*OllamaClient)(nil)

// NewOllamaClient creates a completion client. Missing endpoint or model
// is a configuration error surfaced immediately, never retried.
func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	if cfg.Endpoint == "" {
		return nil, mnerrors.ConfigError("generation endpoint is required", nil)
	}
	if cfg.Model == "" {
		return nil, mnerrors.New(mnerrors.ErrCodeModelNotConfigured, "generation model is required", nil)
	}
	cfg.applyDefaults()

	return &OllamaClient{
		// No client timeout; per-attempt contexts carry the deadline.
		client:  &http.Client{},
		config:  cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		breaker: mnerrors.NewCircuitBreaker("generation"),
	}, nil
}

// Complete sends the prompt to the model. The call acquires the
// process-wide semaphore, then retries transient failures with
// exponential backoff. Rate-limit, configuration, and invalid-argument
// errors surface immediately with their distinct kinds.
func (c *OllamaClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if req.Prompt == "" {
		return nil, mnerrors.ValidationError("prompt is empty", nil)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	start := time.Now()

	retryCfg := mnerrors.RetryConfig{
		MaxRetries:   c.config.MaxRetries,
		InitialDelay: c.config.RetryDelay,
		MaxDelay:     16 * c.config.RetryDelay,
		Multiplier:   2.0,
		Jitter:       true,
		RetryIf:      mnerrors.IsRetryable,
	}

	text, err := mnerrors.RetryWithResult(ctx, retryCfg, func() (string, error) {
		return mnerrors.ExecuteWithResult(c.breaker, func() (string, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
			defer cancel()
			return c.doGenerate(attemptCtx, req)
		}, nil)
	})
	if err != nil {
		return nil, classifyFinal(err, c.config.MaxRetries)
	}

	return &CompletionResult{
		Text:    text,
		Model:   c.config.Model,
		Elapsed: time.Since(start),
	}, nil
}

// classifyFinal shapes the error leaving the retry loop. Distinct kinds
// (rate limited, config, invalid argument) pass through untouched; an
// open circuit reads as backend unavailable; everything else becomes a
// generic generation failure.
func classifyFinal(err error, attempts int) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, mnerrors.ErrCircuitOpen) {
		return mnerrors.New(mnerrors.ErrCodeBackendUnavailable,
			"generation backend circuit open", err).
			WithSuggestion("the backend has been failing; wait for recovery")
	}

	switch mnerrors.GetCode(err) {
	case mnerrors.ErrCodeRateLimited,
		mnerrors.ErrCodeConfigInvalid,
		mnerrors.ErrCodeModelNotConfigured,
		mnerrors.ErrCodeInvalidInput:
		return err
	}

	return mnerrors.New(mnerrors.ErrCodeGenerationFailed,
		fmt.Sprintf("generation failed after %d attempts", attempts+1), err)
}

// doGenerate performs one /api/generate attempt and classifies failures
// into structured error kinds.
func (c *OllamaClient) doGenerate(ctx context.Context, req CompletionRequest) (string, error) {
	opts := generateOptions{
		Temperature: c.config.Temperature,
		NumPredict:  c.config.MaxTokens,
	}
	if req.Temperature > 0 {
		opts.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		opts.NumPredict = req.MaxTokens
	}
	opts.TopK = req.TopK
	opts.TopP = req.TopP

	body, err := json.Marshal(generateRequest{
		Model:   c.config.Model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  false,
		Options: opts,
	})
	if err != nil {
		return "", mnerrors.InternalError("failed to marshal generation request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", mnerrors.InternalError("failed to create generation request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", mnerrors.TimeoutError("generation attempt timed out", ctx.Err())
		}
		return "", mnerrors.BackendError("failed to reach generation backend", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", mnerrors.New(mnerrors.ErrCodeBackendResponse,
			"failed to decode generation response", err)
	}
	if result.Response == "" {
		return "", mnerrors.New(mnerrors.ErrCodeBackendResponse, "empty generation response", nil)
	}

	return result.Response, nil
}

// classifyStatus maps an HTTP error status to a structured error kind.
func classifyStatus(resp *http.Response) error {
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := fmt.Sprintf("status %d: %s", resp.StatusCode, string(respBody))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return mnerrors.RateLimitError("generation backend rate limited", retryAfter).
			WithDetail("response", detail)

	case http.StatusUnauthorized, http.StatusForbidden:
		return mnerrors.ConfigError("generation backend rejected credentials", nil).
			WithDetail("response", detail)

	case http.StatusNotFound:
		return mnerrors.New(mnerrors.ErrCodeModelNotConfigured,
			"generation model not found on backend", nil).
			WithDetail("response", detail).
			WithSuggestion("pull the model or change generation.model in config")

	case http.StatusBadRequest:
		return mnerrors.ValidationError("generation backend rejected request", nil).
			WithDetail("response", detail)

	case http.StatusServiceUnavailable:
		return mnerrors.New(mnerrors.ErrCodeBackendOverloaded,
			"generation backend overloaded", nil).
			WithDetail("response", detail)

	default:
		return mnerrors.BackendError("generation backend error", nil).
			WithDetail("response", detail)
	}
}

// parseRetryAfter reads a Retry-After header in seconds form. Zero means
// the backend gave no advice.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ModelName returns the model identifier.
func (c *OllamaClient) ModelName() string {
	return c.config.Model
}

// Available probes the backend with a cheap version request.
func (c *OllamaClient) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Endpoint+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		slog.Debug("generation_backend_probe_failed", slog.Int("status", resp.StatusCode))
		return false
	}
	return true
}

// Close releases resources.
func (c *OllamaClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
