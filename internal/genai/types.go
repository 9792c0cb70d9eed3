// Package genai provides the text completion client used for answer
// generation, citation repair, and cross-encoder rerank scoring. The
// production implementation talks to an Ollama-compatible backend; the
// pipeline depends only on the Client interface.
package genai

import (
	"context"
	"time"
)

const (
	// DefaultMaxConcurrent caps simultaneous model calls process-wide.
	DefaultMaxConcurrent = 10

	// DefaultTimeout bounds a single generation attempt.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is attempts for transient failures.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the base backoff between attempts.
	DefaultRetryDelay = 1 * time.Second

	// DefaultMaxTokens bounds answer length.
	DefaultMaxTokens = 1024

	// DefaultTemperature keeps answers grounded rather than creative.
	DefaultTemperature = 0.2
)

// CompletionRequest is one text-in-text-out generation call. Zero-valued
// sampling fields fall back to the client's configured defaults.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float64
	TopK        int
	TopP        float64
	MaxTokens   int
}

// CompletionResult is the model's output.
type CompletionResult struct {
	Text    string
	Model   string
	Elapsed time.Duration
}

// Client produces completions from a generative backend. Errors carry
// distinguishable kinds: rate limited, configuration failure, invalid
// argument, and transient failure.
type Client interface {
	// Complete sends system instruction and prompt and returns the text.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the backend is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Config configures the HTTP completion client.
type Config struct {
	// Endpoint is the backend base URL (e.g. http://localhost:11434).
	Endpoint string

	// Model is the generation model name.
	Model string

	// MaxTokens is the default output token cap.
	MaxTokens int

	// Temperature is the default sampling temperature.
	Temperature float64

	// Timeout bounds each attempt.
	Timeout time.Duration

	// MaxConcurrent caps in-flight calls across the process.
	MaxConcurrent int64

	// MaxRetries is attempts for transient failures.
	MaxRetries int

	// RetryDelay is the base backoff between attempts.
	RetryDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
}
