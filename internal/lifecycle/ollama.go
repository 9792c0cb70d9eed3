// Package lifecycle manages the Ollama backend that serves both embeddings
// and answer generation. It checks reachability, verifies that the required
// models are present, and pulls missing models with progress reporting.
package lifecycle

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	// DefaultHost is the default Ollama API endpoint.
	DefaultHost = "http://localhost:11434"

	// ReadyPollInterval is the initial polling interval for WaitForReady.
	ReadyPollInterval = 100 * time.Millisecond

	// MaxReadyPollInterval caps exponential backoff.
	MaxReadyPollInterval = 2 * time.Second

	// PullTimeout is how long to wait for a model pull. Large models can
	// take a while on a slow link.
	PullTimeout = 10 * time.Minute
)

// Manager handles Ollama backend operations over HTTP. It never touches the
// local process table; the endpoint may live on another machine entirely.
type Manager struct {
	host   string
	client *http.Client
}

// Status reports the state of the backend relative to a set of required models.
type Status struct {
	Host      string
	Reachable bool
	Models    []string // models the backend has available
	Missing   []string // required models the backend lacks
}

// PullProgress reports model pull progress.
type PullProgress struct {
	Status    string
	Digest    string
	Total     int64
	Completed int64
	Percent   float64
}

// EnsureOpts configures EnsureReady behavior.
type EnsureOpts struct {
	// AutoPull enables automatic pulling of missing models.
	AutoPull bool
	// ProgressFunc receives pull progress updates.
	ProgressFunc func(PullProgress)
	// Stdout for progress output (default: os.Stdout).
	Stdout io.Writer
}

// DefaultEnsureOpts returns sensible defaults.
func DefaultEnsureOpts() EnsureOpts {
	return EnsureOpts{
		AutoPull: true,
		Stdout:   os.Stdout,
	}
}

// NewManager creates a backend manager for the given host. An empty host
// falls back to DefaultHost; MNEMO_OLLAMA_HOST overrides both.
func NewManager(host string) *Manager {
	if host == "" {
		host = DefaultHost
	}
	if envHost := os.Getenv("MNEMO_OLLAMA_HOST"); envHost != "" {
		host = envHost
	}

	return &Manager{
		host: strings.TrimSuffix(host, "/"),
		client: &http.Client{
			Timeout: 5 * time.Second, // short timeout for health checks
		},
	}
}

// Host returns the configured backend host.
func (m *Manager) Host() string {
	return m.host
}

// IsReachable checks whether the backend API is responding.
func (m *Manager) IsReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		// Connection refused or timeout means not reachable.
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// ListModels returns the models the backend has available.
func (m *Manager) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	models := make([]string, len(result.Models))
	for i, mdl := range result.Models {
		models[i] = mdl.Name
	}
	return models, nil
}

// HasModel checks whether a specific model is available. Names match on the
// full tag or on the base name before the colon.
func (m *Manager) HasModel(ctx context.Context, model string) (bool, error) {
	models, err := m.ListModels(ctx)
	if err != nil {
		return false, err
	}
	return hasModel(models, model), nil
}

func hasModel(models []string, model string) bool {
	modelLower := strings.ToLower(model)
	modelBase := strings.Split(modelLower, ":")[0]

	for _, available := range models {
		availableLower := strings.ToLower(available)
		availableBase := strings.Split(availableLower, ":")[0]

		if availableLower == modelLower || availableBase == modelBase {
			return true
		}
	}
	return false
}

// Check returns the backend status against the required models.
func (m *Manager) Check(ctx context.Context, required ...string) (*Status, error) {
	status := &Status{Host: m.host}

	if !m.IsReachable(ctx) {
		return status, nil
	}
	status.Reachable = true

	models, err := m.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	status.Models = models

	for _, model := range required {
		if model == "" {
			continue
		}
		if !hasModel(models, model) {
			status.Missing = append(status.Missing, model)
		}
	}

	return status, nil
}

// WaitForReady polls until the backend responds or the timeout elapses.
func (m *Manager) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := ReadyPollInterval
	for {
		if m.IsReachable(ctx) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for backend at %s: %w", m.host, ctx.Err())
		case <-time.After(interval):
		}

		interval *= 2
		if interval > MaxReadyPollInterval {
			interval = MaxReadyPollInterval
		}
	}
}

// PullModel pulls a model with streaming progress reporting. Already-present
// models return immediately.
func (m *Manager) PullModel(ctx context.Context, model string, progressFunc func(PullProgress)) error {
	hasIt, err := m.HasModel(ctx, model)
	if err != nil {
		return fmt.Errorf("failed to check model: %w", err)
	}
	if hasIt {
		return nil
	}

	reqBody := struct {
		Name   string `json:"name"`
		Stream bool   `json:"stream"`
	}{
		Name:   model,
		Stream: true,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.host+"/api/pull", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// No client timeout here, the response streams for the whole pull.
	pullClient := &http.Client{Timeout: 0}
	resp, err := pullClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to start pull: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("pull failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}

		var progress struct {
			Status    string `json:"status"`
			Digest    string `json:"digest"`
			Total     int64  `json:"total"`
			Completed int64  `json:"completed"`
		}
		if err := json.Unmarshal([]byte(line), &progress); err != nil {
			continue // skip malformed lines
		}

		if progressFunc != nil {
			percent := 0.0
			if progress.Total > 0 {
				percent = float64(progress.Completed) / float64(progress.Total) * 100
			}
			progressFunc(PullProgress{
				Status:    progress.Status,
				Digest:    progress.Digest,
				Total:     progress.Total,
				Completed: progress.Completed,
				Percent:   percent,
			})
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading pull response: %w", err)
	}

	return nil
}

// EnsureReady verifies the backend is reachable and has every required model,
// pulling missing ones when opts.AutoPull is set.
func (m *Manager) EnsureReady(ctx context.Context, models []string, opts EnsureOpts) error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	if !m.IsReachable(ctx) {
		return &NotReachableError{Host: m.host}
	}

	status, err := m.Check(ctx, models...)
	if err != nil {
		return err
	}

	for _, model := range status.Missing {
		if !opts.AutoPull {
			return &ModelNotFoundError{Model: model}
		}

		fmt.Fprintf(opts.Stdout, "Pulling model %s...\n", model)

		progressFunc := opts.ProgressFunc
		if progressFunc == nil {
			lastPercent := -1.0
			progressFunc = func(p PullProgress) {
				if p.Total > 0 && p.Percent != lastPercent {
					lastPercent = p.Percent
					fmt.Fprintf(opts.Stdout, "\r%s: %.0f%% (%d/%d MB)",
						p.Status, p.Percent, p.Completed/(1024*1024), p.Total/(1024*1024))
				}
			}
		}

		pullCtx, cancel := context.WithTimeout(ctx, PullTimeout)
		err := m.PullModel(pullCtx, model, progressFunc)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to pull model %s: %w", model, err)
		}
		fmt.Fprintln(opts.Stdout)
		fmt.Fprintf(opts.Stdout, "Model %s ready.\n", model)
	}

	return nil
}

// NotReachableError indicates the backend did not respond.
type NotReachableError struct {
	Host string
}

func (e *NotReachableError) Error() string {
	return fmt.Sprintf("backend at %s is not reachable", e.Host)
}

// ModelNotFoundError indicates a required model is not available.
type ModelNotFoundError struct {
	Model string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %s not found", e.Model)
}

// IsRemoteHost reports whether the configured host is not localhost.
func (m *Manager) IsRemoteHost() bool {
	return !strings.Contains(m.host, "localhost") && !strings.Contains(m.host, "127.0.0.1")
}
