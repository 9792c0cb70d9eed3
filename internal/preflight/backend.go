package preflight

import (
	"context"
	"fmt"
	"strings"

	"github.com/mnemosyne-notes/mnemo/internal/lifecycle"
)

// Backend describes a model backend to verify during preflight.
type Backend struct {
	Name     string // check name, e.g. "embedding_backend"
	Endpoint string
	Models   []string
}

// CheckBackend verifies that a backend responds and has the required models.
// Backend checks never fail hard, retrieval degrades to keyword-only mode
// when the embedder is down and generation errors surface per request.
func (c *Checker) CheckBackend(ctx context.Context, b Backend) CheckResult {
	result := CheckResult{
		Name:     b.Name,
		Required: false,
	}

	if c.offline {
		result.Status = StatusWarn
		result.Message = "Skipped (offline mode)"
		return result
	}

	mgr := lifecycle.NewManager(b.Endpoint)
	status, err := mgr.Check(ctx, b.Models...)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Cannot query backend: %v", err)
		result.Details = fmt.Sprintf("Endpoint: %s", mgr.Host())
		return result
	}

	if !status.Reachable {
		result.Status = StatusWarn
		result.Message = "Backend not reachable"
		result.Details = fmt.Sprintf("Endpoint: %s", mgr.Host())
		return result
	}

	if len(status.Missing) > 0 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Missing model(s): %s", strings.Join(status.Missing, ", "))
		result.Details = fmt.Sprintf("Pull with: ollama pull %s", status.Missing[0])
		return result
	}

	result.Status = StatusPass
	if len(b.Models) > 0 {
		result.Message = fmt.Sprintf("Reachable, %s available", strings.Join(b.Models, ", "))
	} else {
		result.Message = "Reachable"
	}
	result.Details = fmt.Sprintf("Endpoint: %s", mgr.Host())
	return result
}
