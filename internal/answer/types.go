// Package answer orchestrates one question-answering request end to end:
// analysis, retrieval, prompt assembly, generation, citation validation
// with a single repair attempt, confidence scoring, and telemetry.
package answer

import (
	"github.com/mnemosyne-notes/mnemo/internal/citation"
	"github.com/mnemosyne-notes/mnemo/internal/confidence"
	"github.com/mnemosyne-notes/mnemo/internal/prompt"
	"github.com/mnemosyne-notes/mnemo/internal/retrieval"
)

// Overrides are the per-request knobs a caller may set. Zero values mean
// the pipeline defaults.
type Overrides struct {
	// Temperature overrides the generation temperature when > 0.
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens caps the completion length when > 0.
	MaxTokens int `json:"maxTokens,omitempty"`

	// TopK overrides the retrieval candidate count when > 0.
	TopK int `json:"topK,omitempty"`

	// MinRelevance drops fused candidates below this score when > 0.
	MinRelevance float64 `json:"minRelevance,omitempty"`

	// VerifyCitations enables the per-citation pair scorer.
	VerifyCitations bool `json:"verifyCitations,omitempty"`

	// Language hints the answer language, e.g. "pt-BR".
	Language string `json:"language,omitempty"`

	// SystemPrompt replaces the built-in identity. The citation grammar
	// is still enforced.
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// Request is one question against a tenant's notes.
type Request struct {
	TenantID string               `json:"tenantId"`
	Question string               `json:"question"`
	History  []prompt.HistoryTurn `json:"history,omitempty"`
	Filters  *retrieval.Filters   `json:"filters,omitempty"`
	Format   prompt.Format        `json:"format,omitempty"`

	Overrides *Overrides `json:"overrides,omitempty"`

	// RequestID is assigned by the pipeline when empty.
	RequestID string `json:"requestId,omitempty"`
}

// Source is one cited or offered source in the response, keyed by its
// display number.
type Source struct {
	ID        int     `json:"id"`
	NoteID    string  `json:"noteId"`
	Preview   string  `json:"preview"`
	Date      string  `json:"date"`
	Relevance float64 `json:"relevance"`
}

// CitationQuality summarizes the validation outcome for the debug block.
type CitationQuality struct {
	Valid           int     `json:"valid"`
	Invalid         int     `json:"invalid"`
	Dropped         int     `json:"dropped"`
	Suspicious      int     `json:"suspicious"`
	CoveragePercent float64 `json:"coveragePercent"`
}

// ValidationStats reports the validate-repair cycle for the debug block.
type ValidationStats struct {
	ContractCompliant bool `json:"contractCompliant"`
	RepairAttempted   bool `json:"repairAttempted"`
	RepairAccepted    bool `json:"repairAccepted"`
}

// Debug is the optional diagnostic block attached to every response.
type Debug struct {
	RetrievalMode  string                       `json:"retrievalMode"`
	Candidates     retrieval.StageCounts        `json:"candidateCounts"`
	RerankCount    int                          `json:"rerankCount"`
	Confidence     confidence.Breakdown         `json:"confidence"`
	Quality        CitationQuality              `json:"citationQuality"`
	PostProcessing []string                     `json:"postProcessing,omitempty"`
	Validation     ValidationStats              `json:"validation"`
	PairScores     []confidence.PairScore       `json:"pairScores,omitempty"`
	Hallucinations []citation.HallucinationFlag `json:"hallucinationRisks,omitempty"`
	Style          citation.StyleScores         `json:"style"`
}

// Metadata is the response envelope a client needs beyond the answer.
type Metadata struct {
	Model       string `json:"model"`
	RequestID   string `json:"requestId"`
	ElapsedMs   int64  `json:"elapsedMs"`
	Intent      string `json:"intent"`
	Confidence  string `json:"confidence"`
	SourceCount int    `json:"sourceCount"`

	Debug *Debug `json:"debug,omitempty"`
}

// Response is the complete answer for one request. Answer text carries
// display markers [1], [2], ... that index into Sources.
type Response struct {
	Answer string `json:"answer"`

	// Sources are the cited sources in marker order.
	Sources []Source `json:"sources"`

	// ContextSources were offered to the generator but never cited.
	ContextSources []Source `json:"contextSources,omitempty"`

	Metadata Metadata `json:"metadata"`
}

// sourceFrom converts a pack citation to the response form.
func sourceFrom(num int, c *citation.Citation) Source {
	return Source{
		ID:        num,
		NoteID:    c.NoteID,
		Preview:   c.Snippet,
		Date:      c.CreatedAt.Format("2006-01-02"),
		Relevance: c.Score,
	}
}
