// Package query analyzes raw user questions before retrieval. The analyzer
// classifies intent, extracts keywords and time hints, and computes the
// adaptive candidate count used by the hybrid retriever. Analysis is
// deterministic and never fails: a question that yields nothing useful falls
// back to search intent over its plain tokens.
package query

import "time"

// Intent classifies what the user wants from their notes.
type Intent string

const (
	// IntentSummarize asks for a condensed view of one or more notes.
	IntentSummarize Intent = "summarize"

	// IntentList asks for an enumeration (bulleted or numbered items).
	IntentList Intent = "list"

	// IntentDecision asks what was decided or agreed.
	IntentDecision Intent = "decision"

	// IntentActionItem asks for open todos and follow-ups.
	IntentActionItem Intent = "action_item"

	// IntentQuestion is a direct interrogative seeking a specific fact.
	IntentQuestion Intent = "question"

	// IntentSearch is the default when no other rule matches.
	IntentSearch Intent = "search"
)

// QueryType characterizes the shape of a question for reranker guidance.
// It is advisory only and never changes retrieval behavior.
type QueryType string

const (
	// QueryTypeFactual seeks a specific fact or value.
	QueryTypeFactual QueryType = "factual"

	// QueryTypeProcedural seeks steps or instructions.
	QueryTypeProcedural QueryType = "procedural"

	// QueryTypeTemporal is anchored to a time period.
	QueryTypeTemporal QueryType = "temporal"

	// QueryTypeExploratory is open-ended browsing.
	QueryTypeExploratory QueryType = "exploratory"
)

// TimeHint is a time window extracted from the question surface.
// DaysBack bounds how far back retrieval should look; After and Before are
// absolute bounds when the hint resolves to a concrete range. Zero values
// mean the bound is absent.
type TimeHint struct {
	DaysBack int
	After    time.Time
	Before   time.Time
}

// Analysis is the analyzer's output for one question. It lives for the
// duration of a single request.
type Analysis struct {
	// Normalized is the sanitized, whitespace-collapsed question text.
	Normalized string

	// Keywords are lowercased non-stop-word tokens, deduplicated in first
	// occurrence order. UPPER_SNAKE identifiers are preserved verbatim.
	Keywords []string

	// Identifiers are the UPPER_SNAKE tokens found in the question, a
	// subset of Keywords kept in original casing.
	Identifiers []string

	// Entities are capitalized tokens that look like proper names.
	Entities []string

	// Intent is the classified intent tag.
	Intent Intent

	// QueryType guides the optional cross-encoder reranker.
	QueryType QueryType

	// TimeHint is nil when the question carries no time expression.
	TimeHint *TimeHint

	// CandidateK is the adaptive candidate count for retrieval.
	CandidateK int

	// RerankWidth is how many fused candidates the reranker may see.
	RerankWidth int
}

// Config tunes the analyzer.
type Config struct {
	// MaxQuestionLength caps the sanitized question in runes (default: 2000).
	MaxQuestionLength int

	// BaseK is the baseline candidate count (default: 8).
	BaseK int

	// MaxK caps the adaptive candidate count (default: 24).
	MaxK int

	// MaxKeywords caps extracted keywords; identifiers are always kept
	// even above the cap (default: 12).
	MaxKeywords int
}

// DefaultConfig returns the standard analyzer configuration.
func DefaultConfig() Config {
	return Config{
		MaxQuestionLength: 2000,
		BaseK:             8,
		MaxK:              24,
		MaxKeywords:       12,
	}
}
