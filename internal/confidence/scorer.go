// Package confidence grades a validated answer: four sub-scores roll up
// to a weighted overall, mapped to a five-level scale with a legacy
// three-level view for older clients.
package confidence

import (
	"regexp"
	"strings"

	"github.com/mnemosyne-notes/mnemo/internal/citation"
	"github.com/mnemosyne-notes/mnemo/internal/query"
)

// Level is the external confidence scale.
type Level string

const (
	LevelVeryHigh Level = "very_high"
	LevelHigh     Level = "high"
	LevelMedium   Level = "medium"
	LevelLow      Level = "low"
	LevelVeryLow  Level = "very_low"

	// LevelNone marks answers with no surviving citations or an
	// explicit uncertainty acknowledgement.
	LevelNone Level = "none"
)

// Legacy folds the five-level scale into the three-level one older
// clients expect.
func (l Level) Legacy() Level {
	switch l {
	case LevelVeryHigh, LevelHigh:
		return LevelHigh
	case LevelMedium:
		return LevelMedium
	case LevelLow, LevelVeryLow:
		return LevelLow
	default:
		return LevelNone
	}
}

// uncertaintyPhrases is the closed list marking an answer as an
// acknowledgement that the notes do not cover the question.
var uncertaintyPhrases = []string{
	"don't have",
	"do not have",
	"no notes about",
	"no notes on",
	"couldn't find",
	"could not find",
	"not mentioned in your notes",
	"nothing in your notes",
}

// IsUncertaintyAcknowledgement reports whether the answer explicitly
// says the notes do not cover the question.
func IsUncertaintyAcknowledgement(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range uncertaintyPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// factualPattern marks sentences that state checkable facts: linking or
// reporting verbs, figures, or absolutes.
var factualPattern = regexp.MustCompile(`(?i)(\b(is|are|was|were|has|have|had|will|uses|used|decided|chose|means|causes|costs|takes|shows|happened)\b|\d|\balways\b|\bnever\b|\bevery\b)`)

// markerLinePattern matches a line holding nothing but markers.
var markerLinePattern = regexp.MustCompile(`(?m)^\s*(\[N\d+\]\s*)+$`)

// markerClusterPattern matches four or more markers in a row.
var markerClusterPattern = regexp.MustCompile(`(\[N\d+\]\s*){4,}`)

var markerPattern = regexp.MustCompile(`\[N\d+\]`)

const (
	weightDensity         = 0.25
	weightSourceRelevance = 0.30
	weightCoherence       = 0.20
	weightClaimSupport    = 0.25

	// densityPeak is the citation coverage that earns full marks.
	// Coverage above the peak keeps the full score so that adding a
	// citation never lowers confidence; over-citation noise is caught
	// structurally by the coherence penalties instead.
	densityPeak = 0.7

	shortAnswerLength         = 40
	substantialSentenceLength = 15
)

// Breakdown is the full scoring result, reported in the debug block.
type Breakdown struct {
	Density         float64 `json:"density"`
	SourceRelevance float64 `json:"sourceRelevance"`
	Coherence       float64 `json:"coherence"`
	ClaimSupport    float64 `json:"claimSupport"`
	Overall         float64 `json:"overall"`
	Level           Level   `json:"level"`
	LegacyLevel     Level   `json:"legacyLevel"`
}

// Input carries everything the scorer conditions on.
type Input struct {
	// Text is the validated answer with internal markers.
	Text string

	// Citations are the surviving citations with their fused scores.
	Citations []*citation.Citation

	// Intent shapes the coherence check for list-like answers.
	Intent query.Intent

	// RelevanceFloor normalizes source relevance; scores at the floor
	// count as zero. Defaults to 0.3 when unset.
	RelevanceFloor float64
}

// Score computes the four sub-scores and the overall level.
func Score(in Input) Breakdown {
	if len(in.Citations) == 0 || IsUncertaintyAcknowledgement(in.Text) {
		return Breakdown{Level: LevelNone, LegacyLevel: LevelNone}
	}
	floor := in.RelevanceFloor
	if floor <= 0 {
		floor = 0.3
	}

	b := Breakdown{
		Density:         densityScore(in.Text),
		SourceRelevance: sourceRelevance(in.Citations, floor),
		Coherence:       coherenceScore(in.Text, in.Intent),
		ClaimSupport:    claimSupport(in.Text),
	}
	b.Overall = weightDensity*b.Density +
		weightSourceRelevance*b.SourceRelevance +
		weightCoherence*b.Coherence +
		weightClaimSupport*b.ClaimSupport
	b.Level = levelFor(b.Overall)
	b.LegacyLevel = b.Level.Legacy()
	return b
}

func levelFor(overall float64) Level {
	switch {
	case overall >= 0.85:
		return LevelVeryHigh
	case overall >= 0.70:
		return LevelHigh
	case overall >= 0.50:
		return LevelMedium
	case overall >= 0.30:
		return LevelLow
	default:
		return LevelVeryLow
	}
}

// densityScore rewards citation coverage up to the peak and plateaus
// there, keeping the score non-decreasing in coverage.
func densityScore(text string) float64 {
	ratio := citation.Coverage(text)
	if ratio >= densityPeak {
		return 1.0
	}
	return ratio / densityPeak
}

// sourceRelevance is the mean fused score of cited chunks, rescaled so
// the relevance floor reads as zero.
func sourceRelevance(citations []*citation.Citation, floor float64) float64 {
	sum := 0.0
	for _, c := range citations {
		sum += c.Score
	}
	mean := sum / float64(len(citations))
	scaled := (mean - floor) / (1.0 - floor)
	return clamp01(scaled)
}

// coherenceScore starts at 1.0 and subtracts a penalty per structural
// defect.
func coherenceScore(text string, intent query.Intent) float64 {
	score := 1.0
	trimmed := strings.TrimSpace(text)

	if !strings.HasSuffix(trimmed, ".") && !strings.HasSuffix(trimmed, "!") && !strings.HasSuffix(trimmed, "?") {
		score -= 0.2
	}
	if markerLinePattern.MatchString(text) {
		score -= 0.15
	}
	if markerClusterPattern.MatchString(text) {
		score -= 0.15
	}
	if len(trimmed) < shortAnswerLength {
		score -= 0.2
	}
	if (intent == query.IntentList || intent == query.IntentActionItem) && !looksLikeList(text) {
		score -= 0.15
	}
	return clamp01(score)
}

func looksLikeList(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "- ") || strings.HasPrefix(t, "* ") || numberedItemPattern.MatchString(t) {
			return true
		}
	}
	return false
}

var numberedItemPattern = regexp.MustCompile(`^\d+[.)]\s`)

// claimSupport is the fraction of factual-looking sentences carrying a
// marker. Answers without factual sentences score full marks.
func claimSupport(text string) float64 {
	factual := 0
	supported := 0
	for _, s := range citation.SplitSentences(text) {
		bare := strings.TrimSpace(markerPattern.ReplaceAllString(s, ""))
		if len(bare) <= substantialSentenceLength || !factualPattern.MatchString(bare) {
			continue
		}
		factual++
		if markerPattern.MatchString(s) {
			supported++
		}
	}
	if factual == 0 {
		return 1.0
	}
	return float64(supported) / float64(factual)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
