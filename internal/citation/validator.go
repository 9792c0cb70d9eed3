package citation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mnemosyne-notes/mnemo/internal/store"
)

// markerPattern matches internal citation markers like [N3].
var markerPattern = regexp.MustCompile(`\[N(\d+)\]`)

// bareMarkerPattern matches external-form markers like [3].
var bareMarkerPattern = regexp.MustCompile(`\[(\d+)\]`)

// adjacentDupPattern matches a marker immediately repeated, with optional
// whitespace between the copies.
var adjacentDupPattern = regexp.MustCompile(`(\[N\d+\])(\s*)(\[N\d+\])`)

// substantialSentenceLength is the minimum length for a sentence to count
// toward citation coverage.
const substantialSentenceLength = 15

// ValidatorConfig tunes the citation validator.
type ValidatorConfig struct {
	// MinOverlap is the minimum acceptable answer-source keyword overlap
	// (default: 0.15). Citations between half this value and the value
	// are kept but flagged suspicious; below half they are dropped.
	MinOverlap float64

	// Strict also drops the suspicious band.
	Strict bool

	// MaxMarkersPerSentence caps markers kept in one sentence (default: 3).
	MaxMarkersPerSentence int

	// CoverageRepairThreshold triggers a repair pass when coverage falls
	// below it and enough sources were offered (default: 0.5).
	CoverageRepairThreshold float64

	// MinSourcesForRepair is how many sources must be present before low
	// coverage alone triggers repair (default: 3).
	MinSourcesForRepair int
}

// DefaultValidatorConfig returns the standard validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MinOverlap:              0.15,
		Strict:                  false,
		MaxMarkersPerSentence:   3,
		CoverageRepairThreshold: 0.5,
		MinSourcesForRepair:     3,
	}
}

// ValidationResult is the validator's output for one answer.
type ValidationResult struct {
	// Text is the validated answer with invalid markers removed.
	Text string

	// Citations are the surviving citations in order of first appearance.
	Citations []*Citation

	// Invalid lists dangling identifiers that had no pack entry.
	Invalid []string

	// Dropped lists identifiers removed for low overlap.
	Dropped []string

	// Suspicious lists identifiers kept despite borderline overlap.
	Suspicious []string

	// Overlaps maps cited identifiers to their answer-source overlap.
	Overlaps map[string]float64

	// Coverage is the fraction of substantial sentences carrying at
	// least one valid marker.
	Coverage float64

	// ContractCompliant is true when no dangling markers were found.
	ContractCompliant bool
}

// Validator checks answers against the Sources Pack. The same algorithm
// serves the pre-pipeline pass and the post-repair pass.
type Validator struct {
	config    ValidatorConfig
	stopWords map[string]struct{}
}

// NewValidator creates a validator. Zero config fields take defaults.
func NewValidator(config ValidatorConfig) *Validator {
	def := DefaultValidatorConfig()
	if config.MinOverlap <= 0 {
		config.MinOverlap = def.MinOverlap
	}
	if config.MaxMarkersPerSentence <= 0 {
		config.MaxMarkersPerSentence = def.MaxMarkersPerSentence
	}
	if config.CoverageRepairThreshold <= 0 {
		config.CoverageRepairThreshold = def.CoverageRepairThreshold
	}
	if config.MinSourcesForRepair <= 0 {
		config.MinSourcesForRepair = def.MinSourcesForRepair
	}
	return &Validator{
		config:    config,
		stopWords: store.BuildStopWordMap(store.DefaultStopWords),
	}
}

// Validate runs the full algorithm: partition markers into valid and
// dangling, remove dangling ones, drop low-overlap citations, collapse
// duplicate adjacent markers, cap markers per sentence, and compute
// coverage. Validating an already-validated answer is a no-op.
func (v *Validator) Validate(answer string, pack *SourcesPack) *ValidationResult {
	result := &ValidationResult{
		Overlaps: make(map[string]float64),
	}

	// Step 1: partition markers.
	valid := make(map[string]bool)
	for _, m := range markerPattern.FindAllStringSubmatch(answer, -1) {
		id := "N" + m[1]
		n, _ := strconv.Atoi(m[1])
		if _, ok := pack.GetIndex(n); ok {
			valid[id] = true
		} else if !contains(result.Invalid, id) {
			result.Invalid = append(result.Invalid, id)
		}
	}
	result.ContractCompliant = len(result.Invalid) == 0

	// Step 2: remove dangling markers and repair the surrounding text.
	text := answer
	for _, id := range result.Invalid {
		text = removeMarker(text, id)
	}

	// Step 3: overlap screening against each cited source.
	answerTokens := v.keywordSet(stripMarkers(text))
	half := v.config.MinOverlap / 2
	for id := range valid {
		sc, ok := pack.ChunkFor(id)
		if !ok {
			continue
		}
		overlap := v.overlap(answerTokens, v.keywordSet(sc.Chunk.Content))
		result.Overlaps[id] = overlap

		switch {
		case overlap >= v.config.MinOverlap:
			// Keeps its markers.
		case overlap >= half && !v.config.Strict:
			result.Suspicious = append(result.Suspicious, id)
		default:
			if overlap >= half {
				result.Suspicious = append(result.Suspicious, id)
			}
			result.Dropped = append(result.Dropped, id)
			delete(valid, id)
			text = removeMarker(text, id)
		}
	}
	sort.Strings(result.Dropped)
	sort.Strings(result.Suspicious)

	// Step 4: collapse adjacent duplicates, drop empty brackets, cap
	// markers per sentence.
	text = collapseAdjacentDuplicates(text)
	text = strings.ReplaceAll(text, "[]", "")
	text = v.capMarkersPerSentence(text)
	text = normalizeWhitespace(text)

	// Step 5: coverage over substantial sentences.
	result.Coverage = Coverage(text)

	// Surviving citations in order of first appearance.
	seen := make(map[string]bool)
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		id := "N" + m[1]
		if seen[id] || !valid[id] {
			continue
		}
		seen[id] = true
		if c, ok := pack.Get(id); ok {
			result.Citations = append(result.Citations, c)
		}
	}

	result.Text = text
	return result
}

// NeedsRepair reports whether the pipeline should attempt one repair
// generation: zero valid citations, low coverage with enough sources
// offered, or any invalid markers removed.
func (v *Validator) NeedsRepair(result *ValidationResult, packSize int) bool {
	if packSize == 0 {
		return false
	}
	if len(result.Citations) == 0 {
		return true
	}
	if result.Coverage < v.config.CoverageRepairThreshold && packSize >= v.config.MinSourcesForRepair {
		return true
	}
	return len(result.Invalid) > 0
}

// AcceptRepair reports whether a repaired answer replaces the original:
// strictly greater coverage and at least one surviving citation.
func AcceptRepair(original, repaired *ValidationResult) bool {
	return repaired.Coverage > original.Coverage && len(repaired.Citations) > 0
}

// Coverage computes the fraction of substantial sentences that contain at
// least one marker.
func Coverage(text string) float64 {
	substantial := 0
	cited := 0
	for _, s := range SplitSentences(text) {
		bare := strings.TrimSpace(stripMarkers(s))
		if len(bare) <= substantialSentenceLength {
			continue
		}
		substantial++
		if markerPattern.MatchString(s) {
			cited++
		}
	}
	if substantial == 0 {
		return 0
	}
	return float64(cited) / float64(substantial)
}

// keywordSet tokenizes text into a stop-word-free keyword set.
func (v *Validator) keywordSet(text string) map[string]struct{} {
	tokens := store.Tokenize(text, 3)
	tokens = store.FilterStopWords(tokens, v.stopWords)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// overlap is the Szymkiewicz-Simpson coefficient: intersection size over
// the size of the smaller set.
func (v *Validator) overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	hits := 0
	for t := range small {
		if _, ok := large[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(small))
}

// removeMarker strips every occurrence of one marker and repairs spacing
// and punctuation around the removal without destroying newlines.
func removeMarker(text, id string) string {
	marker := "[" + id + "]"
	text = strings.ReplaceAll(text, marker, "")
	return repairSpacing(text)
}

// repairSpacing collapses space runs within lines, fixes "word ." and
// "word ," gaps, and limits blank-line runs to two.
func repairSpacing(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		line = strings.NewReplacer(" .", ".", " ,", ",", " ;", ";", " :", ":", " !", "!", " ?", "?").Replace(line)
		lines[i] = line
	}
	out := strings.Join(lines, "\n")
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return out
}

// normalizeWhitespace trims line endings and applies the same spacing
// repair used after marker removal.
func normalizeWhitespace(text string) string {
	return strings.TrimSpace(repairSpacing(text))
}

// collapseAdjacentDuplicates rewrites [N1][N1] and [N1] [N1] to [N1],
// repeating until stable so longer runs collapse too.
func collapseAdjacentDuplicates(text string) string {
	for {
		replaced := adjacentDupPattern.ReplaceAllStringFunc(text, func(m string) string {
			sub := adjacentDupPattern.FindStringSubmatch(m)
			if sub[1] == sub[3] {
				return sub[1]
			}
			return sub[1] + sub[3]
		})
		if replaced == text {
			return replaced
		}
		text = replaced
	}
}

// capMarkersPerSentence keeps at most the configured number of markers in
// each sentence, dropping the trailing surplus.
func (v *Validator) capMarkersPerSentence(text string) string {
	limit := v.config.MaxMarkersPerSentence
	if limit <= 0 {
		return text
	}

	var b strings.Builder
	count := 0
	i := 0
	for i < len(text) {
		loc := markerPattern.FindStringIndex(text[i:])
		if loc == nil {
			b.WriteString(text[i:])
			break
		}
		segment := text[i : i+loc[0]]
		b.WriteString(segment)
		if strings.ContainsAny(segment, ".!?\n") {
			count = 0
		}
		count++
		if count <= limit {
			b.WriteString(text[i+loc[0] : i+loc[1]])
		}
		i += loc[1]
	}
	return b.String()
}

// stripMarkers removes all internal markers from text.
func stripMarkers(text string) string {
	return markerPattern.ReplaceAllString(text, "")
}

// contains reports whether a string slice holds a value.
func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// FormatID renders a 1-indexed position as an internal identifier.
func FormatID(n int) string {
	return fmt.Sprintf("N%d", n)
}
