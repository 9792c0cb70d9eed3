package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/mnemosyne-notes/mnemo/internal/store"
)

// DefaultTimeHorizonDays is the retrieval lookback applied when the
// question carries no time expression.
const DefaultTimeHorizonDays = 90

// Intent rules, checked in order. The first match wins, so the more
// specific patterns come before the generic interrogative.
var (
	summarizePattern = regexp.MustCompile(`(?i)\b(summariz|summaris|summary|tl;?dr|recap)`)
	listPattern      = regexp.MustCompile(`(?i)^(list|show\s+(me\s+)?(all\s+)?|enumerate|give\s+me\s+(a\s+list|all)|what\s+are\s+(all\s+|my\s+)?)`)
	decisionPattern  = regexp.MustCompile(`(?i)\b(decided?|decision|agreed?\s+(on|to)|conclusion|settled\s+on)\b`)
	actionPattern    = regexp.MustCompile(`(?i)\b(to-?dos?|action\s+items?|follow[\s-]?ups?|need\s+to\s+do|have\s+to\s+do|outstanding\s+tasks?|my\s+tasks)\b`)
	questionPattern  = regexp.MustCompile(`(?i)^(what|when|where|who|whom|whose|why|how|which|did|do|does|is|are|was|were|can|could|should|would|will|have|has)\b`)

	proceduralPattern = regexp.MustCompile(`(?i)^how\s+(do|to|can|should)\b|\bsteps?\b|\binstructions?\b|\bprocedure\b`)
	factualPattern    = regexp.MustCompile(`(?i)^(what|when|who|which|where)\b|\d`)

	// SCREAMING_SNAKE identifiers are kept verbatim; they tend to be the
	// most selective tokens in a question.
	identifierPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*(_[A-Z0-9]+)+$`)
)

// timeHintRule resolves one time expression to a lookback window.
type timeHintRule struct {
	pattern  *regexp.Regexp
	daysBack func(match []string) int
}

// The table is ordered most-specific first; the first matching rule wins.
var timeHintRules = []timeHintRule{
	{regexp.MustCompile(`(?i)\byesterday\b`), func([]string) int { return 2 }},
	{regexp.MustCompile(`(?i)\btoday\b`), func([]string) int { return 1 }},
	{regexp.MustCompile(`(?i)\bthis\s+week\b`), func([]string) int { return 7 }},
	{regexp.MustCompile(`(?i)\blast\s+week\b`), func([]string) int { return 14 }},
	{regexp.MustCompile(`(?i)\bthis\s+month\b`), func([]string) int { return 31 }},
	{regexp.MustCompile(`(?i)\blast\s+month\b`), func([]string) int { return 62 }},
	{regexp.MustCompile(`(?i)\bin\s+(\d+)\s+hours?\b`), func([]string) int { return 1 }},
	{regexp.MustCompile(`(?i)\bin\s+(\d+)\s+days?\b`), func(m []string) int {
		n, _ := strconv.Atoi(m[1])
		if n < 1 {
			n = 1
		}
		return n
	}},
	{regexp.MustCompile(`(?i)\bin\s+(\d+)\s+weeks?\b`), func(m []string) int {
		n, _ := strconv.Atoi(m[1])
		if n < 1 {
			n = 1
		}
		return n * 7
	}},
}

// Analyzer turns raw questions into Analysis values. Safe for concurrent
// use; all state is read-only after construction.
type Analyzer struct {
	config    Config
	stopWords map[string]struct{}
	now       func() time.Time
}

// NewAnalyzer creates an analyzer with the given configuration. Zero
// config fields fall back to defaults.
func NewAnalyzer(config Config) *Analyzer {
	def := DefaultConfig()
	if config.MaxQuestionLength <= 0 {
		config.MaxQuestionLength = def.MaxQuestionLength
	}
	if config.BaseK <= 0 {
		config.BaseK = def.BaseK
	}
	if config.MaxK <= 0 {
		config.MaxK = def.MaxK
	}
	if config.MaxKeywords <= 0 {
		config.MaxKeywords = def.MaxKeywords
	}
	return &Analyzer{
		config:    config,
		stopWords: store.BuildStopWordMap(store.DefaultStopWords),
		now:       time.Now,
	}
}

// Analyze produces the Analysis for one question. It never fails: an
// empty or degenerate question yields search intent with no keywords.
func (a *Analyzer) Analyze(raw string) *Analysis {
	normalized := Sanitize(raw, a.config.MaxQuestionLength)

	identifiers := extractIdentifiers(normalized)
	keywords := a.extractKeywords(normalized, identifiers)
	intent := classifyIntent(normalized)
	hint := a.extractTimeHint(normalized)

	k := a.adaptiveK(intent, len(keywords))

	return &Analysis{
		Normalized:  normalized,
		Keywords:    keywords,
		Identifiers: identifiers,
		Entities:    extractEntities(normalized),
		Intent:      intent,
		QueryType:   classifyQueryType(normalized, hint),
		TimeHint:    hint,
		CandidateK:  k,
		RerankWidth: k * 3,
	}
}

// Sanitize strips control characters, collapses whitespace runs, and caps
// the question length in runes. Deterministic for equal inputs.
func Sanitize(raw string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(raw))
	lastSpace := true
	for _, r := range raw {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	s := strings.TrimSpace(b.String())

	if maxLen > 0 {
		runes := []rune(s)
		if len(runes) > maxLen {
			s = string(runes[:maxLen])
		}
	}
	return s
}

// classifyIntent applies the rule table over stems and leading phrases.
func classifyIntent(q string) Intent {
	switch {
	case q == "":
		return IntentSearch
	case summarizePattern.MatchString(q):
		return IntentSummarize
	case actionPattern.MatchString(q):
		return IntentActionItem
	case decisionPattern.MatchString(q):
		return IntentDecision
	case listPattern.MatchString(q):
		return IntentList
	case questionPattern.MatchString(q) || strings.HasSuffix(q, "?"):
		return IntentQuestion
	default:
		return IntentSearch
	}
}

// classifyQueryType guides the reranker prompt. Advisory only.
func classifyQueryType(q string, hint *TimeHint) QueryType {
	switch {
	case hint != nil:
		return QueryTypeTemporal
	case proceduralPattern.MatchString(q):
		return QueryTypeProcedural
	case factualPattern.MatchString(q):
		return QueryTypeFactual
	default:
		return QueryTypeExploratory
	}
}

// extractKeywords lowercases and tokenizes the question, drops stop words,
// and deduplicates in first-occurrence order. Identifiers are appended
// verbatim and are exempt from the keyword cap.
func (a *Analyzer) extractKeywords(q string, identifiers []string) []string {
	tokens := store.Tokenize(q, 3)
	tokens = store.FilterStopWords(tokens, a.stopWords)

	seen := make(map[string]struct{}, len(tokens))
	var keywords []string
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if len(keywords) < a.config.MaxKeywords {
			keywords = append(keywords, t)
		}
	}

	for _, id := range identifiers {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keywords = append(keywords, id)
	}
	return keywords
}

// extractIdentifiers finds SCREAMING_SNAKE tokens in original casing.
func extractIdentifiers(q string) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, field := range strings.Fields(q) {
		field = strings.Trim(field, ".,;:!?()[]{}'\"")
		if !identifierPattern.MatchString(field) {
			continue
		}
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		ids = append(ids, field)
	}
	return ids
}

// extractEntities collects capitalized words that are not at the start of
// the question and are not stop words when lowercased. A cheap proper-noun
// heuristic, good enough for prompt hints.
func extractEntities(q string) []string {
	fields := strings.Fields(q)
	var entities []string
	seen := make(map[string]struct{})
	for i, field := range fields {
		field = strings.Trim(field, ".,;:!?()[]{}'\"")
		if i == 0 || len(field) < 2 {
			continue
		}
		r := []rune(field)
		if !unicode.IsUpper(r[0]) {
			continue
		}
		if identifierPattern.MatchString(field) {
			continue
		}
		rest := string(r[1:])
		if strings.ToUpper(rest) == rest && len(r) > 1 {
			continue // acronyms are picked up as keywords already
		}
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		entities = append(entities, field)
	}
	return entities
}

// extractTimeHint applies the regex table. Returns nil when no expression
// matches; the retriever then uses its default horizon.
func (a *Analyzer) extractTimeHint(q string) *TimeHint {
	for _, rule := range timeHintRules {
		m := rule.pattern.FindStringSubmatch(q)
		if m == nil {
			continue
		}
		days := rule.daysBack(m)
		return &TimeHint{
			DaysBack: days,
			After:    a.now().AddDate(0, 0, -days),
		}
	}
	return nil
}

// adaptiveK widens the candidate count for intents that need breadth and
// for keyword-heavy questions, capped at MaxK.
func (a *Analyzer) adaptiveK(intent Intent, keywordCount int) int {
	k := a.config.BaseK
	if intent == IntentList || intent == IntentSummarize {
		k += 4
	}
	if keywordCount >= 6 {
		k += 2
	}
	if k > a.config.MaxK {
		k = a.config.MaxK
	}
	return k
}
