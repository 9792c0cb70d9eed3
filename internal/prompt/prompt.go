// Package prompt assembles the system instruction and user prompt for
// answer generation. All tiers impose the same citation grammar so the
// validator downstream can rely on it regardless of which tier produced
// the text.
package prompt

import (
	"fmt"
	"strings"

	"github.com/mnemosyne-notes/mnemo/internal/citation"
	"github.com/mnemosyne-notes/mnemo/internal/query"
)

// Tier selects the prompt assembly strategy.
type Tier string

const (
	// TierLegacy folds everything into a single user prompt with no
	// system instruction. Kept for backends that ignore system turns.
	TierLegacy Tier = "legacy"

	// TierStructured splits rules into the system instruction and
	// sources into the user prompt.
	TierStructured Tier = "v2"

	// TierAgentic adds a silent fact-extraction step before answering.
	TierAgentic Tier = "agentic"
)

// Format is the caller-requested response shape.
type Format string

const (
	FormatDefault    Format = "default"
	FormatConcise    Format = "concise"
	FormatDetailed   Format = "detailed"
	FormatBullet     Format = "bullet"
	FormatStructured Format = "structured"
)

// HistoryTurn is one prior conversation turn, offered as non-citable
// context.
type HistoryTurn struct {
	Role    string
	Content string
}

// Request carries everything the builder conditions on.
type Request struct {
	Question string
	Analysis *query.Analysis
	Pack     *citation.SourcesPack
	Format   Format
	History  []HistoryTurn

	// Language hints the answer language when set, e.g. "pt-BR".
	Language string

	// CustomSystem replaces the built-in system instruction. The
	// citation grammar block is still appended so the contract holds.
	CustomSystem string
}

// Prompt is the assembled pair handed to the generator.
type Prompt struct {
	System string
	User   string
}

// grammarRules is the citation contract the model must follow. Every
// tier includes it verbatim.
const grammarRules = `CITATION RULES (NON-NEGOTIABLE):
- Every factual claim must be followed by one or more markers of the form [N<number>], where <number> refers to a source below.
- Markers may be grouped, like [N1][N3].
- Only cite sources that actually support the claim.
- Never invent a source number that is not listed.
- If the sources do not answer the question, say so plainly in natural language. Never omit citations silently.`

const baseIdentity = `You are a personal notes assistant. Answer only from the provided sources. Never speculate beyond them.`

const agenticPreamble = `Before answering, silently extract the facts from the sources that bear on the question. Then write the answer from those facts only. Do not show the extraction step.`

// intentDirectives attach concise formatting guidance per intent.
var intentDirectives = map[query.Intent]string{
	query.IntentSummarize:  "Summarize the relevant notes. Lead with the main point, then supporting details.",
	query.IntentList:       "Answer as a bulleted list, one item per line.",
	query.IntentDecision:   "Lead with the decision that was made, then the reasoning behind it.",
	query.IntentActionItem: "List the action items with their owners and dates when the notes mention them.",
	query.IntentQuestion:   "Answer the question directly in the first sentence, then elaborate.",
	query.IntentSearch:     "Report what the notes contain about this topic.",
}

// formatDirectives attach the caller-requested response shape.
var formatDirectives = map[Format]string{
	FormatConcise:    "Keep the answer to two or three sentences.",
	FormatDetailed:   "Give a thorough answer covering every relevant source.",
	FormatBullet:     "Format the entire answer as a bulleted list.",
	FormatStructured: "Organize the answer under short markdown headings.",
}

// Builder assembles prompts for one configured tier.
type Builder struct {
	tier Tier
}

// NewBuilder creates a builder. An unknown tier falls back to the
// structured tier.
func NewBuilder(tier Tier) *Builder {
	switch tier {
	case TierLegacy, TierStructured, TierAgentic:
	default:
		tier = TierStructured
	}
	return &Builder{tier: tier}
}

// Tier returns the configured tier.
func (b *Builder) Tier() Tier {
	return b.tier
}

// Build assembles the system instruction and user prompt.
func (b *Builder) Build(req Request) Prompt {
	system := b.buildSystem(req)
	user := b.buildUser(req)

	if b.tier == TierLegacy {
		// Single-string tier: the rules ride along in the user prompt.
		return Prompt{User: system + "\n\n" + user}
	}
	return Prompt{System: system, User: user}
}

func (b *Builder) buildSystem(req Request) string {
	var sb strings.Builder

	if req.CustomSystem != "" {
		sb.WriteString(strings.TrimSpace(req.CustomSystem))
	} else {
		sb.WriteString(baseIdentity)
		if b.tier == TierAgentic {
			sb.WriteString("\n\n")
			sb.WriteString(agenticPreamble)
		}
	}

	sb.WriteString("\n\n")
	sb.WriteString(grammarRules)

	if req.Analysis != nil {
		if d, ok := intentDirectives[req.Analysis.Intent]; ok {
			sb.WriteString("\n\n")
			sb.WriteString(d)
		}
	}
	if d, ok := formatDirectives[req.Format]; ok {
		sb.WriteString("\n")
		sb.WriteString(d)
	}
	if req.Language != "" {
		fmt.Fprintf(&sb, "\nAnswer in %s.", req.Language)
	}

	return sb.String()
}

func (b *Builder) buildUser(req Request) string {
	var sb strings.Builder

	sb.WriteString("=== SOURCES ===\n")
	if req.Pack == nil || req.Pack.Size() == 0 {
		sb.WriteString("(no sources found)\n")
	}
	if req.Pack != nil {
		for i, c := range req.Pack.Citations {
			chunk := req.Pack.Chunks[i]
			fmt.Fprintf(&sb, "[%s] %s (%s)\n%s\n\n",
				c.ID, relevanceStars(c.Score), c.CreatedAt.Format("2006-01-02"), chunk.Chunk.Content)
		}
	}

	if len(req.History) > 0 {
		sb.WriteString("=== CONVERSATION SO FAR (context only, never cite) ===\n")
		for _, turn := range req.History {
			fmt.Fprintf(&sb, "%s: %s\n", turn.Role, turn.Content)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("=== QUESTION ===\n")
	sb.WriteString(req.Question)
	sb.WriteString("\n")

	return sb.String()
}

// BuildRepair assembles the one-retry repair prompt: the model is shown
// its previous answer and asked to rewrite it with proper markers against
// the same sources.
func (b *Builder) BuildRepair(req Request, previousAnswer string) Prompt {
	var sb strings.Builder
	sb.WriteString(b.buildUser(req))
	sb.WriteString("\n=== PREVIOUS ANSWER (citations missing or invalid) ===\n")
	sb.WriteString(previousAnswer)
	sb.WriteString("\n\nRewrite the previous answer so that every factual claim carries a valid [N<number>] marker from the sources above. Keep the content and wording as close to the previous answer as the citations allow.\n")

	system := b.buildSystem(req)
	if b.tier == TierLegacy {
		return Prompt{User: system + "\n\n" + sb.String()}
	}
	return Prompt{System: system, User: sb.String()}
}

// relevanceStars renders a fused score as a 1..5 star gauge so the model
// can prioritize among sources.
func relevanceStars(score float64) string {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	n := 1 + int(score*4+0.5)
	if n > 5 {
		n = 5
	}
	return strings.Repeat("★", n) + strings.Repeat("☆", 5-n)
}
