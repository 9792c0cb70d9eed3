package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mnemosyne-notes/mnemo/internal/genai"
	"github.com/mnemosyne-notes/mnemo/internal/query"
)

// Reranker scores fused candidates against the query with a cross-encoder.
// Implementations must be safe for concurrent use. A failed rerank is never
// fatal; the engine keeps the fused order.
type Reranker interface {
	// Rerank returns a relevance score in [0,1] for each candidate text,
	// index-aligned with the input. The query type is advisory guidance.
	Rerank(ctx context.Context, q string, qt query.QueryType, candidates []string) ([]float64, error)

	// Available reports whether the backing scorer is reachable.
	Available(ctx context.Context) bool
}

// rerankSnippetLimit bounds how much of each candidate goes into the
// scoring prompt.
const rerankSnippetLimit = 400

const rerankSystemPrompt = `You score how relevant note passages are to a question.
For each numbered passage output one line "N: S" where S is a relevance score between 0.0 and 1.0.
Output only the score lines, nothing else.`

var rerankLinePattern = regexp.MustCompile(`(?m)^\s*(\d+)\s*[:.)]\s*([01](?:\.\d+)?)`)

// CompletionReranker scores query-passage pairs through the completion
// backend. Pairwise cross-encoding is more accurate than the bi-encoder
// similarity that produced the candidates, at the cost of one model call.
type CompletionReranker struct {
	client genai.Client
}

// NewCompletionReranker wraps a completion client as a reranker.
func NewCompletionReranker(client genai.Client) *CompletionReranker {
	return &CompletionReranker{client: client}
}

var _ Reranker = (*CompletionReranker)(nil)

// Rerank asks the model to score each candidate. Any parse or backend
// failure is returned to the caller, which keeps the original order.
func (r *CompletionReranker) Rerank(ctx context.Context, q string, qt query.QueryType, candidates []string) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question (%s): %s\n\nPassages:\n", guidanceFor(qt), q)
	for i, c := range candidates {
		snippet := c
		if len(snippet) > rerankSnippetLimit {
			snippet = snippet[:rerankSnippetLimit]
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.ReplaceAll(snippet, "\n", " "))
	}

	result, err := r.client.Complete(ctx, genai.CompletionRequest{
		System:      rerankSystemPrompt,
		Prompt:      b.String(),
		Temperature: 0.0,
		MaxTokens:   16 * len(candidates),
	})
	if err != nil {
		return nil, err
	}

	scores, matched := parseRerankScores(result.Text, len(candidates))
	if matched == 0 {
		return nil, fmt.Errorf("reranker returned no parseable scores")
	}
	return scores, nil
}

// Available probes the completion backend.
func (r *CompletionReranker) Available(ctx context.Context) bool {
	return r.client.Available(ctx)
}

// guidanceFor phrases the query type for the scoring prompt.
func guidanceFor(qt query.QueryType) string {
	switch qt {
	case query.QueryTypeProcedural:
		return "procedural, favor step-by-step content"
	case query.QueryTypeTemporal:
		return "temporal, favor dated content"
	case query.QueryTypeFactual:
		return "factual, favor specific facts"
	default:
		return "exploratory"
	}
}

// parseRerankScores extracts "N: S" lines. Unscored candidates stay at 0;
// out-of-range indices and malformed lines are skipped.
func parseRerankScores(text string, n int) ([]float64, int) {
	scores := make([]float64, n)
	matched := 0
	for _, m := range rerankLinePattern.FindAllStringSubmatch(text, -1) {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > n {
			continue
		}
		s, err := strconv.ParseFloat(m[2], 64)
		if err != nil || s < 0 || s > 1 {
			continue
		}
		scores[idx-1] = s
		matched++
	}
	return scores, matched
}
