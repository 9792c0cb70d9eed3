package confidence

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/mnemosyne-notes/mnemo/internal/citation"
	"github.com/mnemosyne-notes/mnemo/internal/embed"
	"github.com/mnemosyne-notes/mnemo/internal/store"
)

// PairScore grades one claim-citation pair.
type PairScore struct {
	CitationID string  `json:"citationId"`
	Sentence   string  `json:"sentence"`
	Lexical    float64 `json:"lexical"`
	NGram      float64 `json:"ngram"`
	Entity     float64 `json:"entity"`
	Semantic   float64 `json:"semantic"`
	Combined   float64 `json:"combined"`

	// BelowFloor marks pairs under the configured floor. They are
	// logged and may be filtered by the caller.
	BelowFloor bool `json:"belowFloor"`
}

// PairScorerConfig tunes the per-citation scorer. Off by default in the
// pipeline; enabled per request.
type PairScorerConfig struct {
	LexicalWeight  float64
	NGramWeight    float64
	EntityWeight   float64
	SemanticWeight float64

	// Floor flags weak pairs (default: 0.3).
	Floor float64
}

// DefaultPairScorerConfig returns the standard weights.
func DefaultPairScorerConfig() PairScorerConfig {
	return PairScorerConfig{
		LexicalWeight:  0.25,
		NGramWeight:    0.20,
		EntityWeight:   0.15,
		SemanticWeight: 0.40,
		Floor:          0.3,
	}
}

// PairScorer grades each claim-citation pair in a validated answer. The
// semantic component needs an embedder; without one the remaining
// weights are renormalized.
type PairScorer struct {
	config    PairScorerConfig
	embedder  embed.Embedder
	stopWords map[string]struct{}
}

// NewPairScorer creates a pair scorer. The embedder may be nil.
func NewPairScorer(config PairScorerConfig, embedder embed.Embedder) *PairScorer {
	def := DefaultPairScorerConfig()
	if config.LexicalWeight+config.NGramWeight+config.EntityWeight+config.SemanticWeight <= 0 {
		config = def
	}
	if config.Floor <= 0 {
		config.Floor = def.Floor
	}
	return &PairScorer{
		config:    config,
		embedder:  embedder,
		stopWords: store.BuildStopWordMap(store.DefaultStopWords),
	}
}

// Score grades every sentence-marker pair in the answer. Embedding
// failures degrade to the lexical components rather than failing the
// request.
func (s *PairScorer) Score(ctx context.Context, text string, pack *citation.SourcesPack) []PairScore {
	var pairs []PairScore
	sourceVecs := make(map[string][]float32)

	for _, sentence := range citation.SplitSentences(text) {
		ids := markerIDs(sentence)
		if len(ids) == 0 {
			continue
		}
		bare := strings.TrimSpace(markerPattern.ReplaceAllString(sentence, ""))
		if bare == "" {
			continue
		}

		var sentVec []float32
		if s.embedder != nil {
			sentVec, _ = s.embedder.Embed(ctx, bare)
		}

		for _, id := range ids {
			sc, ok := pack.ChunkFor(id)
			if !ok {
				continue
			}
			pair := PairScore{CitationID: id, Sentence: bare}
			pair.Lexical = s.tokenOverlap(bare, sc.Chunk.Content)
			pair.NGram = s.ngramOverlap(bare, sc.Chunk.Content)
			pair.Entity = entityAlignment(bare, sc.Chunk.Content)

			semOK := false
			if sentVec != nil {
				vec, cached := sourceVecs[id]
				if !cached {
					vec, _ = s.embedder.Embed(ctx, sc.Chunk.Content)
					sourceVecs[id] = vec
				}
				if vec != nil {
					pair.Semantic = clamp01(cosine(sentVec, vec))
					semOK = true
				}
			}

			lw, nw, ew, sw := s.config.LexicalWeight, s.config.NGramWeight, s.config.EntityWeight, s.config.SemanticWeight
			if !semOK {
				// Spread the semantic weight over the rest.
				rest := lw + nw + ew
				if rest > 0 {
					lw, nw, ew = lw/rest, nw/rest, ew/rest
				}
				sw = 0
			}
			pair.Combined = lw*pair.Lexical + nw*pair.NGram + ew*pair.Entity + sw*pair.Semantic
			pair.BelowFloor = pair.Combined < s.config.Floor
			pairs = append(pairs, pair)
		}
	}
	return pairs
}

func markerIDs(sentence string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, m := range markerPattern.FindAllString(sentence, -1) {
		id := strings.Trim(m, "[]")
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *PairScorer) keywordSet(text string) map[string]struct{} {
	tokens := store.FilterStopWords(store.Tokenize(text, 3), s.stopWords)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func (s *PairScorer) tokenOverlap(a, b string) float64 {
	return setOverlap(s.keywordSet(a), s.keywordSet(b))
}

// ngramOverlap blends bigram and trigram overlap, trigrams weighted
// higher because a shared trigram is much stronger evidence.
func (s *PairScorer) ngramOverlap(a, b string) float64 {
	at := store.Tokenize(a, 1)
	bt := store.Tokenize(b, 1)
	bi := setOverlap(ngrams(at, 2), ngrams(bt, 2))
	tri := setOverlap(ngrams(at, 3), ngrams(bt, 3))
	return 0.4*bi + 0.6*tri
}

func ngrams(tokens []string, n int) map[string]struct{} {
	set := make(map[string]struct{})
	for i := 0; i+n <= len(tokens); i++ {
		set[strings.Join(tokens[i:i+n], " ")] = struct{}{}
	}
	return set
}

// entityAlignment is the fraction of capitalized words in the claim that
// also appear in the source. Claims without entities align trivially.
func entityAlignment(claim, source string) float64 {
	entities := capitalizedWords(claim)
	if len(entities) == 0 {
		return 1.0
	}
	lower := strings.ToLower(source)
	hits := 0
	for _, e := range entities {
		if strings.Contains(lower, strings.ToLower(e)) {
			hits++
		}
	}
	return float64(hits) / float64(len(entities))
}

func capitalizedWords(text string) []string {
	var out []string
	words := strings.Fields(text)
	for i, w := range words {
		w = strings.Trim(w, ".,;:!?()[]\"'")
		if len(w) < 2 || i == 0 {
			continue
		}
		runes := []rune(w)
		if unicode.IsUpper(runes[0]) && !isAllUpper(w) {
			out = append(out, w)
		}
	}
	return out
}

func isAllUpper(s string) bool {
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
	}
	return true
}

func setOverlap(a, b map[string]struct{}) float64 {
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

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
