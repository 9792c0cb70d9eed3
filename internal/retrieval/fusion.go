package retrieval

import "sort"

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains.
const DefaultRRFConstant = 60

// sourceHit is one ranked hit from a single retrieval source.
type sourceHit struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// fusedChunk holds intermediate fusion state before enrichment.
type fusedChunk struct {
	chunkID      string
	rrfScore     float64
	vectorScore  float64
	lexicalScore float64
	recencyScore float64
	sourceCount  int
	matchedTerms []string
}

// rrfFusion combines the three source rankings using weighted Reciprocal
// Rank Fusion.
//
// Algorithm: score(d) = Σ over sources s of w_s / (k + rank_s(d)), where
// rank is 1-indexed and only sources that surfaced d contribute. A chunk
// found by more than one source is then boosted by +boost per additional
// source. Scores are normalized so the top result is 1.0.
type rrfFusion struct {
	k       int
	weights Weights
	boost   float64
}

func newRRFFusion(k int, weights Weights, boost float64) *rrfFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &rrfFusion{k: k, weights: weights, boost: boost}
}

// Fuse merges the three rankings. Each input slice is assumed ordered best
// first; nil slices mean the source produced nothing.
func (f *rrfFusion) Fuse(vector, lexical, recency []*sourceHit) []*fusedChunk {
	if len(vector) == 0 && len(lexical) == 0 && len(recency) == 0 {
		return []*fusedChunk{}
	}

	scores := make(map[string]*fusedChunk, len(vector)+len(lexical)+len(recency))

	get := func(id string) *fusedChunk {
		if c, ok := scores[id]; ok {
			return c
		}
		c := &fusedChunk{chunkID: id}
		scores[id] = c
		return c
	}

	for rank, h := range vector {
		c := get(h.ChunkID)
		c.vectorScore = h.Score
		c.sourceCount++
		c.rrfScore += f.weights.Vector / float64(f.k+rank+1)
	}
	for rank, h := range lexical {
		c := get(h.ChunkID)
		c.lexicalScore = h.Score
		c.matchedTerms = h.MatchedTerms
		c.sourceCount++
		c.rrfScore += f.weights.Lexical / float64(f.k+rank+1)
	}
	for rank, h := range recency {
		c := get(h.ChunkID)
		c.recencyScore = h.Score
		c.sourceCount++
		c.rrfScore += f.weights.Recency / float64(f.k+rank+1)
	}

	// Multi-source boost, applied after RRF.
	for _, c := range scores {
		if c.sourceCount > 1 {
			c.rrfScore *= 1.0 + f.boost*float64(c.sourceCount-1)
		}
	}

	results := make([]*fusedChunk, 0, len(scores))
	for _, c := range scores {
		results = append(results, c)
	}
	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})

	f.normalize(results)
	return results
}

// compare returns true if a ranks before b. Ties break by the strongest
// component score, then lexicographically by chunk ID for determinism.
func (f *rrfFusion) compare(a, b *fusedChunk) bool {
	if a.rrfScore != b.rrfScore {
		return a.rrfScore > b.rrfScore
	}
	if sa, sb := strongestComponent(a), strongestComponent(b); sa != sb {
		return sa > sb
	}
	return a.chunkID < b.chunkID
}

func strongestComponent(c *fusedChunk) float64 {
	s := c.vectorScore
	if c.lexicalScore > s {
		s = c.lexicalScore
	}
	if c.recencyScore > s {
		s = c.recencyScore
	}
	return s
}

// normalize scales scores so the top result is 1.0.
func (f *rrfFusion) normalize(results []*fusedChunk) {
	if len(results) == 0 {
		return
	}
	max := results[0].rrfScore
	if max == 0 {
		return
	}
	for _, c := range results {
		c.rrfScore /= max
	}
}
