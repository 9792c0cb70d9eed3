// Package citation owns the citation contract: stable N1..Nk identifiers
// assigned to retrieved passages, marker parsing and validation against the
// Sources Pack, and the final normalization that turns internal [N3] markers
// into the [3] form shown to users.
package citation

import (
	"fmt"
	"time"

	"github.com/mnemosyne-notes/mnemo/internal/retrieval"
)

// Citation connects one answer marker to the chunk that backs it.
type Citation struct {
	// ID is the internal identifier, "N" followed by a 1-indexed integer.
	ID string

	NoteID  string
	ChunkID string

	// CreatedAt is the note creation time, shown to users as the date.
	CreatedAt time.Time

	// Snippet is a query-aware excerpt of bounded length.
	Snippet string

	// Score is the fused relevance of the source chunk.
	Score float64
}

// SourcesPack is the immutable ordered set of chunks offered to the
// generator, with a 1-to-1 map between identifier and passage. Identifiers
// are dense, 1-indexed in list order, and never change for the remainder
// of the request.
type SourcesPack struct {
	Chunks    []*retrieval.ScoredChunk
	Citations []*Citation

	byID map[string]*Citation
}

// DefaultSnippetLength caps citation snippets in characters.
const DefaultSnippetLength = 200

// BuildSourcesPack assigns identifiers N1, N2, ... in chunk order and
// computes a query-aware snippet for each citation.
func BuildSourcesPack(chunks []*retrieval.ScoredChunk, keywords []string, snippetLen int) *SourcesPack {
	if snippetLen <= 0 {
		snippetLen = DefaultSnippetLength
	}

	pack := &SourcesPack{
		Chunks:    chunks,
		Citations: make([]*Citation, 0, len(chunks)),
		byID:      make(map[string]*Citation, len(chunks)),
	}
	for i, sc := range chunks {
		c := &Citation{
			ID:        fmt.Sprintf("N%d", i+1),
			NoteID:    sc.Chunk.NoteID,
			ChunkID:   sc.Chunk.ID,
			CreatedAt: sc.Chunk.CreatedAt,
			Snippet:   ExtractSnippet(sc.Chunk.Content, keywords, snippetLen),
			Score:     sc.Score,
		}
		pack.Citations = append(pack.Citations, c)
		pack.byID[c.ID] = c
	}
	return pack
}

// Size returns the number of sources in the pack.
func (p *SourcesPack) Size() int {
	return len(p.Citations)
}

// Get returns the citation for an internal identifier like "N3".
func (p *SourcesPack) Get(id string) (*Citation, bool) {
	c, ok := p.byID[id]
	return c, ok
}

// GetIndex returns the citation for a 1-indexed position.
func (p *SourcesPack) GetIndex(n int) (*Citation, bool) {
	if n < 1 || n > len(p.Citations) {
		return nil, false
	}
	return p.Citations[n-1], true
}

// ChunkFor returns the scored chunk backing an identifier.
func (p *SourcesPack) ChunkFor(id string) (*retrieval.ScoredChunk, bool) {
	c, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	for _, sc := range p.Chunks {
		if sc.Chunk.ID == c.ChunkID {
			return sc, true
		}
	}
	return nil, false
}
