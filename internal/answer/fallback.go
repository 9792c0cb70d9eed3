package answer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mnemosyne-notes/mnemo/internal/citation"
	"github.com/mnemosyne-notes/mnemo/internal/store"
)

// emptyCorpusAnswer is returned verbatim when the tenant has no notes.
const emptyCorpusAnswer = "I don't have any notes to search through. Try creating some notes first!"

// noResultsAnswer is returned when retrieval surfaces nothing relevant.
const noResultsAnswer = "I couldn't find anything in your notes about that. Try rephrasing, or check that the notes you're thinking of exist."

const fallbackTopicCount = 3

// noEvidenceAnswer acknowledges that the retrieved notes did not support
// an answer, naming the topics they do cover so the user can redirect.
func noEvidenceAnswer(pack *citation.SourcesPack, stopWords map[string]struct{}) string {
	topics := coveredTopics(pack, stopWords, fallbackTopicCount)
	if len(topics) == 0 {
		return "I found some notes, but none of them answer your question."
	}
	return fmt.Sprintf(
		"I found some notes, but none of them answer your question. The closest matches cover %s.",
		joinTopics(topics))
}

// coveredTopics picks the most frequent non-stop-word terms across the
// pack's chunks, ties broken alphabetically.
func coveredTopics(pack *citation.SourcesPack, stopWords map[string]struct{}, limit int) []string {
	counts := make(map[string]int)
	for _, sc := range pack.Chunks {
		tokens := store.FilterStopWords(store.Tokenize(sc.Chunk.Content, 3), stopWords)
		for _, tok := range tokens {
			counts[tok]++
		}
	}

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}

func joinTopics(topics []string) string {
	switch len(topics) {
	case 1:
		return topics[0]
	case 2:
		return topics[0] + " and " + topics[1]
	default:
		return strings.Join(topics[:len(topics)-1], ", ") + ", and " + topics[len(topics)-1]
	}
}
