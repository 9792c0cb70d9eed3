package citation

import (
	"strings"
	"unicode"
)

// ExtractSnippet picks a query-aware excerpt from chunk text. It scores
// each sentence by query keyword count, takes the best one that fits the
// length cap, and extends it with adjacent sentences while they still fit.
// With no keyword match it falls back to the leading sentences, then to a
// word-boundary truncation with an ellipsis.
func ExtractSnippet(text string, keywords []string, maxLen int) string {
	text = strings.TrimSpace(text)
	if text == "" || maxLen <= 0 {
		return ""
	}
	if len(text) <= maxLen {
		return text
	}

	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return truncateAtWord(text, maxLen)
	}

	best := -1
	bestScore := 0
	for i, s := range sentences {
		if len(s) > maxLen {
			continue
		}
		score := keywordHits(s, keywords)
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	if best < 0 {
		// No matching sentence fits; lead with the opening sentences.
		return leadingSnippet(sentences, text, maxLen)
	}

	// Extend around the best sentence while neighbors still fit.
	snippet := sentences[best]
	lo, hi := best, best
	for {
		extended := false
		if lo > 0 && len(sentences[lo-1])+len(snippet)+1 <= maxLen {
			lo--
			snippet = sentences[lo] + " " + snippet
			extended = true
		}
		if hi < len(sentences)-1 && len(snippet)+len(sentences[hi+1])+1 <= maxLen {
			hi++
			snippet = snippet + " " + sentences[hi]
			extended = true
		}
		if !extended {
			break
		}
	}
	return snippet
}

// leadingSnippet joins sentences from the start while they fit, falling
// back to word-boundary truncation when not even the first one does.
func leadingSnippet(sentences []string, full string, maxLen int) string {
	var b strings.Builder
	for _, s := range sentences {
		add := len(s)
		if b.Len() > 0 {
			add++
		}
		if b.Len()+add > maxLen {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
	if b.Len() == 0 {
		return truncateAtWord(full, maxLen)
	}
	return b.String()
}

// truncateAtWord cuts text at the last word boundary before maxLen and
// appends an ellipsis.
func truncateAtWord(text string, maxLen int) string {
	const ellipsis = "..."
	if maxLen <= len(ellipsis) {
		return text[:maxLen]
	}
	cut := maxLen - len(ellipsis)
	truncated := text[:cut]
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > 0 {
		truncated = truncated[:idx]
	}
	return strings.TrimRight(truncated, " .,;:") + ellipsis
}

// keywordHits counts how many keywords occur in the sentence.
func keywordHits(sentence string, keywords []string) int {
	lower := strings.ToLower(sentence)
	hits := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			hits++
		}
	}
	return hits
}

// SplitSentences splits text on terminal punctuation and newlines. Markers
// stay attached to their sentence.
func SplitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		current.Reset()
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			// Keep decimal points and common abbreviations together.
			if r == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]) {
				continue
			}
			if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) && runes[i+1] != '[' {
				continue
			}
			// Trailing citation markers belong to this sentence.
			j := i + 1
			for j < len(runes) && runes[j] == ' ' {
				j++
			}
			if j < len(runes) && runes[j] == '[' {
				continue
			}
			flush()
		}
	}
	flush()
	return sentences
}
