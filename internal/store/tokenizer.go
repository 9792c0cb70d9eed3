package store

import (
	"strings"
	"unicode"
)

// Tokenize splits note text into searchable tokens. Compound identifiers
// that appear in notes (snake_case, kebab-case, camelCase, dotted.paths)
// are split into their parts, with the original token kept alongside so
// exact matches still score highest.
func Tokenize(text string, minLength int) []string {
	if text == "" {
		return nil
	}

	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		tok := current.String()
		current.Reset()

		parts := SplitCompoundToken(tok)
		for _, p := range parts {
			p = strings.ToLower(p)
			if len(p) >= minLength {
				tokens = append(tokens, p)
			}
		}
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.' {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

// SplitCompoundToken breaks a compound token into parts. The original
// token is always the first element when splitting occurred, so both
// "getUserName" and "user" match a note containing getUserName.
func SplitCompoundToken(token string) []string {
	if token == "" {
		return nil
	}

	// Strip leading/trailing separators left by the scanner.
	token = strings.Trim(token, "_-.")
	if token == "" {
		return nil
	}

	var parts []string
	for _, seg := range strings.FieldsFunc(token, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	}) {
		parts = append(parts, SplitCamelCase(seg)...)
	}

	if len(parts) <= 1 {
		return []string{token}
	}
	return append([]string{token}, parts...)
}

// SplitCamelCase splits camelCase and PascalCase words. Acronym runs stay
// together: "HTTPServer" becomes ["HTTP", "Server"].
func SplitCamelCase(s string) []string {
	if s == "" {
		return nil
	}

	runes := []rune(s)
	var parts []string
	start := 0

	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]

		// lower->Upper boundary: userName
		boundary := unicode.IsLower(prev) && unicode.IsUpper(cur)

		// acronym end: HTTPServer splits before the S of Server
		if !boundary && i+1 < len(runes) {
			boundary = unicode.IsUpper(prev) && unicode.IsUpper(cur) && unicode.IsLower(runes[i+1])
		}

		// letter<->digit boundary: sqlite3, v2Beta
		if !boundary {
			boundary = unicode.IsLetter(prev) != unicode.IsLetter(cur)
		}

		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	parts = append(parts, string(runes[start:]))

	if len(parts) <= 1 {
		return []string{s}
	}
	return parts
}

// BuildStopWordMap converts a stop word list into a lookup set.
func BuildStopWordMap(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	if len(stopWords) == 0 {
		return tokens
	}
	filtered := tokens[:0]
	for _, t := range tokens {
		if _, ok := stopWords[t]; !ok {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
