package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCamelCase(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "simple camelCase",
			input: "userName",
			want:  []string{"user", "Name"},
		},
		{
			name:  "PascalCase",
			input: "RateLimiter",
			want:  []string{"Rate", "Limiter"},
		},
		{
			name:  "acronym run stays together",
			input: "HTTPServer",
			want:  []string{"HTTP", "Server"},
		},
		{
			name:  "letter digit boundary",
			input: "sqlite3",
			want:  []string{"sqlite", "3"},
		},
		{
			name:  "single word unchanged",
			input: "budget",
			want:  []string{"budget"},
		},
		{
			name:  "empty string",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitCamelCase(tt.input))
		})
	}
}

func TestSplitCompoundToken(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "snake_case keeps original first",
			input: "rate_limiter",
			want:  []string{"rate_limiter", "rate", "limiter"},
		},
		{
			name:  "kebab-case",
			input: "side-project",
			want:  []string{"side-project", "side", "project"},
		},
		{
			name:  "camelCase",
			input: "getUserName",
			want:  []string{"getUserName", "get", "User", "Name"},
		},
		{
			name:  "dotted path",
			input: "config.yaml",
			want:  []string{"config.yaml", "config", "yaml"},
		},
		{
			name:  "plain word passes through",
			input: "meeting",
			want:  []string{"meeting"},
		},
		{
			name:  "trailing punctuation stripped",
			input: "budget.",
			want:  []string{"budget"},
		},
		{
			name:  "only separators yields nothing",
			input: "---",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitCompoundToken(tt.input))
		})
	}
}

func TestTokenize(t *testing.T) {
	t.Run("lowercases and splits note text", func(t *testing.T) {
		tokens := Tokenize("Meeting notes: discuss Q3 budget", 2)
		assert.Equal(t, []string{"meeting", "notes", "discuss", "q3", "budget"}, tokens)
	})

	t.Run("compound identifiers keep the exact form", func(t *testing.T) {
		tokens := Tokenize("fixed getUserName in auth_service", 2)
		assert.Contains(t, tokens, "getusername")
		assert.Contains(t, tokens, "user")
		assert.Contains(t, tokens, "auth_service")
		assert.Contains(t, tokens, "auth")
	})

	t.Run("minimum length drops short tokens", func(t *testing.T) {
		tokens := Tokenize("a b cd", 2)
		assert.Equal(t, []string{"cd"}, tokens)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, Tokenize("", 2))
	})
}

func TestFilterStopWords(t *testing.T) {
	stopWords := BuildStopWordMap([]string{"the", "is"})

	filtered := FilterStopWords([]string{"the", "deadline", "is", "friday"}, stopWords)
	assert.Equal(t, []string{"deadline", "friday"}, filtered)

	// Empty stop word map passes everything through.
	tokens := []string{"the", "deadline"}
	assert.Equal(t, tokens, FilterStopWords(tokens, nil))
}
