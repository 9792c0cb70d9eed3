package citation

import (
	"regexp"
	"strings"
)

// attributionPhrases claim the notes said something. A sentence using one
// without a nearby marker is worth flagging.
var attributionPhrases = []string{
	"your notes indicate",
	"your notes mention",
	"your notes say",
	"according to your notes",
	"you noted",
	"you wrote",
	"as noted in",
}

// specificNumberPattern matches figures that usually come from a source:
// money, percentages, and multi-digit quantities.
var specificNumberPattern = regexp.MustCompile(`(\$\d[\d,.]*|\d+(\.\d+)?%|\b\d{3,}\b)`)

// HallucinationFlag marks a sentence that makes an unsupported claim.
type HallucinationFlag struct {
	// Kind is one of "uncited_attribution", "uncited_number",
	// "absolute_claim".
	Kind string `json:"kind"`

	// Sentence is the offending sentence, trimmed.
	Sentence string `json:"sentence"`
}

// DetectHallucinationRisks scans a validated answer for sentences that
// attribute content to the notes, state specific figures, or assert
// absolutes without carrying a citation marker. Flags feed logging and
// confidence scoring only; the answer text is never altered.
func DetectHallucinationRisks(text string) []HallucinationFlag {
	var flags []HallucinationFlag
	for _, sentence := range SplitSentences(text) {
		trimmed := strings.TrimSpace(sentence)
		if trimmed == "" || markerPattern.MatchString(trimmed) {
			continue
		}
		lower := strings.ToLower(trimmed)

		if phrase := firstAttribution(lower); phrase != "" {
			flags = append(flags, HallucinationFlag{Kind: "uncited_attribution", Sentence: trimmed})
			continue
		}
		if specificNumberPattern.MatchString(trimmed) {
			flags = append(flags, HallucinationFlag{Kind: "uncited_number", Sentence: trimmed})
			continue
		}
		for _, p := range absolutePhrases {
			if strings.Contains(lower, p) {
				flags = append(flags, HallucinationFlag{Kind: "absolute_claim", Sentence: trimmed})
				break
			}
		}
	}
	return flags
}

func firstAttribution(lower string) string {
	for _, p := range attributionPhrases {
		if strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}
