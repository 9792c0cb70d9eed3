package citation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// bulletPattern matches a markdown list item lead on one line.
var bulletPattern = regexp.MustCompile(`^\s*([-*+]|\d+[.)])\s+`)

// absolutePhrases are claims stated with unwarranted certainty.
var absolutePhrases = []string{
	"always", "never fails", "guaranteed", "definitely", "without exception",
	"in all cases", "100%",
}

// Canonicalize rewrites bare external markers like [3] into the internal
// form [N3] when a matching pack entry exists. Models sometimes emit the
// display form even when instructed otherwise.
func Canonicalize(text string, pack *SourcesPack) string {
	return bareMarkerPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := bareMarkerPattern.FindStringSubmatch(m)
		n, _ := strconv.Atoi(sub[1])
		if _, ok := pack.GetIndex(n); ok {
			return "[N" + sub[1] + "]"
		}
		return m
	})
}

// Externalized is the final answer shape handed to callers.
type Externalized struct {
	// Text carries display markers [1], [2], ... densely renumbered by
	// first appearance.
	Text string

	// Citations are the cited sources in display order. Citations[i]
	// corresponds to marker [i+1].
	Citations []*Citation

	// Mapping records internal identifier to display number.
	Mapping map[string]int
}

// Externalize renumbers surviving internal markers densely by first
// appearance and rewrites them to the display form. Sources that were
// offered but never cited do not consume numbers.
func Externalize(text string, pack *SourcesPack) *Externalized {
	ext := &Externalized{Mapping: make(map[string]int)}
	next := 1
	ext.Text = markerPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := markerPattern.FindStringSubmatch(m)
		id := "N" + sub[1]
		num, ok := ext.Mapping[id]
		if !ok {
			c, exists := pack.Get(id)
			if !exists {
				return ""
			}
			num = next
			next++
			ext.Mapping[id] = num
			ext.Citations = append(ext.Citations, c)
		}
		return fmt.Sprintf("[%d]", num)
	})
	ext.Text = normalizeWhitespace(ext.Text)
	return ext
}

// Internalize maps display markers in text back to internal identifiers
// using the mapping produced by Externalize. Round-tripping an answer
// through Externalize then Internalize restores the internal form.
func Internalize(text string, mapping map[string]int) string {
	reverse := make(map[int]string, len(mapping))
	for id, num := range mapping {
		reverse[num] = id
	}
	return bareMarkerPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := bareMarkerPattern.FindStringSubmatch(m)
		n, _ := strconv.Atoi(sub[1])
		if id, ok := reverse[n]; ok {
			return "[" + id + "]"
		}
		return m
	})
}

// ClipTrailingCitationLine removes a final line that consists only of
// citation markers, such as a dangling "[N1] [N2]" the model appended
// after its prose.
func ClipTrailingCitationLine(text string) string {
	lines := strings.Split(strings.TrimRight(text, " \t\n"), "\n")
	for len(lines) > 0 {
		last := strings.TrimSpace(lines[len(lines)-1])
		if last == "" {
			lines = lines[:len(lines)-1]
			continue
		}
		if strings.TrimSpace(stripMarkers(last)) != "" {
			break
		}
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// NormalizeListStyle rewrites list item leads to the dominant style when
// an answer mixes bullet characters. Numbered items are left alone.
func NormalizeListStyle(text string) string {
	lines := strings.Split(text, "\n")
	counts := map[string]int{}
	for _, line := range lines {
		m := bulletPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lead := m[1]
		if lead == "-" || lead == "*" || lead == "+" {
			counts[lead]++
		}
	}
	if len(counts) < 2 {
		return text
	}

	dominant := "-"
	best := 0
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if counts[k] > best {
			best = counts[k]
			dominant = k
		}
	}

	for i, line := range lines {
		m := bulletPattern.FindStringSubmatch(line)
		if m == nil || m[1] == dominant {
			continue
		}
		if m[1] == "-" || m[1] == "*" || m[1] == "+" {
			idx := strings.Index(line, m[1])
			lines[i] = line[:idx] + dominant + line[idx+1:]
		}
	}
	return strings.Join(lines, "\n")
}

// StyleScores grades presentation on a [0,1] scale per axis.
type StyleScores struct {
	// Tone penalizes absolute phrasing and hedging pile-ups.
	Tone float64 `json:"tone"`

	// Placement rewards markers attached to sentence ends rather than
	// floating mid-clause or stacked at the close.
	Placement float64 `json:"placement"`

	// List rewards consistent list styling.
	List float64 `json:"list"`
}

// ScoreStyle evaluates tone, citation placement, and list consistency.
// The scores inform logging and never change the answer.
func ScoreStyle(text string) StyleScores {
	return StyleScores{
		Tone:      scoreTone(text),
		Placement: scorePlacement(text),
		List:      scoreListConsistency(text),
	}
}

func scoreTone(text string) float64 {
	lower := strings.ToLower(text)
	score := 1.0
	for _, p := range absolutePhrases {
		if strings.Contains(lower, p) {
			score -= 0.15
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

func scorePlacement(text string) float64 {
	markers := markerPattern.FindAllStringIndex(text, -1)
	if len(markers) == 0 {
		return 1.0
	}
	good := 0
	for _, loc := range markers {
		rest := strings.TrimLeft(text[loc[1]:], " ")
		if rest == "" || strings.IndexAny(rest, ".!?,;:\n[") == 0 {
			good++
		}
	}
	return float64(good) / float64(len(markers))
}

func scoreListConsistency(text string) float64 {
	counts := map[string]int{}
	total := 0
	for _, line := range strings.Split(text, "\n") {
		m := bulletPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lead := m[1]
		if lead != "-" && lead != "*" && lead != "+" {
			lead = "numbered"
		}
		counts[lead]++
		total++
	}
	if total == 0 {
		return 1.0
	}
	best := 0
	for _, c := range counts {
		if c > best {
			best = c
		}
	}
	return float64(best) / float64(total)
}
