package ensemble

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/WessleyAI/wessley-garage/engine/domain"
	"github.com/WessleyAI/wessley-garage/engine/prompt"
)

var citationRe = regexp.MustCompile(`(?is)` + regexp.QuoteMeta(prompt.CitationOpen) + `(.*?)` + regexp.QuoteMeta(prompt.CitationClose))

// ParseCandidate turns one raw completion into a CandidateAnswer: the
// citation block is removed from the text, citations are kept only when they
// name a supplied passage, and grounding indicators are counted against the
// passages' content.
func ParseCandidate(index int, raw string, docs []domain.DocumentPassage) domain.CandidateAnswer {
	text, cited := extractCitations(raw, docs)
	return domain.CandidateAnswer{
		Index:               index,
		Text:                text,
		CitedSources:        cited,
		GroundingIndicators: countGrounding(text, docs),
		Signature:           Signature(text),
	}
}

// extractCitations strips every citation block from raw and returns the
// cleaned text plus the recognised titles, sorted. A block that is not a
// JSON array of strings contributes nothing.
func extractCitations(raw string, docs []domain.DocumentPassage) (string, []string) {
	titles := make(map[string]string, len(docs))
	for _, d := range docs {
		titles[strings.ToLower(strings.TrimSpace(d.SourceTitle))] = d.SourceTitle
	}

	seen := map[string]bool{}
	cited := []string{}
	for _, m := range citationRe.FindAllStringSubmatch(raw, -1) {
		var names []string
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &names); err != nil {
			continue
		}
		for _, n := range names {
			title, ok := titles[strings.ToLower(strings.TrimSpace(n))]
			if ok && !seen[title] {
				seen[title] = true
				cited = append(cited, title)
			}
		}
	}
	sort.Strings(cited)
	text := strings.TrimSpace(citationRe.ReplaceAllString(raw, ""))
	return text, cited
}

var (
	thousandsRe = regexp.MustCompile(`(\d),(\d{3})\b`)
	partRe      = regexp.MustCompile(`[a-z0-9]+(?:-[a-z0-9]+)*`)
)

// facts returns the concrete values in text: numbers in normalised form and
// part-number-like tokens mixing letters and digits, with hyphens removed so
// "5W-30" and "5w30" are one fact. Single-digit numbers are too common in
// any passage to count.
func facts(text string) map[string]bool {
	out := map[string]bool{}
	rest := partRe.ReplaceAllStringFunc(strings.ToLower(text), func(w string) string {
		if hasLetter(w) && hasDigit(w) {
			if key := strings.ReplaceAll(w, "-", ""); len(key) >= 4 {
				out[key] = true
				return " "
			}
		}
		return w
	})
	for _, tok := range tokenize(rest) {
		if tok.num != "" && len(tok.num) > 1 {
			out[tok.num] = true
		}
	}
	return out
}

// countGrounding counts the distinct facts of text that also occur in the
// passages.
func countGrounding(text string, docs []domain.DocumentPassage) int {
	if len(docs) == 0 {
		return 0
	}
	var b strings.Builder
	for _, d := range docs {
		b.WriteString(d.Content)
		b.WriteByte('\n')
	}
	known := facts(b.String())
	n := 0
	for f := range facts(text) {
		if known[f] {
			n++
		}
	}
	return n
}

func hasLetter(s string) bool {
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
