// Package garage resolves which of a user's vehicles a question refers to
// and reads the garage from the vehicle store.
package garage

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/WessleyAI/wessley-garage/engine/domain"
	"github.com/WessleyAI/wessley-garage/pkg/vehiclenlp"
)

// Confidence is the strength of a vehicle-question match.
type Confidence string

const (
	ConfidenceNone   Confidence = "none"
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Field weights.
const (
	weightNickname  = 3
	weightMakeModel = 3
	weightModel     = 2
	weightYear      = 1
	weightEngine    = 1
)

// MatchResult is the best garage vehicle for a question. Vehicle is nil when
// Confidence is none.
type MatchResult struct {
	Vehicle    *domain.Vehicle `json:"vehicle,omitempty"`
	Confidence Confidence      `json:"confidence"`
	Score      int             `json:"score"`
	// Ambiguous is set when several vehicles shared the top score.
	Ambiguous bool `json:"ambiguous,omitempty"`
}

// Match scores every garage vehicle against the question and classifies the
// best one. activeID names the vehicle currently in effect, if any; it wins
// ties, otherwise the most recently added vehicle does. A tie between
// vehicles never yields high confidence.
func Match(question string, vehicles []domain.Vehicle, activeID string) MatchResult {
	if len(vehicles) == 0 {
		return MatchResult{Confidence: ConfidenceNone}
	}
	q := newQuestion(question)

	best := -1
	bestScore := 0
	var tied []int
	for i, v := range vehicles {
		s := score(q, v)
		switch {
		case s > bestScore:
			best, bestScore = i, s
			tied = []int{i}
		case s == bestScore && s > 0:
			tied = append(tied, i)
		}
	}
	if best < 0 {
		return MatchResult{Confidence: ConfidenceNone}
	}
	if len(tied) > 1 {
		best = breakTie(vehicles, tied, activeID)
	}

	conf := classify(bestScore)
	if len(tied) > 1 && conf == ConfidenceHigh {
		conf = ConfidenceMedium
	}
	v := vehicles[best]
	return MatchResult{Vehicle: &v, Confidence: conf, Score: bestScore, Ambiguous: len(tied) > 1}
}

func classify(score int) Confidence {
	switch {
	case score >= 3:
		return ConfidenceHigh
	case score == 2:
		return ConfidenceMedium
	case score == 1:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// breakTie prefers the active vehicle, then the newest one. Vehicles without
// a creation time are ordered by their position in the garage list.
func breakTie(vehicles []domain.Vehicle, tied []int, activeID string) int {
	if activeID != "" {
		for _, i := range tied {
			if vehicles[i].ID == activeID {
				return i
			}
		}
	}
	pick := tied[0]
	for _, i := range tied[1:] {
		a, b := vehicles[i].CreatedAt, vehicles[pick].CreatedAt
		if a.After(b) || (a.Equal(b) && i > pick) {
			pick = i
		}
	}
	return pick
}

func score(q question, v domain.Vehicle) int {
	s := 0
	if v.Nickname != "" && q.hasPhrase(v.Nickname) {
		s += weightNickname
	}
	if v.Model != "" && q.hasPhrase(v.Model) {
		if v.Make != "" && (vehiclenlp.MentionsMake(q.raw, v.Make) || q.hasPhrase(v.Make)) {
			s += weightMakeModel
		} else {
			s += weightModel
		}
	}
	if v.Year > 0 && q.years[v.Year] {
		s += weightYear
	}
	for _, code := range engineCodes(v.Engine) {
		if q.tokenSet[code] || q.compact[code] {
			s += weightEngine
			break
		}
	}
	return s
}

// question holds the normalised forms of a question used for matching.
type question struct {
	raw      string
	tokens   []string
	tokenSet map[string]bool
	compact  map[string]bool // adjacent token pairs joined, e.g. "cr"+"v"
	years    map[int]bool
}

func newQuestion(text string) question {
	q := question{
		raw:      text,
		tokens:   tokenize(text),
		tokenSet: make(map[string]bool),
		compact:  make(map[string]bool),
		years:    make(map[int]bool),
	}
	for i, t := range q.tokens {
		q.tokenSet[t] = true
		if i+1 < len(q.tokens) {
			q.compact[t+q.tokens[i+1]] = true
		}
		if len(t) == 4 {
			if y, err := strconv.Atoi(t); err == nil {
				q.years[y] = true
			}
		}
	}
	return q
}

// hasPhrase reports whether the phrase's tokens appear contiguously in the
// question, or its compact form (separators removed) appears as one token.
func (q question) hasPhrase(phrase string) bool {
	p := tokenize(phrase)
	if len(p) == 0 {
		return false
	}
	if c := strings.Join(p, ""); q.tokenSet[c] || q.compact[c] {
		return true
	}
	for i := 0; i+len(p) <= len(q.tokens); i++ {
		match := true
		for j := range p {
			if q.tokens[i+j] != p[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// tokenize lowercases s and splits it on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// engineCodes returns the tokens of an engine description that look like
// engine codes ("EJ255", "2JZ-GTE" -> "2jz", "2jzgte").
func engineCodes(engine string) []string {
	toks := tokenize(engine)
	var codes []string
	for _, t := range toks {
		if isCode(t) {
			codes = append(codes, t)
		}
	}
	if len(toks) > 1 {
		if joined := strings.Join(toks, ""); isCode(joined) && len(joined) <= 10 {
			codes = append(codes, joined)
		}
	}
	return codes
}

func isCode(t string) bool {
	if len(t) < 3 {
		return false
	}
	var letter, digit bool
	for _, r := range t {
		if unicode.IsLetter(r) {
			letter = true
		}
		if unicode.IsDigit(r) {
			digit = true
		}
	}
	return letter && digit
}
