package ensemble

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/WessleyAI/wessley-garage/engine/domain"
	"github.com/WessleyAI/wessley-garage/pkg/fn"
)

// Confidence weights. Agreement dominates; grounding and citations can add
// at most the remainder.
const (
	weightConsistency = 0.7
	groundingStep     = 0.05
	groundingCap      = 0.2
	citationStep      = 0.05
	citationCap       = 0.1
)

// Consistency is the share of candidates in the largest group sharing one
// signature. It is 0 for fewer than two candidates.
func Consistency(cands []domain.CandidateAnswer) float64 {
	if len(cands) < 2 {
		return 0
	}
	return float64(largestGroup(cands)) / float64(len(cands))
}

func largestGroup(cands []domain.CandidateAnswer) int {
	best := 0
	for _, g := range fn.GroupBy(cands, func(c domain.CandidateAnswer) string { return c.Signature }) {
		if len(g) > best {
			best = len(g)
		}
	}
	return best
}

// Select picks the representative candidate: one from a largest agreeing
// group, preferring more grounding indicators, then more citations, then
// shorter text. Remaining ties fall to text order, then index, so the
// choice never depends on arrival order. cands must not be empty.
func Select(cands []domain.CandidateAnswer) domain.CandidateAnswer {
	groups := fn.GroupBy(cands, func(c domain.CandidateAnswer) string { return c.Signature })
	top := largestGroup(cands)
	var pool []domain.CandidateAnswer
	for _, g := range groups {
		if len(g) == top {
			pool = append(pool, g...)
		}
	}
	sort.Slice(pool, func(i, j int) bool { return better(pool[i], pool[j]) })
	return pool[0]
}

func better(a, b domain.CandidateAnswer) bool {
	if a.GroundingIndicators != b.GroundingIndicators {
		return a.GroundingIndicators > b.GroundingIndicators
	}
	if len(a.CitedSources) != len(b.CitedSources) {
		return len(a.CitedSources) > len(b.CitedSources)
	}
	if len(a.Text) != len(b.Text) {
		return len(a.Text) < len(b.Text)
	}
	if a.Text != b.Text {
		return a.Text < b.Text
	}
	return a.Index < b.Index
}

// Confidence combines agreement with the selected answer's evidence,
// capped to [0,1].
func Confidence(consistency float64, selected domain.CandidateAnswer) float64 {
	c := weightConsistency*consistency +
		math.Min(groundingCap, groundingStep*float64(selected.GroundingIndicators)) +
		math.Min(citationCap, citationStep*float64(len(selected.CitedSources)))
	return math.Max(0, math.Min(1, c))
}

// UsedDocuments is the sorted union of every candidate's citations.
func UsedDocuments(cands []domain.CandidateAnswer) []string {
	all := []string{}
	for _, c := range cands {
		all = append(all, c.CitedSources...)
	}
	out := fn.UniqueBy(all, func(s string) string { return s })
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out
}

// Notes explains the agreement level; it is empty when every candidate
// agreed.
func Notes(cands []domain.CandidateAnswer, requested int) string {
	switch {
	case len(cands) == 0:
		return ""
	case len(cands) == 1:
		return fmt.Sprintf("Low confidence: only 1 of %d sampled answers succeeded, so it could not be cross-checked.", requested)
	}
	agree := largestGroup(cands)
	if agree == len(cands) {
		return ""
	}
	if agree == 1 {
		return fmt.Sprintf("Low agreement: all %d sampled answers gave different key values; verify before relying on this answer.", len(cands))
	}
	return fmt.Sprintf("%d of %d sampled answers agreed on the key values; %d disagreed.", agree, len(cands), len(cands)-agree)
}

// Evaluate scores parsed candidates and builds the final answer. cands must
// not be empty; requested is the number of samples that were asked for.
func Evaluate(cands []domain.CandidateAnswer, requested int) domain.EvaluatedAnswer {
	consistency := Consistency(cands)
	selected := Select(cands)
	return domain.EvaluatedAnswer{
		Answer:           strings.TrimSpace(selected.Text),
		Confidence:       Confidence(consistency, selected),
		ConsistencyScore: consistency,
		UsedDocuments:    UsedDocuments(cands),
		Notes:            Notes(cands, requested),
		Candidates:       len(cands),
	}
}
