package garage

import (
	"fmt"

	"github.com/WessleyAI/wessley-garage/engine/domain"
)

// Resolution is the effective vehicle context after applying the match policy.
type Resolution struct {
	Match MatchResult
	// Vehicle is the vehicle in effect for this question, possibly nil.
	Vehicle *domain.Vehicle
	// Switched is true when a high-confidence match replaced the current vehicle.
	Switched bool
	// ConfirmationPrompt asks the user to confirm a medium-confidence match.
	ConfirmationPrompt string
}

// Resolve applies the confidence policy to a match. High confidence adopts
// the matched vehicle silently; medium keeps current and asks for
// confirmation; low and none leave current untouched without any signal.
func Resolve(m MatchResult, current *domain.Vehicle) Resolution {
	res := Resolution{Match: m, Vehicle: current}
	if m.Vehicle == nil {
		return res
	}
	sameAsCurrent := current != nil && current.ID == m.Vehicle.ID

	switch m.Confidence {
	case ConfidenceHigh:
		res.Vehicle = m.Vehicle
		res.Switched = !sameAsCurrent
	case ConfidenceMedium:
		if !sameAsCurrent {
			res.ConfirmationPrompt = ConfirmationPrompt(*m.Vehicle)
		}
	}
	return res
}

// ConfirmationPrompt is the question put to the user before switching context.
func ConfirmationPrompt(v domain.Vehicle) string {
	return fmt.Sprintf("Are you asking about your %s? Confirm to switch to that vehicle.", v.DisplayName())
}
