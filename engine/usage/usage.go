// Package usage enforces per-tier usage limits and records usage events.
//
// Limits are checked before any expensive work. A check that cannot reach
// its store fails open: the request is allowed and a warning is logged.
package usage

import "time"

// Action is a metered user action.
type Action string

const (
	ActionAsk            Action = "ask_query"
	ActionDocumentSearch Action = "document_search"
	ActionDocumentUpload Action = "document_upload"
)

// Tier is a subscription tier.
type Tier string

const (
	FreeTier       Tier = "free_tier"
	WeekendWarrior Tier = "weekend_warrior"
	MasterTech     Tier = "master_tech"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierLimits[t]
	return ok
}

// Unlimited marks a limit that is not enforced.
const Unlimited = -1

// Limits are the quotas of one tier.
type Limits struct {
	DailyAsks       int `json:"daily_asks"`
	MonthlyAsks     int `json:"monthly_asks"`
	DocumentUploads int `json:"document_uploads"`
	Vehicles        int `json:"vehicles"`
}

var tierLimits = map[Tier]Limits{
	FreeTier:       {DailyAsks: 3, MonthlyAsks: Unlimited, DocumentUploads: 0, Vehicles: 1},
	WeekendWarrior: {DailyAsks: Unlimited, MonthlyAsks: 50, DocumentUploads: 20, Vehicles: Unlimited},
	MasterTech:     {DailyAsks: Unlimited, MonthlyAsks: Unlimited, DocumentUploads: Unlimited, Vehicles: Unlimited},
}

// LimitsFor returns the quotas of t. Unknown tiers get the free tier's.
func LimitsFor(t Tier) Limits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[FreeTier]
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

var allow = Decision{Allowed: true}

func deny(reason string) Decision { return Decision{Reason: reason} }

// Event is one recorded usage of an action.
type Event struct {
	UserID   string            `json:"user_id"`
	Action   Action            `json:"action"`
	Metadata map[string]string `json:"metadata,omitempty"`
	At       time.Time         `json:"at"`
}

// Stats summarises a user's usage.
type Stats struct {
	UserID    string `json:"user_id"`
	Tier      Tier   `json:"tier"`
	Limits    Limits `json:"limits"`
	AsksToday int    `json:"asks_today"`
	AsksMonth int    `json:"asks_month"`
	Uploads   int    `json:"document_uploads"`
	// DocumentSearches counts this month's asks that searched documents.
	DocumentSearches int  `json:"document_searches"`
	CanAsk           bool `json:"can_ask"`
	// RemainingAsks is set only for tiers with a daily or monthly ask limit.
	RemainingAsks *int `json:"remaining_asks,omitempty"`
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
