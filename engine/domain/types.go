// Package domain defines the core types shared by the question-answering
// pipeline: garage vehicles, document passages, candidate and evaluated
// answers, and the user's unit preferences.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/WessleyAI/wessley-garage/pkg/vehiclenlp"
)

// Vehicle is a vehicle registered in a user's garage. The vehicle store owns
// its lifecycle; the pipeline only reads it.
type Vehicle struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Make      string    `json:"make"`
	Model     string    `json:"model"`
	Year      int       `json:"year"`
	Nickname  string    `json:"nickname,omitempty"`
	Trim      string    `json:"trim,omitempty"`
	Engine    string    `json:"engine,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName renders the vehicle the way it is read back to the user,
// e.g. `2008 Subaru WRX ("Blue Beast")`.
func (v Vehicle) DisplayName() string {
	var parts []string
	if v.Year > 0 {
		parts = append(parts, fmt.Sprintf("%d", v.Year))
	}
	if v.Make != "" {
		parts = append(parts, v.Make)
	}
	if v.Model != "" {
		parts = append(parts, v.Model)
	}
	if v.Trim != "" {
		parts = append(parts, v.Trim)
	}
	name := strings.Join(parts, " ")
	if v.Nickname != "" {
		if name == "" {
			return v.Nickname
		}
		return fmt.Sprintf("%s (%q)", name, v.Nickname)
	}
	return name
}

// Filter returns the document filter for this vehicle.
func (v Vehicle) Filter() *VehicleFilter {
	return &VehicleFilter{Make: v.Make, Model: v.Model, Year: v.Year}
}

// VehicleFilter narrows document retrieval to passages about one vehicle.
// Zero-valued fields are not applied.
type VehicleFilter struct {
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
	Year  int    `json:"year,omitempty"`
}

// YearTolerance is how far a document's model year may be from the filter year.
const YearTolerance = 3

// IsEmpty reports whether the filter constrains nothing.
func (f *VehicleFilter) IsEmpty() bool {
	return f == nil || (f.Make == "" && f.Model == "" && f.Year == 0)
}

// Matches reports whether document metadata satisfies the filter. Metadata
// that lacks a field is never excluded on that field. Makes match through
// their aliases, so a "Chevy" filter keeps "Chevrolet" manuals.
func (f *VehicleFilter) Matches(make, model string, year int) bool {
	if f.IsEmpty() {
		return true
	}
	if f.Make != "" && make != "" && !vehiclenlp.SameMake(f.Make, make) {
		return false
	}
	if f.Model != "" && model != "" && !strings.EqualFold(f.Model, model) {
		return false
	}
	if f.Year != 0 && year != 0 {
		diff := f.Year - year
		if diff < 0 {
			diff = -diff
		}
		if diff > YearTolerance {
			return false
		}
	}
	return true
}

// DocumentPassage is one retrieved chunk of a reference document.
type DocumentPassage struct {
	Content        string  `json:"content"`
	SourceTitle    string  `json:"source_title"`
	RelevanceScore float64 `json:"relevance_score"` // 0..1
	PageNumber     int     `json:"page_number,omitempty"`
}

// CandidateAnswer is one sampled completion, prior to selection.
type CandidateAnswer struct {
	Index               int      `json:"index"`
	Text                string   `json:"text"`
	CitedSources        []string `json:"cited_sources"`
	GroundingIndicators int      `json:"grounding_indicators"`
	Signature           string   `json:"signature"`
}

// EvaluatedAnswer is the terminal artifact of the pipeline.
type EvaluatedAnswer struct {
	Answer           string   `json:"answer"`
	Confidence       float64  `json:"confidence"`
	ConsistencyScore float64  `json:"consistency_score"`
	UsedDocuments    []string `json:"used_documents"`
	Notes            string   `json:"notes,omitempty"`
	Candidates       int      `json:"candidates"`
}
