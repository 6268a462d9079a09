// Package demographics defines the records produced by the analysis flow.
package demographics

import (
	"encoding/json"
	"time"

	"github.com/example/skin-analysis/internal/confidence"
)

// Source tags where a record came from.
type Source string

const (
	SourceAPI     Source = "api"
	SourceMock    Source = "mock"
	SourceCamera  Source = "camera"
	SourceGallery Source = "gallery"
)

const (
	SexMale   = "Male"
	SexFemale = "Female"
)

// RaceConfidence is the persisted shape of one race entry.
type RaceConfidence struct {
	Race       string  `json:"race"`
	Confidence float64 `json:"confidence"`
}

// Record is the canonical demographic prediction.
type Record struct {
	Race            string           `json:"race"`
	Age             string           `json:"age"`
	Sex             string           `json:"sex"`
	RaceConfidences []RaceConfidence `json:"race_confidences"`
	ConfidenceScore float64          `json:"confidence_score"`
	Timestamp       string           `json:"timestamp"`
	Source          Source           `json:"source"`
	IsMockData      bool             `json:"isMockData,omitempty"`
	APIMessage      string           `json:"apiMessage,omitempty"`
	RawAPIData      json.RawMessage  `json:"raw_api_data,omitempty"`
}

// NewRecord assembles a record from a normalized race distribution, keeping
// Race and ConfidenceScore tied to the top entry.
func NewRecord(races []confidence.CategoryConfidence, age, sex string, source Source, at time.Time) *Record {
	entries := make([]RaceConfidence, len(races))
	for i, c := range races {
		entries[i] = RaceConfidence{Race: c.Label, Confidence: c.Confidence}
	}

	rec := &Record{
		Age:             age,
		Sex:             sex,
		RaceConfidences: entries,
		Timestamp:       at.UTC().Format(time.RFC3339Nano),
		Source:          source,
	}
	if len(entries) > 0 {
		rec.Race = entries[0].Race
		rec.ConfidenceScore = entries[0].Confidence
	}
	return rec
}

// Consistent reports whether the top-entry invariants hold.
func (r *Record) Consistent() bool {
	if r == nil || len(r.RaceConfidences) == 0 {
		return false
	}
	top := r.RaceConfidences[0]
	return r.Race == top.Race && r.ConfidenceScore == top.Confidence
}

// Categories lists the candidate labels for each category.
type Categories struct {
	Races []string
	Ages  []string
	Sexes []string
}

// DefaultCategories lists the labels the mock generator draws from.
func DefaultCategories() Categories {
	return Categories{
		Races: []string{"White", "Black", "Asian", "Hispanic", "Middle Eastern", "Indian"},
		Ages:  []string{"18-24", "25-34", "35-44", "45-54", "55-64", "65+"},
		Sexes: []string{SexMale, SexFemale},
	}
}
