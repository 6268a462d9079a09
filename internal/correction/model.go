// Package correction holds the user's editable view of a prediction.
//
// The selection never replaces the persisted record; Confirm only hands the
// current values back to the caller.
package correction

import (
	"errors"
	"fmt"
	"sync"

	"github.com/example/skin-analysis/internal/demographics"
)

const (
	CategoryRace = "race"
	CategoryAge  = "age"
	CategorySex  = "sex"
)

// ErrUnknownCategory is returned by Select for anything but race, age or sex.
var ErrUnknownCategory = errors.New("unknown correction category")

// Selection is the current race/age/sex choice.
type Selection struct {
	Race string `json:"race"`
	Age  string `json:"age"`
	Sex  string `json:"sex"`
}

// Model tracks a selection and the values it was seeded with.
type Model struct {
	mu      sync.Mutex
	initial Selection
	current Selection
	seeded  bool
}

// New returns an empty model.
func New() *Model {
	return &Model{}
}

// InitFrom seeds the selection with rec's top values. Calling it again with a
// newer record re-seeds both the selection and the reset point.
func (m *Model) InitFrom(rec *demographics.Record) {
	if rec == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initial = Selection{Race: rec.Race, Age: rec.Age, Sex: rec.Sex}
	m.current = m.initial
	m.seeded = true
}

// Seeded reports whether InitFrom has been called.
func (m *Model) Seeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seeded
}

// Select overwrites one field. Values are not checked against any candidate set.
func (m *Model) Select(category, value string) (Selection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch category {
	case CategoryRace:
		m.current.Race = value
	case CategoryAge:
		m.current.Age = value
	case CategorySex:
		m.current.Sex = value
	default:
		return m.current, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return m.current, nil
}

// Reset restores the values captured by the last InitFrom.
func (m *Model) Reset() Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.initial
	return m.current
}

// Current returns the selection without changing it.
func (m *Model) Current() Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Confirm returns the selection as the user-confirmed output.
func (m *Model) Confirm() Selection {
	return m.Current()
}
