package demographics

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Profile is what the intro step collects.
type Profile struct {
	Name       string    `json:"name" validate:"required,max=120"`
	Location   string    `json:"location" validate:"required,max=120"`
	CapturedAt time.Time `json:"timestamp"`
}

// Trimmed returns a copy with surrounding whitespace removed.
func (p Profile) Trimmed() Profile {
	p.Name = strings.TrimSpace(p.Name)
	p.Location = strings.TrimSpace(p.Location)
	return p
}

// Validate checks that both intro fields are filled.
func (p Profile) Validate() error {
	return validate.Struct(p.Trimmed())
}

// Empty reports whether nothing has been typed yet.
func (p Profile) Empty() bool {
	return p.Name == "" && p.Location == ""
}
