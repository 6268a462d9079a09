package classifier

import (
	"fmt"
	"strings"
)

// HTTPError is returned when the classifier answers with a non-success status.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("classifier returned status %d: %s", e.Status, e.Body)
}

// ShapeError is returned when a success response is not usable.
type ShapeError struct {
	Reason  string
	Missing []string
	Body    string
	Err     error
}

func (e *ShapeError) Error() string {
	msg := "unexpected classifier response: " + e.Reason
	if len(e.Missing) > 0 {
		msg += " (missing " + strings.Join(e.Missing, ", ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ShapeError) Unwrap() error {
	return e.Err
}

// Incomplete reports whether the body parsed but lacked required fields.
func (e *ShapeError) Incomplete() bool {
	return len(e.Missing) > 0
}
