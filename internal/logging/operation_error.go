package logging

import "fmt"

// OperationError annotates an error with the operation and analysis attempt
// it happened in.
type OperationError struct {
	Operation string
	AttemptID string
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.AttemptID != "" {
		return fmt.Sprintf("%s (attempt_id=%s): %v", e.Operation, e.AttemptID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err with the operation and attempt it belongs to.
// A nil err yields nil.
func NewOperationError(operation, attemptID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, AttemptID: attemptID, Err: err}
}
