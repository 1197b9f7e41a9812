package logging

import "fmt"

// OperationError annotates an error with the operation and session owner it
// occurred under.
type OperationError struct {
	Operation string
	OwnerID   string
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.OwnerID != "" {
		return fmt.Sprintf("%s (owner_id=%s): %v", e.Operation, e.OwnerID, e.Err)
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

// NewOperationError wraps err with structured context. It returns nil for a nil err.
func NewOperationError(operation, ownerID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, OwnerID: ownerID, Err: err}
}
