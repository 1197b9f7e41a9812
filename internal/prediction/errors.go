package prediction

import "fmt"

// GenericFailureMessage is shown for every failure the service did not explain.
const GenericFailureMessage = "failed to compare images"

// StructuredError is a domain-level failure reported by the service in the
// response body, for example when no face is detected.
type StructuredError struct {
	Message string
	// Score is the partial similarity score, when the service sent one.
	Score *float64
}

func (e *StructuredError) Error() string {
	if e.Score != nil {
		return fmt.Sprintf("prediction rejected: %s (similarity_score=%f)", e.Message, *e.Score)
	}
	return "prediction rejected: " + e.Message
}

// TransportError covers network failures, unexpected statuses and malformed bodies.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("prediction transport failure (status=%d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("prediction transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
