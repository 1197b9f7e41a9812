package prediction

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// structuredFailureCode is the body-level status the service embeds for domain errors.
const structuredFailureCode = 400

type envelope struct {
	StatusCode *int             `json:"status_code"`
	Detail     *failureDetail   `json:"detail"`
	Error      *string          `json:"error"`
	Score      *float64         `json:"similarity_score"`
	Boxes      *json.RawMessage `json:"bounding_boxes"`
	Faces      *json.RawMessage `json:"cropped_faces"`
}

type failureDetail struct {
	Message         string   `json:"message"`
	SimilarityScore *float64 `json:"similarity_score"`
}

// Classify maps an HTTP status and body onto exactly one outcome. The body is
// inspected before the status: the service reports domain failures as a
// status_code field inside a transport-successful response.
func Classify(status int, body []byte) (*Result, error) {
	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if decodeErr == nil && env.StatusCode != nil && *env.StatusCode == structuredFailureCode && env.Detail != nil {
		return nil, &StructuredError{Message: env.Detail.Message, Score: env.Detail.SimilarityScore}
	}

	if status != http.StatusOK {
		return nil, &TransportError{StatusCode: status, Err: fmt.Errorf("unexpected status %s", http.StatusText(status))}
	}
	if decodeErr != nil {
		return nil, &TransportError{StatusCode: status, Err: fmt.Errorf("decode body: %w", decodeErr)}
	}
	if env.Error != nil {
		return nil, &TransportError{StatusCode: status, Err: fmt.Errorf("service error: %s", *env.Error)}
	}
	if env.Score == nil {
		return nil, &TransportError{StatusCode: status, Err: errors.New("missing similarity_score")}
	}

	boxes, err := decodePair("bounding_boxes", env.Boxes)
	if err != nil {
		return nil, &TransportError{StatusCode: status, Err: err}
	}
	faces, err := decodePair("cropped_faces", env.Faces)
	if err != nil {
		return nil, &TransportError{StatusCode: status, Err: err}
	}

	return &Result{SimilarityScore: *env.Score, BoundingBoxes: boxes, CroppedFaces: faces}, nil
}

// decodePair accepts an absent or null field, or an array of exactly two refs.
func decodePair(field string, raw *json.RawMessage) (*ImagePair, error) {
	if raw == nil || string(*raw) == "null" {
		return nil, nil
	}
	var refs []ImageRef
	if err := json.Unmarshal(*raw, &refs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", field, err)
	}
	if len(refs) != 2 {
		return nil, fmt.Errorf("%s: expected 2 entries, got %d", field, len(refs))
	}
	return &ImagePair{refs[0], refs[1]}, nil
}
