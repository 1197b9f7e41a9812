package usecase

import (
	"github.com/example/face-compare/internal/prediction"
	"github.com/example/face-compare/internal/session"
)

// SessionView is a session snapshot shaped for display: image paths resolved
// against the prediction origin and the score formatted as a percentage.
type SessionView struct {
	State    session.State     `json:"state"`
	First    *session.SlotView `json:"first"`
	Second   *session.SlotView `json:"second"`
	Result   *ResultView       `json:"result"`
	InFlight bool              `json:"in_flight"`
	Action   session.Action    `json:"action"`
}

// ResultView is a session.Result with display fields.
type ResultView struct {
	SimilarityScore   *float64              `json:"similarity_score,omitempty"`
	SimilarityPercent string                `json:"similarity_percent,omitempty"`
	Error             string                `json:"error,omitempty"`
	FailureKind       session.FailureKind   `json:"failure_kind,omitempty"`
	BoundingBoxes     *prediction.ImagePair `json:"bounding_boxes"`
	CroppedFaces      *prediction.ImagePair `json:"cropped_faces"`
}

func newSessionView(snap session.Snapshot, origin string) *SessionView {
	return &SessionView{
		State:    snap.State,
		First:    snap.First,
		Second:   snap.Second,
		Result:   newResultView(snap.Result, origin),
		InFlight: snap.InFlight,
		Action:   snap.Action,
	}
}

func newResultView(result *session.Result, origin string) *ResultView {
	if result == nil {
		return nil
	}
	view := &ResultView{
		SimilarityScore: result.SimilarityScore,
		Error:           result.Error,
		FailureKind:     result.FailureKind,
		BoundingBoxes:   resolvePair(result.BoundingBoxes, origin),
		CroppedFaces:    resolvePair(result.CroppedFaces, origin),
	}
	if result.SimilarityScore != nil {
		view.SimilarityPercent = prediction.FormatPercent(*result.SimilarityScore)
	}
	return view
}

func resolvePair(pair *prediction.ImagePair, origin string) *prediction.ImagePair {
	if pair == nil {
		return nil
	}
	resolved := *pair
	for i := range resolved {
		resolved[i].URL = prediction.ResolveURL(origin, resolved[i].URL)
	}
	return &resolved
}
