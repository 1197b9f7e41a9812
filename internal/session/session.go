// Package session holds the per-user comparison state machine: two image
// slots, the in-flight flag and the last comparison result.
//
// A Controller is safe for concurrent use. Decoding and the prediction call
// run outside the lock; slot tickets and a session epoch keep their late
// completions from overwriting newer state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/example/face-compare/internal/prediction"
	"github.com/example/face-compare/internal/preview"
)

// Slot identifies one of the two image inputs.
type Slot int

const (
	First Slot = iota
	Second
)

func (s Slot) String() string {
	switch s {
	case First:
		return "first"
	case Second:
		return "second"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// ParseSlot accepts "first"/"second" as well as "1"/"2".
func ParseSlot(value string) (Slot, error) {
	switch value {
	case "first", "1":
		return First, nil
	case "second", "2":
		return Second, nil
	}
	return 0, fmt.Errorf("unknown slot %q", value)
}

func (s Slot) valid() bool { return s == First || s == Second }

// State is derived from the slots, the result and the in-flight flag.
type State string

const (
	StateEmpty         State = "empty"
	StateReadyToSubmit State = "ready_to_submit"
	StateSubmitting    State = "submitting"
	StateSucceeded     State = "succeeded"
	StateFailed        State = "failed"
)

var (
	ErrNotReady       = errors.New("session: both images must be selected")
	ErrInFlight       = errors.New("session: a comparison is already in flight")
	ErrSuperseded     = errors.New("session: response discarded after the session changed")
	ErrActionDisabled = errors.New("session: primary action is disabled")
	ErrInvalidSlot    = errors.New("session: invalid slot")
)

// FailureKind distinguishes failed results.
type FailureKind string

const (
	FailureStructured FailureKind = "structured"
	FailureTransport  FailureKind = "transport"
)

// Result is the outcome of one submission. Error is empty on success; failed
// results never carry image pairs.
type Result struct {
	SimilarityScore *float64              `json:"similarity_score,omitempty"`
	Error           string                `json:"error,omitempty"`
	FailureKind     FailureKind           `json:"failure_kind,omitempty"`
	BoundingBoxes   *prediction.ImagePair `json:"bounding_boxes"`
	CroppedFaces    *prediction.ImagePair `json:"cropped_faces"`
}

// Succeeded reports whether the result carries no error.
func (r *Result) Succeeded() bool { return r != nil && r.Error == "" }

// SelectedImage is a populated slot.
type SelectedImage struct {
	Filename string
	MIMEType string
	Preview  string
	Data     []byte
}

type slotState struct {
	image  *SelectedImage
	ticket uint64
}

// Controller owns one comparison session.
type Controller struct {
	mu       sync.Mutex
	slots    [2]slotState
	result   *Result
	inFlight bool
	epoch    uint64

	decoder   preview.Decoder
	predictor prediction.Client
	logger    *zap.Logger
}

// NewController builds an empty session.
func NewController(decoder preview.Decoder, predictor prediction.Client, logger *zap.Logger) *Controller {
	return &Controller{
		decoder:   decoder,
		predictor: predictor,
		logger:    logger.Named("session"),
	}
}

// SelectImage decodes file and stores it in slot, clearing any result. A
// decode failure leaves the slot unchanged and is returned as a
// *preview.DecodeError. If the session was reset, or the slot re-selected,
// while decoding, the decoded image is dropped and ErrSuperseded is returned.
func (c *Controller) SelectImage(ctx context.Context, slot Slot, file preview.File) error {
	if !slot.valid() {
		return ErrInvalidSlot
	}

	c.mu.Lock()
	c.slots[slot].ticket++
	ticket := c.slots[slot].ticket
	c.mu.Unlock()

	pv, err := c.decoder.Decode(ctx, file)
	if err != nil {
		c.logger.Warn("failed to decode image", zap.Stringer("slot", slot), zap.String("filename", file.Filename), zap.Error(err))
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slots[slot].ticket != ticket {
		c.logger.Debug("discarding stale decode", zap.Stringer("slot", slot), zap.String("filename", file.Filename))
		return ErrSuperseded
	}

	c.slots[slot].image = &SelectedImage{
		Filename: file.Filename,
		MIMEType: pv.MIMEType,
		Preview:  pv.DataURL,
		Data:     file.Data,
	}
	c.result = nil
	// A new selection invalidates any comparison still in flight.
	c.inFlight = false
	c.epoch++
	return nil
}

// Submission is one request to the prediction service: the images that were
// sent and the outcome they produced.
type Submission struct {
	First  *SelectedImage
	Second *SelectedImage
	Result *Result
}

// Submit sends both images to the prediction service and records the outcome.
// It returns ErrNotReady or ErrInFlight without side effects when the guard
// fails. Cancelling ctx does not abort a request once it is in flight; the
// prediction client's own timeout bounds it. When the session changed while
// the request was in flight the submission is returned together with
// ErrSuperseded and nothing is recorded.
func (c *Controller) Submit(ctx context.Context) (*Submission, error) {
	c.mu.Lock()
	first, second := c.slots[First].image, c.slots[Second].image
	if first == nil || second == nil {
		c.mu.Unlock()
		return nil, ErrNotReady
	}
	if c.inFlight {
		c.mu.Unlock()
		return nil, ErrInFlight
	}
	c.inFlight = true
	c.result = nil
	epoch := c.epoch
	c.mu.Unlock()

	sub := &Submission{First: first, Second: second}
	sub.Result = c.predict(context.WithoutCancel(ctx), first, second)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		c.logger.Info("discarding superseded comparison response")
		return sub, ErrSuperseded
	}
	c.result = sub.Result
	c.inFlight = false
	return sub, nil
}

// predict maps every outcome, a panicking client included, onto a Result.
func (c *Controller) predict(ctx context.Context, first, second *SelectedImage) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("prediction client panicked", zap.Any("panic", r))
			result = transportFailure()
		}
	}()

	out, err := c.predictor.Predict(ctx, toPredictionImage(first), toPredictionImage(second))
	if err == nil {
		score := out.SimilarityScore
		return &Result{
			SimilarityScore: &score,
			BoundingBoxes:   out.BoundingBoxes,
			CroppedFaces:    out.CroppedFaces,
		}
	}

	var structured *prediction.StructuredError
	if errors.As(err, &structured) {
		message := structured.Message
		if message == "" {
			message = prediction.GenericFailureMessage
		}
		return &Result{
			SimilarityScore: structured.Score,
			Error:           message,
			FailureKind:     FailureStructured,
		}
	}

	c.logger.Error("comparison failed", zap.Error(err))
	return transportFailure()
}

func toPredictionImage(image *SelectedImage) prediction.Image {
	return prediction.Image{
		Filename:    image.Filename,
		ContentType: image.MIMEType,
		Data:        image.Data,
	}
}

func transportFailure() *Result {
	return &Result{Error: prediction.GenericFailureMessage, FailureKind: FailureTransport}
}

// Reset clears both slots, the result and the in-flight flag. Pending decodes
// and in-flight responses started before the reset are discarded.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		c.slots[i].image = nil
		c.slots[i].ticket++
	}
	c.result = nil
	c.inFlight = false
	c.epoch++
}

// State returns the current derived state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	switch {
	case c.inFlight:
		return StateSubmitting
	case c.result != nil && c.result.Succeeded():
		return StateSucceeded
	case c.result != nil:
		return StateFailed
	case c.bothSelectedLocked():
		return StateReadyToSubmit
	default:
		return StateEmpty
	}
}

func (c *Controller) bothSelectedLocked() bool {
	return c.slots[First].image != nil && c.slots[Second].image != nil
}
