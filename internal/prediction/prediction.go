package prediction

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Image is one raw payload sent to the prediction service.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ImageRef points at an image produced by the prediction service.
// URL is a path relative to the service origin.
type ImageRef struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// ImagePair holds the two per-input images the service returns.
type ImagePair [2]ImageRef

// Result is the successful outcome of a prediction call.
type Result struct {
	SimilarityScore float64    `json:"similarity_score"`
	BoundingBoxes   *ImagePair `json:"bounding_boxes"`
	CroppedFaces    *ImagePair `json:"cropped_faces"`
}

// Client exposes the prediction operations used by a comparison session.
type Client interface {
	// Predict issues exactly one comparison request. A non-nil error is
	// either a *StructuredError or a *TransportError.
	Predict(ctx context.Context, first, second Image) (*Result, error)
	Ping(ctx context.Context) error
}

// FormatPercent renders a [0,1] similarity score as a percentage with two decimals.
func FormatPercent(score float64) string {
	return fmt.Sprintf("%.2f%%", score*100)
}

// ResolveURL appends a service-relative image path to origin, keeping any
// path prefix the origin carries. Only http(s) URLs with a host are returned
// unchanged; every other ref, protocol-relative ones included, stays on origin.
func ResolveURL(origin, ref string) string {
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return ref
	}
	return strings.TrimRight(origin, "/") + "/" + strings.TrimLeft(ref, "/")
}
