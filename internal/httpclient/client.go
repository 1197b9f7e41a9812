package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-compare/internal/logging"
	"github.com/example/face-compare/internal/prediction"
)

// maxResponseBytes bounds how much of a prediction response is read.
const maxResponseBytes = 1 << 20

// Options configures the prediction service client.
type Options struct {
	Origin  string
	Path    string
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

type predictionClient struct {
	origin string
	path   string
	http   *http.Client
	logger *zap.Logger
}

// NewPredictionClient returns a prediction.Client speaking multipart HTTP to the service.
func NewPredictionClient(opts Options, logger *zap.Logger) prediction.Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	path := opts.Path
	if path == "" {
		path = "/predict"
	}
	return &predictionClient{
		origin: strings.TrimRight(opts.Origin, "/"),
		path:   path,
		http:   hc,
		logger: logger.Named("prediction_client"),
	}
}

func (c *predictionClient) Predict(ctx context.Context, first, second prediction.Image) (*prediction.Result, error) {
	body, contentType, err := encodeImages(first, second)
	if err != nil {
		return nil, &prediction.TransportError{Err: err}
	}

	endpoint := c.origin + c.path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, &prediction.TransportError{Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("httpclient.predict", "", err)
		c.logger.Error("prediction request failed", zap.Error(wrapped), zap.String("endpoint", endpoint))
		return nil, &prediction.TransportError{Err: wrapped}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.logger.Error("failed to read prediction response", zap.Error(err), zap.Int("status", resp.StatusCode))
		return nil, &prediction.TransportError{StatusCode: resp.StatusCode, Err: err}
	}

	result, err := prediction.Classify(resp.StatusCode, payload)
	fields := []zap.Field{
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(started)),
	}
	if err != nil {
		c.logger.Warn("prediction failed", append(fields, zap.Error(err))...)
		return nil, err
	}
	c.logger.Info("prediction completed", append(fields, zap.Float64("similarity_score", result.SimilarityScore))...)
	return result, nil
}

func (c *predictionClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.origin+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return logging.NewOperationError("httpclient.ping", "", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= http.StatusInternalServerError {
		return logging.NewOperationError("httpclient.ping", "", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

func encodeImages(first, second prediction.Image) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, part := range []struct {
		field string
		image prediction.Image
	}{
		{"image1", first},
		{"image2", second},
	} {
		if err := writeImagePart(writer, part.field, part.image); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

func writeImagePart(writer *multipart.Writer, field string, image prediction.Image) error {
	filename := image.Filename
	if filename == "" {
		filename = field
	}
	contentType := image.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, escapeQuotes(filename)))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := part.Write(image.Data); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
