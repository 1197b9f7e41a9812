package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/face-compare/internal/auth"
	"github.com/example/face-compare/internal/httpclient"
	"github.com/example/face-compare/internal/preview"
	"github.com/example/face-compare/internal/repository"
	"github.com/example/face-compare/internal/session"
	"github.com/example/face-compare/internal/usecase"
)

const testJWTSecret = "test-secret"

var pngPayload = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type memoryRepository struct {
	logs []*repository.ComparisonLog
}

func (m *memoryRepository) SaveLog(ctx context.Context, log *repository.ComparisonLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func (m *memoryRepository) FindByAttemptIDAndOwner(ctx context.Context, attemptID, ownerID string) (*repository.ComparisonLog, error) {
	for _, log := range m.logs {
		if log.AttemptID == attemptID && log.OwnerID == ownerID {
			return log, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*repository.ComparisonLog, error) {
	var out []*repository.ComparisonLog
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.logs[i].OwnerID == ownerID {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

func (m *memoryRepository) AggregateMetrics(ctx context.Context, ownerID string) (*repository.MetricsAggregation, error) {
	agg := &repository.MetricsAggregation{}
	for _, log := range m.logs {
		if log.OwnerID != ownerID {
			continue
		}
		agg.TotalCount++
		switch {
		case log.Outcome == "succeeded":
			agg.SuccessCount++
		case log.FailureKind == "structured":
			agg.StructuredFailureCount++
		default:
			agg.TransportFailureCount++
		}
	}
	return agg, nil
}

// missCache never holds anything, so reads fall through to the repository.
type missCache struct{}

func (missCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return nil
}

func (missCache) Get(ctx context.Context, key string) (string, error) {
	return "", redis.Nil
}

func newTestRouter(t *testing.T, predictHandler http.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	service := httptest.NewServer(predictHandler)
	t.Cleanup(service.Close)

	client := httpclient.NewPredictionClient(httpclient.Options{Origin: service.URL}, zap.NewNop())
	registry := session.NewRegistry(preview.NewDecoder(), client, zap.NewNop())
	uc := usecase.NewComparisonUseCase(registry, &memoryRepository{}, missCache{}, service.URL, zap.NewNop())

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, uc, auth.JWTMiddleware(testJWTSecret, ""))
	return router
}

func successHandler(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(`{"similarity_score":0.8765,` +
		`"bounding_boxes":[{"url":"/static/bounding_boxes/a.jpg","description":"Image 1 with bounding box"},{"url":"/static/bounding_boxes/b.jpg","description":"Image 2 with bounding box"}],` +
		`"cropped_faces":[{"url":"/static/cropped_faces/c.jpg","description":"Cropped Face 1"},{"url":"/static/cropped_faces/d.jpg","description":"Cropped Face 2"}]}`))
}

func TestSelectRejectsLargeUpload(t *testing.T) {
	router := newTestRouter(t, successHandler)
	body, contentType := buildMultipartBody(t, "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1))

	resp := doRequest(t, router, http.MethodPut, "/session/images/first", body, contentType, "user-123")
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestSelectRejectsUnsupportedContentType(t *testing.T) {
	router := newTestRouter(t, successHandler)

	declared, contentType := buildMultipartBody(t, "text/plain", []byte("hello"))
	resp := doRequest(t, router, http.MethodPut, "/session/images/first", declared, contentType, "user-123")
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d for declared text, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}

	sniffed, contentType := buildMultipartBody(t, "", []byte("hello"))
	resp = doRequest(t, router, http.MethodPut, "/session/images/first", sniffed, contentType, "user-123")
	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d for sniffed text, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestSelectRejectsUnknownSlot(t *testing.T) {
	router := newTestRouter(t, successHandler)
	body, contentType := buildMultipartBody(t, "image/png", pngPayload)

	resp := doRequest(t, router, http.MethodPut, "/session/images/third", body, contentType, "user-123")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestSessionRequiresToken(t *testing.T) {
	router := newTestRouter(t, successHandler)

	resp := doRequest(t, router, http.MethodGet, "/session", nil, "", "")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}

	health := doRequest(t, router, http.MethodGet, "/health", nil, "", "")
	if health.Code != http.StatusOK {
		t.Fatalf("expected public health check, got %d", health.Code)
	}
}

func TestSubmitBeforeSelectionConflicts(t *testing.T) {
	router := newTestRouter(t, successHandler)

	resp := doRequest(t, router, http.MethodPost, "/session/submit", nil, "", "user-123")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, resp.Code)
	}
	action := doRequest(t, router, http.MethodPost, "/session/action", nil, "", "user-123")
	if action.Code != http.StatusConflict {
		t.Fatalf("expected disabled action to conflict, got %d", action.Code)
	}
}

func TestComparisonFlow(t *testing.T) {
	router := newTestRouter(t, successHandler)
	const owner = "user-123"

	for _, slot := range []string{"first", "second"} {
		body, contentType := buildMultipartBody(t, "image/png", pngPayload)
		resp := doRequest(t, router, http.MethodPut, "/session/images/"+slot, body, contentType, owner)
		if resp.Code != http.StatusOK {
			t.Fatalf("select %s: expected 200, got %d: %s", slot, resp.Code, resp.Body.String())
		}
	}

	var ready usecase.SessionView
	decodeBody(t, doRequest(t, router, http.MethodGet, "/session", nil, "", owner), &ready)
	if ready.State != session.StateReadyToSubmit || !ready.Action.Enabled || ready.Action.Kind != session.ActionSubmit {
		t.Fatalf("expected ready session, got %+v", ready)
	}

	resp := doRequest(t, router, http.MethodPost, "/session/action", nil, "", owner)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var submitted struct {
		Performed string              `json:"performed"`
		AttemptID string              `json:"attempt_id"`
		Session   usecase.SessionView `json:"session"`
	}
	decodeBody(t, resp, &submitted)
	if submitted.Performed != "submit" || submitted.AttemptID == "" {
		t.Fatalf("unexpected submit response: %+v", submitted)
	}
	result := submitted.Session.Result
	if submitted.Session.State != session.StateSucceeded || result == nil || result.SimilarityPercent != "87.65%" {
		t.Fatalf("unexpected session after submit: %+v", submitted.Session)
	}
	if result.BoundingBoxes == nil || result.BoundingBoxes[0].Description != "Image 1 with bounding box" {
		t.Fatalf("unexpected bounding boxes: %+v", result.BoundingBoxes)
	}

	history := doRequest(t, router, http.MethodGet, "/history/"+submitted.AttemptID, nil, "", owner)
	if history.Code != http.StatusOK {
		t.Fatalf("expected recorded attempt, got %d", history.Code)
	}
	if other := doRequest(t, router, http.MethodGet, "/history/"+submitted.AttemptID, nil, "", "someone-else"); other.Code != http.StatusNotFound {
		t.Fatalf("expected attempt hidden from other owners, got %d", other.Code)
	}

	var metrics usecase.MetricsSummary
	decodeBody(t, doRequest(t, router, http.MethodGet, "/metrics", nil, "", owner), &metrics)
	if metrics.TotalAttempts != 1 || metrics.SuccessRate != 1 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}

	resp = doRequest(t, router, http.MethodPost, "/session/action", nil, "", owner)
	var reset struct {
		Performed string              `json:"performed"`
		Session   usecase.SessionView `json:"session"`
	}
	decodeBody(t, resp, &reset)
	if reset.Performed != "reset" || reset.Session.State != session.StateEmpty || reset.Session.First != nil {
		t.Fatalf("expected reset to empty session, got %+v", reset)
	}
}

func TestHistoryRejectsMalformedID(t *testing.T) {
	router := newTestRouter(t, successHandler)
	resp := doRequest(t, router, http.MethodGet, "/history/not-a-uuid", nil, "", "user-123")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body *bytes.Buffer, contentType, subject string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+buildTestToken(t, subject))
	}

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if err := json.Unmarshal(resp.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func buildMultipartBody(t *testing.T, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="upload"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
