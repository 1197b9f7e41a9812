package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/example/face-compare/internal/prediction"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) prediction.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewPredictionClient(Options{Origin: server.URL}, zap.NewNop())
}

func TestPredictSendsBothImagesAsMultipart(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		for field, want := range map[string]string{"image1": "first-bytes", "image2": "second-bytes"} {
			file, header, err := r.FormFile(field)
			if err != nil {
				t.Errorf("missing %s: %v", field, err)
				continue
			}
			data, _ := io.ReadAll(file)
			file.Close()
			if string(data) != want {
				t.Errorf("%s: expected %q, got %q", field, want, data)
			}
			if header.Header.Get("Content-Type") != "image/png" {
				t.Errorf("%s: unexpected content type %q", field, header.Header.Get("Content-Type"))
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"similarity_score": 0.92, "bounding_boxes": null, "cropped_faces": null}`))
	})

	result, err := client.Predict(context.Background(),
		prediction.Image{Filename: "a.png", ContentType: "image/png", Data: []byte("first-bytes")},
		prediction.Image{Filename: "b.png", ContentType: "image/png", Data: []byte("second-bytes")},
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result.SimilarityScore != 0.92 {
		t.Fatalf("unexpected score: %v", result.SimilarityScore)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one request, got %d", atomic.LoadInt32(&calls))
	}
}

func TestPredictReturnsTransportErrorOnServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Predict(context.Background(), prediction.Image{Data: []byte("a")}, prediction.Image{Data: []byte("b")})
	var transport *prediction.TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected TransportError, got %T (%v)", err, err)
	}
	if transport.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", transport.StatusCode)
	}
}

func TestPredictReturnsTransportErrorWhenUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	origin := server.URL
	server.Close()

	client := NewPredictionClient(Options{Origin: origin}, zap.NewNop())
	_, err := client.Predict(context.Background(), prediction.Image{Data: []byte("a")}, prediction.Image{Data: []byte("b")})
	var transport *prediction.TransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected TransportError, got %T (%v)", err, err)
	}
}

func TestPredictReturnsStructuredError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status_code": 400, "detail": {"message": "Gambar tidak cocok", "similarity_score": 0.31}}`))
	})

	_, err := client.Predict(context.Background(), prediction.Image{Data: []byte("a")}, prediction.Image{Data: []byte("b")})
	var structured *prediction.StructuredError
	if !errors.As(err, &structured) {
		t.Fatalf("expected StructuredError, got %T (%v)", err, err)
	}
	if structured.Message != "Gambar tidak cocok" {
		t.Fatalf("unexpected message: %s", structured.Message)
	}
}

func TestPing(t *testing.T) {
	healthy := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Hello": "World"}`))
	})
	if err := healthy.Ping(context.Background()); err != nil {
		t.Fatalf("expected healthy ping, got %v", err)
	}

	failing := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if err := failing.Ping(context.Background()); err == nil {
		t.Fatal("expected ping failure")
	}
}
