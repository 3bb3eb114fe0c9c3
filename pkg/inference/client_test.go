package inference

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPredict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" || r.Method != http.MethodPost {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var req struct {
			Features []float64 `json:"features"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if len(req.Features) != 4 {
			t.Errorf("Expected 4 features, got %d", len(req.Features))
		}

		json.NewEncoder(w).Encode(Prediction{
			Rooms:         []string{"kitchen", "hall"},
			Probabilities: []float64{0.92, 0.08},
		})
	}))
	defer server.Close()

	classifier := NewHTTPClassifier(server.URL, testLogger())
	pred, err := classifier.Predict(context.Background(), []float64{1.5, 1, 10, 0})
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	room, score, ok := pred.Top()
	if !ok || room != "kitchen" || score != 0.92 {
		t.Errorf("Top() = (%q, %v, %v), want (kitchen, 0.92, true)", room, score, ok)
	}
}

func TestPredictRejectsEmptyFeatures(t *testing.T) {
	classifier := NewHTTPClassifier("http://localhost:0", testLogger())
	if _, err := classifier.Predict(context.Background(), nil); err == nil {
		t.Error("Expected error for empty feature vector")
	}
}

func TestPredictRejectsMismatchedLengths(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Prediction{
			Rooms:         []string{"kitchen", "hall"},
			Probabilities: []float64{0.92},
		})
	}))
	defer server.Close()

	classifier := NewHTTPClassifier(server.URL, testLogger())
	if _, err := classifier.Predict(context.Background(), []float64{1}); err == nil {
		t.Error("Expected error for mismatched rooms and probabilities")
	}
}

func TestPredictSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	classifier := NewHTTPClassifier(server.URL, testLogger())
	if _, err := classifier.Predict(context.Background(), []float64{1}); err == nil {
		t.Error("Expected error for non-200 response")
	}
}

func TestMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metadata" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ModelMetadata{
			Rooms:       []string{"kitchen", "hall"},
			SensorOrder: []string{"kitchen", "hall", "bedroom"},
			NumFeatures: 6,
		})
	}))
	defer server.Close()

	classifier := NewHTTPClassifier(server.URL, testLogger())
	meta, err := classifier.Metadata(context.Background())
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if len(meta.Rooms) != 2 || len(meta.SensorOrder) != 3 {
		t.Errorf("Unexpected metadata: %+v", meta)
	}
}

func TestMetadataRejectsEmptyModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ModelMetadata{})
	}))
	defer server.Close()

	classifier := NewHTTPClassifier(server.URL, testLogger())
	if _, err := classifier.Metadata(context.Background()); err == nil {
		t.Error("Expected error for metadata without rooms")
	}
}

func TestHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	classifier := NewHTTPClassifier(server.URL, testLogger())
	if err := classifier.Health(context.Background()); err != nil {
		t.Errorf("Health failed: %v", err)
	}
}

func TestTopEmptyPrediction(t *testing.T) {
	var p Prediction
	if _, _, ok := p.Top(); ok {
		t.Error("Top on an empty prediction must report ok=false")
	}
}
