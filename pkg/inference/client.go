package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Classifier is the interface for the room classifier oracle.
// Implementations must be safe for concurrent use; the tracker never
// assumes single-flight access.
type Classifier interface {
	// Predict sends a feature vector and returns per-room probabilities
	Predict(ctx context.Context, features []float64) (*Prediction, error)

	// Metadata returns the room and sensor ordering the model was trained with
	Metadata(ctx context.Context) (*ModelMetadata, error)

	// Health checks if the classifier service is available
	Health(ctx context.Context) error
}

// Prediction holds per-room probabilities in model room order
type Prediction struct {
	Rooms         []string  `json:"rooms"`
	Probabilities []float64 `json:"probabilities"`
}

// Top returns the highest-probability room and its score.
// Returns ok=false for an empty prediction.
func (p *Prediction) Top() (room string, score float64, ok bool) {
	if len(p.Rooms) == 0 || len(p.Rooms) != len(p.Probabilities) {
		return "", 0, false
	}
	best := 0
	for i := range p.Probabilities {
		if p.Probabilities[i] > p.Probabilities[best] {
			best = i
		}
	}
	return p.Rooms[best], p.Probabilities[best], true
}

// ModelMetadata describes the trained model's fixed orderings
type ModelMetadata struct {
	Rooms       []string `json:"rooms"`
	SensorOrder []string `json:"sensor_order"`
	NumFeatures int      `json:"num_features"`
}

// predictRequest is the wire shape of a prediction call
type predictRequest struct {
	Features []float64 `json:"features"`
}

// httpClassifier implements Classifier against the model-serving HTTP API
type httpClassifier struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClassifier creates a classifier client for the given service URL
func NewHTTPClassifier(baseURL string, logger *slog.Logger) Classifier {
	return &httpClassifier{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Predict sends a feature vector to the classifier service
func (c *httpClassifier) Predict(ctx context.Context, features []float64) (*Prediction, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("feature vector is empty")
	}

	reqBody, err := json.Marshal(predictRequest{Features: features})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prediction request: %w", err)
	}

	c.logger.Debug("Classifier request", "features", len(features))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/predict", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, string(body))
	}

	var prediction Prediction
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return nil, fmt.Errorf("failed to decode prediction: %w", err)
	}

	if len(prediction.Rooms) != len(prediction.Probabilities) {
		return nil, fmt.Errorf("malformed prediction: %d rooms, %d probabilities",
			len(prediction.Rooms), len(prediction.Probabilities))
	}

	return &prediction, nil
}

// Metadata fetches the model's room list and sensor ordering
func (c *httpClassifier) Metadata(ctx context.Context) (*ModelMetadata, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/metadata", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, string(body))
	}

	var meta ModelMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode model metadata: %w", err)
	}

	if len(meta.Rooms) == 0 {
		return nil, fmt.Errorf("model metadata lists no rooms")
	}
	if len(meta.SensorOrder) == 0 {
		return nil, fmt.Errorf("model metadata lists no sensors")
	}

	return &meta, nil
}

// Health checks the classifier service
func (c *httpClassifier) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("classifier unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("classifier unhealthy: status %d", resp.StatusCode)
	}

	return nil
}
