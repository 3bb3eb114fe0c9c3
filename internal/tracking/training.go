package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/roomer-home/roomer/pkg/postgres"
)

// TrainingSample is one captured classifier input with its ground-truth
// room label, used to retrain the model offline.
type TrainingSample struct {
	ID           uuid.UUID
	PersonID     string
	ActiveDevice string
	Features     pgvector.Vector
	Label        string
	Predicted    string
	Score        float64
	CapturedAt   time.Time
}

// TrainingCapture persists labeled feature vectors while a training
// session is active. The label arrives out of band (the person announces
// which room they are actually in); samples observed with no label set
// are dropped.
type TrainingCapture struct {
	db       postgres.Client
	personID string
	logger   *slog.Logger

	mu    sync.RWMutex
	label string
}

// NewTrainingCapture creates a capture sink for one person's samples
func NewTrainingCapture(db postgres.Client, personID string, logger *slog.Logger) *TrainingCapture {
	return &TrainingCapture{
		db:       db,
		personID: personID,
		logger:   logger,
	}
}

// SetLabel updates the ground-truth room label. An empty label pauses
// capture.
func (t *TrainingCapture) SetLabel(label string) {
	t.mu.Lock()
	t.label = label
	t.mu.Unlock()
	if label == "" {
		t.logger.Info("Training capture paused", "person", t.personID)
	} else {
		t.logger.Info("Training label set", "person", t.personID, "label", label)
	}
}

// Label returns the current ground-truth label
func (t *TrainingCapture) Label() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.label
}

// HandleSample persists one feature sample under the current label. Wired
// to the person tracker's sample callback.
func (t *TrainingCapture) HandleSample(ctx context.Context, sample FeatureSample) {
	if sample.PersonID != t.personID {
		return
	}
	label := t.Label()
	if label == "" {
		return
	}

	features := make([]float32, len(sample.Features))
	for i, v := range sample.Features {
		features[i] = float32(v)
	}

	record := TrainingSample{
		ID:           uuid.New(),
		PersonID:     sample.PersonID,
		ActiveDevice: sample.ActiveDevice,
		Features:     pgvector.NewVector(features),
		Label:        label,
		Predicted:    sample.Room0,
		Score:        sample.Score,
		CapturedAt:   sample.Timestamp,
	}

	if err := t.insert(ctx, record); err != nil {
		t.logger.Error("Failed to store training sample",
			"person", t.personID, "label", label, "error", err)
	}
}

func (t *TrainingCapture) insert(ctx context.Context, sample TrainingSample) error {
	query := `
		INSERT INTO training_samples (
			id, person_id, active_device, features, label,
			predicted_room, predicted_score, captured_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := t.db.Exec(ctx, query,
		sample.ID,
		sample.PersonID,
		sample.ActiveDevice,
		sample.Features,
		sample.Label,
		sample.Predicted,
		sample.Score,
		sample.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert training sample: %w", err)
	}
	return nil
}

// CountSamples reports how many samples exist for a label, for session
// progress logging
func (t *TrainingCapture) CountSamples(ctx context.Context, label string) (int64, error) {
	var count int64
	row := t.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM training_samples WHERE person_id = $1 AND label = $2`,
		t.personID, label)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count training samples: %w", err)
	}
	return count, nil
}
