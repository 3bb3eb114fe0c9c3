package tracking

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/roomer-home/roomer/pkg/mqtt"
)

// Publisher emits person snapshots on the tracker's outbound topic
type Publisher struct {
	mqttClient mqtt.Client
	logger     *slog.Logger
}

// NewPublisher creates a snapshot publisher
func NewPublisher(mqttClient mqtt.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		mqttClient: mqttClient,
		logger:     logger,
	}
}

// Publish sends one snapshot, retained so late subscribers see the last
// committed state
func (p *Publisher) Publish(snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for %s: %w", snap.PersonID, err)
	}

	topic := mqtt.PersonTopic(snap.PersonID)
	if err := p.mqttClient.Publish(topic, 0, true, payload); err != nil {
		return fmt.Errorf("failed to publish snapshot for %s: %w", snap.PersonID, err)
	}

	p.logger.Debug("Published person snapshot",
		"person", snap.PersonID,
		"room", snap.Room,
		"room0", snap.Room0,
		"activeDevice", snap.ActiveDevice)
	return nil
}
