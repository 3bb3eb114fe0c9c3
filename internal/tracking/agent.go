package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roomer-home/roomer/internal/house"
	"github.com/roomer-home/roomer/internal/transition"
	"github.com/roomer-home/roomer/pkg/config"
	"github.com/roomer-home/roomer/pkg/inference"
	"github.com/roomer-home/roomer/pkg/mqtt"
	"github.com/roomer-home/roomer/pkg/postgres"
	"github.com/roomer-home/roomer/pkg/redis"
)

const (
	// personTickInterval drives the per-person watchdog duties
	personTickInterval = 1500 * time.Millisecond

	// stalenessCheckInterval drives the barrier staleness sweep
	stalenessCheckInterval = 30 * time.Second
)

// deviceReading is the ingress payload on a device room channel
type deviceReading struct {
	Raw      *float64 `json:"raw"`
	Distance *float64 `json:"distance"`
}

// Agent runs the room tracker: it fuses device telemetry into per-person
// room estimates, tracks barrier state, and publishes committed changes.
type Agent struct {
	mqtt       mqtt.Client
	redis      redis.Client
	postgres   postgres.Client
	classifier inference.Classifier
	cfg        *config.Config
	houseCfg   *config.HouseConfig
	logger     *slog.Logger

	houseTracker *house.Tracker
	coordinator  *transition.Coordinator
	publisher    *Publisher
	storage      *Storage

	personsMux sync.RWMutex
	persons    map[string]*PersonTracker
	training   *TrainingCapture

	// publishMux serializes snapshot publishes so a retained topic never
	// ends up holding an older snapshot than the last one captured
	publishMux    sync.Mutex
	lastRooms     map[string]string
	lastPublished map[string]time.Time

	topics []string

	personTicker *time.Ticker
	staleTicker  *time.Ticker
	stopChan     chan struct{}
}

// NewAgent creates a tracker agent with the given dependencies. The
// Postgres client may be nil when training capture is disabled.
func NewAgent(mqttClient mqtt.Client, redisClient redis.Client, postgresClient postgres.Client, classifier inference.Classifier, cfg *config.Config, houseCfg *config.HouseConfig, logger *slog.Logger) *Agent {
	houseTracker := house.NewTracker(houseCfg.Doors, houseCfg.MotionSensors, logger)
	coordinator := transition.NewCoordinator(houseCfg, houseTracker, logger)

	return &Agent{
		mqtt:          mqttClient,
		redis:         redisClient,
		postgres:      postgresClient,
		classifier:    classifier,
		cfg:           cfg,
		houseCfg:      houseCfg,
		logger:        logger,
		houseTracker:  houseTracker,
		coordinator:   coordinator,
		publisher:     NewPublisher(mqttClient, logger),
		storage:       NewStorage(redisClient, logger),
		persons:       make(map[string]*PersonTracker),
		lastRooms:     make(map[string]string),
		lastPublished: make(map[string]time.Time),
		stopChan:      make(chan struct{}),
	}
}

// Start connects the agent's dependencies, builds the per-person trackers
// from model metadata, subscribes to telemetry, and blocks until the
// context is cancelled.
func (a *Agent) Start(ctx context.Context) error {
	a.logger.Info("Starting tracker agent",
		"service_name", a.cfg.ServiceName,
		"mqtt_broker", a.cfg.MQTTAddress(),
		"inference_endpoint", a.cfg.InferenceEndpoint)

	// Connect to MQTT broker
	if err := a.mqtt.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	// Verify Redis connection
	if err := a.redis.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	a.seedLastRooms(ctx)

	// Verify classifier and fetch the model's room and sensor ordering
	meta, err := a.classifier.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("failed to load model metadata: %w", err)
	}
	a.logger.Info("Model metadata loaded",
		"rooms", len(meta.Rooms),
		"sensors", len(meta.SensorOrder))

	a.buildPersons(meta)
	a.wireEvents()

	if err := a.subscribe(); err != nil {
		return err
	}

	if a.cfg.TrainingEnabled {
		if err := a.startTraining(ctx); err != nil {
			return err
		}
	}

	a.personTicker = time.NewTicker(personTickInterval)
	a.staleTicker = time.NewTicker(stalenessCheckInterval)
	go a.runPeriodic(ctx)

	a.logger.Info("Tracker agent started",
		"persons", len(a.persons),
		"barriers", len(a.houseCfg.Doors)+len(a.houseCfg.MotionSensors))

	// Block until context is cancelled
	<-ctx.Done()
	a.logger.Info("Tracker agent stopping")

	return nil
}

// Stop gracefully stops the tracker agent
func (a *Agent) Stop() error {
	a.logger.Info("Stopping tracker agent")

	if a.personTicker != nil {
		a.personTicker.Stop()
	}
	if a.staleTicker != nil {
		a.staleTicker.Stop()
	}
	close(a.stopChan)

	if len(a.topics) > 0 {
		if err := a.mqtt.Unsubscribe(a.topics...); err != nil {
			a.logger.Warn("Failed to unsubscribe from MQTT topics", "error", err)
		}
	}
	a.mqtt.Disconnect()

	if err := a.redis.Close(); err != nil {
		a.logger.Error("Error closing Redis connection", "error", err)
		return err
	}

	if a.postgres != nil {
		if err := a.postgres.Disconnect(); err != nil {
			a.logger.Error("Error closing Postgres connection", "error", err)
			return err
		}
	}

	a.logger.Info("Tracker agent stopped")
	return nil
}

// buildPersons creates one tracker per configured person, with the
// model's sensor ordering driving the feature layout
func (a *Agent) buildPersons(meta *inference.ModelMetadata) {
	useDistance := a.houseCfg.Tracking != "raw"

	a.personsMux.Lock()
	defer a.personsMux.Unlock()
	for _, person := range a.houseCfg.People {
		tracker := NewPersonTracker(person.ID, person.Devices, meta.SensorOrder, useDistance,
			a.cfg.ConfidenceThreshold, a.classifier, a.coordinator, a.logger)

		tracker.OnUpdate(a.handleSnapshot)
		a.persons[person.ID] = tracker

		a.logger.Info("Tracking person",
			"person", person.ID,
			"devices", strings.Join(person.Devices, ", "))
	}
}

// wireEvents connects the house tracker, coordinator, and person trackers
func (a *Agent) wireEvents() {
	a.houseTracker.OnChange(a.coordinator.HandleBarrierChange)
	a.houseTracker.OnChange(a.handleBarrierChange)
	a.houseTracker.OnStale(a.handleBarrierStale)

	a.coordinator.OnStabilityReset(func(personID string) {
		if p := a.person(personID); p != nil {
			p.ResetStability()
		}
	})
	a.coordinator.OnPersonLocked(func(e transition.LockEvent) {
		a.republish(e.PersonID)
	})
	a.coordinator.OnPersonUnlocked(func(e transition.UnlockEvent) {
		a.republish(e.PersonID)
	})
}

// subscribe sets up the MQTT ingress: one subscription per tracking device
// and one per barrier sensor node. Subscribed topics are remembered so
// Stop can unsubscribe them before disconnecting.
func (a *Agent) subscribe() error {
	for _, person := range a.houseCfg.People {
		personID := person.ID
		for _, deviceID := range person.Devices {
			topic := mqtt.DeviceTopic(deviceID)
			handler := func(msg mqtt.Message) {
				a.handleDeviceMessage(personID, msg)
			}
			if err := a.mqtt.Subscribe(topic, 0, handler); err != nil {
				return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
			}
			a.topics = append(a.topics, topic)
		}
	}

	for _, state := range a.houseTracker.AllBarrierStates() {
		topic := mqtt.BarrierTopic(a.houseCfg.HomieDeviceID, state.ID)
		if err := a.mqtt.Subscribe(topic, 0, a.handleBarrierMessage); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		a.topics = append(a.topics, topic)
	}

	return nil
}

// startTraining wires the capture sink for the configured person and
// subscribes to the ground-truth label topic
func (a *Agent) startTraining(ctx context.Context) error {
	if a.postgres == nil {
		return fmt.Errorf("training capture enabled but no Postgres client configured")
	}
	if err := a.postgres.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping Postgres: %w", err)
	}

	person := a.person(a.cfg.TrainingPersonID)
	if person == nil {
		return fmt.Errorf("training person %q is not a configured person", a.cfg.TrainingPersonID)
	}

	a.training = NewTrainingCapture(a.postgres, a.cfg.TrainingPersonID, a.logger)
	person.OnSample(func(sample FeatureSample) {
		a.training.HandleSample(context.Background(), sample)
	})

	topic := mqtt.TrainingTopic(a.cfg.TrainingPersonID)
	if err := a.mqtt.Subscribe(topic, 0, a.handleTrainingLabel); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	a.topics = append(a.topics, topic)

	a.logger.Info("Training capture enabled", "person", a.cfg.TrainingPersonID)
	return nil
}

// runPeriodic drives the person watchdog ticks and barrier staleness sweeps
func (a *Agent) runPeriodic(ctx context.Context) {
	for {
		select {
		case <-a.personTicker.C:
			for _, p := range a.allPersons() {
				p.Tick(ctx)
			}
		case <-a.staleTicker.C:
			a.houseTracker.CheckStaleness()
		case <-a.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleDeviceMessage processes one proximity reading from a tracking device
func (a *Agent) handleDeviceMessage(personID string, msg mqtt.Message) {
	deviceID, room, ok := mqtt.ParseDeviceTopic(msg.Topic())
	if !ok {
		return
	}

	var reading deviceReading
	if err := json.Unmarshal(msg.Payload(), &reading); err != nil {
		a.logger.Debug("Dropping malformed device payload",
			"topic", msg.Topic(), "error", err)
		return
	}

	if p := a.person(personID); p != nil {
		p.HandleReading(context.Background(), deviceID, room, reading.Raw, reading.Distance)
	}
}

// handleBarrierMessage processes one Homie barrier sensor update
func (a *Agent) handleBarrierMessage(msg mqtt.Message) {
	nodeID, property, ok := mqtt.ParseBarrierTopic(msg.Topic())
	if !ok {
		return
	}

	var kind house.BarrierKind
	switch property {
	case mqtt.PropertyDoorContact:
		kind = house.BarrierDoor
	case mqtt.PropertyMotion:
		kind = house.BarrierMotion
	default:
		return
	}

	value, ok := house.ValueFromHomie(kind, string(msg.Payload()))
	if !ok {
		a.logger.Debug("Dropping malformed barrier payload",
			"topic", msg.Topic(), "payload", string(msg.Payload()))
		return
	}

	a.houseTracker.ApplyEvent(nodeID, kind, value, time.Now())
}

// handleTrainingLabel processes a ground-truth room label. An empty
// payload pauses capture.
func (a *Agent) handleTrainingLabel(msg mqtt.Message) {
	if a.training == nil {
		return
	}
	label := strings.TrimSpace(string(msg.Payload()))
	a.training.SetLabel(label)

	if label != "" {
		count, err := a.training.CountSamples(context.Background(), label)
		if err != nil {
			a.logger.Warn("Failed to count training samples", "label", label, "error", err)
			return
		}
		a.logger.Info("Training session progress", "label", label, "samples", count)
	}
}

// handleSnapshot publishes a changed person snapshot and mirrors it to
// Redis. Publishes are serialized per agent and a snapshot older than the
// last published one for the same person is dropped, so the retained topic
// always ends up holding the freshest state even when an update and an
// async lock-event republish race.
func (a *Agent) handleSnapshot(snap Snapshot) {
	a.publishMux.Lock()
	defer a.publishMux.Unlock()

	if last, ok := a.lastPublished[snap.PersonID]; ok && snap.Timestamp.Before(last) {
		return
	}
	a.lastPublished[snap.PersonID] = snap.Timestamp

	if err := a.publisher.Publish(snap); err != nil {
		a.logger.Error("Failed to publish snapshot", "person", snap.PersonID, "error", err)
	}

	ctx := context.Background()
	if err := a.storage.StoreSnapshot(ctx, snap); err != nil {
		a.logger.Error("Failed to mirror snapshot", "person", snap.PersonID, "error", err)
	}

	committed := a.lastRooms[snap.PersonID] != snap.Room
	a.lastRooms[snap.PersonID] = snap.Room

	if committed {
		entry := RoomEntry{Room: snap.Room, Timestamp: snap.Timestamp}
		if err := a.storage.AppendRoomHistory(ctx, snap.PersonID, entry); err != nil {
			a.logger.Error("Failed to mirror room history", "person", snap.PersonID, "error", err)
		}
	}
}

// seedLastRooms primes the committed-room change detection from the Redis
// mirror so a restart does not append a duplicate history entry
func (a *Agent) seedLastRooms(ctx context.Context) {
	a.publishMux.Lock()
	defer a.publishMux.Unlock()
	for _, person := range a.houseCfg.People {
		room, err := a.storage.LastCommittedRoom(ctx, person.ID)
		if err != nil {
			a.logger.Warn("Failed to load last committed room", "person", person.ID, "error", err)
			continue
		}
		if room != "" {
			a.lastRooms[person.ID] = room
		}
	}
}

// handleBarrierChange mirrors barrier changes to Redis
func (a *Agent) handleBarrierChange(e house.ChangeEvent) {
	ctx := context.Background()
	if state, ok := a.houseTracker.BarrierState(e.BarrierID); ok {
		if err := a.storage.StoreBarrierState(ctx, state); err != nil {
			a.logger.Error("Failed to mirror barrier state", "barrier", e.BarrierID, "error", err)
		}
	}
	if err := a.storage.AppendBarrierHistory(ctx, e); err != nil {
		a.logger.Error("Failed to mirror barrier history", "barrier", e.BarrierID, "error", err)
	}
}

// handleBarrierStale mirrors staleness flips to Redis
func (a *Agent) handleBarrierStale(e house.StaleEvent) {
	if e.Stale {
		a.logger.Warn("Barrier sensor went stale",
			"barrier", e.BarrierID, "age", e.Age.Round(time.Minute))
	} else {
		a.logger.Info("Barrier sensor recovered", "barrier", e.BarrierID)
	}
	if state, ok := a.houseTracker.BarrierState(e.BarrierID); ok {
		if err := a.storage.StoreBarrierState(context.Background(), state); err != nil {
			a.logger.Error("Failed to mirror barrier state", "barrier", e.BarrierID, "error", err)
		}
	}
}

// republish pushes a person's current snapshot after lock state changed
// outside a classification. Runs asynchronously because lock events can
// fire from inside a commit evaluation that still holds the person mutex;
// handleSnapshot orders the publishes by snapshot timestamp.
func (a *Agent) republish(personID string) {
	p := a.person(personID)
	if p == nil {
		return
	}
	go func() {
		a.handleSnapshot(p.Snapshot())
	}()
}

func (a *Agent) person(id string) *PersonTracker {
	a.personsMux.RLock()
	defer a.personsMux.RUnlock()
	return a.persons[id]
}

func (a *Agent) allPersons() []*PersonTracker {
	a.personsMux.RLock()
	defer a.personsMux.RUnlock()
	out := make([]*PersonTracker, 0, len(a.persons))
	for _, p := range a.persons {
		out = append(out, p)
	}
	return out
}

// HouseTracker exposes the live barrier state for external consumers
func (a *Agent) HouseTracker() *house.Tracker {
	return a.houseTracker
}

// Coordinator exposes the transition policy engine for external consumers
func (a *Agent) Coordinator() *transition.Coordinator {
	return a.coordinator
}
