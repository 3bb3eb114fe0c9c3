package tracking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roomer-home/roomer/internal/transition"
	"github.com/roomer-home/roomer/pkg/inference"
)

const (
	// inferenceIdleThreshold triggers a watchdog inference run when no
	// reading has driven one recently, so staleness decay still progresses
	inferenceIdleThreshold = 5 * time.Second

	// absenceThreshold resets a person to unknown when every device has
	// been silent this long
	absenceThreshold = 120 * time.Second

	// roomHistoryRetention bounds the committed-room history ring
	roomHistoryRetention = 24 * time.Hour
)

// RoomEntry is one committed-room change in a person's history ring
type RoomEntry struct {
	Room      string    `json:"room"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the published view of a person's estimate
type Snapshot struct {
	PersonID       string      `json:"personId"`
	Room           string      `json:"room"`
	Room0          string      `json:"room0"`
	Room5          string      `json:"room5"`
	Room15         string      `json:"room15"`
	Room120        string      `json:"room120"`
	ActiveDevice   string      `json:"activeDevice"`
	SuperStable    bool        `json:"superStable"`
	Blocked        bool        `json:"blockedTransition"`
	LockedBarriers []string    `json:"lockedBarriers"`
	RoomHistory    []RoomEntry `json:"roomHistory"`
	Timestamp      time.Time   `json:"timestamp"`
}

// FeatureSample surfaces the classifier input alongside its outcome, for
// training capture
type FeatureSample struct {
	PersonID     string
	ActiveDevice string
	Features     []float64
	Room0        string
	Score        float64
	Timestamp    time.Time
}

// PersonTracker owns one person's sensor buffers and room estimate. All
// state behind the mutex; classifier calls run outside it and their
// results are applied through a generation check so a superseded inference
// never lands out of order.
type PersonTracker struct {
	id        string
	threshold float64

	mu         sync.Mutex
	fusion     *Fusion
	estimate   Estimate
	history    []RoomEntry
	lastRun    time.Time
	generation uint64
	applied    uint64

	classifier  inference.Classifier
	coordinator *transition.Coordinator
	logger      *slog.Logger

	onUpdate []func(Snapshot)
	onSample []func(FeatureSample)

	now func() time.Time
}

// NewPersonTracker wires a tracker for one configured person
func NewPersonTracker(id string, deviceIDs, sensorOrder []string, useDistance bool, threshold float64, classifier inference.Classifier, coordinator *transition.Coordinator, logger *slog.Logger) *PersonTracker {
	now := time.Now
	return &PersonTracker{
		id:          id,
		threshold:   threshold,
		fusion:      NewFusion(deviceIDs, sensorOrder, useDistance, now()),
		estimate:    NewEstimate(now()),
		classifier:  classifier,
		coordinator: coordinator,
		logger:      logger.With("person", id),
		now:         now,
	}
}

// OnUpdate registers a callback fired on every published snapshot change
func (p *PersonTracker) OnUpdate(fn func(Snapshot)) {
	p.onUpdate = append(p.onUpdate, fn)
}

// OnSample registers a callback fired with each classifier input/outcome
func (p *PersonTracker) OnSample(fn func(FeatureSample)) {
	p.onSample = append(p.onSample, fn)
}

// ID returns the person identifier
func (p *PersonTracker) ID() string {
	return p.id
}

// HandleReading folds one telemetry reading into the person's buffers and
// drives an inference run. Unknown devices and rooms are dropped silently.
func (p *PersonTracker) HandleReading(ctx context.Context, deviceID, room string, raw, distance *float64) {
	p.mu.Lock()
	now := p.now()
	if !p.fusion.Apply(deviceID, room, raw, distance, now) {
		p.mu.Unlock()
		return
	}
	switched := p.fusion.UpdateActive(now)
	var snap Snapshot
	if switched {
		p.logger.Info("Active device switched", "device", p.fusion.ActiveDevice())
		snap = p.snapshotLocked(now)
	}
	p.mu.Unlock()

	if switched {
		p.emitUpdate(snap)
	}
	p.runInference(ctx)
}

// Tick drives the periodic duties: active-device re-evaluation, the idle
// inference watchdog, and the absence reset.
func (p *PersonTracker) Tick(ctx context.Context) {
	p.mu.Lock()
	now := p.now()

	switched := p.fusion.UpdateActive(now)
	var snap Snapshot
	if switched {
		p.logger.Info("Active device switched", "device", p.fusion.ActiveDevice())
		snap = p.snapshotLocked(now)
	}

	lastSeen := p.fusion.LastSeen()
	absent := !lastSeen.IsZero() && now.Sub(lastSeen) >= absenceThreshold
	reset := false
	if absent && !p.estimate.AtUnknown() {
		p.logger.Info("All devices silent, resetting to unknown",
			"silentFor", now.Sub(lastSeen).Round(time.Second))
		p.estimate.ResetUnknown(now)
		p.history = appendRoomEntry(p.history, transition.UnknownRoom, now)
		reset = true
	}

	idle := now.Sub(p.lastRun) > inferenceIdleThreshold
	p.mu.Unlock()

	if reset {
		p.coordinator.ClearLocks(p.id)
		p.emitUpdate(p.Snapshot())
		return
	}
	if switched {
		p.emitUpdate(snap)
	}
	if idle {
		p.runInference(ctx)
	}
}

// ResetStability restarts the stability windows, invoked by the
// coordinator when an opening barrier releases one of this person's locks
func (p *PersonTracker) ResetStability() {
	p.mu.Lock()
	now := p.now()
	p.estimate.ResetStability(now)
	snap := p.snapshotLocked(now)
	p.mu.Unlock()

	p.logger.Info("Stability window reset")
	p.emitUpdate(snap)
}

// Snapshot returns the current published view
func (p *PersonTracker) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(p.now())
}

// runInference launches one classifier call. Each launch gets a
// generation number; a result is applied only if it is newer than the last
// applied one, so a slow response cannot overwrite a fresher estimate but
// the newest in-flight result always lands even when later launches are
// already underway.
func (p *PersonTracker) runInference(ctx context.Context) {
	p.mu.Lock()
	now := p.now()
	p.lastRun = now
	p.generation++
	gen := p.generation
	features := p.fusion.Features(now)
	device := p.fusion.ActiveDevice()
	p.mu.Unlock()

	go func() {
		pred, err := p.classifier.Predict(ctx, features)
		if err != nil {
			p.logger.Error("Classifier request failed", "error", err)
			return
		}
		room, score, ok := pred.Top()
		if !ok {
			p.logger.Error("Classifier returned empty prediction")
			return
		}
		p.applyClassification(gen, room, score, features, device)
	}()
}

func (p *PersonTracker) applyClassification(gen uint64, room string, score float64, features []float64, device string) {
	p.mu.Lock()
	if gen <= p.applied {
		p.mu.Unlock()
		return
	}
	p.applied = gen
	now := p.now()

	gate := func(from, to string, superStable bool) bool {
		return p.coordinator.CanTransition(p.id, from, to, superStable)
	}
	out := p.estimate.ApplyClassification(room, score, p.threshold, now, gate)

	if out.Committed {
		p.history = appendRoomEntry(p.history, p.estimate.Room, now)
	}
	p.history = pruneRoomHistory(p.history, now)

	superStable := p.estimate.Room0SuperStable
	committedRoom := p.estimate.Room

	var snap Snapshot
	if out.Updated {
		snap = p.snapshotLocked(now)
	}
	p.mu.Unlock()

	if superStable {
		p.coordinator.EvaluateCurrentRoomLock(p.id, committedRoom, true)
	}
	if out.Committed {
		p.logger.Info("Room committed", "room", committedRoom)
	}
	if out.Updated {
		p.emitUpdate(snap)
	}

	sample := FeatureSample{
		PersonID:     p.id,
		ActiveDevice: device,
		Features:     features,
		Room0:        room,
		Score:        score,
		Timestamp:    now,
	}
	for _, fn := range p.onSample {
		fn(sample)
	}
}

func (p *PersonTracker) snapshotLocked(now time.Time) Snapshot {
	history := make([]RoomEntry, len(p.history))
	copy(history, p.history)
	return Snapshot{
		PersonID:       p.id,
		Room:           p.estimate.Room,
		Room0:          p.estimate.Room0,
		Room5:          p.estimate.Room5,
		Room15:         p.estimate.Room15,
		Room120:        p.estimate.Room120,
		ActiveDevice:   p.fusion.ActiveDevice(),
		SuperStable:    p.estimate.Room0SuperStable,
		Blocked:        p.estimate.Blocked,
		LockedBarriers: p.coordinator.LockedBarriers(p.id),
		RoomHistory:    history,
		Timestamp:      now,
	}
}

func (p *PersonTracker) emitUpdate(snap Snapshot) {
	for _, fn := range p.onUpdate {
		fn(snap)
	}
}

func appendRoomEntry(history []RoomEntry, room string, now time.Time) []RoomEntry {
	if n := len(history); n > 0 && history[n-1].Room == room {
		return history
	}
	return append(history, RoomEntry{Room: room, Timestamp: now})
}

func pruneRoomHistory(history []RoomEntry, now time.Time) []RoomEntry {
	cutoff := now.Add(-roomHistoryRetention)
	i := 0
	for i < len(history) && history[i].Timestamp.Before(cutoff) {
		i++
	}
	if i == 0 {
		return history
	}
	return append(history[:0], history[i:]...)
}
