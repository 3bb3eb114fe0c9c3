package house

import (
	"log/slog"
	"sync"
	"time"

	"github.com/roomer-home/roomer/pkg/config"
)

// BarrierKind distinguishes door contacts from motion zones
type BarrierKind string

const (
	BarrierDoor   BarrierKind = "door"
	BarrierMotion BarrierKind = "motion"
)

// BarrierValue is the tri-state value of a barrier sensor
type BarrierValue string

const (
	ValueUnknown  BarrierValue = "unknown"
	ValueOpen     BarrierValue = "open"
	ValueClosed   BarrierValue = "closed"
	ValueActive   BarrierValue = "active"
	ValueInactive BarrierValue = "inactive"
)

// stalenessThreshold marks a barrier sensor dead after this much silence.
// Door and motion sensors only transmit on state change, so the threshold
// must be long enough that a quiet day never trips it.
const stalenessThreshold = 12 * time.Hour

// historyRetention bounds the per-barrier change history
const historyRetention = 24 * time.Hour

// BarrierState is a snapshot of one barrier sensor
type BarrierState struct {
	ID         string
	Name       string
	Kind       BarrierKind
	Value      BarrierValue
	LastUpdate time.Time // zero if never updated
	LastActive time.Time // motion zones only: last time value was active
	Stale      bool
}

// HistoryEntry records one barrier value change
type HistoryEntry struct {
	Value     BarrierValue
	Timestamp time.Time
}

// ChangeEvent is emitted when a barrier's resolved value actually changes
type ChangeEvent struct {
	BarrierID string
	Kind      BarrierKind
	Value     BarrierValue
	Previous  BarrierValue
	Timestamp time.Time
}

// StaleEvent is emitted when a barrier's staleness flag flips
type StaleEvent struct {
	BarrierID string
	Kind      BarrierKind
	Stale     bool
	Age       time.Duration
}

// Tracker is the single source of truth for door and motion-zone state.
// It is safe for concurrent use; all accessors return copies of internal
// state so callers never observe a tearing update.
type Tracker struct {
	mu       sync.RWMutex
	barriers map[string]*BarrierState
	history  map[string][]HistoryEntry

	changeSubs []func(ChangeEvent)
	staleSubs  []func(StaleEvent)

	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a tracker for the configured doors and motion zones
func NewTracker(doors []config.DoorConfig, motion []config.MotionSensorConfig, logger *slog.Logger) *Tracker {
	t := &Tracker{
		barriers: make(map[string]*BarrierState),
		history:  make(map[string][]HistoryEntry),
		logger:   logger,
		now:      time.Now,
	}

	for _, d := range doors {
		name := d.Name
		if name == "" {
			name = d.ID
		}
		t.barriers[d.ID] = &BarrierState{
			ID:    d.ID,
			Name:  name,
			Kind:  BarrierDoor,
			Value: ValueUnknown,
			Stale: true,
		}
		t.history[d.ID] = nil
	}

	for _, m := range motion {
		name := m.Name
		if name == "" {
			name = m.ID
		}
		t.barriers[m.ID] = &BarrierState{
			ID:    m.ID,
			Name:  name,
			Kind:  BarrierMotion,
			Value: ValueUnknown,
			Stale: true,
		}
		t.history[m.ID] = nil
	}

	return t
}

// OnChange registers a callback for barrier value changes.
// Callbacks run on the ingress goroutine after internal state is updated.
func (t *Tracker) OnChange(fn func(ChangeEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changeSubs = append(t.changeSubs, fn)
}

// OnStale registers a callback for staleness flag flips
func (t *Tracker) OnStale(fn func(StaleEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.staleSubs = append(t.staleSubs, fn)
}

// ValueFromHomie converts a Homie boolean payload to a barrier value for the
// given kind. Returns ok=false for payloads that are not "true"/"false".
func ValueFromHomie(kind BarrierKind, payload string) (BarrierValue, bool) {
	var truthy, falsy BarrierValue
	switch kind {
	case BarrierDoor:
		truthy, falsy = ValueOpen, ValueClosed
	case BarrierMotion:
		truthy, falsy = ValueActive, ValueInactive
	default:
		return ValueUnknown, false
	}

	switch payload {
	case "true":
		return truthy, true
	case "false":
		return falsy, true
	}
	return ValueUnknown, false
}

// ApplyEvent updates the state of the referenced barrier.
// Events for unconfigured barriers, or with a kind that does not match the
// barrier's configuration, are dropped silently: adjacent systems share the
// same broker and their telemetry is expected noise.
func (t *Tracker) ApplyEvent(barrierID string, kind BarrierKind, value BarrierValue, timestamp time.Time) {
	t.mu.Lock()

	b, ok := t.barriers[barrierID]
	if !ok || b.Kind != kind {
		t.mu.Unlock()
		t.logger.Debug("Dropping event for unconfigured barrier", "barrier", barrierID, "kind", kind)
		return
	}

	previous := b.Value
	b.Value = value
	b.LastUpdate = timestamp
	b.Stale = false

	if b.Kind == BarrierMotion && value == ValueActive {
		b.LastActive = timestamp
	}

	changed := previous != value && value != ValueUnknown
	var event ChangeEvent
	if changed {
		t.appendHistory(barrierID, value, timestamp)
		event = ChangeEvent{
			BarrierID: barrierID,
			Kind:      b.Kind,
			Value:     value,
			Previous:  previous,
			Timestamp: timestamp,
		}
	}
	subs := t.changeSubs
	t.mu.Unlock()

	if !changed {
		return
	}

	t.logger.Info("Barrier state changed",
		"barrier", barrierID, "value", value, "previous", previous)

	for _, fn := range subs {
		fn(event)
	}
}

// appendHistory records a value change and prunes the retention window.
// Caller holds t.mu.
func (t *Tracker) appendHistory(barrierID string, value BarrierValue, timestamp time.Time) {
	entries := append(t.history[barrierID], HistoryEntry{Value: value, Timestamp: timestamp})
	t.history[barrierID] = pruneHistory(entries, timestamp.Add(-historyRetention))
}

// pruneHistory drops entries at or before the cutoff
func pruneHistory(entries []HistoryEntry, cutoff time.Time) []HistoryEntry {
	idx := 0
	for idx < len(entries) && !entries[idx].Timestamp.After(cutoff) {
		idx++
	}
	if idx == 0 {
		return entries
	}
	return append(entries[:0:0], entries[idx:]...)
}

// CheckStaleness flips the staleness flag of barriers whose last update is
// older than the threshold, and prunes history retention windows. Staleness
// is a level: subscribers see one event per flip, not one per check.
func (t *Tracker) CheckStaleness() {
	now := t.now()
	cutoff := now.Add(-historyRetention)

	t.mu.Lock()

	var events []StaleEvent
	for id, b := range t.barriers {
		t.history[id] = pruneHistory(t.history[id], cutoff)

		if b.LastUpdate.IsZero() {
			// Never received data; initial staleness is not a flip
			continue
		}

		age := now.Sub(b.LastUpdate)
		isStale := age > stalenessThreshold
		if isStale == b.Stale {
			continue
		}

		b.Stale = isStale
		events = append(events, StaleEvent{
			BarrierID: id,
			Kind:      b.Kind,
			Stale:     isStale,
			Age:       age,
		})
	}
	subs := t.staleSubs
	t.mu.Unlock()

	for _, e := range events {
		if e.Stale {
			t.logger.Warn("Barrier sensor is stale", "barrier", e.BarrierID, "age", e.Age)
		} else {
			t.logger.Info("Barrier sensor is fresh again", "barrier", e.BarrierID)
		}
		for _, fn := range subs {
			fn(e)
		}
	}
}

// BarrierState returns a snapshot of one barrier, ok=false if unconfigured
func (t *Tracker) BarrierState(barrierID string) (BarrierState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	b, ok := t.barriers[barrierID]
	if !ok {
		return BarrierState{}, false
	}
	return *b, true
}

// AllBarrierStates returns snapshots of every configured barrier
func (t *Tracker) AllBarrierStates() []BarrierState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make([]BarrierState, 0, len(t.barriers))
	for _, b := range t.barriers {
		states = append(states, *b)
	}
	return states
}

// History returns a copy of a barrier's value changes since the given time
func (t *Tracker) History(barrierID string, since time.Time) []HistoryEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []HistoryEntry
	for _, e := range t.history[barrierID] {
		if e.Timestamp.After(since) {
			out = append(out, e)
		}
	}
	return out
}
