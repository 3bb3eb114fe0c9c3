package tracking

import (
	"time"
)

// Sensor normalization constants
const (
	// freshWindow is the age under which a reading counts as fresh
	freshWindow = 10 * time.Second

	// switchHysteresis is how much fresher a secondary device must be
	// before it takes over from the active one
	switchHysteresis = 10 * time.Second

	// maxSensorValue caps normalized per-room sensor values; a silent
	// sensor reads as maximally far rather than present
	maxSensorValue = 10.0

	// initialSensorValue seeds every room channel before first data
	initialSensorValue = 15.0
)

// sensorReading is the last raw and distance value for one room channel
type sensorReading struct {
	raw      float64
	distance float64
	updated  time.Time
}

// deviceState holds one device's room-channel readings
type deviceState struct {
	sensors    map[string]*sensorReading
	lastUpdate time.Time
}

// Fusion owns a person's redundant tracking devices and selects which one
// drives classification. The primary device (first configured) always wins
// while fresh; otherwise the freshest device takes over, but only when it
// is at least the hysteresis window fresher than the current one, so two
// devices reporting at similar rates do not flap.
type Fusion struct {
	devices     []string
	states      map[string]*deviceState
	active      string
	sensorOrder []string
	useDistance bool
}

// NewFusion builds a fusion over the configured device ids and the model's
// sensor ordering. Every room channel starts at the initial sentinel with
// a fresh timestamp; the primary device starts active.
func NewFusion(deviceIDs, sensorOrder []string, useDistance bool, now time.Time) *Fusion {
	f := &Fusion{
		devices:     append([]string(nil), deviceIDs...),
		states:      make(map[string]*deviceState, len(deviceIDs)),
		sensorOrder: append([]string(nil), sensorOrder...),
		useDistance: useDistance,
	}
	for _, id := range f.devices {
		s := &deviceState{sensors: make(map[string]*sensorReading, len(sensorOrder))}
		for _, room := range sensorOrder {
			s.sensors[room] = &sensorReading{
				raw:      initialSensorValue,
				distance: initialSensorValue,
				updated:  now,
			}
		}
		f.states[id] = s
	}
	if len(f.devices) > 0 {
		f.active = f.devices[0]
	}
	return f
}

// Apply records a reading. Either value may be nil when the source sent
// only one of the pair. Returns false when the device or room is unknown
// or the event carried no values.
func (f *Fusion) Apply(deviceID, room string, raw, distance *float64, now time.Time) bool {
	state, ok := f.states[deviceID]
	if !ok {
		return false
	}
	sensor, ok := state.sensors[room]
	if !ok {
		return false
	}
	updated := false
	if raw != nil {
		sensor.raw = *raw
		updated = true
	}
	if distance != nil {
		sensor.distance = *distance
		updated = true
	}
	if updated {
		sensor.updated = now
		state.lastUpdate = now
	}
	return updated
}

func (f *Fusion) age(deviceID string, now time.Time) time.Duration {
	state := f.states[deviceID]
	if state.lastUpdate.IsZero() {
		return -1
	}
	return now.Sub(state.lastUpdate)
}

// UpdateActive re-evaluates which device drives the estimate. It reports
// whether the active device changed; callers republish the committed state
// on a switch so consumers see the driving source without waiting for the
// next inference tick.
func (f *Fusion) UpdateActive(now time.Time) bool {
	if len(f.devices) == 0 {
		return false
	}

	primary := f.devices[0]
	primaryAge := f.age(primary, now)
	primaryFresh := primaryAge >= 0 && primaryAge < freshWindow

	// A fresh primary always wins
	if primaryFresh {
		if f.active != primary {
			f.active = primary
			return true
		}
		return false
	}

	currentAge := f.age(f.active, now)

	freshest := f.active
	freshestAge := currentAge
	for _, id := range f.devices {
		a := f.age(id, now)
		if a < 0 {
			continue
		}
		if freshestAge < 0 || a < freshestAge {
			freshest = id
			freshestAge = a
		}
	}

	if freshest == f.active || freshestAge < 0 {
		return false
	}
	if currentAge < 0 || currentAge-freshestAge >= switchHysteresis {
		f.active = freshest
		return true
	}
	return false
}

// ActiveDevice returns the device currently driving the estimate
func (f *Fusion) ActiveDevice() string {
	return f.active
}

// Features builds the classifier input from the active device: one
// (value, fresh) pair per room channel in model order. A channel older
// than the fresh window reads as maximally far with fresh 0, so silence
// counts as absence.
func (f *Fusion) Features(now time.Time) []float64 {
	state := f.states[f.active]
	features := make([]float64, 0, 2*len(f.sensorOrder))
	for _, room := range f.sensorOrder {
		sensor := state.sensors[room]
		age := now.Sub(sensor.updated)

		value := maxSensorValue
		if age <= freshWindow {
			source := sensor.raw
			if f.useDistance {
				source = sensor.distance
			}
			value = source
			if value > maxSensorValue {
				value = maxSensorValue
			}
		}

		fresh := 0.0
		if age < freshWindow {
			fresh = 1.0
		}
		features = append(features, value, fresh)
	}
	return features
}

// LastSeen reports the most recent reading across every device. Zero when
// nothing has reported yet.
func (f *Fusion) LastSeen() time.Time {
	var last time.Time
	for _, state := range f.states {
		if state.lastUpdate.After(last) {
			last = state.lastUpdate
		}
	}
	return last
}
