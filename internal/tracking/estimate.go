package tracking

import (
	"time"

	"github.com/roomer-home/roomer/internal/transition"
)

// Stability horizons for the room estimate
const (
	stableAfter      = 5 * time.Second
	room15After      = 15 * time.Second
	superStableAfter = 120 * time.Second
)

// CommitGate decides whether the committed room may advance.
// Wired to the transition coordinator in production.
type CommitGate func(fromRoom, toRoom string, isSuperStable bool) bool

// Estimate is the multi-horizon room estimate for one person. All stability
// flags accumulate on the current room0 value and reset when it changes;
// ApplyClassification is the single mutation entry point so the horizon
// invariants live in one place.
type Estimate struct {
	// Room0 is the classifier's latest top pick, updated immediately
	Room0            string
	Room0Since       time.Time
	Room0Confident   bool
	Room0Stable      bool
	Room0SuperStable bool

	// Room is the committed, policy-approved value consumers observe
	Room string

	// Persistence checkpoints over the unchanged room0 value
	Room5   string
	Room15  string
	Room120 string

	// Blocked reports a commit the coordinator is currently denying
	Blocked bool

	// superSince anchors the super-stable trust horizon. It restarts both
	// when room0 changes and when a commit lands: an actual room change
	// always forfeits super-stability.
	superSince time.Time
}

// NewEstimate returns an estimate at the unknown sentinel
func NewEstimate(now time.Time) Estimate {
	return Estimate{
		Room0:      transition.UnknownRoom,
		Room:       transition.UnknownRoom,
		Room5:      transition.UnknownRoom,
		Room15:     transition.UnknownRoom,
		Room120:    transition.UnknownRoom,
		Room0Since: now,
		superSince: now,
	}
}

// Outcome reports what a classification changed
type Outcome struct {
	// Updated is set when any published field changed
	Updated bool

	// Room0Changed is set when the raw pick moved
	Room0Changed bool

	// Committed is set when the committed room advanced
	Committed bool

	// BecameSuperStable is set on the tick the super-stable flag turned on
	BecameSuperStable bool
}

// ApplyClassification folds a classifier result into the estimate.
// room0 always tracks the new pick; the committed room advances only when
// confident, stable, and approved by the gate. A denied commit pins the
// committed room and surfaces as Blocked, with no upper bound on how far
// room0 may drift meanwhile.
func (e *Estimate) ApplyClassification(room string, score, confidenceThreshold float64, now time.Time, gate CommitGate) Outcome {
	var out Outcome

	if room != e.Room0 {
		e.Room0 = room
		e.Room0Since = now
		e.superSince = now
		e.Room0Confident = false
		e.Room0Stable = false
		e.Room0SuperStable = false
		out.Room0Changed = true
		out.Updated = true
	}

	if !e.Room0Confident && score > confidenceThreshold {
		e.Room0Confident = true
	}

	since := now.Sub(e.Room0Since)

	if !e.Room0Stable && since > stableAfter {
		e.Room0Stable = true
		if e.Room5 != e.Room0 {
			e.Room5 = e.Room0
			out.Updated = true
		}
	}

	if since > room15After && e.Room15 != e.Room0 {
		e.Room15 = e.Room0
		out.Updated = true
	}

	if since > superStableAfter && e.Room120 != e.Room0 {
		e.Room120 = e.Room0
		out.Updated = true
	}

	if !e.Room0SuperStable && now.Sub(e.superSince) > superStableAfter {
		e.Room0SuperStable = true
		out.BecameSuperStable = true
		out.Updated = true
	}

	if e.Room0Confident && e.Room0Stable && e.Room != e.Room0 {
		if gate(e.Room, e.Room0, e.Room0SuperStable) {
			e.Room = e.Room0
			e.superSince = now
			e.Room0SuperStable = false
			if e.Blocked {
				e.Blocked = false
			}
			out.Committed = true
			out.Updated = true
		} else if !e.Blocked {
			e.Blocked = true
			out.Updated = true
		}
	} else if e.Blocked && e.Room == e.Room0 {
		e.Blocked = false
		out.Updated = true
	}

	return out
}

// ResetStability restarts the stability windows without touching the rooms.
// Invoked when a barrier opening releases a lock: the newly opened path is
// re-evaluated from a fresh window instead of snapping to room0 instantly.
func (e *Estimate) ResetStability(now time.Time) {
	e.Room0Since = now
	e.superSince = now
	e.Room0Stable = false
	e.Room0SuperStable = false
}

// ResetUnknown drops the whole estimate to the unknown sentinel.
// Used when every telemetry source has gone silent; unknown location is
// never a topology violation, so this bypasses the commit gate.
func (e *Estimate) ResetUnknown(now time.Time) {
	*e = NewEstimate(now)
}

// AtUnknown reports whether the estimate already sits at the sentinel
func (e *Estimate) AtUnknown() bool {
	return e.Room == transition.UnknownRoom &&
		e.Room0 == transition.UnknownRoom &&
		e.Room5 == transition.UnknownRoom &&
		e.Room15 == transition.UnknownRoom &&
		e.Room120 == transition.UnknownRoom &&
		!e.Room0Confident && !e.Room0Stable && !e.Room0SuperStable && !e.Blocked
}
