package tracking

import (
	"testing"
	"time"

	"github.com/roomer-home/roomer/internal/transition"
)

const testThreshold = 0.9

func allowAll(fromRoom, toRoom string, isSuperStable bool) bool { return true }
func denyAll(fromRoom, toRoom string, isSuperStable bool) bool  { return false }

// classify drives repeated classifications of the same room over a time
// span, stepping the clock between calls
func classify(e *Estimate, room string, score float64, start time.Time, span, step time.Duration, gate CommitGate) time.Time {
	now := start
	for elapsed := time.Duration(0); elapsed <= span; elapsed += step {
		now = start.Add(elapsed)
		e.ApplyClassification(room, score, testThreshold, now, gate)
	}
	return now
}

func TestNewEstimateStartsUnknown(t *testing.T) {
	e := NewEstimate(time.Now())
	if !e.AtUnknown() {
		t.Errorf("New estimate should sit at the unknown sentinel: %+v", e)
	}
	if e.Room0 != transition.UnknownRoom || e.Room != transition.UnknownRoom {
		t.Errorf("Expected sentinel rooms, got room0=%q room=%q", e.Room0, e.Room)
	}
}

func TestRoom0UpdatesImmediately(t *testing.T) {
	now := time.Now()
	e := NewEstimate(now)

	out := e.ApplyClassification("kitchen", 0.95, testThreshold, now, allowAll)

	if !out.Room0Changed {
		t.Error("Expected room0 change on first classification")
	}
	if e.Room0 != "kitchen" {
		t.Errorf("Expected room0 kitchen, got %q", e.Room0)
	}
	if e.Room0Stable || e.Room0SuperStable {
		t.Error("Stability flags must clear on a room0 change")
	}
	if e.Room != transition.UnknownRoom {
		t.Errorf("Committed room must not advance before stability, got %q", e.Room)
	}
}

func TestCommitRequiresConfidenceAndStability(t *testing.T) {
	start := time.Now()
	e := NewEstimate(start)

	// Stable but never confident: committed room stays pinned
	classify(&e, "kitchen", 0.5, start, 10*time.Second, time.Second, allowAll)
	if e.Room == "kitchen" {
		t.Error("Low-score classifications must not commit")
	}
	if !e.Room0Stable {
		t.Error("Expected room0 stable after 10s unchanged")
	}

	// One confident reading is enough once stable
	e.ApplyClassification("kitchen", 0.95, testThreshold, start.Add(11*time.Second), allowAll)
	if e.Room != "kitchen" {
		t.Errorf("Expected commit once confident and stable, got %q", e.Room)
	}
}

func TestConfidencePersistsAcrossLowScores(t *testing.T) {
	start := time.Now()
	e := NewEstimate(start)

	e.ApplyClassification("kitchen", 0.95, testThreshold, start, allowAll)
	e.ApplyClassification("kitchen", 0.3, testThreshold, start.Add(6*time.Second), allowAll)

	if !e.Room0Confident {
		t.Error("Confidence must not auto-clear while room0 is unchanged")
	}
	if e.Room != "kitchen" {
		t.Errorf("Expected commit, got %q", e.Room)
	}
}

func TestPersistenceCheckpoints(t *testing.T) {
	start := time.Now()
	e := NewEstimate(start)

	classify(&e, "kitchen", 0.95, start, 16*time.Second, time.Second, allowAll)
	if e.Room5 != "kitchen" {
		t.Errorf("Expected room5 kitchen after 5s, got %q", e.Room5)
	}
	if e.Room15 != "kitchen" {
		t.Errorf("Expected room15 kitchen after 15s, got %q", e.Room15)
	}
	if e.Room120 == "kitchen" {
		t.Error("room120 must not set before 120s")
	}

	classify(&e, "kitchen", 0.95, start.Add(17*time.Second), 110*time.Second, 5*time.Second, allowAll)
	if e.Room120 != "kitchen" {
		t.Errorf("Expected room120 kitchen after 120s, got %q", e.Room120)
	}
	if !e.Room0SuperStable {
		t.Error("Expected super-stable after 120s unchanged")
	}
}

func TestRoom0ChangeResetsCheckpointClock(t *testing.T) {
	start := time.Now()
	e := NewEstimate(start)

	classify(&e, "kitchen", 0.95, start, 16*time.Second, time.Second, allowAll)
	e.ApplyClassification("hall", 0.95, testThreshold, start.Add(17*time.Second), allowAll)

	if e.Room0 != "hall" {
		t.Errorf("Expected room0 hall, got %q", e.Room0)
	}
	// Checkpoints keep the previous room until hall persists long enough
	if e.Room5 != "kitchen" || e.Room15 != "kitchen" {
		t.Errorf("Checkpoints must lag a fresh room0: room5=%q room15=%q", e.Room5, e.Room15)
	}
	if e.Room != "kitchen" {
		t.Errorf("Committed room must not follow an unstable room0, got %q", e.Room)
	}
}

func TestBlockedTransition(t *testing.T) {
	start := time.Now()
	e := NewEstimate(start)

	classify(&e, "kitchen", 0.95, start, 6*time.Second, time.Second, allowAll)
	if e.Room != "kitchen" {
		t.Fatalf("Expected initial commit, got %q", e.Room)
	}

	// Move to hall with the gate denying
	blockStart := start.Add(10 * time.Second)
	out := Outcome{}
	now := blockStart
	for elapsed := time.Duration(0); elapsed <= 8*time.Second; elapsed += time.Second {
		now = blockStart.Add(elapsed)
		out = e.ApplyClassification("hall", 0.95, testThreshold, now, denyAll)
	}

	if !e.Blocked {
		t.Error("Expected blocked flag while the gate denies")
	}
	if e.Room != "kitchen" {
		t.Errorf("Committed room must stay pinned while blocked, got %q", e.Room)
	}
	if e.Room0 != "hall" {
		t.Errorf("room0 is never blocked, got %q", e.Room0)
	}
	if out.Committed {
		t.Error("Denied commits must not report as committed")
	}

	// Gate opens: the pending commit lands and the flag clears
	out = e.ApplyClassification("hall", 0.95, testThreshold, now.Add(time.Second), allowAll)
	if !out.Committed || e.Room != "hall" {
		t.Errorf("Expected commit once allowed, got room=%q", e.Room)
	}
	if e.Blocked {
		t.Error("Blocked flag must clear on commit")
	}
}

func TestCommitForfeitsSuperStability(t *testing.T) {
	start := time.Now()
	e := NewEstimate(start)

	// Blocked long enough to become super-stable on the new room0
	classify(&e, "hall", 0.95, start, 125*time.Second, 5*time.Second, denyAll)
	if !e.Room0SuperStable {
		t.Fatal("Expected super-stable while blocked for 125s")
	}

	now := start.Add(126 * time.Second)
	out := e.ApplyClassification("hall", 0.95, testThreshold, now, allowAll)
	if !out.Committed {
		t.Fatal("Expected commit once allowed")
	}
	if e.Room0SuperStable {
		t.Error("A room change must forfeit super-stability")
	}

	// Not immediately regained on the next tick
	e.ApplyClassification("hall", 0.95, testThreshold, now.Add(time.Second), allowAll)
	if e.Room0SuperStable {
		t.Error("Super-stability must rebuild over the full horizon after a commit")
	}
}

func TestResetStability(t *testing.T) {
	start := time.Now()
	e := NewEstimate(start)

	classify(&e, "kitchen", 0.95, start, 125*time.Second, 5*time.Second, allowAll)
	if !e.Room0Stable || !e.Room0SuperStable {
		t.Fatal("Expected stable and super-stable before reset")
	}

	e.ResetStability(start.Add(126 * time.Second))

	if e.Room0Stable || e.Room0SuperStable {
		t.Error("Reset must clear the stability flags")
	}
	if e.Room0 != "kitchen" || e.Room != "kitchen" {
		t.Errorf("Reset must not touch rooms: room0=%q room=%q", e.Room0, e.Room)
	}
	if !e.Room0Confident {
		t.Error("Reset must not clear confidence")
	}
}

func TestResetUnknown(t *testing.T) {
	start := time.Now()
	e := NewEstimate(start)

	classify(&e, "kitchen", 0.95, start, 10*time.Second, time.Second, allowAll)
	e.ResetUnknown(start.Add(150 * time.Second))

	if !e.AtUnknown() {
		t.Errorf("Expected estimate at the unknown sentinel: %+v", e)
	}
}
