package transition

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/roomer-home/roomer/internal/house"
	"github.com/roomer-home/roomer/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testHouseConfig(enabled bool) *config.HouseConfig {
	return &config.HouseConfig{
		HomieDeviceID:                "controller",
		TransitionConstraintsEnabled: enabled,
		People: []config.PersonConfig{
			{ID: "alice", Devices: []string{"watch-alice"}, IgnoredRooms: []string{"garage"}},
		},
		Doors: []config.DoorConfig{
			{ID: "door-kitchen-hall", Rooms: []string{"kitchen", "hall"}},
		},
		MotionSensors: []config.MotionSensorConfig{
			{ID: "motion-hall", Rooms: []string{"hall"}},
		},
	}
}

func newTestCoordinator(t *testing.T, enabled bool) (*Coordinator, *house.Tracker) {
	t.Helper()
	cfg := testHouseConfig(enabled)
	tracker := house.NewTracker(cfg.Doors, cfg.MotionSensors, testLogger())
	coordinator := NewCoordinator(cfg, tracker, testLogger())
	tracker.OnChange(coordinator.HandleBarrierChange)
	return coordinator, tracker
}

func TestCanTransitionDisabled(t *testing.T) {
	c, tracker := newTestCoordinator(t, false)
	tracker.ApplyEvent("door-kitchen-hall", house.BarrierDoor, house.ValueClosed, time.Now())

	if !c.CanTransition("alice", "kitchen", "hall", true) {
		t.Error("Disabled coordinator must allow every transition")
	}
}

func TestCanTransitionSameRoom(t *testing.T) {
	c, tracker := newTestCoordinator(t, true)
	tracker.ApplyEvent("door-kitchen-hall", house.BarrierDoor, house.ValueClosed, time.Now())

	if !c.CanTransition("alice", "kitchen", "kitchen", true) {
		t.Error("Same-room transition must always allow")
	}
}

func TestCanTransitionIgnoreList(t *testing.T) {
	c, _ := newTestCoordinator(t, true)

	if c.CanTransition("alice", "kitchen", "garage", false) {
		t.Error("Ignored destination must deny")
	}
	// Ignore list precedes the unknown-room bypass
	if c.CanTransition("alice", UnknownRoom, "garage", false) {
		t.Error("Ignored destination must deny even from the unknown sentinel")
	}
	if !c.CanTransition("bob", "kitchen", "garage", false) {
		t.Error("Ignore list is per person")
	}
}

func TestCanTransitionUnknownRoomBypass(t *testing.T) {
	c, tracker := newTestCoordinator(t, true)
	tracker.ApplyEvent("door-kitchen-hall", house.BarrierDoor, house.ValueClosed, time.Now())

	if !c.CanTransition("alice", UnknownRoom, "kitchen", true) {
		t.Error("Reappearance from unknown must allow")
	}
	if !c.CanTransition("alice", "kitchen", UnknownRoom, true) {
		t.Error("Disappearance to unknown must allow")
	}
}

func TestCanTransitionNotSuperStableAllowsAndClears(t *testing.T) {
	c, tracker := newTestCoordinator(t, true)
	tracker.ApplyEvent("door-kitchen-hall", house.BarrierDoor, house.ValueClosed, time.Now())

	var unlocks []UnlockEvent
	c.OnPersonUnlocked(func(e UnlockEvent) {
		unlocks = append(unlocks, e)
	})

	// Acquire a lock via a super-stable denial first
	if c.CanTransition("alice", "kitchen", "hall", true) {
		t.Fatal("Closed door should deny a super-stable transition")
	}
	if locked := c.LockedBarriers("alice"); len(locked) != 1 {
		t.Fatalf("Expected 1 lock, got %v", locked)
	}

	if !c.CanTransition("alice", "kitchen", "hall", false) {
		t.Error("Non-super-stable transition must allow unconditionally")
	}
	if locked := c.LockedBarriers("alice"); locked != nil {
		t.Errorf("Non-super-stable transition must clear locks, got %v", locked)
	}
	if len(unlocks) != 1 {
		t.Errorf("Expected exactly 1 unlock notification, got %d", len(unlocks))
	}
}

func TestCanTransitionClosedDoorDeniesAndLocks(t *testing.T) {
	c, tracker := newTestCoordinator(t, true)
	tracker.ApplyEvent("door-kitchen-hall", house.BarrierDoor, house.ValueClosed, time.Now())

	var locks []LockEvent
	c.OnPersonLocked(func(e LockEvent) {
		locks = append(locks, e)
	})

	if c.CanTransition("alice", "kitchen", "hall", true) {
		t.Fatal("Closed separating door must deny")
	}
	if len(locks) != 1 {
		t.Fatalf("Expected 1 lock event, got %d", len(locks))
	}
	if locks[0].BarrierID != "door-kitchen-hall" || locks[0].Room != "kitchen" {
		t.Errorf("Unexpected lock event: %+v", locks[0])
	}
}

func TestDoorOpenReleasesLockAndResetsStability(t *testing.T) {
	c, tracker := newTestCoordinator(t, true)
	tracker.ApplyEvent("door-kitchen-hall", house.BarrierDoor, house.ValueClosed, time.Now())

	var resets []string
	c.OnStabilityReset(func(personID string) {
		resets = append(resets, personID)
	})
	var unlocks []UnlockEvent
	c.OnPersonUnlocked(func(e UnlockEvent) {
		unlocks = append(unlocks, e)
	})

	if c.CanTransition("alice", "kitchen", "hall", true) {
		t.Fatal("Closed door should deny")
	}

	tracker.ApplyEvent("door-kitchen-hall", house.BarrierDoor, house.ValueOpen, time.Now())

	if locked := c.LockedBarriers("alice"); locked != nil {
		t.Errorf("Door opening must release the lock, got %v", locked)
	}
	if len(resets) != 1 || resets[0] != "alice" {
		t.Errorf("Expected stability reset for alice, got %v", resets)
	}
	if len(unlocks) != 1 || unlocks[0].BarrierID != "door-kitchen-hall" {
		t.Errorf("Expected unlock for the opened door, got %v", unlocks)
	}
}

func TestUnknownDoorStateTreatedAsOpen(t *testing.T) {
	c, _ := newTestCoordinator(t, true)

	// Door never updated: absence of evidence must not block
	if !c.CanTransition("alice", "kitchen", "hall", true) {
		t.Error("Never-updated door must be treated as open")
	}
}

func TestStaleDoorTreatedAsOpen(t *testing.T) {
	c, tracker := newTestCoordinator(t, true)

	tracker.ApplyEvent("door-kitchen-hall", house.BarrierDoor, house.ValueClosed, time.Now().Add(-13*time.Hour))
	tracker.CheckStaleness()

	if state, _ := tracker.BarrierState("door-kitchen-hall"); !state.Stale {
		t.Fatal("Expected the door to be stale")
	}
	if !c.CanTransition("alice", "kitchen", "hall", true) {
		t.Error("Stale closed door must be treated as open")
	}
}

func TestMotionZoneInactivity(t *testing.T) {
	tests := []struct {
		name        string
		inactiveFor time.Duration
		wantAllowed bool
	}{
		{"sustained inactivity blocks", 150 * time.Second, false},
		{"short inactivity allows", 60 * time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, tracker := newTestCoordinator(t, true)
			now := time.Now()

			tracker.ApplyEvent("motion-hall", house.BarrierMotion, house.ValueActive, now.Add(-tt.inactiveFor))
			tracker.ApplyEvent("motion-hall", house.BarrierMotion, house.ValueInactive, now.Add(-tt.inactiveFor).Add(time.Second))
			tracker.ApplyEvent("door-kitchen-hall", house.BarrierDoor, house.ValueOpen, now)

			got := c.CanTransition("alice", "kitchen", "hall", true)
			if got != tt.wantAllowed {
				t.Errorf("CanTransition with zone inactive for %v = %v, want %v",
					tt.inactiveFor, got, tt.wantAllowed)
			}
			if !tt.wantAllowed {
				locked := c.LockedBarriers("alice")
				if len(locked) != 1 || locked[0] != "motion-hall" {
					t.Errorf("Expected lock on the blocking zone, got %v", locked)
				}
			}
		})
	}
}

func TestLockClearRoundTrip(t *testing.T) {
	c, _ := newTestCoordinator(t, true)

	var unlocks []UnlockEvent
	c.OnPersonUnlocked(func(e UnlockEvent) {
		unlocks = append(unlocks, e)
	})

	c.trackLocked("alice", "kitchen", []string{"door-kitchen-hall"})
	c.trackLocked("alice", "kitchen", []string{"door-kitchen-hall"})

	if locks := c.Locks("alice"); len(locks) != 1 {
		t.Fatalf("Re-locking must be idempotent, got %d locks", len(locks))
	}

	c.ClearLocks("alice")
	c.ClearLocks("alice")

	if locked := c.LockedBarriers("alice"); locked != nil {
		t.Errorf("Expected empty lock set, got %v", locked)
	}
	if len(unlocks) != 1 {
		t.Errorf("Expected exactly 1 unlock notification, got %d", len(unlocks))
	}
}

func TestEvaluateCurrentRoomLock(t *testing.T) {
	c, tracker := newTestCoordinator(t, true)
	tracker.ApplyEvent("door-kitchen-hall", house.BarrierDoor, house.ValueClosed, time.Now())

	c.EvaluateCurrentRoomLock("alice", "kitchen", true)
	if locked := c.LockedBarriers("alice"); len(locked) != 1 {
		t.Fatalf("Super-stable person behind a closed door should be locked, got %v", locked)
	}

	// A stability dip leaves the lock untouched
	c.EvaluateCurrentRoomLock("alice", "kitchen", false)
	if locked := c.LockedBarriers("alice"); len(locked) != 1 {
		t.Errorf("Non-super-stable evaluation must not clear locks, got %v", locked)
	}

	// With the door open the proactive check clears the lock
	tracker.ApplyEvent("door-kitchen-hall", house.BarrierDoor, house.ValueOpen, time.Now())
	c.EvaluateCurrentRoomLock("alice", "kitchen", true)
	if locked := c.LockedBarriers("alice"); locked != nil {
		t.Errorf("Open doors should clear the proactive lock, got %v", locked)
	}
}

func TestEvaluateCurrentRoomLockUnknownRoom(t *testing.T) {
	c, tracker := newTestCoordinator(t, true)
	tracker.ApplyEvent("door-kitchen-hall", house.BarrierDoor, house.ValueClosed, time.Now())

	c.EvaluateCurrentRoomLock("alice", UnknownRoom, true)
	if locked := c.LockedBarriers("alice"); locked != nil {
		t.Errorf("Unknown room must never acquire locks, got %v", locked)
	}
}
