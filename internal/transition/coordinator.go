package transition

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roomer-home/roomer/internal/house"
	"github.com/roomer-home/roomer/pkg/config"
)

// motionInactivityGrace is how long a crossed motion zone may sit inactive
// before it is treated as evidence the path is unused. Short gaps are normal
// (a person standing still); only sustained inactivity blocks.
const motionInactivityGrace = 120 * time.Second

// LockEvent is emitted when a barrier starts holding a person in place
type LockEvent struct {
	PersonID  string
	BarrierID string
	Room      string
	Timestamp time.Time
}

// UnlockEvent is emitted when a person's last lock is released.
// BarrierID is set when a specific barrier opening triggered the release,
// empty when locks were cleared wholesale.
type UnlockEvent struct {
	PersonID  string
	BarrierID string
}

// personLocks tracks the barriers currently believed to block one person
type personLocks struct {
	room     string
	barriers map[string]time.Time
}

// Coordinator decides whether a room transition is physically plausible
// given live barrier state, and tracks which barriers are holding which
// persons in place. All operations are serialized by one mutex; the graph
// is small and every gate is a handful of map lookups.
type Coordinator struct {
	mu       sync.Mutex
	enabled  bool
	topology *Topology
	house    *house.Tracker
	ignored  map[string]map[string]bool
	persons  map[string]*personLocks

	lockSubs   []func(LockEvent)
	unlockSubs []func(UnlockEvent)
	resetSubs  []func(personID string)

	logger *slog.Logger
	now    func() time.Time
}

// NewCoordinator creates the policy engine for the configured house.
// Callers wire barrier releases with tracker.OnChange(c.HandleBarrierChange).
func NewCoordinator(houseCfg *config.HouseConfig, tracker *house.Tracker, logger *slog.Logger) *Coordinator {
	ignored := make(map[string]map[string]bool)
	for _, p := range houseCfg.People {
		if len(p.IgnoredRooms) == 0 {
			continue
		}
		rooms := make(map[string]bool, len(p.IgnoredRooms))
		for _, r := range p.IgnoredRooms {
			rooms[r] = true
		}
		ignored[p.ID] = rooms
	}

	c := &Coordinator{
		enabled:  houseCfg.TransitionConstraintsEnabled,
		topology: NewTopology(houseCfg.Doors, houseCfg.MotionSensors),
		house:    tracker,
		ignored:  ignored,
		persons:  make(map[string]*personLocks),
		logger:   logger,
		now:      time.Now,
	}

	if c.enabled {
		logger.Info("Transition constraints enabled",
			"doors", len(houseCfg.Doors), "motion_zones", len(houseCfg.MotionSensors))
	} else {
		logger.Info("Transition constraints disabled")
	}

	return c
}

// OnPersonLocked registers a callback for lock acquisitions
func (c *Coordinator) OnPersonLocked(fn func(LockEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lockSubs = append(c.lockSubs, fn)
}

// OnPersonUnlocked registers a callback for unlock notifications
func (c *Coordinator) OnPersonUnlocked(fn func(UnlockEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unlockSubs = append(c.unlockSubs, fn)
}

// OnStabilityReset registers a callback fired when a barrier opening releases
// a person's lock: the owning state machine restarts its stability window so
// the newly opened path is re-evaluated from scratch.
func (c *Coordinator) OnStabilityReset(fn func(personID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetSubs = append(c.resetSubs, fn)
}

// CanTransition reports whether a person may be credited with moving from
// fromRoom to toRoom. Barrier state is read live at decision time.
func (c *Coordinator) CanTransition(personID, fromRoom, toRoom string, isSuperStable bool) bool {
	if !c.enabled || fromRoom == toRoom {
		return true
	}

	// Ignore list precedes the unknown-room bypass: ignored rooms are
	// blocked even when entered from the unknown sentinel.
	if c.ignored[personID][toRoom] {
		c.logger.Debug("Transition denied by ignore list",
			"person", personID, "to", toRoom)
		return false
	}

	if fromRoom == UnknownRoom || toRoom == UnknownRoom {
		return true
	}

	// Barrier constraints only apply once the location has been trusted for
	// the full super-stable horizon; before that, deny decisions would mostly
	// punish readings that are still converging.
	if !isSuperStable {
		c.ClearLocks(personID)
		return true
	}

	doors := c.topology.SeparatingDoors(fromRoom, toRoom)
	closedDoors := c.closedBarriers(doors)
	if len(closedDoors) > 0 {
		c.trackLocked(personID, fromRoom, closedDoors)
		c.logger.Info("Transition blocked by closed doors",
			"person", personID, "from", fromRoom, "to", toRoom, "doors", closedDoors)
		return false
	}

	zones := c.topology.CrossingMotionSensors(fromRoom, toRoom)
	blockedZones := c.inactiveZones(zones)
	if len(blockedZones) > 0 {
		c.trackLocked(personID, fromRoom, blockedZones)
		c.logger.Info("Transition blocked by inactive motion zones",
			"person", personID, "from", fromRoom, "to", toRoom, "zones", blockedZones)
		return false
	}

	c.ClearLocks(personID)
	return true
}

// closedBarriers filters the doors that are definitively closed.
// Stale, unknown, or never-updated doors are treated as open: absence of
// evidence does not block movement.
func (c *Coordinator) closedBarriers(doorIDs []string) []string {
	var closed []string
	for _, id := range doorIDs {
		state, ok := c.house.BarrierState(id)
		if !ok || state.Stale || state.Value == house.ValueUnknown || state.LastUpdate.IsZero() {
			continue
		}
		if state.Value == house.ValueClosed {
			closed = append(closed, id)
		}
	}
	return closed
}

// inactiveZones filters the motion zones whose sustained inactivity blocks a
// crossing. Stale or unknown zones never block.
func (c *Coordinator) inactiveZones(zoneIDs []string) []string {
	now := c.now()
	var blocked []string
	for _, id := range zoneIDs {
		state, ok := c.house.BarrierState(id)
		if !ok || state.Stale || state.Value == house.ValueUnknown || state.LastUpdate.IsZero() {
			continue
		}
		if state.Value != house.ValueInactive {
			continue
		}
		if state.LastActive.IsZero() || now.Sub(state.LastActive) > motionInactivityGrace {
			blocked = append(blocked, id)
		}
	}
	return blocked
}

// EvaluateCurrentRoomLock proactively records locks for a person who has
// become super-stable in a room with closed adjacent doors, without waiting
// for an attempted transition. For a person who is not super-stable the lock
// state is left untouched: a momentary stability dip must not mask a real
// lock, so only a transition attempt or a barrier opening releases it.
func (c *Coordinator) EvaluateCurrentRoomLock(personID, currentRoom string, isSuperStable bool) {
	if !c.enabled || currentRoom == UnknownRoom {
		return
	}
	if !isSuperStable {
		return
	}

	doors := c.topology.DoorsAdjacentTo(currentRoom)
	if len(doors) == 0 {
		return
	}

	closed := c.closedBarriers(doors)
	if len(closed) > 0 {
		c.trackLocked(personID, currentRoom, closed)
	} else {
		c.ClearLocks(personID)
	}
}

// trackLocked records locks for the given barriers, idempotently per barrier
func (c *Coordinator) trackLocked(personID, room string, barrierIDs []string) {
	now := c.now()

	c.mu.Lock()
	p, ok := c.persons[personID]
	if !ok {
		p = &personLocks{barriers: make(map[string]time.Time)}
		c.persons[personID] = p
	}
	p.room = room

	var events []LockEvent
	for _, id := range barrierIDs {
		if _, locked := p.barriers[id]; locked {
			continue
		}
		p.barriers[id] = now
		events = append(events, LockEvent{
			PersonID:  personID,
			BarrierID: id,
			Room:      room,
			Timestamp: now,
		})
	}
	subs := c.lockSubs
	c.mu.Unlock()

	for _, e := range events {
		c.logger.Info("Person locked behind barrier",
			"person", e.PersonID, "barrier", e.BarrierID, "room", e.Room)
		for _, fn := range subs {
			fn(e)
		}
	}
}

// ClearLocks releases every lock held for a person. A no-op when nothing is
// locked; otherwise exactly one unlock notification is emitted.
func (c *Coordinator) ClearLocks(personID string) {
	c.mu.Lock()
	p, ok := c.persons[personID]
	if !ok || len(p.barriers) == 0 {
		c.mu.Unlock()
		return
	}
	p.barriers = make(map[string]time.Time)
	subs := c.unlockSubs
	c.mu.Unlock()

	c.logger.Info("Person unlocked", "person", personID)
	for _, fn := range subs {
		fn(UnlockEvent{PersonID: personID})
	}
}

// LockedBarriers returns the sorted barrier IDs currently locking a person
func (c *Coordinator) LockedBarriers(personID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.persons[personID]
	if !ok || len(p.barriers) == 0 {
		return nil
	}
	ids := make([]string, 0, len(p.barriers))
	for id := range p.barriers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Locks returns a copy of a person's lock map with acquisition times
func (c *Coordinator) Locks(personID string) map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.persons[personID]
	if !ok {
		return map[string]time.Time{}
	}
	out := make(map[string]time.Time, len(p.barriers))
	for id, ts := range p.barriers {
		out[id] = ts
	}
	return out
}

// HandleBarrierChange releases locks held by a barrier that just opened or
// turned active, and signals a stability reset for each affected person.
func (c *Coordinator) HandleBarrierChange(e house.ChangeEvent) {
	if e.Value != house.ValueOpen && e.Value != house.ValueActive {
		return
	}

	c.mu.Lock()
	var unlocked []UnlockEvent
	var affected []string
	for personID, p := range c.persons {
		if _, locked := p.barriers[e.BarrierID]; !locked {
			continue
		}
		delete(p.barriers, e.BarrierID)
		affected = append(affected, personID)
		if len(p.barriers) == 0 {
			unlocked = append(unlocked, UnlockEvent{PersonID: personID, BarrierID: e.BarrierID})
		}
	}
	unlockSubs := c.unlockSubs
	resetSubs := c.resetSubs
	c.mu.Unlock()

	for _, personID := range affected {
		c.logger.Info("Lock released by barrier opening",
			"person", personID, "barrier", e.BarrierID)
		for _, fn := range resetSubs {
			fn(personID)
		}
	}
	for _, u := range unlocked {
		for _, fn := range unlockSubs {
			fn(u)
		}
	}
}
