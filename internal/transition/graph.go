package transition

import (
	"github.com/roomer-home/roomer/pkg/config"
)

// UnknownRoom is the sentinel room for a person whose location is not known.
// Absence and reappearance are never topology-gated.
const UnknownRoom = "na"

// Topology is the static room adjacency model: doors separating room pairs
// and motion zones protecting room sets. Loaded once at startup, read-only
// afterwards, so it needs no synchronization.
type Topology struct {
	doorRooms map[string][2]string
	zoneRooms map[string]map[string]bool
}

// NewTopology builds the topology from the house configuration.
// Doors with malformed room lists are skipped rather than rejected:
// a missing edge degrades to "no modeled barrier", which the policy
// engine treats as allow.
func NewTopology(doors []config.DoorConfig, zones []config.MotionSensorConfig) *Topology {
	t := &Topology{
		doorRooms: make(map[string][2]string),
		zoneRooms: make(map[string]map[string]bool),
	}

	for _, d := range doors {
		if len(d.Rooms) != 2 {
			continue
		}
		t.doorRooms[d.ID] = [2]string{d.Rooms[0], d.Rooms[1]}
	}

	for _, z := range zones {
		rooms := make(map[string]bool, len(z.Rooms))
		for _, r := range z.Rooms {
			rooms[r] = true
		}
		t.zoneRooms[z.ID] = rooms
	}

	return t
}

// SeparatingDoors returns the doors whose two adjacent rooms are exactly
// the given pair, in either order.
func (t *Topology) SeparatingDoors(roomA, roomB string) []string {
	var doors []string
	for id, rooms := range t.doorRooms {
		if (rooms[0] == roomA && rooms[1] == roomB) || (rooms[0] == roomB && rooms[1] == roomA) {
			doors = append(doors, id)
		}
	}
	return doors
}

// DoorsAdjacentTo returns every door with the given room on one side
func (t *Topology) DoorsAdjacentTo(room string) []string {
	var doors []string
	for id, rooms := range t.doorRooms {
		if rooms[0] == room || rooms[1] == room {
			doors = append(doors, id)
		}
	}
	return doors
}

// CrossingMotionSensors returns motion zones protecting the edge between the
// two rooms: a zone crosses the edge when exactly one of the rooms lies
// inside its protected set.
func (t *Topology) CrossingMotionSensors(fromRoom, toRoom string) []string {
	var zones []string
	for id, rooms := range t.zoneRooms {
		if rooms[fromRoom] != rooms[toRoom] {
			zones = append(zones, id)
		}
	}
	return zones
}
