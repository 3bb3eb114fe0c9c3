package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// HouseConfig describes the tracked persons and the physical topology of the
// house: doors between room pairs and motion zones protecting room sets.
// Loaded once at startup; read-only afterwards.
type HouseConfig struct {
	// HomieDeviceID is the Homie device that owns all barrier sensor nodes
	HomieDeviceID string `yaml:"homie_device_id"`

	// Tracking selects which signal drives the feature vector: "raw" or "distance"
	Tracking string `yaml:"tracking"`

	// TransitionConstraintsEnabled gates the whole coordinator policy engine
	TransitionConstraintsEnabled bool `yaml:"transition_constraints_enabled"`

	People        []PersonConfig       `yaml:"people"`
	Doors         []DoorConfig         `yaml:"doors"`
	MotionSensors []MotionSensorConfig `yaml:"motion_sensors"`
}

// PersonConfig describes one tracked person and their telemetry devices.
// The first device is the primary and is always preferred when fresh.
type PersonConfig struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Devices      []string `yaml:"devices"`
	IgnoredRooms []string `yaml:"ignored_rooms"`
}

// DoorConfig describes a contact-sensor door separating exactly two rooms
type DoorConfig struct {
	ID    string   `yaml:"id"`
	Name  string   `yaml:"name"`
	Rooms []string `yaml:"rooms"`
}

// MotionSensorConfig describes a motion zone and the rooms it covers
type MotionSensorConfig struct {
	ID    string   `yaml:"id"`
	Name  string   `yaml:"name"`
	Rooms []string `yaml:"rooms"`
}

// LoadHouseConfig loads and validates a house configuration from a YAML file
func LoadHouseConfig(path string) (*HouseConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read house config: %w", err)
	}
	return ParseHouseConfig(data)
}

// ParseHouseConfig parses a house configuration from YAML bytes (useful for testing)
func ParseHouseConfig(data []byte) (*HouseConfig, error) {
	var house HouseConfig
	if err := yaml.Unmarshal(data, &house); err != nil {
		return nil, fmt.Errorf("failed to parse house config YAML: %w", err)
	}

	if house.Tracking == "" {
		house.Tracking = "distance"
	}

	if err := house.Validate(); err != nil {
		return nil, fmt.Errorf("house config validation failed: %w", err)
	}

	return &house, nil
}

// Validate checks structural consistency of the house configuration.
// Topology referencing rooms the classifier does not know is tolerated at
// runtime (degrades to "no modeled barrier"), so only structure is checked here.
func (h *HouseConfig) Validate() error {
	if h.Tracking != "raw" && h.Tracking != "distance" {
		return fmt.Errorf("tracking must be \"raw\" or \"distance\", got %q", h.Tracking)
	}

	if len(h.People) == 0 {
		return fmt.Errorf("at least one tracked person is required")
	}

	seenPeople := make(map[string]bool)
	for _, p := range h.People {
		if p.ID == "" {
			return fmt.Errorf("person ID is required")
		}
		if seenPeople[p.ID] {
			return fmt.Errorf("duplicate person ID: %s", p.ID)
		}
		seenPeople[p.ID] = true
		if len(p.Devices) == 0 {
			return fmt.Errorf("person %s must have at least one device", p.ID)
		}
	}

	if (len(h.Doors) > 0 || len(h.MotionSensors) > 0) && h.HomieDeviceID == "" {
		return fmt.Errorf("homie_device_id is required when barriers are configured")
	}

	seenBarriers := make(map[string]bool)
	for _, d := range h.Doors {
		if d.ID == "" {
			return fmt.Errorf("door ID is required")
		}
		if seenBarriers[d.ID] {
			return fmt.Errorf("duplicate barrier ID: %s", d.ID)
		}
		seenBarriers[d.ID] = true
		if len(d.Rooms) != 2 {
			return fmt.Errorf("door %s must separate exactly two rooms, got %d", d.ID, len(d.Rooms))
		}
	}

	for _, m := range h.MotionSensors {
		if m.ID == "" {
			return fmt.Errorf("motion sensor ID is required")
		}
		if seenBarriers[m.ID] {
			return fmt.Errorf("duplicate barrier ID: %s", m.ID)
		}
		seenBarriers[m.ID] = true
		if len(m.Rooms) == 0 {
			return fmt.Errorf("motion sensor %s must cover at least one room", m.ID)
		}
	}

	return nil
}

// Person returns the configuration for a person by ID, or nil if not configured
func (h *HouseConfig) Person(id string) *PersonConfig {
	for i := range h.People {
		if h.People[i].ID == id {
			return &h.People[i]
		}
	}
	return nil
}
