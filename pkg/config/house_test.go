package config

import (
	"strings"
	"testing"
)

const validHouseYAML = `
homie_device_id: controller
tracking: distance
transition_constraints_enabled: true
people:
  - id: alice
    name: Alice
    devices: [watch-alice, phone-alice]
    ignored_rooms: [garage]
  - id: bob
    name: Bob
    devices: [watch-bob]
doors:
  - id: door-kitchen-hall
    name: Kitchen door
    rooms: [kitchen, hall]
motion_sensors:
  - id: motion-hall
    name: Hall motion
    rooms: [hall]
`

func TestParseHouseConfig(t *testing.T) {
	house, err := ParseHouseConfig([]byte(validHouseYAML))
	if err != nil {
		t.Fatalf("ParseHouseConfig failed: %v", err)
	}

	if house.HomieDeviceID != "controller" {
		t.Errorf("Expected homie device controller, got %q", house.HomieDeviceID)
	}
	if !house.TransitionConstraintsEnabled {
		t.Error("Expected transition constraints enabled")
	}
	if len(house.People) != 2 {
		t.Fatalf("Expected 2 people, got %d", len(house.People))
	}

	alice := house.Person("alice")
	if alice == nil {
		t.Fatal("Expected alice to be configured")
	}
	if len(alice.Devices) != 2 || alice.Devices[0] != "watch-alice" {
		t.Errorf("Unexpected devices for alice: %v", alice.Devices)
	}
	if len(alice.IgnoredRooms) != 1 || alice.IgnoredRooms[0] != "garage" {
		t.Errorf("Unexpected ignored rooms for alice: %v", alice.IgnoredRooms)
	}

	if house.Person("carol") != nil {
		t.Error("Unconfigured person lookup should return nil")
	}
}

func TestParseHouseConfigDefaultsTracking(t *testing.T) {
	yaml := `
people:
  - id: alice
    devices: [watch-alice]
`
	house, err := ParseHouseConfig([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseHouseConfig failed: %v", err)
	}
	if house.Tracking != "distance" {
		t.Errorf("Expected default tracking distance, got %q", house.Tracking)
	}
}

func TestHouseConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid tracking signal",
			yaml:    "tracking: gps\npeople:\n  - id: alice\n    devices: [w]",
			wantErr: "tracking must be",
		},
		{
			name:    "no people",
			yaml:    "tracking: raw",
			wantErr: "at least one tracked person",
		},
		{
			name:    "person without devices",
			yaml:    "people:\n  - id: alice",
			wantErr: "at least one device",
		},
		{
			name:    "duplicate person",
			yaml:    "people:\n  - id: alice\n    devices: [w]\n  - id: alice\n    devices: [p]",
			wantErr: "duplicate person ID",
		},
		{
			name:    "barriers without homie device",
			yaml:    "people:\n  - id: alice\n    devices: [w]\ndoors:\n  - id: d1\n    rooms: [a, b]",
			wantErr: "homie_device_id is required",
		},
		{
			name:    "door with one room",
			yaml:    "homie_device_id: c\npeople:\n  - id: alice\n    devices: [w]\ndoors:\n  - id: d1\n    rooms: [a]",
			wantErr: "exactly two rooms",
		},
		{
			name:    "duplicate barrier across kinds",
			yaml:    "homie_device_id: c\npeople:\n  - id: alice\n    devices: [w]\ndoors:\n  - id: b1\n    rooms: [a, b]\nmotion_sensors:\n  - id: b1\n    rooms: [a]",
			wantErr: "duplicate barrier ID",
		},
		{
			name:    "motion sensor without rooms",
			yaml:    "homie_device_id: c\npeople:\n  - id: alice\n    devices: [w]\nmotion_sensors:\n  - id: m1",
			wantErr: "at least one room",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHouseConfig([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
