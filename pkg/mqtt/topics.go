package mqtt

import (
	"fmt"
	"strings"
)

// Topic scheme:
//
//	espresense/devices/{deviceId}/{room}   proximity readings per device and room channel
//	espresense/person/{personId}           committed room-state snapshots (output)
//	homie/{deviceId}/{nodeId}/{property}   barrier sensors (door contact, motion)
const (
	// Homie properties carrying barrier signals
	PropertyDoorContact = "alarm-contact"
	PropertyMotion      = "alarm-motion"
)

// DeviceTopic returns the subscription filter for one tracking device.
// Pattern: espresense/devices/{deviceId}/#
func DeviceTopic(deviceID string) string {
	return fmt.Sprintf("espresense/devices/%s/#", deviceID)
}

// PersonTopic returns the publish topic for a person's room-state snapshots.
// Pattern: espresense/person/{personId}
func PersonTopic(personID string) string {
	return fmt.Sprintf("espresense/person/%s", personID)
}

// TrainingTopic returns the topic carrying ground-truth room labels for a
// person during training capture.
// Pattern: espresense/training/{personId}
func TrainingTopic(personID string) string {
	return fmt.Sprintf("espresense/training/%s", personID)
}

// BarrierTopic returns the subscription filter for one barrier sensor node.
// Pattern: homie/{deviceId}/{nodeId}/#
func BarrierTopic(deviceID, nodeID string) string {
	return fmt.Sprintf("homie/%s/%s/#", deviceID, nodeID)
}

// ParseDeviceTopic extracts the device and room channel from a device topic.
// Returns ok=false for topics that don't match the espresense device pattern.
func ParseDeviceTopic(topic string) (deviceID, room string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[0] != "espresense" || parts[1] != "devices" {
		return "", "", false
	}
	return parts[2], parts[len(parts)-1], true
}

// ParseBarrierTopic extracts the node and property from a Homie topic.
// Homie metadata topics (containing $) are rejected.
func ParseBarrierTopic(topic string) (nodeID, property string, ok bool) {
	if strings.Contains(topic, "$") {
		return "", "", false
	}
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[0] != "homie" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
