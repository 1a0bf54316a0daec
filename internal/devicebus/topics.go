package devicebus

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every device topic.
const TopicPrefix = "devices"

// Family identifies the kind of traffic carried by a device topic.
type Family string

// Topic families of the device contract.
const (
	FamilyCommand       Family = "command"
	FamilyResponse      Family = "response"
	FamilyStatus        Family = "status"
	FamilyFeedback      Family = "feedback"
	FamilyStatusRequest Family = "status/request"
)

// Topics provides builders for device topics.
// Using these helpers keeps topic naming identical across Link, the device
// simulator and the tests.
//
//	topic := devicebus.Topics{}.Command("kettle-01")
//	// Returns: "devices/kettle-01/command"
type Topics struct{}

// Command returns the topic a device listens on for command envelopes.
//
// Example: devices/kettle-01/command
func (Topics) Command(deviceID string) string {
	return deviceTopic(deviceID, FamilyCommand)
}

// Response returns the topic a device answers commands on.
//
// Example: devices/kettle-01/response
func (Topics) Response(deviceID string) string {
	return deviceTopic(deviceID, FamilyResponse)
}

// Status returns the topic a device pushes its full state on.
//
// Example: devices/kettle-01/status
func (Topics) Status(deviceID string) string {
	return deviceTopic(deviceID, FamilyStatus)
}

// Feedback returns the topic a device pushes incremental state changes on.
//
// Example: devices/kettle-01/feedback
func (Topics) Feedback(deviceID string) string {
	return deviceTopic(deviceID, FamilyFeedback)
}

// StatusRequest returns the topic used to ask a device for a status push.
//
// Example: devices/kettle-01/status/request
func (Topics) StatusRequest(deviceID string) string {
	return deviceTopic(deviceID, FamilyStatusRequest)
}

// All returns the single-level wildcard subscription for a topic family.
//
// Example: devices/+/response
func (Topics) All(family Family) string {
	return fmt.Sprintf("%s/+/%s", TopicPrefix, family)
}

func deviceTopic(deviceID string, family Family) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, deviceID, family)
}

// ValidateDeviceID reports whether id can be embedded in a device topic.
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDeviceID)
	}
	if strings.ContainsAny(id, "/+#. \t\n") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidDeviceID, id)
	}
	return nil
}

// ParseTopic splits a concrete device topic into its device ID and family.
//
// Both devices/{id}/{family} and devices/{id}/status/request are accepted.
func ParseTopic(topic string) (string, Family, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != TopicPrefix || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}

	deviceID := parts[1]
	family := Family(strings.Join(parts[2:], "/"))

	switch family {
	case FamilyCommand, FamilyResponse, FamilyStatus, FamilyFeedback, FamilyStatusRequest:
		return deviceID, family, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
}

// TopicMatches reports whether topic matches an MQTT-style subscription
// filter. "+" matches one level and a trailing "#" matches any remainder.
func TopicMatches(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")

	for i, level := range f {
		if level == "#" {
			return i == len(f)-1
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
