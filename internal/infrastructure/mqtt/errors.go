package mqtt

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-link/internal/devicebus"
)

// Errors returned by the MQTT broker. Connection errors wrap their devicebus
// counterparts so the engine can test them without knowing the transport.
var (
	// ErrNotConnected is returned for operations on a disconnected client.
	ErrNotConnected = fmt.Errorf("mqtt: %w", devicebus.ErrNotConnected)

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = fmt.Errorf("mqtt: %w", devicebus.ErrConnectionFailed)

	// ErrPublishFailed is returned when a publish is rejected or times out.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscription cannot be created.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned for QoS levels other than 0, 1 or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level")

	// ErrInvalidTopic is returned for an empty topic or filter.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
