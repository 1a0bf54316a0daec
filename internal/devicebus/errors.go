package devicebus

import "errors"

// Domain-specific errors for device transport operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectionFailed is returned when the broker could not be reached
	// within the configured number of attempts.
	ErrConnectionFailed = errors.New("devicebus: connection failed")

	// ErrNotConnected is returned when publishing without a live broker connection.
	ErrNotConnected = errors.New("devicebus: not connected")

	// ErrPublishFailed is returned when the broker rejects or times out a publish.
	ErrPublishFailed = errors.New("devicebus: publish failed")

	// ErrSubscribeFailed is returned when a topic family subscription fails.
	ErrSubscribeFailed = errors.New("devicebus: subscribe failed")

	// ErrMalformedMessage is returned when an inbound payload cannot be decoded
	// or fails validation. Messages carrying this error are dropped.
	ErrMalformedMessage = errors.New("devicebus: malformed message")

	// ErrInvalidDeviceID is returned for empty device IDs or IDs containing
	// topic separators or wildcards.
	ErrInvalidDeviceID = errors.New("devicebus: invalid device id")

	// ErrUnknownTopic is returned when a topic does not follow the device contract.
	ErrUnknownTopic = errors.New("devicebus: topic outside device contract")

	// ErrAdapterStopped is returned when starting an adapter that was already stopped.
	ErrAdapterStopped = errors.New("devicebus: adapter stopped")
)
