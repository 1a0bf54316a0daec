package command

import "errors"

// Domain-specific errors for command correlation.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrCommandTimeout is reported by Command.Err when no response arrived
	// before the deadline.
	ErrCommandTimeout = errors.New("command: timed out waiting for device response")

	// ErrDeviceReported is reported by Command.Err when the device answered
	// with an error status. The device's message follows the sentinel.
	ErrDeviceReported = errors.New("command: device reported error")

	// ErrUndelivered is reported by Command.Err when the command could not be
	// handed to the broker.
	ErrUndelivered = errors.New("command: not delivered to broker")

	// ErrInvalidCommand is returned by Send for an empty command type.
	ErrInvalidCommand = errors.New("command: command type is required")

	// ErrUnexpectedStatus is reported by Command.Err for a non-terminal status.
	ErrUnexpectedStatus = errors.New("command: unexpected status")
)
