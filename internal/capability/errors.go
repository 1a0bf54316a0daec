package capability

import "errors"

// Domain errors for capability translation.
var (
	// ErrUnsupportedCapability is returned for capability types outside the
	// translation table. No command is published.
	ErrUnsupportedCapability = errors.New("capability: unsupported capability type")

	// ErrInvalidState is returned when a capability state cannot be turned
	// into wire parameters. No command is published.
	ErrInvalidState = errors.New("capability: invalid capability state")
)

// Voice-platform error codes carried by ERROR results.
const (
	ErrorCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrorCodeDeviceNotFound    = "DEVICE_NOT_FOUND"
	ErrorCodeInvalidAction     = "INVALID_ACTION"
	ErrorCodeInvalidValue      = "INVALID_VALUE"
	ErrorCodeInternalError     = "INTERNAL_ERROR"
)
