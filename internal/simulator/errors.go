package simulator

import "errors"

// Domain errors for the simulator.
var (
	// ErrUnknownDevice is returned for device IDs the simulator does not run.
	ErrUnknownDevice = errors.New("simulator: unknown device")

	// ErrUnknownCommand is reported to Link for wire commands no device
	// understands.
	ErrUnknownCommand = errors.New("simulator: unknown command")

	// ErrBadParameters is reported to Link when command parameters are
	// missing or mistyped.
	ErrBadParameters = errors.New("simulator: invalid parameters")
)
