package engine

import "errors"

// Domain errors for the engine lifecycle.
var (
	// ErrAlreadyConnected is returned by Connect when a broker session is active.
	ErrAlreadyConnected = errors.New("engine: already connected")
)
