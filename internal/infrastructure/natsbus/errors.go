package natsbus

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-link/internal/devicebus"
)

var (
	// ErrConnectionFailed is returned when the NATS server cannot be reached.
	ErrConnectionFailed = fmt.Errorf("natsbus: %w", devicebus.ErrConnectionFailed)

	// ErrNotConnected is returned for operations on a closed or disconnected connection.
	ErrNotConnected = fmt.Errorf("natsbus: %w", devicebus.ErrNotConnected)

	// ErrPublishFailed is returned when a publish or flush fails.
	ErrPublishFailed = errors.New("natsbus: publish failed")

	// ErrSubscribeFailed is returned when a subscription cannot be created.
	ErrSubscribeFailed = errors.New("natsbus: subscribe failed")
)
