package command

import (
	"fmt"
	"maps"
	"time"
)

// Status is the lifecycle state of a tracked command.
type Status string

// Command states. Completed, Failed and Timeout are terminal.
const (
	// StatusPending means the command is registered but not yet published.
	StatusPending Status = "pending"

	// StatusSent means the broker accepted the command envelope.
	StatusSent Status = "sent"

	// StatusAcknowledged means the device confirmed receipt and a final
	// response is still expected. Only some devices send acknowledgements.
	StatusAcknowledged Status = "acknowledged"

	// StatusCompleted means the device reported success.
	StatusCompleted Status = "completed"

	// StatusFailed means the device reported an error or the publish failed.
	StatusFailed Status = "failed"

	// StatusTimeout means no final response arrived before the deadline.
	StatusTimeout Status = "timeout"
)

// IsTerminal reports whether s is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout:
		return true
	default:
		return false
	}
}

// Command is one request to a device, as tracked by the Correlator.
//
// Values returned by the Correlator are snapshots; mutating them has no
// effect on the tracked entry.
type Command struct {
	DeviceID      string         `json:"device_id"`
	CommandType   string         `json:"command_type"`
	Parameters    map[string]any `json:"parameters"`
	CorrelationID string         `json:"correlation_id"`
	Status        Status         `json:"status"`
	ResponseData  map[string]any `json:"response_data,omitempty"`
	Error         string         `json:"error,omitempty"`

	// Undelivered is set when the command failed before reaching the broker.
	Undelivered bool `json:"undelivered,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	SentAt     time.Time `json:"sent_at,omitzero"`
	ResolvedAt time.Time `json:"resolved_at,omitzero"`
}

// Err maps the command outcome onto the package sentinels.
// It returns nil only for StatusCompleted.
func (c Command) Err() error {
	switch c.Status {
	case StatusCompleted:
		return nil
	case StatusTimeout:
		return ErrCommandTimeout
	case StatusFailed:
		if c.Undelivered {
			return fmt.Errorf("%w: %s", ErrUndelivered, c.Error)
		}
		if c.Error == "" {
			return ErrDeviceReported
		}
		return fmt.Errorf("%w: %s", ErrDeviceReported, c.Error)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedStatus, c.Status)
	}
}

// Latency is the time from creation to resolution, or zero if unresolved.
func (c Command) Latency() time.Duration {
	if c.ResolvedAt.IsZero() {
		return 0
	}
	return c.ResolvedAt.Sub(c.CreatedAt)
}

// clone returns a deep copy of the top-level maps.
func (c Command) clone() Command {
	out := c
	out.Parameters = maps.Clone(c.Parameters)
	out.ResponseData = maps.Clone(c.ResponseData)
	return out
}
