package devicebus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Timestamp is a wall-clock instant encoded on the wire as fractional Unix
// seconds (e.g. 1718031234.512). Decoding also accepts RFC 3339 strings,
// which some device firmwares emit.
type Timestamp struct {
	time.Time
}

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp{Time: time.Now().UTC()}
}

// MarshalJSON encodes the timestamp as Unix seconds with microsecond precision.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	secs := float64(t.UnixMicro()) / float64(time.Second/time.Microsecond)
	return []byte(strconv.FormatFloat(secs, 'f', 6, 64)), nil
}

// UnmarshalJSON accepts null, a number of Unix seconds, or an RFC 3339 string.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}

	secs, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return fmt.Errorf("timestamp %s out of range", data)
	}
	whole, frac := math.Modf(secs)
	t.Time = time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
	return nil
}

// CommandEnvelope is published by Link to ask a device to do something.
// Topic: devices/{device_id}/command, QoS 1.
type CommandEnvelope struct {
	// DeviceID is the target device.
	DeviceID string `json:"device_id"`

	// Command is the wire command name (e.g. "set_power", "set_range").
	Command string `json:"command"`

	// Parameters carries command-specific values.
	//   {"power": true} for set_power
	//   {"instance": "temperature", "value": 80} for set_range
	Parameters map[string]any `json:"parameters"`

	// CorrelationID links this command to the device's response.
	CorrelationID string `json:"correlation_id"`

	// Timestamp is when the command was issued.
	Timestamp Timestamp `json:"timestamp"`
}

// ResponseStatus is the outcome a device reports for a command.
type ResponseStatus string

const (
	// ResponseSuccess indicates the device applied the command.
	ResponseSuccess ResponseStatus = "success"

	// ResponseError indicates the device rejected or failed the command.
	ResponseError ResponseStatus = "error"

	// ResponseAcknowledged indicates the device received the command and a
	// final response will follow. Only some devices send it.
	ResponseAcknowledged ResponseStatus = "acknowledged"
)

// ResponseEnvelope is published by a device in answer to a command.
// Topic: devices/{device_id}/response, QoS 1.
type ResponseEnvelope struct {
	DeviceID      string         `json:"device_id"`
	Status        ResponseStatus `json:"status"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	Timestamp     Timestamp      `json:"timestamp"`
}

// StatusEnvelope is an unsolicited state push from a device, received on
// either the status or the feedback topic.
//
// The wire payload is a flat device-defined object. The "timestamp" key is
// lifted into Timestamp; everything else is kept verbatim in State.
type StatusEnvelope struct {
	DeviceID  string
	Family    Family
	State     map[string]any
	Timestamp Timestamp
}

// StatusRequest asks a device to push its current state.
// Topic: devices/{device_id}/status/request.
type StatusRequest struct {
	Request   string    `json:"request"`
	Timestamp Timestamp `json:"timestamp"`
}

// statusRequestKind is the value of StatusRequest.Request.
const statusRequestKind = "status"

// NewStatusRequest returns a status request stamped with the current time.
func NewStatusRequest() StatusRequest {
	return StatusRequest{Request: statusRequestKind, Timestamp: Now()}
}

// Message is a decoded inbound message. Exactly one of Command, Response or
// Status is set, selected by Family.
type Message struct {
	Family   Family
	DeviceID string
	Topic    string

	Command  *CommandEnvelope
	Response *ResponseEnvelope
	Status   *StatusEnvelope
	Request  *StatusRequest
}

// Decode validates an inbound payload against the contract of the topic it
// arrived on. Every failure wraps ErrMalformedMessage.
func Decode(topic string, payload []byte) (Message, error) {
	deviceID, family, err := ParseTopic(topic)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	msg := Message{Family: family, DeviceID: deviceID, Topic: topic}

	switch family {
	case FamilyCommand:
		env, err := decodeCommand(deviceID, payload)
		if err != nil {
			return Message{}, err
		}
		msg.Command = &env
	case FamilyResponse:
		env, err := decodeResponse(deviceID, payload)
		if err != nil {
			return Message{}, err
		}
		msg.Response = &env
	case FamilyStatus, FamilyFeedback:
		env, err := decodeStatus(deviceID, family, payload)
		if err != nil {
			return Message{}, err
		}
		msg.Status = &env
	case FamilyStatusRequest:
		var req StatusRequest
		if err := unmarshalObject(payload, &req); err != nil {
			return Message{}, err
		}
		msg.Request = &req
	}

	return msg, nil
}

func decodeCommand(deviceID string, payload []byte) (CommandEnvelope, error) {
	var env CommandEnvelope
	if err := unmarshalObject(payload, &env); err != nil {
		return CommandEnvelope{}, err
	}
	if env.Command == "" {
		return CommandEnvelope{}, fmt.Errorf("%w: command is required", ErrMalformedMessage)
	}
	if env.CorrelationID == "" {
		return CommandEnvelope{}, fmt.Errorf("%w: correlation_id is required", ErrMalformedMessage)
	}
	if err := reconcileDeviceID(&env.DeviceID, deviceID); err != nil {
		return CommandEnvelope{}, err
	}
	return env, nil
}

func decodeResponse(deviceID string, payload []byte) (ResponseEnvelope, error) {
	var env ResponseEnvelope
	if err := unmarshalObject(payload, &env); err != nil {
		return ResponseEnvelope{}, err
	}
	if env.CorrelationID == "" {
		return ResponseEnvelope{}, fmt.Errorf("%w: correlation_id is required", ErrMalformedMessage)
	}
	switch env.Status {
	case ResponseSuccess, ResponseError, ResponseAcknowledged:
	case "":
		return ResponseEnvelope{}, fmt.Errorf("%w: status is required", ErrMalformedMessage)
	default:
		return ResponseEnvelope{}, fmt.Errorf("%w: unknown response status %q", ErrMalformedMessage, env.Status)
	}
	if err := reconcileDeviceID(&env.DeviceID, deviceID); err != nil {
		return ResponseEnvelope{}, err
	}
	return env, nil
}

func decodeStatus(deviceID string, family Family, payload []byte) (StatusEnvelope, error) {
	var raw map[string]json.RawMessage
	if err := unmarshalObject(payload, &raw); err != nil {
		return StatusEnvelope{}, err
	}

	env := StatusEnvelope{
		DeviceID: deviceID,
		Family:   family,
		State:    make(map[string]any, len(raw)),
	}

	for key, value := range raw {
		if key == "timestamp" {
			if err := json.Unmarshal(value, &env.Timestamp); err != nil {
				return StatusEnvelope{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
			}
			continue
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return StatusEnvelope{}, fmt.Errorf("%w: field %q: %w", ErrMalformedMessage, key, err)
		}
		env.State[key] = v
	}

	if id, ok := env.State["device_id"].(string); ok && id != deviceID {
		return StatusEnvelope{}, fmt.Errorf("%w: device_id %q does not match topic device %q",
			ErrMalformedMessage, id, deviceID)
	}

	return env, nil
}

// unmarshalObject decodes payload into v, requiring a top-level JSON object.
func unmarshalObject(payload []byte, v any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: payload is not a JSON object", ErrMalformedMessage)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	return nil
}

// reconcileDeviceID fills an empty body device ID from the topic and rejects
// a body that names a different device.
func reconcileDeviceID(bodyID *string, topicID string) error {
	if *bodyID == "" {
		*bodyID = topicID
		return nil
	}
	if *bodyID != topicID {
		return fmt.Errorf("%w: device_id %q does not match topic device %q",
			ErrMalformedMessage, *bodyID, topicID)
	}
	return nil
}
