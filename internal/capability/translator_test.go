package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-link/internal/command"
)

// fakeSender records Send calls and returns a canned outcome.
type fakeSender struct {
	calls []sendCall
	cmd   command.Command
	err   error
}

type sendCall struct {
	deviceID string
	command  string
	params   map[string]any
	timeout  time.Duration
}

func (s *fakeSender) Send(_ context.Context, deviceID, commandType string, params map[string]any, timeout time.Duration) (command.Command, error) {
	s.calls = append(s.calls, sendCall{deviceID, commandType, params, timeout})
	cmd := s.cmd
	cmd.DeviceID = deviceID
	cmd.CommandType = commandType
	return cmd, s.err
}

// =============================================================================
// Translate Tests
// =============================================================================

func TestTranslate(t *testing.T) {
	tests := []struct {
		name    string
		capType string
		state   State
		command string
		params  map[string]any
	}{
		{"on_off short", "on_off", State{Value: true}, "set_power", map[string]any{"power": true}},
		{"on_off qualified", "devices.capabilities.on_off", State{Instance: "on", Value: false}, "set_power", map[string]any{"power": false}},
		{"range", "devices.capabilities.range", State{Instance: "temperature", Value: 80.0}, "set_range", map[string]any{"instance": "temperature", "value": 80.0}},
		{"range int value", "range", State{Instance: "temperature", Value: 75}, "set_range", map[string]any{"instance": "temperature", "value": 75.0}},
		{"mode", "mode", State{Instance: "program", Value: "eco"}, "set_mode", map[string]any{"instance": "program", "value": "eco"}},
		{"toggle without value", "toggle", State{Instance: "keep_warm"}, "set_toggle", map[string]any{"instance": "keep_warm"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire, err := Translate(tt.capType, tt.state)
			if err != nil {
				t.Fatalf("Translate() error = %v", err)
			}
			if wire.Command != tt.command {
				t.Errorf("Command = %q, want %q", wire.Command, tt.command)
			}
			if len(wire.Parameters) != len(tt.params) {
				t.Fatalf("Parameters = %v, want %v", wire.Parameters, tt.params)
			}
			for k, v := range tt.params {
				if wire.Parameters[k] != v {
					t.Errorf("Parameters[%q] = %v, want %v", k, wire.Parameters[k], v)
				}
			}
		})
	}
}

func TestTranslate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		capType string
		state   State
		want    error
	}{
		{"unknown type", "unknown_foo", State{Value: 1}, ErrUnsupportedCapability},
		{"unknown qualified", "devices.capabilities.color_setting", State{}, ErrUnsupportedCapability},
		{"power not bool", "on_off", State{Value: "yes"}, ErrInvalidState},
		{"range missing instance", "range", State{Value: 10.0}, ErrInvalidState},
		{"range non numeric", "range", State{Instance: "temperature", Value: "hot"}, ErrInvalidState},
		{"mode missing instance", "mode", State{Value: "eco"}, ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Translate(tt.capType, tt.state); !errors.Is(err, tt.want) {
				t.Errorf("Translate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSupported_AllTranslate(t *testing.T) {
	for _, typ := range Supported() {
		if _, ok := Lookup(typ.Qualified()); !ok {
			t.Errorf("Lookup(%q) not found", typ.Qualified())
		}
	}
	if len(Supported()) != 4 {
		t.Errorf("Supported() = %v, want 4 types", Supported())
	}
}

// =============================================================================
// Invoke Tests
// =============================================================================

func TestInvoke_OnOffSendsSetPower(t *testing.T) {
	sender := &fakeSender{cmd: command.Command{
		Status:       command.StatusCompleted,
		ResponseData: map[string]any{"power": true},
	}}
	tr := NewTranslator(sender, 2*time.Second)

	result, err := tr.Invoke(context.Background(), "kettle-01", "on_off", State{Value: true})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if result.Status != StatusDone || result.Data["power"] != true {
		t.Errorf("result = %+v, want DONE with power=true", result)
	}

	if len(sender.calls) != 1 {
		t.Fatalf("Send called %d times, want 1", len(sender.calls))
	}
	call := sender.calls[0]
	if call.command != "set_power" || call.params["power"] != true || call.timeout != 2*time.Second {
		t.Errorf("Send call = %+v", call)
	}
}

func TestInvoke_UnsupportedPublishesNothing(t *testing.T) {
	sender := &fakeSender{}
	tr := NewTranslator(sender, time.Second)

	_, err := tr.Invoke(context.Background(), "kettle-01", "unknown_foo", State{Value: 1})
	if !errors.Is(err, ErrUnsupportedCapability) {
		t.Fatalf("Invoke() error = %v, want ErrUnsupportedCapability", err)
	}
	if len(sender.calls) != 0 {
		t.Errorf("Send called %d times, want 0", len(sender.calls))
	}
}

func TestInvoke_UndeliveredIsErrorResult(t *testing.T) {
	sender := &fakeSender{
		cmd: command.Command{Status: command.StatusFailed, Undelivered: true, Error: "not connected"},
		err: errors.New("not connected"),
	}
	tr := NewTranslator(sender, time.Second)

	result, err := tr.Invoke(context.Background(), "kettle-01", "on_off", State{Value: true})
	if err != nil {
		t.Fatalf("Invoke() error = %v, want nil", err)
	}
	if result.Status != StatusError || result.ErrorCode != ErrorCodeDeviceUnreachable {
		t.Errorf("result = %+v, want ERROR/DEVICE_UNREACHABLE", result)
	}
	if !errors.Is(result.Cause, command.ErrUndelivered) {
		t.Errorf("Cause = %v, want ErrUndelivered", result.Cause)
	}
}

func TestInvoke_CancelledReturnsError(t *testing.T) {
	sender := &fakeSender{
		cmd: command.Command{Status: command.StatusSent},
		err: context.Canceled,
	}
	tr := NewTranslator(sender, time.Second)

	if _, err := tr.Invoke(context.Background(), "kettle-01", "on_off", State{Value: true}); !errors.Is(err, context.Canceled) {
		t.Errorf("Invoke() error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Result Mapping Tests
// =============================================================================

func TestFromCommand(t *testing.T) {
	tests := []struct {
		name    string
		cmd     command.Command
		status  ResultStatus
		code    string
		message string
	}{
		{"completed", command.Command{Status: command.StatusCompleted}, StatusDone, "", ""},
		{"failed with message", command.Command{Status: command.StatusFailed, Error: "lid open"}, StatusError, ErrorCodeInternalError, "lid open"},
		{"failed without message", command.Command{Status: command.StatusFailed}, StatusError, ErrorCodeInternalError, "command failed"},
		{"timeout", command.Command{Status: command.StatusTimeout}, StatusError, ErrorCodeDeviceUnreachable, "command timeout"},
		{"pending", command.Command{Status: command.StatusPending}, StatusError, ErrorCodeInternalError, "unexpected status: pending"},
		{"acknowledged", command.Command{Status: command.StatusAcknowledged}, StatusError, ErrorCodeInternalError, "unexpected status: acknowledged"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := FromCommand(tt.cmd)
			if r.Status != tt.status || r.ErrorCode != tt.code || r.ErrorMessage != tt.message {
				t.Errorf("FromCommand() = %+v, want %s/%q/%q", r, tt.status, tt.code, tt.message)
			}
		})
	}
}

func TestErrorResult_Codes(t *testing.T) {
	if r := ErrorResult(ErrUnsupportedCapability); r.ErrorCode != ErrorCodeInvalidAction {
		t.Errorf("ErrorResult(unsupported) code = %q", r.ErrorCode)
	}
	if r := ErrorResult(ErrInvalidState); r.ErrorCode != ErrorCodeInvalidValue {
		t.Errorf("ErrorResult(invalid state) code = %q", r.ErrorCode)
	}
	if r := ErrorResult(errors.New("boom")); r.ErrorCode != ErrorCodeInternalError || r.Status != StatusError {
		t.Errorf("ErrorResult(other) = %+v", r)
	}
}
