package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-link/internal/command"
)

// ResultStatus is the platform-facing outcome of an invocation.
type ResultStatus string

// Result statuses.
const (
	StatusDone  ResultStatus = "DONE"
	StatusError ResultStatus = "ERROR"
)

// Result is the outcome of one capability invocation.
type Result struct {
	Status       ResultStatus   `json:"status"`
	Data         map[string]any `json:"data,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`

	// CorrelationID identifies the underlying command, when one was sent.
	CorrelationID string `json:"-"`

	// Cause is the command outcome error (nil for DONE).
	Cause error `json:"-"`
}

// Sender sends a command and waits for its outcome. *command.Correlator
// satisfies it.
type Sender interface {
	Send(ctx context.Context, deviceID, commandType string, params map[string]any, timeout time.Duration) (command.Command, error)
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Translator adapts platform capability invocations to device commands.
type Translator struct {
	sender  Sender
	timeout time.Duration
	logger  Logger
}

// NewTranslator creates a Translator. A zero timeout defers to the sender's
// default.
func NewTranslator(sender Sender, timeout time.Duration) *Translator {
	return &Translator{
		sender:  sender,
		timeout: timeout,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the translator.
func (t *Translator) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	t.logger = logger
}

// Invoke translates a capability invocation, sends it, and maps the outcome.
//
// Unsupported types and unusable states fail before anything is published.
// Device errors, timeouts and undelivered commands come back as ERROR results
// with a nil error; the error return is reserved for invalid input and
// caller cancellation.
func (t *Translator) Invoke(ctx context.Context, deviceID, capType string, state State) (Result, error) {
	wire, err := Translate(capType, state)
	if err != nil {
		t.logger.Warn("capability rejected",
			"device_id", deviceID,
			"capability", capType,
			"error", err,
		)
		return Result{}, err
	}

	cmd, err := t.sender.Send(ctx, deviceID, wire.Command, wire.Parameters, t.timeout)
	if err != nil {
		if !cmd.Undelivered {
			return Result{}, err
		}
		t.logger.Warn("capability command not delivered",
			"device_id", deviceID,
			"command", wire.Command,
			"error", err,
		)
	}

	result := FromCommand(cmd)
	t.logger.Debug("capability invoked",
		"device_id", deviceID,
		"capability", capType,
		"command", wire.Command,
		"correlation_id", cmd.CorrelationID,
		"result", result.Status,
	)
	return result, nil
}

// FromCommand maps a resolved command onto a platform result. Every command
// status has an outcome.
func FromCommand(cmd command.Command) Result {
	r := Result{
		Status:        StatusError,
		CorrelationID: cmd.CorrelationID,
		Cause:         cmd.Err(),
	}

	switch cmd.Status {
	case command.StatusCompleted:
		r.Status = StatusDone
		r.Data = cmd.ResponseData
	case command.StatusFailed:
		r.ErrorCode = ErrorCodeInternalError
		if cmd.Undelivered {
			r.ErrorCode = ErrorCodeDeviceUnreachable
		}
		r.ErrorMessage = cmd.Error
		if r.ErrorMessage == "" {
			r.ErrorMessage = "command failed"
		}
	case command.StatusTimeout:
		r.ErrorCode = ErrorCodeDeviceUnreachable
		r.ErrorMessage = "command timeout"
	default:
		r.ErrorCode = ErrorCodeInternalError
		r.ErrorMessage = fmt.Sprintf("unexpected status: %s", cmd.Status)
	}
	return r
}

// ErrorResult builds an ERROR result for failures that never reached the
// correlator, choosing the platform code from the error.
func ErrorResult(err error) Result {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, ErrUnsupportedCapability):
		code = ErrorCodeInvalidAction
	case errors.Is(err, ErrInvalidState):
		code = ErrorCodeInvalidValue
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrorCodeDeviceUnreachable
	}
	return Result{
		Status:       StatusError,
		ErrorCode:    code,
		ErrorMessage: err.Error(),
		Cause:        err,
	}
}
