package devicebus

import (
	"context"
	"fmt"
	"time"
)

// MessageHandler is the callback signature for received broker messages.
//
// Returned errors are logged by the broker implementation and do not affect
// acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Broker is the publish/subscribe connection used by the adapter.
//
// Implementations must be safe for concurrent use. Topic filters use MQTT
// syntax ("+" single level, "#" remainder); non-MQTT brokers translate them.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	IsConnected() bool
	Close() error
}

// Dialer opens one broker connection attempt.
type Dialer func(ctx context.Context) (Broker, error)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
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

// Metrics receives per-family traffic counts from the receive loops.
type Metrics interface {
	MessageReceived(family string)
	MessageMalformed(family string)
	MessageDropped(family string)
}

type noopMetrics struct{}

func (noopMetrics) MessageReceived(string)  {}
func (noopMetrics) MessageMalformed(string) {}
func (noopMetrics) MessageDropped(string)   {}

// RetryPolicy bounds broker connection attempts.
type RetryPolicy struct {
	// Attempts is the total number of dial attempts. Values below 1 mean 1.
	Attempts int

	// Delay is the wait between attempts.
	Delay time.Duration

	// Backoff doubles Delay after every failed attempt, capped at MaxDelay.
	Backoff bool

	// MaxDelay caps the backoff delay. Zero means no cap.
	MaxDelay time.Duration
}

// Connect dials the broker until it succeeds or the policy is exhausted.
//
// Exhaustion returns an error wrapping ErrConnectionFailed and the last dial
// error. Whether that is fatal is the caller's decision.
//
// Parameters:
//   - ctx: Cancels waiting between attempts
//   - dial: Opens one connection attempt
//   - policy: Attempt count and delay
//   - log: Optional logger (may be nil)
//
// Returns:
//   - Broker: Connected broker
//   - error: Wrapped ErrConnectionFailed, or ctx.Err() if cancelled
func Connect(ctx context.Context, dial Dialer, policy RetryPolicy, log Logger) (Broker, error) {
	if log == nil {
		log = noopLogger{}
	}

	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := policy.Delay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		broker, err := dial(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("broker connected after retry", "attempt", attempt)
			}
			return broker, nil
		}
		lastErr = err

		log.Warn("broker connection attempt failed",
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err,
		)

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		case <-time.After(delay):
		}

		if policy.Backoff {
			delay *= 2
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrConnectionFailed, attempts, lastErr)
}
