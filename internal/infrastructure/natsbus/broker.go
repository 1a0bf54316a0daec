package natsbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nerrad567/gray-logic-link/internal/devicebus"
	"github.com/nerrad567/gray-logic-link/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultFlushTimeout   = 5 * time.Second
	defaultReconnectWait  = 2 * time.Second
)

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Broker is a devicebus.Broker backed by a NATS connection.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Broker struct {
	nc     *nats.Conn
	logger Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

var _ devicebus.Broker = (*Broker)(nil)

// Connect makes one connection attempt to the NATS server. After the
// initial connect the client reconnects indefinitely.
func Connect(ctx context.Context, cfg config.NATSConfig, logger Logger) (*Broker, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	opts := []nats.Option{
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(defaultReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS async error", "subject", subject, "error", err)
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Broker{nc: nc, logger: logger}, nil
}

// Dialer adapts Connect to devicebus.Dialer.
func Dialer(cfg config.NATSConfig, logger Logger) devicebus.Dialer {
	return func(ctx context.Context) (devicebus.Broker, error) {
		return Connect(ctx, cfg, logger)
	}
}

// Publish sends payload on the subject for topic and flushes.
func (b *Broker) Publish(topic string, payload []byte, _ byte, _ bool) error {
	if !b.IsConnected() {
		return ErrNotConnected
	}
	if err := b.nc.Publish(ToSubject(topic), payload); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	if err := b.nc.FlushTimeout(defaultFlushTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for a topic filter. Subscriptions survive
// reconnects inside the NATS client.
func (b *Broker) Subscribe(filter string, _ byte, handler devicebus.MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !b.IsConnected() {
		return ErrNotConnected
	}

	sub, err := b.nc.Subscribe(ToSubject(filter), func(msg *nats.Msg) {
		topic := FromSubject(msg.Subject)
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("NATS handler panic recovered", "topic", topic, "panic", r)
			}
		}()
		if err := handler(topic, msg.Data); err != nil {
			b.logger.Warn("NATS handler returned error", "topic", topic, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	// Make sure the server has the interest registered before returning.
	if err := b.nc.FlushTimeout(defaultFlushTimeout); err != nil {
		sub.Unsubscribe() //nolint:errcheck // already failing
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// IsConnected reports whether the NATS connection is up.
func (b *Broker) IsConnected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// Close unsubscribes and drains the connection.
func (b *Broker) Close() error {
	if b.nc == nil || b.nc.IsClosed() {
		return nil
	}

	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe() //nolint:errcheck // connection closes next
	}
	b.nc.Close()
	return nil
}
