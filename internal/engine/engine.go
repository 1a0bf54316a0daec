// Package engine wires the device transport, command correlator, capability
// translator and status cache into one owned instance with a connect and
// disconnect lifecycle.
//
// The host constructs an Engine, connects it with a broker Dialer, and hands
// the Engine to its collaborators (HTTP handlers, observers). There is no
// package-level state.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/gray-logic-link/internal/capability"
	"github.com/nerrad567/gray-logic-link/internal/command"
	"github.com/nerrad567/gray-logic-link/internal/devicebus"
	"github.com/nerrad567/gray-logic-link/internal/status"
)

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

// Metrics is the union of the component metric sinks.
type Metrics interface {
	devicebus.Metrics
	command.Metrics
	status.Metrics
}

// Options configures an Engine.
type Options struct {
	Logger  Logger
	Metrics Metrics

	// Retry bounds broker connection attempts in Connect.
	Retry devicebus.RetryPolicy

	// QoS for device topics. Defaults to devicebus.DefaultQoS.
	QoS byte

	// BufferSize is the per-family inbound queue length.
	BufferSize int

	// MonitorCommands subscribes to command topics; observed commands are
	// passed to OnCommandObserved.
	MonitorCommands bool

	CommandTimeout    time.Duration
	MaxCommandAge     time.Duration
	EvictionInterval  time.Duration
	ResolvedRetention time.Duration

	// OnCommandResolved is called once per command reaching a terminal state.
	OnCommandResolved func(command.Command)

	// OnCommandObserved receives commands seen on the bus when MonitorCommands is set.
	OnCommandObserved func(devicebus.CommandEnvelope)
}

// Engine is the correlation engine instance.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Engine struct {
	opts   Options
	logger Logger

	correlator *command.Correlator
	translator *capability.Translator
	cache      *status.Cache

	// connMu serialises Connect and Disconnect; mu guards the session fields.
	connMu  sync.Mutex
	mu      sync.RWMutex
	broker  devicebus.Broker
	adapter *devicebus.Adapter
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	refresh singleflight.Group
}

// New builds an unconnected engine. Commands sent before Connect fail as
// undelivered; the status cache is usable immediately.
func New(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	e := &Engine{
		opts:   opts,
		logger: opts.Logger,
		cache:  status.NewCache(),
	}
	e.cache.SetLogger(opts.Logger)
	if opts.Metrics != nil {
		e.cache.SetMetrics(opts.Metrics)
	}

	var cmdMetrics command.Metrics
	if opts.Metrics != nil {
		cmdMetrics = opts.Metrics
	}
	correlator, err := command.NewCorrelator(command.Options{
		Publisher:         command.PublisherFunc(e.publishCommand),
		Logger:            opts.Logger,
		Metrics:           cmdMetrics,
		DefaultTimeout:    opts.CommandTimeout,
		MaxAge:            opts.MaxCommandAge,
		ResolvedRetention: opts.ResolvedRetention,
		EvictionInterval:  opts.EvictionInterval,
		OnResolved:        opts.OnCommandResolved,
	})
	if err != nil {
		return nil, fmt.Errorf("creating correlator: %w", err)
	}
	e.correlator = correlator

	e.translator = capability.NewTranslator(correlator, opts.CommandTimeout)
	e.translator.SetLogger(opts.Logger)

	return e, nil
}

// Connect dials the broker with the configured retry policy, subscribes the
// receive loops and starts the eviction sweep.
//
// A ConnectionFailure (devicebus.ErrConnectionFailed) is returned to the
// caller; whether that is fatal is the host's decision.
func (e *Engine) Connect(ctx context.Context, dial devicebus.Dialer) error {
	e.connMu.Lock()
	defer e.connMu.Unlock()

	e.mu.RLock()
	active := e.adapter != nil
	e.mu.RUnlock()
	if active {
		return ErrAlreadyConnected
	}

	broker, err := devicebus.Connect(ctx, dial, e.opts.Retry, e.logger)
	if err != nil {
		return err
	}

	var busMetrics devicebus.Metrics
	if e.opts.Metrics != nil {
		busMetrics = e.opts.Metrics
	}
	adapter, err := devicebus.NewAdapter(devicebus.Options{
		Broker:          broker,
		Logger:          e.logger,
		Metrics:         busMetrics,
		QoS:             e.opts.QoS,
		BufferSize:      e.opts.BufferSize,
		MonitorCommands: e.opts.MonitorCommands,
		OnResponse:      e.correlator.HandleResponse,
		OnStatus:        e.handleStatus,
		OnCommand:       e.handleObservedCommand,
	})
	if err != nil {
		broker.Close() //nolint:errcheck // already failing
		return fmt.Errorf("creating adapter: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := adapter.Start(runCtx); err != nil {
		cancel()
		adapter.Stop()
		broker.Close() //nolint:errcheck // already failing
		return fmt.Errorf("starting adapter: %w", err)
	}

	e.wg.Go(func() { e.correlator.Run(runCtx) })

	e.mu.Lock()
	e.broker = broker
	e.adapter = adapter
	e.cancel = cancel
	e.mu.Unlock()

	e.logger.Info("device bus connected")
	return nil
}

// Disconnect stops the receive loops and closes the broker. Commands still
// in flight resolve by timeout. Calling Disconnect when not connected is a
// no-op.
func (e *Engine) Disconnect() error {
	e.connMu.Lock()
	defer e.connMu.Unlock()

	e.mu.Lock()
	adapter, broker, cancel := e.adapter, e.broker, e.cancel
	e.adapter, e.broker, e.cancel = nil, nil, nil
	e.mu.Unlock()

	if adapter == nil {
		return nil
	}

	cancel()
	adapter.Stop()
	e.wg.Wait()

	if err := broker.Close(); err != nil {
		return fmt.Errorf("closing broker: %w", err)
	}
	e.logger.Info("device bus disconnected")
	return nil
}

// IsConnected reports whether a broker session is active and connected.
func (e *Engine) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.adapter != nil && e.adapter.IsConnected()
}

// InvokeCapability translates a platform capability to a device command,
// sends it and waits for the outcome.
func (e *Engine) InvokeCapability(ctx context.Context, deviceID, capType string, state capability.State) (capability.Result, error) {
	return e.translator.Invoke(ctx, deviceID, capType, state)
}

// SendCommand sends a raw device command and waits for its outcome.
func (e *Engine) SendCommand(ctx context.Context, deviceID, commandType string, params map[string]any, timeout time.Duration) (command.Command, error) {
	return e.correlator.Send(ctx, deviceID, commandType, params, timeout)
}

// GetCachedStatus returns the device's last pushed state without blocking.
func (e *Engine) GetCachedStatus(deviceID string) (status.Snapshot, bool) {
	return e.cache.Get(deviceID)
}

// AllStatus returns every cached snapshot.
func (e *Engine) AllStatus() []status.Snapshot {
	return e.cache.All()
}

// RegisterStatusObserver adds an observer for every status update and
// returns its remove function.
func (e *Engine) RegisterStatusObserver(o status.Observer) func() {
	return e.cache.RegisterObserver(o)
}

// PruneStatus drops cached snapshots for devices keep rejects.
func (e *Engine) PruneStatus(keep func(deviceID string) bool) int {
	return e.cache.Prune(keep)
}

// RequestStatus asks the device to push its state and returns the current
// snapshot immediately. It never waits for the push. Concurrent requests for
// the same device share one publish.
func (e *Engine) RequestStatus(ctx context.Context, deviceID string) (status.Snapshot, bool, error) {
	if err := devicebus.ValidateDeviceID(deviceID); err != nil {
		return status.Snapshot{}, false, err
	}

	ch := e.refresh.DoChan(deviceID, func() (any, error) {
		return nil, e.publishStatusRequest(deviceID)
	})

	var err error
	select {
	case res := <-ch:
		err = res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}

	snap, ok := e.cache.Get(deviceID)
	return snap, ok, err
}

// Commands returns the tracked commands for a device, oldest first.
func (e *Engine) Commands(deviceID string) []command.Command {
	return e.correlator.Commands(deviceID)
}

// LookupCommand returns a tracked command by correlation ID.
func (e *Engine) LookupCommand(correlationID string) (command.Command, bool) {
	return e.correlator.Lookup(correlationID)
}

// Stats is a point-in-time view of engine state.
type Stats struct {
	Connected       bool         `json:"connected"`
	PendingCommands int          `json:"pending_commands"`
	TrackedCommands int          `json:"tracked_commands"`
	Status          status.Stats `json:"status"`
}

// Stats returns current engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Connected:       e.IsConnected(),
		PendingCommands: e.correlator.PendingCount(),
		TrackedCommands: e.correlator.Len(),
		Status:          e.cache.Stats(),
	}
}

// publishCommand is the correlator's publisher.
func (e *Engine) publishCommand(env devicebus.CommandEnvelope) error {
	e.mu.RLock()
	adapter := e.adapter
	e.mu.RUnlock()

	if adapter == nil {
		return devicebus.ErrNotConnected
	}
	return adapter.PublishCommand(env)
}

func (e *Engine) publishStatusRequest(deviceID string) error {
	e.mu.RLock()
	adapter := e.adapter
	e.mu.RUnlock()

	if adapter == nil {
		return devicebus.ErrNotConnected
	}
	return adapter.PublishStatusRequest(deviceID)
}

func (e *Engine) handleStatus(env devicebus.StatusEnvelope) {
	e.cache.UpdateAt(env.DeviceID, string(env.Family), env.State, env.Timestamp.Time)
}

func (e *Engine) handleObservedCommand(env devicebus.CommandEnvelope) {
	e.logger.Debug("command observed on bus",
		"device_id", env.DeviceID,
		"command", env.Command,
		"correlation_id", env.CorrelationID,
	)
	if e.opts.OnCommandObserved != nil {
		e.opts.OnCommandObserved(env)
	}
}
