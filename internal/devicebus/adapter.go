package devicebus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Adapter defaults.
const (
	// DefaultQoS is used for commands, responses and status requests.
	DefaultQoS byte = 1

	// DefaultBufferSize is the per-family inbound queue length.
	DefaultBufferSize = 256

	// maxPayloadSize rejects oversized outbound envelopes before they reach
	// the broker.
	maxPayloadSize = 1 << 20
)

// Options configures an Adapter.
type Options struct {
	// Broker is the connected transport. Required.
	Broker Broker

	// Logger receives loop diagnostics. Optional.
	Logger Logger

	// Metrics receives per-family counters. Optional.
	Metrics Metrics

	// QoS for publishes and subscriptions. Defaults to DefaultQoS.
	QoS byte

	// BufferSize is the per-family inbound queue length.
	BufferSize int

	// MonitorCommands subscribes to the command family so commands issued by
	// other publishers are visible through OnCommand.
	MonitorCommands bool

	// OnResponse receives every valid response envelope.
	OnResponse func(ResponseEnvelope)

	// OnStatus receives every valid status or feedback push.
	OnStatus func(StatusEnvelope)

	// OnCommand receives observed command envelopes when MonitorCommands is set.
	OnCommand func(CommandEnvelope)
}

// inbound is one raw broker delivery awaiting decode.
type inbound struct {
	topic   string
	payload []byte
}

// familyLoop is the queue and delivery policy for one topic family.
type familyLoop struct {
	family Family
	queue  chan inbound
	// block makes enqueue wait for space instead of dropping.
	block bool
}

// Adapter owns the receive loops for the device topic families and publishes
// outbound envelopes.
//
// Each family has its own queue and goroutine, so a slow status observer
// never delays response correlation and vice versa.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Adapter struct {
	broker  Broker
	logger  Logger
	metrics Metrics
	qos     byte
	opts    Options

	loops []*familyLoop

	mu       sync.Mutex
	started  bool
	stopped  bool
	done     chan struct{}
	ctxDone  <-chan struct{}
	group    *errgroup.Group
	stopOnce sync.Once
}

// NewAdapter validates options and builds an adapter. Call Start to subscribe.
func NewAdapter(opts Options) (*Adapter, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("devicebus: broker is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.QoS == 0 {
		opts.QoS = DefaultQoS
	}
	if opts.QoS > 2 {
		return nil, fmt.Errorf("devicebus: invalid qos %d", opts.QoS)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	a := &Adapter{
		broker:  opts.Broker,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		qos:     opts.QoS,
		opts:    opts,
		done:    make(chan struct{}),
	}

	if opts.MonitorCommands {
		a.loops = append(a.loops, a.newLoop(FamilyCommand, false))
	}
	a.loops = append(a.loops,
		a.newLoop(FamilyResponse, true),
		a.newLoop(FamilyStatus, false),
		a.newLoop(FamilyFeedback, false),
	)

	return a, nil
}

func (a *Adapter) newLoop(family Family, block bool) *familyLoop {
	return &familyLoop{
		family: family,
		queue:  make(chan inbound, a.opts.BufferSize),
		block:  block,
	}
}

// Start launches one goroutine per topic family and subscribes to
// devices/+/{family} for each.
//
// The loops run until ctx is cancelled or Stop is called. On a subscribe
// error the loops keep running; the caller should Stop the adapter.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return ErrAdapterStopped
	}
	if a.started {
		return nil
	}

	a.ctxDone = ctx.Done()
	a.group = &errgroup.Group{}
	for _, loop := range a.loops {
		a.group.Go(func() error {
			a.run(ctx, loop)
			return nil
		})
	}
	a.started = true

	for _, loop := range a.loops {
		topic := Topics{}.All(loop.family)
		if err := a.broker.Subscribe(topic, a.qos, a.enqueueFunc(loop)); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
		}
		a.logger.Debug("subscribed to device topic family", "topic", topic)
	}

	return nil
}

// Stop terminates the receive loops and waits for them to exit.
// Messages still queued are discarded. The broker is not closed.
func (a *Adapter) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.stopped = true
		close(a.done)
		group := a.group
		a.mu.Unlock()

		if group != nil {
			group.Wait() //nolint:errcheck // loops never return errors
		}
	})
}

// IsConnected reports whether the underlying broker is connected.
func (a *Adapter) IsConnected() bool {
	return a.broker.IsConnected()
}

// PublishCommand sends a command envelope to devices/{id}/command.
//
// Failures are logged and returned; the adapter never retries.
func (a *Adapter) PublishCommand(env CommandEnvelope) error {
	if err := ValidateDeviceID(env.DeviceID); err != nil {
		return err
	}
	return a.publishJSON(Topics{}.Command(env.DeviceID), env)
}

// PublishStatusRequest asks a device to push its current state.
func (a *Adapter) PublishStatusRequest(deviceID string) error {
	if err := ValidateDeviceID(deviceID); err != nil {
		return err
	}
	return a.publishJSON(Topics{}.StatusRequest(deviceID), NewStatusRequest())
}

func (a *Adapter) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrPublishFailed, topic, err)
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !a.broker.IsConnected() {
		a.logger.Warn("publish skipped, broker not connected", "topic", topic)
		return ErrNotConnected
	}
	if err := a.broker.Publish(topic, payload, a.qos, false); err != nil {
		a.logger.Error("publish failed", "topic", topic, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// enqueueFunc returns the broker handler feeding one family queue.
func (a *Adapter) enqueueFunc(loop *familyLoop) MessageHandler {
	return func(topic string, payload []byte) error {
		msg := inbound{topic: topic, payload: append([]byte(nil), payload...)}

		if loop.block {
			select {
			case loop.queue <- msg:
			case <-a.done:
			case <-a.ctxDone:
			}
			return nil
		}

		select {
		case loop.queue <- msg:
		case <-a.done:
		default:
			a.metrics.MessageDropped(string(loop.family))
			a.logger.Warn("inbound queue full, message dropped",
				"family", loop.family,
				"topic", topic,
			)
		}
		return nil
	}
}

// run drains one family queue until shutdown.
func (a *Adapter) run(ctx context.Context, loop *familyLoop) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.done:
			return
		case msg := <-loop.queue:
			a.dispatch(loop.family, msg)
		}
	}
}

// dispatch decodes one message and hands it to the family callback.
// Decode failures and callback panics are contained here.
func (a *Adapter) dispatch(family Family, in inbound) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("device message handler panic recovered",
				"family", family,
				"topic", in.topic,
				"panic", r,
			)
		}
	}()

	a.metrics.MessageReceived(string(family))

	msg, err := Decode(in.topic, in.payload)
	if err != nil {
		a.metrics.MessageMalformed(string(family))
		a.logger.Warn("dropping malformed device message",
			"family", family,
			"topic", in.topic,
			"error", err,
		)
		return
	}

	switch {
	case msg.Response != nil:
		if a.opts.OnResponse != nil {
			a.opts.OnResponse(*msg.Response)
		}
	case msg.Status != nil:
		if a.opts.OnStatus != nil {
			a.opts.OnStatus(*msg.Status)
		}
	case msg.Command != nil:
		if a.opts.OnCommand != nil {
			a.opts.OnCommand(*msg.Command)
		}
	}
}
