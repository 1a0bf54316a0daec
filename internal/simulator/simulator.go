package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-link/internal/capability"
	"github.com/nerrad567/gray-logic-link/internal/catalog"
	"github.com/nerrad567/gray-logic-link/internal/devicebus"
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

// Device is one simulated device and its initial state.
type Device struct {
	ID    string
	State map[string]any
}

// Options configures a Simulator.
type Options struct {
	Broker  devicebus.Broker
	Devices []Device
	Logger  Logger

	// QoS for published messages. Defaults to devicebus.DefaultQoS.
	QoS byte

	// Acknowledge sends an "acknowledged" response before the final one.
	Acknowledge bool

	// Delay is how long a device takes to apply a command.
	Delay time.Duration

	// DropRate is the fraction of commands silently ignored, in [0, 1].
	DropRate float64

	// Rand overrides the drop decision source (tests).
	Rand func() float64
}

// Stats counts simulator activity.
type Stats struct {
	Commands        uint64 `json:"commands"`
	Dropped         uint64 `json:"dropped"`
	Failed          uint64 `json:"failed"`
	StatusResponses uint64 `json:"status_responses"`
}

// Simulator runs a set of devices against a broker.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Simulator struct {
	opts   Options
	logger Logger

	mu     sync.Mutex
	states map[string]map[string]any
	stats  Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates options and builds a stopped simulator.
func New(opts Options) (*Simulator, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if opts.DropRate < 0 || opts.DropRate > 1 {
		return nil, fmt.Errorf("drop rate %v outside [0, 1]", opts.DropRate)
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.QoS == 0 {
		opts.QoS = devicebus.DefaultQoS
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}

	states := make(map[string]map[string]any, len(opts.Devices))
	for _, d := range opts.Devices {
		if err := devicebus.ValidateDeviceID(d.ID); err != nil {
			return nil, err
		}
		state := make(map[string]any, len(d.State))
		maps.Copy(state, d.State)
		states[d.ID] = state
	}

	return &Simulator{
		opts:   opts,
		logger: opts.Logger,
		states: states,
	}, nil
}

// FromCatalog derives simulated devices from a catalog: on_off starts off,
// range starts at its minimum, mode at its first value, toggle off.
func FromCatalog(cat *catalog.Catalog) []Device {
	devices := make([]Device, 0, cat.Len())
	for _, d := range cat.List() {
		state := make(map[string]any)
		for _, c := range d.Capabilities {
			switch c.Short() {
			case capability.OnOff, capability.Toggle:
				state[c.StateKey()] = false
			case capability.Range:
				v := 0.0
				if r := c.Parameters.Range; r != nil {
					v = r.Min
				}
				state[c.StateKey()] = v
			case capability.Mode:
				if len(c.Parameters.Modes) > 0 {
					state[c.StateKey()] = c.Parameters.Modes[0].Value
				}
			}
		}
		devices = append(devices, Device{ID: d.ID, State: state})
	}
	return devices
}

// Start subscribes to command and status-request topics and publishes every
// device's initial status.
func (s *Simulator) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	topics := devicebus.Topics{}
	if err := s.opts.Broker.Subscribe(topics.All(devicebus.FamilyCommand), s.opts.QoS, s.handleMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	if err := s.opts.Broker.Subscribe(topics.All(devicebus.FamilyStatusRequest), s.opts.QoS, s.handleMessage); err != nil {
		return fmt.Errorf("subscribe to status requests: %w", err)
	}

	for _, id := range s.deviceIDs() {
		if err := s.PushStatus(id); err != nil {
			s.logger.Warn("initial status push failed", "device_id", id, "error", err)
		}
	}

	s.logger.Info("simulator started", "devices", len(s.states))
	return nil
}

// Stop cancels pending delayed replies and waits for in-flight handlers.
func (s *Simulator) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("simulator stopped")
}

// State returns a copy of a device's current state.
func (s *Simulator) State(deviceID string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[deviceID]
	if !ok {
		return nil, false
	}
	return maps.Clone(st), true
}

// Set changes a device field locally, as if the physical device were used,
// and pushes feedback.
func (s *Simulator) Set(deviceID, key string, value any) error {
	s.mu.Lock()
	st, ok := s.states[deviceID]
	if ok {
		st[key] = value
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return s.publishState(devicebus.Topics{}.Feedback(deviceID), deviceID)
}

// PushStatus publishes the device's full state on its status topic.
func (s *Simulator) PushStatus(deviceID string) error {
	return s.publishState(devicebus.Topics{}.Status(deviceID), deviceID)
}

// Stats returns activity counters.
func (s *Simulator) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Simulator) deviceIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	return ids
}

// handleMessage routes bus traffic. Work runs off the broker callback so a
// synchronous broker never re-enters the publisher.
func (s *Simulator) handleMessage(topic string, payload []byte) error {
	if s.ctx.Err() != nil {
		return nil
	}
	msg, err := devicebus.Decode(topic, payload)
	if err != nil {
		s.logger.Warn("simulator ignoring malformed message", "topic", topic, "error", err)
		return nil
	}

	s.mu.Lock()
	_, known := s.states[msg.DeviceID]
	s.mu.Unlock()
	if !known {
		return nil
	}

	switch {
	case msg.Command != nil:
		cmd := *msg.Command
		s.wg.Go(func() { s.handleCommand(cmd) })
	case msg.Request != nil:
		s.wg.Go(func() {
			s.mu.Lock()
			s.stats.StatusResponses++
			s.mu.Unlock()
			if err := s.PushStatus(msg.DeviceID); err != nil {
				s.logger.Warn("status push failed", "device_id", msg.DeviceID, "error", err)
			}
		})
	}
	return nil
}

func (s *Simulator) handleCommand(cmd devicebus.CommandEnvelope) {
	s.mu.Lock()
	s.stats.Commands++
	drop := s.opts.DropRate > 0 && s.opts.Rand() < s.opts.DropRate
	if drop {
		s.stats.Dropped++
	}
	s.mu.Unlock()

	s.logger.Debug("simulator received command",
		"device_id", cmd.DeviceID,
		"command", cmd.Command,
		"correlation_id", cmd.CorrelationID,
		"dropped", drop,
	)
	if drop {
		return
	}

	if s.opts.Acknowledge {
		s.respond(cmd, devicebus.ResponseAcknowledged, nil, "")
	}

	if s.opts.Delay > 0 {
		select {
		case <-time.After(s.opts.Delay):
		case <-s.ctx.Done():
			return
		}
	}

	state, err := s.apply(cmd)
	if err != nil {
		s.mu.Lock()
		s.stats.Failed++
		s.mu.Unlock()
		s.respond(cmd, devicebus.ResponseError, nil, err.Error())
		return
	}

	s.respond(cmd, devicebus.ResponseSuccess, state, "")
	if err := s.publishState(devicebus.Topics{}.Feedback(cmd.DeviceID), cmd.DeviceID); err != nil {
		s.logger.Warn("feedback push failed", "device_id", cmd.DeviceID, "error", err)
	}
}

// apply executes a wire command against the device state and returns the
// resulting state.
func (s *Simulator) apply(cmd devicebus.CommandEnvelope) (map[string]any, error) {
	key, value, err := decodeCommand(cmd)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[cmd.DeviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, cmd.DeviceID)
	}
	st[key] = value
	return maps.Clone(st), nil
}

// decodeCommand maps a wire command onto the state field it changes.
func decodeCommand(cmd devicebus.CommandEnvelope) (string, any, error) {
	p := cmd.Parameters
	switch cmd.Command {
	case "set_power":
		on, ok := p["power"].(bool)
		if !ok {
			return "", nil, fmt.Errorf("%w: power must be a boolean", ErrBadParameters)
		}
		return "power", on, nil
	case "set_range":
		instance, _ := p["instance"].(string)
		value, ok := p["value"].(float64)
		if instance == "" || !ok {
			return "", nil, fmt.Errorf("%w: set_range needs instance and numeric value", ErrBadParameters)
		}
		return instance, value, nil
	case "set_mode", "set_toggle":
		instance, _ := p["instance"].(string)
		value, ok := p["value"]
		if instance == "" || !ok {
			return "", nil, fmt.Errorf("%w: %s needs instance and value", ErrBadParameters, cmd.Command)
		}
		return instance, value, nil
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Command)
	}
}

func (s *Simulator) respond(cmd devicebus.CommandEnvelope, status devicebus.ResponseStatus, data map[string]any, errMsg string) {
	env := devicebus.ResponseEnvelope{
		DeviceID:      cmd.DeviceID,
		Status:        status,
		Data:          data,
		Error:         errMsg,
		CorrelationID: cmd.CorrelationID,
		Timestamp:     devicebus.Now(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("marshal response", "error", err)
		return
	}
	if err := s.opts.Broker.Publish(devicebus.Topics{}.Response(cmd.DeviceID), payload, s.opts.QoS, false); err != nil {
		s.logger.Warn("response publish failed",
			"device_id", cmd.DeviceID,
			"correlation_id", cmd.CorrelationID,
			"error", err,
		)
	}
}

// publishState sends the device's flat state object plus a timestamp.
func (s *Simulator) publishState(topic, deviceID string) error {
	st, ok := s.State(deviceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	st["timestamp"] = devicebus.Now()

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return s.opts.Broker.Publish(topic, payload, s.opts.QoS, false)
}
