package command

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-link/internal/devicebus"
)

// Correlator defaults.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultMaxAge            = time.Hour
	DefaultResolvedRetention = 30 * time.Second
	DefaultEvictionInterval  = time.Minute
)

// Publisher hands command envelopes to the transport.
type Publisher interface {
	PublishCommand(env devicebus.CommandEnvelope) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(env devicebus.CommandEnvelope) error

// PublishCommand implements Publisher.
func (f PublisherFunc) PublishCommand(env devicebus.CommandEnvelope) error {
	return f(env)
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

// Metrics receives command lifecycle events.
type Metrics interface {
	CommandSent(commandType string)
	CommandResolved(commandType string, status string, latency time.Duration)
	ResponseUnmatched()
	PendingCommands(n int)
}

type noopMetrics struct{}

func (noopMetrics) CommandSent(string)                            {}
func (noopMetrics) CommandResolved(string, string, time.Duration) {}
func (noopMetrics) ResponseUnmatched()                            {}
func (noopMetrics) PendingCommands(int)                           {}

// Options configures a Correlator.
type Options struct {
	// Publisher sends command envelopes. Required.
	Publisher Publisher

	Logger  Logger
	Metrics Metrics

	// DefaultTimeout applies when Send is called with a non-positive timeout.
	DefaultTimeout time.Duration

	// MaxAge bounds how long any entry is tracked, whatever its status.
	MaxAge time.Duration

	// ResolvedRetention keeps resolved entries visible to Lookup and
	// Commands for a grace period after resolution.
	ResolvedRetention time.Duration

	// EvictionInterval is the sweep period used by Run.
	EvictionInterval time.Duration

	// OnResolved is called once per command when it reaches a terminal
	// state, outside the correlator lock.
	OnResolved func(Command)
}

// entry is one tracked command and its wake-up channel.
type entry struct {
	cmd   Command
	done  chan struct{}
	timer *time.Timer
}

// Correlator tracks in-flight commands and matches responses to them.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Correlator struct {
	publisher Publisher
	logger    Logger
	metrics   Metrics
	opts      Options

	mu      sync.Mutex
	entries map[string]*entry

	seq atomic.Uint64
}

// NewCorrelator creates a Correlator. Call Run to enable periodic eviction.
func NewCorrelator(opts Options) (*Correlator, error) {
	if opts.Publisher == nil {
		return nil, fmt.Errorf("command: publisher is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.ResolvedRetention <= 0 {
		opts.ResolvedRetention = DefaultResolvedRetention
	}
	if opts.EvictionInterval <= 0 {
		opts.EvictionInterval = DefaultEvictionInterval
	}

	return &Correlator{
		publisher: opts.Publisher,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		opts:      opts,
		entries:   make(map[string]*entry),
	}, nil
}

// Send publishes a command and waits for its outcome.
//
// The entry is registered as pending, published, moved to sent, and then the
// call blocks until the device responds or timeout elapses, whichever comes
// first. The timeout is measured from registration and enforced by the
// correlator itself, so the returned command is always terminal unless ctx
// ends first.
//
// Parameters:
//   - ctx: Cancelling stops this caller waiting; the entry still resolves on its own
//   - deviceID: Target device
//   - commandType: Wire command name (e.g. "set_power")
//   - params: Command parameters (copied)
//   - timeout: Deadline for a final response (DefaultTimeout if <= 0)
//
// Returns:
//   - Command: Snapshot of the entry when the call returned
//   - error: Validation error, publish error (entry marked failed), or ctx.Err()
func (c *Correlator) Send(ctx context.Context, deviceID, commandType string, params map[string]any, timeout time.Duration) (Command, error) {
	if err := devicebus.ValidateDeviceID(deviceID); err != nil {
		return Command{}, err
	}
	if strings.TrimSpace(commandType) == "" {
		return Command{}, ErrInvalidCommand
	}
	if timeout <= 0 {
		timeout = c.opts.DefaultTimeout
	}
	if params == nil {
		params = map[string]any{}
	}

	now := time.Now().UTC()
	id := c.nextID(deviceID, now)
	e := &entry{
		cmd: Command{
			DeviceID:      deviceID,
			CommandType:   commandType,
			Parameters:    maps.Clone(params),
			CorrelationID: id,
			Status:        StatusPending,
			CreatedAt:     now,
		},
		done: make(chan struct{}),
	}

	c.mu.Lock()
	c.entries[id] = e
	e.timer = time.AfterFunc(timeout, func() { c.expire(id) })
	pending := c.pendingLocked()
	c.mu.Unlock()

	c.metrics.CommandSent(commandType)
	c.metrics.PendingCommands(pending)

	env := devicebus.CommandEnvelope{
		DeviceID:      deviceID,
		Command:       commandType,
		Parameters:    maps.Clone(params),
		CorrelationID: id,
		Timestamp:     devicebus.Timestamp{Time: now},
	}

	if err := c.publisher.PublishCommand(env); err != nil {
		c.resolve(id, func(cmd *Command) bool {
			cmd.Status = StatusFailed
			cmd.Error = err.Error()
			cmd.Undelivered = true
			return true
		})
		cmd, _ := c.Lookup(id)
		return cmd, fmt.Errorf("command: publishing %s to %s: %w", commandType, deviceID, err)
	}

	c.mu.Lock()
	if e.cmd.Status == StatusPending {
		e.cmd.Status = StatusSent
		e.cmd.SentAt = time.Now().UTC()
	}
	c.mu.Unlock()

	c.logger.Debug("command sent",
		"correlation_id", id,
		"device_id", deviceID,
		"command", commandType,
		"timeout", timeout,
	)

	select {
	case <-e.done:
		return c.snapshot(e), nil
	case <-ctx.Done():
		return c.snapshot(e), ctx.Err()
	}
}

// HandleResponse applies a device response to the matching entry.
//
// Unknown, evicted and already-resolved correlation IDs are ignored. A late
// response (one arriving after its command timed out) is logged and counted
// as unmatched, and nothing else: responses never write the status cache,
// which only status and feedback pushes feed. A device that applied a late
// command reports the new state on its feedback topic. An
// "acknowledged" status moves the entry to StatusAcknowledged without
// releasing the waiter; "success" completes it and "error" fails it with the
// device's error message. The decoder rejects any other status.
func (c *Correlator) HandleResponse(env devicebus.ResponseEnvelope) {
	id := env.CorrelationID

	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		c.metrics.ResponseUnmatched()
		c.logger.Debug("response for unknown correlation id ignored",
			"correlation_id", id,
			"device_id", env.DeviceID,
		)
		return
	}
	status := e.cmd.Status
	deviceID := e.cmd.DeviceID
	c.mu.Unlock()

	if env.DeviceID != "" && env.DeviceID != deviceID {
		c.metrics.ResponseUnmatched()
		c.logger.Warn("response device does not match command device",
			"correlation_id", id,
			"command_device_id", deviceID,
			"response_device_id", env.DeviceID,
		)
		return
	}

	if status.IsTerminal() {
		c.metrics.ResponseUnmatched()
		c.logger.Info("late response ignored",
			"correlation_id", id,
			"device_id", deviceID,
			"resolved_status", status,
			"response_status", env.Status,
		)
		return
	}

	if env.Status == devicebus.ResponseAcknowledged {
		c.mu.Lock()
		if !e.cmd.Status.IsTerminal() {
			e.cmd.Status = StatusAcknowledged
			if e.cmd.SentAt.IsZero() {
				e.cmd.SentAt = time.Now().UTC()
			}
		}
		c.mu.Unlock()
		c.logger.Debug("command acknowledged", "correlation_id", id, "device_id", deviceID)
		return
	}

	applied := c.resolve(id, func(cmd *Command) bool {
		if env.Status == devicebus.ResponseSuccess {
			cmd.Status = StatusCompleted
		} else {
			cmd.Status = StatusFailed
			cmd.Error = env.Error
		}
		cmd.ResponseData = maps.Clone(env.Data)
		return true
	})
	if !applied {
		c.metrics.ResponseUnmatched()
	}
}

// expire times out an entry whose deadline passed.
func (c *Correlator) expire(id string) {
	if c.resolve(id, func(cmd *Command) bool {
		cmd.Status = StatusTimeout
		return true
	}) {
		c.logger.Warn("command timed out", "correlation_id", id)
	}
}

// resolve performs the single state-checked transition to a terminal state.
// It returns false if the entry is gone or already terminal.
func (c *Correlator) resolve(id string, apply func(cmd *Command) bool) bool {
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok || e.cmd.Status.IsTerminal() {
		c.mu.Unlock()
		return false
	}
	if !apply(&e.cmd) {
		c.mu.Unlock()
		return false
	}
	e.cmd.ResolvedAt = time.Now().UTC()
	if e.timer != nil {
		e.timer.Stop()
	}
	close(e.done)
	resolved := e.cmd.clone()
	pending := c.pendingLocked()
	c.mu.Unlock()

	c.metrics.CommandResolved(resolved.CommandType, string(resolved.Status), resolved.Latency())
	c.metrics.PendingCommands(pending)

	if c.opts.OnResolved != nil {
		c.notifyResolved(resolved)
	}
	return true
}

// notifyResolved calls OnResolved, containing panics.
func (c *Correlator) notifyResolved(cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("command resolved hook panic recovered",
				"correlation_id", cmd.CorrelationID,
				"panic", r,
			)
		}
	}()
	c.opts.OnResolved(cmd)
}

// Lookup returns a snapshot of a tracked command.
func (c *Correlator) Lookup(correlationID string) (Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[correlationID]
	if !ok {
		return Command{}, false
	}
	return e.cmd.clone(), true
}

// Commands returns snapshots of every tracked command for a device, oldest
// first. Pass an empty deviceID for all devices.
func (c *Correlator) Commands(deviceID string) []Command {
	c.mu.Lock()
	out := make([]Command, 0, len(c.entries))
	for _, e := range c.entries {
		if deviceID == "" || e.cmd.DeviceID == deviceID {
			out = append(out, e.cmd.clone())
		}
	}
	c.mu.Unlock()

	slices.SortFunc(out, func(a, b Command) int {
		if n := a.CreatedAt.Compare(b.CreatedAt); n != 0 {
			return n
		}
		return strings.Compare(a.CorrelationID, b.CorrelationID)
	})
	return out
}

// PendingCount returns the number of unresolved commands.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

// Len returns the number of tracked entries, resolved or not.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Run sweeps stale entries every EvictionInterval until ctx is cancelled.
func (c *Correlator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("evicted command entries", "count", n)
			}
		}
	}
}

// Sweep removes entries older than MaxAge and resolved entries past the
// retention period. It returns the number of entries removed.
func (c *Correlator) Sweep() int {
	return c.evict(c.opts.MaxAge, c.opts.ResolvedRetention)
}

// Evict removes every entry created more than maxAge ago, whatever its
// status. An unresolved entry is timed out first so its waiter is released.
func (c *Correlator) Evict(maxAge time.Duration) int {
	return c.evict(maxAge, 0)
}

func (c *Correlator) evict(maxAge, retention time.Duration) int {
	now := time.Now().UTC()

	var stale []string
	c.mu.Lock()
	for id, e := range c.entries {
		if now.Sub(e.cmd.CreatedAt) > maxAge {
			stale = append(stale, id)
		}
	}
	c.mu.Unlock()

	for _, id := range stale {
		c.expire(id)
	}

	removed := 0
	c.mu.Lock()
	for id, e := range c.entries {
		expired := now.Sub(e.cmd.CreatedAt) > maxAge
		retained := retention > 0 && e.cmd.Status.IsTerminal() && now.Sub(e.cmd.ResolvedAt) > retention
		if expired || retained {
			delete(c.entries, id)
			removed++
		}
	}
	pending := c.pendingLocked()
	c.mu.Unlock()

	if removed > 0 {
		c.metrics.PendingCommands(pending)
	}
	return removed
}

// snapshot copies an entry under the lock.
func (c *Correlator) snapshot(e *entry) Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return e.cmd.clone()
}

func (c *Correlator) pendingLocked() int {
	n := 0
	for _, e := range c.entries {
		if !e.cmd.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// nextID returns cmd_<unix-ms>_<device>_<seq>. The sequence makes IDs unique
// for the process lifetime even within one millisecond.
func (c *Correlator) nextID(deviceID string, now time.Time) string {
	return fmt.Sprintf("cmd_%d_%s_%d", now.UnixMilli(), deviceID, c.seq.Add(1))
}
