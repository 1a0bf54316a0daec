// Package status holds the last-known state of every device, fed by the
// unsolicited status and feedback pushes devices publish, and fans each
// update out to registered observers.
//
// Reads never block on the network: Get is a map lookup. Observers run
// synchronously on the updating goroutine (the transport's status loop), each
// isolated so that one failing or panicking observer cannot stop the others.
package status

import (
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot sources.
const (
	SourceStatus   = "status"
	SourceFeedback = "feedback"
)

// Snapshot is the most recent state pushed by one device.
type Snapshot struct {
	DeviceID  string         `json:"device_id"`
	State     map[string]any `json:"state"`
	Source    string         `json:"source"`
	UpdatedAt time.Time      `json:"updated_at"`

	// ReportedAt is the device's own timestamp for the push, zero when the
	// device sent none.
	ReportedAt time.Time `json:"reported_at,omitzero"`
}

// Observer is notified after every snapshot update. A returned error is
// logged and counted; it does not affect other observers.
type Observer func(deviceID string, state map[string]any) error

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

// Metrics receives cache events.
type Metrics interface {
	StatusUpdated(source string)
	ObserverFailed()
}

type noopMetrics struct{}

func (noopMetrics) StatusUpdated(string) {}
func (noopMetrics) ObserverFailed()      {}

type registration struct {
	id       uint64
	observer Observer
}

// Cache is the per-device snapshot store and observer registry.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Observers may register or remove observers from inside a callback.
type Cache struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot

	obsMu     sync.Mutex
	observers []registration
	nextObsID uint64

	logger  Logger
	metrics Metrics

	updates atomic.Uint64
	stale   atomic.Uint64
	failed  atomic.Uint64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		snapshots: make(map[string]Snapshot),
		logger:    noopLogger{},
		metrics:   noopMetrics{},
	}
}

// SetLogger sets the logger for the cache.
func (c *Cache) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// SetMetrics sets the metrics sink for the cache.
func (c *Cache) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	c.metrics = m
}

// Update replaces the device's snapshot wholesale and notifies observers.
//
// The state map is copied; callers may reuse it afterwards.
func (c *Cache) Update(deviceID, source string, state map[string]any) {
	c.UpdateAt(deviceID, source, state, time.Time{})
}

// UpdateAt is Update for a push carrying the device's own timestamp.
//
// The status and feedback topics are consumed independently, so pushes from
// one device can arrive out of order. A push whose reportedAt is older than
// the stored snapshot's is dropped and UpdateAt returns false. When either
// side has no device timestamp the last applied push wins.
func (c *Cache) UpdateAt(deviceID, source string, state map[string]any, reportedAt time.Time) bool {
	snap := Snapshot{
		DeviceID:   deviceID,
		State:      maps.Clone(state),
		Source:     source,
		UpdatedAt:  time.Now().UTC(),
		ReportedAt: reportedAt,
	}
	if snap.State == nil {
		snap.State = map[string]any{}
	}

	c.mu.Lock()
	prev, ok := c.snapshots[deviceID]
	if ok && !reportedAt.IsZero() && reportedAt.Before(prev.ReportedAt) {
		c.mu.Unlock()
		c.stale.Add(1)
		c.logger.Debug("stale status push dropped",
			"device_id", deviceID,
			"source", source,
			"reported_at", reportedAt,
			"current_reported_at", prev.ReportedAt,
		)
		return false
	}
	c.snapshots[deviceID] = snap
	c.mu.Unlock()

	c.updates.Add(1)
	c.metrics.StatusUpdated(source)

	c.notify(deviceID, snap.State)
	return true
}

// notify calls every observer registered at the time of the call.
func (c *Cache) notify(deviceID string, state map[string]any) {
	c.obsMu.Lock()
	observers := make([]registration, len(c.observers))
	copy(observers, c.observers)
	c.obsMu.Unlock()

	for _, reg := range observers {
		// Each observer gets its own copy so one cannot mutate what the next sees.
		if err := c.call(reg.observer, deviceID, maps.Clone(state)); err != nil {
			c.failed.Add(1)
			c.metrics.ObserverFailed()
			c.logger.Warn("status observer failed",
				"device_id", deviceID,
				"observer", reg.id,
				"error", err,
			)
		}
	}
}

func (c *Cache) call(o Observer, deviceID string, state map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return o(deviceID, state)
}

// RegisterObserver adds an observer and returns a function that removes it.
// The remove function is idempotent.
func (c *Cache) RegisterObserver(o Observer) (remove func()) {
	c.obsMu.Lock()
	c.nextObsID++
	id := c.nextObsID
	c.observers = append(c.observers, registration{id: id, observer: o})
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		defer c.obsMu.Unlock()
		for i, reg := range c.observers {
			if reg.id == id {
				c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

// ObserverCount returns the number of registered observers.
func (c *Cache) ObserverCount() int {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	return len(c.observers)
}

// Get returns a copy of the device's last snapshot.
func (c *Cache) Get(deviceID string) (Snapshot, bool) {
	c.mu.RLock()
	snap, ok := c.snapshots[deviceID]
	c.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	snap.State = maps.Clone(snap.State)
	return snap, true
}

// All returns copies of every snapshot.
func (c *Cache) All() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Snapshot, 0, len(c.snapshots))
	for _, snap := range c.snapshots {
		snap.State = maps.Clone(snap.State)
		out = append(out, snap)
	}
	return out
}

// Len returns the number of devices with a snapshot.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}

// Clear drops every snapshot. Observers stay registered.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Replace with fresh map to allow GC of old entries
	c.snapshots = make(map[string]Snapshot)
}

// Prune removes snapshots for devices the keep function rejects and returns
// how many were removed. Use it after the device catalog changes.
func (c *Cache) Prune(keep func(deviceID string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id := range c.snapshots {
		if !keep(id) {
			delete(c.snapshots, id)
			removed++
		}
	}
	return removed
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Devices        int    `json:"devices"`
	Observers      int    `json:"observers"`
	Updates        uint64 `json:"updates"`
	Stale          uint64 `json:"stale"`
	ObserverErrors uint64 `json:"observer_errors"`
}

// Stats returns current cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Devices:        c.Len(),
		Observers:      c.ObserverCount(),
		Updates:        c.updates.Load(),
		Stale:          c.stale.Load(),
		ObserverErrors: c.failed.Load(),
	}
}
