// Package history keeps an SQLite audit trail of device status pushes.
//
// A Recorder is registered as a status cache observer. The observer only
// enqueues; Run writes entries in the background and prunes rows older than
// the retention window, so a slow disk never stalls the status loop.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	defaultQueueSize    = 256
	writeTimeout        = 5 * time.Second
)

// ErrQueueFull is returned by the observer when the write queue is full.
// The cache counts it as an observer failure; the entry is dropped.
var ErrQueueFull = errors.New("history: write queue full")

// Entry is one recorded status push.
type Entry struct {
	ID        int64          `json:"id"`
	DeviceID  string         `json:"device_id"`
	State     map[string]any `json:"state"`
	CreatedAt time.Time      `json:"created_at"`
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

// Options configures a Recorder.
type Options struct {
	Logger Logger

	// Retention is how long entries are kept. Zero disables pruning.
	Retention time.Duration

	// PruneInterval is how often Run prunes. Defaults to one hour.
	PruneInterval time.Duration

	// QueueSize bounds entries waiting to be written.
	QueueSize int

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Recorder writes status pushes to the status_history table.
type Recorder struct {
	db     *sql.DB
	opts   Options
	logger Logger
	queue  chan Entry

	written atomic.Int64
	dropped atomic.Int64
}

// NewRecorder creates a Recorder on an open, migrated database.
func NewRecorder(db *sql.DB, opts Options) *Recorder {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = time.Hour
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Recorder{
		db:     db,
		opts:   opts,
		logger: opts.Logger,
		queue:  make(chan Entry, opts.QueueSize),
	}
}

// Observe is a status.Observer. It never blocks.
func (r *Recorder) Observe(deviceID string, state map[string]any) error {
	select {
	case r.queue <- Entry{DeviceID: deviceID, State: state, CreatedAt: r.opts.Now()}:
		return nil
	default:
		r.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run drains the write queue and prunes on the configured interval until
// ctx is cancelled. Entries still queued at cancellation are flushed.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flush()
			return
		case e := <-r.queue:
			r.write(e)
		case <-ticker.C:
			if r.opts.Retention <= 0 {
				continue
			}
			pruneCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			n, err := r.Prune(pruneCtx, r.opts.Retention)
			cancel()
			if err != nil {
				r.logger.Warn("status history prune failed", "error", err)
			} else if n > 0 {
				r.logger.Info("status history pruned", "rows", n)
			}
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		default:
			return
		}
	}
}

func (r *Recorder) write(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.Record(ctx, e.DeviceID, e.State, e.CreatedAt); err != nil {
		r.logger.Warn("status history write failed", "device_id", e.DeviceID, "error", err)
		return
	}
	r.written.Add(1)
}

// Record inserts one entry synchronously.
func (r *Recorder) Record(ctx context.Context, deviceID string, state map[string]any, at time.Time) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if state == nil {
		state = map[string]any{}
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO status_history (device_id, state, created_at) VALUES (?, ?, ?)",
		deviceID,
		string(stateJSON),
		at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting status history: %w", err)
	}
	return nil
}

// GetHistory returns a device's entries newest first. limit defaults to 50
// and is capped at 200.
func (r *Recorder) GetHistory(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, state, created_at
		 FROM status_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying status history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var stateJSON string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.DeviceID, &stateJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning status history: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &e.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan and returns the row count.
func (r *Recorder) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.opts.Now().Add(-olderThan).UnixMilli()
	result, err := r.db.ExecContext(ctx, "DELETE FROM status_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting status history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// Stats reports background write counters.
type Stats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Queued  int   `json:"queued"`
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Queued:  len(r.queue),
	}
}
