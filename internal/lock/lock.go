// Package lock provides the poller mutual-exclusion lock. Only one poller
// instance may drain the message queue at a time; the lock is a JSON record
// on disk guarded by an advisory file lock, so a second instance started on
// the same host yields instead of double-processing messages.
package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"shiftwatch/internal/logging"
	"shiftwatch/internal/services"
)

// Record is the on-disk lock payload identifying the current holder.
type Record struct {
	InstanceID    string    `json:"poller_instance_id"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// StaleHandler is invoked when a stale lock from a previous holder is
// overridden. Implementations typically notify an operator; failures are
// logged and never block acquisition.
type StaleHandler func(ctx context.Context, previous Record, age time.Duration) error

// Manager coordinates acquisition, heartbeat refresh, and release of the
// poller lock file.
type Manager struct {
	path       string
	staleAfter time.Duration
	instanceID string
	logger     *slog.Logger
	onStale    StaleHandler
	now        func() time.Time

	guard *flock.Flock
	held  bool
}

// Option adjusts Manager construction.
type Option func(*Manager)

// WithStaleHandler registers a callback fired when a stale holder is
// overridden during Acquire.
func WithStaleHandler(handler StaleHandler) Option {
	return func(m *Manager) {
		m.onStale = handler
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a lock manager for the record at path. staleAfter is the
// window beyond which a holder's last heartbeat is considered abandoned.
func NewManager(path string, staleAfter time.Duration, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if path == "" {
		return nil, services.Wrap(services.ErrConfiguration, "lock", "new", "lock path is required", nil)
	}
	if staleAfter <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "lock", "new", "stale window must be positive", nil)
	}
	m := &Manager{
		path:       path,
		staleAfter: staleAfter,
		instanceID: uuid.NewString(),
		logger:     logging.WithComponent(logger, "lock"),
		now:        time.Now,
		guard:      flock.New(path + ".guard"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// InstanceID returns the identifier written into the lock record by this
// manager.
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// Path returns the lock record location.
func (m *Manager) Path() string {
	return m.path
}

// Held reports whether this manager currently owns the lock.
func (m *Manager) Held() bool {
	return m.held
}

// Acquire attempts to take the poller lock. It returns true when this
// instance now holds the lock. A fresh lock held by another instance yields
// (false, nil) so the caller can skip the cycle quietly. Stale and corrupt
// records are overridden: stale overrides invoke the registered StaleHandler
// exactly once before the record is replaced.
//
// The guard flock serializes only the read-check-write of the record and is
// dropped before returning. Ownership rests on the record itself, so a
// holder that hangs mid-cycle is still reclaimable once its heartbeat ages
// past the staleness window.
func (m *Manager) Acquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	locked, err := m.guard.TryLock()
	if err != nil {
		return false, services.Wrap(services.ErrTransient, "lock", "acquire", "acquire guard lock", err)
	}
	if !locked {
		// Another process is mid-inspection; yield this cycle.
		return false, nil
	}
	defer func() {
		_ = m.guard.Unlock()
	}()

	previous, exists, err := m.readRecord()
	if err != nil {
		// Corrupt record: the holder cannot be identified, so reclaim.
		m.logger.Warn("overriding corrupt lock record",
			logging.String("path", m.path),
			logging.Error(err))
	} else if exists {
		age := m.now().Sub(previous.LastHeartbeat)
		if previous.LastHeartbeat.IsZero() {
			age = m.now().Sub(previous.StartedAt)
		}
		if age <= m.staleAfter {
			return false, nil
		}
		m.logger.Warn("overriding stale lock record",
			logging.String("holder", previous.InstanceID),
			logging.Duration("age", age))
		if m.onStale != nil {
			if handlerErr := m.onStale(ctx, previous, age); handlerErr != nil {
				m.logger.Error("stale lock handler failed", logging.Error(handlerErr))
			}
		}
	}

	if err := m.writeRecord(); err != nil {
		return false, err
	}
	m.held = true
	m.logger.Info("poller lock acquired", logging.String("instance_id", m.instanceID))
	return true, nil
}

// Heartbeat refreshes the last-heartbeat stamp in the lock record. It
// errors when the lock is not held, and detects the record having been
// reclaimed by a competitor, in which case this manager no longer owns the
// lock.
func (m *Manager) Heartbeat() error {
	if !m.held {
		return services.Wrap(services.ErrValidation, "lock", "heartbeat", "lock not held", nil)
	}
	locked, err := m.guard.TryLock()
	if err != nil {
		return services.Wrap(services.ErrTransient, "lock", "heartbeat", "acquire guard lock", err)
	}
	if !locked {
		// A competitor is inspecting the record; the stamp refreshes on
		// the next heartbeat, well inside the staleness window.
		return nil
	}
	defer func() {
		_ = m.guard.Unlock()
	}()

	if existing, exists, err := m.readRecord(); err == nil && exists && existing.InstanceID != m.instanceID {
		m.held = false
		return services.Wrap(services.ErrValidation, "lock", "heartbeat", "lock reclaimed by another instance", nil)
	}
	return m.writeRecord()
}

// Release removes the lock record when this instance still owns it.
// Releasing an unheld lock is a no-op, and a record reclaimed by a
// competitor is left in place.
func (m *Manager) Release() error {
	if !m.held {
		return nil
	}
	m.held = false

	locked, err := m.guard.TryLock()
	if err != nil {
		return services.Wrap(services.ErrTransient, "lock", "release", "acquire guard lock", err)
	}
	if !locked {
		// A competitor is inspecting the record; leave it for the
		// staleness reclaim rather than racing the inspection.
		return nil
	}
	defer func() {
		_ = m.guard.Unlock()
	}()

	if existing, exists, err := m.readRecord(); err == nil && exists && existing.InstanceID != m.instanceID {
		return nil
	}
	removeErr := os.Remove(m.path)
	if removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
		return services.Wrap(services.ErrTransient, "lock", "release", "remove lock record", removeErr)
	}
	m.logger.Info("poller lock released", logging.String("instance_id", m.instanceID))
	return nil
}

func (m *Manager) readRecord() (Record, bool, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("read lock record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false, fmt.Errorf("decode lock record: %w", err)
	}
	if record.InstanceID == "" {
		return Record{}, false, errors.New("lock record missing instance id")
	}
	return record, true, nil
}

func (m *Manager) writeRecord() error {
	now := m.now().UTC()
	record := Record{
		InstanceID:    m.instanceID,
		StartedAt:     now,
		LastHeartbeat: now,
	}
	if m.held {
		if existing, exists, err := m.readRecord(); err == nil && exists && existing.InstanceID == m.instanceID {
			record.StartedAt = existing.StartedAt
		}
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return services.Wrap(services.ErrTransient, "lock", "write", "encode lock record", err)
	}
	if dir := filepath.Dir(m.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrTransient, "lock", "write", "ensure lock directory", err)
		}
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return services.Wrap(services.ErrTransient, "lock", "write", "write lock record", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return services.Wrap(services.ErrTransient, "lock", "write", "replace lock record", err)
	}
	return nil
}
