package lock_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shiftwatch/internal/lock"
	"shiftwatch/internal/logging"
)

func newManager(t *testing.T, path string, opts ...lock.Option) *lock.Manager {
	t.Helper()
	manager, err := lock.NewManager(path, 30*time.Minute, logging.NewNop(), opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return manager
}

func TestAcquireCreatesRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poller.lock")
	manager := newManager(t, path)

	acquired, err := manager.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !acquired {
		t.Fatal("expected lock acquisition on empty path")
	}
	if !manager.Held() {
		t.Fatal("expected Held after acquire")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock record: %v", err)
	}
	var record lock.Record
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("decode lock record: %v", err)
	}
	if record.InstanceID != manager.InstanceID() {
		t.Fatalf("record instance = %q, want %q", record.InstanceID, manager.InstanceID())
	}
	if record.StartedAt.IsZero() || record.LastHeartbeat.IsZero() {
		t.Fatal("expected started_at and last_heartbeat to be set")
	}
}

func TestAcquireYieldsToFreshHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poller.lock")
	record := lock.Record{
		InstanceID:    "other-instance",
		StartedAt:     time.Now().UTC().Add(-5 * time.Minute),
		LastHeartbeat: time.Now().UTC().Add(-time.Minute),
	}
	writeRecord(t, path, record)

	manager := newManager(t, path)
	acquired, err := manager.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if acquired {
		t.Fatal("expected yield when a fresh holder exists")
	}
	if manager.Held() {
		t.Fatal("Held should be false after yielding")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock record: %v", err)
	}
	var after lock.Record
	if err := json.Unmarshal(data, &after); err != nil {
		t.Fatalf("decode lock record: %v", err)
	}
	if after.InstanceID != "other-instance" {
		t.Fatalf("record was overwritten: instance = %q", after.InstanceID)
	}
}

func TestAcquireOverridesStaleHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poller.lock")
	stale := lock.Record{
		InstanceID:    "dead-instance",
		StartedAt:     time.Now().UTC().Add(-2 * time.Hour),
		LastHeartbeat: time.Now().UTC().Add(-45 * time.Minute),
	}
	writeRecord(t, path, stale)

	var handled []lock.Record
	manager := newManager(t, path, lock.WithStaleHandler(func(ctx context.Context, previous lock.Record, age time.Duration) error {
		handled = append(handled, previous)
		if age < 45*time.Minute {
			t.Errorf("reported age = %s, want >= 45m", age)
		}
		return nil
	}))

	acquired, err := manager.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !acquired {
		t.Fatal("expected stale lock to be overridden")
	}
	if len(handled) != 1 {
		t.Fatalf("stale handler invoked %d times, want 1", len(handled))
	}
	if handled[0].InstanceID != "dead-instance" {
		t.Fatalf("handler saw instance %q, want dead-instance", handled[0].InstanceID)
	}
}

func TestAcquireOverridesCorruptRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poller.lock")
	if err := os.WriteFile(path, []byte("not json at all"), 0o644); err != nil {
		t.Fatalf("write corrupt record: %v", err)
	}

	staleCalls := 0
	manager := newManager(t, path, lock.WithStaleHandler(func(context.Context, lock.Record, time.Duration) error {
		staleCalls++
		return nil
	}))

	acquired, err := manager.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !acquired {
		t.Fatal("expected corrupt lock to be overridden")
	}
	if staleCalls != 0 {
		t.Fatalf("stale handler invoked %d times for corrupt record, want 0", staleCalls)
	}
}

func TestAcquireReclaimsFromHungHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poller.lock")
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	hung := newManager(t, path, lock.WithClock(func() time.Time { return base }))
	if acquired, err := hung.Acquire(context.Background()); err != nil || !acquired {
		t.Fatalf("first Acquire = %v, %v", acquired, err)
	}
	// The first holder never heartbeats and never releases.

	staleCalls := 0
	later := base.Add(2 * time.Hour)
	claimer := newManager(t, path,
		lock.WithClock(func() time.Time { return later }),
		lock.WithStaleHandler(func(_ context.Context, previous lock.Record, age time.Duration) error {
			staleCalls++
			if previous.InstanceID != hung.InstanceID() {
				t.Errorf("handler saw instance %q, want %q", previous.InstanceID, hung.InstanceID())
			}
			if age < 2*time.Hour {
				t.Errorf("reported age = %s, want >= 2h", age)
			}
			return nil
		}))

	acquired, err := claimer.Acquire(context.Background())
	if err != nil {
		t.Fatalf("claimer Acquire: %v", err)
	}
	if !acquired {
		t.Fatal("expected reclaim while the stale holder is still alive")
	}
	if staleCalls != 1 {
		t.Fatalf("stale handler invoked %d times, want 1", staleCalls)
	}

	// The displaced holder learns of the loss on its next heartbeat.
	if err := hung.Heartbeat(); err == nil {
		t.Fatal("expected heartbeat to report the reclaimed lock")
	}
	if hung.Held() {
		t.Fatal("Held should be false after losing the lock")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock record: %v", err)
	}
	var record lock.Record
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("decode lock record: %v", err)
	}
	if record.InstanceID != claimer.InstanceID() {
		t.Fatalf("record instance = %q, want %q", record.InstanceID, claimer.InstanceID())
	}
}

func TestReleaseLeavesReclaimedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poller.lock")
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	hung := newManager(t, path, lock.WithClock(func() time.Time { return base }))
	if _, err := hung.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	claimer := newManager(t, path, lock.WithClock(func() time.Time { return base.Add(2 * time.Hour) }))
	if acquired, err := claimer.Acquire(context.Background()); err != nil || !acquired {
		t.Fatalf("claimer Acquire = %v, %v", acquired, err)
	}

	// The displaced holder releases without noticing the reclaim. The new
	// holder's record must survive.
	if err := hung.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock record: %v", err)
	}
	var record lock.Record
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("decode lock record: %v", err)
	}
	if record.InstanceID != claimer.InstanceID() {
		t.Fatalf("record instance = %q, want %q", record.InstanceID, claimer.InstanceID())
	}
}

func TestHeartbeatRefreshesStamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poller.lock")
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	current := base
	manager := newManager(t, path, lock.WithClock(func() time.Time { return current }))

	if _, err := manager.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	current = base.Add(10 * time.Minute)
	if err := manager.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock record: %v", err)
	}
	var record lock.Record
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("decode lock record: %v", err)
	}
	if !record.LastHeartbeat.Equal(current) {
		t.Fatalf("last_heartbeat = %s, want %s", record.LastHeartbeat, current)
	}
	if !record.StartedAt.Equal(base) {
		t.Fatalf("started_at = %s, want original %s", record.StartedAt, base)
	}
}

func TestHeartbeatWithoutLock(t *testing.T) {
	manager := newManager(t, filepath.Join(t.TempDir(), "poller.lock"))
	if err := manager.Heartbeat(); err == nil {
		t.Fatal("expected error heartbeating an unheld lock")
	}
}

func TestReleaseRemovesRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poller.lock")
	manager := newManager(t, path)

	if _, err := manager.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := manager.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if manager.Held() {
		t.Fatal("Held should be false after release")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock record still present after release: %v", err)
	}

	// Releasing again is a no-op.
	if err := manager.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poller.lock")
	first := newManager(t, path)
	if _, err := first.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	second := newManager(t, path)
	acquired, err := second.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if !acquired {
		t.Fatal("expected acquisition after prior holder released")
	}
	if err := second.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func writeRecord(t *testing.T, path string, record lock.Record) {
	t.Helper()
	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("encode record: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write record: %v", err)
	}
}
