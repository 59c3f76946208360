package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeDisk records snapshot operations against disk images.
type fakeDisk struct {
	mu       sync.Mutex
	created  []string
	restored []string
	deleted  []string

	createErr   error
	restoreErr  error
	deleteDelay time.Duration
}

func (d *fakeDisk) Create(ctx context.Context, diskPath, tag string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return d.createErr
	}
	d.created = append(d.created, tag)
	return nil
}

func (d *fakeDisk) Restore(ctx context.Context, diskPath, tag string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.restoreErr != nil {
		return d.restoreErr
	}
	d.restored = append(d.restored, tag)
	return nil
}

func (d *fakeDisk) Delete(ctx context.Context, diskPath, tag string) error {
	if d.deleteDelay > 0 {
		time.Sleep(d.deleteDelay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, tag)
	return nil
}

func (d *fakeDisk) deletedTags() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.deleted...)
}

func newTestSnapshotManager(t *testing.T, maxHistory int) (*SnapshotManager, *Controller, *fakeDriver, *fakeDisk) {
	t.Helper()
	dataDir := t.TempDir()
	ctrl, driver := newTestController(t, ControllerConfig{DataDir: dataDir}, &scriptedExecutor{})
	disk := &fakeDisk{}
	store := NewFileSnapshotStore(dataDir)
	mgr, err := NewSnapshotManager(ctrl, disk, store, maxHistory, nil)
	if err != nil {
		t.Fatalf("NewSnapshotManager: %v", err)
	}
	return mgr, ctrl, driver, disk
}

func TestCreateSnapshotPausesAndResumesRunningGuest(t *testing.T) {
	ctx := context.Background()
	mgr, ctrl, driver, disk := newTestSnapshotManager(t, 5)

	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap, err := mgr.CreateSnapshot(ctx, "before-upgrade")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if snap.CapturedState != "running" {
		t.Fatalf("CapturedState = %q, want running", snap.CapturedState)
	}
	if !snap.HasDiskSnapshot() {
		t.Fatal("snapshot missing disk state")
	}
	if driver.pauseCalls != 1 {
		t.Fatalf("pauseCalls = %d, want 1", driver.pauseCalls)
	}
	if got := ctrl.State(); got != StateRunning {
		t.Fatalf("state after snapshot = %s, want running", got)
	}
	if len(disk.created) != 1 || disk.created[0] != snap.ID {
		t.Fatalf("disk.created = %v, want [%s]", disk.created, snap.ID)
	}
}

func TestCreateSnapshotWhileStoppedSkipsPause(t *testing.T) {
	ctx := context.Background()
	mgr, ctrl, driver, _ := newTestSnapshotManager(t, 5)

	snap, err := mgr.CreateSnapshot(ctx, "cold")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if snap.CapturedState != "stopped" {
		t.Fatalf("CapturedState = %q, want stopped", snap.CapturedState)
	}
	if driver.pauseCalls != 0 {
		t.Fatalf("pauseCalls = %d, want 0", driver.pauseCalls)
	}
	if got := ctrl.State(); got != StateStopped {
		t.Fatalf("state = %s, want stopped", got)
	}
}

func TestCreateSnapshotDiskFailureKeepsMetadata(t *testing.T) {
	ctx := context.Background()
	mgr, ctrl, _, disk := newTestSnapshotManager(t, 5)
	disk.createErr = errors.New("qemu-img: not a qcow2 image")

	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, err := mgr.CreateSnapshot(ctx, "partial")
	if !errors.Is(err, ErrDiskSnapshotFailed) {
		t.Fatalf("err = %v, want ErrDiskSnapshotFailed", err)
	}
	if snap == nil {
		t.Fatal("snapshot not returned on metadata-only capture")
	}
	if snap.HasDiskSnapshot() {
		t.Fatal("metadata-only snapshot claims disk state")
	}
	// The guest was resumed despite the failed capture.
	if got := ctrl.State(); got != StateRunning {
		t.Fatalf("state = %s, want running", got)
	}
	// And the entry is in history.
	if got := len(mgr.List()); got != 1 {
		t.Fatalf("history len = %d, want 1", got)
	}
}

func TestCreateSnapshotResumeFailureKeepsHistory(t *testing.T) {
	ctx := context.Background()
	mgr, ctrl, driver, disk := newTestSnapshotManager(t, 5)
	driver.resumeErr = errors.New("vcpu resume rejected")

	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, err := mgr.CreateSnapshot(ctx, "stuck")
	if err == nil {
		t.Fatal("expected resume error")
	}
	if snap == nil || !snap.HasDiskSnapshot() {
		t.Fatalf("snap = %+v, want captured disk state", snap)
	}
	// The captured disk state stays referenced: the entry made it into
	// history despite the failed resume.
	if got := len(mgr.List()); got != 1 {
		t.Fatalf("history len = %d, want 1", got)
	}
	if len(disk.created) != 1 || disk.created[0] != snap.ID {
		t.Fatalf("disk.created = %v", disk.created)
	}
	if got := ctrl.State(); got != StatePaused {
		t.Fatalf("state = %s, want paused", got)
	}

	// A fresh manager sees the entry too.
	reloaded, err := NewSnapshotManager(ctrl, disk, NewFileSnapshotStore(ctrl.cfg.DataDir), 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reloaded.Get(snap.ID); err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
}

func TestSnapshotHistoryIsNewestFirstAndBounded(t *testing.T) {
	ctx := context.Background()
	mgr, _, _, disk := newTestSnapshotManager(t, 3)

	var ids []string
	for i := 0; i < 5; i++ {
		snap, err := mgr.CreateSnapshot(ctx, fmt.Sprintf("snap-%d", i))
		if err != nil {
			t.Fatalf("CreateSnapshot %d: %v", i, err)
		}
		ids = append(ids, snap.ID)
	}

	history := mgr.List()
	if len(history) != 3 {
		t.Fatalf("history len = %d, want 3", len(history))
	}
	// Newest first: snap-4, snap-3, snap-2.
	for i, want := range []string{"snap-4", "snap-3", "snap-2"} {
		if history[i].Name != want {
			t.Fatalf("history[%d].Name = %q, want %q", i, history[i].Name, want)
		}
	}
	// The two oldest disk snapshots were cleaned up.
	if len(disk.deleted) != 2 {
		t.Fatalf("disk.deleted = %v, want 2 entries", disk.deleted)
	}
	for i, want := range []string{ids[0], ids[1]} {
		if disk.deleted[i] != want {
			t.Fatalf("disk.deleted[%d] = %q, want %q", i, disk.deleted[i], want)
		}
	}
}

func TestRestoreSnapshotStopsRestoresAndBoots(t *testing.T) {
	ctx := context.Background()
	mgr, ctrl, _, disk := newTestSnapshotManager(t, 5)

	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, err := mgr.CreateSnapshot(ctx, "baseline")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	if err := mgr.RestoreSnapshot(ctx, snap.ID); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}
	if len(disk.restored) != 1 || disk.restored[0] != snap.ID {
		t.Fatalf("disk.restored = %v", disk.restored)
	}
	if got := ctrl.State(); got != StateRunning {
		t.Fatalf("state after restore = %s, want running", got)
	}

	restored, err := mgr.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if restored.LastRestoredAt == nil {
		t.Fatal("LastRestoredAt not recorded")
	}
}

func TestRestoreMetadataOnlySnapshotFails(t *testing.T) {
	ctx := context.Background()
	mgr, _, _, disk := newTestSnapshotManager(t, 5)
	disk.createErr = errors.New("capture failed")

	snap, err := mgr.CreateSnapshot(ctx, "meta-only")
	if !errors.Is(err, ErrDiskSnapshotFailed) {
		t.Fatalf("CreateSnapshot err = %v", err)
	}

	if err := mgr.RestoreSnapshot(ctx, snap.ID); !errors.Is(err, ErrRestoreUnavailable) {
		t.Fatalf("RestoreSnapshot = %v, want ErrRestoreUnavailable", err)
	}
}

func TestQuickRollbackUsesNewestSnapshot(t *testing.T) {
	ctx := context.Background()
	mgr, _, _, disk := newTestSnapshotManager(t, 5)

	if _, err := mgr.CreateSnapshot(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	newest, err := mgr.CreateSnapshot(ctx, "new")
	if err != nil {
		t.Fatal(err)
	}

	if err := mgr.QuickRollback(ctx); err != nil {
		t.Fatalf("QuickRollback: %v", err)
	}
	if len(disk.restored) != 1 || disk.restored[0] != newest.ID {
		t.Fatalf("disk.restored = %v, want [%s]", disk.restored, newest.ID)
	}
}

func TestQuickRollbackWithEmptyHistory(t *testing.T) {
	mgr, _, _, _ := newTestSnapshotManager(t, 5)
	if err := mgr.QuickRollback(context.Background()); !errors.Is(err, ErrNoSnapshots) {
		t.Fatalf("QuickRollback = %v, want ErrNoSnapshots", err)
	}
}

func TestDeleteSnapshot(t *testing.T) {
	ctx := context.Background()
	mgr, _, _, disk := newTestSnapshotManager(t, 5)

	snap, err := mgr.CreateSnapshot(ctx, "doomed")
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.DeleteSnapshot(ctx, snap.ID); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	if got := len(mgr.List()); got != 0 {
		t.Fatalf("history len = %d, want 0", got)
	}
	mgr.WaitCleanup()
	if got := disk.deletedTags(); len(got) != 1 || got[0] != snap.ID {
		t.Fatalf("disk.deleted = %v", got)
	}

	if err := mgr.DeleteSnapshot(ctx, snap.ID); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("double delete = %v, want ErrSnapshotNotFound", err)
	}
}

func TestDeleteSnapshotDoesNotBlockOnDiskCleanup(t *testing.T) {
	ctx := context.Background()
	mgr, _, _, disk := newTestSnapshotManager(t, 5)

	snap, err := mgr.CreateSnapshot(ctx, "slow-cleanup")
	if err != nil {
		t.Fatal(err)
	}
	disk.deleteDelay = 300 * time.Millisecond

	start := time.Now()
	if err := mgr.DeleteSnapshot(ctx, snap.ID); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= disk.deleteDelay {
		t.Fatalf("DeleteSnapshot blocked %v on disk cleanup", elapsed)
	}
	if got := len(mgr.List()); got != 0 {
		t.Fatalf("history len = %d, want 0", got)
	}

	// Cleanup still happens, just off the caller's path.
	mgr.WaitCleanup()
	if got := disk.deletedTags(); len(got) != 1 || got[0] != snap.ID {
		t.Fatalf("disk.deleted = %v", got)
	}
}

func TestFindByPrefixAndName(t *testing.T) {
	ctx := context.Background()
	mgr, _, _, _ := newTestSnapshotManager(t, 5)

	snap, err := mgr.CreateSnapshot(ctx, "checkpoint")
	if err != nil {
		t.Fatal(err)
	}

	byName, err := mgr.Get("checkpoint")
	if err != nil || byName.ID != snap.ID {
		t.Fatalf("Get by name = %v, %v", byName, err)
	}
	byPrefix, err := mgr.Get(snap.ID[:8])
	if err != nil || byPrefix.ID != snap.ID {
		t.Fatalf("Get by prefix = %v, %v", byPrefix, err)
	}
	if _, err := mgr.Get("no-such"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("Get missing = %v, want ErrSnapshotNotFound", err)
	}
}

func TestRenameSnapshotPersists(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	ctrl, _ := newTestController(t, ControllerConfig{DataDir: dataDir}, nil)
	store := NewFileSnapshotStore(dataDir)
	mgr, err := NewSnapshotManager(ctrl, &fakeDisk{}, store, 5, nil)
	if err != nil {
		t.Fatal(err)
	}

	snap, err := mgr.CreateSnapshot(ctx, "draft")
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.RenameSnapshot(snap.ID, "final"); err != nil {
		t.Fatalf("RenameSnapshot: %v", err)
	}

	// A fresh manager sees the rename.
	reloaded, err := NewSnapshotManager(ctrl, &fakeDisk{}, NewFileSnapshotStore(dataDir), 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reloaded.Get(snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "final" {
		t.Fatalf("Name = %q, want final", got.Name)
	}
}

func TestClearAllSnapshots(t *testing.T) {
	ctx := context.Background()
	mgr, _, _, disk := newTestSnapshotManager(t, 5)

	for i := 0; i < 3; i++ {
		if _, err := mgr.CreateSnapshot(ctx, fmt.Sprintf("s%d", i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := mgr.ClearAllSnapshots(ctx); err != nil {
		t.Fatalf("ClearAllSnapshots: %v", err)
	}
	if got := len(mgr.List()); got != 0 {
		t.Fatalf("history len = %d, want 0", got)
	}
	if len(disk.deleted) != 3 {
		t.Fatalf("disk.deleted = %v, want 3 entries", disk.deleted)
	}
}
