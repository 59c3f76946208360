package vm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/javanstorm/agentvm/internal/logging"
)

const defaultMaxSnapshots = 10

// DiskSnapshotter captures and restores point-in-time disk state under
// a named tag.
type DiskSnapshotter interface {
	Create(ctx context.Context, diskPath, tag string) error
	Restore(ctx context.Context, diskPath, tag string) error
	Delete(ctx context.Context, diskPath, tag string) error
}

// SnapshotManager keeps a bounded, newest-first snapshot history for
// one guest. Capture pauses a running guest so the disk image is
// quiescent, and resumes it afterwards. All lifecycle interaction goes
// through the controller's mutex so a capture or restore cannot
// interleave with starts, stops, or command execution.
type SnapshotManager struct {
	ctrl       *Controller
	disk       DiskSnapshotter
	store      SnapshotStore
	maxHistory int
	logger     *slog.Logger

	// history is newest-first. Guarded by ctrl.mu.
	history []*Snapshot

	// In-flight flags, readable without the controller lock.
	creating  atomic.Bool
	restoring atomic.Bool

	// cleanup tracks background disk-layer deletions.
	cleanup sync.WaitGroup
}

// IsCreating reports whether a snapshot capture is in flight.
func (m *SnapshotManager) IsCreating() bool { return m.creating.Load() }

// IsRestoring reports whether a snapshot restore is in flight.
func (m *SnapshotManager) IsRestoring() bool { return m.restoring.Load() }

// NewSnapshotManager loads persisted history and returns a manager
// bound to the controller. maxHistory <= 0 selects the default bound.
func NewSnapshotManager(ctrl *Controller, disk DiskSnapshotter, store SnapshotStore, maxHistory int, logger *slog.Logger) (*SnapshotManager, error) {
	if maxHistory <= 0 {
		maxHistory = defaultMaxSnapshots
	}
	history, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load snapshot history: %w", err)
	}
	return &SnapshotManager{
		ctrl:       ctrl,
		disk:       disk,
		store:      store,
		maxHistory: maxHistory,
		logger:     logging.Ensure(logger),
		history:    history,
	}, nil
}

// List returns the history newest-first.
func (m *SnapshotManager) List() []*Snapshot {
	m.ctrl.mu.Lock()
	defer m.ctrl.mu.Unlock()
	out := make([]*Snapshot, len(m.history))
	copy(out, m.history)
	return out
}

// Get returns the snapshot with the given ID, or an ID prefix when it
// is unambiguous.
func (m *SnapshotManager) Get(id string) (*Snapshot, error) {
	m.ctrl.mu.Lock()
	defer m.ctrl.mu.Unlock()
	snap, _, err := m.findLocked(id)
	return snap, err
}

// CreateSnapshot captures the guest's current disk state. A running
// guest is paused for the capture and resumed afterwards; a stopped or
// already-paused guest is captured as-is.
//
// When the disk capture itself fails, the snapshot is still recorded as
// metadata-only and returned alongside an error wrapping
// ErrDiskSnapshotFailed. Callers treat that as a warning, not a loss of
// history.
func (m *SnapshotManager) CreateSnapshot(ctx context.Context, name string) (*Snapshot, error) {
	m.ctrl.mu.Lock()
	defer m.ctrl.mu.Unlock()
	m.creating.Store(true)
	defer m.creating.Store(false)

	snap := &Snapshot{
		ID:            uuid.NewString(),
		Name:          name,
		CapturedState: m.ctrl.state.String(),
		DiskPath:      m.ctrl.cfg.DiskPath,
		CreatedAt:     time.Now().UTC(),
	}
	if snap.Name == "" {
		snap.Name = "snapshot-" + snap.CreatedAt.Format("20060102-150405")
	}

	pausedHere := false
	if m.ctrl.state == StateRunning {
		if err := m.ctrl.pauseLocked(ctx); err != nil {
			return nil, fmt.Errorf("%w: pause guest: %v", ErrCreationFailed, err)
		}
		pausedHere = true
	}

	var diskErr error
	if m.disk == nil {
		diskErr = fmt.Errorf("%w: no disk snapshot facility", ErrDiskSnapshotFailed)
	} else if err := m.disk.Create(ctx, snap.DiskPath, snap.ID); err != nil {
		diskErr = fmt.Errorf("%w: %v", ErrDiskSnapshotFailed, err)
	} else {
		snap.DiskSnapshotID = snap.ID
	}

	// Record the entry even when the resume below fails: the captured
	// disk state must stay referenced by history.
	var resumeErr error
	if pausedHere {
		if err := m.ctrl.resumeLocked(ctx); err != nil {
			resumeErr = fmt.Errorf("resume guest after snapshot: %w", err)
		}
	}

	m.history = append([]*Snapshot{snap}, m.history...)
	m.evictLocked(ctx)
	if err := m.persistLocked(); err != nil {
		return snap, err
	}

	if resumeErr != nil {
		m.logger.Warn("guest stuck paused after snapshot", "id", snap.ID, "error", resumeErr)
		return snap, resumeErr
	}
	if diskErr != nil {
		m.logger.Warn("snapshot recorded without disk state", "id", snap.ID, "error", diskErr)
		return snap, diskErr
	}
	m.logger.Info("snapshot created", "id", snap.ID, "name", snap.Name)
	return snap, nil
}

// evictLocked trims the oldest entries beyond the history bound. Disk
// cleanup for evicted entries is best-effort.
func (m *SnapshotManager) evictLocked(ctx context.Context) {
	for len(m.history) > m.maxHistory {
		victim := m.history[len(m.history)-1]
		m.history = m.history[:len(m.history)-1]
		m.logger.Info("evicting oldest snapshot", "id", victim.ID, "name", victim.Name)
		m.deleteDiskState(ctx, victim)
	}
}

func (m *SnapshotManager) deleteDiskState(ctx context.Context, snap *Snapshot) {
	if m.disk == nil || !snap.HasDiskSnapshot() {
		return
	}
	if err := m.disk.Delete(ctx, snap.DiskPath, snap.DiskSnapshotID); err != nil {
		m.logger.Warn("failed to delete disk snapshot", "id", snap.ID, "error", err)
	}
}

// RestoreSnapshot rolls the guest back to a captured snapshot. The
// guest is stopped if needed, the disk state is restored in place, and
// the guest is booted from the restored image. Metadata-only snapshots
// cannot be restored.
func (m *SnapshotManager) RestoreSnapshot(ctx context.Context, id string) error {
	m.ctrl.mu.Lock()
	defer m.ctrl.mu.Unlock()
	return m.restoreLocked(ctx, id)
}

func (m *SnapshotManager) restoreLocked(ctx context.Context, id string) error {
	m.restoring.Store(true)
	defer m.restoring.Store(false)
	return m.applyRestoreLocked(ctx, id)
}

func (m *SnapshotManager) applyRestoreLocked(ctx context.Context, id string) error {
	snap, _, err := m.findLocked(id)
	if err != nil {
		return err
	}
	if !snap.HasDiskSnapshot() {
		return fmt.Errorf("%w: snapshot %s has no disk state", ErrRestoreUnavailable, snap.ID)
	}
	if m.disk == nil {
		return fmt.Errorf("%w: no disk snapshot facility", ErrRestoreUnavailable)
	}

	wasUp := m.ctrl.state == StateRunning || m.ctrl.state == StatePaused
	if wasUp {
		if err := m.ctrl.stopLocked(ctx); err != nil {
			return fmt.Errorf("stop guest for restore: %w", err)
		}
	}

	if err := m.disk.Restore(ctx, snap.DiskPath, snap.DiskSnapshotID); err != nil {
		return fmt.Errorf("restore disk snapshot %s: %w", snap.ID, err)
	}

	now := time.Now().UTC()
	snap.LastRestoredAt = &now
	if err := m.persistLocked(); err != nil {
		m.logger.Warn("failed to persist restore timestamp", "error", err)
	}

	if err := m.ctrl.startLocked(ctx); err != nil {
		return fmt.Errorf("boot restored guest: %w", err)
	}
	m.logger.Info("snapshot restored", "id", snap.ID, "name", snap.Name)
	return nil
}

// QuickRollback restores the newest snapshot.
func (m *SnapshotManager) QuickRollback(ctx context.Context) error {
	m.ctrl.mu.Lock()
	defer m.ctrl.mu.Unlock()
	if len(m.history) == 0 {
		return ErrNoSnapshots
	}
	return m.restoreLocked(ctx, m.history[0].ID)
}

// DeleteSnapshot removes a snapshot from history. The persisted list is
// updated first; disk cleanup runs in the background, best-effort, and
// never blocks the caller.
func (m *SnapshotManager) DeleteSnapshot(ctx context.Context, id string) error {
	m.ctrl.mu.Lock()
	defer m.ctrl.mu.Unlock()

	snap, idx, err := m.findLocked(id)
	if err != nil {
		return err
	}
	m.history = append(m.history[:idx], m.history[idx+1:]...)
	if err := m.persistLocked(); err != nil {
		return err
	}
	m.cleanup.Add(1)
	go func() {
		defer m.cleanup.Done()
		m.deleteDiskState(context.Background(), snap)
	}()
	m.logger.Info("snapshot deleted", "id", snap.ID, "name", snap.Name)
	return nil
}

// WaitCleanup blocks until pending background disk cleanup finishes.
func (m *SnapshotManager) WaitCleanup() { m.cleanup.Wait() }

// RenameSnapshot updates a snapshot's display name.
func (m *SnapshotManager) RenameSnapshot(id, name string) error {
	m.ctrl.mu.Lock()
	defer m.ctrl.mu.Unlock()

	snap, _, err := m.findLocked(id)
	if err != nil {
		return err
	}
	snap.Name = name
	return m.persistLocked()
}

// ClearAllSnapshots empties the history, cleaning up disk state
// best-effort.
func (m *SnapshotManager) ClearAllSnapshots(ctx context.Context) error {
	m.ctrl.mu.Lock()
	defer m.ctrl.mu.Unlock()

	victims := m.history
	m.history = nil
	if err := m.persistLocked(); err != nil {
		m.history = victims
		return err
	}
	for _, snap := range victims {
		m.deleteDiskState(ctx, snap)
	}
	m.logger.Info("snapshot history cleared", "count", len(victims))
	return nil
}

// findLocked resolves an ID or unambiguous ID prefix. Exact name
// matches are accepted too, for CLI convenience.
func (m *SnapshotManager) findLocked(id string) (*Snapshot, int, error) {
	if id == "" {
		return nil, -1, fmt.Errorf("%w: empty snapshot id", ErrSnapshotNotFound)
	}
	for i, snap := range m.history {
		if snap.ID == id || snap.Name == id {
			return snap, i, nil
		}
	}
	matchIdx := -1
	for i, snap := range m.history {
		if strings.HasPrefix(snap.ID, id) {
			if matchIdx >= 0 {
				return nil, -1, fmt.Errorf("%w: ambiguous prefix %q", ErrSnapshotNotFound, id)
			}
			matchIdx = i
		}
	}
	if matchIdx < 0 {
		return nil, -1, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return m.history[matchIdx], matchIdx, nil
}

func (m *SnapshotManager) persistLocked() error {
	if err := m.store.Save(m.history); err != nil {
		return fmt.Errorf("persist snapshot history: %w", err)
	}
	return nil
}
