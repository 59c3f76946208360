package vm

import "errors"

// Lifecycle errors
var (
	// ErrNotRunning means an operation needed a running guest.
	ErrNotRunning = errors.New("vm: guest is not running")

	// ErrInvalidTransition means the requested state change is not legal
	// from the current state.
	ErrInvalidTransition = errors.New("vm: invalid state transition")

	// ErrFoldersFrozen means the shared-folder list cannot change while
	// the guest is not stopped. Mount tags are positional; editing the
	// list under a live guest would desynchronize its mount table.
	ErrFoldersFrozen = errors.New("vm: shared folders can only change while the guest is stopped")
)

// Execution errors
var (
	// ErrCommandTimeout means a guest command exceeded its deadline and
	// was killed. Reported, never retried.
	ErrCommandTimeout = errors.New("vm: command timed out")

	// ErrExecutionFailed means the command could not be dispatched to
	// the guest at all (transport failure, not a guest exit code).
	ErrExecutionFailed = errors.New("vm: command execution failed")
)

// Snapshot errors
var (
	// ErrNoSnapshots means the snapshot history is empty.
	ErrNoSnapshots = errors.New("vm: no snapshots available")

	// ErrSnapshotNotFound means no snapshot with the given id exists.
	ErrSnapshotNotFound = errors.New("vm: snapshot not found")

	// ErrRestoreUnavailable means the snapshot cannot be restored,
	// typically because it is metadata-only.
	ErrRestoreUnavailable = errors.New("vm: snapshot restore unavailable")

	// ErrDiskSnapshotFailed marks a snapshot that was recorded without a
	// disk-layer capture. The metadata record still exists.
	ErrDiskSnapshotFailed = errors.New("vm: disk snapshot failed")

	// ErrCreationFailed means the snapshot could not be recorded at all.
	ErrCreationFailed = errors.New("vm: snapshot creation failed")
)
