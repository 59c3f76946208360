// Package disksnap drives the host-side disk-snapshot facility used for
// crash-safe guest rollback. Snapshots are qcow2 internal snapshots
// managed with qemu-img; the guest must be paused or stopped while the
// facility touches its backing disk.
package disksnap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/javanstorm/agentvm/internal/logging"
)

var (
	// ErrPathNotFound means the backing disk image does not exist.
	ErrPathNotFound = errors.New("disksnap: disk image not found")

	// ErrMountPointLookup means the volume owning the disk image could
	// not be resolved.
	ErrMountPointLookup = errors.New("disksnap: mount point lookup failed")

	// ErrVolumeFull means the volume owning the disk image has too
	// little free space for a snapshot.
	ErrVolumeFull = errors.New("disksnap: volume has insufficient free space")
)

// minFreeBytes is the free-space floor on the owning volume before a
// snapshot create is refused.
const minFreeBytes = 64 << 20

// Runner executes an external command and returns its combined output.
// Injected so tests can run without qemu-img installed.
type Runner interface {
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Info describes one snapshot present in a disk image.
type Info struct {
	ID  string
	Tag string
}

// Facility exposes create/list/delete/restore over a guest backing disk.
type Facility struct {
	runner Runner
	logger *slog.Logger
}

// New builds a Facility using the real qemu-img binary.
func New(logger *slog.Logger) *Facility {
	return NewWithRunner(execRunner{}, logger)
}

// NewWithRunner builds a Facility with an injected command runner.
func NewWithRunner(runner Runner, logger *slog.Logger) *Facility {
	return &Facility{runner: runner, logger: logging.Ensure(logger)}
}

// Create takes a point-in-time snapshot of diskPath under tag.
// The caller must guarantee the guest is paused or stopped.
func (f *Facility) Create(ctx context.Context, diskPath, tag string) error {
	if _, err := os.Stat(diskPath); err != nil {
		return fmt.Errorf("%w: %s", ErrPathNotFound, diskPath)
	}
	mount, err := MountPoint(diskPath)
	if err != nil {
		return err
	}
	free, err := freeSpace(mount)
	if err != nil {
		return err
	}
	if free < minFreeBytes {
		return fmt.Errorf("%w: %d bytes free on %s", ErrVolumeFull, free, mount)
	}

	f.logger.Debug("creating disk snapshot", "disk", diskPath, "tag", tag, "volume", mount)
	out, err := f.runner.CombinedOutput(ctx, "qemu-img", "snapshot", "-c", tag, diskPath)
	if err != nil {
		return fmt.Errorf("qemu-img snapshot create: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Restore reverts diskPath to the snapshot under tag.
// The caller must guarantee the guest is stopped.
func (f *Facility) Restore(ctx context.Context, diskPath, tag string) error {
	if _, err := os.Stat(diskPath); err != nil {
		return fmt.Errorf("%w: %s", ErrPathNotFound, diskPath)
	}
	f.logger.Debug("restoring disk snapshot", "disk", diskPath, "tag", tag)
	out, err := f.runner.CombinedOutput(ctx, "qemu-img", "snapshot", "-a", tag, diskPath)
	if err != nil {
		return fmt.Errorf("qemu-img snapshot apply: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Delete removes the snapshot under tag. An already-absent snapshot is
// not an error.
func (f *Facility) Delete(ctx context.Context, diskPath, tag string) error {
	out, err := f.runner.CombinedOutput(ctx, "qemu-img", "snapshot", "-d", tag, diskPath)
	if err != nil {
		msg := strings.ToLower(string(out))
		if strings.Contains(msg, "can't find") || strings.Contains(msg, "does not exist") {
			return nil
		}
		return fmt.Errorf("qemu-img snapshot delete: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// List returns the snapshots present in diskPath.
func (f *Facility) List(ctx context.Context, diskPath string) ([]Info, error) {
	out, err := f.runner.CombinedOutput(ctx, "qemu-img", "snapshot", "-l", diskPath)
	if err != nil {
		return nil, fmt.Errorf("qemu-img snapshot list: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return parseSnapshotList(string(out)), nil
}

// parseSnapshotList reads `qemu-img snapshot -l` output: a banner line, a
// column header, then one row per snapshot with ID and TAG first.
func parseSnapshotList(out string) []Info {
	var snaps []Info
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[0] == "Snapshot" || fields[0] == "ID" {
			continue
		}
		snaps = append(snaps, Info{ID: fields[0], Tag: fields[1]})
	}
	return snaps
}
