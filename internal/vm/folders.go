package vm

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// tagPrefix is the virtio-fs mount tag prefix. Entry i is exported to
// the guest as "share{i}".
const tagPrefix = "share"

// SharedFolder is one host directory exported to the guest.
type SharedFolder struct {
	HostPath string
	ReadOnly bool
}

// Tag returns the mount tag for position index in the folder list.
func Tag(index int) string {
	return tagPrefix + strconv.Itoa(index)
}

// SharedFolders maps host paths to guest mount tags and back. Tags are
// derived from an entry's current position, so they are stable only
// while the list is unchanged. Pure and in-memory; the lifecycle
// controller guards mutation while a guest is live.
type SharedFolders struct {
	entries []SharedFolder
}

// NewSharedFolders builds an empty folder list.
func NewSharedFolders() *SharedFolders {
	return &SharedFolders{}
}

// Add appends a host directory to the list.
func (s *SharedFolders) Add(hostPath string, readOnly bool) {
	s.entries = append(s.entries, SharedFolder{
		HostPath: filepath.Clean(hostPath),
		ReadOnly: readOnly,
	})
}

// Remove deletes the first entry matching hostPath. It reports whether
// an entry was removed. Removal shifts the tags of all later entries.
func (s *SharedFolders) Remove(hostPath string) bool {
	cleaned := filepath.Clean(hostPath)
	for i, entry := range s.entries {
		if entry.HostPath == cleaned {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Entries returns a copy of the folder list in registration order.
func (s *SharedFolders) Entries() []SharedFolder {
	out := make([]SharedFolder, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of registered folders.
func (s *SharedFolders) Len() int {
	return len(s.entries)
}

// ToGuestPath translates a host path into its guest mount-relative form
// "share{i}/<relative>". The second return is false when hostPath is
// outside every registered folder; absence is not an error.
func (s *SharedFolders) ToGuestPath(hostPath string) (string, bool) {
	cleaned := filepath.Clean(hostPath)
	for i, entry := range s.entries {
		if cleaned == entry.HostPath {
			return Tag(i), true
		}
		if strings.HasPrefix(cleaned, entry.HostPath+string(filepath.Separator)) {
			rel := strings.TrimPrefix(cleaned, entry.HostPath+string(filepath.Separator))
			return Tag(i) + "/" + filepath.ToSlash(rel), true
		}
	}
	return "", false
}

// ToHostPath is the inverse of ToGuestPath: it resolves a
// "share{i}/<relative>" path back to the host path of entry i.
func (s *SharedFolders) ToHostPath(guestPath string) (string, bool) {
	guestPath = strings.TrimPrefix(guestPath, "/")
	head := guestPath
	rest := ""
	if idx := strings.IndexByte(guestPath, '/'); idx >= 0 {
		head = guestPath[:idx]
		rest = guestPath[idx+1:]
	}

	if !strings.HasPrefix(head, tagPrefix) {
		return "", false
	}
	index, err := strconv.Atoi(strings.TrimPrefix(head, tagPrefix))
	if err != nil || index < 0 || index >= len(s.entries) {
		return "", false
	}

	host := s.entries[index].HostPath
	if rest == "" {
		return host, true
	}
	return filepath.Join(host, filepath.FromSlash(rest)), true
}

// MountCommand returns the command the guest runs to mount entry index
// at mountPoint.
func MountCommand(index int, mountPoint string) string {
	return fmt.Sprintf("mount -t virtiofs %s %s", Tag(index), mountPoint)
}

// MountScript generates a shell script mounting every registered folder
// under baseDir/share{i}, with a virtiofs availability check up front.
// Returns "" when no folders are registered.
func (s *SharedFolders) MountScript(baseDir string) string {
	if len(s.entries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Mount host shared folders over virtio-fs.\n")
	b.WriteString("if ! grep -q virtiofs /proc/filesystems; then\n")
	b.WriteString("    echo 'virtiofs not available in this kernel' >&2\n")
	b.WriteString("    exit 1\n")
	b.WriteString("fi\n")
	for i, entry := range s.entries {
		mountPoint := baseDir + "/" + Tag(i)
		fmt.Fprintf(&b, "# %s\n", entry.HostPath)
		fmt.Fprintf(&b, "mkdir -p %s && %s\n", mountPoint, MountCommand(i, mountPoint))
	}
	return b.String()
}

// Tags returns every current mount tag in index order.
func (s *SharedFolders) Tags() []string {
	tags := make([]string, len(s.entries))
	for i := range s.entries {
		tags[i] = Tag(i)
	}
	return tags
}
