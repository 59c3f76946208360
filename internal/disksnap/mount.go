package disksnap

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// MountPoint resolves the mount point of the volume owning path by
// walking toward the root until the device number changes.
func MountPoint(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %s: %v", ErrMountPointLookup, path, err)
	}

	dir := filepath.Dir(abs)
	var st unix.Stat_t
	if err := unix.Stat(dir, &st); err != nil {
		return "", fmt.Errorf("%w: stat %s: %v", ErrMountPointLookup, dir, err)
	}
	dev := st.Dev

	for dir != "/" {
		parent := filepath.Dir(dir)
		var pst unix.Stat_t
		if err := unix.Stat(parent, &pst); err != nil {
			return "", fmt.Errorf("%w: stat %s: %v", ErrMountPointLookup, parent, err)
		}
		if pst.Dev != dev {
			break
		}
		dir = parent
	}
	return dir, nil
}

// freeSpace returns the available bytes on the volume mounted at mount.
func freeSpace(mount string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(mount, &st); err != nil {
		return 0, fmt.Errorf("%w: statfs %s: %v", ErrMountPointLookup, mount, err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
