package hypervisor

import "runtime"

// SharedDir is one host directory exported to the guest over virtio-fs.
// Order matters: the guest mounts each entry by its Tag, and tags are
// assigned positionally by the caller.
type SharedDir struct {
	// Tag is the virtio-fs mount tag the guest uses:
	//   mount -t virtiofs <tag> <mountpoint>
	Tag string

	// HostPath is the host directory being exported.
	HostPath string

	// ReadOnly exports the share without write access.
	ReadOnly bool
}

// VMConfig holds the boot configuration for a guest.
type VMConfig struct {
	// CPUs is the number of virtual CPUs, bounded by the host core count.
	CPUs int

	// MemoryMB is guest memory in megabytes.
	MemoryMB int

	// Kernel is the path to the Linux kernel image.
	Kernel string

	// Initrd is the path to the initial ramdisk (optional).
	Initrd string

	// Cmdline is the kernel command line.
	Cmdline string

	// DiskPath is the path to the root disk image.
	DiskPath string

	// SharedDirs are the virtio-fs exports, in mount-tag order.
	SharedDirs []SharedDir

	// EnableNetwork attaches a virtio-net device.
	EnableNetwork bool

	// NetworkMode selects the network attachment. Only "nat" is supported.
	NetworkMode string

	// MACAddress is an optional fixed MAC (empty = random locally-administered).
	MACAddress string

	// ConsoleLog is a file path receiving guest serial console output.
	// Empty discards console output.
	ConsoleLog string
}

// Validate performs backend-independent validation of the configuration.
func (c *VMConfig) Validate() error {
	if c.CPUs < 1 || c.CPUs > runtime.NumCPU() {
		return ErrInvalidCPUCount
	}
	if c.MemoryMB < 128 {
		return ErrInsufficientMemory
	}
	if c.Kernel == "" {
		return ErrMissingKernel
	}
	if c.DiskPath == "" {
		return ErrMissingRootfs
	}
	if c.EnableNetwork {
		if c.NetworkMode == "" {
			c.NetworkMode = "nat"
		}
		if c.NetworkMode != "nat" {
			return ErrInvalidNetworkMode
		}
	}
	return nil
}
