// Package hypervisor provides a unified interface for guest VM management
// across hypervisor backends (macOS Virtualization.framework, Linux KVM).
package hypervisor

import "context"

// Driver is the hypervisor-facing handle owned by the lifecycle controller.
// Platform-specific implementations (vz, kvm) satisfy this interface.
type Driver interface {
	// Validate checks whether the configuration is acceptable for this driver.
	Validate(ctx context.Context, cfg *VMConfig) error

	// Create allocates guest resources without booting.
	Create(ctx context.Context, cfg *VMConfig) error

	// Start boots the guest. The returned channel receives exactly one
	// value when the guest exits: nil for a clean stop, the failure otherwise.
	Start(ctx context.Context) (chan error, error)

	// Stop requests a graceful guest shutdown.
	Stop(ctx context.Context) error

	// Kill terminates the guest immediately.
	Kill(ctx context.Context) error

	// Pause freezes guest execution, leaving resources allocated.
	Pause(ctx context.Context) error

	// Resume continues a paused guest.
	Resume(ctx context.Context) error

	Info() Info
	Capabilities() Capabilities
}

// Capabilities describes backend feature support, checked before
// configuring features a backend cannot honor.
type Capabilities struct {
	SharedDirs  bool // virtio-fs directory sharing
	Networking  bool // virtio-net
	PauseResume bool // freeze/unfreeze guest execution
}

// Info identifies the active backend.
type Info struct {
	Name    string // "vz" or "kvm"
	Version string
	Arch    string
}
