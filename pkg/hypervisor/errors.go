package hypervisor

import "errors"

// Configuration errors
var (
	ErrInvalidCPUCount    = errors.New("hypervisor: CPU count must be between 1 and the host core count")
	ErrInsufficientMemory = errors.New("hypervisor: memory must be at least 128MB")
	ErrMissingKernel      = errors.New("hypervisor: kernel path is required")
	ErrMissingRootfs      = errors.New("hypervisor: root disk path is required")
	ErrInvalidNetworkMode = errors.New("hypervisor: network mode must be 'nat'")
)

// Runtime errors
var (
	ErrNotCreated   = errors.New("hypervisor: VM not created")
	ErrNotRunning   = errors.New("hypervisor: VM is not running")
	ErrNotPaused    = errors.New("hypervisor: VM is not paused")
	ErrNotSupported = errors.New("hypervisor: operation not supported by this backend")
)

// Platform errors
var (
	ErrUnsupportedPlatform = errors.New("hypervisor: platform not supported")
)
