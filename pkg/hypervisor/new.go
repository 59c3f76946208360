package hypervisor

import "runtime"

// SupportedPlatform reports whether a hypervisor backend exists for the host.
func SupportedPlatform() bool {
	switch runtime.GOOS {
	case "darwin", "linux":
		return true
	default:
		return false
	}
}

// NewDriver creates the hypervisor driver for the current platform.
// Implemented in the platform-specific files via build tags.
