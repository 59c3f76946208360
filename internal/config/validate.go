package config

import (
	"fmt"
	"strings"

	"github.com/javanstorm/agentvm/pkg/hypervisor"
)

// ValidationError represents a configuration issue.
type ValidationError struct {
	Field   string
	Message string
	Fatal   bool // true = can't proceed, false = will be ignored
}

// ValidateConfig checks configuration against platform capabilities.
// Returns a list of validation errors/warnings.
func ValidateConfig(cfg *Config, caps hypervisor.Capabilities) []ValidationError {
	var errors []ValidationError

	if len(cfg.SharedFolders) > 0 && !caps.SharedDirs {
		errors = append(errors, ValidationError{
			Field:   "SharedFolders",
			Message: "Shared folders not supported on this platform (KVM backend lacks virtio-fs)",
			Fatal:   false,
		})
	}

	if cfg.NetworkMode == "nat" && !caps.Networking {
		errors = append(errors, ValidationError{
			Field:   "NetworkMode",
			Message: "Networking not supported on this platform (KVM backend lacks virtio-net)",
			Fatal:   false,
		})
	}

	if cfg.KeepWarm && cfg.WarmIdleTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "WarmIdleTimeout",
			Message: "keep_warm requires a positive warm_idle_timeout",
			Fatal:   true,
		})
	}

	if cfg.MaxSnapshots < 1 {
		errors = append(errors, ValidationError{
			Field:   "MaxSnapshots",
			Message: "max_snapshots must be at least 1",
			Fatal:   true,
		})
	}

	return errors
}

// FormatValidationErrors returns human-readable error summary.
func FormatValidationErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Configuration warnings:\n")
	for _, e := range errors {
		prefix := "Warning"
		if e.Fatal {
			prefix = "Error"
		}
		fmt.Fprintf(&b, "  %s [%s]: %s\n", prefix, e.Field, e.Message)
	}
	return b.String()
}

// HasFatal reports whether any validation issue blocks startup.
func HasFatal(errors []ValidationError) bool {
	for _, e := range errors {
		if e.Fatal {
			return true
		}
	}
	return false
}
