//go:build !darwin && !linux

package hypervisor

// NewDriver returns ErrUnsupportedPlatform on platforms without a backend.
func NewDriver() (Driver, error) {
	return nil, ErrUnsupportedPlatform
}
