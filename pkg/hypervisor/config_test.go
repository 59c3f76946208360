package hypervisor

import (
	"errors"
	"runtime"
	"testing"
)

func validConfig() *VMConfig {
	return &VMConfig{
		CPUs:     1,
		MemoryMB: 512,
		Kernel:   "/var/lib/agentvm/vmlinux",
		DiskPath: "/var/lib/agentvm/rootfs.qcow2",
	}
}

func TestVMConfigValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestVMConfigValidateCPUBounds(t *testing.T) {
	cfg := validConfig()
	cfg.CPUs = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidCPUCount) {
		t.Errorf("CPUs=0: got %v, want ErrInvalidCPUCount", err)
	}

	cfg = validConfig()
	cfg.CPUs = runtime.NumCPU() + 1
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidCPUCount) {
		t.Errorf("CPUs over host count: got %v, want ErrInvalidCPUCount", err)
	}
}

func TestVMConfigValidateMemory(t *testing.T) {
	cfg := validConfig()
	cfg.MemoryMB = 64
	if err := cfg.Validate(); !errors.Is(err, ErrInsufficientMemory) {
		t.Errorf("MemoryMB=64: got %v, want ErrInsufficientMemory", err)
	}
}

func TestVMConfigValidateRequiredPaths(t *testing.T) {
	cfg := validConfig()
	cfg.Kernel = ""
	if err := cfg.Validate(); !errors.Is(err, ErrMissingKernel) {
		t.Errorf("missing kernel: got %v, want ErrMissingKernel", err)
	}

	cfg = validConfig()
	cfg.DiskPath = ""
	if err := cfg.Validate(); !errors.Is(err, ErrMissingRootfs) {
		t.Errorf("missing disk: got %v, want ErrMissingRootfs", err)
	}
}

func TestVMConfigValidateNetworkMode(t *testing.T) {
	cfg := validConfig()
	cfg.EnableNetwork = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("default network mode rejected: %v", err)
	}
	if cfg.NetworkMode != "nat" {
		t.Errorf("NetworkMode defaulted to %q, want nat", cfg.NetworkMode)
	}

	cfg = validConfig()
	cfg.EnableNetwork = true
	cfg.NetworkMode = "bridged"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidNetworkMode) {
		t.Errorf("bridged mode: got %v, want ErrInvalidNetworkMode", err)
	}
}
