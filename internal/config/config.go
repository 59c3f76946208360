package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all agentvm configuration.
type Config struct {
	// VMName is the name of the guest instance.
	VMName string `mapstructure:"vm_name"`

	// CPUs is the number of virtual CPUs allocated to the guest.
	CPUs int `mapstructure:"cpus"`

	// MemoryMB is the amount of RAM in megabytes allocated to the guest.
	MemoryMB int `mapstructure:"memory_mb"`

	// KernelPath is the uncompressed kernel image to boot.
	KernelPath string `mapstructure:"kernel_path"`

	// InitrdPath is an optional initial ramdisk.
	InitrdPath string `mapstructure:"initrd_path"`

	// Cmdline is the kernel command line (empty = built-in default).
	Cmdline string `mapstructure:"cmdline"`

	// DiskPath is the path to the guest root disk image (qcow2 for
	// snapshot support).
	DiskPath string `mapstructure:"disk_path"`

	// SharedFolders are host directories mounted inside the guest, in
	// order. A ":ro" suffix marks an entry read-only. Order matters:
	// the guest mount tag for each entry is its list position.
	SharedFolders []string `mapstructure:"shared_folders"`

	// NetworkMode is "nat" or "none".
	NetworkMode string `mapstructure:"network_mode"`

	// MACAddress is an optional custom MAC address (empty = auto).
	MACAddress string `mapstructure:"mac_address"`

	// AutoStart boots a stopped guest transparently when a command is
	// executed against it.
	AutoStart bool `mapstructure:"auto_start"`

	// KeepWarm leaves the guest running between commands.
	KeepWarm bool `mapstructure:"keep_warm"`

	// WarmIdleTimeout bounds how long a warm guest may sit idle.
	WarmIdleTimeout time.Duration `mapstructure:"warm_idle_timeout"`

	// MaxSnapshots bounds the snapshot history.
	MaxSnapshots int `mapstructure:"max_snapshots"`

	// SSHUser is the username for guest command transport.
	SSHUser string `mapstructure:"ssh_user"`

	// SSHPort is the SSH port inside the guest.
	SSHPort int `mapstructure:"ssh_port"`

	// SSHKeyPath is the private key for guest authentication
	// (empty = the managed key under the data directory).
	SSHKeyPath string `mapstructure:"ssh_key_path"`

	// VMIP is the guest address for command transport.
	VMIP string `mapstructure:"vm_ip"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	paths, err := GetPaths()
	if err != nil {
		paths = &Paths{DataDir: "/tmp/agentvm"}
	}

	return &Config{
		VMName:          "agentvm",
		CPUs:            runtime.NumCPU(),
		MemoryMB:        2048,
		KernelPath:      filepath.Join(paths.DataDir, "vmlinux"),
		DiskPath:        filepath.Join(paths.DataDir, "rootfs.qcow2"),
		SharedFolders:   []string{},
		NetworkMode:     "nat",
		AutoStart:       true,
		KeepWarm:        true,
		WarmIdleTimeout: 5 * time.Minute,
		MaxSnapshots:    10,
		SSHUser:         "root",
		SSHPort:         22,
		VMIP:            "192.168.64.2",
	}
}

// Load reads configuration from file, environment, and defaults.
func Load() (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to determine paths: %w", err)
	}

	defaults := DefaultConfig()
	viper.SetDefault("vm_name", defaults.VMName)
	viper.SetDefault("cpus", defaults.CPUs)
	viper.SetDefault("memory_mb", defaults.MemoryMB)
	viper.SetDefault("kernel_path", defaults.KernelPath)
	viper.SetDefault("initrd_path", defaults.InitrdPath)
	viper.SetDefault("cmdline", defaults.Cmdline)
	viper.SetDefault("disk_path", defaults.DiskPath)
	viper.SetDefault("shared_folders", defaults.SharedFolders)
	viper.SetDefault("network_mode", defaults.NetworkMode)
	viper.SetDefault("mac_address", defaults.MACAddress)
	viper.SetDefault("auto_start", defaults.AutoStart)
	viper.SetDefault("keep_warm", defaults.KeepWarm)
	viper.SetDefault("warm_idle_timeout", defaults.WarmIdleTimeout)
	viper.SetDefault("max_snapshots", defaults.MaxSnapshots)
	viper.SetDefault("ssh_user", defaults.SSHUser)
	viper.SetDefault("ssh_port", defaults.SSHPort)
	viper.SetDefault("ssh_key_path", defaults.SSHKeyPath)
	viper.SetDefault("vm_ip", defaults.VMIP)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(paths.DataDir)
	viper.AddConfigPath(paths.ConfigDir)

	// Environment variable support: AGENTVM_CPUS, AGENTVM_DISK_PATH, etc.
	viper.SetEnvPrefix("AGENTVM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file is optional; defaults apply when it is missing.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ConfigFileUsed returns the path of the config file being used, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// SharedFolderEntry is one parsed shared_folders item.
type SharedFolderEntry struct {
	HostPath string
	ReadOnly bool
}

// ParseSharedFolders expands the "path[:ro]" entries from the config
// file, preserving order.
func ParseSharedFolders(entries []string) ([]SharedFolderEntry, error) {
	out := make([]SharedFolderEntry, 0, len(entries))
	for _, raw := range entries {
		entry := SharedFolderEntry{HostPath: raw}
		if strings.HasSuffix(raw, ":ro") {
			entry.HostPath = strings.TrimSuffix(raw, ":ro")
			entry.ReadOnly = true
		}
		if entry.HostPath == "" {
			return nil, fmt.Errorf("empty shared folder entry %q", raw)
		}
		if !filepath.IsAbs(entry.HostPath) {
			return nil, fmt.Errorf("shared folder %q is not an absolute path", entry.HostPath)
		}
		out = append(out, entry)
	}
	return out, nil
}
