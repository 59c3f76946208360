// Package config provides configuration management for agentvm.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds platform-specific directory paths for agentvm.
type Paths struct {
	// ConfigDir is the directory for configuration files.
	// macOS: ~/Library/Application Support/AgentVM
	// Linux: ~/.config/agentvm (or XDG_CONFIG_HOME)
	ConfigDir string

	// DataDir is the directory for disk images, snapshots, keys and
	// state. All platforms: ~/.agentvm
	DataDir string

	// ConfigFile is the path to the main config file.
	ConfigFile string
}

// GetPaths returns platform-aware paths for agentvm.
func GetPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	p := &Paths{}
	p.DataDir = filepath.Join(home, ".agentvm")

	switch runtime.GOOS {
	case "darwin":
		p.ConfigDir = filepath.Join(home, "Library", "Application Support", "AgentVM")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			p.ConfigDir = filepath.Join(xdgConfig, "agentvm")
		} else {
			p.ConfigDir = filepath.Join(home, ".config", "agentvm")
		}
	}

	p.ConfigFile = filepath.Join(p.DataDir, "config.yaml")
	return p, nil
}

// EnsureDirectories creates the config and data directories if they
// don't exist.
func (p *Paths) EnsureDirectories() error {
	if err := os.MkdirAll(p.ConfigDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(p.DataDir, 0755); err != nil {
		return err
	}
	return nil
}
