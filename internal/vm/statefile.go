package vm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PersistentState is controller bookkeeping that survives restarts.
type PersistentState struct {
	// LastBoot is when the guest was last started.
	LastBoot time.Time `json:"last_boot,omitempty"`

	// LastShutdown is when the guest was last stopped.
	LastShutdown time.Time `json:"last_shutdown,omitempty"`

	// BootCount counts guest boots.
	BootCount int `json:"boot_count"`

	// CleanShutdown reports whether the last shutdown was orderly.
	CleanShutdown bool `json:"clean_shutdown"`
}

// StateFile persists PersistentState under the data directory.
type StateFile struct {
	path string
}

// NewStateFile builds a state file at dataDir/state.json.
func NewStateFile(dataDir string) *StateFile {
	return &StateFile{path: filepath.Join(dataDir, "state.json")}
}

// Load reads the state; a missing file yields the zero state.
func (s *StateFile) Load() (*PersistentState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &PersistentState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var state PersistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return &state, nil
}

// Save writes the state atomically.
func (s *StateFile) Save(state *PersistentState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return os.Rename(tmpPath, s.path)
}

// RecordBoot marks a fresh guest boot.
func (s *StateFile) RecordBoot() error {
	state, err := s.Load()
	if err != nil {
		return err
	}
	state.LastBoot = time.Now()
	state.BootCount++
	state.CleanShutdown = false
	return s.Save(state)
}

// RecordShutdown marks a guest shutdown.
func (s *StateFile) RecordShutdown(clean bool) error {
	state, err := s.Load()
	if err != nil {
		return err
	}
	state.LastShutdown = time.Now()
	state.CleanShutdown = clean
	return s.Save(state)
}
