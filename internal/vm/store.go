package vm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is one restore point. Created only by the SnapshotManager;
// mutated only through rename and restore-timestamp updates. Its
// lifecycle is independent of the guest's.
type Snapshot struct {
	// ID uniquely identifies the snapshot and doubles as the disk-layer
	// snapshot tag.
	ID string `json:"id"`

	// Name is the user-assigned, renameable label.
	Name string `json:"name"`

	// CapturedState is the controller state label observed at capture.
	CapturedState string `json:"captured_state"`

	// DiskSnapshotID references the disk-layer snapshot. Empty when the
	// disk capture failed and only metadata was recorded.
	DiskSnapshotID string `json:"disk_snapshot_id,omitempty"`

	// DiskPath is the backing disk image the snapshot belongs to.
	DiskPath string `json:"disk_path,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	LastRestoredAt *time.Time `json:"last_restored_at,omitempty"`
}

// HasDiskSnapshot reports whether the snapshot can be restored at the
// disk layer. Metadata-only records cannot.
func (s *Snapshot) HasDiskSnapshot() bool {
	return s.DiskSnapshotID != ""
}

// SnapshotStore persists the ordered snapshot history. Implementations
// must write atomically; the full list is loaded on startup.
type SnapshotStore interface {
	Load() ([]*Snapshot, error)
	Save(snapshots []*Snapshot) error
}

// FileSnapshotStore keeps the history as JSON under the data directory.
type FileSnapshotStore struct {
	path string
}

// NewFileSnapshotStore builds a store at dataDir/snapshots.json.
func NewFileSnapshotStore(dataDir string) *FileSnapshotStore {
	return &FileSnapshotStore{path: filepath.Join(dataDir, "snapshots.json")}
}

// Load reads the full history. A missing file yields an empty history.
func (s *FileSnapshotStore) Load() ([]*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot metadata: %w", err)
	}

	var snapshots []*Snapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return nil, fmt.Errorf("parse snapshot metadata: %w", err)
	}
	return snapshots, nil
}

// Save writes the history atomically via temp file + rename so an
// interrupted write never corrupts the metadata.
func (s *FileSnapshotStore) Save(snapshots []*Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}

	if snapshots == nil {
		snapshots = []*Snapshot{}
	}
	data, err := json.MarshalIndent(snapshots, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot metadata: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot metadata temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot metadata: %w", err)
	}
	return nil
}

// Path returns the metadata file location.
func (s *FileSnapshotStore) Path() string {
	return s.path
}
