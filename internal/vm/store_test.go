package vm

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSnapshotStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileSnapshotStore(dir)

	var history []*Snapshot
	for i := 0; i < 4; i++ {
		history = append(history, &Snapshot{
			ID:             fmt.Sprintf("id-%d", i),
			Name:           fmt.Sprintf("snap-%d", i),
			CapturedState:  "running",
			DiskSnapshotID: fmt.Sprintf("id-%d", i),
			DiskPath:       "/var/lib/agentvm/rootfs.qcow2",
			CreatedAt:      time.Date(2026, 3, 1, 12, i, 0, 0, time.UTC),
		})
	}
	// A metadata-only entry has no disk reference.
	history[2].DiskSnapshotID = ""

	if err := store.Save(history); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != len(history) {
		t.Fatalf("loaded %d entries, want %d", len(loaded), len(history))
	}
	for i, want := range history {
		got := loaded[i]
		if got.ID != want.ID || got.Name != want.Name {
			t.Errorf("entry %d = %s/%s, want %s/%s", i, got.ID, got.Name, want.ID, want.Name)
		}
		if got.HasDiskSnapshot() != want.HasDiskSnapshot() {
			t.Errorf("entry %d disk reference mismatch", i)
		}
		if !got.CreatedAt.Equal(want.CreatedAt) {
			t.Errorf("entry %d CreatedAt = %v, want %v", i, got.CreatedAt, want.CreatedAt)
		}
	}
}

func TestFileSnapshotStoreMissingFile(t *testing.T) {
	store := NewFileSnapshotStore(t.TempDir())
	history, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("loaded %d entries from missing file", len(history))
	}
}

func TestFileSnapshotStoreLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store := NewFileSnapshotStore(dir)

	if err := store.Save([]*Snapshot{{ID: "a", Name: "a"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".tmp" {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestStateFileLoadNewState(t *testing.T) {
	sf := NewStateFile(t.TempDir())

	state, err := sf.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.BootCount != 0 {
		t.Errorf("initial boot count = %d, want 0", state.BootCount)
	}
	if !state.LastBoot.IsZero() {
		t.Error("initial LastBoot should be zero")
	}
}

func TestStateFileBootShutdownCycle(t *testing.T) {
	sf := NewStateFile(t.TempDir())

	if err := sf.RecordBoot(); err != nil {
		t.Fatalf("RecordBoot: %v", err)
	}
	state, err := sf.Load()
	if err != nil {
		t.Fatal(err)
	}
	if state.BootCount != 1 {
		t.Errorf("boot count = %d, want 1", state.BootCount)
	}
	if state.CleanShutdown {
		t.Error("CleanShutdown should be false after boot")
	}

	if err := sf.RecordShutdown(true); err != nil {
		t.Fatalf("RecordShutdown: %v", err)
	}
	state, err = sf.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !state.CleanShutdown {
		t.Error("CleanShutdown should be true after orderly shutdown")
	}
	if state.LastShutdown.IsZero() {
		t.Error("LastShutdown should be set")
	}

	if err := sf.RecordBoot(); err != nil {
		t.Fatal(err)
	}
	state, err = sf.Load()
	if err != nil {
		t.Fatal(err)
	}
	if state.BootCount != 2 {
		t.Errorf("boot count = %d, want 2", state.BootCount)
	}
}
