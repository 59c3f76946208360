package vm

import (
	"strings"
	"testing"
)

func TestToGuestPathUsesCurrentIndex(t *testing.T) {
	s := NewSharedFolders()
	s.Add("/Users/a", false)
	s.Add("/Users/b", true)

	got, ok := s.ToGuestPath("/Users/a/x.txt")
	if !ok || got != "share0/x.txt" {
		t.Errorf("ToGuestPath(/Users/a/x.txt) = %q, %v; want share0/x.txt", got, ok)
	}
	got, ok = s.ToGuestPath("/Users/b/x.txt")
	if !ok || got != "share1/x.txt" {
		t.Errorf("ToGuestPath(/Users/b/x.txt) = %q, %v; want share1/x.txt", got, ok)
	}
}

func TestToGuestPathExactMatch(t *testing.T) {
	s := NewSharedFolders()
	s.Add("/srv/data", false)

	got, ok := s.ToGuestPath("/srv/data")
	if !ok || got != "share0" {
		t.Errorf("ToGuestPath(/srv/data) = %q, %v; want share0", got, ok)
	}
}

func TestToGuestPathOutsideAllFolders(t *testing.T) {
	s := NewSharedFolders()
	s.Add("/Users/a", false)

	if _, ok := s.ToGuestPath("/etc/passwd"); ok {
		t.Error("path outside all folders should not translate")
	}
	// A sibling with a shared prefix is not a descendant.
	if _, ok := s.ToGuestPath("/Users/abc/file"); ok {
		t.Error("/Users/abc is not inside /Users/a")
	}
}

func TestRemoveShiftsLaterTags(t *testing.T) {
	s := NewSharedFolders()
	s.Add("/Users/a", false)
	s.Add("/Users/b", false)
	s.Add("/Users/c", false)

	if !s.Remove("/Users/a") {
		t.Fatal("Remove should report success")
	}

	got, ok := s.ToGuestPath("/Users/b/f")
	if !ok || got != "share0/f" {
		t.Errorf("after removal, /Users/b = %q; want share0/f", got)
	}
	got, ok = s.ToGuestPath("/Users/c/f")
	if !ok || got != "share1/f" {
		t.Errorf("after removal, /Users/c = %q; want share1/f", got)
	}
}

func TestRemoveMissing(t *testing.T) {
	s := NewSharedFolders()
	s.Add("/Users/a", false)

	if s.Remove("/Users/zzz") {
		t.Error("Remove of unregistered path should report false")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestToHostPathInvertsToGuestPath(t *testing.T) {
	s := NewSharedFolders()
	s.Add("/Users/a", false)
	s.Add("/home/dev/project", true)

	for _, hostPath := range []string{
		"/Users/a",
		"/Users/a/deep/nested/file.go",
		"/home/dev/project/README.md",
	} {
		guest, ok := s.ToGuestPath(hostPath)
		if !ok {
			t.Fatalf("ToGuestPath(%q) not found", hostPath)
		}
		back, ok := s.ToHostPath(guest)
		if !ok || back != hostPath {
			t.Errorf("round trip %q -> %q -> %q, %v", hostPath, guest, back, ok)
		}
	}
}

func TestToHostPathRejectsBadTags(t *testing.T) {
	s := NewSharedFolders()
	s.Add("/Users/a", false)

	for _, guestPath := range []string{"share1/x", "share-1/x", "data0/x", "share/x", ""} {
		if _, ok := s.ToHostPath(guestPath); ok {
			t.Errorf("ToHostPath(%q) should not resolve", guestPath)
		}
	}
}

func TestMountCommandFormat(t *testing.T) {
	got := MountCommand(2, "/mnt/host/share2")
	want := "mount -t virtiofs share2 /mnt/host/share2"
	if got != want {
		t.Errorf("MountCommand = %q, want %q", got, want)
	}
}

func TestMountScript(t *testing.T) {
	s := NewSharedFolders()
	if script := s.MountScript("/mnt/host"); script != "" {
		t.Errorf("empty folder list should produce empty script, got %q", script)
	}

	s.Add("/Users/a", false)
	s.Add("/Users/b", false)
	script := s.MountScript("/mnt/host")

	if !strings.Contains(script, "grep -q virtiofs /proc/filesystems") {
		t.Error("script missing virtiofs availability check")
	}
	if !strings.Contains(script, "mount -t virtiofs share0 /mnt/host/share0") {
		t.Error("script missing share0 mount")
	}
	if !strings.Contains(script, "mount -t virtiofs share1 /mnt/host/share1") {
		t.Error("script missing share1 mount")
	}
	if strings.Index(script, "share0") > strings.Index(script, "share1") {
		t.Error("mounts out of registration order")
	}
}
