package segment

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRegistry_RegisterOnce(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register("a.mp4"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register("a.mp4"); err != nil {
		t.Errorf("Re-registering the last segment should be a no-op, got %v", err)
	}
	if err := reg.Register("b.mp4"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register("a.mp4"); err == nil {
		t.Error("Expected error when registering an earlier segment again")
	}

	got := reg.Paths()
	if len(got) != 2 || got[0] != "a.mp4" || got[1] != "b.mp4" {
		t.Errorf("Expected [a.mp4 b.mp4], got %v", got)
	}
	if reg.Last() != "b.mp4" {
		t.Errorf("Expected last b.mp4, got %s", reg.Last())
	}
}

func TestRegistry_PathsIsCopy(t *testing.T) {
	reg := NewRegistry("a.mp4")
	paths := reg.Paths()
	paths[0] = "changed"

	if reg.Paths()[0] != "a.mp4" {
		t.Error("Registry was modified through Paths()")
	}
}

func TestNextSegmentPath_StrictlyIncreasing(t *testing.T) {
	dir := t.TempDir()
	now := time.UnixMilli(1700000000000)

	first := NextSegmentPath(dir, "mp4", now, "")
	if filepath.Base(first) != "video_part1700000000000.mp4" {
		t.Errorf("Unexpected first name: %s", first)
	}

	// Same clock reading still sorts after the previous segment
	second := NextSegmentPath(dir, "mp4", now, first)
	if filepath.Base(second) != "video_part1700000000001.mp4" {
		t.Errorf("Unexpected second name: %s", second)
	}

	// Existing files are skipped
	os.WriteFile(filepath.Join(dir, "video_part1700000000005.mp4"), []byte("x"), 0644)
	third := NextSegmentPath(dir, "mp4", time.UnixMilli(1700000000005), second)
	if filepath.Base(third) != "video_part1700000000006.mp4" {
		t.Errorf("Unexpected third name: %s", third)
	}
}

func TestScanSegments_OrderedByTimestamp(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"video_part300.mp4", "video_part20.mp4", "video_part1000.mp4", "video.mp4", "notes.json", "video_partX.mp4"} {
		os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644)
	}

	reg, err := ScanSegments(dir, "mp4")
	if err != nil {
		t.Fatalf("ScanSegments failed: %v", err)
	}

	got := reg.Paths()
	expected := []string{"video_part20.mp4", "video_part300.mp4", "video_part1000.mp4"}
	if len(got) != len(expected) {
		t.Fatalf("Expected %d segments, got %v", len(expected), got)
	}
	for i, name := range expected {
		if filepath.Base(got[i]) != name {
			t.Errorf("Segment %d: expected %s, got %s", i, name, filepath.Base(got[i]))
		}
	}
}

func TestScanSegments_SkipsEmptyParts(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "video_part100.mp4"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "video_part200.mp4"), nil, 0644)
	os.WriteFile(filepath.Join(dir, "video_part300.mp4"), []byte("x"), 0644)

	reg, err := ScanSegments(dir, "mp4")
	if err != nil {
		t.Fatalf("ScanSegments failed: %v", err)
	}

	got := reg.Paths()
	if len(got) != 2 {
		t.Fatalf("Expected 2 segments, got %v", got)
	}
	if filepath.Base(got[0]) != "video_part100.mp4" || filepath.Base(got[1]) != "video_part300.mp4" {
		t.Errorf("Unexpected segments: %v", got)
	}
}
