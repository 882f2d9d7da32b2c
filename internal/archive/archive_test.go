package archive

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNewValidation(t *testing.T) {
	if _, err := New(Options{Bucket: "b"}); err == nil {
		t.Error("expected error without endpoint")
	}
	if _, err := New(Options{Endpoint: "localhost:9000"}); err == nil {
		t.Error("expected error without bucket")
	}

	a, err := New(Options{Endpoint: "localhost:9000", AccessKey: "k", SecretKey: "s", Bucket: "recordings"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if a.Bucket() != "recordings" {
		t.Errorf("Bucket = %s", a.Bucket())
	}
}

func TestObjectKey(t *testing.T) {
	got := ObjectKey("session-1", filepath.Join("/tmp", "sessions", "session-1", "video.mp4"))
	if got != "sessions/session-1/video.mp4" {
		t.Errorf("ObjectKey = %s", got)
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"video.mp4":     "video/mp4",
		"video.mkv":     "video/x-matroska",
		"thumbnail.jpg": "image/jpeg",
		"data.unknownx": "application/octet-stream",
	}
	for file, want := range cases {
		if got := contentType(file); got != want {
			t.Errorf("contentType(%s) = %s, want %s", file, got, want)
		}
	}
}

func TestUploadMissingVideo(t *testing.T) {
	a, err := New(Options{Endpoint: "localhost:9000", Bucket: "recordings"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Upload(context.Background(), "session-1", filepath.Join(t.TempDir(), "video.mp4"), ""); err == nil {
		t.Error("expected error for missing video")
	}
}
