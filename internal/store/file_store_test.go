package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "sessions"))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return s
}

func TestSaveAndGetSession(t *testing.T) {
	s := newTestStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	in := &Session{
		ID:        "session-abc",
		Title:     "Standup",
		Tags:      []string{"team"},
		Status:    StatusCreated,
		Settings:  &CaptureSettings{VideoQuality: "720p", FrameRate: 15},
		CreatedAt: created,
	}
	if err := s.SaveSession(in); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := s.GetSession("session-abc")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Title != "Standup" || got.Status != StatusCreated {
		t.Errorf("unexpected session: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.Settings == nil || got.Settings.FrameRate != 15 {
		t.Errorf("settings not persisted: %+v", got.Settings)
	}

	if _, err := os.Stat(filepath.Join(s.SessionDir("session-abc"), "metadata.json.tmp")); !os.IsNotExist(err) {
		t.Error("temporary metadata file left behind")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetSession("session-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidIDsRejected(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"", ".", "..", "../etc", "a/b", `a\b`, ".hidden"} {
		if err := s.SaveSession(&Session{ID: id}); !errors.Is(err, ErrInvalidID) {
			t.Errorf("SaveSession(%q) = %v, want ErrInvalidID", id, err)
		}
		if _, err := s.GetSession(id); err == nil {
			t.Errorf("GetSession(%q) should fail", id)
		}
		if err := s.DeleteSession(id); err == nil {
			t.Errorf("DeleteSession(%q) should fail", id)
		}
	}
}

func TestUpdateSession(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveSession(&Session{ID: "session-1", Title: "before", Status: StatusCreated}); err != nil {
		t.Fatal(err)
	}

	updated, err := s.UpdateSession("session-1", func(sess *Session) {
		sess.Status = StatusRecording
		sess.ID = "session-other"
	})
	if err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}
	if updated.ID != "session-1" {
		t.Errorf("update must not change the id, got %q", updated.ID)
	}

	got, _ := s.GetSession("session-1")
	if got.Status != StatusRecording || got.Title != "before" {
		t.Errorf("unexpected session after update: %+v", got)
	}

	if _, err := s.UpdateSession("session-none", func(*Session) {}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"session-a", "session-c", "session-b"} {
		sess := &Session{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.SaveSession(sess); err != nil {
			t.Fatal(err)
		}
	}

	// Not a session directory
	if err := os.MkdirAll(filepath.Join(s.Dir(), "other"), 0755); err != nil {
		t.Fatal(err)
	}
	// Corrupt metadata is skipped
	corrupt := filepath.Join(s.Dir(), "session-bad")
	if err := os.MkdirAll(corrupt, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(corrupt, "metadata.json"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}

	sessions, err := s.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	want := []string{"session-b", "session-c", "session-a"}
	if len(sessions) != len(want) {
		t.Fatalf("got %d sessions, want %d", len(sessions), len(want))
	}
	for i, id := range want {
		if sessions[i].ID != id {
			t.Errorf("sessions[%d] = %s, want %s", i, sessions[i].ID, id)
		}
	}
}

func TestDeleteSession(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveSession(&Session{ID: "session-x"}); err != nil {
		t.Fatal(err)
	}
	video := filepath.Join(s.SessionDir("session-x"), "video.mp4")
	if err := os.WriteFile(video, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSession("session-x"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := os.Stat(s.SessionDir("session-x")); !os.IsNotExist(err) {
		t.Error("session directory still exists")
	}
	if err := s.DeleteSession("session-x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestNotes(t *testing.T) {
	s := newTestStore(t)

	notes, err := s.GetNotes("session-n")
	if err != nil {
		t.Fatalf("GetNotes failed: %v", err)
	}
	if len(notes) != 0 {
		t.Errorf("expected no notes, got %d", len(notes))
	}

	in := []Note{{ID: 1, Text: "intro", Timestamp: 1500, TimestampLabel: "00:01", SessionState: "recording"}}
	if err := s.SaveNotes("session-n", in); err != nil {
		t.Fatalf("SaveNotes failed: %v", err)
	}
	notes, err = s.GetNotes("session-n")
	if err != nil {
		t.Fatalf("GetNotes failed: %v", err)
	}
	if len(notes) != 1 || notes[0].Text != "intro" || notes[0].Timestamp != 1500 {
		t.Errorf("unexpected notes: %+v", notes)
	}
}

func TestSettingsDefaults(t *testing.T) {
	s := newTestStore(t)

	got := s.GetSettings()
	if got.VideoQuality != "720p" || got.FrameRate != 15 || got.SessionsDirectory != s.Dir() {
		t.Errorf("unexpected defaults: %+v", got)
	}

	got.FrameRate = 30
	got.StartMinimized = true
	if err := s.SaveSettings(got); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	again := s.GetSettings()
	if again.FrameRate != 30 || !again.StartMinimized {
		t.Errorf("settings not persisted: %+v", again)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)

	video := filepath.Join(s.Dir(), "clip.mp4")
	if err := os.WriteFile(video, make([]byte, 128), 0644); err != nil {
		t.Fatal(err)
	}
	sessions := []*Session{
		{ID: "session-1", Status: StatusCompleted, Duration: 1000, VideoPath: video},
		{ID: "session-2", Status: StatusCompleted, Duration: 2500, VideoPath: filepath.Join(s.Dir(), "gone.mp4")},
		{ID: "session-3", Status: StatusFailed, Duration: 500},
	}
	for _, sess := range sessions {
		if err := s.SaveSession(sess); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := s.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	want := Stats{TotalSessions: 3, CompletedSessions: 2, TotalDuration: 4000, TotalSize: 128}
	if stats != want {
		t.Errorf("Stats = %+v, want %+v", stats, want)
	}
}

func TestStatusOpen(t *testing.T) {
	for status, want := range map[Status]bool{
		StatusCreated:   false,
		StatusRecording: true,
		StatusPaused:    true,
		StatusCompleted: false,
		StatusFailed:    false,
	} {
		if got := status.Open(); got != want {
			t.Errorf("%s.Open() = %v, want %v", status, got, want)
		}
	}
}
