package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/laboras/laboras/internal/archive"
	"github.com/laboras/laboras/internal/events"
	"github.com/laboras/laboras/internal/segment"
	"github.com/laboras/laboras/internal/store"
)

// ListSessions returns all sessions, newest first
func (s *RecorderService) ListSessions() ([]*store.Session, error) {
	return s.store.ListSessions()
}

func (s *RecorderService) GetSession(sessionID string) (*store.Session, error) {
	return s.store.GetSession(sessionID)
}

func (s *RecorderService) UpdateSessionDetails(sessionID string, details SessionDetails) (*store.Session, error) {
	return s.store.UpdateSession(sessionID, func(sess *store.Session) {
		if details.Title != nil {
			sess.Title = *details.Title
		}
		if details.Description != nil {
			sess.Description = *details.Description
		}
		if details.Tags != nil {
			sess.Tags = *details.Tags
		}
	})
}

// DeleteSession removes a session and all of its files, including any
// archived copy. The session being recorded cannot be deleted.
func (s *RecorderService) DeleteSession(sessionID string) error {
	snap := s.controller.Snapshot()
	if snap.SessionID == sessionID && snap.State.Active() {
		return ErrSessionActive
	}
	s.takePending(sessionID)

	session, err := s.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSession(sessionID); err != nil {
		return err
	}

	if s.archiver != nil && session.ArchiveKey != "" {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.archiver.Remove(ctx, sessionID); err != nil {
			slog.Warn("Failed to remove archived copy", "session", sessionID, "error", err)
		}
	}
	s.publish(events.Event{Type: events.SessionDeleted, SessionID: sessionID})
	return nil
}

// VideoPath returns the final video of a session, if it exists.
func (s *RecorderService) VideoPath(sessionID string) (string, error) {
	session, err := s.store.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	path := session.VideoPath
	if path == "" {
		path = filepath.Join(s.store.SessionDir(sessionID), segment.OutputName(s.cfg.Capture.Extension))
	}
	if _, err := os.Stat(path); err != nil {
		return "", ErrNoVideo
	}
	return path, nil
}

func (s *RecorderService) GetNotes(sessionID string) ([]store.Note, error) {
	return s.store.GetNotes(sessionID)
}

func (s *RecorderService) SaveNotes(sessionID string, notes []store.Note) error {
	if _, err := s.store.GetSession(sessionID); err != nil {
		return err
	}
	return s.store.SaveNotes(sessionID, notes)
}

func (s *RecorderService) GetStats() (store.Stats, error) {
	return s.store.Stats()
}

func (s *RecorderService) GetSettings() store.UserSettings {
	return s.store.GetSettings()
}

func (s *RecorderService) SaveSettings(settings store.UserSettings) error {
	return s.store.SaveSettings(settings)
}

// ArchiveSession uploads the session's video and thumbnail to object storage.
func (s *RecorderService) ArchiveSession(ctx context.Context, sessionID string) (archive.Uploaded, error) {
	if s.archiver == nil {
		return archive.Uploaded{}, ErrArchiveDisabled
	}
	session, err := s.store.GetSession(sessionID)
	if err != nil {
		return archive.Uploaded{}, err
	}
	if session.Status != store.StatusCompleted {
		return archive.Uploaded{}, fmt.Errorf("session %s is %s, only completed sessions can be archived", sessionID, session.Status)
	}
	video, err := s.VideoPath(sessionID)
	if err != nil {
		return archive.Uploaded{}, err
	}

	uploaded, err := s.archiver.Upload(ctx, sessionID, video, session.ThumbnailPath)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to archive session: %v", err))
		return uploaded, err
	}

	if _, err := s.store.UpdateSession(sessionID, func(sess *store.Session) {
		sess.ArchiveKey = uploaded.VideoKey
	}); err != nil {
		slog.Warn("Failed to record archive key", "session", sessionID, "error", err)
	}
	s.publish(events.Event{Type: events.SessionArchived, SessionID: sessionID, OutputPath: uploaded.VideoKey, SizeBytes: uploaded.SizeBytes})
	return uploaded, nil
}
