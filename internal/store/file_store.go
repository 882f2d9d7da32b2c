package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	metadataFile = "metadata.json"
	notesFile    = "notes.json"
	settingsFile = "settings.json"
)

// FileStore keeps one directory per session under a root directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) SessionDir(id string) string {
	return filepath.Join(s.dir, id)
}

func (s *FileStore) SaveSession(session *Session) error {
	if err := ValidateID(session.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeSession(session)
}

func (s *FileStore) GetSession(id string) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readSession(id)
}

// UpdateSession applies fn to the stored record and saves the result.
func (s *FileStore) UpdateSession(id string, fn func(*Session)) (*Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.readSession(id)
	if err != nil {
		return nil, err
	}
	fn(session)
	session.ID = id
	if err := s.writeSession(session); err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns every readable session, newest first. Unreadable
// records are logged and skipped.
func (s *FileStore) ListSessions() ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory %s: %w", s.dir, err)
	}

	var sessions []*Session
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), SessionPrefix) {
			continue
		}
		session, err := s.readSession(entry.Name())
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				slog.Warn("Skipping unreadable session", "session", entry.Name(), "error", err)
			}
			continue
		}
		sessions = append(sessions, session)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// DeleteSession removes the session directory and everything in it.
func (s *FileStore) DeleteSession(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.SessionDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return ErrNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	slog.Info("Deleted session", "session", id)
	return nil
}

type notesDocument struct {
	SessionID string `json:"session_id"`
	Notes     []Note `json:"notes"`
}

func (s *FileStore) SaveNotes(id string, notes []Note) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.SessionDir(id), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	return writeJSON(filepath.Join(s.SessionDir(id), notesFile), notesDocument{SessionID: id, Notes: notes})
}

// GetNotes returns the session's notes, or none when no notes were saved.
func (s *FileStore) GetNotes(id string) ([]Note, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc notesDocument
	err := readJSON(filepath.Join(s.SessionDir(id), notesFile), &doc)
	if os.IsNotExist(err) {
		return []Note{}, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Notes, nil
}

func (s *FileStore) SaveSettings(settings UserSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(filepath.Join(s.dir, settingsFile), settings)
}

// GetSettings returns the saved UI settings, falling back to defaults.
func (s *FileStore) GetSettings() UserSettings {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := UserSettings{
		VideoQuality:      "720p",
		FrameRate:         15,
		SessionsDirectory: s.dir,
	}
	if err := readJSON(filepath.Join(s.dir, settingsFile), &settings); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load settings, using defaults", "error", err)
	}
	return settings
}

func (s *FileStore) Stats() (Stats, error) {
	sessions, err := s.ListSessions()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{TotalSessions: len(sessions)}
	for _, session := range sessions {
		if session.Status == StatusCompleted {
			stats.CompletedSessions++
		}
		stats.TotalDuration += session.Duration
		if session.VideoPath == "" {
			continue
		}
		if info, err := os.Stat(session.VideoPath); err == nil {
			stats.TotalSize += info.Size()
		}
	}
	return stats, nil
}

func (s *FileStore) readSession(id string) (*Session, error) {
	var session Session
	err := readJSON(filepath.Join(s.SessionDir(id), metadataFile), &session)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	return &session, nil
}

func (s *FileStore) writeSession(session *Session) error {
	dir := s.SessionDir(session.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, metadataFile), session); err != nil {
		return err
	}
	slog.Debug("Saved session metadata", "session", session.ID, "status", session.Status)
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return nil
}

// writeJSON replaces path atomically so a crash never leaves half a record.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
