package store

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Open reports whether a session in this status may still have a live encoder.
func (s Status) Open() bool {
	return s == StatusRecording || s == StatusPaused
}

var (
	ErrNotFound  = errors.New("session not found")
	ErrInvalidID = errors.New("invalid session id")
)

// SessionPrefix starts every session directory name.
const SessionPrefix = "session-"

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateID rejects identifiers that could escape the sessions directory.
func ValidateID(id string) error {
	if !validID.MatchString(id) || id == "." || id == ".." {
		return fmt.Errorf("%w %q", ErrInvalidID, id)
	}
	return nil
}

type Note struct {
	ID             int64     `json:"id"`
	Text           string    `json:"text"`
	Timestamp      int64     `json:"timestamp"` // ms into the recording
	TimestampLabel string    `json:"timestampLabel,omitempty"`
	SessionState   string    `json:"sessionState,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type CaptureSettings struct {
	VideoQuality string `json:"videoQuality"`
	FrameRate    int    `json:"frameRate"`
}

// Session is the persisted record kept in <sessions>/<id>/metadata.json.
type Session struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Status      Status           `json:"status"`
	Settings    *CaptureSettings `json:"settings,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    int64      `json:"duration"` // ms, pauses excluded

	VideoPath     string `json:"video_path,omitempty"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
	SizeBytes     int64  `json:"size_bytes,omitempty"`
	Segments      int    `json:"segments,omitempty"`

	Notes       []Note `json:"notes,omitempty"`
	Error       string `json:"error,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
	ArchiveKey  string `json:"archive_key,omitempty"`
}

// UserSettings are the recording defaults chosen in the UI.
type UserSettings struct {
	VideoQuality      string `json:"videoQuality"`
	FrameRate         int    `json:"frameRate"`
	SessionsDirectory string `json:"sessionsDirectory"`
	StartMinimized    bool   `json:"startMinimized"`
}

type Stats struct {
	TotalSessions     int   `json:"totalSessions"`
	CompletedSessions int   `json:"completedSessions"`
	TotalDuration     int64 `json:"totalDuration"`
	TotalSize         int64 `json:"totalSize"`
}
