package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/laboras/laboras/internal/capture"
	"github.com/laboras/laboras/internal/events"
	"github.com/laboras/laboras/internal/recorder"
	"github.com/laboras/laboras/internal/segment"
	"github.com/laboras/laboras/internal/store"
)

// CreateSession stores a new session in the created state. Capture starts
// with StartRecording; stopping before that discards the session.
func (s *RecorderService) CreateSession(req StartRequest) (*store.Session, error) {
	settings, err := s.settingsFor(req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Recording " + now.Format("2006-01-02 15:04")
	}
	session := &store.Session{
		ID:          NewSessionID(),
		Title:       title,
		Description: req.Description,
		Tags:        req.Tags,
		Status:      store.StatusCreated,
		Settings:    &store.CaptureSettings{VideoQuality: string(settings.Quality), FrameRate: settings.FrameRate},
		CreatedAt:   now,
	}
	if err := s.store.SaveSession(session); err != nil {
		s.setLastError(fmt.Sprintf("Failed to create session: %v", err))
		return nil, err
	}

	s.setPending(session.ID)
	slog.Info("Session created", "session", session.ID, "title", session.Title)
	return session, nil
}

// StartRecording begins capture for a session in the created state.
func (s *RecorderService) StartRecording(sessionID string) (*store.Session, error) {
	slog.Debug("Service.StartRecording called", "session", sessionID)

	session, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != store.StatusCreated {
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionNotNew, sessionID, session.Status)
	}

	settings := s.defaultSettings()
	if session.Settings != nil {
		settings.FrameRate = session.Settings.FrameRate
		settings.Quality = capture.Quality(session.Settings.VideoQuality)
	}

	s.clearLastError()
	if err := s.controller.Start(sessionID, settings, s.store.Dir()); err != nil {
		if errors.Is(err, recorder.ErrAlreadyRecording) || errors.Is(err, recorder.ErrOperationInProgress) {
			return nil, err
		}
		s.takePending(sessionID)
		s.failSession(sessionID, err)
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return nil, err
	}
	s.takePending(sessionID)

	return s.store.GetSession(sessionID)
}

// StartSession creates a session and starts recording it right away.
func (s *RecorderService) StartSession(req StartRequest) (*store.Session, error) {
	if s.controller.State().Active() {
		return nil, recorder.ErrAlreadyRecording
	}
	session, err := s.CreateSession(req)
	if err != nil {
		return nil, err
	}
	return s.StartRecording(session.ID)
}

func (s *RecorderService) PauseRecording() error {
	err := s.controller.Pause()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to pause recording: %v", err))
	}
	return err
}

func (s *RecorderService) ResumeRecording() error {
	err := s.controller.Resume()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to resume recording: %v", err))
	}
	return err
}

// StopRecording ends the current session. A created session that never
// started capturing is discarded and reported as cancelled.
func (s *RecorderService) StopRecording() (*recorder.Summary, error) {
	state := s.controller.State()

	if !state.Active() {
		pending := s.takePending("")
		if pending == "" && state != recorder.Idle {
			return nil, recorder.ErrNothingToStop
		}
		if state == recorder.Idle {
			if _, err := s.controller.Stop(); err != nil {
				return nil, err
			}
		}
		if pending != "" {
			s.cancelSession(pending)
		}
		return &recorder.Summary{SessionID: pending, Cancelled: true}, nil
	}

	summary, err := s.controller.Stop()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return nil, err
	}
	s.clearLastError()
	s.completeSession(summary)
	return summary, nil
}

// GetRecordingStatus returns the current recording status
func (s *RecorderService) GetRecordingStatus() RecordingStatus {
	snap := s.controller.Snapshot()
	status := RecordingStatus{
		SessionID:      snap.SessionID,
		State:          snap.State,
		Settings:       snap.Settings,
		ElapsedMs:      snap.ElapsedMs,
		EstimatedBytes: snap.EstimatedBytes,
		Segments:       snap.Segments,
		PID:            snap.PID,
		PendingSession: s.pendingSession(),
		Error:          s.GetLastError(),
	}
	if !snap.StartedAt.IsZero() {
		started := snap.StartedAt
		status.StartedAt = &started
	}
	if snap.Err != nil {
		status.Error = snap.Err.Error()
	}
	return status
}

// AssembleSession retries assembly for a session whose segments are still on
// disk. The current session is retried in place; any other session is
// rebuilt from the segment files found in its directory.
func (s *RecorderService) AssembleSession(ctx context.Context, sessionID string) (*recorder.Summary, error) {
	session, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	snap := s.controller.Snapshot()
	if snap.SessionID == sessionID {
		if snap.State.Active() {
			return nil, ErrSessionActive
		}
		if snap.State == recorder.Failed {
			summary, err := s.controller.RetryFinalize()
			if err != nil {
				s.setLastError(fmt.Sprintf("Failed to assemble session: %v", err))
				return nil, err
			}
			s.completeSession(summary)
			return summary, nil
		}
	}

	ext := s.cfg.Capture.Extension
	dir := s.store.SessionDir(sessionID)
	output := filepath.Join(dir, segment.OutputName(ext))

	reg, err := segment.ScanSegments(dir, ext)
	if err != nil {
		return nil, err
	}
	if reg.Len() == 0 {
		if info, err := os.Stat(output); err == nil {
			return &recorder.Summary{SessionID: sessionID, OutputPath: output, DurationMs: session.Duration, Segments: 1, SizeBytes: info.Size()}, nil
		}
		return nil, ErrNoSegments
	}

	slog.Info("Assembling session from disk", "session", sessionID, "segments", reg.Len())
	res, err := s.assembler.Finalize(ctx, reg, output)
	if err != nil {
		failure := &recorder.AssemblyFailedError{Cause: err}
		s.failSession(sessionID, failure)
		s.setLastError(fmt.Sprintf("Failed to assemble session: %v", err))
		return nil, failure
	}

	summary := &recorder.Summary{
		SessionID:  sessionID,
		OutputPath: res.OutputPath,
		DurationMs: session.Duration,
		Segments:   res.Segments,
		SizeBytes:  res.SizeBytes,
	}
	if summary.DurationMs == 0 {
		if info, err := s.prober.Info(ctx, res.OutputPath); err == nil {
			summary.DurationMs = info.DurationMs
		}
	}
	s.completeSession(summary)
	return summary, nil
}

// onTransition mirrors controller state into the session record.
func (s *RecorderService) onTransition(t recorder.Transition) {
	if t.SessionID == "" {
		return
	}

	var (
		update func(*store.Session)
		ev     events.Event
	)
	switch t.To {
	case recorder.Recording:
		at := t.At
		update = func(sess *store.Session) {
			sess.Status = store.StatusRecording
			if t.From == recorder.Idle || sess.StartedAt == nil {
				sess.StartedAt = &at
			}
		}
		ev.Type = events.SessionStarted
		if t.From == recorder.Paused {
			ev.Type = events.SessionResumed
		}
	case recorder.Paused:
		update = func(sess *store.Session) { sess.Status = store.StatusPaused }
		ev.Type = events.SessionPaused
	case recorder.Failed:
		elapsed := s.controller.ElapsedMs()
		message := "recording failed"
		if t.Err != nil {
			message = t.Err.Error()
		}
		update = func(sess *store.Session) {
			sess.Status = store.StatusFailed
			sess.Error = message
			sess.Duration = elapsed
			sess.Segments = len(s.controller.Segments())
		}
		ev = events.Event{Type: events.SessionFailed, Error: message, DurationMs: elapsed}
		var crash *recorder.CaptureFailedError
		if errors.As(t.Err, &crash) {
			s.setLastError(fmt.Sprintf("Recording failed: %v", t.Err))
		}
	default:
		return
	}

	if _, err := s.store.UpdateSession(t.SessionID, update); err != nil {
		slog.Warn("Failed to record session state", "session", t.SessionID, "state", t.To, "error", err)
	}
	ev.SessionID = t.SessionID
	ev.State = string(t.To)
	ev.Timestamp = t.At
	s.publish(ev)
}

// completeSession stores the outcome of a finished session, then adds its
// thumbnail and media details. Upload runs in the background when the
// archive is enabled.
func (s *RecorderService) completeSession(summary *recorder.Summary) {
	id := summary.SessionID
	completedAt := s.now()

	_, err := s.store.UpdateSession(id, func(sess *store.Session) {
		sess.Status = store.StatusCompleted
		sess.CompletedAt = &completedAt
		sess.Duration = summary.DurationMs
		sess.Segments = summary.Segments
		sess.SizeBytes = summary.SizeBytes
		sess.VideoPath = summary.OutputPath
		sess.Error = ""
	})
	if err != nil {
		slog.Warn("Failed to record completed session", "session", id, "error", err)
		return
	}

	if summary.OutputPath != "" {
		s.enrichSession(id, summary.OutputPath)
	}

	s.publish(events.Event{
		Type:       events.SessionCompleted,
		SessionID:  id,
		State:      string(store.StatusCompleted),
		DurationMs: summary.DurationMs,
		SizeBytes:  summary.SizeBytes,
		Segments:   summary.Segments,
		OutputPath: summary.OutputPath,
	})

	if s.archiver != nil && summary.OutputPath != "" {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
			defer cancel()
			if _, err := s.ArchiveSession(ctx, id); err != nil {
				slog.Warn("Automatic archive failed", "session", id, "error", err)
			}
		}()
	}
}

// enrichSession adds a thumbnail and the probed size. Failures are logged.
func (s *RecorderService) enrichSession(id, video string) {
	ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
	defer cancel()

	thumbnail := filepath.Join(s.store.SessionDir(id), "thumbnail.jpg")
	if err := s.prober.Thumbnail(ctx, video, thumbnail); err != nil {
		slog.Warn("Failed to generate thumbnail", "session", id, "error", err)
		thumbnail = ""
	}

	info, err := s.prober.Info(ctx, video)
	if err != nil {
		slog.Warn("Failed to probe video", "session", id, "error", err)
	}

	_, err = s.store.UpdateSession(id, func(sess *store.Session) {
		if thumbnail != "" {
			sess.ThumbnailPath = thumbnail
		}
		if info != nil && info.SizeBytes > 0 {
			sess.SizeBytes = info.SizeBytes
		}
	})
	if err != nil {
		slog.Warn("Failed to update session media details", "session", id, "error", err)
	}
}

func (s *RecorderService) failSession(id string, cause error) {
	_, err := s.store.UpdateSession(id, func(sess *store.Session) {
		sess.Status = store.StatusFailed
		sess.Error = cause.Error()
	})
	if err != nil {
		slog.Warn("Failed to record session failure", "session", id, "error", err)
	}
	s.publish(events.Event{Type: events.SessionFailed, SessionID: id, State: string(store.StatusFailed), Error: cause.Error()})
}

func (s *RecorderService) cancelSession(id string) {
	if err := s.store.DeleteSession(id); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("Failed to discard cancelled session", "session", id, "error", err)
	}
	slog.Info("Session cancelled before recording started", "session", id)
	s.publish(events.Event{Type: events.SessionCancelled, SessionID: id})
}

func (s *RecorderService) defaultSettings() capture.Settings {
	return capture.Settings{
		FrameRate: s.cfg.Capture.FrameRate,
		Quality:   capture.Quality(s.cfg.Capture.Quality),
	}
}

func (s *RecorderService) settingsFor(req StartRequest) (capture.Settings, error) {
	settings := s.defaultSettings()
	if req.FrameRate != 0 {
		settings.FrameRate = req.FrameRate
	}
	if req.Quality != "" {
		q, err := capture.ParseQuality(req.Quality)
		if err != nil {
			return settings, err
		}
		settings.Quality = q
	}
	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}
