// Package recovery cleans up after a run that ended without stopping its
// recording: stale session records at startup and live encoders at exit.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/laboras/laboras/internal/capture"
	"github.com/laboras/laboras/internal/store"
)

const InterruptedNote = "Session was interrupted due to app closure or power loss"

type SessionStore interface {
	ListSessions() ([]*store.Session, error)
	UpdateSession(id string, fn func(*store.Session)) (*store.Session, error)
}

// ReconcileOrphans marks every session still recording or paused as
// completed. The encoder of the earlier run is assumed dead; capture is not
// resumed and segments are left on disk untouched. It returns the ids it
// changed.
func ReconcileOrphans(ctx context.Context, s SessionStore, now time.Time) ([]string, error) {
	sessions, err := s.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for recovery: %w", err)
	}

	var recovered []string
	var errs error
	for _, session := range sessions {
		if !session.Status.Open() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return recovered, err
		}

		previous := session.Status
		_, err := s.UpdateSession(session.ID, func(sess *store.Session) {
			completed := now
			sess.Status = store.StatusCompleted
			sess.CompletedAt = &completed
			sess.Interrupted = true
			sess.Notes = append(sess.Notes, store.Note{
				ID:             now.UnixMilli(),
				Text:           InterruptedNote,
				TimestampLabel: "recovery",
				SessionState:   string(previous),
				CreatedAt:      now,
			})
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("session %s: %w", session.ID, err))
			continue
		}

		slog.Warn("Recovered interrupted session", "session", session.ID, "previous_status", previous)
		recovered = append(recovered, session.ID)
	}
	return recovered, errs
}

// Shutdown stops an active recording through stop, bounded by ctx, and then
// kills whatever encoder is still around: first the ones manager started,
// then strays whose command line mentions marker. Every step runs even when an
// earlier one fails.
func Shutdown(ctx context.Context, stop func(context.Context) error, manager *capture.Manager, marker string) error {
	var errs error

	if stop != nil {
		done := make(chan error, 1)
		go func() { done <- stop(ctx) }()
		select {
		case err := <-done:
			errs = multierr.Append(errs, err)
		case <-ctx.Done():
			slog.Warn("Timed out stopping recording during shutdown")
			errs = multierr.Append(errs, fmt.Errorf("stop recording: %w", ctx.Err()))
			if manager != nil {
				manager.ForceKill()
			}
		}
	}

	if manager != nil {
		errs = multierr.Append(errs, manager.Sweep())
	}
	errs = multierr.Append(errs, capture.SweepOrphans(marker))

	if errs != nil {
		slog.Warn("Shutdown cleanup finished with errors", "error", errs)
	} else {
		slog.Debug("Shutdown cleanup finished")
	}
	return errs
}
