package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/laboras/laboras/internal/recorder"
	"github.com/laboras/laboras/internal/service"
	"github.com/laboras/laboras/internal/store"
)

const shutdownTimeout = time.Minute

var recordCmd = &cobra.Command{
	Use:   "record [title]",
	Short: "Record the desktop until stopped",
	Long: `Record the desktop into a new session.

While recording, type a command and press Enter:
  p          pause
  r          resume
  n <text>   add a note at the current position
  s          stop and assemble the video

Ctrl+C also stops the recording.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := service.StartRequest{}
		if len(args) == 1 {
			req.Title = args[0]
		}
		req.Description, _ = cmd.Flags().GetString("description")
		req.Tags, _ = cmd.Flags().GetStringSlice("tags")
		req.FrameRate, _ = cmd.Flags().GetInt("frame-rate")
		req.Quality, _ = cmd.Flags().GetString("quality")
		limit, _ := cmd.Flags().GetDuration("duration")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, err := newService()
		if err != nil {
			return err
		}
		defer shutdownService(svc)

		if recovered, err := svc.Recover(ctx); err != nil {
			slog.Warn("Recovery of interrupted sessions was incomplete", "error", err)
		} else if len(recovered) > 0 {
			slog.Info("Closed out interrupted sessions", "sessions", recovered)
		}

		session, err := svc.StartSession(req)
		if err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		slog.Info("Recording started", "session", session.ID, "title", session.Title)
		fmt.Fprintln(os.Stderr, "Commands: p=pause r=resume n <text>=note s=stop (Ctrl+C stops)")

		if err := runRecordLoop(ctx, svc, session.ID, limit); err != nil {
			return err
		}

		slog.Info("Stopping recording...")
		summary, err := svc.StopRecording()
		if err != nil {
			if errors.Is(err, recorder.ErrNothingToStop) {
				return recordingFailed(svc, session.ID)
			}
			return fmt.Errorf("failed to stop recording: %w", err)
		}
		printSummary(summary)
		return nil
	},
}

// runRecordLoop returns when the user asks to stop, the time limit passes or
// the capture fails.
func runRecordLoop(ctx context.Context, svc *service.RecorderService, sessionID string, limit time.Duration) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()

	var deadline <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			slog.Info("Time limit reached", "limit", limit)
			return nil
		case <-ticker.C:
			st := svc.GetRecordingStatus()
			if st.State == recorder.Failed {
				return recordingFailed(svc, sessionID)
			}
			printStatus(st)
		case line := <-lines:
			done, err := handleRecordCommand(svc, sessionID, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			if done {
				return nil
			}
		}
	}
}

func handleRecordCommand(svc *service.RecorderService, sessionID, line string) (bool, error) {
	command, rest, _ := strings.Cut(line, " ")
	switch command {
	case "":
		printStatus(svc.GetRecordingStatus())
	case "p", "pause":
		return false, svc.PauseRecording()
	case "r", "resume":
		return false, svc.ResumeRecording()
	case "n", "note":
		return false, addNote(svc, sessionID, strings.TrimSpace(rest))
	case "s", "stop", "q":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", command)
	}
	return false, nil
}

func addNote(svc *service.RecorderService, sessionID, text string) error {
	if text == "" {
		return fmt.Errorf("note text is required")
	}
	st := svc.GetRecordingStatus()
	notes, err := svc.GetNotes(sessionID)
	if err != nil {
		return err
	}
	now := time.Now()
	notes = append(notes, store.Note{
		ID:             now.UnixMilli(),
		Text:           text,
		Timestamp:      st.ElapsedMs,
		TimestampLabel: formatElapsed(st.ElapsedMs),
		SessionState:   string(st.State),
		CreatedAt:      now,
	})
	if err := svc.SaveNotes(sessionID, notes); err != nil {
		return err
	}
	slog.Info("Note added", "at", formatElapsed(st.ElapsedMs))
	return nil
}

func recordingFailed(svc *service.RecorderService, sessionID string) error {
	msg := svc.GetLastError()
	if msg == "" {
		msg = svc.GetRecordingStatus().Error
	}
	return fmt.Errorf("recording failed: %s (run 'laboras assemble %s' to retry joining the captured segments)", msg, sessionID)
}

func printStatus(st service.RecordingStatus) {
	fmt.Fprintf(os.Stderr, "%s %s  ~%s  segments=%d\n",
		st.State, formatElapsed(st.ElapsedMs), humanize.Bytes(uint64(st.EstimatedBytes)), st.Segments)
}

func printSummary(summary *recorder.Summary) {
	if summary.Cancelled {
		fmt.Printf("Session %s cancelled before capture started\n", summary.SessionID)
		return
	}
	fmt.Printf("Session:  %s\n", summary.SessionID)
	fmt.Printf("Video:    %s\n", summary.OutputPath)
	fmt.Printf("Duration: %s\n", formatElapsed(summary.DurationMs))
	fmt.Printf("Size:     %s\n", humanize.Bytes(uint64(summary.SizeBytes)))
	fmt.Printf("Segments: %d\n", summary.Segments)
}

// formatElapsed renders milliseconds as H:MM:SS.
func formatElapsed(ms int64) string {
	total := ms / 1000
	return fmt.Sprintf("%d:%02d:%02d", total/3600, total/60%60, total%60)
}

func newService() (*service.RecorderService, error) {
	svc, err := service.New(cfg, cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return svc, nil
}

func shutdownService(svc *service.RecorderService) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		slog.Warn("Shutdown was not clean", "error", err)
	}
}

func init() {
	recordCmd.Flags().String("description", "", "session description")
	recordCmd.Flags().StringSlice("tags", nil, "comma separated session tags")
	recordCmd.Flags().Int("frame-rate", 0, "frames per second (overrides config)")
	recordCmd.Flags().String("quality", "", "480p, 720p or 1080p (overrides config)")
	recordCmd.Flags().Duration("duration", 0, "stop automatically after this long")
}
