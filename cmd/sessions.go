package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/laboras/laboras/internal/service"
	"github.com/laboras/laboras/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls"},
	Short:   "List recorded sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.NewFileStore(cfg.Output.Directory)
		if err != nil {
			return err
		}
		sessions, err := st.ListSessions()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Printf("No sessions in %s\n", st.Dir())
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tDURATION\tSIZE\tCREATED")
		for _, s := range sessions {
			status := string(s.Status)
			if s.Interrupted {
				status += " (interrupted)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.Title, status, formatElapsed(s.Duration),
				humanize.Bytes(uint64(s.SizeBytes)), humanize.Time(s.CreatedAt))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		stats, err := st.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("\n%d sessions, %d completed, %s recorded, %s on disk\n",
			stats.TotalSessions, stats.CompletedSessions,
			formatElapsed(stats.TotalDuration), humanize.Bytes(uint64(stats.TotalSize)))
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session with its notes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.NewFileStore(cfg.Output.Directory)
		if err != nil {
			return err
		}
		s, err := st.GetSession(args[0])
		if err != nil {
			return err
		}
		notes, err := st.GetNotes(s.ID)
		if err != nil {
			return err
		}
		printSession(s, notes)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *service.RecorderService) error {
			if err := svc.DeleteSession(args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		})
	},
}

var sessionsEditCmd = &cobra.Command{
	Use:   "edit <session-id>",
	Short: "Change a session's title, description or tags",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var details service.SessionDetails
		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			details.Title = &title
		}
		if cmd.Flags().Changed("description") {
			description, _ := cmd.Flags().GetString("description")
			details.Description = &description
		}
		if cmd.Flags().Changed("tags") {
			tags, _ := cmd.Flags().GetStringSlice("tags")
			details.Tags = &tags
		}
		return withService(func(svc *service.RecorderService) error {
			s, err := svc.UpdateSessionDetails(args[0], details)
			if err != nil {
				return err
			}
			fmt.Printf("Updated %s: %s\n", s.ID, s.Title)
			return nil
		})
	},
}

func printSession(s *store.Session, notes []store.Note) {
	fmt.Printf("ID:          %s\n", s.ID)
	fmt.Printf("Title:       %s\n", s.Title)
	if s.Description != "" {
		fmt.Printf("Description: %s\n", s.Description)
	}
	if len(s.Tags) > 0 {
		fmt.Printf("Tags:        %s\n", strings.Join(s.Tags, ", "))
	}
	fmt.Printf("Status:      %s\n", s.Status)
	if s.Settings != nil {
		fmt.Printf("Capture:     %s @ %d fps\n", s.Settings.VideoQuality, s.Settings.FrameRate)
	}
	fmt.Printf("Created:     %s (%s)\n", s.CreatedAt.Format(time.DateTime), humanize.Time(s.CreatedAt))
	if s.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", s.CompletedAt.Format(time.DateTime))
	}
	fmt.Printf("Duration:    %s\n", formatElapsed(s.Duration))
	if s.VideoPath != "" {
		fmt.Printf("Video:       %s (%s, %d segments)\n", s.VideoPath, humanize.Bytes(uint64(s.SizeBytes)), s.Segments)
	}
	if s.ThumbnailPath != "" {
		fmt.Printf("Thumbnail:   %s\n", s.ThumbnailPath)
	}
	if s.ArchiveKey != "" {
		fmt.Printf("Archived as: %s\n", s.ArchiveKey)
	}
	if s.Interrupted {
		fmt.Printf("Interrupted: yes\n")
	}
	if s.Error != "" {
		fmt.Printf("Error:       %s\n", s.Error)
	}

	all := append(append([]store.Note{}, s.Notes...), notes...)
	if len(all) == 0 {
		return
	}
	fmt.Printf("\nNotes:\n")
	for _, n := range all {
		label := n.TimestampLabel
		if label == "" {
			label = formatElapsed(n.Timestamp)
		}
		fmt.Printf("  [%s] %s\n", label, n.Text)
	}
}

// withService runs fn against a service that does not own any encoder, so
// closing it never touches a recording made by another laboras process.
func withService(fn func(*service.RecorderService) error) error {
	svc, err := newService()
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		svc.Close(ctx)
	}()
	return fn(svc)
}

func init() {
	sessionsEditCmd.Flags().String("title", "", "new title")
	sessionsEditCmd.Flags().String("description", "", "new description")
	sessionsEditCmd.Flags().StringSlice("tags", nil, "replace tags (comma separated)")

	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsEditCmd)
}
