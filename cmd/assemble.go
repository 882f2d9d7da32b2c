package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/laboras/laboras/internal/service"
)

var assembleCmd = &cobra.Command{
	Use:   "assemble <session-id>",
	Short: "Join a session's leftover segments into its final video",
	Long: `Join the segment files left in a session directory into the final video.

Use this after a recording failed while finalizing, or after a crash left
segments behind. Segments are joined in order without re-encoding and are
removed once the video has been written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *service.RecorderService) error {
			slog.Info("Assembling session", "session", args[0])
			summary, err := svc.AssembleSession(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to assemble %s: %w", args[0], err)
			}
			printSummary(summary)
			return nil
		})
	},
}
