package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/laboras/laboras/internal/service"
)

var archiveCmd = &cobra.Command{
	Use:   "archive <session-id>",
	Short: "Upload a completed session to object storage",
	Long:  `Upload the session's video and thumbnail to the S3 compatible bucket configured under 'archive'.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(func(svc *service.RecorderService) error {
			uploaded, err := svc.ArchiveSession(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to archive %s: %w", args[0], err)
			}
			fmt.Printf("Uploaded %s (%s)\n", uploaded.VideoKey, humanize.Bytes(uint64(uploaded.SizeBytes)))
			if uploaded.ThumbnailKey != "" {
				fmt.Printf("Uploaded %s\n", uploaded.ThumbnailKey)
			}
			return nil
		})
	},
}
