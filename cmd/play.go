package cmd

import (
	"github.com/laboras/laboras/internal/play"
	"github.com/laboras/laboras/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <session-id>",
	Short: "Play a session's final video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var video string
		err := withService(func(svc *service.RecorderService) error {
			var err error
			video, err = svc.VideoPath(args[0])
			return err
		})
		if err != nil {
			return err
		}
		return play.New().Play(video)
	},
}
