package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/laboras/laboras/internal/capture"

	"github.com/spf13/cobra"
)

var screensCmd = &cobra.Command{
	Use:   "screens",
	Short: "List the screens available for capture",
	Long:  `List the X screens laboras can capture and the grabber ffmpeg will use on this platform.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		display, _ := cmd.Flags().GetString("display")

		backend, err := capture.DetectBackend()
		if err != nil {
			return err
		}
		fmt.Printf("Capture backend (%s): %s\n", runtime.GOOS, backend.Name())

		if runtime.GOOS != "linux" {
			return nil
		}
		if display == "" {
			display = os.Getenv("DISPLAY")
		}

		screens, err := capture.Screens(display)
		if err != nil {
			return fmt.Errorf("failed to list screens: %w", err)
		}

		fmt.Printf("\nX screens on %s (%d found):\n", display, len(screens))
		for _, s := range screens {
			marker := ""
			if s.Default {
				marker = " (default)"
			}
			fmt.Printf("  %d. %dx%d depth %d%s\n", s.Index, s.Width, s.Height, s.Depth, marker)
		}
		return nil
	},
}

func init() {
	screensCmd.Flags().String("display", "", "X display to query (default is $DISPLAY)")
}
