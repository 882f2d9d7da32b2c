package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/laboras/laboras/internal/capture"
	"github.com/laboras/laboras/internal/config"
	"github.com/laboras/laboras/internal/segment"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info [session-id]",
	Short: "Show resolved configuration and file paths",
	Long:  `Display the resolved configuration with inheritance indicators. Shows which values are inherited from default vs profile-specific. With a session id, also shows where that session's files live.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inh := cfg.Inheritance
		if inh == nil {
			inh = &config.InheritanceInfo{}
		}

		if len(args) == 1 {
			dir := filepath.Join(cfg.Output.Directory, args[0])
			fmt.Printf("=== FILE PATHS ===\n")
			fmt.Printf("session_dir: %s\n", dir)
			fmt.Printf("segments: %s\n", filepath.Join(dir, "video_part<ms>."+cfg.Capture.Extension))
			fmt.Printf("manifest: %s\n", filepath.Join(dir, segment.ManifestName))
			fmt.Printf("video: %s\n", filepath.Join(dir, segment.OutputName(cfg.Capture.Extension)))
			fmt.Printf("metadata: %s\n\n", filepath.Join(dir, "metadata.json"))
		}

		fmt.Printf("=== RESOLVED CONFIGURATION ===\n")
		fmt.Printf("config_file: %s\n", cfgFile)

		fmt.Printf("\n[Capture]\n")
		fmt.Printf("frame_rate: %d %s\n", cfg.Capture.FrameRate, getInheritanceIndicator(inh.Capture.FrameRate))
		fmt.Printf("quality: %s %s\n", cfg.Capture.Quality, getInheritanceIndicator(inh.Capture.Quality))
		fmt.Printf("extension: %s %s\n", cfg.Capture.Extension, getInheritanceIndicator(inh.Capture.Extension))
		fmt.Printf("ffmpeg_path: %s %s\n", cfg.Capture.FFmpegPath, toolStatus(cfg.Capture.FFmpegPath))
		fmt.Printf("ffprobe_path: %s %s\n", cfg.Capture.FFprobePath, toolStatus(cfg.Capture.FFprobePath))

		fmt.Printf("\n[Output]\n")
		fmt.Printf("directory: %s %s\n", cfg.Output.Directory, getInheritanceIndicator(inh.Output.Directory))

		fmt.Printf("\n[Timeouts]\n")
		fmt.Printf("pause_grace: %s %s\n", cfg.Timeouts.PauseGrace, getInheritanceIndicator(inh.Timeouts.PauseGrace))
		fmt.Printf("stop_grace: %s %s\n", cfg.Timeouts.StopGrace, getInheritanceIndicator(inh.Timeouts.StopGrace))

		fmt.Printf("\n[Assembly]\n")
		fmt.Printf("materialize_attempts: %d\n", cfg.Assembly.MaterializeAttempts)
		fmt.Printf("materialize_delay: %s\n", cfg.Assembly.MaterializeDelay)
		fmt.Printf("timeout: %s\n", cfg.Assembly.Timeout)

		fmt.Printf("\n[Server]\n")
		fmt.Printf("port: %d\n", cfg.Server.Port)

		fmt.Printf("\n[Archive]\n")
		fmt.Printf("enabled: %t\n", cfg.Archive.Enabled)
		if cfg.Archive.Enabled {
			fmt.Printf("endpoint: %s\n", cfg.Archive.Endpoint)
			fmt.Printf("bucket: %s\n", cfg.Archive.Bucket)
		}

		fmt.Printf("\n[Events]\n")
		fmt.Printf("enabled: %t\n", cfg.Events.Enabled)
		if cfg.Events.Enabled {
			fmt.Printf("brokers: %v\n", cfg.Events.Brokers)
			fmt.Printf("topic: %s\n", cfg.Events.Topic)
		}

		return nil
	},
}

func toolStatus(path string) string {
	resolved, err := capture.NewTool(path).Available()
	if err != nil {
		return "[not found]"
	}
	return "[" + resolved + "]"
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case config.InheritedValue:
		return "[inherited]"
	case config.ProfileSpecificValue:
		return "[profile-specific]"
	default:
		return "[built-in]"
	}
}
