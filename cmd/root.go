package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/laboras/laboras/internal/capture"
	"github.com/laboras/laboras/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

const defaultConfigPath = "$HOME/.config/laboras.yaml"

var rootCmd = &cobra.Command{
	Use:   "laboras",
	Short: "Desktop screen recorder with pause, resume and crash recovery",
	Long: `Laboras records the desktop through ffmpeg. Recordings can be paused
and resumed any number of times; each stretch of capture is written as a
segment and the segments are joined losslessly when the recording stops.

Sessions left open by a crash or power loss are closed out the next time
laboras records or serves, and stray ffmpeg processes are cleaned up on exit.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(verboseLevel)

		// Listing screens only talks to the X server
		if cmd.Name() == "screens" {
			return nil
		}

		explicit := cfgFile != ""
		if !explicit {
			cfgFile = os.ExpandEnv(defaultConfigPath)
		}

		if _, err := os.Stat(cfgFile); errors.Is(err, fs.ErrNotExist) && !explicit && profile == "" {
			slog.Debug("No config file found, using built-in defaults", "path", cfgFile)
			cfg = config.Default()
			return nil
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/laboras.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=ffmpeg output, 3=max tracing")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(assembleCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(screensCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch {
	case level <= 0:
		slogLevel = slog.LevelInfo
	case level == 1:
		slogLevel = slog.LevelDebug
	default:
		// ffmpeg's own output is logged below debug
		slogLevel = capture.LevelTrace
	}

	opts := &slog.HandlerOptions{
		Level:     slogLevel,
		AddSource: level >= 3,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	slog.SetDefault(slog.New(handler))

	if level >= 3 {
		os.Setenv("FFREPORT", "level=40")
	}
}
