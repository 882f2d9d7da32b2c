package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/laboras/laboras/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Start the laboras web server to control recording over HTTP.
This allows you to start, pause and stop recordings from a browser or any
device on the same network.

The server will display the local network URL for easy access from other devices.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}

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

		slog.Info("laboras web server starting", "port", cfg.Server.Port, "config", cfgFile)

		// Start blocks until a signal arrives
		if err := server.New(svc, cfgFile).Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 8727, "port for the web server (overrides config)")
}
