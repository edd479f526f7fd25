package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/roomwatch"
	"github.com/jpalmerr/roomwatch/config"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
)

// newLogger creates a JSON logger for CLI use.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start monitoring and the JSON API",
	Long: `Start roomwatch.

The server will:
  - Load environment variables from the env file, if present
  - Load configuration from the specified YAML file
  - Poll devices and attendance records on their own schedules
  - Apply push updates when stream_url is configured
  - Serve the JSON API and change feed on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  roomwatch serve -c roomwatch.yaml
  roomwatch serve --config /etc/roomwatch/roomwatch.yaml --env-file /etc/roomwatch/.env`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	serveCmd.Flags().String("env-file", ".env", "dotenv file loaded before config expansion (ignored if missing)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(cfg.Level())
	logger.Info("config loaded",
		"api_url", cfg.APIURL,
		"stream_enabled", cfg.StreamURL != "",
	)

	opts := append(config.BuildOptions(cfg),
		roomwatch.WithLogger(logger),
		roomwatch.WithPollErrorCallback(func(pe roomwatch.PollError) {
			if pe.ConsecutiveFailures == 1 {
				logger.Warn("source degraded", "resource_type", pe.Type, "error", pe.Err)
			}
		}),
		roomwatch.WithConnectionStateCallback(func(s roomwatch.ConnectionState) {
			logger.Info("push channel", "state", s)
		}),
	)

	m, err := roomwatch.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create monitor: %w", err)
	}

	logger.Info("starting server", "port", cfg.Port)

	// cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start blocks until ctx is cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- m.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
