package main

import (
	"fmt"

	"github.com/jpalmerr/roomwatch/config"
	"github.com/spf13/cobra"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a roomwatch configuration file without starting the server.

This command loads the env file, parses the YAML, expands environment
variables, and validates all fields. It's useful for CI/CD pipelines or
pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  roomwatch validate -c roomwatch.yaml
  roomwatch validate --config /etc/roomwatch/roomwatch.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	validateCmd.Flags().String("env-file", ".env", "dotenv file loaded before config expansion (ignored if missing)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	stream := "disabled"
	if cfg.StreamURL != "" {
		stream = cfg.StreamURL
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  API URL:  %s\n", cfg.APIURL)
	fmt.Printf("  Stream:   %s\n", stream)
	fmt.Printf("  Port:     %d\n", cfg.Port)
	fmt.Printf("  Devices:  every %s\n", intervalOrDefault(cfg.Devices.Interval, "10s"))
	fmt.Printf("  Records:  every %s\n", intervalOrDefault(cfg.Attendance.Interval, "30s"))

	return nil
}

func intervalOrDefault(d config.Duration, fallback string) string {
	if d == 0 {
		return fallback + " (default)"
	}
	return d.Duration().String()
}
