// Package main is the entry point for the roomwatch CLI.
//
// roomwatch can be embedded as a library (SDK) or run as a standalone
// binary with YAML configuration. This CLI provides the standalone binary.
//
// Usage:
//
//	roomwatch serve -c roomwatch.yaml      # Start monitoring and the JSON API
//	roomwatch validate -c roomwatch.yaml   # Validate configuration
//	roomwatch version                      # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd only displays help; functionality lives in subcommands.
var rootCmd = &cobra.Command{
	Use:   "roomwatch",
	Short: "Live view of campus devices and attendance",
	Long: `roomwatch keeps a live, classified view of classroom edge devices
and attendance records.

It polls the campus REST API on independent schedules, optionally applies
push updates from a WebSocket channel, and serves the merged view as JSON
with a Server-Sent Events change feed.

Quick start:
  1. Create a config file (roomwatch.yaml)
  2. Run: roomwatch serve -c roomwatch.yaml
  3. curl http://localhost:8080/api/summary

Example config:
  api_url: http://localhost:8000/api/v1
  stream_url: ws://localhost:8000/ws
  port: 8080
  devices:
    interval: 10s
  attendance:
    interval: 30s
    limit: 50`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this roomwatch binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("roomwatch %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
