// Standalone mock campus backend for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/roomwatch serve -c example/roomwatch.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jpalmerr/roomwatch/example/mockcampus"
)

func main() {
	fmt.Println("Mock campus backend starting on :8000")
	fmt.Println("  REST: http://localhost:8000/api/v1/devices")
	fmt.Println("        http://localhost:8000/api/v1/attendance/records?limit=50")
	fmt.Println("  Push: ws://localhost:8000/ws")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := mockcampus.ListenAndServe(ctx, ":8000", logger); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
