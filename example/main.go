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
	"github.com/jpalmerr/roomwatch/example/mockcampus"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// fake campus backend (see mockcampus)
	go func() {
		if err := mockcampus.ListenAndServe(ctx, ":8000", logger.With("component", "mockcampus")); err != nil {
			logger.Error("mock campus error", "error", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	// print the headline whenever the view changes
	var m *roomwatch.Monitor
	m, err := roomwatch.New(
		roomwatch.WithBaseURL("http://localhost:8000/api/v1"),
		roomwatch.WithStreamURL("ws://localhost:8000/ws"),
		roomwatch.WithDeviceInterval(5*time.Second),
		roomwatch.WithAttendanceInterval(15*time.Second),
		roomwatch.WithStalenessThreshold(30*time.Second),
		roomwatch.WithPort(8080),
		roomwatch.WithLogger(logger),
		roomwatch.WithChangeCallback(func(c roomwatch.Change) {
			s := m.Summary()
			fmt.Printf("%-17s %-8s devices %d/%d active, %d present\n",
				c.Type, c.ID, s.ActiveDevices, s.Devices, s.Present)
		}),
	)
	if err != nil {
		slog.Error("failed to create monitor", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  roomwatch demo")
	fmt.Println()
	fmt.Println("  Mock campus API:  http://localhost:8000/api/v1")
	fmt.Println("  Push channel:     ws://localhost:8000/ws")
	fmt.Println("  roomwatch API:    http://localhost:8080/api/summary")
	fmt.Println("  Change feed:      curl -N http://localhost:8080/api/sse")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	if err := m.Start(ctx); err != nil {
		slog.Error("roomwatch error", "error", err)
		os.Exit(1)
	}
}
