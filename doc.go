// Package roomwatch keeps a consistent, classified view of a sensor-driven
// attendance network while two unreliable channels mutate it.
//
// A [Monitor] polls the backend REST API for device and attendance
// snapshots and, optionally, listens on a WebSocket push stream. Every
// update from either channel is reconciled by observation time: the newest
// observation of each resource wins, duplicates are harmless, and a delete
// cannot be undone by an older update still in flight.
//
// # Quick Start
//
//	m, _ := roomwatch.New(
//	    roomwatch.WithBaseURL("http://localhost:8000/api/v1"),
//	    roomwatch.WithStreamURL("ws://localhost:8000/ws"),
//	    roomwatch.WithChangeCallback(func(c roomwatch.Change) {
//	        slog.Info("changed", "type", c.Type, "id", c.ID)
//	    }),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	m.Start(ctx) // blocks until context is cancelled
//
// # Classification
//
// Raw backend fields are never shown as is. [ClassifyDevice] reports a
// device active only if it says so and its heartbeat is within the
// staleness threshold (60 seconds by default). [ClassifyAttendance] reports
// a record present until it has an exit time.
//
// # Architecture
//
//   - internal/store: reconciliation store with last-writer-wins and tombstones
//   - internal/poller: per-resource snapshot polling with an overlap guard
//   - internal/stream: WebSocket push channel with capped exponential backoff
//   - internal/server: optional JSON API and Server-Sent Events change feed
//
// The internal packages are not part of the public API and may change
// without notice.
package roomwatch
