// Package server exposes the reconciled view over HTTP.
//
// It serves read-only JSON snapshots of devices, attendance records, health
// and summary counts, plus a Server-Sent Events feed of resource changes.
// Cross-origin access is controlled with github.com/rs/cors.
//
// Users of the roomwatch library should not need to interact with this
// package directly; it is enabled through roomwatch.WithPort.
package server
