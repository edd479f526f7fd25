// Package poller provides periodic snapshot fetching for roomwatch.
//
// This package is internal to roomwatch and handles the polling half of the
// synchronization core. Each resource type is polled on its own independent
// timer, and a resource type never has more than one fetch in flight.
//
// The main components are:
//
//   - [Client]: HTTP client wrapper with timeout and size limits
//   - [Scheduler]: Per-resource-type timers with an overlap guard
//   - [FetchFunc]: A single snapshot fetch returning [Item] values
//   - [DecodeList]: Decoder for wrapped or bare JSON list responses
//
// Fetched items are handed to an [Applier] (the resource store) stamped with
// the time the response was received.
//
// Users of the roomwatch library should not need to interact with this
// package directly.
package poller
