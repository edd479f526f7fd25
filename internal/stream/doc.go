// Package stream maintains the push channel of the synchronization core.
//
// A [Manager] owns one WebSocket connection to the backend: it dials,
// reconnects with capped exponential backoff after any connection loss, and
// tears the connection down on [Manager.Disconnect]. Every inbound message
// is decoded as an [Envelope] and forwarded to an [Applier]; malformed
// envelopes are counted and dropped.
//
// Users of the roomwatch library should not need to interact with this
// package directly.
package stream
