// Package store holds the reconciled, in-memory view of every resource the
// monitor has learned about from either the polling or the push channel.
//
// This package is internal to roomwatch. It is the single owner of resource
// state: pollers and the push stream only submit candidate updates through
// [MemoryStore.ApplyUpdate] and [MemoryStore.Remove].
//
// The main components are:
//
//   - [Store]: Interface defining reconciliation and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [Resource]: A resource value together with the time it was observed
//   - [Change]: Notification published whenever the stored view changes
//
// Conflicts are resolved by observation time, never by arrival order: a
// stored value is only replaced by an update observed strictly later. This
// makes applying updates idempotent and commutative, so the two channels can
// race freely.
//
// Users of the roomwatch library should not need to interact with this
// package directly.
package store
