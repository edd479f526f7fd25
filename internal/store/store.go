package store

import (
	"errors"
	"time"
)

// ResourceType names a family of synchronized resources.
type ResourceType string

const (
	// ResourceDevice identifies edge devices (multi-modal room sensors).
	ResourceDevice ResourceType = "device"

	// ResourceAttendanceRecord identifies attendance records.
	ResourceAttendanceRecord ResourceType = "attendanceRecord"
)

// ResourceTypes lists every known resource type in a stable order.
var ResourceTypes = []ResourceType{ResourceDevice, ResourceAttendanceRecord}

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	return t == ResourceDevice || t == ResourceAttendanceRecord
}

// String returns the wire name of the resource type.
func (t ResourceType) String() string {
	return string(t)
}

var (
	// ErrUnknownResourceType is returned for updates naming a resource type
	// the store does not track.
	ErrUnknownResourceType = errors.New("unknown resource type")

	// ErrEmptyID is returned for updates without a resource id. The store
	// never invents ids.
	ErrEmptyID = errors.New("resource id is required")
)

// Resource is the stored representation of one synchronized entity.
type Resource struct {
	// Type is the resource family.
	Type ResourceType `json:"resource_type"`

	// ID is the stable identifier reported by the channel.
	ID string `json:"id"`

	// Payload holds the opaque domain fields as decoded from JSON.
	Payload map[string]any `json:"payload"`

	// ObservedAt is when the core learned of this value. It is the only
	// conflict-resolution key.
	ObservedAt time.Time `json:"observed_at"`
}

// Change describes a mutation of the stored view.
type Change struct {
	Type    ResourceType `json:"resource_type"`
	ID      string       `json:"id"`
	Removed bool         `json:"removed"`
}

// Store defines the interface for reconciling and subscribing to resource state.
//
// Store implementations must be safe for concurrent access. The comparison
// and write inside ApplyUpdate must happen as one uninterrupted step.
type Store interface {
	// ApplyUpdate submits a candidate value. It is stored if the key is absent
	// or observedAt is strictly newer than the stored value. Reports whether
	// the stored view changed.
	ApplyUpdate(rt ResourceType, id string, payload map[string]any, observedAt time.Time) (bool, error)

	// Remove deletes a resource unconditionally. Updates observed at or before
	// removedAt are ignored afterwards, until the tombstone expires. Reports
	// whether a value was removed.
	Remove(rt ResourceType, id string, removedAt time.Time) bool

	// GetAll returns a copy of every resource of the given type ordered by id.
	GetAll(rt ResourceType) []Resource

	// Subscribe returns a channel that receives a Change for every mutation.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan Change

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan Change)

	// SubscribeFeed returns a subscription that coalesces per key instead of
	// dropping changes. Caller must call UnsubscribeFeed when done.
	SubscribeFeed() *Feed

	// UnsubscribeFeed detaches the feed and closes its Ready channel.
	UnsubscribeFeed(f *Feed)
}
