package roomwatch

import (
	"strings"
	"time"

	"github.com/jpalmerr/roomwatch/internal/store"
	"github.com/jpalmerr/roomwatch/internal/stream"
)

// ResourceType names a family of synchronized resources.
type ResourceType string

const (
	// ResourceDevice identifies edge devices.
	ResourceDevice ResourceType = "device"

	// ResourceAttendanceRecord identifies attendance records.
	ResourceAttendanceRecord ResourceType = "attendanceRecord"
)

// String returns the wire name of the resource type.
func (t ResourceType) String() string {
	return string(t)
}

// DeviceStatus is the derived, user-facing state of a device.
type DeviceStatus string

const (
	// DeviceActive means the device reports itself active and has been seen
	// within the staleness threshold.
	DeviceActive DeviceStatus = "active"

	// DeviceInactive covers every other case, including stale heartbeats.
	DeviceInactive DeviceStatus = "inactive"
)

// String returns the string representation of the status.
func (s DeviceStatus) String() string {
	return string(s)
}

// PresenceStatus is the derived state of an attendance record.
type PresenceStatus string

const (
	// PresencePresent means the student has not left yet.
	PresencePresent PresenceStatus = "present"

	// PresenceAbsent means an exit time has been recorded.
	PresenceAbsent PresenceStatus = "absent"
)

// String returns the string representation of the status.
func (s PresenceStatus) String() string {
	return string(s)
}

// ConnectionState is the lifecycle state of the push channel.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = ConnectionState(stream.StateDisconnected)
	ConnectionConnecting   ConnectionState = ConnectionState(stream.StateConnecting)
	ConnectionConnected    ConnectionState = ConnectionState(stream.StateConnected)
	ConnectionReconnecting ConnectionState = ConnectionState(stream.StateReconnecting)
)

// String returns the string representation of the state.
func (s ConnectionState) String() string {
	return string(s)
}

// Device is a classified view of one edge device.
//
// Fields mirror the backend payload. Status is derived by [ClassifyDevice];
// RawStatus keeps the value the backend reported.
type Device struct {
	DeviceID   string `json:"device_id"`
	ClusterID  string `json:"cluster_id,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
	Room       string `json:"room"`
	IP         string `json:"ip,omitempty"`

	HasRFID   bool `json:"has_rfid"`
	HasPIR    bool `json:"has_pir"`
	HasCamera bool `json:"has_camera"`
	HasBLE    bool `json:"has_ble"`

	// LastSeen is nil when the backend has never recorded a heartbeat.
	LastSeen *time.Time `json:"last_seen"`

	// LastSeenInvalid is set when last_seen was reported but could not be
	// read. Such a device is never classified active.
	LastSeenInvalid bool `json:"last_seen_invalid,omitempty"`

	RawStatus string       `json:"raw_status"`
	Status    DeviceStatus `json:"status"`

	// ObservedAt is when this value was learned, from either channel.
	ObservedAt time.Time `json:"observed_at"`
}

// AttendanceRecord is a classified view of one attendance record.
type AttendanceRecord struct {
	ID          string `json:"id"`
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name"`
	Room        string `json:"room"`

	EntryTime *time.Time `json:"entry_time"`

	// ExitTime is nil while the student is still in the room.
	ExitTime *time.Time `json:"exit_time"`

	// ExitTimeInvalid is set when an exit was reported but its time could
	// not be read. The student is treated as having left.
	ExitTimeInvalid bool `json:"exit_time_invalid,omitempty"`

	DurationMinutes *float64 `json:"duration_minutes"`
	Confidence      *float64 `json:"confidence,omitempty"`

	RawStatus string         `json:"raw_status,omitempty"`
	Status    PresenceStatus `json:"status"`

	ObservedAt time.Time `json:"observed_at"`
}

// ClassifyDevice derives the status of d at time now.
//
// A device is active iff its raw status is "active" (case-insensitive) and
// either it has no last-seen time or it was seen no longer than threshold
// ago. A raw "active" with a stale or unreadable heartbeat is inactive.
func ClassifyDevice(d Device, now time.Time, threshold time.Duration) DeviceStatus {
	if !strings.EqualFold(strings.TrimSpace(d.RawStatus), string(DeviceActive)) {
		return DeviceInactive
	}
	if d.LastSeenInvalid {
		return DeviceInactive
	}
	if d.LastSeen != nil && now.Sub(*d.LastSeen) > threshold {
		return DeviceInactive
	}
	return DeviceActive
}

// ClassifyAttendance derives the presence of r. The backend's own status
// field is not consulted. An exit with an unreadable time still counts.
func ClassifyAttendance(r AttendanceRecord) PresenceStatus {
	if r.ExitTime == nil && !r.ExitTimeInvalid {
		return PresencePresent
	}
	return PresenceAbsent
}

// Change describes a mutation of the reconciled view.
type Change struct {
	Type    ResourceType `json:"resource_type"`
	ID      string       `json:"id"`
	Removed bool         `json:"removed"`
}

func changeFromStore(c store.Change) Change {
	return Change{Type: ResourceType(c.Type), ID: c.ID, Removed: c.Removed}
}
