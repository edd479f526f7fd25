package roomwatch

import (
	"github.com/jpalmerr/roomwatch/internal/store"
)

// ChangeEvent is the JSON form of a change on the API's SSE feed. Device or
// Record carries the classified resource unless it was removed.
type ChangeEvent struct {
	Type    ResourceType      `json:"resource_type"`
	ID      string            `json:"id"`
	Removed bool              `json:"removed"`
	Device  *Device           `json:"device,omitempty"`
	Record  *AttendanceRecord `json:"record,omitempty"`
}

// monitorView adapts a Monitor to the HTTP server.
type monitorView struct {
	m *Monitor
}

func (v monitorView) Devices() any           { return v.m.Devices() }
func (v monitorView) AttendanceRecords() any { return v.m.AttendanceRecords() }
func (v monitorView) Health() any            { return v.m.Health() }
func (v monitorView) Summary() any           { return v.m.Summary() }
func (v monitorView) Rooms() any             { return v.m.Rooms() }

func (v monitorView) Occupancy(room string) any { return v.m.Occupancy(room) }

func (v monitorView) Snapshot() []any {
	devices := v.m.Devices()
	records := v.m.AttendanceRecords()

	out := make([]any, 0, len(devices)+len(records))
	for i := range devices {
		out = append(out, ChangeEvent{Type: ResourceDevice, ID: devices[i].DeviceID, Device: &devices[i]})
	}
	for i := range records {
		out = append(out, ChangeEvent{Type: ResourceAttendanceRecord, ID: records[i].ID, Record: &records[i]})
	}
	return out
}

// Render looks up the current state of the changed resource. A resource
// that vanished before rendering is reported as removed.
func (v monitorView) Render(c store.Change) any {
	ev := ChangeEvent{Type: ResourceType(c.Type), ID: c.ID, Removed: c.Removed}
	if c.Removed {
		return ev
	}

	switch c.Type {
	case store.ResourceDevice:
		if d, ok := v.m.Device(c.ID); ok {
			ev.Device = &d
		} else {
			ev.Removed = true
		}
	case store.ResourceAttendanceRecord:
		if r, ok := v.m.AttendanceRecord(c.ID); ok {
			ev.Record = &r
		} else {
			ev.Removed = true
		}
	}
	return ev
}

func (v monitorView) Subscribe() <-chan store.Change     { return v.m.store.Subscribe() }
func (v monitorView) Unsubscribe(ch <-chan store.Change) { v.m.store.Unsubscribe(ch) }
