package roomwatch

import (
	"sort"
	"time"
)

// Occupancy is the live state of one room: who is in it and which of its
// devices are reporting.
type Occupancy struct {
	Room string `json:"room"`

	// CurrentOccupancy counts distinct students with an open record.
	CurrentOccupancy int        `json:"current_occupancy"`
	Students         []Occupant `json:"students"`

	Devices       int `json:"devices"`
	ActiveDevices int `json:"active_devices"`
}

// Occupant is a student currently present in a room.
type Occupant struct {
	StudentID   string     `json:"student_id"`
	StudentName string     `json:"student_name,omitempty"`
	RecordID    string     `json:"record_id"`
	EntryTime   *time.Time `json:"entry_time,omitempty"`
}

// Occupancy returns the live state of room. A room nothing refers to is
// reported empty.
func (m *Monitor) Occupancy(room string) Occupancy {
	if o, ok := occupancies(m.Devices(), m.AttendanceRecords())[room]; ok {
		return *o
	}
	return Occupancy{Room: room, Students: []Occupant{}}
}

// Rooms returns the live state of every room named by a device or an
// attendance record, ordered by room.
func (m *Monitor) Rooms() []Occupancy {
	byRoom := occupancies(m.Devices(), m.AttendanceRecords())
	out := make([]Occupancy, 0, len(byRoom))
	for _, o := range byRoom {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}

// occupancies groups classified resources by room. Resources without a room
// are left out. A student with several open records is counted once, under
// the most recent entry.
func occupancies(devices []Device, records []AttendanceRecord) map[string]*Occupancy {
	byRoom := make(map[string]*Occupancy)
	get := func(room string) *Occupancy {
		o, ok := byRoom[room]
		if !ok {
			o = &Occupancy{Room: room, Students: []Occupant{}}
			byRoom[room] = o
		}
		return o
	}

	for _, d := range devices {
		if d.Room == "" {
			continue
		}
		o := get(d.Room)
		o.Devices++
		if d.Status == DeviceActive {
			o.ActiveDevices++
		}
	}

	seen := make(map[string]map[string]int) // room -> student -> index in Students
	for _, r := range records {
		if r.Room == "" {
			continue
		}
		o := get(r.Room)
		if r.Status != PresencePresent {
			continue
		}

		student := r.StudentID
		if student == "" {
			// anonymous records stand for themselves
			student = "record:" + r.ID
		}
		occ := Occupant{StudentID: r.StudentID, StudentName: r.StudentName, RecordID: r.ID, EntryTime: r.EntryTime}

		if seen[r.Room] == nil {
			seen[r.Room] = make(map[string]int)
		}
		if i, dup := seen[r.Room][student]; dup {
			if laterEntry(occ.EntryTime, o.Students[i].EntryTime) {
				o.Students[i] = occ
			}
			continue
		}
		seen[r.Room][student] = len(o.Students)
		o.Students = append(o.Students, occ)
	}

	for _, o := range byRoom {
		o.CurrentOccupancy = len(o.Students)
		sort.Slice(o.Students, func(i, j int) bool {
			if o.Students[i].StudentID != o.Students[j].StudentID {
				return o.Students[i].StudentID < o.Students[j].StudentID
			}
			return o.Students[i].RecordID < o.Students[j].RecordID
		})
	}
	return byRoom
}

func laterEntry(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	return b == nil || a.After(*b)
}
