package roomwatch

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jpalmerr/roomwatch/internal/store"
)

// timestamp layouts accepted in payloads; naive values are read as UTC
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05",
}

// unix values at or above this are taken as milliseconds
const unixMillisThreshold = 1e12

// decodeDevice builds the typed view of a stored device payload. Status is
// left for the caller to classify.
func decodeDevice(r store.Resource) Device {
	p := r.Payload
	lastSeen, lastSeenInvalid := lookupTime(p, "last_seen")
	return Device{
		DeviceID:   r.ID,
		ClusterID:  stringField(p, "cluster_id"),
		DeviceType: stringField(p, "device_type"),
		Room:       stringField(p, "room"),
		IP:         stringField(p, "ip"),
		HasRFID:    boolField(p, "has_rfid"),
		HasPIR:     boolField(p, "has_pir"),
		HasCamera:  boolField(p, "has_camera"),
		HasBLE:     boolField(p, "has_ble"),
		LastSeen:        lastSeen,
		LastSeenInvalid: lastSeenInvalid,
		RawStatus:       stringField(p, "status"),
		ObservedAt:      r.ObservedAt,
	}
}

// decodeAttendance builds the typed view of a stored attendance payload.
func decodeAttendance(r store.Resource) AttendanceRecord {
	p := r.Payload
	exitTime, exitTimeInvalid := lookupTime(p, "exit_time")
	return AttendanceRecord{
		ID:              r.ID,
		StudentID:       stringField(p, "student_id"),
		StudentName:     stringField(p, "student_name"),
		Room:            stringField(p, "room"),
		EntryTime:       timeField(p, "entry_time"),
		ExitTime:        exitTime,
		ExitTimeInvalid: exitTimeInvalid,
		DurationMinutes: floatField(p, "duration_minutes"),
		Confidence:      floatField(p, "confidence"),
		RawStatus:       stringField(p, "status"),
		ObservedAt:      r.ObservedAt,
	}
}

// stringField renders a scalar payload value as a string. Missing, null and
// composite values yield "".
func stringField(p map[string]any, key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// boolField accepts JSON booleans, 0/1 numbers and common string spellings.
func boolField(p map[string]any, key string) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	case float64:
		return v != 0
	case int:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "y", "on":
			return true
		}
	}
	return false
}

// floatField returns nil when the value is missing or not numeric.
func floatField(p map[string]any, key string) *float64 {
	var f float64
	switch v := p[key].(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

// timeField parses timestamps given as strings in any of timeLayouts or as
// Unix seconds or milliseconds. Missing, null, empty and unparseable values
// all yield nil.
func timeField(p map[string]any, key string) *time.Time {
	t, _ := lookupTime(p, key)
	return t
}

// lookupTime is timeField that also reports whether a value was present but
// unreadable. Missing, null and blank values are absent, not invalid.
func lookupTime(p map[string]any, key string) (*time.Time, bool) {
	var t time.Time
	switch v := p[key].(type) {
	case nil:
		return nil, false
	case time.Time:
		t = v
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, false
		}
		parsed, ok := parseTime(v)
		if !ok {
			return nil, true
		}
		t = parsed
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, true
		}
		t = unixTime(f)
	case float64:
		t = unixTime(v)
	case int64:
		t = unixTime(float64(v))
	case int:
		t = unixTime(float64(v))
	default:
		return nil, true
	}
	return &t, false
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func unixTime(f float64) time.Time {
	if f >= unixMillisThreshold {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}
