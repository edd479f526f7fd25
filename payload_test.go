package roomwatch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/roomwatch/internal/store"
)

func TestDecodeDevice(t *testing.T) {
	observed := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	r := store.Resource{
		Type: store.ResourceDevice,
		ID:   "esp32-a1",
		Payload: map[string]any{
			"device_id":   "esp32-a1",
			"cluster_id":  json.Number("3"),
			"device_type": "esp32",
			"room":        "B-204",
			"status":      "active",
			"has_rfid":    true,
			"has_pir":     json.Number("1"),
			"has_camera":  "false",
			"has_ble":     "yes",
			"ip":          "10.0.0.12",
			"last_seen":   "2025-03-10T08:59:30.123456",
		},
		ObservedAt: observed,
	}

	d := decodeDevice(r)

	assert.Equal(t, "esp32-a1", d.DeviceID)
	assert.Equal(t, "3", d.ClusterID)
	assert.Equal(t, "esp32", d.DeviceType)
	assert.Equal(t, "B-204", d.Room)
	assert.Equal(t, "active", d.RawStatus)
	assert.True(t, d.HasRFID)
	assert.True(t, d.HasPIR)
	assert.False(t, d.HasCamera)
	assert.True(t, d.HasBLE)
	assert.Equal(t, "10.0.0.12", d.IP)
	require.NotNil(t, d.LastSeen)
	assert.True(t, d.LastSeen.Equal(time.Date(2025, 3, 10, 8, 59, 30, 123456000, time.UTC)))
	assert.Equal(t, observed, d.ObservedAt)
	assert.Empty(t, d.Status, "decoding does not classify")
}

func TestDecodeDevice_MissingFields(t *testing.T) {
	d := decodeDevice(store.Resource{ID: "bare", Payload: map[string]any{}})

	assert.Equal(t, "bare", d.DeviceID)
	assert.Nil(t, d.LastSeen)
	assert.False(t, d.HasRFID)
	assert.Empty(t, d.Room)
}

func TestDecodeDevice_UnreadableLastSeen(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	r := store.Resource{
		ID:      "esp32-x",
		Payload: map[string]any{"status": "active", "last_seen": "yesterday-ish"},
	}

	d := decodeDevice(r)
	assert.Nil(t, d.LastSeen)
	assert.True(t, d.LastSeenInvalid)
	assert.Equal(t, DeviceInactive, ClassifyDevice(d, now, time.Minute))

	// a compact offset is readable, and old enough to be stale
	r.Payload["last_seen"] = "2025-03-01T08:00:00+0000"
	d = decodeDevice(r)
	require.NotNil(t, d.LastSeen)
	assert.False(t, d.LastSeenInvalid)
	assert.True(t, d.LastSeen.Equal(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)))
	assert.Equal(t, DeviceInactive, ClassifyDevice(d, now, time.Minute))

	// missing stays distinct from unreadable
	delete(r.Payload, "last_seen")
	d = decodeDevice(r)
	assert.False(t, d.LastSeenInvalid)
	assert.Equal(t, DeviceActive, ClassifyDevice(d, now, time.Minute))
}

func TestDecodeAttendance_UnreadableExitTime(t *testing.T) {
	rec := decodeAttendance(store.Resource{
		ID:      "7",
		Payload: map[string]any{"student_id": "S1", "exit_time": "half past"},
	})

	assert.Nil(t, rec.ExitTime)
	assert.True(t, rec.ExitTimeInvalid)
	assert.Equal(t, PresenceAbsent, ClassifyAttendance(rec))
}

func TestDecodeAttendance(t *testing.T) {
	r := store.Resource{
		Type: store.ResourceAttendanceRecord,
		ID:   "42",
		Payload: map[string]any{
			"id":               json.Number("42"),
			"student_id":       "S1001",
			"student_name":     "Ada",
			"room":             "B-204",
			"entry_time":       "2025-03-10T08:00:00Z",
			"exit_time":        nil,
			"duration_minutes": nil,
			"confidence":       json.Number("0.87"),
			"status":           "absent",
		},
	}

	rec := decodeAttendance(r)

	assert.Equal(t, "42", rec.ID)
	assert.Equal(t, "S1001", rec.StudentID)
	assert.Equal(t, "Ada", rec.StudentName)
	require.NotNil(t, rec.EntryTime)
	assert.Nil(t, rec.ExitTime)
	assert.Nil(t, rec.DurationMinutes)
	require.NotNil(t, rec.Confidence)
	assert.InDelta(t, 0.87, *rec.Confidence, 1e-9)
	assert.Equal(t, PresencePresent, ClassifyAttendance(rec))
}

func TestTimeField(t *testing.T) {
	want := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value any
		want  *time.Time
	}{
		{name: "rfc3339", value: "2025-03-10T09:00:00Z", want: &want},
		{name: "offset", value: "2025-03-10T10:00:00+01:00", want: &want},
		{name: "compact offset", value: "2025-03-10T10:00:00+0100", want: &want},
		{name: "space separated compact offset", value: "2025-03-10 09:00:00+0000", want: &want},
		{name: "naive is utc", value: "2025-03-10T09:00:00", want: &want},
		{name: "space separated", value: "2025-03-10 09:00:00", want: &want},
		{name: "unix seconds", value: json.Number("1741597200"), want: &want},
		{name: "unix millis", value: json.Number("1741597200000"), want: &want},
		{name: "float seconds", value: float64(1741597200), want: &want},
		{name: "null", value: nil, want: nil},
		{name: "empty string", value: "", want: nil},
		{name: "garbage", value: "last tuesday", want: nil},
		{name: "bool", value: true, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := timeField(map[string]any{"t": tt.value}, "t")
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, got.Equal(*tt.want), "got %v", got)
		})
	}
}

func TestLookupTime(t *testing.T) {
	tests := []struct {
		name        string
		value       any
		wantTime    bool
		wantInvalid bool
	}{
		{name: "missing", value: nil},
		{name: "blank", value: "   "},
		{name: "readable", value: "2025-03-10T09:00:00Z", wantTime: true},
		{name: "unreadable string", value: "last tuesday", wantInvalid: true},
		{name: "wrong type", value: true, wantInvalid: true},
		{name: "object", value: map[string]any{"t": 1}, wantInvalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, invalid := lookupTime(map[string]any{"t": tt.value}, "t")
			assert.Equal(t, tt.wantTime, got != nil)
			assert.Equal(t, tt.wantInvalid, invalid)
		})
	}
}

func TestBoolField(t *testing.T) {
	tests := []struct {
		value any
		want  bool
	}{
		{value: true, want: true},
		{value: false, want: false},
		{value: json.Number("1"), want: true},
		{value: json.Number("0"), want: false},
		{value: float64(1), want: true},
		{value: "TRUE", want: true},
		{value: "1", want: true},
		{value: "no", want: false},
		{value: nil, want: false},
		{value: []any{true}, want: false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, boolField(map[string]any{"b": tt.value}, "b"), "value %#v", tt.value)
	}
}

func TestStringField(t *testing.T) {
	p := map[string]any{
		"s":   "  room 1 ",
		"n":   json.Number("12"),
		"f":   float64(2.5),
		"b":   true,
		"obj": map[string]any{"x": 1},
	}

	assert.Equal(t, "room 1", stringField(p, "s"))
	assert.Equal(t, "12", stringField(p, "n"))
	assert.Equal(t, "2.5", stringField(p, "f"))
	assert.Equal(t, "true", stringField(p, "b"))
	assert.Equal(t, "", stringField(p, "obj"))
	assert.Equal(t, "", stringField(p, "missing"))
}

func TestFloatField(t *testing.T) {
	p := map[string]any{
		"n":   json.Number("45.5"),
		"s":   "12",
		"bad": "twelve",
	}

	require.NotNil(t, floatField(p, "n"))
	assert.Equal(t, 45.5, *floatField(p, "n"))
	require.NotNil(t, floatField(p, "s"))
	assert.Equal(t, 12.0, *floatField(p, "s"))
	assert.Nil(t, floatField(p, "bad"))
	assert.Nil(t, floatField(p, "missing"))
}
