package roomwatch

import (
	"sync"
	"time"

	"github.com/jpalmerr/roomwatch/internal/store"
)

// staleFactor is how many polling intervals may pass without a successful
// fetch before a source is reported stale.
const staleFactor = 2

// PollError describes a failed snapshot fetch.
type PollError struct {
	// Type is the resource type whose fetch failed.
	Type ResourceType

	// Err is the transport, status or decoding error.
	Err error

	// At is when the failure was observed.
	At time.Time

	// ConsecutiveFailures counts failures since the last success,
	// including this one.
	ConsecutiveFailures int
}

// SourceHealth reports the freshness of one polled resource type.
type SourceHealth struct {
	// Available is true once at least one fetch has succeeded.
	Available bool `json:"available"`

	// Stale is true when no fetch has succeeded within two polling
	// intervals, including before the first success.
	Stale bool `json:"stale"`

	// Degraded is true while the most recent fetch failed.
	Degraded bool `json:"degraded"`

	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	LastErrorAt         *time.Time `json:"last_error_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`

	IntervalSeconds float64 `json:"interval_seconds"`
	Polls           int64   `json:"polls"`
	SkippedPolls    int64   `json:"skipped_polls"`
}

// Health is a point-in-time view of both channels.
type Health struct {
	Devices    SourceHealth `json:"devices"`
	Attendance SourceHealth `json:"attendance"`

	Connection    ConnectionState `json:"connection"`
	StreamEnabled bool            `json:"stream_enabled"`

	ReceivedEnvelopes int64 `json:"received_envelopes"`
	DroppedEnvelopes  int64 `json:"dropped_envelopes"`
}

// Summary holds headline counts over the classified view.
type Summary struct {
	Devices         int `json:"devices"`
	ActiveDevices   int `json:"active_devices"`
	InactiveDevices int `json:"inactive_devices"`

	Records int `json:"records"`
	Present int `json:"present"`
	Absent  int `json:"absent"`
}

type sourceState struct {
	lastSuccess time.Time
	lastErrorAt time.Time
	lastError   string
	failures    int
}

// healthTracker folds poll results into per-source state.
type healthTracker struct {
	mu      sync.Mutex
	sources map[store.ResourceType]*sourceState
}

func newHealthTracker() *healthTracker {
	return &healthTracker{sources: make(map[store.ResourceType]*sourceState)}
}

// record applies the outcome of one fetch of rt completed at and returns the
// consecutive failure count after it.
func (h *healthTracker) record(rt store.ResourceType, err error, at time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.sources[rt]
	if !ok {
		st = &sourceState{}
		h.sources[rt] = st
	}

	if err != nil {
		st.failures++
		st.lastError = err.Error()
		st.lastErrorAt = at
		return st.failures
	}

	st.failures = 0
	st.lastSuccess = at
	return 0
}

// source reports the health of rt as of now.
func (h *healthTracker) source(rt store.ResourceType, interval time.Duration, now time.Time) SourceHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	sh := SourceHealth{IntervalSeconds: interval.Seconds(), Stale: true}

	st, ok := h.sources[rt]
	if !ok {
		return sh
	}

	sh.ConsecutiveFailures = st.failures
	sh.Degraded = st.failures > 0
	sh.LastError = st.lastError

	if !st.lastErrorAt.IsZero() {
		t := st.lastErrorAt
		sh.LastErrorAt = &t
	}
	if !st.lastSuccess.IsZero() {
		t := st.lastSuccess
		sh.LastSuccess = &t
		sh.Available = true
		sh.Stale = now.Sub(st.lastSuccess) > staleFactor*interval
	}
	return sh
}
