package roomwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/roomwatch/internal/poller"
	"github.com/jpalmerr/roomwatch/internal/server"
	"github.com/jpalmerr/roomwatch/internal/store"
	"github.com/jpalmerr/roomwatch/internal/stream"
)

const (
	defaultDeviceInterval     = 10 * time.Second
	defaultAttendanceInterval = 30 * time.Second
	defaultAttendanceLimit    = 50
	defaultStaleness          = 60 * time.Second
	defaultRequestTimeout     = 10 * time.Second
)

// ErrAlreadyStarted is returned by [Monitor.Start] when called more than once.
var ErrAlreadyStarted = errors.New("monitor already started")

// Monitor keeps a reconciled, classified view of devices and attendance
// records.
//
// Two channels feed the view: periodic snapshot polling of the REST API and,
// optionally, a WebSocket push stream. Both submit candidate updates to a
// single reconciliation store where the newest observation of each resource
// wins. Reads return classified copies; nothing returned by a Monitor
// aliases its internal state.
//
// The typical lifecycle is:
//
//	m, err := roomwatch.New(
//	    roomwatch.WithBaseURL("http://localhost:8000/api/v1"),
//	    roomwatch.WithStreamURL("ws://localhost:8000/ws"),
//	)
//	if err != nil {
//	    slog.Error("failed to create monitor", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	m.Start(ctx) // blocks until context cancelled
//
// The getters are safe for concurrent use at any time, including before
// Start and after it returns.
type Monitor struct {
	baseURL        string
	streamURL      string
	sources        []source
	headers        map[string]string
	requestTimeout time.Duration
	staleness      time.Duration
	port           int
	allowedOrigins []string
	logger         *slog.Logger
	now            func() time.Time

	changeCallbacks    []func(Change)
	pollErrorCallbacks []func(PollError)
	connStateCallbacks []func(ConnectionState)

	store     *store.MemoryStore
	client    *poller.Client
	stream    *stream.Manager
	health    *healthTracker
	scheduler atomic.Pointer[poller.Scheduler]
	started   atomic.Bool
}

// New creates a new [Monitor] with the given options.
//
// [WithBaseURL] is required. Other options have defaults:
//   - Device polling: every 10 seconds
//   - Attendance polling: every 30 seconds, 50 most recent records
//   - Staleness threshold: 60 seconds
//   - Reconnect backoff: 1 second doubling up to 30 seconds
//   - Request timeout: 10 seconds
//
// The push channel and the JSON API are disabled unless [WithStreamURL] and
// [WithPort] are given.
func New(opts ...Option) (*Monitor, error) {
	cfg := &monitorConfig{
		devicesPath:        defaultDevicesPath,
		attendancePath:     defaultAttendancePath,
		deviceInterval:     defaultDeviceInterval,
		attendanceInterval: defaultAttendanceInterval,
		attendanceLimit:    defaultAttendanceLimit,
		staleness:          defaultStaleness,
		backoff:            stream.DefaultBackoff,
		requestTimeout:     defaultRequestTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.baseURL == "" {
		return nil, errors.New("base url is required")
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.now
	if now == nil {
		now = time.Now
	}

	m := &Monitor{
		baseURL:   cfg.baseURL,
		streamURL: cfg.streamURL,
		sources: []source{
			devicesSource(cfg.devicesPath, cfg.deviceInterval),
			attendanceSource(cfg.attendancePath, cfg.attendanceInterval, cfg.attendanceLimit),
		},
		headers:            copyMap(cfg.headers),
		requestTimeout:     cfg.requestTimeout,
		staleness:          cfg.staleness,
		port:               cfg.port,
		allowedOrigins:     cfg.allowedOrigins,
		logger:             logger,
		now:                now,
		changeCallbacks:    cfg.changeCallbacks,
		pollErrorCallbacks: cfg.pollErrorCallbacks,
		connStateCallbacks: cfg.connStateCallbacks,
		store:              store.NewMemoryStore(store.WithTombstoneTTL(tombstoneTTL(cfg))),
		client:             poller.NewClient(),
		health:             newHealthTracker(),
	}

	header := make(http.Header, len(m.headers))
	for k, v := range m.headers {
		header.Set(k, v)
	}
	manager, err := stream.NewManager(m.store, stream.Options{
		Header:        header,
		Backoff:       cfg.backoff,
		OnStateChange: m.handleStateChange,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	m.stream = manager

	return m, nil
}

// Start begins polling, connects the push channel and serves the JSON API.
//
// Start is a blocking call that runs until the provided context is
// cancelled. Both snapshot sources are fetched immediately and then at
// their intervals. On cancellation the push channel is closed, polling
// stops and in-flight fetches are aborted before Start returns.
//
// Returns nil on graceful shutdown, [ErrAlreadyStarted] on a second call,
// or an error if the HTTP server fails to start.
func (m *Monitor) Start(ctx context.Context) error {
	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	m.logger.Info("roomwatch starting",
		"base_url", m.baseURL,
		"stream_enabled", m.streamURL != "",
		"api_enabled", m.port != 0,
	)

	var (
		wg   sync.WaitGroup
		feed *store.Feed
	)
	if len(m.changeCallbacks) > 0 {
		feed = m.store.SubscribeFeed()
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Ready is closed by UnsubscribeFeed during cleanup
			for range feed.Ready() {
				m.dispatchChanges(feed.Drain())
			}
			m.dispatchChanges(feed.Drain())
		}()
	}

	scheduler := poller.NewScheduler(m.store, m.handlePollResult, m.logger)
	m.scheduler.Store(scheduler)

	cleanup := func() {
		m.stream.Disconnect()
		scheduler.Stop()
		if feed != nil {
			m.store.UnsubscribeFeed(feed)
		}
		wg.Wait()
		m.client.Close()
	}

	for _, src := range m.sources {
		fetch := src.fetchFunc(m.client, m.baseURL, m.headers, m.requestTimeout)
		if err := scheduler.Schedule(ctx, src.rt, src.interval, fetch); err != nil {
			cleanup()
			return fmt.Errorf("failed to schedule %s polling: %w", src.rt, err)
		}
		m.logger.Info("polling configured", "resource_type", src.rt.String(), "url", src.url(m.baseURL), "interval", src.interval.String())
	}

	if m.streamURL != "" {
		if err := m.stream.Connect(ctx, m.streamURL); err != nil {
			cleanup()
			return fmt.Errorf("failed to connect push channel: %w", err)
		}
	}

	if m.port != 0 {
		httpServer := server.NewServer(monitorView{m: m}, m.port, m.allowedOrigins, m.logger)
		if err := httpServer.Start(ctx); err != nil {
			cleanup()
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		m.logger.Info("api available", "url", fmt.Sprintf("http://localhost:%d/api", m.port))
	}

	<-ctx.Done()
	cleanup()
	m.logger.Info("roomwatch stopped")
	return nil
}

// Devices returns every known device, classified as of now, ordered by id.
func (m *Monitor) Devices() []Device {
	now := m.now()
	resources := m.store.GetAll(store.ResourceDevice)
	out := make([]Device, len(resources))
	for i, r := range resources {
		out[i] = m.classifyDevice(r, now)
	}
	return out
}

// Device returns the classified device with the given id.
func (m *Monitor) Device(id string) (Device, bool) {
	r, ok := m.store.Get(store.ResourceDevice, id)
	if !ok {
		return Device{}, false
	}
	return m.classifyDevice(r, m.now()), true
}

// AttendanceRecords returns every known attendance record, classified,
// ordered by id.
func (m *Monitor) AttendanceRecords() []AttendanceRecord {
	resources := m.store.GetAll(store.ResourceAttendanceRecord)
	out := make([]AttendanceRecord, len(resources))
	for i, r := range resources {
		out[i] = classifyRecord(r)
	}
	return out
}

// AttendanceRecord returns the classified record with the given id.
func (m *Monitor) AttendanceRecord(id string) (AttendanceRecord, bool) {
	r, ok := m.store.Get(store.ResourceAttendanceRecord, id)
	if !ok {
		return AttendanceRecord{}, false
	}
	return classifyRecord(r), true
}

// ConnectionState returns the current push-channel state.
func (m *Monitor) ConnectionState() ConnectionState {
	return ConnectionState(m.stream.State())
}

// Health reports per-source freshness and push-channel counters.
func (m *Monitor) Health() Health {
	now := m.now()
	h := Health{
		Connection:        m.ConnectionState(),
		StreamEnabled:     m.streamURL != "",
		ReceivedEnvelopes: m.stream.Received(),
		DroppedEnvelopes:  m.stream.Dropped(),
	}

	scheduler := m.scheduler.Load()
	for _, src := range m.sources {
		sh := m.health.source(src.rt, src.interval, now)
		if scheduler != nil {
			if stats, ok := scheduler.Stats(src.rt); ok {
				sh.Polls = stats.Fetches
				sh.SkippedPolls = stats.Skipped
			}
		}
		switch src.rt {
		case store.ResourceDevice:
			h.Devices = sh
		case store.ResourceAttendanceRecord:
			h.Attendance = sh
		}
	}
	return h
}

// Summary returns headline counts over the classified view.
func (m *Monitor) Summary() Summary {
	var s Summary
	for _, d := range m.Devices() {
		s.Devices++
		if d.Status == DeviceActive {
			s.ActiveDevices++
		} else {
			s.InactiveDevices++
		}
	}
	for _, r := range m.AttendanceRecords() {
		s.Records++
		if r.Status == PresencePresent {
			s.Present++
		} else {
			s.Absent++
		}
	}
	return s
}

func (m *Monitor) classifyDevice(r store.Resource, now time.Time) Device {
	d := decodeDevice(r)
	d.Status = ClassifyDevice(d, now, m.staleness)
	return d
}

func classifyRecord(r store.Resource) AttendanceRecord {
	rec := decodeAttendance(r)
	rec.Status = ClassifyAttendance(rec)
	return rec
}

// dispatchChanges hands each change to every registered change callback.
func (m *Monitor) dispatchChanges(changes []store.Change) {
	for _, c := range changes {
		change := changeFromStore(c)
		for _, cb := range m.changeCallbacks {
			invokeCallbackSafe(m.logger, "change", cb, change)
		}
	}
}

// handlePollResult records the fetch outcome and surfaces failures.
func (m *Monitor) handlePollResult(r poller.PollResult) {
	at := m.now()
	failures := m.health.record(r.Type, r.Error, at)
	if r.Error == nil {
		return
	}

	pe := PollError{
		Type:                ResourceType(r.Type),
		Err:                 r.Error,
		At:                  at,
		ConsecutiveFailures: failures,
	}
	for _, cb := range m.pollErrorCallbacks {
		invokeCallbackSafe(m.logger, "poll error", cb, pe)
	}
}

func (m *Monitor) handleStateChange(s stream.State) {
	m.logger.Info("connection state changed", "state", string(s))

	state := ConnectionState(s)
	for _, cb := range m.connStateCallbacks {
		invokeCallbackSafe(m.logger, "connection state", cb, state)
	}
}

// invokeCallbackSafe calls a user callback with panic recovery.
// Panics are logged with a correlation ID but do not propagate.
func invokeCallbackSafe[T any](logger *slog.Logger, kind string, cb func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("callback panicked",
				"callback", kind,
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()
	cb(v)
}

// tombstoneTTL keeps a deletion alive long enough to outlast any snapshot
// fetched before it, however slow the source or the request.
func tombstoneTTL(cfg *monitorConfig) time.Duration {
	ttl := 2 * (max(cfg.deviceInterval, cfg.attendanceInterval) + cfg.requestTimeout)
	return max(ttl, store.DefaultTombstoneTTL)
}

// copyMap returns a shallow copy of the map.
func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
