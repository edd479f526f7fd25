package roomwatch

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jpalmerr/roomwatch/internal/stream"
)

// monitorConfig holds mutable state during Monitor construction.
type monitorConfig struct {
	baseURL        string
	streamURL      string
	devicesPath    string
	attendancePath string

	deviceInterval     time.Duration
	attendanceInterval time.Duration
	attendanceLimit    int
	staleness          time.Duration
	backoff            stream.Backoff
	requestTimeout     time.Duration
	headers            map[string]string

	port           int
	allowedOrigins []string

	logger *slog.Logger
	now    func() time.Time

	changeCallbacks    []func(Change)
	pollErrorCallbacks []func(PollError)
	connStateCallbacks []func(ConnectionState)
}

// Option is a function that configures a [Monitor] instance during construction.
//
// Option implements the functional options pattern. Options return an error
// if validation fails; [New] stops at the first failing option.
type Option func(*monitorConfig) error

// WithBaseURL sets the base URL of the backend REST API. Required.
//
// Snapshots are fetched from {base}/devices and
// {base}/attendance/records?limit=N unless the paths are overridden.
//
// Example:
//
//	m, err := roomwatch.New(
//	    roomwatch.WithBaseURL("http://localhost:8000/api/v1"),
//	)
//
// Returns an error if the URL is not absolute http or https.
func WithBaseURL(rawURL string) Option {
	return func(cfg *monitorConfig) error {
		if err := checkURL(rawURL, "http", "https"); err != nil {
			return fmt.Errorf("base url: %w", err)
		}
		cfg.baseURL = rawURL
		return nil
	}
}

// WithStreamURL enables the push channel at the given WebSocket URL.
//
// Without it the Monitor relies on polling alone and the connection state
// stays disconnected.
//
// Returns an error unless the URL uses the ws or wss scheme.
func WithStreamURL(rawURL string) Option {
	return func(cfg *monitorConfig) error {
		if err := checkURL(rawURL, "ws", "wss"); err != nil {
			return fmt.Errorf("stream url: %w", err)
		}
		cfg.streamURL = rawURL
		return nil
	}
}

// WithDevicesPath overrides the device snapshot path relative to the base URL.
func WithDevicesPath(path string) Option {
	return func(cfg *monitorConfig) error {
		if path == "" {
			return errors.New("devices path cannot be empty")
		}
		cfg.devicesPath = path
		return nil
	}
}

// WithAttendancePath overrides the attendance snapshot path relative to the
// base URL.
func WithAttendancePath(path string) Option {
	return func(cfg *monitorConfig) error {
		if path == "" {
			return errors.New("attendance path cannot be empty")
		}
		cfg.attendancePath = path
		return nil
	}
}

// WithDeviceInterval sets how often the device list is polled.
// Defaults to 10 seconds.
//
// Returns an error if the duration is zero or negative.
func WithDeviceInterval(d time.Duration) Option {
	return func(cfg *monitorConfig) error {
		if d <= 0 {
			return errors.New("device interval must be positive")
		}
		cfg.deviceInterval = d
		return nil
	}
}

// WithAttendanceInterval sets how often attendance records are polled.
// Defaults to 30 seconds.
//
// Returns an error if the duration is zero or negative.
func WithAttendanceInterval(d time.Duration) Option {
	return func(cfg *monitorConfig) error {
		if d <= 0 {
			return errors.New("attendance interval must be positive")
		}
		cfg.attendanceInterval = d
		return nil
	}
}

// WithAttendanceLimit sets the number of most recent records requested per
// poll. Defaults to 50.
func WithAttendanceLimit(n int) Option {
	return func(cfg *monitorConfig) error {
		if n <= 0 {
			return errors.New("attendance limit must be positive")
		}
		cfg.attendanceLimit = n
		return nil
	}
}

// WithStalenessThreshold sets how long after its last heartbeat a device
// self-reporting "active" is still shown as active. Defaults to 60 seconds.
func WithStalenessThreshold(d time.Duration) Option {
	return func(cfg *monitorConfig) error {
		if d <= 0 {
			return errors.New("staleness threshold must be positive")
		}
		cfg.staleness = d
		return nil
	}
}

// WithReconnectBackoff sets the push-channel reconnect delays: base after the
// first failure, doubling up to max. Defaults to 1s and 30s.
func WithReconnectBackoff(base, max time.Duration) Option {
	return func(cfg *monitorConfig) error {
		b := stream.Backoff{Base: base, Max: max}
		if err := b.Validate(); err != nil {
			return err
		}
		cfg.backoff = b
		return nil
	}
}

// WithRequestTimeout sets the per-request timeout for snapshot fetches.
// Defaults to 10 seconds.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *monitorConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithHeaders adds HTTP headers sent with every snapshot request and with the
// push-channel handshake.
//
// Headers are forwarded as given; the Monitor never obtains or refreshes
// credentials itself.
//
// Example:
//
//	roomwatch.WithHeaders("Authorization", "Bearer "+token)
//
// Returns an error for an odd number of arguments.
func WithHeaders(keyValues ...string) Option {
	return func(cfg *monitorConfig) error {
		if len(keyValues)%2 != 0 {
			return errors.New("WithHeaders requires an even number of arguments (key-value pairs)")
		}
		if cfg.headers == nil {
			cfg.headers = make(map[string]string, len(keyValues)/2)
		}
		for i := 0; i < len(keyValues); i += 2 {
			cfg.headers[keyValues[i]] = keyValues[i+1]
		}
		return nil
	}
}

// WithPort enables the JSON API on the given port.
//
// The API is disabled unless this option is set.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *monitorConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithAllowedOrigins restricts the CORS origins of the JSON API. When not
// set, any origin is allowed.
func WithAllowedOrigins(origins ...string) Option {
	return func(cfg *monitorConfig) error {
		for _, o := range origins {
			if o == "" {
				return errors.New("allowed origin cannot be empty")
			}
		}
		cfg.allowedOrigins = append(cfg.allowedOrigins, origins...)
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the Monitor.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *monitorConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithClock replaces the time source used for classification and health.
func WithClock(now func() time.Time) Option {
	return func(cfg *monitorConfig) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		cfg.now = now
		return nil
	}
}

// WithChangeCallback registers a function called whenever a device or
// attendance record is inserted, replaced or removed.
//
// Callbacks run sequentially on a single goroutine, in registration order.
// No change is lost to a slow callback: changes to the same resource that
// pile up while it runs are delivered once, so a callback sees the latest
// state rather than every step. Read that state with [Monitor.Devices] or
// [Monitor.AttendanceRecords]. Panics are recovered and logged.
//
// Nil callbacks are silently ignored.
func WithChangeCallback(cb func(Change)) Option {
	return func(cfg *monitorConfig) error {
		if cb == nil {
			return nil
		}
		cfg.changeCallbacks = append(cfg.changeCallbacks, cb)
		return nil
	}
}

// WithPollErrorCallback registers a function called after every failed
// snapshot fetch. Polling continues regardless.
//
// Fetches for different resource types run concurrently, so the callback may
// be invoked concurrently. Panics are recovered and logged.
//
// Nil callbacks are silently ignored.
func WithPollErrorCallback(cb func(PollError)) Option {
	return func(cfg *monitorConfig) error {
		if cb == nil {
			return nil
		}
		cfg.pollErrorCallbacks = append(cfg.pollErrorCallbacks, cb)
		return nil
	}
}

// WithConnectionStateCallback registers a function called on every
// push-channel state transition. Panics are recovered and logged.
//
// Nil callbacks are silently ignored.
func WithConnectionStateCallback(cb func(ConnectionState)) Option {
	return func(cfg *monitorConfig) error {
		if cb == nil {
			return nil
		}
		cfg.connStateCallbacks = append(cfg.connStateCallbacks, cb)
		return nil
	}
}

func checkURL(rawURL string, schemes ...string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return errors.New("must be an absolute URL with a host")
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be one of %v, got %q", schemes, u.Scheme)
}
