package config

import (
	"sort"

	"github.com/jpalmerr/roomwatch"
)

// BuildOptions converts parsed configuration into SDK options.
//
// Zero-valued fields are skipped so the SDK defaults apply. The logger and
// callbacks are left to the caller.
func BuildOptions(cfg *Config) []roomwatch.Option {
	opts := []roomwatch.Option{
		roomwatch.WithBaseURL(cfg.APIURL),
		roomwatch.WithPort(cfg.Port),
	}

	if cfg.StreamURL != "" {
		opts = append(opts, roomwatch.WithStreamURL(cfg.StreamURL))
	}

	if cfg.Devices.Path != "" {
		opts = append(opts, roomwatch.WithDevicesPath(cfg.Devices.Path))
	}
	if cfg.Devices.Interval != 0 {
		opts = append(opts, roomwatch.WithDeviceInterval(cfg.Devices.Interval.Duration()))
	}

	if cfg.Attendance.Path != "" {
		opts = append(opts, roomwatch.WithAttendancePath(cfg.Attendance.Path))
	}
	if cfg.Attendance.Interval != 0 {
		opts = append(opts, roomwatch.WithAttendanceInterval(cfg.Attendance.Interval.Duration()))
	}
	if cfg.Attendance.Limit != 0 {
		opts = append(opts, roomwatch.WithAttendanceLimit(cfg.Attendance.Limit))
	}

	if cfg.StalenessThreshold != 0 {
		opts = append(opts, roomwatch.WithStalenessThreshold(cfg.StalenessThreshold.Duration()))
	}
	if cfg.RequestTimeout != 0 {
		opts = append(opts, roomwatch.WithRequestTimeout(cfg.RequestTimeout.Duration()))
	}
	if cfg.Reconnect.Base != 0 {
		opts = append(opts, roomwatch.WithReconnectBackoff(cfg.Reconnect.Base.Duration(), cfg.Reconnect.Max.Duration()))
	}

	if len(cfg.Headers) > 0 {
		opts = append(opts, roomwatch.WithHeaders(mapToKeyValuePairs(cfg.Headers)...))
	}
	if len(cfg.AllowedOrigins) > 0 {
		opts = append(opts, roomwatch.WithAllowedOrigins(cfg.AllowedOrigins...))
	}

	return opts
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
