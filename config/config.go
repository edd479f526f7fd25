// Package config provides YAML configuration parsing for roomwatch.
//
// This package enables running roomwatch as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	api_url: http://localhost:8000/api/v1
//	stream_url: ws://localhost:8000/ws
//	port: 8080
//
//	devices:
//	  interval: 10s
//	attendance:
//	  interval: 30s
//	  limit: 50
//
//	headers:
//	  Authorization: "Bearer ${ROOMWATCH_TOKEN}"
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// minPollInterval is the minimum allowed polling interval for production configs.
// This prevents accidental DoS of the campus API with overly aggressive polling.
const minPollInterval = 1 * time.Second

// defaultPort is used by the standalone binary when no port is configured.
const defaultPort = 8080

// Config is the root configuration structure for roomwatch.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// APIURL is the REST base URL, e.g. http://localhost:8000/api/v1.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	APIURL string `yaml:"api_url"`

	// StreamURL is the optional WebSocket push channel URL (ws:// or wss://).
	// Leave empty to run on polling alone.
	StreamURL string `yaml:"stream_url"`

	// Port is the JSON API port. Defaults to 8080.
	Port int `yaml:"port"`

	// Devices configures the device snapshot source.
	Devices SourceConfig `yaml:"devices"`

	// Attendance configures the attendance snapshot source.
	Attendance SourceConfig `yaml:"attendance"`

	// StalenessThreshold is how old a device heartbeat may be before the
	// device counts as inactive. Defaults to 60s.
	StalenessThreshold Duration `yaml:"staleness_threshold"`

	// RequestTimeout bounds each snapshot request. Defaults to 10s.
	RequestTimeout Duration `yaml:"request_timeout"`

	// Reconnect controls the push channel reconnect backoff.
	Reconnect BackoffConfig `yaml:"reconnect"`

	// Headers are sent with every snapshot request and the stream handshake.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// AllowedOrigins lists CORS origins for the JSON API.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`
}

// SourceConfig overrides the path and cadence of one snapshot source.
type SourceConfig struct {
	// Path is appended to APIURL. Empty keeps the built-in path.
	Path string `yaml:"path"`

	// Interval is the polling interval. Must be between 1s and 1h if set.
	Interval Duration `yaml:"interval"`

	// Limit is the page size query parameter (attendance only).
	Limit int `yaml:"limit"`
}

// BackoffConfig is the exponential reconnect delay range.
type BackoffConfig struct {
	Base Duration `yaml:"base"`
	Max  Duration `yaml:"max"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment so they are visible to ${VAR} expansion. Variables already set
// in the environment win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in APIURL, StreamURL and header values.
// Port defaults to 8080 and LogLevel to info; every other zero value keeps
// the SDK default.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.APIURL == "" {
		return errors.New("api_url is required")
	}
	expanded, err := expandEnvVars(c.APIURL)
	if err != nil {
		return fmt.Errorf("api_url: %w", err)
	}
	c.APIURL = expanded
	if err := validateURL("api_url", c.APIURL, "http", "https"); err != nil {
		return err
	}

	if c.StreamURL != "" {
		expanded, err := expandEnvVars(c.StreamURL)
		if err != nil {
			return fmt.Errorf("stream_url: %w", err)
		}
		c.StreamURL = expanded
		// an empty expansion disables the stream
		if c.StreamURL != "" {
			if err := validateURL("stream_url", c.StreamURL, "ws", "wss"); err != nil {
				return err
			}
		}
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if err := validateSource("devices", c.Devices); err != nil {
		return err
	}
	if err := validateSource("attendance", c.Attendance); err != nil {
		return err
	}
	if c.Devices.Limit != 0 {
		return errors.New("devices: limit is only supported for attendance")
	}

	if c.StalenessThreshold.Duration() < 0 {
		return fmt.Errorf("staleness_threshold cannot be negative, got %s", c.StalenessThreshold.Duration())
	}

	if c.RequestTimeout != 0 && c.RequestTimeout.Duration() < time.Second {
		return fmt.Errorf("request_timeout must be at least 1s if specified, got %s", c.RequestTimeout.Duration())
	}

	if c.Reconnect.Base != 0 || c.Reconnect.Max != 0 {
		if c.Reconnect.Base.Duration() <= 0 {
			return errors.New("reconnect: base must be positive")
		}
		if c.Reconnect.Max.Duration() < c.Reconnect.Base.Duration() {
			return fmt.Errorf("reconnect: max (%s) must not be below base (%s)",
				c.Reconnect.Max.Duration(), c.Reconnect.Base.Duration())
		}
	}

	for k, v := range c.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("headers[%s]: %w", k, err)
		}
		c.Headers[k] = expanded
	}

	for i, origin := range c.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			return fmt.Errorf("allowed_origins[%d]: origin cannot be empty", i)
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: invalid url: %w", field, err)
	}
	if parsed.Scheme == "" {
		return fmt.Errorf("%s: url must have a scheme (%s://)", field, strings.Join(schemes, ":// or "))
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			if parsed.Host == "" {
				return fmt.Errorf("%s: url must have a host", field)
			}
			return nil
		}
	}
	return fmt.Errorf("%s: url scheme must be %s, got %q", field, strings.Join(schemes, " or "), parsed.Scheme)
}

func validateSource(name string, s SourceConfig) error {
	if s.Interval != 0 {
		if s.Interval.Duration() < minPollInterval {
			return fmt.Errorf("%s: interval must be at least %s, got %s", name, minPollInterval, s.Interval.Duration())
		}
		if s.Interval.Duration() > time.Hour {
			return fmt.Errorf("%s: interval must not exceed 1h, got %s", name, s.Interval.Duration())
		}
	}
	if s.Limit < 0 {
		return fmt.Errorf("%s: limit cannot be negative, got %d", name, s.Limit)
	}
	return nil
}
