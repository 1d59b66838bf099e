// Package config loads and validates the service configuration from a
// JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
)

// maxConfigSize bounds the config file to catch accidental reads of the
// wrong file.
const maxConfigSize = 1 << 20

// Duration is a time.Duration that marshals as a string like "100ms".
type Duration time.Duration

// UnmarshalJSON parses either a duration string or a number of
// nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(v))
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig holds the WebSocket server settings.
type ServerConfig struct {
	Port         int      `json:"port"`
	Path         string   `json:"path"`
	PollInterval Duration `json:"poll_interval"`
	PingInterval Duration `json:"ping_interval"`
	WriteTimeout Duration `json:"write_timeout"`
	ReadLimit    int64    `json:"read_limit"`
}

// SpectrumConfig holds the spectral pipeline settings.
type SpectrumConfig struct {
	Bins          int      `json:"bins"`
	CenterHz      float64  `json:"center_hz"`
	SpanHz        float64  `json:"span_hz"`
	QueueLowWater int      `json:"queue_low_water"`
	QueueCapacity int      `json:"queue_capacity"`
	WaitTimeout   Duration `json:"wait_timeout"`
}

// NATSConfig holds the IQ sample source settings. An empty URL disables
// the source.
type NATSConfig struct {
	URL           string   `json:"url"`
	Subject       string   `json:"subject"`
	Name          string   `json:"name"`
	ReconnectWait Duration `json:"reconnect_wait"`
}

// AuthConfig holds token verification settings. An empty secret disables
// authentication; every client is then unprivileged.
type AuthConfig struct {
	Secret string `json:"secret,omitempty"`
}

// LoggingConfig holds log output settings. Verbosity follows the
// receiver's scale: 0 off, 1 trace, 2 debug, 3 info, 4-5 warn,
// 6 critical.
type LoggingConfig struct {
	Verbosity int    `json:"verbosity"`
	Format    string `json:"format"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Spectrum SpectrumConfig `json:"spectrum"`
	NATS     NATSConfig     `json:"nats"`
	Auth     AuthConfig     `json:"auth,omitempty"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
	// ShutdownTimeout bounds the whole shutdown sequence.
	ShutdownTimeout Duration `json:"shutdown_timeout"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:         8090,
			Path:         "/ws",
			PollInterval: Duration(50 * time.Millisecond),
			PingInterval: Duration(30 * time.Second),
			WriteTimeout: Duration(5 * time.Second),
			ReadLimit:    4096,
		},
		Spectrum: SpectrumConfig{
			Bins:          512,
			CenterHz:      52_000_000,
			SpanHz:        2_000_000,
			QueueLowWater: 5,
			QueueCapacity: 32,
			WaitTimeout:   Duration(100 * time.Millisecond),
		},
		NATS: NATSConfig{
			URL:           "",
			Subject:       "rpx.iq.samples",
			Name:          "rpx-spectrum",
			ReconnectWait: Duration(2 * time.Second),
		},
		Logging: LoggingConfig{
			Verbosity: 3,
			Format:    "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9100,
			Path:    "/metrics",
		},
		ShutdownTimeout: Duration(10 * time.Second),
	}
}

// Load reads and validates a configuration file, filling unset sections
// with defaults.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "config", "Load", fmt.Sprintf("stat %s", path))
	}
	if info.Size() > maxConfigSize {
		return nil, errors.WrapInvalid(
			fmt.Errorf("config file %s is %d bytes, limit %d", path, info.Size(), maxConfigSize),
			"config", "Load", "check file size")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config", "Load", fmt.Sprintf("read %s", path))
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", fmt.Sprintf("parse %s", path))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return invalid("server.port %d out of range", c.Server.Port)
	}
	if c.Server.Path == "" || c.Server.Path[0] != '/' {
		return invalid("server.path %q must start with /", c.Server.Path)
	}
	if c.Server.PollInterval <= 0 {
		return invalid("server.poll_interval must be positive")
	}
	if c.Spectrum.Bins <= 0 {
		return invalid("spectrum.bins must be positive")
	}
	if c.Spectrum.QueueLowWater < 0 {
		return invalid("spectrum.queue_low_water cannot be negative")
	}
	if c.Spectrum.QueueCapacity <= c.Spectrum.QueueLowWater {
		return invalid("spectrum.queue_capacity %d must exceed queue_low_water %d",
			c.Spectrum.QueueCapacity, c.Spectrum.QueueLowWater)
	}
	if c.Spectrum.WaitTimeout <= 0 {
		return invalid("spectrum.wait_timeout must be positive")
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return invalid("nats.subject is required when nats.url is set")
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return invalid("logging.format %q must be text or json", c.Logging.Format)
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return invalid("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Metrics.Enabled && c.Metrics.Port == c.Server.Port {
		return invalid("metrics.port must differ from server.port")
	}
	if c.ShutdownTimeout <= 0 {
		return invalid("shutdown_timeout must be positive")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf(format, args...), "config", "Validate", "check configuration")
}
