package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sensor backends.
const (
	SensorBackendSensorFW = "sensorfw"
	SensorBackendNone     = "none"
)

const (
	DefaultLauncherApp = "com.android.launcher3"
	DefaultSystemUIApp = "com.android.systemui"
)

// SensorConfig selects the host accelerometer source.
type SensorConfig struct {
	Backend  string        `yaml:"backend"`
	Interval time.Duration `yaml:"interval"`
}

// InputConfig controls touch injection through uinput.
type InputConfig struct {
	Enabled bool `yaml:"enabled"`
	// Device overrides the uinput device path search.
	Device string `yaml:"device,omitempty"`
}

// Config is the effective daemon configuration.
type Config struct {
	RuntimeDir string `yaml:"runtime_dir"`

	SocketTimeout          time.Duration `yaml:"socket_timeout"`
	UnfocusedSocketTimeout time.Duration `yaml:"unfocused_socket_timeout"`
	DummyRenderAfter       time.Duration `yaml:"dummy_render_after"`
	AckPollInterval        time.Duration `yaml:"ack_poll_interval"`
	AppSocketTimeout       time.Duration `yaml:"app_socket_timeout"`
	SensorSocketTimeout    time.Duration `yaml:"sensor_socket_timeout"`

	FramesSkippedAfterFocus int      `yaml:"frames_skipped_after_focus"`
	LauncherApp             string   `yaml:"launcher_app"`
	Blacklist               []string `yaml:"blacklist"`
	SwipeEdgePercent        int      `yaml:"swipe_edge_percent"`

	AmPath       string        `yaml:"am_path"`
	PowerupPath  string        `yaml:"powerup_path"`
	WakeInterval time.Duration `yaml:"wake_interval"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	Sensor SensorConfig `yaml:"sensor"`
	Input  InputConfig  `yaml:"input"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		RuntimeDir:              "/tmp/sfdroid",
		SocketTimeout:           250 * time.Millisecond,
		UnfocusedSocketTimeout:  24 * time.Hour,
		DummyRenderAfter:        250 * time.Millisecond,
		AckPollInterval:         50 * time.Millisecond,
		AppSocketTimeout:        time.Second,
		SensorSocketTimeout:     250 * time.Millisecond,
		FramesSkippedAfterFocus: 30,
		LauncherApp:             DefaultLauncherApp,
		Blacklist:               []string{DefaultLauncherApp, DefaultSystemUIApp},
		SwipeEdgePercent:        4,
		AmPath:                  "/usr/bin/am",
		PowerupPath:             "/usr/bin/sfdroid_powerup",
		WakeInterval:            time.Second,
		LogLevel:                "info",
		Sensor: SensorConfig{
			Backend:  SensorBackendSensorFW,
			Interval: 100 * time.Millisecond,
		},
		Input: InputConfig{Enabled: true},
	}
}

// Validate checks the effective config.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RuntimeDir) == "" {
		return &ValidationError{Path: "runtime_dir", Err: fmt.Errorf("runtime_dir is required")}
	}
	if !filepath.IsAbs(c.RuntimeDir) {
		return &ValidationError{Path: "runtime_dir", Err: fmt.Errorf("runtime_dir must be an absolute path")}
	}

	durations := []struct {
		path string
		d    time.Duration
	}{
		{"socket_timeout", c.SocketTimeout},
		{"unfocused_socket_timeout", c.UnfocusedSocketTimeout},
		{"dummy_render_after", c.DummyRenderAfter},
		{"ack_poll_interval", c.AckPollInterval},
		{"app_socket_timeout", c.AppSocketTimeout},
		{"sensor_socket_timeout", c.SensorSocketTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return &ValidationError{Path: d.path, Err: fmt.Errorf("%s must be > 0", d.path)}
		}
	}
	if c.WakeInterval < 0 {
		return &ValidationError{Path: "wake_interval", Err: fmt.Errorf("wake_interval must be >= 0")}
	}

	if c.FramesSkippedAfterFocus < 0 {
		return &ValidationError{Path: "frames_skipped_after_focus", Err: fmt.Errorf("frames_skipped_after_focus must be >= 0")}
	}
	if strings.TrimSpace(c.LauncherApp) == "" {
		return &ValidationError{Path: "launcher_app", Err: fmt.Errorf("launcher_app is required")}
	}
	if strings.ContainsAny(c.LauncherApp, "/ ") {
		return &ValidationError{Path: "launcher_app", Err: fmt.Errorf("launcher_app must be a package name")}
	}
	for _, app := range c.Blacklist {
		if strings.TrimSpace(app) == "" {
			return &ValidationError{Path: "blacklist", Err: fmt.Errorf("blacklist contains an empty app name")}
		}
	}
	if c.SwipeEdgePercent < 0 || c.SwipeEdgePercent >= 50 {
		return &ValidationError{Path: "swipe_edge_percent", Err: fmt.Errorf("swipe_edge_percent must be between 0 and 49")}
	}
	if strings.TrimSpace(c.AmPath) == "" {
		return &ValidationError{Path: "am_path", Err: fmt.Errorf("am_path is required")}
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return &ValidationError{Path: "log_level", Err: err}
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return &ValidationError{Path: "metrics_addr", Err: fmt.Errorf("metrics_addr must be host:port: %w", err)}
		}
	}

	switch c.Sensor.Backend {
	case SensorBackendSensorFW, SensorBackendNone:
	default:
		return &ValidationError{Path: "sensor.backend", Err: fmt.Errorf("sensor.backend must be one of: sensorfw, none")}
	}
	if c.Sensor.Interval <= 0 {
		return &ValidationError{Path: "sensor.interval", Err: fmt.Errorf("sensor.interval must be > 0")}
	}
	return nil
}

// ParseLogLevel maps a log_level value to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level must be one of: debug, info, warn, error")
}

// SlogLevel returns the configured level, or Info if it is invalid.
func (c *Config) SlogLevel() slog.Level {
	level, _ := ParseLogLevel(c.LogLevel)
	return level
}

// Blacklisted reports whether app never gets a window of its own.
func (c *Config) Blacklisted(app string) bool {
	for _, b := range c.Blacklist {
		if b == app {
			return true
		}
	}
	return false
}

// Save writes the configuration to path.
//
// Note: this marshals the effective config and will not preserve comments or
// include structure from the original YAML.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
