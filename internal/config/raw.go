package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// IncludeList supports either:
//
//	include: "/path/to/file.yaml"
//
// or:
//
//	include:
//	  - "/path/to/file.yaml"
//	  - "/path/to/dir"
type IncludeList []string

func (l *IncludeList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case 0:
		// Not present.
		*l = nil
		return nil
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("include must be a string or list of strings")
		}
		*l = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return fmt.Errorf("include entries must be strings")
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("include must be a string or list of strings")
	}
}

type RawSensorConfig struct {
	Backend  *string        `yaml:"backend"`
	Interval *time.Duration `yaml:"interval"`
}

type RawInputConfig struct {
	Enabled *bool   `yaml:"enabled"`
	Device  *string `yaml:"device"`
}

// RawConfig is one file as written. Nil fields were not set.
type RawConfig struct {
	Include IncludeList `yaml:"include"`

	RuntimeDir *string `yaml:"runtime_dir"`

	SocketTimeout          *time.Duration `yaml:"socket_timeout"`
	UnfocusedSocketTimeout *time.Duration `yaml:"unfocused_socket_timeout"`
	DummyRenderAfter       *time.Duration `yaml:"dummy_render_after"`
	AckPollInterval        *time.Duration `yaml:"ack_poll_interval"`
	AppSocketTimeout       *time.Duration `yaml:"app_socket_timeout"`
	SensorSocketTimeout    *time.Duration `yaml:"sensor_socket_timeout"`

	FramesSkippedAfterFocus *int      `yaml:"frames_skipped_after_focus"`
	LauncherApp             *string   `yaml:"launcher_app"`
	Blacklist               *[]string `yaml:"blacklist"`
	SwipeEdgePercent        *int      `yaml:"swipe_edge_percent"`

	AmPath       *string        `yaml:"am_path"`
	PowerupPath  *string        `yaml:"powerup_path"`
	WakeInterval *time.Duration `yaml:"wake_interval"`

	LogLevel    *string `yaml:"log_level"`
	MetricsAddr *string `yaml:"metrics_addr"`

	Sensor *RawSensorConfig `yaml:"sensor"`
	Input  *RawInputConfig  `yaml:"input"`
}

// merge returns r with every field set in overlay replaced.
func (r RawConfig) merge(overlay RawConfig) RawConfig {
	out := r
	out.Include = nil

	setPtr(&out.RuntimeDir, overlay.RuntimeDir)
	setPtr(&out.SocketTimeout, overlay.SocketTimeout)
	setPtr(&out.UnfocusedSocketTimeout, overlay.UnfocusedSocketTimeout)
	setPtr(&out.DummyRenderAfter, overlay.DummyRenderAfter)
	setPtr(&out.AckPollInterval, overlay.AckPollInterval)
	setPtr(&out.AppSocketTimeout, overlay.AppSocketTimeout)
	setPtr(&out.SensorSocketTimeout, overlay.SensorSocketTimeout)
	setPtr(&out.FramesSkippedAfterFocus, overlay.FramesSkippedAfterFocus)
	setPtr(&out.LauncherApp, overlay.LauncherApp)
	setPtr(&out.Blacklist, overlay.Blacklist)
	setPtr(&out.SwipeEdgePercent, overlay.SwipeEdgePercent)
	setPtr(&out.AmPath, overlay.AmPath)
	setPtr(&out.PowerupPath, overlay.PowerupPath)
	setPtr(&out.WakeInterval, overlay.WakeInterval)
	setPtr(&out.LogLevel, overlay.LogLevel)
	setPtr(&out.MetricsAddr, overlay.MetricsAddr)

	if overlay.Sensor != nil {
		merged := RawSensorConfig{}
		if out.Sensor != nil {
			merged = *out.Sensor
		}
		setPtr(&merged.Backend, overlay.Sensor.Backend)
		setPtr(&merged.Interval, overlay.Sensor.Interval)
		out.Sensor = &merged
	}
	if overlay.Input != nil {
		merged := RawInputConfig{}
		if out.Input != nil {
			merged = *out.Input
		}
		setPtr(&merged.Enabled, overlay.Input.Enabled)
		setPtr(&merged.Device, overlay.Input.Device)
		out.Input = &merged
	}
	return out
}

func setPtr[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}
