package config

import (
	"fmt"
)

type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// BuildEffectiveConfig applies raw on top of the defaults.
func BuildEffectiveConfig(raw RawConfig) (*Config, error) {
	cfg := DefaultConfig()

	setVal(&cfg.RuntimeDir, raw.RuntimeDir)
	setVal(&cfg.SocketTimeout, raw.SocketTimeout)
	setVal(&cfg.UnfocusedSocketTimeout, raw.UnfocusedSocketTimeout)
	setVal(&cfg.DummyRenderAfter, raw.DummyRenderAfter)
	setVal(&cfg.AckPollInterval, raw.AckPollInterval)
	setVal(&cfg.AppSocketTimeout, raw.AppSocketTimeout)
	setVal(&cfg.SensorSocketTimeout, raw.SensorSocketTimeout)
	setVal(&cfg.FramesSkippedAfterFocus, raw.FramesSkippedAfterFocus)
	setVal(&cfg.LauncherApp, raw.LauncherApp)
	setVal(&cfg.SwipeEdgePercent, raw.SwipeEdgePercent)
	setVal(&cfg.AmPath, raw.AmPath)
	setVal(&cfg.PowerupPath, raw.PowerupPath)
	setVal(&cfg.WakeInterval, raw.WakeInterval)
	setVal(&cfg.LogLevel, raw.LogLevel)
	setVal(&cfg.MetricsAddr, raw.MetricsAddr)

	if raw.Blacklist != nil {
		cfg.Blacklist = append([]string{}, (*raw.Blacklist)...)
	}

	if raw.Sensor != nil {
		setVal(&cfg.Sensor.Backend, raw.Sensor.Backend)
		setVal(&cfg.Sensor.Interval, raw.Sensor.Interval)
	}
	if raw.Input != nil {
		setVal(&cfg.Input.Enabled, raw.Input.Enabled)
		setVal(&cfg.Input.Device, raw.Input.Device)
	}
	return cfg, nil
}

func setVal[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
