//go:build linux

package daemon

import (
	"io"
	"log/slog"

	"github.com/1broseidon/droidrelay/internal/appctl"
	"github.com/1broseidon/droidrelay/internal/config"
	"github.com/1broseidon/droidrelay/internal/metrics"
	"github.com/1broseidon/droidrelay/internal/platform"
	"github.com/1broseidon/droidrelay/internal/sensors"
	"github.com/1broseidon/droidrelay/internal/uinput"
)

// NewFromConfig connects to the X server and the system bus and builds a
// daemon with the real collaborators.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, level *slog.LevelVar) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fatal(CodeConfig, "validate config", err)
	}

	backend, err := platform.NewLinuxBackendFromDisplay()
	if err != nil {
		return nil, fatal(CodeSurface, "connect display", err)
	}

	var closers []io.Closer

	// The display wake-up is optional; hosts without MCE still run.
	var display appctl.DisplayWaker
	if mce, err := appctl.NewMCE(); err != nil {
		logger.Debug("mce unavailable, display wake disabled", "error", err)
	} else {
		display = mce
		closers = append(closers, mce)
	}

	apps := appctl.New(appctl.Config{
		AmPath:       cfg.AmPath,
		PowerupPath:  cfg.PowerupPath,
		WakeInterval: cfg.WakeInterval,
		Display:      display,
		Logger:       logger,
	})

	var accel sensors.Accelerometer
	if cfg.Sensor.Backend == config.SensorBackendSensorFW {
		fw, err := sensors.NewSensorFW()
		if err != nil {
			logger.Warn("sensorfw unavailable, reporting a flat device", "error", err)
		} else {
			accel = fw
		}
	}

	var openInput InputOpener
	if cfg.Input.Enabled {
		openInput = func(width, height int) (platform.InputInjector, error) {
			ucfg := uinput.Config{Width: width, Height: height}
			if cfg.Input.Device != "" {
				ucfg.Paths = []string{cfg.Input.Device}
			}
			dev, err := uinput.Open(ucfg)
			if err != nil {
				return nil, err
			}
			return dev, nil
		}
	}

	return New(Options{
		Config:        cfg,
		Backend:       backend,
		Apps:          apps,
		OpenInput:     openInput,
		Accelerometer: accel,
		Metrics:       metrics.New(),
		Logger:        logger,
		LogLevel:      level,
		Closers:       closers,
	})
}
