// Package sensors serves the guest's accelerometer requests from a host
// sensor source.
package sensors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/1broseidon/droidrelay/internal/control"
	"github.com/1broseidon/droidrelay/internal/metrics"
)

// GravityMilliG converts sensorfw milli-g readings to m/s^2.
const GravityMilliG = 101.971621298

const (
	cmdGet      = "get:accelerometer"
	cmdSetDelay = "setDelay:acceleration:"
	cmdEnable   = "set:acceleration:"
)

var (
	// ErrUnknownCommand drops the peer.
	ErrUnknownCommand = errors.New("sensors: unknown request")
	// ErrAccelerometer wraps a host sensor that could not be configured or
	// started.
	ErrAccelerometer = errors.New("sensors: accelerometer unavailable")
)

// Vector is one three-axis reading.
type Vector struct {
	X, Y, Z float64
}

// Accelerometer is the host sensor source.
type Accelerometer interface {
	Sample() (Vector, error)
	SetInterval(d time.Duration) error
	Start() error
	Stop() error
	Close() error
}

// Config holds configuration for the sensor channel.
type Config struct {
	Path             string
	FocusedTimeout   time.Duration
	UnfocusedTimeout time.Duration
	// Interval is the initial sampling interval.
	Interval time.Duration

	// Clock returns monotonic nanoseconds. Defaults to CLOCK_MONOTONIC.
	Clock func() int64

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Channel answers accelerometer requests on the sensor socket.
type Channel struct {
	*control.Server
	cfg       Config
	accel     Accelerometer
	focused   atomic.Bool
	focusedTO atomic.Int64
	idleTO    atomic.Int64
	logger    *slog.Logger
}

// NewChannel binds the sensor socket and starts the accelerometer. The
// channel owns accel from here on: it is closed by Close, or before
// NewChannel returns an error.
func NewChannel(cfg Config, accel Accelerometer) (_ *Channel, err error) {
	defer func() {
		if err != nil {
			if cerr := accel.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
	}()

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FocusedTimeout <= 0 {
		cfg.FocusedTimeout = 250 * time.Millisecond
	}
	if cfg.UnfocusedTimeout <= 0 {
		cfg.UnfocusedTimeout = 24 * time.Hour
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = monotonicNow
	}

	c := &Channel{
		cfg:    cfg,
		accel:  accel,
		logger: cfg.Logger.With("channel", "sensor"),
	}
	c.SetTimeouts(cfg.FocusedTimeout, cfg.UnfocusedTimeout)

	if err := accel.SetInterval(cfg.Interval); err != nil {
		return nil, fmt.Errorf("%w: set interval: %w", ErrAccelerometer, err)
	}
	if err := accel.Start(); err != nil {
		return nil, fmt.Errorf("%w: start: %w", ErrAccelerometer, err)
	}

	srv, err := control.NewServer(control.ServerConfig{
		Name:    "sensor",
		Path:    cfg.Path,
		Width:   control.Width1,
		Timeout: c.timeout,
		Metrics: cfg.Metrics,
		Logger:  cfg.Logger,
	}, c)
	if err != nil {
		return nil, err
	}
	c.Server = srv
	return c, nil
}

// SetFocus switches between the focused and unfocused receive timeouts.
func (c *Channel) SetFocus(focused bool) {
	c.focused.Store(focused)
}

func (c *Channel) timeout() time.Duration {
	if c.focused.Load() {
		return time.Duration(c.focusedTO.Load())
	}
	return time.Duration(c.idleTO.Load())
}

// SetTimeouts replaces the receive timeouts. Non-positive values keep the
// current setting.
func (c *Channel) SetTimeouts(focused, unfocused time.Duration) {
	if focused > 0 {
		c.focusedTO.Store(int64(focused))
	}
	if unfocused > 0 {
		c.idleTO.Store(int64(unfocused))
	}
}

// Close stops the accelerometer and removes the socket.
func (c *Channel) Close() error {
	return errors.Join(c.accel.Close(), c.Server.Close())
}

// Handle implements control.Handler.
func (c *Channel) Handle(_ context.Context, w io.Writer, frame []byte) error {
	cmd := strings.TrimRight(string(frame), "\x00")

	switch {
	case cmd == cmdGet:
		return c.sendSample(w)

	case strings.HasPrefix(cmd, cmdSetDelay):
		ns, err := strconv.ParseInt(strings.TrimPrefix(cmd, cmdSetDelay), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
		}
		interval := time.Duration(ns).Truncate(time.Millisecond)
		c.logger.Debug("setting accelerometer interval", "interval", interval)
		if err := c.accel.SetInterval(interval); err != nil {
			c.logger.Warn("set accelerometer interval failed", "error", err)
		}
		return nil

	case strings.HasPrefix(cmd, cmdEnable):
		on, err := strconv.Atoi(strings.TrimPrefix(cmd, cmdEnable))
		if err != nil {
			return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
		}
		c.logger.Debug("setting accelerometer enabled", "enabled", on != 0)
		if on != 0 {
			err = c.accel.Start()
		} else {
			err = c.accel.Stop()
		}
		if err != nil {
			c.logger.Warn("toggle accelerometer failed", "error", err)
		}
		return nil
	}

	return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
}

func (c *Channel) sendSample(w io.Writer) error {
	v, err := c.accel.Sample()
	if err != nil {
		// Keep the guest's request/reply pairing; report zero gravity.
		c.logger.Warn("accelerometer sample failed", "error", err)
		v = Vector{}
	}
	reply := FormatSample(v, c.cfg.Clock())
	c.cfg.Metrics.RecordSensorSample()
	return control.WriteFrame(w, control.Width1, append([]byte(reply), 0))
}

// FormatSample renders a raw milli-g reading as the guest's reply string.
func FormatSample(v Vector, timestampNs int64) string {
	f := func(x float64) string {
		return strconv.FormatFloat(x/GravityMilliG, 'g', 6, 64)
	}
	return "acceleration:" + f(v.X) + ":" + f(v.Y) + ":" + f(v.Z) + ":" + strconv.FormatInt(timestampNs, 10)
}

func monotonicNow() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Now().UnixNano()
	}
	return ts.Nano()
}
