// Package appctl starts, stops and foregrounds guest apps through the
// guest's activity manager, and wakes the guest display.
package appctl

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultAmPath      = "/usr/bin/am"
	DefaultPowerupPath = "/usr/bin/sfdroid_powerup"
)

// ErrEmptyApp is returned when no app is named.
var ErrEmptyApp = errors.New("appctl: empty app name")

// Runner launches a command without waiting for it.
type Runner interface {
	Start(name string, args ...string) error
}

// DisplayWaker turns the host display on.
type DisplayWaker interface {
	DisplayOn() error
}

type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			r.logger.Debug("command exited", "command", name, "args", args, "error", err)
		}
	}()
	return nil
}

// Config holds configuration for the app controller.
type Config struct {
	AmPath      string
	PowerupPath string
	// WakeInterval is the minimum spacing between wake-ups.
	WakeInterval time.Duration
	// Display is optional.
	Display DisplayWaker
	Logger  *slog.Logger
}

// Controller implements platform.AppControl.
type Controller struct {
	cfg     Config
	runner  Runner
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a controller that runs real commands.
func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return NewWithRunner(cfg, execRunner{logger: cfg.Logger})
}

// NewWithRunner creates a controller that launches commands through r.
func NewWithRunner(cfg Config, r Runner) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AmPath == "" {
		cfg.AmPath = DefaultAmPath
	}
	if cfg.PowerupPath == "" {
		cfg.PowerupPath = DefaultPowerupPath
	}
	limit := rate.Inf
	if cfg.WakeInterval > 0 {
		limit = rate.Every(cfg.WakeInterval)
	}
	return &Controller{
		cfg:     cfg,
		runner:  r,
		limiter: rate.NewLimiter(limit, 1),
		logger:  cfg.Logger.With("component", "appctl"),
	}
}

// Start brings app to the foreground, on activity when given.
func (c *Controller) Start(app, activity string) error {
	if app == "" {
		return ErrEmptyApp
	}
	target := app
	if activity != "" {
		target = app + "/" + activity
	}
	c.logger.Debug("starting app", "target", target)
	return c.am("start", "--user", "0", "-n", target)
}

// Stop force-stops app.
func (c *Controller) Stop(app string) error {
	if app == "" {
		return ErrEmptyApp
	}
	c.logger.Debug("stopping app", "app", app)
	return c.am("force-stop", "--user", "0", app)
}

// GoHome shows the launcher.
func (c *Controller) GoHome() error {
	c.logger.Debug("going home")
	return c.am("start", "--user", "0", "-c", "android.intent.category.HOME", "-a", "android.intent.action.MAIN")
}

// Wake powers the guest up. Calls closer together than the configured
// interval are dropped.
func (c *Controller) Wake() error {
	if !c.limiter.Allow() {
		return nil
	}
	if c.cfg.Display != nil {
		if err := c.cfg.Display.DisplayOn(); err != nil {
			c.logger.Debug("display on request failed", "error", err)
		}
	}
	if err := c.runner.Start(c.cfg.PowerupPath); err != nil {
		return fmt.Errorf("wake: %w", err)
	}
	return nil
}

func (c *Controller) am(args ...string) error {
	if err := c.runner.Start(c.cfg.AmPath, args...); err != nil {
		return fmt.Errorf("am %s: %w", args[0], err)
	}
	return nil
}
