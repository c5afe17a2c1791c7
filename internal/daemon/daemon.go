// Package daemon runs the render loop: it owns the window multiplexer,
// consumes every message the guest channels and the window system post,
// and tears everything down in order on exit.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/1broseidon/droidrelay/internal/config"
	"github.com/1broseidon/droidrelay/internal/control"
	"github.com/1broseidon/droidrelay/internal/event"
	"github.com/1broseidon/droidrelay/internal/handoff"
	"github.com/1broseidon/droidrelay/internal/ipc"
	"github.com/1broseidon/droidrelay/internal/metrics"
	"github.com/1broseidon/droidrelay/internal/platform"
	"github.com/1broseidon/droidrelay/internal/relay"
	"github.com/1broseidon/droidrelay/internal/runtimepath"
	"github.com/1broseidon/droidrelay/internal/sensors"
	"github.com/1broseidon/droidrelay/internal/windowmux"
)

// ErrStopped is returned by requests made after the loop has exited.
var ErrStopped = errors.New("daemon: stopped")

const (
	defaultQueueSize  = 64
	reconcileInterval = 5 * time.Second
	statusTimeout     = 2 * time.Second
	shutdownGrace     = 2 * time.Second
)

// Backend is the window system the daemon presents on.
type Backend interface {
	platform.SurfaceFactory
	platform.WindowLister
	SetEvents(ev platform.WindowEvents)
	SurfaceSize() (width, height int)
	EventLoop()
	Quit()
	Disconnect()
}

// InputOpener creates the touch injector for a surface of the given size.
type InputOpener func(width, height int) (platform.InputInjector, error)

// Options are the daemon's collaborators.
type Options struct {
	Config  *config.Config
	Backend Backend
	Apps    platform.AppControl
	// OpenInput is consulted when input is enabled in Config.
	OpenInput     InputOpener
	Accelerometer sensors.Accelerometer
	Importer      relay.Importer

	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	LogLevel *slog.LevelVar

	// Closers are closed after the backend is released.
	Closers   []io.Closer
	QueueSize int
}

// Daemon wires the guest channels to the render loop.
type Daemon struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	guest   runtimepath.Guest
	started time.Time

	queue      *event.Queue
	relay      *relay.Channel
	app        *control.AppChannel
	sensor     *sensors.Channel
	input      platform.InputInjector
	rc         *platform.RenderContext
	mux        *windowmux.Mux
	focus      *FocusSynchronizer
	reconciler *Reconciler

	// accelHandedOff is set once the sensor channel owns the accelerometer.
	accelHandedOff bool

	// ipcSlot carries OPEN_APP/CLOSE_APP requests, one at a time.
	ipcMu   sync.Mutex
	ipcSlot handoff.Slot

	reloads  chan *config.Config
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New binds the guest sockets, opens the input device and creates the
// primary surface. Failures are returned as *FatalError.
func New(opts Options) (_ *Daemon, err error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fatal(CodeConfig, "validate config", err)
	}
	if opts.Backend == nil {
		return nil, fatal(CodeSurface, "create surface", platform.ErrNoSurface)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Accelerometer == nil {
		opts.Accelerometer = &sensors.Fixed{V: sensors.Flat}
	}

	guest := runtimepath.NewGuest(cfg.RuntimeDir)
	if err := guest.Create(); err != nil {
		opts.Backend.Disconnect()
		opts.Accelerometer.Close()
		for _, c := range opts.Closers {
			c.Close()
		}
		return nil, fatal(CodeRuntimeDir, "create runtime dir", err)
	}

	d := &Daemon{
		cfg:     cfg,
		opts:    opts,
		logger:  opts.Logger.With("component", "daemon"),
		guest:   guest,
		queue:   event.NewQueue(opts.QueueSize),
		reloads: make(chan *config.Config, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	defer func() {
		if err != nil {
			d.release()
		}
	}()

	var waker relay.Waker
	if opts.Apps != nil {
		waker = opts.Apps
	}
	d.relay, err = relay.New(relay.Config{
		Path:             guest.RelaySocket(),
		FocusedTimeout:   cfg.SocketTimeout,
		UnfocusedTimeout: cfg.UnfocusedSocketTimeout,
		DummyRenderAfter: cfg.DummyRenderAfter,
		Importer:         opts.Importer,
		Waker:            waker,
		Metrics:          opts.Metrics,
		Logger:           opts.Logger,
	}, d.queue)
	if err != nil {
		return nil, fatal(CodeRelaySocket, "bind relay socket", err)
	}

	d.app, err = control.NewAppChannel(control.AppConfig{
		Path:    guest.AppSocket(),
		Timeout: cfg.AppSocketTimeout,
		Metrics: opts.Metrics,
		Logger:  opts.Logger,
	}, d.queue)
	if err != nil {
		return nil, fatal(CodeAppSocket, "bind app socket", err)
	}

	// NewChannel takes ownership of the accelerometer, even on failure.
	d.accelHandedOff = true
	d.sensor, err = sensors.NewChannel(sensors.Config{
		Path:             guest.SensorSocket(),
		FocusedTimeout:   cfg.SensorSocketTimeout,
		UnfocusedTimeout: cfg.UnfocusedSocketTimeout,
		Interval:         cfg.Sensor.Interval,
		Metrics:          opts.Metrics,
		Logger:           opts.Logger,
	}, opts.Accelerometer)
	if errors.Is(err, sensors.ErrAccelerometer) {
		return nil, fatal(CodeSensor, "start accelerometer", err)
	}
	if err != nil {
		return nil, fatal(CodeSensorSocket, "bind sensor socket", err)
	}

	if cfg.Input.Enabled && opts.OpenInput != nil {
		width, height := opts.Backend.SurfaceSize()
		inj, err := opts.OpenInput(width, height)
		if err != nil {
			return nil, fatal(CodeInput, "open input device", err)
		}
		d.input = inj
	}

	d.focus = NewFocusSynchronizer(guest, d.logger, d.relay, d.sensor)
	opts.Backend.SetEvents(windowEvents{queue: d.queue, logger: d.logger})
	d.rc = platform.NewRenderContext(opts.Backend, opts.Backend.Disconnect)

	d.mux, err = windowmux.New(windowmux.Config{
		Launcher:         cfg.LauncherApp,
		Blacklist:        cfg.Blacklist,
		WarmupFrames:     cfg.FramesSkippedAfterFocus,
		SwipeEdgePercent: cfg.SwipeEdgePercent,
		Factory:          opts.Backend,
		RenderContext:    d.rc,
		Apps:             opts.Apps,
		Input:            d.input,
		OnFocusChange:    d.focus.HandleFocusChange,
		Metrics:          opts.Metrics,
		Logger:           opts.Logger,
	})
	if err != nil {
		return nil, fatal(CodeSurface, "create primary surface", err)
	}

	d.reconciler = NewReconciler(ReconcilerConfig{
		Interval: reconcileInterval,
		Logger:   d.logger,
	}, d.expectedWindows, opts.Backend, d.queue.TryPost)

	return d, nil
}

// Run serves until ctx is cancelled, Stop is called or the primary window
// is closed, then shuts down. It must be called once.
func (d *Daemon) Run(ctx context.Context) error {
	defer close(d.done)
	d.started = time.Now()

	chCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The guest sees focus from startup until the window system says
	// otherwise.
	d.focus.HandleFocusChange(true)

	var channels sync.WaitGroup
	for _, ch := range []struct {
		name string
		run  func(context.Context) error
	}{
		{"relay", d.relay.Run},
		{"app", d.app.Run},
		{"sensor", d.sensor.Run},
	} {
		channels.Add(1)
		go func() {
			defer channels.Done()
			if err := ch.run(chCtx); err != nil {
				d.logger.Error("channel stopped", "channel", ch.name, "error", err)
			}
		}()
	}

	var aux sync.WaitGroup
	aux.Add(1)
	go func() {
		defer aux.Done()
		d.reconciler.Run(chCtx)
	}()
	if d.cfg.MetricsAddr != "" && d.opts.Metrics != nil {
		aux.Add(1)
		go func() {
			defer aux.Done()
			if err := d.opts.Metrics.Serve(chCtx, d.cfg.MetricsAddr, d.logger); err != nil {
				d.logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	go d.opts.Backend.EventLoop()

	d.logger.Info("daemon started",
		"runtime_dir", d.guest.Root,
		"launcher", d.cfg.LauncherApp,
		"input", d.input != nil)

	d.loop(ctx)

	d.logger.Info("shutting down")
	cancel()
	d.stopChannels(&channels)
	aux.Wait()
	d.drain()
	if err := d.mux.Close(); err != nil {
		d.logger.Warn("closing windows", "error", err)
	}
	d.opts.Backend.Quit()
	d.release()
	d.logger.Info("daemon stopped")
	return nil
}

func (d *Daemon) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case cfg := <-d.reloads:
			d.apply(cfg)
		case msg := <-d.queue.C():
			batch := append([]event.Message{msg}, d.queue.Drain()...)
			if d.mux.Tick(batch) {
				d.logger.Info("primary window closed")
				return
			}
		}
	}
}

// stopChannels unblocks every channel and waits for them, checking back
// every ack poll interval until the grace period runs out.
func (d *Daemon) stopChannels(channels *sync.WaitGroup) {
	d.relay.Shutdown()
	d.app.Shutdown()
	d.sensor.Shutdown()

	joined := make(chan struct{})
	go func() {
		channels.Wait()
		close(joined)
	}()

	tick := time.NewTicker(d.cfg.AckPollInterval)
	defer tick.Stop()
	deadline := time.Now().Add(shutdownGrace)
	for {
		select {
		case <-joined:
			return
		case <-tick.C:
			if time.Now().After(deadline) {
				d.logger.Warn("channels did not stop in time")
				return
			}
		}
	}
}

// drain closes the queue and fails every message still pending so no
// producer waits on an ack that will never come.
func (d *Daemon) drain() {
	d.queue.Close()
	for _, m := range d.queue.Drain() {
		event.Ack(m, handoff.Failed)
	}
}

// release frees what New acquired. Socket files and the runtime directory
// are removed last.
func (d *Daemon) release() {
	if d.rc != nil {
		d.rc.Release()
	} else {
		d.opts.Backend.Disconnect()
	}
	if c, ok := d.input.(io.Closer); ok {
		if err := c.Close(); err != nil {
			d.logger.Warn("closing input device", "error", err)
		}
	}
	for _, c := range d.opts.Closers {
		c.Close()
	}

	var errs []error
	if d.relay != nil {
		errs = append(errs, d.relay.Close())
	}
	if d.app != nil {
		errs = append(errs, d.app.Close())
	}
	if d.sensor != nil {
		errs = append(errs, d.sensor.Close())
	} else if !d.accelHandedOff {
		errs = append(errs, d.opts.Accelerometer.Close())
	}
	errs = append(errs, d.guest.Remove())
	if err := errors.Join(errs...); err != nil {
		d.logger.Warn("cleanup", "error", err)
	}
}

// Stop asks Run to return.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// Done is closed once Run has returned.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Reload applies the settings that can change at runtime: socket
// timeouts, the blacklist and the log level.
func (d *Daemon) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	select {
	case d.reloads <- cfg:
		return nil
	case <-d.done:
		return ErrStopped
	default:
	}
	// A reload is already pending; replace it.
	select {
	case <-d.reloads:
	default:
	}
	select {
	case d.reloads <- cfg:
		return nil
	case <-d.done:
		return ErrStopped
	}
}

func (d *Daemon) apply(cfg *config.Config) {
	d.relay.SetTimeouts(cfg.SocketTimeout, cfg.UnfocusedSocketTimeout)
	d.sensor.SetTimeouts(cfg.SensorSocketTimeout, cfg.UnfocusedSocketTimeout)
	d.mux.SetBlacklist(cfg.Blacklist)
	if d.opts.LogLevel != nil {
		d.opts.LogLevel.Set(cfg.SlogLevel())
	}
	if cfg.RuntimeDir != d.cfg.RuntimeDir || cfg.LauncherApp != d.cfg.LauncherApp {
		d.logger.Warn("runtime_dir and launcher_app changes need a restart")
	}
	d.logger.Info("config reloaded", "log_level", cfg.LogLevel, "blacklist", cfg.Blacklist)
}

func (d *Daemon) loopStatus(ctx context.Context) (event.Status, error) {
	reply := make(chan event.Status, 1)
	if err := d.queue.Post(ctx, event.StatusRequest{Reply: reply}); err != nil {
		if errors.Is(err, event.ErrQueueClosed) {
			return event.Status{}, ErrStopped
		}
		return event.Status{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return event.Status{}, ctx.Err()
	case <-d.done:
		return event.Status{}, ErrStopped
	}
}

func (d *Daemon) expectedWindows(ctx context.Context) ([]platform.WindowID, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	st, err := d.loopStatus(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]platform.WindowID, 0, len(st.Windows))
	for _, w := range st.Windows {
		ids = append(ids, w.Window)
	}
	return ids, nil
}

// Status snapshots the channels and the window set.
func (d *Daemon) Status(ctx context.Context) (*ipc.StatusData, error) {
	st, err := d.loopStatus(ctx)
	if err != nil {
		return nil, err
	}
	rs := d.relay.Status()

	data := &ipc.StatusData{
		DaemonRunning: true,
		UptimeSeconds: int64(time.Since(d.started).Seconds()),
		Focused:       st.Focused,
		RegistrySize:  rs.RegistrySize,
		ActiveTouches: st.ActiveTouch,
		Ticks:         st.Ticks,
		Channels: []ipc.ChannelStatus{
			{Name: "relay", Socket: d.guest.RelaySocket(), State: rs.State, Connected: rs.Connected},
			{Name: "app", Socket: d.guest.AppSocket(), Connected: d.app.Connected()},
			{Name: "sensor", Socket: d.guest.SensorSocket(), Connected: d.sensor.Connected()},
		},
		Windows: make([]ipc.WindowInfo, 0, len(st.Windows)),
	}
	for _, w := range st.Windows {
		data.Windows = append(data.Windows, ipc.WindowInfo{
			App:      w.App,
			Activity: w.Activity,
			WindowID: uint32(w.Window),
			Focused:  w.Focused,
			Primary:  w.Primary,
		})
	}
	return data, nil
}

// OpenApp opens a window for app. The request goes through the same path
// as an open command from the guest.
func (d *Daemon) OpenApp(ctx context.Context, app, activity string) error {
	return d.submitApp(ctx, control.AppEvent{Kind: control.AppOpen, App: app, Activity: activity})
}

// CloseApp closes the window for app.
func (d *Daemon) CloseApp(ctx context.Context, app, activity string) error {
	return d.submitApp(ctx, control.AppEvent{Kind: control.AppClose, App: app, Activity: activity})
}

func (d *Daemon) submitApp(ctx context.Context, ev control.AppEvent) error {
	if ev.App == "" {
		return control.ErrEmptyApp
	}
	d.ipcMu.Lock()
	defer d.ipcMu.Unlock()

	st, err := control.SubmitAppEvent(ctx, d.queue, &d.ipcSlot, ev)
	if err != nil {
		if errors.Is(err, event.ErrQueueClosed) {
			return ErrStopped
		}
		return err
	}
	if st != handoff.OK {
		return fmt.Errorf("%s %s: failed", ev.Kind, ev.App)
	}
	return nil
}
