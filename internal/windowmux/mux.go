// Package windowmux owns the set of on-screen windows. It routes guest
// buffers to the right surface, tracks focus and drives the guest's app
// lifecycle. A Mux belongs to the render loop and is not safe for
// concurrent use.
package windowmux

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/1broseidon/droidrelay/internal/control"
	"github.com/1broseidon/droidrelay/internal/event"
	"github.com/1broseidon/droidrelay/internal/handoff"
	"github.com/1broseidon/droidrelay/internal/metrics"
	"github.com/1broseidon/droidrelay/internal/platform"
	"github.com/1broseidon/droidrelay/internal/touch"
	"github.com/1broseidon/droidrelay/internal/wire"
)

// DefaultTitle names the primary window.
const DefaultTitle = "droidrelay"

// Config holds configuration for the multiplexer.
type Config struct {
	// Launcher is the app shown in the primary window.
	Launcher string
	// Blacklist names apps that never get a window of their own.
	Blacklist []string
	// WarmupFrames buffers are acked without presenting after a focus gain.
	WarmupFrames     int
	SwipeEdgePercent int
	Title            string

	Factory       platform.SurfaceFactory
	RenderContext *platform.RenderContext
	Apps          platform.AppControl
	Input         platform.InputInjector

	// OnFocusChange is called when the host gains or loses focus as a whole.
	OnFocusChange func(focused bool)

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Mux is the window/focus multiplexer.
type Mux struct {
	cfg       Config
	blacklist map[string]bool
	logger    *slog.Logger

	windows    map[string]*Window
	order      []*Window
	primary    *Window
	lastActive *Window
	focused    bool
	// awayFromHome is set while the guest shows an app other than the
	// launcher, whether or not that app's window still exists.
	awayFromHome bool

	// delivering is set while a buffer is being presented; lifecycle
	// events seen meanwhile go to deferred.
	delivering bool
	deferred   []event.Message
	doomed     []*Window

	touch *touch.Translator
	ticks uint64
	quit  bool
}

// New creates the multiplexer and its primary window.
func New(cfg Config) (*Mux, error) {
	if cfg.Factory == nil {
		return nil, errors.New("windowmux: no surface factory")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Apps == nil {
		cfg.Apps = nopApps{}
	}
	if cfg.Title == "" {
		cfg.Title = DefaultTitle
	}

	m := &Mux{
		cfg:       cfg,
		blacklist: make(map[string]bool, len(cfg.Blacklist)+1),
		logger:    cfg.Logger.With("component", "windowmux"),
		windows:   make(map[string]*Window),
		touch:     touch.NewTranslator(cfg.Input, 0, cfg.SwipeEdgePercent),
	}
	m.SetBlacklist(cfg.Blacklist)

	primary, err := m.newWindow(cfg.Launcher, "", cfg.Title)
	if err != nil {
		return nil, err
	}
	primary.primary = true
	m.primary = primary
	m.add(primary)
	return m, nil
}

// Tick processes one batch of messages in arrival order, then releases
// windows destroyed during it. Tick reports whether the loop should stop.
func (m *Mux) Tick(batch []event.Message) bool {
	m.ticks++
	for _, msg := range batch {
		m.dispatch(msg)
	}
	m.EndTick()
	return m.quit
}

// SetBlacklist replaces the set of apps that never get a window.
func (m *Mux) SetBlacklist(apps []string) {
	clear(m.blacklist)
	for _, app := range apps {
		m.blacklist[app] = true
	}
}

// Quitting reports whether the primary window was closed or a Quit seen.
func (m *Mux) Quitting() bool {
	return m.quit
}

func (m *Mux) dispatch(msg event.Message) {
	switch msg := msg.(type) {
	case event.BufferReady:
		msg.Ticket.Ack(m.HandleBuffer(msg.Buffer))
	case event.NoBuffer:
		msg.Ticket.Ack(m.HandleNoBuffer())
	case event.Touch:
		m.HandleTouch(msg)
	case event.StatusRequest:
		select {
		case msg.Reply <- m.Status():
		default:
		}
	case event.Quit:
		m.quit = true
	case event.FocusChanged, event.WindowClosed, event.AppOpened, event.AppClosed:
		m.lifecycle(msg)
	default:
		m.logger.Debug("ignoring message", "type", fmt.Sprintf("%T", msg))
	}
}

// lifecycle applies msg now, or defers it while a delivery is in progress.
func (m *Mux) lifecycle(msg event.Message) {
	if m.delivering {
		m.deferred = append(m.deferred, msg)
		return
	}
	m.apply(msg)
}

func (m *Mux) apply(msg event.Message) {
	switch msg := msg.(type) {
	case event.FocusChanged:
		m.applyFocus(msg.Window, msg.Focused)
	case event.WindowClosed:
		m.applyWindowClosed(msg.Window)
	case event.AppOpened:
		msg.Ticket.Ack(m.applyOpen(msg.App, msg.Activity))
	case event.AppClosed:
		m.applyClose(msg.App)
		msg.Ticket.Ack(handoff.OK)
	}
}

func (m *Mux) replay() {
	for len(m.deferred) > 0 {
		pending := m.deferred
		m.deferred = nil
		for _, msg := range pending {
			m.apply(msg)
		}
	}
}

// HandleBuffer presents buf on the target window. Lifecycle events raised
// while it runs are applied once it returns.
func (m *Mux) HandleBuffer(buf *wire.Buffer) handoff.Status {
	st := m.deliver(buf)
	if !m.delivering {
		m.replay()
	}
	return st
}

func (m *Mux) deliver(buf *wire.Buffer) handoff.Status {
	prev := m.delivering
	m.delivering = true
	defer func() { m.delivering = prev }()

	w := m.target()
	if w == nil {
		return handoff.Failed
	}
	if w.skip > 0 {
		w.skip--
		return handoff.OK
	}
	if err := w.surface.Render(buf); err != nil {
		m.logger.Warn("render failed", "app", w.App, "error", err)
		return handoff.Failed
	}
	return handoff.OK
}

// HandleNoBuffer repaints the target window's last frame.
func (m *Mux) HandleNoBuffer() handoff.Status {
	w := m.target()
	if w == nil {
		return handoff.Failed
	}
	if err := w.surface.DummyRender(); err != nil {
		m.logger.Debug("dummy render failed", "app", w.App, "error", err)
		return handoff.Failed
	}
	return handoff.OK
}

// HandleFocus records a window-system focus change.
func (m *Mux) HandleFocus(id platform.WindowID, focused bool) {
	m.lifecycle(event.FocusChanged{Window: id, Focused: focused})
}

// HandleWindowClosed handles the user closing a surface.
func (m *Mux) HandleWindowClosed(id platform.WindowID) {
	m.lifecycle(event.WindowClosed{Window: id})
}

// HandleAppEvent applies an app open or close request.
func (m *Mux) HandleAppEvent(ev control.AppEvent) {
	if ev.Kind == control.AppClose {
		m.lifecycle(event.AppClosed{App: ev.App, Activity: ev.Activity})
		return
	}
	m.lifecycle(event.AppOpened{App: ev.App, Activity: ev.Activity})
}

// HandleTouch forwards a pointer event from the focused window.
func (m *Mux) HandleTouch(t event.Touch) {
	w := m.byID(t.Window)
	if w == nil || !w.focused {
		return
	}
	if err := m.touch.Handle(t.Phase, t.ID, t.X, t.Y); err != nil {
		m.logger.Debug("touch injection failed", "error", err)
	}
}

// EndTick releases windows destroyed during the tick.
func (m *Mux) EndTick() {
	for _, w := range m.doomed {
		if err := w.release(); err != nil {
			m.logger.Warn("release surface failed", "app", w.App, "error", err)
		}
	}
	m.doomed = nil
}

// Close releases every window.
func (m *Mux) Close() error {
	var errs []error
	for _, w := range m.order {
		errs = append(errs, w.release())
	}
	for _, w := range m.doomed {
		errs = append(errs, w.release())
	}
	m.order = nil
	m.doomed = nil
	clear(m.windows)
	m.primary = nil
	m.lastActive = nil
	m.awayFromHome = false
	return errors.Join(errs...)
}

// Status snapshots the window set.
func (m *Mux) Status() event.Status {
	st := event.Status{
		Focused:     m.focused,
		Windows:     make([]event.WindowStatus, 0, len(m.order)),
		ActiveTouch: m.touch.Slots().Active(),
		Ticks:       m.ticks,
	}
	for _, w := range m.order {
		st.Windows = append(st.Windows, w.status())
	}
	return st
}

// Window returns the window for app.
func (m *Mux) Window(app string) (*Window, bool) {
	w, ok := m.windows[app]
	return w, ok
}

// Len returns the number of live windows, the primary included.
func (m *Mux) Len() int {
	return len(m.order)
}

// Focused reports whether any window has focus.
func (m *Mux) Focused() bool {
	return m.focused
}

func (m *Mux) applyFocus(id platform.WindowID, focused bool) {
	w := m.byID(id)
	if w == nil {
		m.logger.Debug("focus change for unknown window", "window", id)
		return
	}

	if !focused {
		m.unfocus(w)
		m.updateFocus()
		return
	}

	if err := m.cfg.Apps.Wake(); err != nil {
		m.logger.Debug("wake guest failed", "error", err)
	}
	goHome := w.primary && m.awayFromHome
	m.focus(w)
	if w.primary {
		if goHome {
			if err := m.cfg.Apps.GoHome(); err != nil {
				m.logger.Warn("go home failed", "error", err)
			}
		}
	} else if err := m.cfg.Apps.Start(w.App, w.Activity); err != nil {
		m.logger.Warn("start app failed", "app", w.App, "error", err)
	}
	m.updateFocus()
}

func (m *Mux) applyOpen(app, activity string) handoff.Status {
	if m.blacklist[app] {
		m.logger.Debug("ignoring blacklisted app", "app", app)
		return handoff.OK
	}

	if w, ok := m.windows[app]; ok {
		if activity != "" {
			w.Activity = activity
		}
		if r, ok := w.surface.(platform.Raiser); ok {
			if err := r.Raise(); err != nil {
				m.logger.Debug("raise failed", "app", app, "error", err)
			}
		}
		m.focus(w)
		m.updateFocus()
		return handoff.OK
	}

	w, err := m.newWindow(app, activity, app)
	if err != nil {
		m.logger.Warn("create window failed", "app", app, "error", err)
		return handoff.Failed
	}
	m.add(w)
	m.focus(w)
	m.updateFocus()
	m.logger.Info("window opened", "app", app, "activity", activity, "window", w.ID())
	return handoff.OK
}

func (m *Mux) applyClose(app string) {
	if m.blacklist[app] {
		return
	}
	w, ok := m.windows[app]
	if !ok || w.primary {
		return
	}
	if err := m.cfg.Apps.Stop(app); err != nil {
		m.logger.Warn("stop app failed", "app", app, "error", err)
	}
	m.destroy(w)
}

func (m *Mux) applyWindowClosed(id platform.WindowID) {
	w := m.byID(id)
	if w == nil {
		return
	}
	if w.primary {
		m.logger.Info("primary window closed")
		m.quit = true
		return
	}
	if err := m.cfg.Apps.Stop(w.App); err != nil {
		m.logger.Warn("stop app failed", "app", w.App, "error", err)
	}
	m.destroy(w)
}

func (m *Mux) newWindow(app, activity, title string) (*Window, error) {
	var rc *platform.RenderContext
	if m.cfg.RenderContext != nil {
		rc = m.cfg.RenderContext.Acquire()
	}
	s, err := m.cfg.Factory.NewSurface(title, rc)
	if err != nil {
		if rc != nil {
			rc.Release()
		}
		return nil, fmt.Errorf("%w: %w", platform.ErrNoSurface, err)
	}
	return &Window{App: app, Activity: activity, surface: s, rc: rc}, nil
}

func (m *Mux) add(w *Window) {
	m.windows[w.App] = w
	m.order = append(m.order, w)
	m.cfg.Metrics.SetWindows(len(m.order))
}

// destroy removes w from the set. Its surface is released by EndTick.
func (m *Mux) destroy(w *Window) {
	delete(m.windows, w.App)
	m.order = slices.DeleteFunc(m.order, func(o *Window) bool { return o == w })
	if m.lastActive == w {
		m.lastActive = nil
	}
	m.unfocus(w)
	w.doomed = true
	m.doomed = append(m.doomed, w)
	m.updateFocus()
	m.cfg.Metrics.SetWindows(len(m.order))
	m.logger.Info("window closed", "app", w.App)
}

// focus makes w the only focused window.
func (m *Mux) focus(w *Window) {
	for _, o := range m.order {
		if o != w {
			m.unfocus(o)
		}
	}
	m.lastActive = w
	m.awayFromHome = !w.primary
	if w.focused {
		return
	}
	w.focused = true
	w.skip = m.cfg.WarmupFrames
	w.surface.FocusGained()
	width, _ := w.surface.Dimensions()
	m.touch.SetWidth(width)
}

func (m *Mux) unfocus(w *Window) {
	if !w.focused {
		return
	}
	w.focused = false
	w.surface.FocusLost()
	if err := m.touch.Cancel(); err != nil {
		m.logger.Debug("lift touches failed", "error", err)
	}
}

func (m *Mux) updateFocus() {
	has := slices.ContainsFunc(m.order, (*Window).Focused)
	if has == m.focused {
		return
	}
	m.focused = has
	if m.cfg.OnFocusChange != nil {
		m.cfg.OnFocusChange(has)
	}
}

// target picks the focused window, else the last active one, else the
// primary.
func (m *Mux) target() *Window {
	for _, w := range m.order {
		if w.focused {
			return w
		}
	}
	if m.lastActive != nil {
		return m.lastActive
	}
	return m.primary
}

func (m *Mux) byID(id platform.WindowID) *Window {
	for _, w := range m.order {
		if w.ID() == id {
			return w
		}
	}
	return nil
}

type nopApps struct{}

func (nopApps) Start(string, string) error { return nil }
func (nopApps) Stop(string) error          { return nil }
func (nopApps) GoHome() error              { return nil }
func (nopApps) Wake() error                { return nil }
