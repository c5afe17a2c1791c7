package control

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/1broseidon/droidrelay/internal/event"
	"github.com/1broseidon/droidrelay/internal/handoff"
	"github.com/1broseidon/droidrelay/internal/metrics"
)

// ErrEmptyApp is returned for a command that names no app.
var ErrEmptyApp = errors.New("control: command names no app")

const closePrefix = "close:"

// AppEventKind distinguishes open from close requests.
type AppEventKind int

const (
	AppOpen AppEventKind = iota
	AppClose
)

func (k AppEventKind) String() string {
	if k == AppClose {
		return "close"
	}
	return "open"
}

// AppEvent is one parsed app-lifecycle command.
type AppEvent struct {
	Kind     AppEventKind
	App      string
	Activity string
}

// ParseAppCommand parses "<app>/<activity>" or "close:<app>/<activity>".
// A missing separator leaves Activity empty.
func ParseAppCommand(cmd string) (AppEvent, error) {
	cmd = strings.TrimRight(cmd, "\x00")
	cmd = strings.TrimSpace(cmd)

	ev := AppEvent{Kind: AppOpen}
	if rest, ok := strings.CutPrefix(cmd, closePrefix); ok {
		ev.Kind = AppClose
		cmd = rest
	}

	app, activity, _ := strings.Cut(cmd, "/")
	ev.App = app
	ev.Activity = activity
	if ev.App == "" {
		return AppEvent{}, ErrEmptyApp
	}
	return ev, nil
}

// String renders ev in wire form.
func (ev AppEvent) String() string {
	s := ev.App
	if ev.Activity != "" {
		s += "/" + ev.Activity
	}
	if ev.Kind == AppClose {
		s = closePrefix + s
	}
	return s
}

// Poster delivers messages to the render loop.
type Poster interface {
	Post(ctx context.Context, m event.Message) error
}

// SubmitAppEvent hands ev to the render loop through slot and waits until
// the loop has applied it.
func SubmitAppEvent(ctx context.Context, q Poster, slot *handoff.Slot, ev AppEvent) (handoff.Status, error) {
	return slot.Submit(ctx, func(t *handoff.Ticket) error {
		var m event.Message
		if ev.Kind == AppClose {
			m = event.AppClosed{App: ev.App, Activity: ev.Activity, Ticket: t}
		} else {
			m = event.AppOpened{App: ev.App, Activity: ev.Activity, Ticket: t}
		}
		return q.Post(ctx, m)
	})
}

// AppConfig holds configuration for the app-lifecycle channel.
type AppConfig struct {
	Path    string
	Timeout time.Duration
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// AppChannel receives app open/close commands from the guest. It sends no
// replies.
type AppChannel struct {
	*Server
	queue   Poster
	slot    handoff.Slot
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAppChannel binds the app-lifecycle socket.
func NewAppChannel(cfg AppConfig, queue Poster) (*AppChannel, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}

	c := &AppChannel{
		queue:   queue,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("channel", "app"),
	}
	srv, err := NewServer(ServerConfig{
		Name:    "app",
		Path:    cfg.Path,
		Width:   Width2,
		Timeout: func() time.Duration { return timeout },
		Metrics: cfg.Metrics,
		Logger:  cfg.Logger,
	}, c)
	if err != nil {
		return nil, err
	}
	c.Server = srv
	return c, nil
}

// Handle implements Handler.
func (c *AppChannel) Handle(ctx context.Context, _ io.Writer, frame []byte) error {
	ev, err := ParseAppCommand(string(bytes.TrimRight(frame, "\x00")))
	if err != nil {
		c.logger.Warn("ignoring app command", "command", string(frame), "error", err)
		return nil
	}

	c.logger.Info("app command", "kind", ev.Kind.String(), "app", ev.App, "activity", ev.Activity)
	c.metrics.RecordAppEvent(ev.Kind.String())

	if _, err := SubmitAppEvent(ctx, c.queue, &c.slot, ev); err != nil {
		return err
	}
	return nil
}
