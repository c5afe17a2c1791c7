package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/1broseidon/droidrelay/internal/event"
	"github.com/1broseidon/droidrelay/internal/platform"
)

// ExpectedWindows returns the window IDs the render loop believes are live.
type ExpectedWindows func(ctx context.Context) ([]platform.WindowID, error)

// ReconcilerConfig holds configuration for the reconciler.
type ReconcilerConfig struct {
	Interval time.Duration
	Logger   *slog.Logger
}

// Reconciler periodically checks that every window the loop tracks still
// exists in the window system, and reports the ones that vanished without
// a close notification.
type Reconciler struct {
	interval time.Duration
	expected ExpectedWindows
	lister   platform.WindowLister
	post     func(event.Message) bool
	logger   *slog.Logger
}

// NewReconciler creates a new reconciler with the given configuration.
// Missing windows are reported through post as WindowClosed.
func NewReconciler(cfg ReconcilerConfig, expected ExpectedWindows, lister platform.WindowLister, post func(event.Message) bool) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Reconciler{
		interval: interval,
		expected: expected,
		lister:   lister,
		post:     post,
		logger:   cfg.Logger,
	}
}

// Run starts the reconciliation loop. Blocks until context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug("reconciler started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("reconciler stopped")
			return
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

// reconcile performs a single reconciliation pass.
func (r *Reconciler) reconcile(ctx context.Context) {
	// Recover from panics to prevent crashing the daemon
	defer func() {
		if err := recover(); err != nil {
			r.logger.Error("reconciler panic recovered", "error", err)
		}
	}()

	expected, err := r.expected(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("reconciler: failed to query windows", "error", err)
		}
		return
	}
	if len(expected) == 0 {
		return
	}

	live, err := r.lister.LiveWindows()
	if err != nil {
		r.logger.Error("reconciler: failed to list windows", "error", err)
		return
	}

	liveIDs := make(map[platform.WindowID]bool, len(live))
	for _, id := range live {
		liveIDs[id] = true
	}

	for _, id := range expected {
		if liveIDs[id] {
			continue
		}
		r.logger.Info("reconciler: window vanished", "window_id", id)
		if !r.post(event.WindowClosed{Window: id}) {
			r.logger.Warn("reconciler: queue full, retrying next pass", "window_id", id)
		}
	}
}

// ReconcileNow triggers an immediate reconciliation pass.
func (r *Reconciler) ReconcileNow(ctx context.Context) {
	r.reconcile(ctx)
}
