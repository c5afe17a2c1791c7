package daemon

import (
	"log/slog"
)

// FocusTarget adjusts its behavior to the host's focus state.
type FocusTarget interface {
	SetFocus(focused bool)
}

// FocusMarker publishes the focus state to the guest.
type FocusMarker interface {
	SetFocus(focused bool) error
}

// FocusSynchronizer fans a host focus change out to the channels and the
// guest-visible marker.
type FocusSynchronizer struct {
	targets []FocusTarget
	marker  FocusMarker
	logger  *slog.Logger
}

// NewFocusSynchronizer creates a synchronizer for targets and marker.
func NewFocusSynchronizer(marker FocusMarker, logger *slog.Logger, targets ...FocusTarget) *FocusSynchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FocusSynchronizer{
		targets: targets,
		marker:  marker,
		logger:  logger,
	}
}

// HandleFocusChange is called when the host gains or loses focus.
func (s *FocusSynchronizer) HandleFocusChange(focused bool) {
	s.logger.Info("host focus changed", "focused", focused)

	for _, t := range s.targets {
		t.SetFocus(focused)
	}
	if s.marker == nil {
		return
	}
	if err := s.marker.SetFocus(focused); err != nil {
		s.logger.Warn("failed to update focus marker",
			"focused", focused,
			"error", err)
	}
}
