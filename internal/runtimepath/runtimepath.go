package runtimepath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultGuestRoot is the directory shared with the guest runtime. The guest
// side hardcodes it, so it is not derived from XDG_RUNTIME_DIR.
const DefaultGuestRoot = "/tmp/sfdroid"

// GuestRootMode is applied to the shared directory and its sockets.
const GuestRootMode os.FileMode = 0o770

const (
	relaySocket  = "gralloc_buffer_handle"
	appSocket    = "app_helpers_handle"
	sensorSocket = "sensors_handle"
	focusMarker  = "have_focus"
)

// Dir returns the runtime directory used for the daemon's own IPC socket.
// Priority:
// 1) XDG_RUNTIME_DIR (if set)
// 2) /run/user/<uid> (if present)
// 3) /tmp/droidrelay-runtime-<uid> (created)
func Dir() (string, error) {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return runtimeDir, nil
	}

	uid := os.Getuid()
	runUserDir := fmt.Sprintf("/run/user/%d", uid)
	if info, err := os.Stat(runUserDir); err == nil && info.IsDir() {
		return runUserDir, nil
	}

	tmpDir := fmt.Sprintf("/tmp/droidrelay-runtime-%d", uid)
	if err := os.MkdirAll(tmpDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create runtime dir: %w", err)
	}
	return tmpDir, nil
}

// SocketPath returns the daemon IPC socket path.
func SocketPath() (string, error) {
	runtimeDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(runtimeDir, "droidrelay.sock"), nil
}

// Guest names the files shared with the guest under one root.
type Guest struct {
	Root string
}

// NewGuest returns the layout rooted at root, or DefaultGuestRoot if empty.
func NewGuest(root string) Guest {
	if root == "" {
		root = DefaultGuestRoot
	}
	return Guest{Root: root}
}

// RelaySocket is the buffer relay socket.
func (g Guest) RelaySocket() string { return filepath.Join(g.Root, relaySocket) }

// AppSocket is the app-lifecycle socket.
func (g Guest) AppSocket() string { return filepath.Join(g.Root, appSocket) }

// SensorSocket is the sensor socket.
func (g Guest) SensorSocket() string { return filepath.Join(g.Root, sensorSocket) }

// FocusMarker is the file whose presence tells the guest the host has focus.
func (g Guest) FocusMarker() string { return filepath.Join(g.Root, focusMarker) }

// Create makes the root directory with GuestRootMode.
func (g Guest) Create() error {
	if err := os.MkdirAll(g.Root, GuestRootMode); err != nil {
		return fmt.Errorf("failed to create %s: %w", g.Root, err)
	}
	// MkdirAll is subject to umask.
	if err := os.Chmod(g.Root, GuestRootMode); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", g.Root, err)
	}
	return nil
}

// SetFocus creates or removes the focus marker.
func (g Guest) SetFocus(focused bool) error {
	path := g.FocusMarker()
	if focused {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o660)
		if err != nil {
			return fmt.Errorf("failed to touch focus marker: %w", err)
		}
		return f.Close()
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove focus marker: %w", err)
	}
	return nil
}

// Remove deletes the focus marker and the root directory if it is empty.
func (g Guest) Remove() error {
	if err := g.SetFocus(false); err != nil {
		return err
	}
	if err := os.Remove(g.Root); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", g.Root, err)
	}
	return nil
}
