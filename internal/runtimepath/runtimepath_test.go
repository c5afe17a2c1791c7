package runtimepath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir_UsesXDGRuntimeDirWhenSet(t *testing.T) {
	td := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", td)

	got, err := Dir()
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}
	if got != td {
		t.Fatalf("Dir() = %q, want %q", got, td)
	}
}

func TestDir_FallbacksWhenXDGRuntimeDirMissing(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")

	got, err := Dir()
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}
	if got == "" {
		t.Fatal("Dir() returned empty path")
	}

	wantRun := fmt.Sprintf("/run/user/%d", os.Getuid())
	wantTmp := fmt.Sprintf("/tmp/droidrelay-runtime-%d", os.Getuid())
	if got != wantRun && got != wantTmp {
		t.Fatalf("Dir() = %q, want %q or %q", got, wantRun, wantTmp)
	}
}

func TestSocketPath(t *testing.T) {
	td := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", td)

	socket, err := SocketPath()
	if err != nil {
		t.Fatalf("SocketPath() error: %v", err)
	}
	if !strings.HasSuffix(socket, "/droidrelay.sock") {
		t.Fatalf("SocketPath() = %q, missing suffix", socket)
	}
}

func TestGuestLayout(t *testing.T) {
	g := NewGuest("")
	if g.Root != DefaultGuestRoot {
		t.Fatalf("NewGuest(\"\").Root = %q, want %q", g.Root, DefaultGuestRoot)
	}

	g = NewGuest("/x")
	tests := map[string]string{
		g.RelaySocket():  "/x/gralloc_buffer_handle",
		g.AppSocket():    "/x/app_helpers_handle",
		g.SensorSocket(): "/x/sensors_handle",
		g.FocusMarker():  "/x/have_focus",
	}
	for got, want := range tests {
		if got != want {
			t.Fatalf("path = %q, want %q", got, want)
		}
	}
}

func TestGuestCreateFocusRemove(t *testing.T) {
	g := NewGuest(filepath.Join(t.TempDir(), "sfdroid"))

	if err := g.Create(); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	info, err := os.Stat(g.Root)
	if err != nil {
		t.Fatalf("stat root: %v", err)
	}
	if info.Mode().Perm() != GuestRootMode {
		t.Fatalf("root mode = %v, want %v", info.Mode().Perm(), GuestRootMode)
	}

	if err := g.SetFocus(true); err != nil {
		t.Fatalf("SetFocus(true) error: %v", err)
	}
	if _, err := os.Stat(g.FocusMarker()); err != nil {
		t.Fatalf("focus marker missing: %v", err)
	}
	// Touching twice is fine.
	if err := g.SetFocus(true); err != nil {
		t.Fatalf("SetFocus(true) again error: %v", err)
	}

	if err := g.SetFocus(false); err != nil {
		t.Fatalf("SetFocus(false) error: %v", err)
	}
	if _, err := os.Stat(g.FocusMarker()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("focus marker still present: %v", err)
	}

	if err := g.SetFocus(true); err != nil {
		t.Fatalf("SetFocus(true) error: %v", err)
	}
	if err := g.Remove(); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, err := os.Stat(g.Root); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("root still present: %v", err)
	}
}
